package main

import (
	"context"
	"os"

	"relay-core/internal/handler"
	"relay-core/internal/middleware"
	"relay-core/internal/model"
	"relay-core/internal/server"
	"relay-core/internal/server/routes"
	"relay-core/internal/service"
	"relay-core/internal/service/auth"
	"relay-core/internal/service/broadcast"
	"relay-core/internal/service/chain"
	"relay-core/internal/service/mq"
	"relay-core/internal/service/nonce"
	"relay-core/internal/service/policy"
	"relay-core/internal/service/signer"
	"relay-core/pkg/config"
	"relay-core/pkg/database"
	"relay-core/pkg/logger"
	"relay-core/pkg/monitor"
	"relay-core/pkg/utils/lock"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Version 由构建时 -ldflags "-X main.Version=..." 注入
var Version = "dev"

func main() {
	// 0. 初始化 Config; 缺失的全局配置在此处直接失败
	cfg, err := config.Load()
	if err != nil {
		// logger 尚未初始化
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	// 1. 初始化 Logger
	logger.Init(cfg.App.Env)
	defer logger.Sync()

	ctx := context.Background()

	// 2. 链注册表
	endpoints, _ := cfg.ChainEndpoints()
	registry, err := chain.NewRegistry(ctx, endpoints, chain.DialRPC, logger.Named("chain"))
	if err != nil {
		logger.Fatal("链注册表初始化失败", zap.Error(err))
	}
	defer registry.Close()
	if len(registry.IDs()) == 0 {
		logger.Fatal("没有可用的链, 请检查 chains.rpc_map")
	}

	// 3. 策略
	whitelist, _ := cfg.Whitelist()
	maxBaseFee, _ := cfg.MaxBaseFee()
	engine := policy.NewEngine(policy.Config{Whitelist: whitelist, MaxBaseFee: maxBaseFee}, logger.Named("policy"))
	logger.Info("策略已加载",
		zap.Int("whitelist", len(whitelist)),
		zap.String("max_base_fee_gwei", policy.Gwei(maxBaseFee)),
	)

	// 4. 签名身份 (只记录来源与地址)
	key, source, err := signer.LoadKey(cfg.Signer)
	if err != nil {
		logger.Fatal("签名私钥加载失败", zap.Error(err))
	}
	sg, err := signer.New(key)
	if err != nil {
		logger.Fatal("签名器初始化失败", zap.Error(err))
	}
	logger.Info("签名身份已加载", zap.String("source", string(source)), zap.String("address", sg.Address().Hex()))

	// 5. Redis (nonce 存储 / 分布式锁 / Redis Streams 按需使用)
	var rdb *redis.Client
	needRedis := cfg.Nonce.Store == config.NonceStoreRedis ||
		(cfg.Events.Enabled && cfg.Redis.MQType != "kafka")
	if needRedis {
		rdb, err = database.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Redis 连接失败", zap.Error(err))
		}
		defer rdb.Close()
	}

	// 6. nonce 分配器
	var db *gorm.DB
	var store nonce.Store
	switch cfg.Nonce.Store {
	case config.NonceStoreRedis:
		store = nonce.NewRedisStore(rdb)
	case config.NonceStorePostgres:
		db, err = database.ConnectPostgres(cfg.PostgresDSN(), cfg.App.Env == "development")
		if err != nil {
			logger.Fatal("数据库连接失败", zap.Error(err))
		}
		if cfg.App.Env == "development" {
			logger.Info("开发环境: 尝试自动迁移 Schema (GORM AutoMigrate)...")
			if err := db.AutoMigrate(model.AllModels()...); err != nil {
				logger.Fatal("数据库自动迁移失败", zap.Error(err))
			}
		} else {
			logger.Info("生产环境: 跳过 AutoMigrate，请使用 migrate 工具管理 Schema")
		}
		store = nonce.NewSQLStore(db)
	default:
		logger.Warn("使用内存 nonce 存储, 重启后计数丢失且不支持多实例")
		store = nonce.NewMemoryStore()
	}
	opts := nonce.Options{
		Mode:    nonce.Mode(cfg.Nonce.Mode),
		LockTTL: cfg.Nonce.LockTTL,
		Timeout: cfg.Nonce.Timeout,
		Logger:  logger.Named("nonce"),
	}
	if rdb != nil {
		opts.Locker = lock.NewRedisLock(rdb)
	}
	allocator, err := nonce.NewAllocator(store, opts)
	if err != nil {
		logger.Fatal("nonce 分配器初始化失败", zap.Error(err))
	}
	if allocator.Mode() == nonce.ModeAdvisory {
		logger.Warn("nonce.mode=advisory: 并发提交可能得到相同 nonce")
	}

	// 7. 广播
	bc, err := broadcast.New(cfg.Broadcast.Channel, cfg.Broadcast.Timeout, logger.Named("broadcast"))
	if err != nil {
		logger.Fatal("广播通道初始化失败", zap.Error(err))
	}

	// 8. 指标
	metrics := monitor.New()

	// 9. 事件通知 (可选)
	var events *mq.AsyncPublisher
	if cfg.Events.Enabled {
		var producer mq.Producer
		if cfg.Redis.MQType == "kafka" {
			logger.Info("使用 Kafka 发布提交事件...")
			producer = mq.NewKafkaProducer(cfg.Kafka.Brokers)
		} else {
			logger.Info("使用 Redis Streams 发布提交事件...")
			producer = mq.NewRedisProducer(rdb, 100000)
		}
		events = mq.NewAsyncPublisher(producer, 1024, logger.Named("events"))
		events.OnResult(func(ok bool) {
			outcome := "ok"
			if !ok {
				outcome = "failed"
			}
			metrics.Relay.EventsPublishedTotal.WithLabelValues(outcome).Inc()
		})
		defer events.Close()
	}

	// 10. 业务服务与 Handler
	relay := service.NewRelayService(service.RelayDeps{
		Registry:    registry,
		Policy:      engine,
		Nonces:      allocator,
		Signer:      sg,
		Broadcaster: bc,
		Events:      events,
		EventTopic:  cfg.Events.Topic,
		Metrics:     metrics.Relay,
		Logger:      logger.Named("relay"),
	})
	creds := auth.NewCredentials(cfg.Auth.APISecrets)
	logger.Info("API key 已加载", zap.Int("count", creds.Len()))

	limiter := middleware.NewKeyLimiter(middleware.RateLimit{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	})
	relayHandler := handler.NewRelayHandler(relay, creds, limiter, metrics.Relay, logger.Named("rpc"))
	healthHandler := &handler.HealthHandler{Version: Version, Chains: registry.IDs()}

	// ==========================================
	// Server Startup
	// ==========================================

	// 11. HTTP Router
	r := server.NewHTTPRouter(relayHandler, healthHandler, metrics)

	// 12. gRPC Server (健康检查)
	grpcServer, healthServer := server.NewGRPCServer()

	// 13. 启动应用
	app, err := server.New(server.Config{
		HttpPort:        cfg.App.HttpPort,
		GrpcPort:        cfg.App.GrpcPort,
		ShutdownTimeout: cfg.Broadcast.Timeout + cfg.Nonce.Timeout,
	}, r, grpcServer)
	if err != nil {
		logger.Fatal("应用启动失败", zap.Error(err))
	}
	if events != nil {
		app.Go(events.Run)
	}
	routes.MarkServing(healthServer)

	// 运行 (阻塞)
	if err := app.Run(ctx); err != nil {
		logger.Error("服务异常退出", zap.Error(err))
	}

	// 14. 退出后资源清理 (Redis / 广播连接由 defer 关闭)
	if events != nil {
		events.Wait()
	}
	if db != nil {
		logger.Info("正在关闭数据库连接...")
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	logger.Info("系统已退出")
}
