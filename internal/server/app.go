package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"relay-core/pkg/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type Config struct {
	HttpPort        string
	GrpcPort        string
	ShutdownTimeout time.Duration
}

// App 同时运行 HTTP (JSON-RPC) 与 gRPC (健康检查) 服务, 以及后台任务
type App struct {
	httpServer   *http.Server
	grpcServer   *grpc.Server
	grpcListener net.Listener
	shutdown     time.Duration

	workers []func(ctx context.Context)
}

func New(cfg Config, httpHandler http.Handler, grpcServer *grpc.Server) (*App, error) {
	httpSrv := &http.Server{
		Addr:              ":" + cfg.HttpPort,
		Handler:           httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GrpcPort)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on grpc port %s: %w", cfg.GrpcPort, err)
	}

	if cfg.ShutdownTimeout <= 0 {
		// 需覆盖最长的广播超时, 避免关闭时中断进行中的提交
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return &App{
		httpServer:   httpSrv,
		grpcServer:   grpcServer,
		grpcListener: lis,
		shutdown:     cfg.ShutdownTimeout,
	}, nil
}

// Go 注册一个后台任务, ctx 在服务关闭后取消
func (a *App) Go(fn func(ctx context.Context)) {
	a.workers = append(a.workers, fn)
}

// Run 启动服务并阻塞, 直到 ctx 结束、收到 SIGINT/SIGTERM 或某个服务异常退出
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)

	// 1. Start HTTP
	go func() {
		logger.Info("Starting HTTP Server", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// 2. Start gRPC
	go func() {
		logger.Info("Starting gRPC Server", zap.String("addr", a.grpcListener.Addr().String()))
		if err := a.grpcServer.Serve(a.grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// 3. 后台任务
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, w := range a.workers {
		wg.Add(1)
		go func(fn func(context.Context)) {
			defer wg.Done()
			fn(workerCtx)
		}(w)
	}

	// 4. 阻塞等待
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down server...")
	case runErr = <-errCh:
		logger.Error("Server failure, shutting down", zap.Error(runErr))
	}

	// 5. Graceful Shutdown: 先停止接收请求, 再停后台任务
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdown)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP Server forced to shutdown", zap.Error(err))
	}
	a.grpcServer.GracefulStop()

	cancelWorkers()
	wg.Wait()

	logger.Info("Server exited properly")
	return runErr
}
