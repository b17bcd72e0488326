package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"relay-core/pkg/errno"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/spf13/viper"
)

// Config is loaded once at startup and passed by pointer to every component.
// Nothing mutates it afterwards.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Chains    ChainsConfig    `mapstructure:"chains"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Signer    SignerConfig    `mapstructure:"signer"`
	Nonce     NonceConfig     `mapstructure:"nonce"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Events    EventsConfig    `mapstructure:"events"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
	GrpcPort string `mapstructure:"grpc_port"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis" or "kafka"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type AuthConfig struct {
	// APISecrets maps API key -> secret
	APISecrets map[string]string `mapstructure:"api_secrets"`
	// APISecretsJSON 与 APISecrets 二选一, 便于通过环境变量 AUTH_API_SECRETS_JSON 注入
	APISecretsJSON string `mapstructure:"api_secrets_json"`
}

type ChainsConfig struct {
	// RPCMap maps decimal chain id -> HTTP JSON-RPC endpoint
	RPCMap     map[string]string `mapstructure:"rpc_map"`
	RPCMapJSON string            `mapstructure:"rpc_map_json"`
}

type PolicyConfig struct {
	WhitelistedAddresses []string `mapstructure:"whitelisted_addresses"`
	// MaxBaseFee in wei, decimal or 0x-hex. "0" or empty disables the ceiling.
	MaxBaseFee string `mapstructure:"max_base_fee"`
}

type SignerConfig struct {
	PrivateKey     string `mapstructure:"private_key"`
	KeystorePath   string `mapstructure:"keystore_path"`
	Password       string `mapstructure:"password"` // 通常通过环境变量 SIGNER_PASSWORD 传入
	Mnemonic       string `mapstructure:"mnemonic"`
	DerivationPath string `mapstructure:"derivation_path"`
}

type NonceConfig struct {
	Store   string        `mapstructure:"store"` // redis, postgres, memory
	Mode    string        `mapstructure:"mode"`  // serialized, advisory
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type BroadcastConfig struct {
	Channel string        `mapstructure:"channel"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	Burst             int     `mapstructure:"burst"`
}

type EventsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Topic   string `mapstructure:"topic"`
}

const (
	NonceStoreRedis    = "redis"
	NonceStorePostgres = "postgres"
	NonceStoreMemory   = "memory"

	NonceModeSerialized = "serialized"
	NonceModeAdvisory   = "advisory"

	ChannelPublic = "public"
)

// Load reads config.yaml from the given directories (default "." and "./config"),
// applies environment overrides and validates the result.
func Load(paths ...string) (*Config, error) {
	cfg, err := Read(paths...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without Validate, for tools that only need part of the config
func Read(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// 环境变量: app.http_port -> APP_HTTP_PORT
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// 未找到配置文件时仅使用默认值与环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.mergeJSONOverrides(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.http_port", "8080")
	v.SetDefault("app.grpc_port", "50051")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "relay_user")
	v.SetDefault("db.password", "relay_password")
	v.SetDefault("db.name", "relay_db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.mq_type", "redis")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})

	v.SetDefault("auth.api_secrets_json", "")
	v.SetDefault("chains.rpc_map_json", "")

	v.SetDefault("policy.whitelisted_addresses", []string{})
	v.SetDefault("policy.max_base_fee", "0")

	v.SetDefault("signer.private_key", "")
	v.SetDefault("signer.keystore_path", "")
	v.SetDefault("signer.password", "")
	v.SetDefault("signer.mnemonic", "")
	v.SetDefault("signer.derivation_path", "m/44'/60'/0'/0/0")

	v.SetDefault("nonce.store", NonceStoreRedis)
	v.SetDefault("nonce.mode", NonceModeSerialized)
	v.SetDefault("nonce.lock_ttl", 15*time.Second)
	v.SetDefault("nonce.timeout", 10*time.Second)

	v.SetDefault("broadcast.channel", ChannelPublic)
	v.SetDefault("broadcast.timeout", 10*time.Second)

	v.SetDefault("rate_limit.requests_per_minute", 0)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("events.enabled", true)
	v.SetDefault("events.topic", "relay_events_tx_submitted")
}

func (c *Config) mergeJSONOverrides() error {
	if s := strings.TrimSpace(c.Auth.APISecretsJSON); s != "" {
		var secrets map[string]string
		if err := json.Unmarshal([]byte(s), &secrets); err != nil {
			return errno.ErrConfiguration.WithCause(fmt.Errorf("auth.api_secrets_json: %w", err))
		}
		c.Auth.APISecrets = secrets
	}
	if s := strings.TrimSpace(c.Chains.RPCMapJSON); s != "" {
		var rpcMap map[string]string
		if err := json.Unmarshal([]byte(s), &rpcMap); err != nil {
			return errno.ErrConfiguration.WithCause(fmt.Errorf("chains.rpc_map_json: %w", err))
		}
		c.Chains.RPCMap = rpcMap
	}
	return nil
}

// Validate fails fast on missing process-wide configuration so that it is
// never discovered per request.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return errno.ErrConfiguration.WithCause(fmt.Errorf(format, args...))
	}

	if len(c.Auth.APISecrets) == 0 {
		return fail("auth.api_secrets: at least one API key is required")
	}
	for k, s := range c.Auth.APISecrets {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(s) == "" {
			return fail("auth.api_secrets: empty key or secret")
		}
	}

	if _, err := c.ChainEndpoints(); err != nil {
		return errno.ErrConfiguration.WithCause(err)
	}
	if _, err := c.Whitelist(); err != nil {
		return errno.ErrConfiguration.WithCause(err)
	}
	if _, err := c.MaxBaseFee(); err != nil {
		return errno.ErrConfiguration.WithCause(err)
	}

	if c.Signer.PrivateKey == "" && c.Signer.KeystorePath == "" && c.Signer.Mnemonic == "" {
		return fail("signer: one of private_key, keystore_path or mnemonic is required")
	}

	switch c.Nonce.Store {
	case NonceStoreRedis, NonceStorePostgres, NonceStoreMemory:
	default:
		return fail("nonce.store: unknown store %q", c.Nonce.Store)
	}
	switch c.Nonce.Mode {
	case NonceModeSerialized, NonceModeAdvisory:
	default:
		return fail("nonce.mode: unknown mode %q", c.Nonce.Mode)
	}

	// 私有广播通道 (private relay) 目前只保留扩展点
	if c.Broadcast.Channel != ChannelPublic {
		return errno.ErrUnsupportedBroadcaster.WithCause(fmt.Errorf("broadcast.channel %q", c.Broadcast.Channel))
	}
	if c.Broadcast.Timeout <= 0 {
		return fail("broadcast.timeout must be positive")
	}
	return nil
}

// ChainEndpoints returns the configured chain id -> RPC URL map
func (c *Config) ChainEndpoints() (map[uint64]string, error) {
	if len(c.Chains.RPCMap) == 0 {
		return nil, errors.New("chains.rpc_map: at least one chain is required")
	}
	out := make(map[uint64]string, len(c.Chains.RPCMap))
	for k, url := range c.Chains.RPCMap {
		id, err := strconv.ParseUint(strings.TrimSpace(k), 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("chains.rpc_map: invalid chain id %q", k)
		}
		if strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("chains.rpc_map: empty endpoint for chain %d", id)
		}
		out[id] = strings.TrimSpace(url)
	}
	return out, nil
}

// Whitelist parses policy.whitelisted_addresses
func (c *Config) Whitelist() ([]common.Address, error) {
	out := make([]common.Address, 0, len(c.Policy.WhitelistedAddresses))
	for _, a := range c.Policy.WhitelistedAddresses {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("policy.whitelisted_addresses: invalid address %q", a)
		}
		out = append(out, common.HexToAddress(a))
	}
	return out, nil
}

// MaxBaseFee parses policy.max_base_fee; zero means no ceiling
func (c *Config) MaxBaseFee() (*big.Int, error) {
	s := strings.TrimSpace(c.Policy.MaxBaseFee)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := math.ParseBig256(s)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("policy.max_base_fee: invalid value %q", c.Policy.MaxBaseFee)
	}
	return v, nil
}

// PostgresDSN builds the gorm DSN for the postgres nonce store
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.DB.Host, c.DB.User, c.DB.Password, c.DB.Name, c.DB.Port)
}

// PostgresURL is the URL form used by golang-migrate
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}
