package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Timeline   TimelineConfig   `mapstructure:"timeline"`
	Background BackgroundConfig `mapstructure:"background"`
	Log        LogConfig        `mapstructure:"log"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Tenants    []string         `mapstructure:"tenants"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"` // debug, release, test
	// Swagger 开启后在 /swagger/index.html 提供接口文档
	Swagger bool `mapstructure:"swagger"`
}

// DatabaseConfig DSN 中的 {tenant} 会替换为租户名，每个租户一个独立库
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // postgres, sqlite
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	EntityTTL time.Duration `mapstructure:"entity_ttl"`
}

// QueueConfig 标签动态扇出队列
type QueueConfig struct {
	Transport       string             `mapstructure:"transport"` // memory, nats
	Topic           string             `mapstructure:"topic"`
	ConsumerName    string             `mapstructure:"consumer_name"`
	Replay          bool               `mapstructure:"replay"`
	MaxRetries      int                `mapstructure:"max_retries"`
	InitialInterval time.Duration      `mapstructure:"initial_interval"`
	MaxInterval     time.Duration      `mapstructure:"max_interval"`
	CloseTimeout    time.Duration      `mapstructure:"close_timeout"`
	NATS            NATSConfig         `mapstructure:"nats"`
	Breaker         BreakerConfig      `mapstructure:"breaker"`
	Embedded        EmbeddedNATSConfig `mapstructure:"embedded"`
}

type NATSConfig struct {
	URL              string        `mapstructure:"url"`
	StreamName       string        `mapstructure:"stream_name"`
	SubscribersCount int           `mapstructure:"subscribers_count"`
	AckWait          time.Duration `mapstructure:"ack_wait"`
	MaxAckPending    int           `mapstructure:"max_ack_pending"`
	MaxReconnects    int           `mapstructure:"max_reconnects"`
	ReconnectWait    time.Duration `mapstructure:"reconnect_wait"`
}

type EmbeddedNATSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	StoreDir string `mapstructure:"store_dir"`
}

type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// FeedConfig 外部动态流服务（getstream 风格）
type FeedConfig struct {
	Provider      string        `mapstructure:"provider"` // memory, http
	BaseURL       string        `mapstructure:"base_url"`
	Key           string        `mapstructure:"key"`
	Secret        string        `mapstructure:"secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Breaker       BreakerConfig `mapstructure:"breaker"`
}

type TimelineConfig struct {
	AggregateCap      int `mapstructure:"aggregate_cap"`
	PopulationSize    int `mapstructure:"population_size"`
	DefaultLimit      int `mapstructure:"default_limit"`
	FanoutConcurrency int `mapstructure:"fanout_concurrency"`
	FollowerBatch     int `mapstructure:"follower_batch"`
}

type BackgroundConfig struct {
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, console
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

// Load 读取 config.yaml（可选）与 TAGSTREAM_* 环境变量
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("TAGSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// 环境变量里的逗号列表
	if len(cfg.Tenants) == 1 && strings.Contains(cfg.Tenants[0], ",") {
		cfg.Tenants = splitList(cfg.Tenants[0])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.swagger", false)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:{tenant}.db?_busy_timeout=5000")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.entity_ttl", 10*time.Minute)

	v.SetDefault("queue.transport", "memory")
	v.SetDefault("queue.topic", "tagged_post_activity")
	v.SetDefault("queue.consumer_name", "tagged-activity-handler")
	v.SetDefault("queue.replay", true)
	v.SetDefault("queue.max_retries", 5)
	v.SetDefault("queue.initial_interval", 500*time.Millisecond)
	v.SetDefault("queue.max_interval", 30*time.Second)
	v.SetDefault("queue.close_timeout", 30*time.Second)
	v.SetDefault("queue.nats.url", "nats://localhost:4222")
	v.SetDefault("queue.nats.subscribers_count", 1)
	v.SetDefault("queue.nats.ack_wait", 30*time.Second)
	v.SetDefault("queue.nats.max_ack_pending", 1)
	v.SetDefault("queue.nats.max_reconnects", -1)
	v.SetDefault("queue.nats.reconnect_wait", 2*time.Second)
	v.SetDefault("queue.embedded.enabled", false)
	v.SetDefault("queue.embedded.host", "127.0.0.1")
	v.SetDefault("queue.embedded.port", 4222)
	v.SetDefault("queue.embedded.store_dir", "./data/nats")
	v.SetDefault("queue.breaker.max_requests", 1)
	v.SetDefault("queue.breaker.interval", time.Minute)
	v.SetDefault("queue.breaker.timeout", 30*time.Second)
	v.SetDefault("queue.breaker.failure_threshold", 5)

	v.SetDefault("feed.provider", "memory")
	v.SetDefault("feed.base_url", "https://api.stream-io-api.com/api/v1.0")
	v.SetDefault("feed.timeout", 5*time.Second)
	v.SetDefault("feed.rate_per_second", 50.0)
	v.SetDefault("feed.burst", 20)
	v.SetDefault("feed.breaker.max_requests", 1)
	v.SetDefault("feed.breaker.interval", time.Minute)
	v.SetDefault("feed.breaker.timeout", 30*time.Second)
	v.SetDefault("feed.breaker.failure_threshold", 5)

	v.SetDefault("timeline.aggregate_cap", 6)
	v.SetDefault("timeline.population_size", 50)
	v.SetDefault("timeline.default_limit", 30)
	v.SetDefault("timeline.fanout_concurrency", 8)
	v.SetDefault("timeline.follower_batch", 500)

	v.SetDefault("background.workers", 4)
	v.SetDefault("background.queue_size", 10000)
	v.SetDefault("background.task_timeout", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "tagstream")
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("tenants", []string{"default"})
}

// Validate 校验相互约束的配置项
func (c *Config) Validate() error {
	if c.Timeline.AggregateCap < 1 {
		return fmt.Errorf("timeline.aggregate_cap must be >= 1, got %d", c.Timeline.AggregateCap)
	}
	if c.Timeline.PopulationSize < c.Timeline.AggregateCap {
		return fmt.Errorf("timeline.population_size (%d) must be >= timeline.aggregate_cap (%d)",
			c.Timeline.PopulationSize, c.Timeline.AggregateCap)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	switch c.Queue.Transport {
	case "memory", "nats":
	default:
		return fmt.Errorf("unsupported queue.transport %q", c.Queue.Transport)
	}
	switch c.Feed.Provider {
	case "memory", "http":
	default:
		return fmt.Errorf("unsupported feed.provider %q", c.Feed.Provider)
	}
	if len(c.Tenants) == 0 {
		return errors.New("at least one tenant is required")
	}
	return nil
}

// TenantDSN 生成租户库连接串
func (c DatabaseConfig) TenantDSN(tenant string) string {
	return strings.ReplaceAll(c.DSN, "{tenant}", tenant)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
