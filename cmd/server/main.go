package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/d60-Lab/tagstream/config"
	"github.com/d60-Lab/tagstream/internal/api"
	"github.com/d60-Lab/tagstream/internal/feed"
	"github.com/d60-Lab/tagstream/internal/queue"
	"github.com/d60-Lab/tagstream/internal/tenant"
	"github.com/d60-Lab/tagstream/pkg/logger"
	"github.com/d60-Lab/tagstream/pkg/tracing"
)

// @title tagstream API
// @version 1.0
// @description 标签关注扇出与时间线服务
// @BasePath /
// @securityDefinitions.apikey ActingUser
// @in header
// @name X-User-ID
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Sentry.Environment}); err != nil {
			logger.Warn("sentry init failed", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("init tracing", zap.Error(err))
	}

	opts := tenant.Options{Logger: queue.NewLoggerAdapter(logger.L())}

	// 内嵌 NATS，本地跑 JetStream 不需要单独部署
	var embedded *queue.EmbeddedServer
	if cfg.Queue.Transport == "nats" && cfg.Queue.Embedded.Enabled {
		embedded, err = queue.NewEmbeddedServer(cfg.Queue.Embedded)
		if err != nil {
			logger.Fatal("start embedded nats", zap.Error(err))
		}
		opts.NATSURL = embedded.ClientURL()
	}

	switch cfg.Feed.Provider {
	case "http":
		opts.Feeds, err = feed.NewHTTPClient(cfg.Feed)
		if err != nil {
			logger.Fatal("init feed client", zap.Error(err))
		}
	default:
		opts.Feeds = feed.NewMemoryClient()
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("connect redis", zap.Error(err))
		}
		opts.Redis = rdb
	}

	reg := tenant.NewRegistry()
	for _, name := range cfg.Tenants {
		s, err := tenant.Open(cfg, name, opts)
		if err != nil {
			logger.Fatal("open tenant", zap.String("tenant", name), zap.Error(err))
		}
		if err := reg.Register(name, s); err != nil {
			logger.Fatal("register tenant", zap.String("tenant", name), zap.Error(err))
		}
	}

	// 每个租户一个扇出消费者
	var consumers conc.WaitGroup
	_ = reg.ForEach(func(name string, s *tenant.Services) error {
		consumers.Go(func() {
			if err := s.Run(ctx); err != nil {
				logger.Error("fanout router stopped", zap.String("tenant", name), zap.Error(err))
			}
		})
		return nil
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(cfg, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr), zap.Strings("tenants", reg.Names()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.CloseTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := reg.Close(shutdownCtx); err != nil {
		logger.Warn("close tenants", zap.Error(err))
	}
	consumers.Wait()
	if embedded != nil {
		if err := embedded.Shutdown(shutdownCtx); err != nil {
			logger.Warn("embedded nats shutdown", zap.Error(err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
