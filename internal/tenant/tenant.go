package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/tagstream/config"
	"github.com/d60-Lab/tagstream/internal/cache"
	"github.com/d60-Lab/tagstream/internal/feed"
	"github.com/d60-Lab/tagstream/internal/queue"
	"github.com/d60-Lab/tagstream/internal/repository"
	"github.com/d60-Lab/tagstream/internal/service"
	"github.com/d60-Lab/tagstream/pkg/database"
	"github.com/d60-Lab/tagstream/pkg/logger"
)

// Options 多个租户共享的依赖
type Options struct {
	Feeds feed.Client
	// Redis 为空时不启用实体缓存
	Redis   *redis.Client
	NATSURL string
	Logger  watermill.LoggerAdapter
	// DB 非空时直接使用（测试）
	DB *gorm.DB
}

// Services 一个租户的全部组件：独立的库、topic 和消费者
type Services struct {
	Name        string
	Topic       string
	DB          *gorm.DB
	Streams     *service.ActivityStreams
	Tags        *service.TagStreams
	Reader      *service.TimelineReader
	Fanout      *service.FanoutConsumer
	Runner      *service.BackgroundRunner
	Activities  repository.ActivityRepository
	DeadLetters repository.DeadLetterRepository

	pubsub     *queue.PubSub
	publisher  *queue.Publisher
	router     *queue.Router
	stopRunner func(context.Context) error
	ownsDB     bool
}

// Open 按配置装配租户；失败时已创建的资源会被释放
func Open(cfg *config.Config, name string, opts Options) (_ *Services, err error) {
	if opts.Feeds == nil {
		return nil, errors.New("feed client is required")
	}
	s := &Services{Name: name, Topic: queue.TopicFor(name, cfg.Queue.Topic)}
	defer func() {
		if err != nil {
			_ = s.Close(context.Background())
		}
	}()

	if opts.DB != nil {
		s.DB = opts.DB
	} else {
		s.DB, err = database.InitDB(cfg.Database, name)
		if err != nil {
			return nil, err
		}
		s.ownsDB = true
	}

	var content repository.ContentStore = repository.NewContentRepository(s.DB)
	if opts.Redis != nil {
		content = cache.NewEntityCache(content, opts.Redis, cfg.Redis.EntityTTL, name)
	}
	followers := repository.NewTagFollowerRepository(s.DB)
	timeline := repository.NewTagTimelineRepository(s.DB)
	aggregated := repository.NewAggregatedTimelineRepository(s.DB)
	s.Activities = repository.NewActivityRepository(s.DB)
	s.DeadLetters = repository.NewDeadLetterRepository(s.DB)

	s.Runner = service.NewBackgroundRunner(cfg.Background.QueueSize, cfg.Background.TaskTimeout, s.DeadLetters)
	s.stopRunner = s.Runner.Start(cfg.Background.Workers)

	s.pubsub, err = queue.NewPubSub(cfg.Queue, name, opts.NATSURL, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", name, err)
	}
	s.publisher = queue.NewPublisher(s.pubsub.Publisher, "queue_"+name, cfg.Queue.Breaker)

	s.Tags = service.NewTagStreams(service.TagStreamsDeps{
		Tenant:     name,
		Topic:      s.Topic,
		Timeline:   cfg.Timeline,
		Followers:  followers,
		TagTL:      timeline,
		Aggregated: aggregated,
		Content:    content,
		Runner:     s.Runner,
		Queue:      s.publisher,
	})
	s.Streams = service.NewActivityStreams(s.Activities, repository.NewUserFollowerRepository(s.DB), opts.Feeds, s.Tags)
	s.Reader = service.NewTimelineReader(timeline, aggregated, content, opts.Feeds, cfg.Timeline.DefaultLimit)
	s.Fanout = service.NewFanoutConsumer(name, cfg.Timeline, followers, timeline, aggregated)

	s.router, err = queue.NewRouter(cfg.Queue, s.DeadLetters, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", name, err)
	}
	s.router.AddConsumerHandler(cfg.Queue.ConsumerName, s.Topic, s.pubsub.Subscriber, s.Fanout.Handle)

	logger.Info("tenant ready",
		zap.String("tenant", name), zap.String("topic", s.Topic), zap.String("transport", cfg.Queue.Transport))
	return s, nil
}

// Run 运行扇出消费者，阻塞到 ctx 取消
func (s *Services) Run(ctx context.Context) error {
	return s.router.Run(ctx)
}

// Running router 启动完成后关闭
func (s *Services) Running() <-chan struct{} { return s.router.Running() }

// Ready 扇出消费者已启动
func (s *Services) Ready() bool {
	return s.router != nil && s.router.IsRunning()
}

// Close 顺序：停消费者，排空后台任务，关闭发布端与连接，最后关库
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if s.router != nil {
		if err := s.router.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.stopRunner != nil {
		if err := s.stopRunner(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain background tasks: %w", err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.pubsub != nil {
		if err := s.pubsub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.ownsDB && s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
