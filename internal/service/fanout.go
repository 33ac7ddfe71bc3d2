package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/d60-Lab/tagstream/config"
	"github.com/d60-Lab/tagstream/internal/metrics"
	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/internal/queue"
	"github.com/d60-Lab/tagstream/internal/repository"
	"github.com/d60-Lab/tagstream/pkg/logger"
)

var ErrInvalidActivity = errors.New("invalid tag activity")

// FanoutConsumer 消费标签动态，写入关注者的标签时间线。所有写入都是幂等的，可以安全重投。
type FanoutConsumer struct {
	tenant      string
	followers   repository.TagFollowerRepository
	timeline    repository.TagTimelineRepository
	aggregated  repository.AggregatedTimelineRepository
	aggCap      int
	batch       int
	concurrency int
	validate    *validator.Validate
	metricsCh   chan time.Duration
}

func NewFanoutConsumer(tenant string, cfg config.TimelineConfig, followers repository.TagFollowerRepository,
	timeline repository.TagTimelineRepository, aggregated repository.AggregatedTimelineRepository) *FanoutConsumer {
	if cfg.AggregateCap < 1 {
		cfg.AggregateCap = model.DefaultAggregateCap
	}
	if cfg.FollowerBatch <= 0 {
		cfg.FollowerBatch = 500
	}
	if cfg.FanoutConcurrency <= 0 {
		cfg.FanoutConcurrency = 8
	}
	return &FanoutConsumer{
		tenant:      tenant,
		followers:   followers,
		timeline:    timeline,
		aggregated:  aggregated,
		aggCap:      cfg.AggregateCap,
		batch:       cfg.FollowerBatch,
		concurrency: cfg.FanoutConcurrency,
		validate:    validator.New(),
		metricsCh:   make(chan time.Duration, 65536),
	}
}

// Metrics 动态时间到扇出完成的耗时（压测用）
func (c *FanoutConsumer) Metrics() <-chan time.Duration { return c.metricsCh }

// Handle watermill 消费入口：返回 nil 即确认，返回错误交给 router 重试
func (c *FanoutConsumer) Handle(msg *message.Message) error {
	ctx, span := otel.Tracer("tagstream/fanout").Start(msg.Context(), "fanout.handle")
	defer span.End()
	start := time.Now()

	var body model.ActivityBody
	if err := json.Unmarshal(msg.Payload, &body); err != nil {
		metrics.RecordFanout(c.tenant, "unknown", "invalid", time.Since(start))
		return queue.Permanent(fmt.Errorf("%w: %v", ErrInvalidActivity, err))
	}
	span.SetAttributes(
		attribute.String("tenant", c.tenant),
		attribute.String("activity.id", msg.UUID),
		attribute.String("activity.verb", string(body.Verb)),
	)

	if err := c.validate.Struct(body); err != nil {
		metrics.RecordFanout(c.tenant, string(body.Verb), "invalid", time.Since(start))
		return queue.Permanent(fmt.Errorf("%w: %v", ErrInvalidActivity, err))
	}

	if err := c.Process(ctx, body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordFanout(c.tenant, string(body.Verb), "retry", time.Since(start))
		return err
	}
	metrics.RecordFanout(c.tenant, string(body.Verb), "ok", time.Since(start))
	if !body.Time.IsZero() {
		select {
		case c.metricsCh <- time.Since(body.Time):
		default:
		}
	}
	return nil
}

// Process publish/republish 插入 added_tags ?? tags、移除 removed_tags；其他动作从 tags 中移除
func (c *FanoutConsumer) Process(ctx context.Context, body model.ActivityBody) error {
	post := body.ObjectID()
	if post == "" {
		return queue.Permanent(fmt.Errorf("%w: empty object id", ErrInvalidActivity))
	}

	if body.Verb.Inserts() {
		at := body.Time
		if at.IsZero() {
			at = time.Now()
		}
		for _, tag := range body.AddedOrTags() {
			if err := c.insert(ctx, tag, post, at); err != nil {
				return err
			}
		}
		for _, tag := range body.RemovedOrEmpty() {
			if err := c.remove(ctx, tag, post); err != nil {
				return err
			}
		}
		return nil
	}

	for _, tag := range body.Tags {
		if err := c.remove(ctx, tag, post); err != nil {
			return err
		}
	}
	return nil
}

// insert 逐批遍历关注者，单个关注者写失败只记日志
func (c *FanoutConsumer) insert(ctx context.Context, tag, post string, at time.Time) error {
	var written, failed atomic.Int64
	err := c.followers.StreamFollowers(ctx, tag, c.batch, func(batch []*model.TagFollower) error {
		p := pool.New().WithMaxGoroutines(c.concurrency)
		for _, f := range batch {
			follower := f.Follower
			p.Go(func() {
				if err := c.deliver(ctx, tag, follower, post, at); err != nil {
					failed.Add(1)
					metrics.FollowerFailures.WithLabelValues(c.tenant).Inc()
					logger.Warn("fan-out to follower failed",
						zap.String("tenant", c.tenant),
						zap.String("tag", tag),
						zap.String("follower", follower),
						zap.String("post", post),
						zap.Error(err),
					)
					return
				}
				written.Add(1)
			})
		}
		p.Wait()
		return nil
	})
	if err != nil {
		return fmt.Errorf("stream followers of %s: %w", tag, err)
	}
	metrics.TimelineRows.WithLabelValues(c.tenant, "insert").Add(float64(written.Load()))
	metrics.TimelineRows.WithLabelValues(c.tenant, "aggregate_push").Add(float64(written.Load()))
	logger.Debug("tag fan-out done",
		zap.String("tenant", c.tenant), zap.String("tag", tag), zap.String("post", post),
		zap.Int64("followers", written.Load()), zap.Int64("failed", failed.Load()))
	return nil
}

func (c *FanoutConsumer) deliver(ctx context.Context, tag, follower, post string, at time.Time) error {
	if err := c.timeline.Upsert(ctx, tag, follower, post); err != nil {
		return fmt.Errorf("timeline: %w", err)
	}
	if err := c.aggregated.PushPost(ctx, tag, follower, post, at, c.aggCap); err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	return nil
}

// remove 删除该标签下引用此文章的平铺行，并从所有聚合行中拿掉
func (c *FanoutConsumer) remove(ctx context.Context, tag, post string) error {
	n, err := c.timeline.DeleteByTagPost(ctx, tag, post)
	if err != nil {
		return fmt.Errorf("remove %s from %s timelines: %w", post, tag, err)
	}
	pulled, err := c.aggregated.PullPost(ctx, tag, post)
	if err != nil {
		return fmt.Errorf("pull %s from %s aggregates: %w", post, tag, err)
	}
	metrics.TimelineRows.WithLabelValues(c.tenant, "delete").Add(float64(n))
	metrics.TimelineRows.WithLabelValues(c.tenant, "aggregate_pull").Add(float64(pulled))
	return nil
}
