package service

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/d60-Lab/tagstream/config"
	"github.com/d60-Lab/tagstream/internal/metrics"
	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/internal/repository"
	"github.com/d60-Lab/tagstream/pkg/logger"
)

// Enqueuer 把标签动态投递到扇出队列
type Enqueuer interface {
	Publish(ctx context.Context, topic, id string, payload []byte) error
}

// TagStreams 标签关注与标签时间线的写入侧
type TagStreams struct {
	tenant     string
	topic      string
	cfg        config.TimelineConfig
	followers  repository.TagFollowerRepository
	timeline   repository.TagTimelineRepository
	aggregated repository.AggregatedTimelineRepository
	content    repository.ContentStore
	runner     *BackgroundRunner
	queue      Enqueuer
	now        func() time.Time
}

type TagStreamsDeps struct {
	Tenant     string
	Topic      string
	Timeline   config.TimelineConfig
	Followers  repository.TagFollowerRepository
	TagTL      repository.TagTimelineRepository
	Aggregated repository.AggregatedTimelineRepository
	Content    repository.ContentStore
	Runner     *BackgroundRunner
	Queue      Enqueuer
}

func NewTagStreams(d TagStreamsDeps) *TagStreams {
	cfg := d.Timeline
	if cfg.AggregateCap < 1 {
		cfg.AggregateCap = model.DefaultAggregateCap
	}
	if cfg.PopulationSize < cfg.AggregateCap {
		cfg.PopulationSize = cfg.AggregateCap
	}
	return &TagStreams{
		tenant:     d.Tenant,
		topic:      d.Topic,
		cfg:        cfg,
		followers:  d.Followers,
		timeline:   d.TagTL,
		aggregated: d.Aggregated,
		content:    d.Content,
		runner:     d.Runner,
		queue:      d.Queue,
		now:        time.Now,
	}
}

// FollowTagResult Population 为后台回填任务，调用方可选择等待
type FollowTagResult struct {
	Edge       *model.TagFollower `json:"record"`
	Population *Task              `json:"-"`
}

type UnfollowTagResult struct {
	Success      bool  `json:"success"`
	Depopulation *Task `json:"-"`
}

// FollowTag 写关注边后异步回填
func (s *TagStreams) FollowTag(ctx context.Context, tag, follower string) (*FollowTagResult, error) {
	edge, err := s.followers.Create(ctx, tag, follower)
	if err != nil {
		return nil, fmt.Errorf("follow tag %s: %w", tag, err)
	}
	task := s.runner.Go("populate", tag+"/"+follower, func(ctx context.Context) error {
		return s.Populate(ctx, tag, follower)
	})
	return &FollowTagResult{Edge: edge, Population: task}, nil
}

// FollowTags 注册时带初始标签，并发关注
func (s *TagStreams) FollowTags(ctx context.Context, tags []string, follower string) ([]*FollowTagResult, error) {
	results := make([]*FollowTagResult, len(tags))
	g, gctx := errgroup.WithContext(ctx)
	for i, tag := range tags {
		i, tag := i, tag
		g.Go(func() error {
			r, err := s.FollowTag(gctx, tag, follower)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// UnfollowTag 关注边确实存在时才清理时间线
func (s *TagStreams) UnfollowTag(ctx context.Context, tag, follower string) (*UnfollowTagResult, error) {
	existed, err := s.followers.Delete(ctx, tag, follower)
	if err != nil {
		return nil, fmt.Errorf("unfollow tag %s: %w", tag, err)
	}
	if !existed {
		return &UnfollowTagResult{Success: false}, nil
	}
	task := s.runner.Go("depopulate", tag+"/"+follower, func(ctx context.Context) error {
		return s.Depopulate(ctx, tag, follower)
	})
	return &UnfollowTagResult{Success: true, Depopulation: task}, nil
}

// Populate 取标签下最新的 K 篇：前 cap 篇写聚合行，全部写平铺行
func (s *TagStreams) Populate(ctx context.Context, tag, follower string) error {
	posts, err := s.content.FindPostsByTag(ctx, tag, s.cfg.PopulationSize)
	if err != nil {
		return fmt.Errorf("load posts for %s: %w", tag, err)
	}

	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	head := ids
	if len(head) > s.cfg.AggregateCap {
		head = head[:s.cfg.AggregateCap]
	}
	if err := s.aggregated.Replace(ctx, tag, follower, head, s.now()); err != nil {
		return fmt.Errorf("populate aggregate %s/%s: %w", tag, follower, err)
	}

	// 旧的先插，平铺时间线按 id 倒序读出来就是新的在前
	entries := make([]model.TagTimelineEntry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		entries = append(entries, model.TagTimelineEntry{Tag: tag, Follower: follower, Post: ids[i]})
	}
	if err := s.timeline.InsertMany(ctx, entries); err != nil {
		return fmt.Errorf("populate timeline %s/%s: %w", tag, follower, err)
	}
	metrics.TimelineRows.WithLabelValues(s.tenant, "populate").Add(float64(len(entries) + 1))
	logger.Debug("tag timeline populated",
		zap.String("tenant", s.tenant), zap.String("tag", tag), zap.String("follower", follower), zap.Int("posts", len(ids)))
	return nil
}

// Depopulate 删除聚合行与该标签下的全部平铺行
func (s *TagStreams) Depopulate(ctx context.Context, tag, follower string) error {
	if _, err := s.aggregated.Delete(ctx, tag, follower); err != nil {
		return fmt.Errorf("depopulate aggregate %s/%s: %w", tag, follower, err)
	}
	n, err := s.timeline.DeleteByTagFollower(ctx, tag, follower)
	if err != nil {
		return fmt.Errorf("depopulate timeline %s/%s: %w", tag, follower, err)
	}
	metrics.TimelineRows.WithLabelValues(s.tenant, "depopulate").Add(float64(n))
	return nil
}

// EnqueueUpdate 投递到扇出队列，消息 id 即动态 id
func (s *TagStreams) EnqueueUpdate(ctx context.Context, activityID string, body model.ActivityBody) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode tag update: %w", err)
	}
	return s.queue.Publish(ctx, s.topic, activityID, payload)
}

// MaybeEnqueueUpdate 只有 publish/republish/unpublish 且带标签时才入队，作为后台任务执行
func (s *TagStreams) MaybeEnqueueUpdate(activityID string, body model.ActivityBody) *Task {
	if !body.Verb.IsTagUpdate() || len(body.Tags) == 0 {
		return nil
	}
	return s.runner.Go("enqueue_tag_update", activityID, func(ctx context.Context) error {
		return s.EnqueueUpdate(ctx, activityID, body)
	})
}
