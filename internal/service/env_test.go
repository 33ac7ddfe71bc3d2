package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/tagstream/config"
	"github.com/d60-Lab/tagstream/internal/feed"
	"github.com/d60-Lab/tagstream/internal/repository"
	"github.com/d60-Lab/tagstream/internal/testutil"
)

type queued struct {
	topic   string
	id      string
	payload []byte
}

// fakeQueue 记录投递的消息，err 非空时投递失败
type fakeQueue struct {
	mu   sync.Mutex
	msgs []queued
	err  error
}

func (q *fakeQueue) Publish(_ context.Context, topic, id string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, queued{topic: topic, id: id, payload: payload})
	return nil
}

func (q *fakeQueue) all() []queued {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queued(nil), q.msgs...)
}

type testEnv struct {
	db          *gorm.DB
	followers   repository.TagFollowerRepository
	users       repository.UserFollowerRepository
	timeline    repository.TagTimelineRepository
	aggregated  repository.AggregatedTimelineRepository
	activities  repository.ActivityRepository
	content     repository.ContentStore
	deadLetters repository.DeadLetterRepository
	runner      *BackgroundRunner
	queue       *fakeQueue
	feeds       *feed.MemoryClient
	tags        *TagStreams
	streams     *ActivityStreams
	fanout      *FanoutConsumer
	reader      *TimelineReader
}

func testTimelineConfig() config.TimelineConfig {
	return config.TimelineConfig{
		AggregateCap:      6,
		PopulationSize:    8,
		DefaultLimit:      30,
		FanoutConcurrency: 4,
		FollowerBatch:     3,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)
	e := &testEnv{
		db:          db,
		followers:   repository.NewTagFollowerRepository(db),
		users:       repository.NewUserFollowerRepository(db),
		timeline:    repository.NewTagTimelineRepository(db),
		aggregated:  repository.NewAggregatedTimelineRepository(db),
		activities:  repository.NewActivityRepository(db),
		content:     repository.NewContentRepository(db),
		deadLetters: repository.NewDeadLetterRepository(db),
		queue:       &fakeQueue{},
		feeds:       feed.NewMemoryClient(),
	}
	e.runner = NewBackgroundRunner(64, 5*time.Second, e.deadLetters)
	stop := e.runner.Start(2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = stop(ctx)
	})

	cfg := testTimelineConfig()
	e.tags = NewTagStreams(TagStreamsDeps{
		Tenant:     "test",
		Topic:      "test_tagged_post_activity",
		Timeline:   cfg,
		Followers:  e.followers,
		TagTL:      e.timeline,
		Aggregated: e.aggregated,
		Content:    e.content,
		Runner:     e.runner,
		Queue:      e.queue,
	})
	e.streams = NewActivityStreams(e.activities, e.users, e.feeds, e.tags)
	e.fanout = NewFanoutConsumer("test", cfg, e.followers, e.timeline, e.aggregated)
	e.reader = NewTimelineReader(e.timeline, e.aggregated, e.content, e.feeds, cfg.DefaultLimit)
	return e
}

func (e *testEnv) follow(t *testing.T, tag string, followers ...string) {
	t.Helper()
	for _, f := range followers {
		_, err := e.followers.Create(context.Background(), tag, f)
		require.NoError(t, err)
	}
}

// deliver 把队列里的消息交给扇出消费者
func (e *testEnv) deliver(t *testing.T) {
	t.Helper()
	for _, m := range e.queue.all() {
		msg := message.NewMessage(m.id, m.payload)
		require.NoError(t, e.fanout.Handle(msg))
	}
}

func (e *testEnv) flatPosts(t *testing.T, tag, follower string) []string {
	t.Helper()
	entries, err := e.timeline.List(context.Background(), tag, follower, 100, 0)
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, en := range entries {
		out = append(out, en.Post)
	}
	return out
}

func waitTask(t *testing.T, task *Task) error {
	t.Helper()
	require.NotNil(t, task)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return task.Wait(ctx)
}
