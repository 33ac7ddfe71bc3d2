package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/tagstream/config"
	"github.com/d60-Lab/tagstream/internal/feed"
	"github.com/d60-Lab/tagstream/internal/model"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "file:" + t.Name() + "_{tenant}?mode=memory&cache=shared",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
			AutoMigrate:  true,
		},
		Queue: config.QueueConfig{
			Transport:       "memory",
			Topic:           "tagged_post_activity",
			ConsumerName:    "tagged-activity-handler",
			Replay:          true,
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			CloseTimeout:    time.Second,
			Breaker:         config.BreakerConfig{FailureThreshold: 5, Timeout: time.Second},
		},
		Timeline: config.TimelineConfig{
			AggregateCap:      6,
			PopulationSize:    10,
			DefaultLimit:      30,
			FanoutConcurrency: 2,
			FollowerBatch:     10,
		},
		Background: config.BackgroundConfig{Workers: 2, QueueSize: 100, TaskTimeout: 5 * time.Second},
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	a, b := &Services{Name: "acme"}, &Services{Name: "globex"}
	require.NoError(t, reg.Register("globex", b))
	require.NoError(t, reg.Register("acme", a))
	assert.ErrorIs(t, reg.Register("acme", a), ErrDuplicateTenant)

	got, err := reg.Get("acme")
	require.NoError(t, err)
	assert.Same(t, a, got)
	_, err = reg.Get("initech")
	assert.ErrorIs(t, err, ErrUnknownTenant)

	assert.Equal(t, []string{"acme", "globex"}, reg.Names())

	var visited []string
	stop := errors.New("stop")
	err = reg.ForEach(func(name string, _ *Services) error {
		visited = append(visited, name)
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []string{"acme"}, visited)
}

func TestOpenRequiresFeedClient(t *testing.T) {
	_, err := Open(testConfig(t), "acme", Options{})
	assert.Error(t, err)
}

// 每个租户独立的库与 topic，一个租户的发布不会进入另一个租户的时间线
func TestTenantsAreIsolated(t *testing.T) {
	cfg := testConfig(t)
	feeds := feed.NewMemoryClient()
	reg := NewRegistry()
	for _, name := range []string{"acme", "globex"} {
		s, err := Open(cfg, name, Options{Feeds: feeds})
		require.NoError(t, err)
		require.NoError(t, reg.Register(name, s))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	require.NoError(t, reg.ForEach(func(name string, s *Services) error {
		go func() {
			_ = s.Run(ctx)
			done <- struct{}{}
		}()
		select {
		case <-s.Running():
			return nil
		case <-time.After(5 * time.Second):
			return errors.New("router for " + name + " did not start")
		}
	}))
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		assert.NoError(t, reg.Close(closeCtx))
	})

	acme, err := reg.Get("acme")
	require.NoError(t, err)
	globex, err := reg.Get("globex")
	require.NoError(t, err)
	assert.Equal(t, "acme_tagged_post_activity", acme.Topic)

	for _, s := range []*Services{acme, globex} {
		res, err := s.Tags.FollowTag(ctx, "go", "u1")
		require.NoError(t, err)
		waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
		require.NoError(t, res.Population.Wait(waitCtx))
		waitCancel()
	}

	_, err = acme.Streams.Publish(ctx, model.EntityUser, "author", model.ActivityBody{
		Actor:  "author",
		Verb:   model.VerbPublish,
		Object: "post:p1",
		Tags:   []string{"go"},
		Time:   time.Now().UTC(),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		page, err := acme.Reader.LoadTagTimeline(ctx, "go", "u1", 10, 0)
		return err == nil && len(page.Values) == 1
	}, 5*time.Second, 10*time.Millisecond)

	page, err := globex.Reader.LoadTagTimeline(ctx, "go", "u1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Values)
}
