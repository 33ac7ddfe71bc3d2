package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/tagstream/config"
	"github.com/d60-Lab/tagstream/internal/feed"
	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/internal/tenant"
	"github.com/d60-Lab/tagstream/pkg/logger"
)

// 压测：一个标签 N 个关注者，连续发布 POSTS 篇文章，统计发布耗时和落到时间线的耗时
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	_ = logger.Init("warn", "console")

	followers := envInt("FOLLOWERS", 5000)
	posts := envInt("POSTS", 50)
	tag := "bench"
	name := cfg.Tenants[0]

	s, err := tenant.Open(cfg, name, tenant.Options{Feeds: feed.NewMemoryClient()})
	if err != nil {
		panic(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()
	<-s.Running()

	fmt.Printf("Seeding %d followers of #%s...\n", followers, tag)
	rows := make([]*model.TagFollower, followers)
	now := time.Now().UTC()
	for i := range rows {
		rows[i] = &model.TagFollower{ID: uuid.New().String(), Followed: tag, Follower: fmt.Sprintf("f%06d", i), When: now}
	}
	mustDo(s.DB.CreateInBatches(rows, 500).Error)

	publishes := make([]time.Duration, 0, posts)
	for i := 0; i < posts; i++ {
		st := time.Now()
		_, err := s.Streams.Publish(ctx, model.EntityUser, "bench-author", model.ActivityBody{
			Actor:  "bench-author",
			Verb:   model.VerbPublish,
			Object: fmt.Sprintf("post:bench-%d", i),
			Tags:   []string{tag},
			Time:   time.Now().UTC(),
		})
		mustDo(err)
		publishes = append(publishes, time.Since(st))
	}

	landings := make([]time.Duration, 0, posts)
	timeout := time.After(time.Duration(posts) * 10 * time.Second)
	for len(landings) < posts {
		select {
		case d := <-s.Fanout.Metrics():
			landings = append(landings, d)
		case <-timeout:
			fmt.Printf("timed out after %d/%d fan-outs\n", len(landings), posts)
			posts = len(landings)
		}
	}

	var flat, agg int64
	s.DB.Model(&model.TagTimelineEntry{}).Where("tag = ?", tag).Count(&flat)
	s.DB.Model(&model.AggregatedTagTimeline{}).Where("tag = ?", tag).Count(&agg)

	fmt.Printf("TENANT=%s TRANSPORT=%s FOLLOWERS=%d POSTS=%d\n", name, cfg.Queue.Transport, followers, posts)
	fmt.Printf("Publish:  avg=%v p95=%v p99=%v\n", avg(publishes), pct(publishes, 0.95), pct(publishes, 0.99))
	fmt.Printf("Fan-out:  avg=%v p95=%v p99=%v\n", avg(landings), pct(landings, 0.95), pct(landings, 0.99))
	fmt.Printf("Rows: tag_timeline=%d aggregated_tag_timeline=%d\n", flat, agg)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()
	cancel()
	mustDo(s.Close(closeCtx))
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range vs {
		sum += v
	}
	return sum / time.Duration(len(vs))
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
