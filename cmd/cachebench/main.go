package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/d60-Lab/tagstream/internal/cache"
	"github.com/d60-Lab/tagstream/internal/feed"
	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/internal/repository"
	"github.com/d60-Lab/tagstream/internal/service"
	"github.com/d60-Lab/tagstream/pkg/database"
)

const (
	authorCount   = 2000
	postCount     = 20000
	tagCount      = 50
	readerCount   = 1000
	tagsPerReader = 8
	requestCount  = 5000
	pageSize      = 20
)

// 压测聚合标签时间线的读取：直接查库补全文章/作者 vs Redis 实体缓存
func main() {
	ctx := context.Background()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=postgres port=5434 sslmode=disable"
	}
	db := must(gorm.Open(postgres.Open(dsn), &gorm.Config{}))
	for _, table := range []string{"aggregated_tag_timeline", "tag_timeline", "post_tags", "posts", "users"} {
		mustDo(db.Exec("DROP TABLE IF EXISTS " + table + " CASCADE").Error)
	}
	mustDo(database.Migrate(db))

	fmt.Println("Setting up test data...")
	seed(db)
	fmt.Printf("Test data ready: %d posts by %d authors, %d readers over %d tags\n", postCount, authorCount, readerCount, tagCount)

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6380"
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis at %s: %v", redisAddr, err))
	}

	timeline := repository.NewTagTimelineRepository(db)
	aggregated := repository.NewAggregatedTimelineRepository(db)
	content := repository.NewContentRepository(db)
	feeds := feed.NewMemoryClient()

	readers := makeRequests(requestCount)

	direct := service.NewTimelineReader(timeline, aggregated, content, feeds, pageSize)
	noCache := runScenario(ctx, direct, readers, false, client)

	cached := service.NewTimelineReader(timeline, aggregated,
		cache.NewEntityCache(content, client, 10*time.Minute, "bench"), feeds, pageSize)
	withCache := runScenario(ctx, cached, readers, true, client)

	fmt.Printf("\nAggregated tag timeline latency (%d req, page=%d, PostgreSQL + Redis)\n", requestCount, pageSize)
	for _, r := range []struct {
		name string
		res  scenarioResult
	}{{"No cache", noCache}, {"Entity cache", withCache}} {
		fmt.Printf("%-14s avg=%v p95=%v p99=%v cache_keys=%d mem=%s\n",
			r.name, avg(r.res.durations), pct(r.res.durations, 0.95), pct(r.res.durations, 0.99),
			r.res.cacheKeys, formatBytes(r.res.memoryBytes))
	}
}

func seed(db *gorm.DB) {
	rng := rand.New(rand.NewSource(1))
	base := time.Now().UTC()

	users := make([]model.User, authorCount)
	for i := range users {
		users[i] = model.User{ID: fmt.Sprintf("a%05d", i), Username: fmt.Sprintf("author_%d", i), Firstname: "Bench"}
	}
	mustDo(db.CreateInBatches(&users, 1000).Error)

	byTag := make(map[string][]string, tagCount)
	posts := make([]model.Post, postCount)
	links := make([]model.PostTag, 0, postCount*2)
	for i := range posts {
		id := fmt.Sprintf("p%06d", i)
		tags := []string{tagName(rng.Intn(tagCount)), tagName(rng.Intn(tagCount))}
		if tags[0] == tags[1] {
			tags = tags[:1]
		}
		created := base.Add(-time.Duration(postCount-i) * time.Minute)
		posts[i] = model.Post{
			ID: id, Author: users[rng.Intn(authorCount)].ID, Type: "article",
			Title: "Post " + id, Tags: tags, Created: created, Modified: created,
		}
		for _, tag := range tags {
			byTag[tag] = append(byTag[tag], id)
			links = append(links, model.PostTag{PostID: id, Tag: tag, Created: created})
		}
	}
	mustDo(db.CreateInBatches(&posts, 1000).Error)
	mustDo(db.CreateInBatches(&links, 1000).Error)

	rows := make([]model.AggregatedTagTimeline, 0, readerCount*tagsPerReader)
	for r := 0; r < readerCount; r++ {
		for _, t := range rng.Perm(tagCount)[:tagsPerReader] {
			tag := tagName(t)
			ids := byTag[tag]
			// 最新的在前，最多 6 篇
			latest := make([]string, 0, model.DefaultAggregateCap)
			for i := len(ids) - 1; i >= 0 && len(latest) < model.DefaultAggregateCap; i-- {
				latest = append(latest, ids[i])
			}
			modified := base.Add(-time.Duration(rng.Intn(72*60)) * time.Minute)
			rows = append(rows, model.AggregatedTagTimeline{
				Tag: tag, Follower: readerName(r), Modified: modified,
				Day: model.ClampToDay(modified), Posts: datatypes.JSONSlice[string](latest),
			})
		}
	}
	mustDo(db.CreateInBatches(&rows, 1000).Error)
}

type scenarioResult struct {
	durations   []time.Duration
	cacheKeys   int
	memoryBytes int64
}

func runScenario(ctx context.Context, reader *service.TimelineReader, readers []string, warm bool, client *redis.Client) scenarioResult {
	client.FlushAll(ctx)

	call := func(follower string) {
		if _, err := reader.LoadTagTimelines(ctx, follower, pageSize, time.Time{}); err != nil {
			panic(err)
		}
	}
	if warm {
		fmt.Print("  Warming cache...")
		for _, r := range readers {
			call(r)
		}
		fmt.Println(" done")
	}

	fmt.Print("  Running benchmark...")
	out := make([]time.Duration, 0, len(readers))
	for _, r := range readers {
		start := time.Now()
		call(r)
		out = append(out, time.Since(start))
	}
	fmt.Println(" done")

	keys, _ := client.Keys(ctx, "*").Result()
	var memBytes int64
	if info, err := client.Info(ctx, "memory").Result(); err == nil {
		memBytes = parseRedisMemory(info)
	}
	return scenarioResult{durations: out, cacheKeys: len(keys), memoryBytes: memBytes}
}

func makeRequests(n int) []string {
	rng := rand.New(rand.NewSource(2))
	out := make([]string, n)
	for i := range out {
		// 热点读者：80% 请求落在 20% 的用户上
		if rng.Float64() < 0.8 {
			out[i] = readerName(rng.Intn(readerCount / 5))
		} else {
			out[i] = readerName(rng.Intn(readerCount))
		}
	}
	return out
}

func tagName(i int) string    { return fmt.Sprintf("tag%02d", i) }
func readerName(i int) string { return fmt.Sprintf("r%05d", i) }

// parseRedisMemory 从 INFO memory 中取 used_memory
func parseRedisMemory(info string) int64 {
	for _, line := range strings.Split(info, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "used_memory:"); ok {
			var n int64
			fmt.Sscan(v, &n)
			return n
		}
	}
	return 0
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
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

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}
