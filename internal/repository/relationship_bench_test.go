package repository_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/internal/repository"
	"github.com/d60-Lab/tagstream/internal/testutil"
)

func BenchmarkTagFollowWrite(b *testing.B) {
	db := testutil.NewDB(b)
	repo := repository.NewTagFollowerRepository(db)
	ctx := context.Background()

	tags := []string{"go", "rust", "zig", "ocaml", "elixir"}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = repo.Create(ctx, tags[rnd.Intn(len(tags))], fmt.Sprintf("u%04d", rnd.Intn(1000)))
	}
}

func BenchmarkStreamFollowers(b *testing.B) {
	db := testutil.NewDB(b)
	repo := repository.NewTagFollowerRepository(db)
	ctx := context.Background()

	// 构造：标签 go 有 N 个关注者
	const N = 5000
	for i := 0; i < N; i++ {
		_, _ = repo.Create(ctx, "go", fmt.Sprintf("u%05d", i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = repo.StreamFollowers(ctx, "go", 500, func([]*model.TagFollower) error { return nil })
	}
}

func BenchmarkAggregatedPush(b *testing.B) {
	db := testutil.NewDB(b)
	repo := repository.NewAggregatedTimelineRepository(db)
	ctx := context.Background()
	now := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = repo.PushPost(ctx, "go", fmt.Sprintf("u%03d", i%100), fmt.Sprintf("p%d", i), now, model.DefaultAggregateCap)
	}
}
