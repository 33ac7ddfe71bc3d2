package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/internal/testutil"
)

func seedTagPosts(t *testing.T, e *testEnv, tag string, n int) time.Time {
	t.Helper()
	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		testutil.SeedPost(t, e.db, fmt.Sprintf("p%d", i), "author", base.Add(time.Duration(i)*time.Hour), tag)
	}
	return base
}

func TestFollowTagPopulatesNewestFirst(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	seedTagPosts(t, e, "go", 10)

	res, err := e.tags.FollowTag(ctx, "go", "u1")
	require.NoError(t, err)
	require.NotNil(t, res.Edge)
	assert.Equal(t, "go", res.Edge.Followed)
	require.NoError(t, waitTask(t, res.Population))

	row, err := e.aggregated.Get(ctx, "go", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p10", "p9", "p8", "p7", "p6", "p5"}, []string(row.Posts))

	// population_size = 8
	assert.Equal(t, []string{"p10", "p9", "p8", "p7", "p6", "p5", "p4", "p3"}, e.flatPosts(t, "go", "u1"))
}

func TestFollowTagWithoutPostsCreatesEmptyAggregate(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	res, err := e.tags.FollowTag(ctx, "empty", "u1")
	require.NoError(t, err)
	require.NoError(t, waitTask(t, res.Population))

	row, err := e.aggregated.Get(ctx, "empty", "u1")
	require.NoError(t, err)
	assert.Empty(t, row.Posts)
}

func TestUnfollowTagDepopulates(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	seedTagPosts(t, e, "go", 3)

	res, err := e.tags.FollowTag(ctx, "go", "u1")
	require.NoError(t, err)
	require.NoError(t, waitTask(t, res.Population))

	un, err := e.tags.UnfollowTag(ctx, "go", "u1")
	require.NoError(t, err)
	assert.True(t, un.Success)
	require.NoError(t, waitTask(t, un.Depopulation))

	n, err := e.timeline.Count(ctx, "go", "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = e.aggregated.Get(ctx, "go", "u1")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	ok, err := e.followers.Exists(ctx, "go", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnfollowTagNeverFollowed(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	seedTagPosts(t, e, "go", 2)
	// 另一个用户的时间线不受影响
	res, err := e.tags.FollowTag(ctx, "go", "u2")
	require.NoError(t, err)
	require.NoError(t, waitTask(t, res.Population))

	un, err := e.tags.UnfollowTag(ctx, "go", "u1")
	require.NoError(t, err)
	assert.False(t, un.Success)
	assert.Nil(t, un.Depopulation)
	assert.Len(t, e.flatPosts(t, "go", "u2"), 2)
}

func TestFollowTags(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	results, err := e.tags.FollowTags(ctx, []string{"go", "rust", "zig"}, "u1")
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, tag := range []string{"go", "rust", "zig"} {
		assert.Equal(t, tag, results[i].Edge.Followed)
		require.NoError(t, waitTask(t, results[i].Population))
	}
	tags, err := e.followers.ListFollowedTags(ctx, "u1", 0, 10)
	require.NoError(t, err)
	assert.Len(t, tags, 3)
}

func TestMaybeEnqueueUpdateFiltersVerbsAndTags(t *testing.T) {
	e := newTestEnv(t)

	assert.Nil(t, e.tags.MaybeEnqueueUpdate("a1", model.ActivityBody{Verb: model.VerbFollow, Tags: []string{"go"}}))
	assert.Nil(t, e.tags.MaybeEnqueueUpdate("a2", model.ActivityBody{Verb: model.VerbPublish}))

	body := publishBody("p1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), "go")
	require.NoError(t, waitTask(t, e.tags.MaybeEnqueueUpdate("a3", body)))

	msgs := e.queue.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "a3", msgs[0].id)
	assert.Equal(t, "test_tagged_post_activity", msgs[0].topic)

	var got model.ActivityBody
	require.NoError(t, json.Unmarshal(msgs[0].payload, &got))
	assert.Equal(t, "post:p1", got.Object)
	assert.Equal(t, []string{"go"}, got.Tags)
}

func TestEnqueueFailureIsDeadLettered(t *testing.T) {
	e := newTestEnv(t)
	e.queue.err = errors.New("nats down")

	err := waitTask(t, e.tags.MaybeEnqueueUpdate("a1", publishBody("p1", time.Now(), "go")))
	require.Error(t, err)

	letters, err := e.deadLetters.List(context.Background(), "task", 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "enqueue_tag_update", letters[0].Task)
	assert.Equal(t, "a1", letters[0].Key)
}
