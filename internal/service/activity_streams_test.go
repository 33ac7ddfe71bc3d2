package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/datatypes"

	"github.com/d60-Lab/tagstream/internal/feed"
	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/internal/repository"
	"github.com/d60-Lab/tagstream/internal/testutil"
	"github.com/d60-Lab/tagstream/pkg/logger"
)

func waitQueued(t *testing.T, e *testEnv, n int) []queued {
	t.Helper()
	require.Eventually(t, func() bool { return len(e.queue.all()) >= n }, 5*time.Second, 5*time.Millisecond)
	return e.queue.all()
}

func TestPublishStoresForwardsAndEnqueues(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	a, err := e.streams.Publish(ctx, model.EntityUser, "author", publishBody("p1", at, "go"))
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)

	stored, err := e.activities.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VerbPublish, stored.Verb)

	forwarded := e.feeds.Activities("user:author")
	require.Len(t, forwarded, 1)
	assert.Equal(t, a.ID, forwarded[0].ForeignID)
	assert.Equal(t, "post:p1", forwarded[0].Object)

	msgs := waitQueued(t, e, 1)
	assert.Equal(t, a.ID, msgs[0].id)
}

func TestPublishDefaultsTime(t *testing.T) {
	e := newTestEnv(t)
	fixed := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	e.streams.now = func() time.Time { return fixed }

	a, err := e.streams.Publish(context.Background(), model.EntityUser, "author",
		model.ActivityBody{Actor: "author", Verb: model.VerbFollow, Object: "user:x"})
	require.NoError(t, err)
	body, err := a.Decode()
	require.NoError(t, err)
	assert.True(t, body.Time.Equal(fixed))
}

// 转发失败：本地记录保留，扇出照常入队
func TestPublishForwardFailureKeepsLocalRow(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.feeds.FailOn("add_activity", "", errors.New("provider down"))

	a, err := e.streams.Publish(ctx, model.EntityUser, "author", publishBody("p1", time.Now().UTC(), "go"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForwardFailed)
	require.NotNil(t, a)

	_, err = e.activities.Get(ctx, a.ID)
	require.NoError(t, err)
	waitQueued(t, e, 1)
}

func TestRecordDoesNotForward(t *testing.T) {
	e := newTestEnv(t)
	a, err := e.streams.Record(context.Background(), model.EntityTag, "go", publishBody("p1", time.Now().UTC(), "go"))
	require.NoError(t, err)
	assert.Empty(t, e.feeds.Activities("tag:go"))
	msgs := waitQueued(t, e, 1)
	assert.Equal(t, a.ID, msgs[0].id)
}

// 关注 rust 后发布带 rust、go 标签的文章，只进入 rust 时间线
func TestTagFollowEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	testutil.SeedUser(t, e.db, "author")
	at := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	testutil.SeedPost(t, e.db, "p1", "author", at, "rust", "go")

	res, err := e.streams.Follow(ctx, model.TagTarget{Name: "rust"}, "u1")
	require.NoError(t, err)
	require.NotNil(t, res.Tag)
	assert.Nil(t, res.User)
	require.NoError(t, waitTask(t, res.Tag.Population))

	// 回填已经带上了 p1，重复投递不会产生重复行
	_, err = e.streams.Publish(ctx, model.EntityUser, "author", publishBody("p1", at, "rust", "go"))
	require.NoError(t, err)
	waitQueued(t, e, 1)
	e.deliver(t)
	e.deliver(t)

	assert.Equal(t, []string{"p1"}, e.flatPosts(t, "rust", "u1"))
	assert.Empty(t, e.flatPosts(t, "go", "u1"))

	page, err := e.reader.LoadTagTimelines(ctx, "u1", 0, time.Time{})
	require.NoError(t, err)
	require.Len(t, page.Values, 1)
	assert.Equal(t, "rust", page.Values[0].Tag)
	assert.Equal(t, "20240603", page.Values[0].Day)
	assert.Equal(t, []string{"p1"}, []string(page.Values[0].Posts))
	assert.Contains(t, page.Extra.Posts, "p1")
	assert.Contains(t, page.Extra.Authors, "author")

	un, err := e.streams.Unfollow(ctx, model.TagTarget{Name: "rust"}, "u1")
	require.NoError(t, err)
	assert.True(t, un.Success)
	require.NoError(t, waitTask(t, un.Tag.Depopulation))
	assert.Empty(t, e.flatPosts(t, "rust", "u1"))
}

func TestFollowUser(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.streams.FollowUser(ctx, "u1", "u1")
	assert.ErrorIs(t, err, ErrFollowSelf)

	res, err := e.streams.FollowUser(ctx, "author", "u1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NoError(t, res.Err())
	require.NotNil(t, res.Edge)
	assert.Equal(t, "author", res.Edge.Followed)

	assert.Equal(t, []string{"user:author"}, e.feeds.Following("timeline:u1"))
	assert.Equal(t, []string{"user:author"}, e.feeds.Following("timeline_aggregated:u1"))

	require.NotNil(t, res.Activity)
	assert.Equal(t, model.EntityUser, res.Activity.EntityType)
	assert.Equal(t, "u1", res.Activity.EntityID)
	body, err := res.Activity.Decode()
	require.NoError(t, err)
	assert.Equal(t, model.VerbFollow, body.Verb)
	assert.Equal(t, "user:author", body.Object)

	notes := e.feeds.Activities("notification:author")
	require.Len(t, notes, 1)
	assert.Equal(t, res.Activity.ID, notes[0].ForeignID)

	// follow 动态不触发扇出
	assert.Empty(t, e.queue.all())
}

func TestFollowUserPartialFailure(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.feeds.FailOn("follow", "timeline_aggregated:u2", errors.New("timeout"))

	res, err := e.streams.FollowUser(ctx, "author", "u2")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NoError(t, res.TimelineErr)
	assert.Error(t, res.AggregatedErr)
	assert.Error(t, res.Err())

	ok, err := e.users.Exists(ctx, "author", "u2")
	require.NoError(t, err)
	assert.True(t, ok)
}

// brokenUserFollowers 写关注边总是失败
type brokenUserFollowers struct {
	repository.UserFollowerRepository
	err error
}

func (r brokenUserFollowers) Create(context.Context, string, string) (*model.UserFollower, error) {
	return nil, r.err
}

func TestFollowUserEdgeFailureStillReported(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	dbDown := errors.New("db down")
	streams := NewActivityStreams(e.activities, brokenUserFollowers{UserFollowerRepository: e.users, err: dbDown}, e.feeds, e.tags)

	res, err := streams.FollowUser(ctx, "author", "u1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Nil(t, res.Edge)
	assert.ErrorIs(t, res.EdgeErr, dbDown)
	assert.ErrorIs(t, res.Err(), dbDown)

	// 外部 feed 与 follow 动态不回滚，通知照常发出
	assert.Equal(t, []string{"user:author"}, e.feeds.Following("timeline:u1"))
	require.NotNil(t, res.Activity)
	assert.Len(t, e.feeds.Activities("notification:author"), 1)

	follow, err := streams.Follow(ctx, model.UserTarget{ID: "author"}, "u1")
	require.NoError(t, err)
	assert.False(t, follow.Following())

	_, err = streams.FollowUser(ctx, "u1", "u1")
	assert.ErrorIs(t, err, ErrFollowSelf)
}

func TestUnfollowUser(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	un, err := e.streams.UnfollowUser(ctx, "author", "u1")
	require.NoError(t, err)
	assert.False(t, un.Success)

	_, err = e.streams.Follow(ctx, model.UserTarget{ID: "author"}, "u1")
	require.NoError(t, err)

	res, err := e.streams.Unfollow(ctx, model.UserTarget{ID: "author"}, "u1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.User)
	assert.Empty(t, e.feeds.Following("timeline:u1"))
	assert.Empty(t, e.feeds.Following("timeline_aggregated:u1"))
}

func TestNotify(t *testing.T) {
	e := newTestEnv(t)
	got, err := e.streams.Notify(context.Background(), "u1", feed.Activity{Actor: "author", Verb: "mention", Object: "post:p1"})
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Len(t, e.feeds.Activities("notification:u1"), 1)
}

func TestFollowEdges(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	e.follow(t, "go", "u1")
	e.follow(t, "rust", "u1")
	_, err := e.users.Create(ctx, "author", "u1")
	require.NoError(t, err)

	tags, err := e.streams.FollowEdges(ctx, model.EntityTag, "u1", []string{"go", "rust", "zig"})
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "go", tags[0].Followed)
	assert.True(t, tags[0].Following)
	assert.False(t, tags[0].When.IsZero())

	users, err := e.streams.FollowEdges(ctx, model.EntityUser, "u1", []string{"author"})
	require.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = e.streams.FollowEdges(ctx, model.EntityGroup, "u1", []string{"g"})
	assert.ErrorIs(t, err, model.ErrUnknownTargetKind)
}

func TestUndecodableActivityIsLoggedNotEnqueued(t *testing.T) {
	e := newTestEnv(t)
	core, logs := observer.New(zap.WarnLevel)
	prev := logger.L()
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(prev) })

	e.streams.maybeEnqueue(&model.Activity{ID: "broken", Verb: model.VerbPublish, Body: datatypes.JSON("{not json")})

	assert.Empty(t, e.queue.all())
	entries := logs.FilterField(zap.String("activity", "broken")).All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "undecodable activity")
}
