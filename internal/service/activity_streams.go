package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/tagstream/internal/feed"
	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/internal/repository"
	"github.com/d60-Lab/tagstream/pkg/logger"
)

var ErrForwardFailed = errors.New("forward activity to feed provider failed")

// ActivityStreams 发布管道 + 关注编排的入口
type ActivityStreams struct {
	activities    repository.ActivityRepository
	userFollowers repository.UserFollowerRepository
	feeds         feed.Client
	tags          *TagStreams
	now           func() time.Time
}

func NewActivityStreams(activities repository.ActivityRepository, userFollowers repository.UserFollowerRepository,
	feeds feed.Client, tags *TagStreams) *ActivityStreams {
	return &ActivityStreams{
		activities:    activities,
		userFollowers: userFollowers,
		feeds:         feeds,
		tags:          tags,
		now:           time.Now,
	}
}

// Tags 标签侧服务
func (s *ActivityStreams) Tags() *TagStreams { return s.tags }

// Record 只落本地日志，不转发到外部 feed；标签动态会异步入队扇出
func (s *ActivityStreams) Record(ctx context.Context, entityType model.EntityType, entityID string, body model.ActivityBody) (*model.Activity, error) {
	a, err := s.store(ctx, entityType, entityID, body)
	if err != nil {
		return nil, err
	}
	s.maybeEnqueue(a)
	return a, nil
}

// Publish 本地落库后转发到 (entityType, entityID) feed，foreign_id 为本地 id。
// 转发失败时本地记录保留，返回记录与包装了 ErrForwardFailed 的错误。
func (s *ActivityStreams) Publish(ctx context.Context, entityType model.EntityType, entityID string, body model.ActivityBody) (*model.Activity, error) {
	a, err := s.store(ctx, entityType, entityID, body)
	if err != nil {
		return nil, err
	}
	// 入队在转发之前，转发失败也不影响扇出
	s.maybeEnqueue(a)

	stored, err := a.Decode()
	if err != nil {
		return a, fmt.Errorf("%w: %w", ErrForwardFailed, err)
	}
	if _, err := s.feeds.Feed(string(entityType), entityID).AddActivity(ctx, toFeedActivity(a.ID, stored)); err != nil {
		return a, fmt.Errorf("%w: %w", ErrForwardFailed, err)
	}
	return a, nil
}

// Notify 写入用户的通知 feed
func (s *ActivityStreams) Notify(ctx context.Context, userID string, a feed.Activity) (*feed.Activity, error) {
	return s.feeds.Feed(feed.KindNotification, userID).AddActivity(ctx, a)
}

func (s *ActivityStreams) store(ctx context.Context, entityType model.EntityType, entityID string, body model.ActivityBody) (*model.Activity, error) {
	if body.Time.IsZero() {
		body.Time = s.now().UTC()
	}
	a, err := model.NewActivity(entityType, entityID, body)
	if err != nil {
		return nil, fmt.Errorf("encode activity: %w", err)
	}
	if err := s.activities.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("store activity: %w", err)
	}
	return a, nil
}

func (s *ActivityStreams) maybeEnqueue(a *model.Activity) {
	if s.tags == nil {
		return
	}
	body, err := a.Decode()
	if err != nil {
		logger.Warn("skip tag update enqueue: undecodable activity",
			zap.String("activity", a.ID), zap.Error(err))
		return
	}
	s.tags.MaybeEnqueueUpdate(a.ID, body)
}

func toFeedActivity(id string, b model.ActivityBody) feed.Activity {
	return feed.Activity{
		Actor:     b.Actor,
		Verb:      string(b.Verb),
		Object:    b.Object,
		ForeignID: id,
		Time:      b.Time,
		Tags:      b.Tags,
		To:        b.To,
	}
}

// FollowResult 按目标类型只填其中一个
type FollowResult struct {
	Tag  *FollowTagResult  `json:"tag,omitempty"`
	User *FollowUserResult `json:"user,omitempty"`
}

// Following 本地关注边是否已写入
func (r *FollowResult) Following() bool {
	switch {
	case r.Tag != nil:
		return r.Tag.Edge != nil
	case r.User != nil:
		return r.User.Success
	}
	return false
}

type UnfollowResult struct {
	Success bool                `json:"success"`
	Tag     *UnfollowTagResult  `json:"tag,omitempty"`
	User    *UnfollowUserResult `json:"user,omitempty"`
}

// Follow 按关注目标分发
func (s *ActivityStreams) Follow(ctx context.Context, target model.FollowTarget, follower string) (*FollowResult, error) {
	switch t := target.(type) {
	case model.TagTarget:
		r, err := s.tags.FollowTag(ctx, t.Name, follower)
		if err != nil {
			return nil, err
		}
		return &FollowResult{Tag: r}, nil
	case model.UserTarget:
		r, err := s.FollowUser(ctx, t.ID, follower)
		if err != nil {
			return nil, err
		}
		return &FollowResult{User: r}, nil
	}
	return nil, fmt.Errorf("%w: %T", model.ErrUnknownTargetKind, target)
}

func (s *ActivityStreams) Unfollow(ctx context.Context, target model.FollowTarget, follower string) (*UnfollowResult, error) {
	switch t := target.(type) {
	case model.TagTarget:
		r, err := s.tags.UnfollowTag(ctx, t.Name, follower)
		if err != nil {
			return nil, err
		}
		return &UnfollowResult{Success: r.Success, Tag: r}, nil
	case model.UserTarget:
		r, err := s.UnfollowUser(ctx, t.ID, follower)
		if err != nil {
			return nil, err
		}
		return &UnfollowResult{Success: r.Success, User: r}, nil
	}
	return nil, fmt.Errorf("%w: %T", model.ErrUnknownTargetKind, target)
}

// FollowEdge 关注状态，按被关注对象索引
type FollowEdge struct {
	Followed  string    `json:"_id"`
	Following bool      `json:"following"`
	When      time.Time `json:"when"`
}

// FollowEdges 在 entities 中找出 follower 已关注的对象，未关注的不返回
func (s *ActivityStreams) FollowEdges(ctx context.Context, kind model.EntityType, follower string, entities []string) ([]FollowEdge, error) {
	out := []FollowEdge{}
	switch kind {
	case model.EntityUser:
		found, err := s.userFollowers.FindFollowing(ctx, follower, entities)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			out = append(out, FollowEdge{Followed: f.Followed, Following: true, When: f.When})
		}
	case model.EntityTag:
		found, err := s.tags.followers.FindFollowing(ctx, follower, entities)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			out = append(out, FollowEdge{Followed: f.Followed, Following: true, When: f.When})
		}
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownTargetKind, kind)
	}
	return out, nil
}
