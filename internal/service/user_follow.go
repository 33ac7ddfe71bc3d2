package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/d60-Lab/tagstream/internal/feed"
	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/pkg/logger"
)

var ErrFollowSelf = errors.New("cannot follow self")

// FollowUserResult 各步骤独立成败，部分失败不回滚
type FollowUserResult struct {
	Success       bool                `json:"success"`
	Edge          *model.UserFollower `json:"record,omitempty"`
	Activity      *model.Activity     `json:"activity,omitempty"`
	Notification  *feed.Activity      `json:"notification,omitempty"`
	EdgeErr       error               `json:"-"`
	TimelineErr   error               `json:"-"`
	AggregatedErr error               `json:"-"`
	PublishErr    error               `json:"-"`
	NotifyErr     error               `json:"-"`
}

// Err 合并各步骤的错误
func (r *FollowUserResult) Err() error {
	return errors.Join(r.EdgeErr, r.TimelineErr, r.AggregatedErr, r.PublishErr, r.NotifyErr)
}

type UnfollowUserResult struct {
	Success       bool  `json:"success"`
	TimelineErr   error `json:"-"`
	AggregatedErr error `json:"-"`
}

func (r *UnfollowUserResult) Err() error {
	return errors.Join(r.TimelineErr, r.AggregatedErr)
}

// FollowUser 并发：本地关注边、两个时间线 feed 关注、发布 follow 动态；之后通知被关注者。
// 只有关注自己返回错误，其余步骤失败都记录在结果里，Success 表示本地关注边已写入。
func (s *ActivityStreams) FollowUser(ctx context.Context, user, follower string) (*FollowUserResult, error) {
	if user == follower {
		return nil, ErrFollowSelf
	}

	res := &FollowUserResult{}
	var wg conc.WaitGroup
	wg.Go(func() {
		res.Edge, res.EdgeErr = s.userFollowers.Create(ctx, user, follower)
	})
	wg.Go(func() {
		res.TimelineErr = s.feeds.Feed(feed.KindTimeline, follower).Follow(ctx, feed.KindUser, user)
	})
	wg.Go(func() {
		res.AggregatedErr = s.feeds.Feed(feed.KindTimelineAggregated, follower).Follow(ctx, feed.KindUser, user)
	})
	wg.Go(func() {
		res.Activity, res.PublishErr = s.Publish(ctx, model.EntityUser, follower, model.ActivityBody{
			Actor:  follower,
			Verb:   model.VerbFollow,
			Object: string(model.EntityUser) + ":" + user,
		})
	})
	wg.Wait()

	if res.EdgeErr != nil {
		res.EdgeErr = fmt.Errorf("follow user %s: %w", user, res.EdgeErr)
	}
	res.Success = res.EdgeErr == nil

	if res.Activity != nil {
		body, err := res.Activity.Decode()
		if err == nil {
			res.Notification, res.NotifyErr = s.Notify(ctx, user, toFeedActivity(res.Activity.ID, body))
		} else {
			res.NotifyErr = err
		}
	}
	if err := res.Err(); err != nil {
		logger.Warn("follow user partially failed",
			zap.String("user", user), zap.String("follower", follower), zap.Error(err))
	}
	return res, nil
}

// UnfollowUser 本地关注边存在时才去外部 feed 取消关注
func (s *ActivityStreams) UnfollowUser(ctx context.Context, user, follower string) (*UnfollowUserResult, error) {
	existed, err := s.userFollowers.Delete(ctx, user, follower)
	if err != nil {
		return nil, fmt.Errorf("unfollow user %s: %w", user, err)
	}
	if !existed {
		return &UnfollowUserResult{Success: false}, nil
	}

	res := &UnfollowUserResult{Success: true}
	var wg conc.WaitGroup
	wg.Go(func() {
		res.TimelineErr = s.feeds.Feed(feed.KindTimeline, follower).Unfollow(ctx, feed.KindUser, user)
	})
	wg.Go(func() {
		res.AggregatedErr = s.feeds.Feed(feed.KindTimelineAggregated, follower).Unfollow(ctx, feed.KindUser, user)
	})
	wg.Wait()

	if err := res.Err(); err != nil {
		logger.Warn("unfollow user partially failed",
			zap.String("user", user), zap.String("follower", follower), zap.Error(err))
	}
	return res, nil
}
