// Package feed 外部动态流服务（feed 分组 + 关注关系 + 读取），用户之间的时间线和通知都在这里。
package feed

import (
	"context"
	"errors"
	"time"
)

// feed 分组
const (
	KindUser               = "user"
	KindTimeline           = "timeline"
	KindTimelineAggregated = "timeline_aggregated"
	KindNotification       = "notification"
)

var ErrUnavailable = errors.New("feed provider unavailable")

// Activity 写入外部 feed 的动态
type Activity struct {
	ID        string    `json:"id,omitempty"`
	Actor     string    `json:"actor"`
	Verb      string    `json:"verb"`
	Object    string    `json:"object"`
	Target    string    `json:"target,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	ForeignID string    `json:"foreign_id,omitempty"`
	Time      time.Time `json:"time,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	To        []string  `json:"to,omitempty"`
}

// Group 聚合 feed 的一组动态（同一 verb 同一天）
type Group struct {
	ID            string     `json:"id"`
	Group         string     `json:"group"`
	Verb          string     `json:"verb"`
	ActivityCount int        `json:"activity_count"`
	ActorCount    int        `json:"actor_count"`
	Activities    []Activity `json:"activities"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type GetOptions struct {
	Limit int
	IDLt  string
}

// Page 平铺 feed 填 Activities，聚合 feed 填 Groups
type Page struct {
	Activities []Activity `json:"-"`
	Groups     []Group    `json:"-"`
	Next       string     `json:"next,omitempty"`
}

type Feed interface {
	// ID 形如 timeline:u1
	ID() string
	AddActivity(ctx context.Context, a Activity) (*Activity, error)
	Follow(ctx context.Context, kind, id string) error
	Unfollow(ctx context.Context, kind, id string) error
	Get(ctx context.Context, opts GetOptions) (*Page, error)
}

type Client interface {
	Feed(kind, id string) Feed
}

// IsAggregated 返回该分组读出来是否为聚合结构
func IsAggregated(kind string) bool {
	return kind == KindTimelineAggregated || kind == KindNotification
}
