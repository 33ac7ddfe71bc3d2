package service

import (
	"context"
	"fmt"
	"time"

	"github.com/d60-Lab/tagstream/internal/feed"
	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/internal/repository"
)

const DefaultTimelineLimit = 30

// TimelineKind 用户关注时间线的两种形态
type TimelineKind string

const (
	TimelineFlat       TimelineKind = "flat"
	TimelineAggregated TimelineKind = "aggregated"
)

// FeedKind 对应外部 feed 分组
func (k TimelineKind) FeedKind() string {
	if k == TimelineFlat {
		return feed.KindTimeline
	}
	return feed.KindTimelineAggregated
}

func ParseTimelineKind(s string) (TimelineKind, error) {
	switch TimelineKind(s) {
	case TimelineFlat, TimelineAggregated:
		return TimelineKind(s), nil
	}
	return "", fmt.Errorf("unknown timeline type %q", s)
}

type TagTimelinePage struct {
	Values []*model.TagTimelineEntry `json:"values"`
	Extra  PostExtras                `json:"extra"`
}

type TagTimelinesPage struct {
	Values []*model.AggregatedTagTimeline `json:"values"`
	Extra  PostExtras                     `json:"extra"`
}

// TimelinePage 平铺时 Activities 有值，聚合时 Groups 有值
type TimelinePage struct {
	Activities []EnrichedActivity `json:"activities,omitempty"`
	Groups     []EnrichedGroup    `json:"groups,omitempty"`
	Extra      EntityExtras       `json:"extra"`
}

// TimelineReader 只读
type TimelineReader struct {
	timeline     repository.TagTimelineRepository
	aggregated   repository.AggregatedTimelineRepository
	content      repository.ContentStore
	feeds        feed.Client
	defaultLimit int
}

func NewTimelineReader(timeline repository.TagTimelineRepository, aggregated repository.AggregatedTimelineRepository,
	content repository.ContentStore, feeds feed.Client, defaultLimit int) *TimelineReader {
	if defaultLimit <= 0 {
		defaultLimit = DefaultTimelineLimit
	}
	return &TimelineReader{
		timeline:     timeline,
		aggregated:   aggregated,
		content:      content,
		feeds:        feeds,
		defaultLimit: defaultLimit,
	}
}

func (r *TimelineReader) limit(n int) int {
	if n <= 0 {
		return r.defaultLimit
	}
	return n
}

// LoadTagTimeline 平铺标签时间线，before 为条目 id 游标
func (r *TimelineReader) LoadTagTimeline(ctx context.Context, tag, follower string, limit int, before uint64) (*TagTimelinePage, error) {
	entries, err := r.timeline.List(ctx, tag, follower, r.limit(limit), before)
	if err != nil {
		return nil, fmt.Errorf("load tag timeline: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Post)
	}
	extra, err := collectPostsAndAuthors(ctx, r.content, ids)
	if err != nil {
		return nil, fmt.Errorf("enrich tag timeline: %w", err)
	}
	return &TagTimelinePage{Values: entries, Extra: extra}, nil
}

// LoadTagTimelines 所有关注标签的聚合行，按 (day desc, tag desc)；before 为 modified 游标
func (r *TimelineReader) LoadTagTimelines(ctx context.Context, follower string, limit int, before time.Time) (*TagTimelinesPage, error) {
	rows, err := r.aggregated.ListByFollower(ctx, follower, r.limit(limit), before)
	if err != nil {
		return nil, fmt.Errorf("load tag timelines: %w", err)
	}
	var ids []string
	for _, row := range rows {
		ids = append(ids, row.Posts...)
	}
	extra, err := collectPostsAndAuthors(ctx, r.content, ids)
	if err != nil {
		return nil, fmt.Errorf("enrich tag timelines: %w", err)
	}
	return &TagTimelinesPage{Values: rows, Extra: extra}, nil
}

// LoadTimeline 用户关注时间线，数据来自外部 feed，before 为外部动态 id
func (r *TimelineReader) LoadTimeline(ctx context.Context, kind TimelineKind, feedID string, limit int, before string) (*TimelinePage, error) {
	page, err := r.feeds.Feed(kind.FeedKind(), feedID).Get(ctx, feed.GetOptions{Limit: r.limit(limit), IDLt: before})
	if err != nil {
		return nil, fmt.Errorf("load %s timeline: %w", kind, err)
	}

	out := &TimelinePage{}
	if kind == TimelineFlat {
		out.Activities, out.Extra, err = CollectActivityEntities(ctx, r.content, page.Activities)
	} else {
		out.Groups, out.Extra, err = CollectGroupedActivityEntities(ctx, r.content, page.Groups)
	}
	if err != nil {
		return nil, fmt.Errorf("enrich %s timeline: %w", kind, err)
	}
	return out, nil
}
