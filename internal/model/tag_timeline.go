package model

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// DefaultAggregateCap 聚合时间线每个标签保留的文章数
const DefaultAggregateCap = 6

// TagTimelineEntry 平铺标签时间线（按 follower + tag 切分）
type TagTimelineEntry struct {
	// 自增 ID 近似代表写入先后，用作分页游标
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Tag      string `gorm:"type:varchar(128);not null;uniqueIndex:ux_tag_timeline;index:idx_tag_timeline_tag_post,priority:1" json:"tag"`
	Follower string `gorm:"type:varchar(36);not null;uniqueIndex:ux_tag_timeline" json:"follower"`
	Post     string `gorm:"type:varchar(36);not null;uniqueIndex:ux_tag_timeline;index:idx_tag_timeline_tag_post,priority:2" json:"post"`
	// 复合唯一键 ux_tag_timeline = (tag, follower, post)，重复投递时保证幂等
}

func (TagTimelineEntry) TableName() string { return "tag_timeline" }

// AggregatedTagTimeline 聚合标签时间线，每个 (tag, follower) 一行
type AggregatedTagTimeline struct {
	ID       uint64                     `gorm:"primaryKey;autoIncrement" json:"id"`
	Tag      string                     `gorm:"type:varchar(128);not null;uniqueIndex:ux_agg_tag_follower;index:idx_agg_tag" json:"tag"`
	Follower string                     `gorm:"type:varchar(36);not null;uniqueIndex:ux_agg_tag_follower;index:idx_agg_follower_day,priority:1" json:"follower"`
	Modified time.Time                  `gorm:"not null" json:"modified"`
	Day      string                     `gorm:"type:varchar(8);not null;index:idx_agg_follower_day,priority:2" json:"day"`
	Posts    datatypes.JSONSlice[string] `json:"posts"`
}

func (AggregatedTagTimeline) TableName() string { return "aggregated_tag_timeline" }

// Contains 是否包含某篇文章
func (a *AggregatedTagTimeline) Contains(post string) bool {
	for _, p := range a.Posts {
		if p == post {
			return true
		}
	}
	return false
}

// ClampToDay 按 UTC 日期分桶，YYYYMMDD，可直接按字符串排序
func ClampToDay(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("%04d%02d%02d", u.Year(), int(u.Month()), u.Day())
}

// PushCapped 把 post 放到最前面并截断到 limit。
// 已存在的同一篇文章会先被移除，列表内不出现重复。
func PushCapped(posts []string, post string, limit int) []string {
	if limit < 1 {
		limit = DefaultAggregateCap
	}
	out := make([]string, 0, limit)
	out = append(out, post)
	for _, p := range posts {
		if len(out) >= limit {
			break
		}
		if p == post {
			continue
		}
		out = append(out, p)
	}
	return out
}

// PullPost 移除所有等于 post 的元素
func PullPost(posts []string, post string) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		if p != post {
			out = append(out, p)
		}
	}
	return out
}
