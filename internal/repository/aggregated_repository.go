package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/tagstream/internal/model"
)

// AggregatedTimelineRepository 聚合标签时间线，每个 (tag, follower) 一行，posts 有上限
type AggregatedTimelineRepository interface {
	// PushPost 把文章插到列表头部并截断到 limit，行不存在时创建
	PushPost(ctx context.Context, tag, follower, post string, at time.Time, limit int) error
	// Replace 用回填结果整体覆盖（关注时使用）
	Replace(ctx context.Context, tag, follower string, posts []string, at time.Time) error
	// PullPost 从该标签下所有聚合行里移除文章，返回被修改的行数
	PullPost(ctx context.Context, tag, post string) (int64, error)
	Delete(ctx context.Context, tag, follower string) (bool, error)
	Get(ctx context.Context, tag, follower string) (*model.AggregatedTagTimeline, error)
	// ListByFollower 按 (day desc, tag desc) 排序；before 非零时只取 modified 更早的行
	ListByFollower(ctx context.Context, follower string, limit int, before time.Time) ([]*model.AggregatedTagTimeline, error)
}

type aggregatedTimelineRepository struct {
	db        *gorm.DB
	scanBatch int
}

func NewAggregatedTimelineRepository(db *gorm.DB) AggregatedTimelineRepository {
	return &aggregatedTimelineRepository{db: db, scanBatch: 500}
}

func (r *aggregatedTimelineRepository) PushPost(ctx context.Context, tag, follower, post string, at time.Time, limit int) error {
	at = at.UTC()
	day := model.ClampToDay(at)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := &model.AggregatedTagTimeline{
			Tag: tag, Follower: follower, Modified: at, Day: day, Posts: datatypes.JSONSlice[string]{},
		}
		// 先占位，并发的首次写入不会因为唯一键冲突失败
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
			return err
		}
		var row model.AggregatedTagTimeline
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tag = ? AND follower = ?", tag, follower).
			First(&row).Error; err != nil {
			return err
		}
		posts := datatypes.JSONSlice[string](model.PushCapped(row.Posts, post, limit))
		return tx.Model(&model.AggregatedTagTimeline{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{"posts": posts, "modified": at, "day": day}).Error
	})
}

func (r *aggregatedTimelineRepository) Replace(ctx context.Context, tag, follower string, posts []string, at time.Time) error {
	at = at.UTC()
	row := &model.AggregatedTagTimeline{
		Tag:      tag,
		Follower: follower,
		Modified: at,
		Day:      model.ClampToDay(at),
		Posts:    datatypes.JSONSlice[string](append([]string{}, posts...)),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tag"}, {Name: "follower"}},
		DoUpdates: clause.AssignmentColumns([]string{"posts", "modified", "day"}),
	}).Create(row).Error
}

func (r *aggregatedTimelineRepository) PullPost(ctx context.Context, tag, post string) (int64, error) {
	// posts 是 JSON 列，各方言的包含查询写法不同，这里按标签分批扫描后在内存里判断
	var ids []uint64
	var batch []*model.AggregatedTagTimeline
	err := r.db.WithContext(ctx).
		Select("id", "posts").
		Where("tag = ?", tag).
		FindInBatches(&batch, r.scanBatch, func(tx *gorm.DB, n int) error {
			for _, row := range batch {
				if row.Contains(post) {
					ids = append(ids, row.ID)
				}
			}
			return nil
		}).Error
	if err != nil {
		return 0, err
	}

	var changed int64
	for _, id := range ids {
		ok, err := r.pullOne(ctx, id, post)
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

func (r *aggregatedTimelineRepository) pullOne(ctx context.Context, id uint64, post string) (bool, error) {
	changed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.AggregatedTagTimeline
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 期间被取消关注删除了
			return nil
		}
		if err != nil {
			return err
		}
		if !row.Contains(post) {
			return nil
		}
		changed = true
		posts := datatypes.JSONSlice[string](model.PullPost(row.Posts, post))
		return tx.Model(&model.AggregatedTagTimeline{}).Where("id = ?", id).Update("posts", posts).Error
	})
	return changed, err
}

func (r *aggregatedTimelineRepository) Delete(ctx context.Context, tag, follower string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("tag = ? AND follower = ?", tag, follower).
		Delete(&model.AggregatedTagTimeline{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *aggregatedTimelineRepository) Get(ctx context.Context, tag, follower string) (*model.AggregatedTagTimeline, error) {
	var row model.AggregatedTagTimeline
	if err := r.db.WithContext(ctx).Where("tag = ? AND follower = ?", tag, follower).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *aggregatedTimelineRepository) ListByFollower(ctx context.Context, follower string, limit int, before time.Time) ([]*model.AggregatedTagTimeline, error) {
	q := r.db.WithContext(ctx).Where("follower = ?", follower)
	if !before.IsZero() {
		q = q.Where("modified < ?", before.UTC())
	}
	var res []*model.AggregatedTagTimeline
	err := q.Order("day DESC").Order("tag DESC").Limit(limit).Find(&res).Error
	return res, err
}
