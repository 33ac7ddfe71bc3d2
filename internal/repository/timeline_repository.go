package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/tagstream/internal/model"
)

// TagTimelineRepository 平铺标签时间线
type TagTimelineRepository interface {
	Upsert(ctx context.Context, tag, follower, post string) error
	InsertMany(ctx context.Context, entries []model.TagTimelineEntry) error
	DeleteByTagPost(ctx context.Context, tag, post string) (int64, error)
	DeleteByTagFollower(ctx context.Context, tag, follower string) (int64, error)
	// List 按 id 倒序分页，beforeID 为 0 时从最新开始
	List(ctx context.Context, tag, follower string, limit int, beforeID uint64) ([]*model.TagTimelineEntry, error)
	Count(ctx context.Context, tag, follower string) (int64, error)
}

type tagTimelineRepository struct {
	db *gorm.DB
}

func NewTagTimelineRepository(db *gorm.DB) TagTimelineRepository {
	return &tagTimelineRepository{db: db}
}

func (r *tagTimelineRepository) Upsert(ctx context.Context, tag, follower, post string) error {
	e := &model.TagTimelineEntry{Tag: tag, Follower: follower, Post: post}
	// (tag, follower, post) 唯一，重复投递直接忽略
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(e).Error
}

func (r *tagTimelineRepository) InsertMany(ctx context.Context, entries []model.TagTimelineEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&entries, 500).Error
}

func (r *tagTimelineRepository) DeleteByTagPost(ctx context.Context, tag, post string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("tag = ? AND post = ?", tag, post).
		Delete(&model.TagTimelineEntry{})
	return res.RowsAffected, res.Error
}

func (r *tagTimelineRepository) DeleteByTagFollower(ctx context.Context, tag, follower string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("tag = ? AND follower = ?", tag, follower).
		Delete(&model.TagTimelineEntry{})
	return res.RowsAffected, res.Error
}

func (r *tagTimelineRepository) List(ctx context.Context, tag, follower string, limit int, beforeID uint64) ([]*model.TagTimelineEntry, error) {
	q := r.db.WithContext(ctx).Where("tag = ? AND follower = ?", tag, follower)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var res []*model.TagTimelineEntry
	err := q.Order("id DESC").Limit(limit).Find(&res).Error
	return res, err
}

func (r *tagTimelineRepository) Count(ctx context.Context, tag, follower string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).
		Model(&model.TagTimelineEntry{}).
		Where("tag = ? AND follower = ?", tag, follower).
		Count(&cnt).Error
	return cnt, err
}
