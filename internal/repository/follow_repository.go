package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/tagstream/internal/model"
)

// TagFollowerRepository 标签关注关系
type TagFollowerRepository interface {
	Create(ctx context.Context, tag, follower string) (*model.TagFollower, error)
	Delete(ctx context.Context, tag, follower string) (bool, error)
	Exists(ctx context.Context, tag, follower string) (bool, error)
	// StreamFollowers 分批遍历某个标签的全部关注者，fn 返回错误时停止
	StreamFollowers(ctx context.Context, tag string, batchSize int, fn func([]*model.TagFollower) error) error
	ListFollowedTags(ctx context.Context, follower string, offset, limit int) ([]*model.TagFollower, error)
	// FindFollowing 在给定标签中找出 follower 已关注的
	FindFollowing(ctx context.Context, follower string, tags []string) ([]*model.TagFollower, error)
}

type tagFollowerRepository struct {
	db *gorm.DB
}

func NewTagFollowerRepository(db *gorm.DB) TagFollowerRepository {
	return &tagFollowerRepository{db: db}
}

func (r *tagFollowerRepository) Create(ctx context.Context, tag, follower string) (*model.TagFollower, error) {
	f := &model.TagFollower{ID: uuid.New().String(), Followed: tag, Follower: follower, When: time.Now().UTC()}
	// 幂等：重复关注不报错，保留第一次关注的时间
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(f).Error; err != nil {
		return nil, err
	}
	var stored model.TagFollower
	if err := r.db.WithContext(ctx).
		Where("followed = ? AND follower = ?", tag, follower).
		First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *tagFollowerRepository) Delete(ctx context.Context, tag, follower string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("followed = ? AND follower = ?", tag, follower).
		Delete(&model.TagFollower{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *tagFollowerRepository) Exists(ctx context.Context, tag, follower string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.TagFollower{}).
		Where("followed = ? AND follower = ?", tag, follower).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *tagFollowerRepository) StreamFollowers(ctx context.Context, tag string, batchSize int, fn func([]*model.TagFollower) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}
	var batch []*model.TagFollower
	return r.db.WithContext(ctx).
		Where("followed = ?", tag).
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, n int) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(batch)
		}).Error
}

func (r *tagFollowerRepository) ListFollowedTags(ctx context.Context, follower string, offset, limit int) ([]*model.TagFollower, error) {
	var res []*model.TagFollower
	err := r.db.WithContext(ctx).
		Where("follower = ?", follower).
		Order("followed").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *tagFollowerRepository) FindFollowing(ctx context.Context, follower string, tags []string) ([]*model.TagFollower, error) {
	res := []*model.TagFollower{}
	if len(tags) == 0 {
		return res, nil
	}
	err := r.db.WithContext(ctx).
		Where("follower = ? AND followed IN ?", follower, tags).
		Order("followed").
		Find(&res).Error
	return res, err
}

// UserFollowerRepository 用户关注关系（本地副本）
type UserFollowerRepository interface {
	Create(ctx context.Context, user, follower string) (*model.UserFollower, error)
	Delete(ctx context.Context, user, follower string) (bool, error)
	Exists(ctx context.Context, user, follower string) (bool, error)
	ListFollowers(ctx context.Context, user string, offset, limit int) ([]*model.UserFollower, error)
	ListFollowing(ctx context.Context, follower string, offset, limit int) ([]*model.UserFollower, error)
	FindFollowing(ctx context.Context, follower string, users []string) ([]*model.UserFollower, error)
}

type userFollowerRepository struct {
	db *gorm.DB
}

func NewUserFollowerRepository(db *gorm.DB) UserFollowerRepository {
	return &userFollowerRepository{db: db}
}

func (r *userFollowerRepository) Create(ctx context.Context, user, follower string) (*model.UserFollower, error) {
	f := &model.UserFollower{ID: uuid.New().String(), Followed: user, Follower: follower, When: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(f).Error; err != nil {
		return nil, err
	}
	var stored model.UserFollower
	if err := r.db.WithContext(ctx).
		Where("followed = ? AND follower = ?", user, follower).
		First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *userFollowerRepository) Delete(ctx context.Context, user, follower string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("followed = ? AND follower = ?", user, follower).
		Delete(&model.UserFollower{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *userFollowerRepository) Exists(ctx context.Context, user, follower string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.UserFollower{}).
		Where("followed = ? AND follower = ?", user, follower).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *userFollowerRepository) ListFollowers(ctx context.Context, user string, offset, limit int) ([]*model.UserFollower, error) {
	var res []*model.UserFollower
	err := r.db.WithContext(ctx).Where("followed = ?", user).Order("followed_at DESC").Offset(offset).Limit(limit).Find(&res).Error
	return res, err
}

func (r *userFollowerRepository) ListFollowing(ctx context.Context, follower string, offset, limit int) ([]*model.UserFollower, error) {
	var res []*model.UserFollower
	err := r.db.WithContext(ctx).Where("follower = ?", follower).Order("followed_at DESC").Offset(offset).Limit(limit).Find(&res).Error
	return res, err
}

func (r *userFollowerRepository) FindFollowing(ctx context.Context, follower string, users []string) ([]*model.UserFollower, error) {
	res := []*model.UserFollower{}
	if len(users) == 0 {
		return res, nil
	}
	err := r.db.WithContext(ctx).
		Where("follower = ? AND followed IN ?", follower, users).
		Order("followed").
		Find(&res).Error
	return res, err
}
