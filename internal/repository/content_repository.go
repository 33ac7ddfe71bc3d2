package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/d60-Lab/tagstream/internal/model"
)

// ContentStore 内容库只读契约（文章、作者）
type ContentStore interface {
	// FindPostsByTag 按创建时间倒序取带该标签的文章
	FindPostsByTag(ctx context.Context, tag string, limit int) ([]*model.Post, error)
	FindPostsByIDs(ctx context.Context, ids []string) ([]*model.Post, error)
	FindUsersByIDs(ctx context.Context, ids []string) ([]*model.User, error)
}

type contentRepository struct {
	db *gorm.DB
}

func NewContentRepository(db *gorm.DB) ContentStore {
	return &contentRepository{db: db}
}

func (r *contentRepository) FindPostsByTag(ctx context.Context, tag string, limit int) ([]*model.Post, error) {
	var res []*model.Post
	err := r.db.WithContext(ctx).
		Table("posts").
		Select("posts.*").
		Joins("JOIN post_tags ON post_tags.post_id = posts.id").
		Where("post_tags.tag = ?", tag).
		Order("posts.created DESC").
		Order("posts.id DESC").
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *contentRepository) FindPostsByIDs(ctx context.Context, ids []string) ([]*model.Post, error) {
	if len(ids) == 0 {
		return []*model.Post{}, nil
	}
	var res []*model.Post
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&res).Error
	return res, err
}

func (r *contentRepository) FindUsersByIDs(ctx context.Context, ids []string) ([]*model.User, error) {
	if len(ids) == 0 {
		return []*model.User{}, nil
	}
	var res []*model.User
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&res).Error
	return res, err
}

// SavePost 写入文章及其标签关联；仅供种子数据与基准使用，正式写入由内容服务完成
func SavePost(ctx context.Context, db *gorm.DB, p *model.Post) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(p).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", p.ID).Delete(&model.PostTag{}).Error; err != nil {
			return err
		}
		if len(p.Tags) == 0 {
			return nil
		}
		rows := make([]model.PostTag, 0, len(p.Tags))
		for _, t := range p.Tags {
			rows = append(rows, model.PostTag{PostID: p.ID, Tag: t, Created: p.Created})
		}
		return tx.Create(&rows).Error
	})
}
