package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/tagstream/internal/model"
)

// DeadLetterRepository 失败记录
type DeadLetterRepository interface {
	Record(ctx context.Context, d *model.DeadLetter) error
	List(ctx context.Context, source string, limit int) ([]*model.DeadLetter, error)
	Count(ctx context.Context, source string) (int64, error)
}

type deadLetterRepository struct {
	db *gorm.DB
}

func NewDeadLetterRepository(db *gorm.DB) DeadLetterRepository {
	return &deadLetterRepository{db: db}
}

func (r *deadLetterRepository) Record(ctx context.Context, d *model.DeadLetter) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *deadLetterRepository) List(ctx context.Context, source string, limit int) ([]*model.DeadLetter, error) {
	q := r.db.WithContext(ctx)
	if source != "" {
		q = q.Where("source = ?", source)
	}
	var res []*model.DeadLetter
	err := q.Order("created_at DESC").Limit(limit).Find(&res).Error
	return res, err
}

func (r *deadLetterRepository) Count(ctx context.Context, source string) (int64, error) {
	q := r.db.WithContext(ctx).Model(&model.DeadLetter{})
	if source != "" {
		q = q.Where("source = ?", source)
	}
	var cnt int64
	err := q.Count(&cnt).Error
	return cnt, err
}
