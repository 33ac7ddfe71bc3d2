package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/tagstream/internal/model"
)

// ActivityRepository 本地动态日志，只追加
type ActivityRepository interface {
	Create(ctx context.Context, a *model.Activity) error
	Get(ctx context.Context, id string) (*model.Activity, error)
	ListByEntity(ctx context.Context, entityType model.EntityType, entityID string, limit int) ([]*model.Activity, error)
}

type activityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &activityRepository{db: db}
}

// Create 分配 ID 后写入，ID 同时作为外部动态流的 foreign_id
func (r *activityRepository) Create(ctx context.Context, a *model.Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *activityRepository) Get(ctx context.Context, id string) (*model.Activity, error) {
	var a model.Activity
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *activityRepository) ListByEntity(ctx context.Context, entityType model.EntityType, entityID string, limit int) ([]*model.Activity, error) {
	var res []*model.Activity
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at DESC").
		Limit(limit).
		Find(&res).Error
	return res, err
}
