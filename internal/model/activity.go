package model

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/datatypes"
)

// Verb 动态动作
type Verb string

const (
	VerbPublish   Verb = "publish"
	VerbRepublish Verb = "republish"
	VerbUnpublish Verb = "unpublish"
	VerbFollow    Verb = "follow"
)

// IsTagUpdate 这些动作会触发标签时间线扇出
func (v Verb) IsTagUpdate() bool {
	switch v {
	case VerbPublish, VerbRepublish, VerbUnpublish:
		return true
	}
	return false
}

// Inserts publish/republish 会把文章插入关注者时间线，其余动作只做移除
func (v Verb) Inserts() bool { return v == VerbPublish || v == VerbRepublish }

// EntityType 动态归属的实体类型
type EntityType string

const (
	EntityUser  EntityType = "user"
	EntityGroup EntityType = "group"
	EntityTag   EntityType = "tag"
)

// ActivityBody 动态内容
//
// AddedTags / RemovedTags 不带 omitempty：nil 表示“未给出”，空切片表示“明确为空”。
type ActivityBody struct {
	Actor       string    `json:"actor" validate:"required"`
	Verb        Verb      `json:"verb" validate:"required"`
	Object      string    `json:"object" validate:"required"`
	Tags        []string  `json:"tags,omitempty"`
	AddedTags   []string  `json:"added_tags"`
	RemovedTags []string  `json:"removed_tags"`
	Time        time.Time `json:"time"`
	To          []string  `json:"to,omitempty"`
	ForeignID   string    `json:"foreign_id,omitempty"`
}

// AddedOrTags added_tags ?? tags
func (b ActivityBody) AddedOrTags() []string {
	if b.AddedTags != nil {
		return b.AddedTags
	}
	return b.Tags
}

// RemovedOrEmpty removed_tags ?? []
func (b ActivityBody) RemovedOrEmpty() []string {
	if b.RemovedTags != nil {
		return b.RemovedTags
	}
	return []string{}
}

// ObjectID 从 "post:123" 中取出 "123"；没有类型前缀时原样返回
func (b ActivityBody) ObjectID() string {
	if i := strings.IndexByte(b.Object, ':'); i >= 0 {
		return b.Object[i+1:]
	}
	return b.Object
}

// Activity 本地动态日志，只追加不修改
type Activity struct {
	ID         string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	EntityType EntityType     `gorm:"type:varchar(16);not null;index:idx_activity_entity" json:"entity_type"`
	EntityID   string         `gorm:"type:varchar(64);not null;index:idx_activity_entity" json:"entity_id"`
	Verb       Verb           `gorm:"type:varchar(16);index" json:"verb"`
	Body       datatypes.JSON `json:"activity"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

func (Activity) TableName() string { return "activities" }

// NewActivity 序列化动态内容；ID 由仓储层分配
func NewActivity(entityType EntityType, entityID string, body ActivityBody) (*Activity, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Activity{EntityType: entityType, EntityID: entityID, Verb: body.Verb, Body: datatypes.JSON(raw)}, nil
}

// Decode 反序列化动态内容
func (a *Activity) Decode() (ActivityBody, error) {
	var body ActivityBody
	if len(a.Body) == 0 {
		return body, nil
	}
	err := json.Unmarshal(a.Body, &body)
	return body, err
}
