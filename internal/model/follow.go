package model

import (
	"time"
)

// TagFollower 关注标签（follower 关注 followed 标签）
type TagFollower struct {
	ID       string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Followed string    `gorm:"type:varchar(128);not null;index:idx_tag_follower_pair,unique;index:idx_tag_followed" json:"followed"`
	Follower string    `gorm:"type:varchar(36);not null;index:idx_tag_follower_pair,unique;index:idx_tag_follower" json:"follower"`
	// 复合唯一键，避免重复关注
	// idx_tag_follower_pair = (followed, follower)
	When time.Time `gorm:"column:followed_at;not null" json:"when"`
}

func (TagFollower) TableName() string { return "tag_followers" }

// UserFollower 关注用户，与外部动态流服务中的关注关系互为镜像
type UserFollower struct {
	ID       string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Followed string    `gorm:"type:varchar(36);not null;index:idx_user_follower_pair,unique;index:idx_user_followed" json:"followed"`
	Follower string    `gorm:"type:varchar(36);not null;index:idx_user_follower_pair,unique;index:idx_user_follower" json:"follower"`
	When     time.Time `gorm:"column:followed_at;not null" json:"when"`
}

func (UserFollower) TableName() string { return "user_followers" }
