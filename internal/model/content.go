package model

import (
	"time"

	"gorm.io/datatypes"
)

// 以下是内容库的只读投影，草稿/文章的增删改由内容服务负责。

// Post 文章（仅时间线展示所需字段）
type Post struct {
	ID       string                     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Author   string                     `gorm:"type:varchar(36);index:idx_post_author" json:"author"`
	Type     string                     `gorm:"type:varchar(16)" json:"type"`
	Name     string                     `gorm:"type:varchar(255)" json:"name"`
	Title    string                     `gorm:"type:varchar(255)" json:"title"`
	Language string                     `gorm:"type:varchar(16)" json:"language"`
	Image    string                     `gorm:"type:varchar(512)" json:"image"`
	ReadTime int                        `json:"read_time"`
	Tags     datatypes.JSONSlice[string] `json:"tags"`
	Created  time.Time                  `gorm:"index" json:"created"`
	Modified time.Time                  `json:"modified"`
}

func (Post) TableName() string { return "posts" }

// PostTag 文章与标签的关联，按标签取最新文章用
type PostTag struct {
	PostID  string    `gorm:"primaryKey;type:varchar(36)"`
	Tag     string    `gorm:"primaryKey;type:varchar(128);index:idx_post_tag_created,priority:1"`
	Created time.Time `gorm:"index:idx_post_tag_created,priority:2"`
}

func (PostTag) TableName() string { return "post_tags" }

// User 作者信息投影
type User struct {
	ID        string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username  string `gorm:"type:varchar(64);uniqueIndex" json:"username"`
	Firstname string `gorm:"type:varchar(64)" json:"firstname"`
	Lastname  string `gorm:"type:varchar(64)" json:"lastname"`
	Avatar    string `gorm:"type:varchar(512)" json:"avatar"`
}

func (User) TableName() string { return "users" }
