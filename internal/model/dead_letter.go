package model

import "time"

// DeadLetter 后台任务与队列消息的失败记录
type DeadLetter struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Source    string    `gorm:"type:varchar(16);index" json:"source"` // task, queue
	Task      string    `gorm:"type:varchar(64);index" json:"task"`
	Key       string    `gorm:"type:varchar(255)" json:"key"`
	Error     string    `gorm:"type:text" json:"error"`
	Payload   string    `gorm:"type:text" json:"payload"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (DeadLetter) TableName() string { return "dead_letters" }
