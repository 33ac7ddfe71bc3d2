package model

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownTargetKind = errors.New("unknown follow target kind")

// FollowTarget 可被关注的对象：标签或用户
type FollowTarget interface {
	Kind() EntityType
	TargetID() string
	isFollowTarget()
}

// TagTarget 标签
type TagTarget struct{ Name string }

func (TagTarget) Kind() EntityType   { return EntityTag }
func (t TagTarget) TargetID() string { return t.Name }
func (TagTarget) isFollowTarget()    {}

// UserTarget 用户
type UserTarget struct{ ID string }

func (UserTarget) Kind() EntityType   { return EntityUser }
func (u UserTarget) TargetID() string { return u.ID }
func (UserTarget) isFollowTarget()    {}

// ParseFollowTarget 解析路由里的实体类型
func ParseFollowTarget(kind, id string) (FollowTarget, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("empty %s id", kind)
	}
	switch EntityType(kind) {
	case EntityTag:
		return TagTarget{Name: id}, nil
	case EntityUser:
		return UserTarget{ID: id}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTargetKind, kind)
}
