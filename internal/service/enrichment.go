package service

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/d60-Lab/tagstream/internal/feed"
	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/internal/repository"
)

// EntityRef 外部 feed 中 "type:id" 形式的标识
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// SplitIdentifier 没有冒号视为用户 id；除 user 以外的类型一律按文章处理
func SplitIdentifier(identifier string) *EntityRef {
	if identifier == "" {
		return nil
	}
	kind, id, ok := strings.Cut(identifier, ":")
	if !ok || id == "" {
		return &EntityRef{Type: "user", ID: kind}
	}
	if kind != "user" {
		kind = "post"
	}
	return &EntityRef{Type: kind, ID: id}
}

type EnrichedActivity struct {
	ID        string     `json:"id"`
	Verb      string     `json:"verb"`
	ForeignID string     `json:"foreign_id,omitempty"`
	Time      time.Time  `json:"time"`
	Actor     *EntityRef `json:"actor"`
	Object    *EntityRef `json:"object"`
	Target    *EntityRef `json:"target,omitempty"`
	Origin    *EntityRef `json:"origin,omitempty"`
}

type EnrichedGroup struct {
	ID            string                `json:"id"`
	Verb          string                `json:"verb"`
	ActivityCount int                   `json:"activity_count"`
	ActorCount    int                   `json:"actor_count"`
	Actors        map[string]*EntityRef `json:"actors"`
	Activities    []EnrichedActivity    `json:"activities"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// EntityExtras 按 id 索引的补全实体
type EntityExtras struct {
	User map[string]*model.User `json:"user"`
	Post map[string]*model.Post `json:"post"`
}

func splitActivity(a feed.Activity) EnrichedActivity {
	return EnrichedActivity{
		ID:        a.ID,
		Verb:      a.Verb,
		ForeignID: a.ForeignID,
		Time:      a.Time,
		Actor:     SplitIdentifier(a.Actor),
		Object:    SplitIdentifier(a.Object),
		Target:    SplitIdentifier(a.Target),
		Origin:    SplitIdentifier(a.Origin),
	}
}

type entitySet struct {
	user map[string]struct{}
	post map[string]struct{}
}

func newEntitySet() *entitySet {
	return &entitySet{user: map[string]struct{}{}, post: map[string]struct{}{}}
}

func (s *entitySet) add(refs ...*EntityRef) {
	for _, r := range refs {
		if r == nil {
			continue
		}
		if r.Type == "user" {
			s.user[r.ID] = struct{}{}
		} else {
			s.post[r.ID] = struct{}{}
		}
	}
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// collectEntities 并发查用户与文章，找不到的直接省略
func collectEntities(ctx context.Context, content repository.ContentStore, set *entitySet) (EntityExtras, error) {
	extras := EntityExtras{User: map[string]*model.User{}, Post: map[string]*model.Post{}}
	var users []*model.User
	var posts []*model.Post

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = content.FindUsersByIDs(gctx, keys(set.user))
		return err
	})
	g.Go(func() error {
		var err error
		posts, err = content.FindPostsByIDs(gctx, keys(set.post))
		return err
	})
	if err := g.Wait(); err != nil {
		return extras, err
	}
	for _, u := range users {
		extras.User[u.ID] = u
	}
	for _, p := range posts {
		extras.Post[p.ID] = p
	}
	return extras, nil
}

// CollectActivityEntities 平铺 feed 的结果补全
func CollectActivityEntities(ctx context.Context, content repository.ContentStore, raw []feed.Activity) ([]EnrichedActivity, EntityExtras, error) {
	set := newEntitySet()
	out := make([]EnrichedActivity, 0, len(raw))
	for _, a := range raw {
		e := splitActivity(a)
		set.add(e.Actor, e.Object, e.Target, e.Origin)
		out = append(out, e)
	}
	extras, err := collectEntities(ctx, content, set)
	return out, extras, err
}

// CollectGroupedActivityEntities 聚合 feed 的结果补全，每组附带 actor 索引
func CollectGroupedActivityEntities(ctx context.Context, content repository.ContentStore, raw []feed.Group) ([]EnrichedGroup, EntityExtras, error) {
	set := newEntitySet()
	out := make([]EnrichedGroup, 0, len(raw))
	for _, g := range raw {
		eg := EnrichedGroup{
			ID:            g.ID,
			Verb:          g.Verb,
			ActivityCount: g.ActivityCount,
			ActorCount:    g.ActorCount,
			Actors:        map[string]*EntityRef{},
			Activities:    make([]EnrichedActivity, 0, len(g.Activities)),
			CreatedAt:     g.CreatedAt,
			UpdatedAt:     g.UpdatedAt,
		}
		for _, a := range g.Activities {
			e := splitActivity(a)
			set.add(e.Actor, e.Object, e.Target, e.Origin)
			if e.Actor != nil {
				eg.Actors[e.Actor.ID] = e.Actor
			}
			eg.Activities = append(eg.Activities, e)
		}
		out = append(out, eg)
	}
	extras, err := collectEntities(ctx, content, set)
	return out, extras, err
}

// PostExtras 标签时间线的补全：文章与作者
type PostExtras struct {
	Posts   map[string]*model.Post `json:"posts"`
	Authors map[string]*model.User `json:"authors"`
}

func collectPostsAndAuthors(ctx context.Context, content repository.ContentStore, postIDs []string) (PostExtras, error) {
	extras := PostExtras{Posts: map[string]*model.Post{}, Authors: map[string]*model.User{}}
	seen := map[string]struct{}{}
	ids := make([]string, 0, len(postIDs))
	for _, id := range postIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	posts, err := content.FindPostsByIDs(ctx, ids)
	if err != nil {
		return extras, err
	}
	authorSet := map[string]struct{}{}
	for _, p := range posts {
		extras.Posts[p.ID] = p
		if p.Author != "" {
			authorSet[p.Author] = struct{}{}
		}
	}
	users, err := content.FindUsersByIDs(ctx, keys(authorSet))
	if err != nil {
		return extras, err
	}
	for _, u := range users {
		extras.Authors[u.ID] = u
	}
	return extras, nil
}
