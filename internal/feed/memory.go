package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryClient 进程内实现：关注关系 + 读时合并，聚合 feed 按 verb+天 分组。本地运行与测试用。
type MemoryClient struct {
	mu         sync.RWMutex
	seq        uint64
	activities map[string][]storedActivity // feed id -> 自己发布的动态
	follows    map[string]map[string]bool  // feed id -> 被关注的 feed id
	errs       map[string]error            // 注入故障，key 为 op 或 op:feed
}

type storedActivity struct {
	seq uint64
	Activity
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		activities: make(map[string][]storedActivity),
		follows:    make(map[string]map[string]bool),
		errs:       make(map[string]error),
	}
}

func (m *MemoryClient) Feed(kind, id string) Feed {
	return &memoryFeed{m: m, kind: kind, id: id}
}

// FailOn 让后续 op（add_activity/follow/unfollow/get）失败，feedID 为空时对所有 feed 生效
func (m *MemoryClient) FailOn(op, feedID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := op
	if feedID != "" {
		key = op + ":" + feedID
	}
	if err == nil {
		delete(m.errs, key)
		return
	}
	m.errs[key] = err
}

// Following 返回 feed 关注的 feed id
func (m *MemoryClient) Following(feedID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.follows[feedID]))
	for id := range m.follows[feedID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Activities 返回直接写入该 feed 的动态（新的在前）
func (m *MemoryClient) Activities(feedID string) []Activity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	own := m.activities[feedID]
	out := make([]Activity, 0, len(own))
	for i := len(own) - 1; i >= 0; i-- {
		out = append(out, own[i].Activity)
	}
	return out
}

func (m *MemoryClient) failure(op, feedID string) error {
	if err, ok := m.errs[op+":"+feedID]; ok {
		return err
	}
	return m.errs[op]
}

type memoryFeed struct {
	m    *MemoryClient
	kind string
	id   string
}

func (f *memoryFeed) ID() string { return f.kind + ":" + f.id }

func (f *memoryFeed) AddActivity(ctx context.Context, a Activity) (*Activity, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.failure("add_activity", f.ID()); err != nil {
		return nil, err
	}
	f.m.seq++
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Time.IsZero() {
		a.Time = time.Now().UTC()
	}
	if a.Origin == "" {
		a.Origin = f.ID()
	}
	f.m.activities[f.ID()] = append(f.m.activities[f.ID()], storedActivity{seq: f.m.seq, Activity: a})
	return &a, nil
}

func (f *memoryFeed) Follow(ctx context.Context, kind, id string) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.failure("follow", f.ID()); err != nil {
		return err
	}
	if f.m.follows[f.ID()] == nil {
		f.m.follows[f.ID()] = make(map[string]bool)
	}
	f.m.follows[f.ID()][kind+":"+id] = true
	return nil
}

func (f *memoryFeed) Unfollow(ctx context.Context, kind, id string) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.failure("unfollow", f.ID()); err != nil {
		return err
	}
	delete(f.m.follows[f.ID()], kind+":"+id)
	return nil
}

// Get 合并自身与关注 feed 的动态，按写入顺序倒序；IDLt 为动态 id
func (f *memoryFeed) Get(ctx context.Context, opts GetOptions) (*Page, error) {
	f.m.mu.RLock()
	defer f.m.mu.RUnlock()
	if err := f.m.failure("get", f.ID()); err != nil {
		return nil, err
	}

	merged := append([]storedActivity(nil), f.m.activities[f.ID()]...)
	for src := range f.m.follows[f.ID()] {
		merged = append(merged, f.m.activities[src]...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].seq > merged[j].seq })

	if opts.IDLt != "" {
		for i, a := range merged {
			if a.ID == opts.IDLt {
				merged = merged[i+1:]
				break
			}
		}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 25
	}

	page := &Page{}
	if !IsAggregated(f.kind) {
		for _, a := range merged {
			if len(page.Activities) == limit {
				break
			}
			page.Activities = append(page.Activities, a.Activity)
		}
		return page, nil
	}

	index := map[string]int{}
	for _, a := range merged {
		key := fmt.Sprintf("%s_%s", a.Verb, a.Time.UTC().Format("2006-01-02"))
		i, ok := index[key]
		if !ok {
			if len(page.Groups) == limit {
				continue
			}
			i = len(page.Groups)
			index[key] = i
			page.Groups = append(page.Groups, Group{
				ID:        key,
				Group:     key,
				Verb:      a.Verb,
				CreatedAt: a.Time,
				UpdatedAt: a.Time,
			})
		}
		g := &page.Groups[i]
		g.Activities = append(g.Activities, a.Activity)
		g.ActivityCount++
		if a.Time.Before(g.CreatedAt) {
			g.CreatedAt = a.Time
		}
	}
	for i := range page.Groups {
		actors := map[string]struct{}{}
		for _, a := range page.Groups[i].Activities {
			actors[a.Actor] = struct{}{}
		}
		page.Groups[i].ActorCount = len(actors)
	}
	return page, nil
}
