package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/tagstream/internal/metrics"
	"github.com/d60-Lab/tagstream/internal/model"
	"github.com/d60-Lab/tagstream/internal/repository"
	"github.com/d60-Lab/tagstream/pkg/logger"
)

// EntityCache 在内容库前面加一层 Redis，缓存时间线补全用到的文章与作者投影。
// 按标签查文章不走缓存（结果随发布变化）。
type EntityCache struct {
	store  repository.ContentStore
	cache  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewEntityCache prefix 一般是租户名，避免不同租户的 key 冲突
func NewEntityCache(store repository.ContentStore, cache *redis.Client, ttl time.Duration, prefix string) *EntityCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &EntityCache{store: store, cache: cache, ttl: ttl, prefix: prefix}
}

var _ repository.ContentStore = (*EntityCache)(nil)

func (c *EntityCache) FindPostsByTag(ctx context.Context, tag string, limit int) ([]*model.Post, error) {
	return c.store.FindPostsByTag(ctx, tag, limit)
}

func (c *EntityCache) FindPostsByIDs(ctx context.Context, ids []string) ([]*model.Post, error) {
	return loadThrough(ctx, c, "post", ids, c.store.FindPostsByIDs, func(p *model.Post) string { return p.ID })
}

func (c *EntityCache) FindUsersByIDs(ctx context.Context, ids []string) ([]*model.User, error) {
	return loadThrough(ctx, c, "user", ids, c.store.FindUsersByIDs, func(u *model.User) string { return u.ID })
}

// Invalidate 内容服务修改实体后调用
func (c *EntityCache) Invalidate(ctx context.Context, kind string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(kind, id)
	}
	return c.cache.Del(ctx, keys...).Err()
}

func (c *EntityCache) key(kind, id string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, kind, id)
}

// loadThrough MGET 命中的直接用，未命中的批量回源并回写
func loadThrough[T any](
	ctx context.Context,
	c *EntityCache,
	kind string,
	ids []string,
	load func(context.Context, []string) ([]*T, error),
	idOf func(*T) string,
) ([]*T, error) {
	if len(ids) == 0 {
		return []*T{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(kind, id)
	}

	cached := make(map[string]*T, len(ids))
	if vals, err := c.cache.MGet(ctx, keys...).Result(); err == nil {
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var e T
			if uErr := json.Unmarshal([]byte(str), &e); uErr == nil {
				cached[ids[i]] = &e
			}
		}
	} else {
		// 缓存不可用时直接回源
		logger.Warn("entity cache mget failed", zap.String("kind", kind), zap.Error(err))
	}

	missing := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := cached[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		missing = append(missing, id)
	}
	metrics.EntityCacheHits.WithLabelValues(kind).Add(float64(len(ids) - len(missing)))
	metrics.EntityCacheMisses.WithLabelValues(kind).Add(float64(len(missing)))

	if len(missing) > 0 {
		loaded, err := load(ctx, missing)
		if err != nil {
			return nil, err
		}
		pipe := c.cache.Pipeline()
		for _, e := range loaded {
			id := idOf(e)
			cached[id] = e
			if payload, err := json.Marshal(e); err == nil {
				pipe.Set(ctx, c.key(kind, id), payload, c.ttl)
			}
		}
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Warn("entity cache fill failed", zap.String("kind", kind), zap.Error(err))
		}
	}

	result := make([]*T, 0, len(ids))
	emitted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		e, ok := cached[id]
		if !ok {
			continue
		}
		if _, dup := emitted[id]; dup {
			continue
		}
		emitted[id] = struct{}{}
		result = append(result, e)
	}
	return result, nil
}
