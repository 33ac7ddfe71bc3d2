package tenant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownTenant   = errors.New("unknown tenant")
	ErrDuplicateTenant = errors.New("tenant already registered")
)

// Registry 在 main 中构造后传给 HTTP 层，不使用全局变量
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*Services
}

func NewRegistry() *Registry {
	return &Registry{tenants: make(map[string]*Services)}
}

func (r *Registry) Register(name string, s *Services) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTenant, name)
	}
	r.tenants[name] = s
	return nil
}

func (r *Registry) Get(name string) (*Services, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.tenants[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTenant, name)
	}
	return s, nil
}

// Names 按名字排序
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tenants))
	for name := range r.tenants {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ForEach 按名字顺序遍历，fn 返回错误时停止
func (r *Registry) ForEach(fn func(name string, s *Services) error) error {
	for _, name := range r.Names() {
		s, err := r.Get(name)
		if err != nil {
			continue
		}
		if err := fn(name, s); err != nil {
			return err
		}
	}
	return nil
}

// Close 关闭所有租户并清空注册表
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	tenants := r.tenants
	r.tenants = make(map[string]*Services)
	r.mu.Unlock()

	var errs []error
	for name, s := range tenants {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close tenant %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
