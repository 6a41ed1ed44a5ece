package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore 保存在进程内存中的分区，进程退出即丢失；主要用于测试与临时运行。
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[string]*memoryNamespace
}

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{namespaces: make(map[string]*memoryNamespace)}
}

func (s *MemoryStore) Open(ctx context.Context, name string) (Namespace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.namespaces[name]
	if ns == nil {
		ns = &memoryNamespace{store: s, name: name, entries: make(map[string]*Response)}
		s.namespaces[name] = ns
	}
	return ns, nil
}

func (s *MemoryStore) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[name]
	if !ok {
		return false, nil
	}
	ns.mu.Lock()
	ns.deleted = true
	ns.entries = nil
	ns.mu.Unlock()
	delete(s.namespaces, name)
	return true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

type memoryNamespace struct {
	store *MemoryStore
	name  string

	mu      sync.RWMutex
	entries map[string]*Response
	deleted bool
}

func (n *memoryNamespace) Name() string {
	return n.name
}

func (n *memoryNamespace) Put(ctx context.Context, key Key, resp *Response) error {
	if err := key.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if resp == nil {
		return fmt.Errorf("cache response required")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.deleted {
		return fmt.Errorf("%w: %s", ErrNamespaceGone, n.name)
	}
	stored := resp.Clone()
	stored.Opaque = false
	n.entries[key.String()] = stored
	return nil
}

func (n *memoryNamespace) Match(ctx context.Context, key Key) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	resp, ok := n.entries[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return resp.Clone(), nil
}
