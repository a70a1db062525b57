package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// memoryItem 内存缓存项
type memoryItem struct {
	value      []byte
	expiration time.Time
}

// MemoryStore 进程内 TTL 存储实现
// 惰性过期：读取时发现过期即删除，不启动后台清理协程
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem

	// now 可注入时钟，便于测试过期行为
	now func() time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// Enabled 能力开关
func (s *MemoryStore) Enabled() bool { return true }

// Set 写入值并设置过期时间
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = memoryItem{
		value:      buf,
		expiration: s.now().Add(ttl),
	}
	return nil
}

// Get 读取未过期的值
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if s.now().After(item.expiration) {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	return item.value, nil
}

// Delete 删除键
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// KeysWithPrefix 按前缀枚举未过期的键
func (s *MemoryStore) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key, item := range s.items {
		if now.After(item.expiration) {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// FlushAll 清空所有键
func (s *MemoryStore) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]memoryItem)
	return nil
}

// Stats 条目数与内存估算
func (s *MemoryStore) Stats(ctx context.Context) (*StoreStats, error) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &StoreStats{}
	for key, item := range s.items {
		if now.After(item.expiration) {
			continue
		}
		stats.Entries++
		stats.MemoryBytes += int64(len(key) + len(item.value))
	}
	return stats, nil
}

// Close 无连接可关闭
func (s *MemoryStore) Close() error { return nil }

// SetClock 注入时钟（仅测试使用）
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
