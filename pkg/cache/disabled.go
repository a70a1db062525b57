package cache

import (
	"context"
	"time"
)

// DisabledStore 未配置后端时的空实现
// 所有读返回未命中，所有写为空操作，调用方无需区分
type DisabledStore struct{}

// NewDisabledStore 创建空存储
func NewDisabledStore() *DisabledStore { return &DisabledStore{} }

func (*DisabledStore) Enabled() bool { return false }

func (*DisabledStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (*DisabledStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, ErrNotFound
}

func (*DisabledStore) Delete(ctx context.Context, key string) error { return nil }

func (*DisabledStore) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

func (*DisabledStore) FlushAll(ctx context.Context) error { return nil }

func (*DisabledStore) Stats(ctx context.Context) (*StoreStats, error) {
	return &StoreStats{}, nil
}

func (*DisabledStore) Close() error { return nil }
