package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 键不存在或已过期
var ErrNotFound = errors.New("cache: key not found")

// Store 带 TTL 的键值存储接口
// 所有实现都必须在后端不可达时安全降级：读操作返回 ErrNotFound，
// 写操作退化为空操作，而不是向调用方抛出后端错误
type Store interface {
	// Enabled 能力开关，构造时决定一次
	Enabled() bool

	// Set 写入值并设置绝对过期时间
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get 读取未过期的值，未命中返回 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete 删除键
	Delete(ctx context.Context, key string) error

	// KeysWithPrefix 按前缀枚举键（管理用途）
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)

	// FlushAll 清空本存储命名空间下的所有键
	FlushAll(ctx context.Context) error

	// Stats 条目数与内存估算
	Stats(ctx context.Context) (*StoreStats, error)

	// Close 关闭连接
	Close() error
}

// StoreStats 存储统计
type StoreStats struct {
	Entries     int64 `json:"entries"`
	MemoryBytes int64 `json:"memory_bytes"`
}
