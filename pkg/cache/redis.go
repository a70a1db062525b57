package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// RedisStore Redis TTL 存储实现
// 连接失败不向调用方传播：读降级为未命中，写降级为空操作
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	log       *log.Helper
}

// NewRedisStore 创建 Redis 存储
func NewRedisStore(client *redis.Client, keyPrefix string, logger log.Logger) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		log:       log.NewHelper(log.With(logger, "module", "cache/redis")),
	}
}

// Enabled 能力开关
func (s *RedisStore) Enabled() bool {
	return s.client != nil
}

// makeKey 生成带前缀的键
func (s *RedisStore) makeKey(key string) string {
	if s.keyPrefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", s.keyPrefix, key)
}

// Set 写入值并设置过期时间
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.client.Set(ctx, s.makeKey(key), value, ttl).Err(); err != nil {
		s.log.WithContext(ctx).Warnf("redis set degraded to no-op: key=%s err=%v", key, err)
	}
	return nil
}

// Get 读取未过期的值
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.Enabled() {
		return nil, ErrNotFound
	}
	data, err := s.client.Get(ctx, s.makeKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.log.WithContext(ctx).Warnf("redis get degraded to miss: key=%s err=%v", key, err)
		return nil, ErrNotFound
	}
	return data, nil
}

// Delete 删除键
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.client.Del(ctx, s.makeKey(key)).Err(); err != nil {
		s.log.WithContext(ctx).Warnf("redis del degraded to no-op: key=%s err=%v", key, err)
	}
	return nil
}

// KeysWithPrefix 按前缀枚举键，返回去除命名空间前缀后的键名
func (s *RedisStore) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	if !s.Enabled() {
		return nil, nil
	}
	pattern := s.makeKey(prefix) + "*"
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if s.keyPrefix != "" {
			key = key[len(s.keyPrefix)+1:]
		}
		keys = append(keys, key)
	}
	if err := iter.Err(); err != nil {
		s.log.WithContext(ctx).Warnf("redis scan degraded to empty: prefix=%s err=%v", prefix, err)
		return nil, nil
	}
	return keys, nil
}

// FlushAll 清空本命名空间下的所有键
func (s *RedisStore) FlushAll(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	keys, err := s.KeysWithPrefix(ctx, "")
	if err != nil || len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.makeKey(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		s.log.WithContext(ctx).Warnf("redis flush degraded to no-op: err=%v", err)
	}
	return nil
}

// Stats 条目数与内存估算（StrLen 避免传输值本身）
func (s *RedisStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{}
	if !s.Enabled() {
		return stats, nil
	}
	keys, err := s.KeysWithPrefix(ctx, "")
	if err != nil {
		return stats, nil
	}
	stats.Entries = int64(len(keys))
	for _, k := range keys {
		if n, err := s.client.StrLen(ctx, s.makeKey(k)).Result(); err == nil {
			stats.MemoryBytes += n
		}
	}
	return stats, nil
}

// Close 关闭连接
func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
