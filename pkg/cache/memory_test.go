package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("Get = %q, want v1", got)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_LazyExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	s.SetClock(func() time.Time { return base })
	_ = s.Set(ctx, "k1", []byte("v1"), time.Minute)

	s.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	if _, err := s.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expiry miss, got %v", err)
	}

	// 过期键不出现在枚举与统计中
	_ = s.Set(ctx, "k2", []byte("v2"), time.Minute)
	s.SetClock(func() time.Time { return base.Add(5 * time.Minute) })
	keys, _ := s.KeysWithPrefix(ctx, "k")
	if len(keys) != 0 {
		t.Errorf("expired keys listed: %v", keys)
	}
	stats, _ := s.Stats(ctx)
	if stats.Entries != 0 {
		t.Errorf("expired entries counted: %d", stats.Entries)
	}
}

func TestMemoryStore_KeysWithPrefix(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Set(ctx, "conv:1", []byte("a"), time.Minute)
	_ = s.Set(ctx, "conv:2", []byte("b"), time.Minute)
	_ = s.Set(ctx, "tool:1", []byte("c"), time.Minute)

	keys, err := s.KeysWithPrefix(ctx, "conv:")
	if err != nil {
		t.Fatalf("KeysWithPrefix failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("keys = %v, want 2 conv keys", keys)
	}
}

func TestMemoryStore_DeleteAndFlush(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.Set(ctx, "k1", []byte("v1"), time.Minute)
	_ = s.Delete(ctx, "k1")
	if _, err := s.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected miss after delete, got %v", err)
	}

	_ = s.Set(ctx, "k2", []byte("v2"), time.Minute)
	_ = s.FlushAll(ctx)
	stats, _ := s.Stats(ctx)
	if stats.Entries != 0 {
		t.Errorf("entries after flush = %d, want 0", stats.Entries)
	}
}

func TestMemoryStore_ValueCopied(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	buf := []byte("original")
	_ = s.Set(ctx, "k1", buf, time.Minute)
	buf[0] = 'X'

	got, _ := s.Get(ctx, "k1")
	if string(got) != "original" {
		t.Errorf("stored value aliased caller buffer: %q", got)
	}
}
