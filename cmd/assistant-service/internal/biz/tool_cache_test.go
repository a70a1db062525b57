package biz

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"chainassistant/pkg/cache"

	"github.com/go-kratos/kratos/v2/log"
)

func newTestToolCache(t *testing.T) (*ToolResultCache, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore()
	return NewToolResultCache(store, log.NewStdLogger(os.Stdout)), store
}

func TestToolTTLPolicy(t *testing.T) {
	testCases := []struct {
		tool     string
		expected time.Duration
	}{
		{"get_gas_price", 30 * time.Second},
		{"get_token_price", 30 * time.Second},
		{"get_balance", 60 * time.Second},
		{"get_token_balance", 60 * time.Second},
		{"get_transaction", 300 * time.Second},
		{"unknown_tool", 300 * time.Second},
	}
	for _, tc := range testCases {
		if got := ToolTTL(tc.tool); got != tc.expected {
			t.Errorf("ToolTTL(%s) = %v, want %v", tc.tool, got, tc.expected)
		}
	}
}

func TestToolKey_ParamOrderIndependent(t *testing.T) {
	a, err := toolKey("get_balance", map[string]interface{}{
		"address": "0xabc",
		"chain":   "ethereum",
		"block":   "latest",
	})
	if err != nil {
		t.Fatalf("toolKey failed: %v", err)
	}
	b, err := toolKey("get_balance", map[string]interface{}{
		"block":   "latest",
		"chain":   "ethereum",
		"address": "0xabc",
	})
	if err != nil {
		t.Fatalf("toolKey failed: %v", err)
	}
	if a != b {
		t.Errorf("equivalent params produced different keys:\n%s\n%s", a, b)
	}

	c, _ := toolKey("get_balance", map[string]interface{}{"address": "0xdef"})
	if a == c {
		t.Error("different params produced same key")
	}
}

func TestToolCache_RoundTrip(t *testing.T) {
	tc, _ := newTestToolCache(t)
	ctx := context.Background()

	params := map[string]interface{}{"address": "0xabc"}
	result := json.RawMessage(`{"amount": 1.5, "unit": "ETH"}`)

	if _, ok := tc.Lookup(ctx, "get_balance", params); ok {
		t.Fatal("unexpected hit before store")
	}

	tc.Store(ctx, "get_balance", params, result)

	got, ok := tc.Lookup(ctx, "get_balance", params)
	if !ok {
		t.Fatal("expected hit after store")
	}
	if string(got) != string(result) {
		t.Errorf("cached result mismatch: %s", got)
	}
}

func TestToolCache_ExpiredEntryMisses(t *testing.T) {
	tc, _ := newTestToolCache(t)
	ctx := context.Background()

	base := time.Now()
	tc.now = func() time.Time { return base }

	params := map[string]interface{}{"address": "0xabc"}
	tc.Store(ctx, "get_gas_price", params, json.RawMessage(`{"price": 20}`))

	// 30s 策略窗口之内命中
	tc.now = func() time.Time { return base.Add(20 * time.Second) }
	if _, ok := tc.Lookup(ctx, "get_gas_price", params); !ok {
		t.Fatal("expected hit within ttl")
	}

	// 窗口之外未命中
	tc.now = func() time.Time { return base.Add(31 * time.Second) }
	if _, ok := tc.Lookup(ctx, "get_gas_price", params); ok {
		t.Error("expected miss after ttl")
	}
}

func TestToolCache_CorruptEntryMisses(t *testing.T) {
	tc, store := newTestToolCache(t)
	ctx := context.Background()

	params := map[string]interface{}{"address": "0xabc"}
	key, _ := toolKey("get_balance", params)
	_ = store.Set(ctx, key, []byte("{broken"), time.Minute)

	if _, ok := tc.Lookup(ctx, "get_balance", params); ok {
		t.Error("corrupt entry should miss")
	}
}

func TestSummarizeToolResult(t *testing.T) {
	testCases := []struct {
		name     string
		tool     string
		result   string
		expected string
	}{
		{"余额摘要", "get_balance", `{"amount": 1.5, "unit": "ETH"}`, "1.5 ETH"},
		{"余额 symbol 回退", "get_token_balance", `{"amount": 100, "symbol": "USDC"}`, "100 USDC"},
		{"价格摘要", "get_gas_price", `{"price": 25, "unit": "gwei"}`, "25 gwei"},
		{"价格 currency 回退", "get_token_price", `{"price": 3000, "currency": "USD"}`, "3000 USD"},
		{"无单位仅数额", "get_balance", `{"amount": 2}`, "2"},
		{"未识别工具截断", "get_block", `{"number": 123}`, `{"number": 123}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SummarizeToolResult(tc.tool, json.RawMessage(tc.result)); got != tc.expected {
				t.Errorf("SummarizeToolResult = %q, want %q", got, tc.expected)
			}
		})
	}
}

func TestSummarizeToolResult_TruncatesLongPayload(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	got := SummarizeToolResult("get_block", json.RawMessage(long))
	if len(got) != 103 {
		t.Errorf("truncated length = %d, want 103", len(got))
	}
}

// failingStore 总是失败的存储，验证缓存故障不上抛
type failingStore struct {
	cache.Store
}

func (failingStore) Enabled() bool { return true }
func (failingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return context.DeadlineExceeded
}
func (failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, context.DeadlineExceeded
}
func (failingStore) Delete(ctx context.Context, key string) error { return nil }

func TestToolCache_StoreFailureTolerated(t *testing.T) {
	tc := NewToolResultCache(failingStore{}, log.NewStdLogger(os.Stdout))
	ctx := context.Background()

	params := map[string]interface{}{"address": "0xabc"}

	// Store 不返回错误，Lookup 降级为未命中
	tc.Store(ctx, "get_balance", params, json.RawMessage(`{}`))
	if _, ok := tc.Lookup(ctx, "get_balance", params); ok {
		t.Error("failing store should never hit")
	}
}
