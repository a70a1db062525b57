package biz

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"chainassistant/cmd/assistant-service/internal/domain"
	"chainassistant/pkg/cache"

	"github.com/go-kratos/kratos/v2/log"
)

func newTestContextCache(t *testing.T) (*ContextCacheUsecase, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore()
	uc := NewContextCacheUsecase(store, 30*time.Minute, log.NewStdLogger(os.Stdout))
	return uc, store
}

func TestContextCache_InitializeClassifiesIntent(t *testing.T) {
	uc, _ := newTestContextCache(t)
	ctx := context.Background()

	record, err := uc.Initialize(ctx, "conv-1", "user-1", "analyst", "what's the gas price right now")
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if record.CurrentIntent != domain.IntentGasAnalysis {
		t.Errorf("intent = %s, want %s", record.CurrentIntent, domain.IntentGasAnalysis)
	}

	loaded, err := uc.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Get after Initialize failed: %v", err)
	}
	if loaded.UserID != "user-1" || loaded.PersonalityID != "analyst" {
		t.Errorf("record fields not persisted: %+v", loaded)
	}
}

func TestContextCache_InitializeExtractsAddresses(t *testing.T) {
	uc, _ := newTestContextCache(t)
	ctx := context.Background()

	record, err := uc.Initialize(ctx, "conv-1", "user-1", "",
		"check 0x1111111111111111111111111111111111111111 balance")
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if len(record.ActiveAddresses) != 1 {
		t.Fatalf("expected 1 active address, got %d", len(record.ActiveAddresses))
	}
}

func TestContextCache_GetMissing(t *testing.T) {
	uc, _ := newTestContextCache(t)

	_, err := uc.Get(context.Background(), "nope")
	if !errors.Is(err, domain.ErrContextNotFound) {
		t.Errorf("expected ErrContextNotFound, got %v", err)
	}
}

func TestContextCache_LazyExpiry(t *testing.T) {
	store := cache.NewMemoryStore()
	uc := NewContextCacheUsecase(store, 30*time.Minute, log.NewStdLogger(os.Stdout))
	ctx := context.Background()

	base := time.Now()
	uc.now = func() time.Time { return base }

	if _, err := uc.Initialize(ctx, "conv-1", "user-1", "", "hello"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// TTL 内可读
	if _, err := uc.Get(ctx, "conv-1"); err != nil {
		t.Fatalf("Get within ttl failed: %v", err)
	}

	// 越过 TTL 后读取即过期删除
	uc.now = func() time.Time { return base.Add(31 * time.Minute) }
	if _, err := uc.Get(ctx, "conv-1"); !errors.Is(err, domain.ErrContextNotFound) {
		t.Errorf("expected expiry miss, got %v", err)
	}
}

func TestContextCache_CorruptPayloadDropped(t *testing.T) {
	uc, store := newTestContextCache(t)
	ctx := context.Background()

	_ = store.Set(ctx, "conv:conv-1", []byte("{not json"), time.Minute)
	if _, err := uc.Get(ctx, "conv-1"); !errors.Is(err, domain.ErrContextNotFound) {
		t.Fatalf("expected miss on corrupt payload, got %v", err)
	}
	// 损坏负载被清除
	if _, err := store.Get(ctx, "conv:conv-1"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("corrupt payload should be deleted")
	}
}

func TestContextCache_RecordToolUsageBounds(t *testing.T) {
	uc, _ := newTestContextCache(t)
	ctx := context.Background()

	if _, err := uc.Initialize(ctx, "conv-1", "user-1", "", "hello"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	for _, tool := range []string{"get_block", "resolve_ens", "get_balance", "get_gas_price"} {
		if err := uc.RecordToolUsage(ctx, "conv-1", tool, map[string]interface{}{}, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("RecordToolUsage(%s) failed: %v", tool, err)
		}
	}

	record, err := uc.Get(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(record.RecentToolCalls) != domain.MaxRecentToolCalls {
		t.Errorf("recent tool calls = %d, want %d", len(record.RecentToolCalls), domain.MaxRecentToolCalls)
	}
	// FIFO：最旧的 get_block 被挤出
	for _, call := range record.RecentToolCalls {
		if call.Tool == "get_block" {
			t.Errorf("oldest call should have been evicted")
		}
	}
	if record.TurnCount != 4 {
		t.Errorf("turn count = %d, want 4", record.TurnCount)
	}
}

func TestContextCache_ToolEntitiesAbsorbed(t *testing.T) {
	uc, _ := newTestContextCache(t)
	ctx := context.Background()

	if _, err := uc.Initialize(ctx, "conv-1", "user-1", "", "hello"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	params := map[string]interface{}{
		"address":      "0x1111111111111111111111111111111111111111",
		"tokenAddress": "0x2222222222222222222222222222222222222222",
		"txHash":       "0xdead",
	}
	if err := uc.RecordToolUsage(ctx, "conv-1", "get_token_balance", params, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("RecordToolUsage failed: %v", err)
	}

	record, _ := uc.Get(ctx, "conv-1")
	if len(record.ActiveAddresses) != 1 || len(record.ActiveTokens) != 1 || len(record.ActiveTransactions) != 1 {
		t.Errorf("entities not absorbed: addrs=%v tokens=%v txs=%v",
			record.ActiveAddresses, record.ActiveTokens, record.ActiveTransactions)
	}
}

func TestContextCache_IntentHysteresis(t *testing.T) {
	uc, _ := newTestContextCache(t)
	ctx := context.Background()

	// 初始意图 gas_analysis
	if _, err := uc.Initialize(ctx, "conv-1", "user-1", "", "gas prices?"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// 第一次 balance 调用不足以切换
	if err := uc.RecordToolUsage(ctx, "conv-1", "get_balance", nil, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("RecordToolUsage failed: %v", err)
	}
	record, _ := uc.Get(ctx, "conv-1")
	if record.CurrentIntent != domain.IntentGasAnalysis {
		t.Fatalf("single off-intent call switched intent: %s", record.CurrentIntent)
	}

	// 第二次同向调用达到阈值，意图切换
	if err := uc.RecordToolUsage(ctx, "conv-1", "get_token_balance", nil, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("RecordToolUsage failed: %v", err)
	}
	record, _ = uc.Get(ctx, "conv-1")
	if record.CurrentIntent != domain.IntentBalanceCheck {
		t.Errorf("intent = %s, want %s after 2 matching calls", record.CurrentIntent, domain.IntentBalanceCheck)
	}
}

func TestContextCache_RecordNewQueryIntentOverride(t *testing.T) {
	uc, _ := newTestContextCache(t)
	ctx := context.Background()

	if _, err := uc.Initialize(ctx, "conv-1", "user-1", "", "gas prices?"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// 通用类查询不覆盖当前意图
	if err := uc.RecordNewQuery(ctx, "conv-1", "thanks, one more thing"); err != nil {
		t.Fatalf("RecordNewQuery failed: %v", err)
	}
	record, _ := uc.Get(ctx, "conv-1")
	if record.CurrentIntent != domain.IntentGasAnalysis {
		t.Errorf("general query overrode intent: %s", record.CurrentIntent)
	}

	// 明确类别的查询覆盖意图
	if err := uc.RecordNewQuery(ctx, "conv-1", "now check my balance"); err != nil {
		t.Fatalf("RecordNewQuery failed: %v", err)
	}
	record, _ = uc.Get(ctx, "conv-1")
	if record.CurrentIntent != domain.IntentBalanceCheck {
		t.Errorf("intent = %s, want %s", record.CurrentIntent, domain.IntentBalanceCheck)
	}
}

func TestContextCache_AliasesStable(t *testing.T) {
	uc, _ := newTestContextCache(t)
	ctx := context.Background()

	addr1 := "0x1111111111111111111111111111111111111111"
	addr2 := "0x2222222222222222222222222222222222222222"

	if _, err := uc.Initialize(ctx, "conv-1", "user-1", "", "hello"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := uc.RecordNewQuery(ctx, "conv-1", "check "+addr1); err != nil {
		t.Fatalf("RecordNewQuery failed: %v", err)
	}
	record, _ := uc.Get(ctx, "conv-1")
	if record.EntityRefs[addr1] != "addr1" {
		t.Fatalf("first alias = %s, want addr1", record.EntityRefs[addr1])
	}

	if err := uc.RecordNewQuery(ctx, "conv-1", "and "+addr2+" and again "+addr1); err != nil {
		t.Fatalf("RecordNewQuery failed: %v", err)
	}
	record, _ = uc.Get(ctx, "conv-1")
	// 已分配的别名不变，新地址顺延编号
	if record.EntityRefs[addr1] != "addr1" || record.EntityRefs[addr2] != "addr2" {
		t.Errorf("aliases unstable: %v", record.EntityRefs)
	}
}

func TestContextCache_BuildOptimizedContext(t *testing.T) {
	uc, _ := newTestContextCache(t)
	ctx := context.Background()

	if _, err := uc.Initialize(ctx, "conv-1", "user-1", "trader", "gas prices?"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	optimized, err := uc.BuildOptimizedContext(ctx, "conv-1")
	if err != nil {
		t.Fatalf("BuildOptimizedContext failed: %v", err)
	}
	if optimized.CompressedText == "" {
		t.Error("compressed text empty")
	}
	if optimized.EstimatedTokens <= 0 {
		t.Error("estimated tokens not computed")
	}
	if len(optimized.RelevantTools) < domain.MinRelevantTools {
		t.Errorf("relevant tools = %d, want at least %d (diversity fill)",
			len(optimized.RelevantTools), domain.MinRelevantTools)
	}
	if len(optimized.RelevantTools) > domain.MaxRelevantTools {
		t.Errorf("relevant tools = %d, exceeds cap %d", len(optimized.RelevantTools), domain.MaxRelevantTools)
	}
}

func TestAssembleRelevantTools_CoreFirst(t *testing.T) {
	record := &domain.ConversationContext{CurrentIntent: domain.IntentGasAnalysis}
	tools := assembleRelevantTools(record)

	for i, core := range domain.CoreTools {
		if tools[i] != core {
			t.Fatalf("core tools not first: %v", tools[:3])
		}
	}
}

func TestAssembleRelevantTools_DiversityCap(t *testing.T) {
	record := &domain.ConversationContext{CurrentIntent: domain.IntentGeneralQuery}
	tools := assembleRelevantTools(record)

	if len(tools) < domain.MinRelevantTools {
		t.Errorf("diversity fill did not reach minimum: %d", len(tools))
	}
	if len(tools) > domain.MaxToolsWithDiversity {
		t.Errorf("diversity-filled set exceeds %d: %d", domain.MaxToolsWithDiversity, len(tools))
	}

	seen := map[string]bool{}
	for _, tool := range tools {
		if seen[tool] {
			t.Errorf("duplicate tool in set: %s", tool)
		}
		seen[tool] = true
	}
}

func TestContextCache_Clear(t *testing.T) {
	uc, _ := newTestContextCache(t)
	ctx := context.Background()

	if _, err := uc.Initialize(ctx, "conv-1", "user-1", "", "hello"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := uc.Clear(ctx, "conv-1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := uc.Get(ctx, "conv-1"); !errors.Is(err, domain.ErrContextNotFound) {
		t.Errorf("expected miss after clear, got %v", err)
	}
}

func TestEstimateTokens(t *testing.T) {
	testCases := []struct {
		text     string
		expected int
	}{
		{"", 0},
		{"one", 1},
		{"one two", 2},
		{"one two three four", 3},
		{"a b c d e f g h", 6},
	}
	for _, tc := range testCases {
		if got := estimateTokens(tc.text); got != tc.expected {
			t.Errorf("estimateTokens(%q) = %d, want %d", tc.text, got, tc.expected)
		}
	}
}
