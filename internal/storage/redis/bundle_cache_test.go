package redis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	xerrors "Behavior-Chain/internal/errors"
	"Behavior-Chain/internal/merkle"
	"Behavior-Chain/internal/pattern"
	"Behavior-Chain/internal/proofs"
	"Behavior-Chain/internal/symbol"
)

func sampleBundle(t *testing.T) *proofs.Bundle {
	t.Helper()
	actor := common.HexToAddress("0x00000000000000000000000000000000000000c3")
	events := make([]symbol.Symbol, 3)
	for i := range events {
		events[i] = symbol.MustNew("trade_executed",
			symbol.WithCausality(actor, 0, uint32(i)),
			symbol.WithResult(symbol.ResultProfit),
			symbol.WithMetadata([]byte{byte(i)}))
	}
	q := pattern.AgentQuery(pattern.AgentPattern{EventType: "trade_executed", ResultFilter: symbol.ResultProfit, MinCount: 3})
	b, err := proofs.Generate(merkle.NewCausalTree(events), q, time.Unix(1_700_000_000, 0))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return b
}

type fakeKV struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	failGet error
	closed  bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeKV) Get(_ context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return goredis.NewStringResult("", f.failGet)
	}
	v, ok := f.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeKV) Close() error {
	f.closed = true
	return nil
}

func TestRedisBundleCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	cache := newRedisBundleCache(kv, "", 0)
	b := sampleBundle(t)

	if err := cache.Put(ctx, b); err != nil {
		t.Fatalf("put: %v", err)
	}
	key := "behavior:bundle:" + b.ID.String()
	if kv.ttls[key] != 24*time.Hour {
		t.Fatalf("expected default ttl, got %s", kv.ttls[key])
	}
	got, err := cache.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != b.ID || got.Root != b.Root || len(got.Events) != 3 {
		t.Fatalf("unexpected bundle %+v", got)
	}
	if !proofs.Verify(got, time.Unix(1_700_000_000, 0)) {
		t.Fatalf("cached bundle must still verify")
	}

	if _, err := cache.Get(ctx, uuid.New()); !errors.Is(err, ErrBundleNotCached) {
		t.Fatalf("expected miss, got %v", err)
	}
	kv.failGet = errors.New("connection refused")
	if _, err := cache.Get(ctx, b.ID); xerrors.CodeOf(err) != xerrors.CodeCacheFailure {
		t.Fatalf("expected cache failure, got %v", err)
	}
	if err := cache.Close(); err != nil || !kv.closed {
		t.Fatalf("close must close the client")
	}
}

func TestRedisBundleCacheRejectsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	cache := newRedisBundleCache(kv, "p:", time.Minute)
	id := uuid.New()
	kv.data["p:"+id.String()] = "not snappy"

	if _, err := cache.Get(ctx, id); xerrors.CodeOf(err) != xerrors.CodeCacheFailure {
		t.Fatalf("expected cache failure, got %v", err)
	}
	if err := cache.Put(ctx, nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if got := cache.String(); got != "redis(prefix=p:, ttl=1m0s)" {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestLocalBundleCache(t *testing.T) {
	ctx := context.Background()
	cache := NewLocalBundleCache(0)
	defer cache.Close()
	b := sampleBundle(t)

	if _, err := cache.Get(ctx, b.ID); !errors.Is(err, ErrBundleNotCached) {
		t.Fatalf("expected miss, got %v", err)
	}
	if err := cache.Put(ctx, b); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := cache.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != b.ID || got.Query.String() != b.Query.String() {
		t.Fatalf("unexpected bundle %+v", got)
	}
	for i, proof := range got.Proofs {
		if proof.Event == nil || !proof.Event.Equal(b.Events[i]) {
			t.Fatalf("cached proof %d lost its event", i)
		}
	}
	if !proofs.Verify(got, time.Unix(1_700_000_000, 0)) {
		t.Fatalf("cached bundle must still verify: %v", proofs.Check(got, time.Unix(1_700_000_000, 0)))
	}
	if desc := cache.String(); !strings.HasPrefix(desc, "fastcache(entries=") || strings.Contains(desc, "entries=0,") {
		t.Fatalf("unexpected description %q", desc)
	}
}
