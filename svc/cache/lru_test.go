package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"upldis/cfg"
	"upldis/svc/db"
)

func newTestLRU(t *testing.T, size int) *LRU {
	t.Helper()
	l, err := NewLRU(size, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestNewLRUBounds(t *testing.T) {
	if _, err := NewLRU(0, 1024); err == nil {
		t.Error("zero size should be rejected")
	}
	if _, err := NewLRU(maxLRUSize+1, 1024); err == nil {
		t.Error("oversized cache should be rejected")
	}
	if _, err := NewLRU(10, 0); err == nil {
		t.Error("zero byte budget should be rejected")
	}
}

func TestLRUByteBudgetEvictsOldest(t *testing.T) {
	l, err := NewLRU(1000, 100)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("file_%08d", i)
		if err := l.Insert(ctx, key, make([]byte, 40), time.Hour, "get"); err != nil {
			t.Fatal(err)
		}
		if l.Bytes() > 100 {
			t.Fatalf("after insert %d cache holds %d bytes, budget 100", i, l.Bytes())
		}
	}
	if l.Len() != 2 || l.Bytes() != 80 {
		t.Fatalf("len=%d bytes=%d, want 2 entries of 80 bytes", l.Len(), l.Bytes())
	}
	for i := 0; i < 3; i++ {
		if _, ok, _ := l.Lookup(ctx, fmt.Sprintf("file_%08d", i)); ok {
			t.Errorf("entry %d should have been evicted", i)
		}
	}
	for i := 3; i < 5; i++ {
		if _, ok, _ := l.Lookup(ctx, fmt.Sprintf("file_%08d", i)); !ok {
			t.Errorf("entry %d should still be cached", i)
		}
	}
	if n, _ := l.PurgeTag(ctx, "get"); n != 2 {
		t.Errorf("purged %d, evicted entries left in tag index", n)
	}
	if l.Bytes() != 0 {
		t.Errorf("bytes after purge = %d", l.Bytes())
	}
}

func TestLRUSkipsEntryLargerThanBudget(t *testing.T) {
	l, err := NewLRU(10, 100)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := l.Insert(ctx, "small", make([]byte, 50), time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := l.Insert(ctx, "huge", make([]byte, 101), time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := l.Lookup(ctx, "huge"); ok {
		t.Error("entry over the byte budget was cached")
	}
	if _, ok, _ := l.Lookup(ctx, "small"); !ok {
		t.Error("oversized insert should not evict existing entries")
	}
	if l.Bytes() != 50 {
		t.Errorf("bytes = %d, want 50", l.Bytes())
	}
}

func TestLRUOverwriteKeepsByteCount(t *testing.T) {
	l := newTestLRU(t, 10)
	ctx := context.Background()
	for _, n := range []int{10, 30, 20} {
		if err := l.Insert(ctx, "k", make([]byte, n), time.Hour); err != nil {
			t.Fatal(err)
		}
	}
	if l.Bytes() != 20 || l.Len() != 1 {
		t.Errorf("bytes=%d len=%d after overwrites, want 20 and 1", l.Bytes(), l.Len())
	}
}

func TestLRUHitMiss(t *testing.T) {
	l := newTestLRU(t, 10)
	ctx := context.Background()
	if _, ok, err := l.Lookup(ctx, "file_aaaaaaaa"); ok || err != nil {
		t.Fatalf("empty cache lookup = %v, %v", ok, err)
	}
	if err := l.Insert(ctx, "file_aaaaaaaa", []byte("cached bytes"), time.Hour, "get"); err != nil {
		t.Fatal(err)
	}
	data, ok, err := l.Lookup(ctx, "file_aaaaaaaa")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(data) != "cached bytes" {
		t.Errorf("data = %q", data)
	}
}

func TestLRUExpiry(t *testing.T) {
	l := newTestLRU(t, 10)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()
	if err := l.Insert(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	now = now.Add(59 * time.Second)
	if _, ok, _ := l.Lookup(ctx, "k"); !ok {
		t.Fatal("entry expired early")
	}
	now = now.Add(time.Second)
	if _, ok, _ := l.Lookup(ctx, "k"); ok {
		t.Fatal("entry served after its ttl")
	}
	if l.Len() != 0 {
		t.Errorf("expired entry not removed, len=%d", l.Len())
	}
}

func TestLRURejectsNonPositiveTTL(t *testing.T) {
	l := newTestLRU(t, 10)
	if err := l.Insert(context.Background(), "k", []byte("v"), 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestLRUPurgeTag(t *testing.T) {
	l := newTestLRU(t, 10)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := l.Insert(ctx, fmt.Sprintf("get_%d", i), []byte("x"), time.Hour, "get"); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Insert(ctx, "other", []byte("x"), time.Hour, "misc"); err != nil {
		t.Fatal(err)
	}
	n, err := l.PurgeTag(ctx, "get")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("purged %d, want 3", n)
	}
	if _, ok, _ := l.Lookup(ctx, "get_0"); ok {
		t.Error("purged entry still served")
	}
	if _, ok, _ := l.Lookup(ctx, "other"); !ok {
		t.Error("entry with a different tag was purged")
	}
	if n, _ := l.PurgeTag(ctx, "get"); n != 0 {
		t.Errorf("second purge removed %d entries", n)
	}
}

func TestLRUEvictionCleansTagIndex(t *testing.T) {
	l := newTestLRU(t, 2)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		if err := l.Insert(ctx, k, []byte(k), time.Hour, "get"); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(l.tags["get"]); got != 2 {
		t.Errorf("tag index holds %d keys, want 2 after eviction", got)
	}
	if _, ok, _ := l.Lookup(ctx, "a"); ok {
		t.Error("least recently used entry should have been evicted")
	}
}

func TestLRURetagOnOverwrite(t *testing.T) {
	l := newTestLRU(t, 4)
	ctx := context.Background()
	_ = l.Insert(ctx, "k", []byte("1"), time.Hour, "old")
	_ = l.Insert(ctx, "k", []byte("2"), time.Hour, "new")
	if n, _ := l.PurgeTag(ctx, "old"); n != 0 {
		t.Errorf("stale tag still purged %d entries", n)
	}
	if n, _ := l.PurgeTag(ctx, "new"); n != 1 {
		t.Errorf("current tag purged %d entries, want 1", n)
	}
}

func TestNop(t *testing.T) {
	var e Edge = Nop{}
	ctx := context.Background()
	if err := e.Insert(ctx, "k", []byte("v"), time.Hour, "get"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := e.Lookup(ctx, "k"); ok {
		t.Error("Nop edge must never hit")
	}
}

func TestRedisEdge(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	rdb, err := db.NewRedis(url, &cfg.Cfg{RedisTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer rdb.Close()
	e := NewRedis(rdb)
	suffix := fmt.Sprintf("%d:", time.Now().UnixNano())
	e.prefix += suffix
	e.tagPfx += suffix
	ctx := context.Background()
	if err := e.Insert(ctx, "file_redisedg", []byte("edge bytes"), time.Minute, "get"); err != nil {
		t.Fatal(err)
	}
	data, ok, err := e.Lookup(ctx, "file_redisedg")
	if err != nil || !ok || string(data) != "edge bytes" {
		t.Fatalf("Lookup = %q, %v, %v", data, ok, err)
	}
	n, err := e.PurgeTag(ctx, "get")
	if err != nil || n != 1 {
		t.Fatalf("PurgeTag = %d, %v", n, err)
	}
	if _, ok, _ := e.Lookup(ctx, "file_redisedg"); ok {
		t.Error("purged entry still present")
	}
}
