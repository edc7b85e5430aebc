package svc

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"upldis/cfg"
	"upldis/pkg/domain"
	"upldis/svc/cache"
	"upldis/svc/db"
	"upldis/svc/util"
)

// countingStore records every call so tests can assert that a path never
// reached storage.
type countingStore struct {
	db.Store
	calls     atomic.Int64
	lookupErr error
	insertErr error
}

func (c *countingStore) Lookup(ctx context.Context, key string) ([]byte, error) {
	c.calls.Add(1)
	if c.lookupErr != nil {
		return nil, c.lookupErr
	}
	return c.Store.Lookup(ctx, key)
}
func (c *countingStore) Insert(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.calls.Add(1)
	if c.insertErr != nil {
		return c.insertErr
	}
	return c.Store.Insert(ctx, key, value, ttl)
}
func (c *countingStore) Append(ctx context.Context, key string, value []byte) error {
	c.calls.Add(1)
	return c.Store.Append(ctx, key, value)
}
func (c *countingStore) Generation(ctx context.Context, key string) (int64, error) {
	c.calls.Add(1)
	return c.Store.Generation(ctx, key)
}

// recordingEdge wraps an LRU and counts lookups and inserts.
type recordingEdge struct {
	cache.Edge
	lookups   atomic.Int64
	inserts   atomic.Int64
	lookupErr error
	insertErr error
}

func (r *recordingEdge) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	r.lookups.Add(1)
	if r.lookupErr != nil {
		return nil, false, r.lookupErr
	}
	return r.Edge.Lookup(ctx, key)
}
func (r *recordingEdge) Insert(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	r.inserts.Add(1)
	if r.insertErr != nil {
		return r.insertErr
	}
	return r.Edge.Insert(ctx, key, value, ttl, tags...)
}

type fixture struct {
	svc   *Paste
	store *countingStore
	edge  *recordingEdge
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lru, err := cache.NewLRU(16, 64<<20)
	if err != nil {
		t.Fatal(err)
	}
	store := &countingStore{Store: db.NewMemory()}
	edge := &recordingEdge{Edge: lru}
	return &fixture{
		svc:   NewPaste(store, edge, NewStats(store), cfg.DefaultLimits()),
		store: store,
		edge:  edge,
	}
}

func payload(n int) []byte {
	return bytes.Repeat([]byte("a"), n)
}

func (f *fixture) count(t *testing.T) int64 {
	t.Helper()
	n, err := f.svc.Stats().Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestUploadValidation(t *testing.T) {
	max := cfg.DefaultLimits().MaxContentSize
	tests := []struct {
		name string
		body []byte
		want error
	}{
		{"absent body", nil, domain.ErrEmptyBody},
		{"empty body", []byte{}, domain.ErrEmptyBody},
		{"31 bytes", payload(31), domain.ErrTooSmall},
		{"32 bytes", payload(32), nil},
		{"24 MiB", payload(max), nil},
		{"24 MiB + 1", payload(max + 1), domain.ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Upload(context.Background(), domain.UploadParams{Body: tt.body, Host: "example.com"})
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err != tt.want {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if n := f.store.calls.Load(); n != 0 {
				t.Errorf("validation failure touched storage %d times", n)
			}
		})
	}
}

func TestUploadDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := payload(40)
	if n := f.count(t); n != 0 {
		t.Fatalf("count before any upload = %d", n)
	}
	first, err := f.svc.Upload(ctx, domain.UploadParams{Body: body, Host: "example.com"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.Upload(ctx, domain.UploadParams{Body: body, Host: "example.com", Filename: "a.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("ids differ: %s vs %s", first.ID, second.ID)
	}
	if !first.Created || second.Created {
		t.Errorf("Created = %v, %v; want true, false", first.Created, second.Created)
	}
	if n := f.count(t); n != 1 {
		t.Errorf("count after duplicate upload = %d, want 1", n)
	}
	if second.Location != "https://example.com/"+first.ID+"/a.txt" {
		t.Errorf("Location = %q", second.Location)
	}
}

func TestUploadResultShape(t *testing.T) {
	f := newFixture(t)
	body := payload(64)
	up, err := f.svc.Upload(context.Background(), domain.UploadParams{Body: body, Host: "paste.example:8080"})
	if err != nil {
		t.Fatal(err)
	}
	if up.ID != util.DeriveID(body, 8) {
		t.Errorf("ID = %s, want content-derived id", up.ID)
	}
	if up.Key != "file_"+up.ID {
		t.Errorf("Key = %s", up.Key)
	}
	if up.Location != "https://paste.example:8080/"+up.ID {
		t.Errorf("Location = %q", up.Location)
	}
	if !strings.HasPrefix(up.CID, "b") {
		t.Errorf("CID %q is not a base32 CIDv1", up.CID)
	}
}

func TestRetrieveShapeSkipsStorage(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"", "short", "123456789", "way-too-long-identifier"} {
		_, err := f.svc.Retrieve(context.Background(), id)
		if err != domain.ErrNotFound {
			t.Errorf("Retrieve(%q) err = %v, want not found", id, err)
		}
	}
	if n := f.store.calls.Load(); n != 0 {
		t.Errorf("malformed ids touched the store %d times", n)
	}
	if n := f.edge.lookups.Load(); n != 0 {
		t.Errorf("malformed ids touched the edge %d times", n)
	}
}

func TestRetrieveRoundTripAndTiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := []byte("the quick brown fox jumps over the lazy dog")
	up, err := f.svc.Upload(ctx, domain.UploadParams{Body: body, Host: "h"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.Retrieve(ctx, up.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Data, body) {
		t.Errorf("round trip mismatch: %q", got.Data)
	}
	if got.Tier != domain.TierOrigin {
		t.Errorf("first retrieval tier = %s, want origin", got.Tier)
	}
	if f.edge.inserts.Load() != 1 {
		t.Errorf("edge inserts = %d, want 1", f.edge.inserts.Load())
	}
	before := f.store.calls.Load()
	got, err = f.svc.Retrieve(ctx, up.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Tier != domain.TierEdge {
		t.Errorf("second retrieval tier = %s, want edge", got.Tier)
	}
	if f.store.calls.Load() != before {
		t.Error("edge hit still reached the store")
	}
	if !bytes.Equal(got.Data, body) {
		t.Errorf("edge returned %q", got.Data)
	}
}

func TestRetrieveUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Retrieve(context.Background(), "00000000")
	if err != domain.ErrNotFound {
		t.Fatalf("err = %v, want not found", err)
	}
	if domain.Status(err) != 404 {
		t.Errorf("status = %d", domain.Status(err))
	}
}

func TestRetrieveEdgeFaultsDegrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := payload(48)
	up, err := f.svc.Upload(ctx, domain.UploadParams{Body: body, Host: "h"})
	if err != nil {
		t.Fatal(err)
	}
	f.edge.lookupErr = errors.New("edge unreachable")
	f.edge.insertErr = errors.New("edge write failed")
	got, err := f.svc.Retrieve(ctx, up.ID)
	if err != nil {
		t.Fatalf("edge faults surfaced: %v", err)
	}
	if got.Tier != domain.TierOrigin || !bytes.Equal(got.Data, body) {
		t.Errorf("got tier %s data %q", got.Tier, got.Data)
	}
}

func TestBackendFaultsPropagate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.lookupErr = errors.New("store down")
	if _, err := f.svc.Upload(ctx, domain.UploadParams{Body: payload(40), Host: "h"}); domain.Status(err) != 500 {
		t.Errorf("upload with failing lookup: status %d, err %v", domain.Status(err), err)
	}
	if _, err := f.svc.Retrieve(ctx, "abcdefgh"); domain.Status(err) != 500 {
		t.Errorf("retrieve with failing store: status %d, err %v", domain.Status(err), err)
	}
	f.store.lookupErr = nil
	f.store.insertErr = errors.New("disk full")
	if _, err := f.svc.Upload(ctx, domain.UploadParams{Body: payload(40), Host: "h"}); domain.Status(err) != 500 {
		t.Errorf("upload with failing insert: status %d", domain.Status(err))
	}
	if n := f.count(t); n != 0 {
		t.Errorf("failed insert was counted: %d", n)
	}
}

func TestCounterMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var last int64
	for i := 0; i < 5; i++ {
		body := []byte(strings.Repeat("x", 32) + string(rune('a'+i)))
		for j := 0; j < 2; j++ {
			if _, err := f.svc.Upload(ctx, domain.UploadParams{Body: body, Host: "h"}); err != nil {
				t.Fatal(err)
			}
			n := f.count(t)
			if n < last {
				t.Fatalf("count decreased from %d to %d", last, n)
			}
			last = n
		}
		if _, err := f.svc.Retrieve(ctx, util.DeriveID(body, 8)); err != nil {
			t.Fatal(err)
		}
	}
	if last != 5 {
		t.Errorf("count = %d, want 5", last)
	}
}

func TestWorkedExample(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, small := range []string{"testing\n", "testing testing 123"} {
		_, err := f.svc.Upload(ctx, domain.UploadParams{Body: []byte(small), Host: "h"})
		if err != domain.ErrTooSmall {
			t.Errorf("upload %q err = %v, want too small", small, err)
		}
	}
	body := []byte("0123456789012345678901234567890123456789")
	up, err := f.svc.Upload(ctx, domain.UploadParams{Body: body, Host: "upl.example"})
	if err != nil {
		t.Fatal(err)
	}
	if len(up.ID) != 8 || up.Location != "https://upl.example/"+up.ID {
		t.Errorf("unexpected upload result %+v", up)
	}
	got, err := f.svc.Retrieve(ctx, up.ID)
	if err != nil || !bytes.Equal(got.Data, body) {
		t.Errorf("retrieve = %v, %v", got, err)
	}
	if _, err := f.svc.Retrieve(ctx, "00000000"); err != domain.ErrNotFound {
		t.Errorf("zero id err = %v", err)
	}
}

func TestPurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	up, err := f.svc.Upload(ctx, domain.UploadParams{Body: payload(33), Host: "h"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Retrieve(ctx, up.ID); err != nil {
		t.Fatal(err)
	}
	n, err := f.svc.Purge(ctx, domain.GetTag)
	if err != nil || n != 1 {
		t.Fatalf("Purge = %d, %v", n, err)
	}
	got, err := f.svc.Retrieve(ctx, up.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Tier != domain.TierOrigin {
		t.Errorf("retrieval after purge served from %s", got.Tier)
	}
}

func TestShutdownRejects(t *testing.T) {
	f := newFixture(t)
	f.svc.Shutdown()
	if _, err := f.svc.Upload(context.Background(), domain.UploadParams{Body: payload(40)}); err == nil {
		t.Error("upload accepted after shutdown")
	}
}

func TestLocation(t *testing.T) {
	if got := Location("h", "abcdefgh", ""); got != "https://h/abcdefgh" {
		t.Errorf("got %q", got)
	}
	if got := Location("h", "abcdefgh", "notes.txt"); got != "https://h/abcdefgh/notes.txt" {
		t.Errorf("got %q", got)
	}
}
