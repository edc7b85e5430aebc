package svc

import (
	"context"
	"testing"
	"time"

	"upldis/pkg/domain"
	"upldis/svc/db"
)

func TestStatsRecordFormat(t *testing.T) {
	store := db.NewMemory()
	s := NewStats(store)
	s.now = func() time.Time { return time.Unix(1700000000, 500000000) }
	ctx := context.Background()
	if err := s.RecordUpload(ctx, "abcdefgh"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordUpload(ctx, "ijkmnopq"); err != nil {
		t.Fatal(err)
	}
	log, err := store.Lookup(ctx, domain.UploadLogKey)
	if err != nil {
		t.Fatal(err)
	}
	want := "abcdefgh,1700000000.5\nijkmnopq,1700000000.5\n"
	if string(log) != want {
		t.Errorf("log = %q, want %q", log, want)
	}
	n, err := s.Count(ctx)
	if err != nil || n != 2 {
		t.Errorf("Count = %d, %v", n, err)
	}
}

type fakeExpirer struct {
	deleted int
	err     error
	calls   int
}

func (f *fakeExpirer) CleanupExpired(context.Context) (int, error) {
	f.calls++
	return f.deleted, f.err
}

func TestSweep(t *testing.T) {
	e := &fakeExpirer{deleted: 3}
	if n := sweep(context.Background(), e); n != 3 {
		t.Errorf("sweep = %d, want 3", n)
	}
	e.err = context.DeadlineExceeded
	if n := sweep(context.Background(), e); n != 0 {
		t.Errorf("failed sweep = %d, want 0", n)
	}
	if e.calls != 2 {
		t.Errorf("calls = %d", e.calls)
	}
}
