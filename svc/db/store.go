package db

import (
	"context"
	"time"
)

// Store is the durable key/value backend that owns every paste and the
// upload log. Keys that were never written, or whose TTL has elapsed, are
// reported as domain.ErrNotFound by Lookup.
//
// Every Insert or Append bumps the key's write generation. Generation
// returns 0 for a key that does not exist. A ttl of 0 means the key never
// expires.
type Store interface {
	Lookup(ctx context.Context, key string) ([]byte, error)
	Insert(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Append(ctx context.Context, key string, value []byte) error
	Generation(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*SQLite)(nil)
	_ Store = (*Redis)(nil)
	_ Store = (*Memory)(nil)
)

func expiry(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixNano()
}
