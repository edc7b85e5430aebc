package cache

import (
	"context"
	"time"
)

// Edge is the best-effort read-through tier in front of the Store. It is
// never a system of record: a miss or an error only means the caller has to
// ask the origin.
type Edge interface {
	Lookup(ctx context.Context, key string) ([]byte, bool, error)
	Insert(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error
	// PurgeTag drops every entry carrying tag and reports how many went.
	PurgeTag(ctx context.Context, tag string) (int, error)
	Ping(ctx context.Context) error
}

var (
	_ Edge = (*LRU)(nil)
	_ Edge = (*Redis)(nil)
	_ Edge = Nop{}
)

// Nop is the edge used when caching is disabled.
type Nop struct{}

func (Nop) Lookup(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Insert(context.Context, string, []byte, time.Duration, ...string) error {
	return nil
}
func (Nop) PurgeTag(context.Context, string) (int, error) { return 0, nil }
func (Nop) Ping(context.Context) error                    { return nil }
