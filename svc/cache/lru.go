package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const maxLRUSize = 100000

// LRU bounds both the entry count and the total payload bytes held.
type LRU struct {
	c        *lru.Cache[string, item]
	mu       sync.Mutex
	tags     map[string]map[string]struct{}
	bytes    int64
	maxBytes int64
	now      func() time.Time
}
type item struct {
	data []byte
	exp  time.Time
	tags []string
}

func NewLRU(size int, maxBytes int64) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > maxLRUSize {
		return nil, errors.New("cache size too large")
	}
	if maxBytes <= 0 {
		return nil, errors.New("cache byte budget must be positive")
	}
	l := &LRU{
		tags:     make(map[string]map[string]struct{}),
		maxBytes: maxBytes,
		now:      time.Now,
	}
	c, err := lru.NewWithEvict[string, item](size, l.onEvict)
	if err != nil {
		return nil, err
	}
	l.c = c
	return l, nil
}

// onEvict runs synchronously inside Add/Remove, which are only called with
// l.mu held.
func (l *LRU) onEvict(key string, it item) {
	l.bytes -= int64(len(it.data))
	l.untag(key, it.tags)
}
func (l *LRU) untag(key string, tags []string) {
	for _, tag := range tags {
		set := l.tags[tag]
		delete(set, key)
		if len(set) == 0 {
			delete(l.tags, tag)
		}
	}
}
func (l *LRU) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !l.now().Before(it.exp) {
		l.c.Remove(key)
		return nil, false, nil
	}
	return it.data, true, nil
}
func (l *LRU) Insert(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	if ttl <= 0 {
		return errors.New("edge entries need a positive ttl")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Add on an existing key does not fire the evict callback.
	l.c.Remove(key)
	if int64(len(value)) > l.maxBytes {
		return nil
	}
	it := item{
		data: append([]byte(nil), value...),
		exp:  l.now().Add(ttl),
		tags: append([]string(nil), tags...),
	}
	l.c.Add(key, it)
	l.bytes += int64(len(it.data))
	for l.bytes > l.maxBytes {
		if _, _, ok := l.c.RemoveOldest(); !ok {
			break
		}
	}
	for _, tag := range it.tags {
		set, ok := l.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			l.tags[tag] = set
		}
		set[key] = struct{}{}
	}
	return nil
}
func (l *LRU) PurgeTag(ctx context.Context, tag string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := l.tags[tag]
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	purged := 0
	for _, k := range keys {
		if l.c.Remove(k) {
			purged++
		}
	}
	delete(l.tags, tag)
	return purged, nil
}
func (l *LRU) Len() int {
	return l.c.Len()
}
func (l *LRU) Bytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytes
}
func (l *LRU) Ping(ctx context.Context) error {
	return ctx.Err()
}
