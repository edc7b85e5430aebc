package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"upldis/svc/db"
)

const (
	edgePrefix = "upldis:edge:"
	tagPrefix  = "upldis:edge-tag:"
)

// Redis keeps edge entries in their own keyspace so that one Redis can serve
// as both Store and Edge without the two tiers aliasing.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
	prefix  string
	tagPfx  string
}

func NewRedis(r *db.Redis) *Redis {
	return &Redis{
		client:  r.Client(),
		timeout: r.Timeout(),
		prefix:  edgePrefix,
		tagPfx:  tagPrefix,
	}
}
func (r *Redis) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "edge lookup")
	}
	return data, true, nil
}
func (r *Redis) Insert(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	if ttl <= 0 {
		return errors.New("edge entries need a positive ttl")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.prefix+key, value, ttl)
		for _, tag := range tags {
			pipe.SAdd(ctx, r.tagPfx+tag, key)
			pipe.PExpire(ctx, r.tagPfx+tag, ttl)
		}
		return nil
	})
	return errors.Wrap(err, "edge insert")
}
func (r *Redis) PurgeTag(ctx context.Context, tag string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	members, err := r.client.SMembers(ctx, r.tagPfx+tag).Result()
	if err != nil {
		return 0, errors.Wrap(err, "edge tag members")
	}
	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, r.prefix+m)
	}
	var purged int64
	if len(keys) > 0 {
		purged, err = r.client.Del(ctx, keys...).Result()
		if err != nil {
			return 0, errors.Wrap(err, "edge purge")
		}
	}
	if err := r.client.Del(ctx, r.tagPfx+tag).Err(); err != nil {
		return int(purged), errors.Wrap(err, "edge purge tag set")
	}
	return int(purged), nil
}
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return errors.Wrap(r.client.Ping(ctx).Err(), "edge ping")
}
