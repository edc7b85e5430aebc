package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Ping round-trips a short-lived key so that a read-only replica reports
// as unhealthy.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	key := r.prefix + "health_check_" + time.Now().Format(time.RFC3339Nano)
	if err := r.client.Set(ctx, key, "ok", 5*time.Second).Err(); err != nil {
		return errors.Wrap(err, "redis ping set")
	}
	return errors.Wrap(r.client.Del(ctx, key).Err(), "redis ping del")
}
