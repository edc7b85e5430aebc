package svc

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"upldis/pkg/domain"
	"upldis/svc/db"
)

// Stats derives the all-time upload count from the write generation of the
// upload log rather than from a stored integer.
type Stats struct {
	store db.Store
	now   func() time.Time
}

func NewStats(store db.Store) *Stats {
	return &Stats{store: store, now: time.Now}
}

// RecordUpload appends an "<id>,<unix seconds>" line to the upload log.
func (s *Stats) RecordUpload(ctx context.Context, id string) error {
	now := s.now()
	ts := float64(now.Unix()) + float64(now.Nanosecond())/1e9
	rec := id + "," + strconv.FormatFloat(ts, 'f', -1, 64) + "\n"
	return errors.Wrap(s.store.Append(ctx, domain.UploadLogKey, []byte(rec)), "append upload log")
}

// Count returns how many uploads have been recorded, 0 before the first.
func (s *Stats) Count(ctx context.Context) (int64, error) {
	gen, err := s.store.Generation(ctx, domain.UploadLogKey)
	if err != nil {
		return 0, errors.Wrap(err, "upload log generation")
	}
	return gen, nil
}
