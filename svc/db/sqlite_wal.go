package db

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"upldis/metrics"
	"upldis/svc/util"
)

const (
	WALInterval = 5 * time.Minute
	// A handful of maximum-size pastes; past this the log is truncated
	// instead of left at its high-water mark.
	walTruncateBytes  = 64 << 20
	checkpointTimeout = 30 * time.Second
)

// Checkpoint is the outcome of one PRAGMA wal_checkpoint call. Frames and
// Copied are -1 when the database is not in WAL mode.
type Checkpoint struct {
	Mode     string
	Busy     bool
	Frames   int
	Copied   int
	WALBytes int64
}

// MaintainWAL checkpoints on every tick until ctx is done, then truncates the
// log once more so a clean shutdown leaves no WAL behind.
func (s *SQLite) MaintainWAL(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := s.Checkpoint(ctx); err != nil {
				util.Error().Err(err).Msg("WAL checkpoint failed")
			}
		case <-ctx.Done():
			if _, err := s.checkpoint(context.Background(), "TRUNCATE"); err != nil {
				util.Error().Err(err).Msg("final WAL checkpoint failed")
			}
			return
		}
	}
}

// Checkpoint runs a PASSIVE checkpoint, escalates to TRUNCATE when readers
// held frames back or the log outgrew walTruncateBytes, then quick-checks
// the file.
func (s *SQLite) Checkpoint(ctx context.Context) (*Checkpoint, error) {
	cp, err := s.checkpoint(ctx, "PASSIVE")
	if err != nil {
		return nil, err
	}
	if cp.Busy || cp.WALBytes > walTruncateBytes {
		util.Info().
			Bool("busy", cp.Busy).
			Str("wal", humanize.IBytes(uint64(cp.WALBytes))).
			Msg("escalating to TRUNCATE checkpoint")
		if cp, err = s.checkpoint(ctx, "TRUNCATE"); err != nil {
			return nil, err
		}
	}
	if err := s.quickCheck(ctx); err != nil {
		util.Error().Err(err).Msg("CRITICAL: database quick_check failed after checkpoint")
		return cp, err
	}
	return cp, nil
}
func (s *SQLite) checkpoint(ctx context.Context, mode string) (*Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, checkpointTimeout)
	defer cancel()
	start := time.Now()
	cp := &Checkpoint{Mode: mode}
	var busy int
	err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint("+mode+")").Scan(&busy, &cp.Frames, &cp.Copied)
	if err != nil {
		return nil, errors.Wrapf(err, "%s checkpoint", mode)
	}
	cp.Busy = busy != 0
	var pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, errors.Wrap(err, "read page size")
	}
	if cp.Frames > 0 {
		cp.WALBytes = int64(cp.Frames) * pageSize
	}
	metrics.WALCheckpoints.WithLabelValues(mode).Inc()
	util.Debug().
		Str("mode", mode).
		Bool("busy", cp.Busy).
		Int("frames", cp.Frames).
		Int("copied", cp.Copied).
		Dur("duration", time.Since(start)).
		Msg("WAL checkpoint")
	return cp, nil
}
func (s *SQLite) quickCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkpointTimeout)
	defer cancel()
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return errors.Wrap(err, "quick_check")
	}
	if result != "ok" {
		return errors.Errorf("quick_check returned: %s", result)
	}
	return nil
}
