package svc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"upldis/cfg"
	"upldis/metrics"
	"upldis/pkg/domain"
	"upldis/svc/cache"
	"upldis/svc/db"
	"upldis/svc/util"
)

// Paste orchestrates the upload and retrieval paths over a durable Store and
// a best-effort Edge in front of it.
type Paste struct {
	store    db.Store
	edge     cache.Edge
	stats    *Stats
	limits   cfg.Limits
	shutdown atomic.Bool
	opWg     sync.WaitGroup
}

func NewPaste(store db.Store, edge cache.Edge, stats *Stats, limits cfg.Limits) *Paste {
	if store == nil || stats == nil {
		panic("paste service: nil dependency (store or stats)")
	}
	if edge == nil {
		edge = cache.Nop{}
	}
	return &Paste{
		store:  store,
		edge:   edge,
		stats:  stats,
		limits: limits,
	}
}

// Shutdown rejects new operations and waits for in-flight ones.
func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	p.opWg.Wait()
	util.Debug().Msg("paste service shutdown complete")
}
func (p *Paste) Limits() cfg.Limits {
	return p.limits
}
func (p *Paste) Stats() *Stats {
	return p.stats
}
func (p *Paste) validate(body []byte) error {
	switch {
	case len(body) == 0:
		return domain.ErrEmptyBody
	case len(body) < p.limits.MinContentSize:
		return domain.ErrTooSmall
	case len(body) > p.limits.MaxContentSize:
		return domain.ErrTooLarge
	}
	return nil
}

// Upload stores params.Body under its content-derived id unless it is
// already present.
//
// Lookup-then-insert is not atomic: two concurrent first uploads of the same
// bytes can both see the key as absent, both write identical bytes and both
// append to the upload log, counting the upload twice.
func (p *Paste) Upload(ctx context.Context, params domain.UploadParams) (*domain.Upload, error) {
	if p.shutdown.Load() {
		return nil, errors.New("service shutting down")
	}
	p.opWg.Add(1)
	defer p.opWg.Done()
	if err := p.validate(params.Body); err != nil {
		metrics.UploadsRejected.WithLabelValues(domain.AsErr(err).Code).Inc()
		return nil, err
	}
	id := util.DeriveID(params.Body, p.limits.IDLength)
	up := &domain.Upload{
		ID:       id,
		Key:      domain.FileKey(id),
		CID:      util.ContentCID(params.Body),
		Location: Location(params.Host, id, params.Filename),
	}
	_, err := p.store.Lookup(ctx, up.Key)
	switch {
	case err == nil:
		metrics.UploadsDeduplicated.Inc()
		return up, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, errors.Wrap(err, "lookup upload")
	}
	if err := p.store.Insert(ctx, up.Key, params.Body, p.limits.StoreTTL); err != nil {
		return nil, errors.Wrap(err, "insert upload")
	}
	if err := p.stats.RecordUpload(ctx, id); err != nil {
		return nil, errors.Wrap(err, "record upload")
	}
	up.Created = true
	metrics.UploadsCreated.Inc()
	util.Debug().
		Str("request_id", util.GetRequestID(ctx)).
		Str("key", up.Key).
		Int("size", len(params.Body)).
		Msg("put in storage")
	return up, nil
}

// Retrieve serves id from the edge when it can, otherwise from the store,
// warming the edge on the way out. Edge faults never fail the request.
func (p *Paste) Retrieve(ctx context.Context, id string) (*domain.Retrieved, error) {
	if len(id) != p.limits.IDLength {
		return nil, domain.ErrNotFound
	}
	if p.shutdown.Load() {
		return nil, errors.New("service shutting down")
	}
	p.opWg.Add(1)
	defer p.opWg.Done()
	key := domain.FileKey(id)
	data, ok, err := p.edge.Lookup(ctx, key)
	if err != nil {
		metrics.CacheFailures.WithLabelValues("lookup").Inc()
		util.Warn().
			Err(err).
			Str("request_id", util.GetRequestID(ctx)).
			Str("key", key).
			Msg("edge lookup failed, falling back to origin")
	}
	if ok {
		metrics.CacheHits.Inc()
		metrics.Retrievals.WithLabelValues(string(domain.TierEdge)).Inc()
		return &domain.Retrieved{ID: id, Data: data, Tier: domain.TierEdge}, nil
	}
	metrics.CacheMisses.Inc()
	data, err = p.store.Lookup(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup origin")
	}
	if err := p.edge.Insert(ctx, key, data, p.limits.CacheTTL, domain.GetTag); err != nil {
		metrics.CacheFailures.WithLabelValues("insert").Inc()
		util.Warn().
			Err(err).
			Str("request_id", util.GetRequestID(ctx)).
			Str("key", key).
			Msg("edge insert failed")
	}
	metrics.Retrievals.WithLabelValues(string(domain.TierOrigin)).Inc()
	return &domain.Retrieved{ID: id, Data: data, Tier: domain.TierOrigin}, nil
}

// Purge drops every edge entry carrying tag.
func (p *Paste) Purge(ctx context.Context, tag string) (int, error) {
	n, err := p.edge.PurgeTag(ctx, tag)
	if err != nil {
		metrics.CacheFailures.WithLabelValues("purge").Inc()
		return 0, errors.Wrap(err, "purge edge")
	}
	metrics.CachePurged.Add(float64(n))
	util.Info().Str("tag", tag).Int("purged", n).Msg("edge tag purged")
	return n, nil
}

// Location is the download URL handed back to the uploader. The filename is
// cosmetic; retrieval ignores everything after the id.
func Location(host, id, filename string) string {
	loc := "https://" + host + "/" + id
	if filename != "" {
		loc += "/" + filename
	}
	return loc
}
