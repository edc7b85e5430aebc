package lim

import (
	"sync"
	"time"

	"upldis/metrics"
	"upldis/svc/util"
)

const (
	spikeBuckets     = 5
	spikeMinRequests = 10
	spikeErrorRate   = 5.0
)

// ErrorSpike tracks the share of requests answered with a server error over
// the last spikeBuckets minutes. Buckets rotate lazily on the next
// observation, so an idle server does no work. onSpike runs with the lock
// held and must not call back into the tracker.
type ErrorSpike struct {
	mu      sync.Mutex
	buckets [spikeBuckets]bucket
	minute  int64
	onSpike func()
	now     func() time.Time
}
type bucket struct {
	requests int64
	errors   int64
}

func NewErrorSpike(onSpike func()) *ErrorSpike {
	return &ErrorSpike{onSpike: onSpike, now: time.Now}
}

// Observe records one finished request by its status code.
func (d *ErrorSpike) Observe(status int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rotate()
	b := &d.buckets[d.minute%spikeBuckets]
	b.requests++
	if status >= 500 {
		b.errors++
	}
}

// Rate returns the error percentage over the window.
func (d *ErrorSpike) Rate() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rotate()
	rate, _ := d.rate()
	return rate
}

// rotate closes every minute that ended since the last call. The window is
// judged once, as it stood when its newest minute closed.
func (d *ErrorSpike) rotate() {
	m := d.now().Unix() / 60
	if d.minute == 0 {
		d.minute = m
		return
	}
	if m <= d.minute {
		return
	}
	d.judge()
	steps := m - d.minute
	if steps > spikeBuckets {
		steps = spikeBuckets
	}
	for i := int64(1); i <= steps; i++ {
		d.buckets[(d.minute+i)%spikeBuckets] = bucket{}
	}
	d.minute = m
}
func (d *ErrorSpike) rate() (float64, int64) {
	var reqs, errs int64
	for _, b := range d.buckets {
		reqs += b.requests
		errs += b.errors
	}
	if reqs == 0 {
		return 0, 0
	}
	return float64(errs) / float64(reqs) * 100, reqs
}
func (d *ErrorSpike) judge() {
	rate, reqs := d.rate()
	metrics.RecentErrorRatePercent.Set(rate)
	if reqs <= spikeMinRequests || rate <= spikeErrorRate {
		return
	}
	util.Warn().
		Float64("error_rate", rate).
		Int64("requests", reqs).
		Msg("server error spike, tightening upload limits")
	if d.onSpike != nil {
		d.onSpike()
	}
}
