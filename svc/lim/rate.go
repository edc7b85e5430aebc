package lim

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/time/rate"

	"upldis/svc/util"
)

const (
	maxLimiters     = 10000
	cleanupInterval = 5 * time.Minute
	limiterTTL      = 30 * time.Minute
	windowTimeout   = 100 * time.Millisecond
)

const (
	EndpointInfo     = "info"
	EndpointRetrieve = "retrieve"
	EndpointUpload   = "upload"
)

// Window is a fixed-window counter shared between instances, e.g. Redis.
type Window interface {
	RateLimit(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

// Limiter enforces a per-client requests-per-minute budget. With a shared
// Window every instance counts against the same budget; without one, or when
// the window is unreachable, each instance keeps token buckets of its own.
type Limiter struct {
	win            Window
	trustedProxies []string
	spike          *ErrorSpike
	tightUntil     int64
	local          *simplelru.LRU[string, *limiterEntry]
	mu             sync.Mutex
	rpm            int
	burst          int
	now            func() time.Time
	quit           chan struct{}
	stopOnce       sync.Once
}
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// New panics on malformed trusted proxies; cfg.Validate rejects them first.
func New(rpm, burst int, win Window, trustedProxies []string) *Limiter {
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				panic("invalid CIDR in trustedProxies: " + proxy)
			}
		} else if net.ParseIP(proxy) == nil {
			panic("invalid IP in trustedProxies: " + proxy)
		}
	}
	local, err := simplelru.NewLRU[string, *limiterEntry](maxLimiters, nil)
	if err != nil {
		panic(err)
	}
	l := &Limiter{
		win:            win,
		trustedProxies: trustedProxies,
		local:          local,
		rpm:            rpm,
		burst:          burst,
		now:            time.Now,
		quit:           make(chan struct{}),
	}
	l.spike = NewErrorSpike(l.Tighten)
	go l.cleanupLoop()
	return l
}
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.quit:
			return
		}
	}
}
func (l *Limiter) evictIdle() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	// Keys are ordered oldest access first.
	for _, key := range l.local.Keys() {
		entry, ok := l.local.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(entry.lastAccess) <= limiterTTL {
			break
		}
		l.local.Remove(key)
		evicted++
	}
	if evicted > 0 {
		util.Debug().Int("evicted", evicted).Int("remaining", l.local.Len()).Msg("rate limiter cleanup")
	}
	return evicted
}
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
	})
}
// Tighten halves the upload budget for the next minute.
func (l *Limiter) Tighten() {
	atomic.StoreInt64(&l.tightUntil, l.now().Add(time.Minute).Unix())
}
func (l *Limiter) tightened() bool {
	return l.now().Unix() < atomic.LoadInt64(&l.tightUntil)
}

// Observe feeds a finished request's status to the error spike tracker.
func (l *Limiter) Observe(status int) {
	l.spike.Observe(status)
}

// limit is the per-minute budget for endpoint. Uploads get half of it while
// the store is failing; reads can still be answered from the edge.
func (l *Limiter) limit(endpoint string) int {
	limit := l.rpm
	if endpoint == EndpointUpload && l.tightened() {
		limit /= 2
		if limit < 1 {
			limit = 1
		}
	}
	return limit
}
func (l *Limiter) Check(r *http.Request, endpoint string) *Result {
	ip := GetRealIP(r, l.trustedProxies)
	limit := l.limit(endpoint)
	if l.win != nil {
		ctx, cancel := context.WithTimeout(r.Context(), windowTimeout)
		defer cancel()
		usage, err := l.win.RateLimit(ctx, ip+":"+endpoint, limit, time.Minute)
		if err == nil {
			remaining := limit - usage
			if remaining < 0 {
				remaining = 0
			}
			return &Result{
				Allowed:   usage <= limit,
				Limit:     limit,
				Remaining: remaining,
				Reset:     l.now().Add(time.Minute),
			}
		}
		util.Warn().Err(err).Msg("shared rate limit unavailable, using local fallback")
	}
	return l.checkLocal(ip+":"+endpoint, limit)
}
func (l *Limiter) checkLocal(key string, limit int) *Result {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.local.Get(key)
	if !ok {
		burst := l.burst
		if burst > limit {
			burst = limit
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(float64(limit)/60.0), burst)}
		if l.local.Add(key, entry) {
			util.Debug().
				Int("limiters", l.local.Len()).
				Msg("rate limiter at capacity, evicted least recent client")
		}
	}
	entry.lastAccess = now
	if entry.limiter.Limit() != rate.Limit(float64(limit)/60.0) {
		entry.limiter.SetLimitAt(now, rate.Limit(float64(limit)/60.0))
	}
	if !entry.limiter.AllowN(now, 1) {
		return &Result{Allowed: false, Limit: limit, Reset: now.Add(time.Minute)}
	}
	return &Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: int(entry.limiter.TokensAt(now)),
		Reset:     now.Add(time.Minute),
	}
}

func GetRealIP(r *http.Request, trustedProxies []string) string {
	remoteIP := stripPort(r.RemoteAddr)
	if len(trustedProxies) == 0 || !isTrustedProxy(remoteIP, trustedProxies) {
		return remoteIP
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP
	}
	const maxIPsToParse = 100
	hops := strings.Split(xff, ",")
	parsed := 0
	// Walk from the nearest hop outwards; the first untrusted address is the client.
	for i := len(hops) - 1; i >= 0 && parsed < maxIPsToParse; i-- {
		ipStr := strings.TrimSpace(hops[i])
		if ipStr == "" {
			continue
		}
		parsed++
		if net.ParseIP(ipStr) == nil {
			util.Warn().Str("ip", util.RedactIP(ipStr)).Msg("invalid IP in X-Forwarded-For, skipping")
			continue
		}
		if !isTrustedProxy(ipStr, trustedProxies) {
			return ipStr
		}
	}
	return remoteIP
}
func isTrustedProxy(ip string, trustedProxies []string) bool {
	parsedIP := net.ParseIP(ip)
	for _, proxy := range trustedProxies {
		if ip == proxy {
			return true
		}
		if strings.Contains(proxy, "/") && parsedIP != nil {
			if _, subnet, err := net.ParseCIDR(proxy); err == nil && subnet.Contains(parsedIP) {
				return true
			}
		}
	}
	return false
}
func stripPort(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
