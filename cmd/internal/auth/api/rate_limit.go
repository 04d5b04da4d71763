package authapi

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ipIdleTTL     = 10 * time.Minute
	ipSweepEvery  = 512
	maxTrackedIPs = 100_000
)

// ipLimiter keeps one token bucket per client IP.
type ipLimiter struct {
	rps   rate.Limit
	burst int
	now   func() time.Time

	mu     sync.Mutex
	byIP   map[string]*ipBucket
	checks int
}

type ipBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(rps float64, burst int, now func() time.Time) *ipLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{
		rps:   rate.Limit(rps),
		burst: burst,
		now:   now,
		byIP:  make(map[string]*ipBucket),
	}
}

// reserve takes a token for ip. It returns zero when allowed, otherwise how long to wait.
func (l *ipLimiter) reserve(ip string) time.Duration {
	now := l.now()

	l.mu.Lock()
	l.checks++
	if l.checks%ipSweepEvery == 0 || len(l.byIP) >= maxTrackedIPs {
		l.sweepLocked(now)
	}
	b, ok := l.byIP[ip]
	if !ok {
		b = &ipBucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.byIP[ip] = b
	}
	b.seen = now
	l.mu.Unlock()

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return time.Second
	}
	d := r.DelayFrom(now)
	if d > 0 {
		r.CancelAt(now)
	}
	return d
}

func (l *ipLimiter) sweepLocked(now time.Time) {
	for ip, b := range l.byIP {
		if now.Sub(b.seen) > ipIdleTTL {
			delete(l.byIP, ip)
		}
	}
}

func (l *ipLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byIP)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int64(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}
