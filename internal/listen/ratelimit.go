package listen

import (
	"sync"
	"time"
)

// RateLimiter is the optional per-source admission hook spec section 4.6
// explicitly leaves as a policy hook rather than a core requirement.
// Adapted from the teacher's internal/server/server.go token-bucket
// RateLimiter, retargeted from HTTP requester IPs to DNS query source
// addresses; disabled by default (see Options.RateLimiter == nil).
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rps     int
	burst   int
	idle    time.Duration
	stop    chan struct{}
}

// bucket is the token bucket for one query source address. A source that
// goes quiet for idle is reaped by run rather than kept forever.
type bucket struct {
	tokens    int
	lastQuery time.Time
}

func NewRateLimiter(rps, burst int, idle time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rps:     rps,
		burst:   burst,
		idle:    idle,
		stop:    make(chan struct{}),
	}
	go rl.run()
	return rl
}

// Allow reports whether a query from source may proceed, consuming one
// token from its bucket. source is the query's originating IP, independent
// of transport (UDP packet source, TCP connection peer).
func (rl *RateLimiter) Allow(source string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, exists := rl.buckets[source]
	if !exists {
		rl.buckets[source] = &bucket{tokens: rl.burst - 1, lastQuery: time.Now()}
		return true
	}

	elapsed := time.Since(b.lastQuery)
	if add := int(elapsed.Seconds() * float64(rl.rps)); add > 0 {
		b.tokens += add
		b.lastQuery = time.Now()
	}
	if b.tokens > rl.burst {
		b.tokens = rl.burst
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// run periodically reaps buckets for sources that have gone quiet, so a
// long-lived server doesn't accumulate one bucket per ephemeral resolver
// that queried it once.
func (rl *RateLimiter) run() {
	ticker := time.NewTicker(rl.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			for source, b := range rl.buckets {
				if time.Since(b.lastQuery) > rl.idle {
					delete(rl.buckets, source)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) Stop() { close(rl.stop) }
