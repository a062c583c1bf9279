package hsg

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// tenantLimiter throttles per-tenant write volume with a token-bucket
// limiter, keyed by tenant id instead of client IP. Grounded on
// hieuntg81-alfred-ai's internal/infra/middleware/security.go
// RateLimitWithConfig: a per-key limiter map guarded by a mutex, with a
// ticking cleanup goroutine evicting entries idle past a TTL.
type tenantLimiter struct {
	mu      sync.Mutex
	clients map[string]*tenantClient
	rps     rate.Limit
	burst   int

	stop chan struct{}
	once sync.Once
}

type tenantClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const tenantClientTTL = 3 * time.Minute

// newTenantLimiter builds a limiter keyed by tenant id. requestsPerMin<=0 or
// burst<=0 fall back to conservative defaults.
func newTenantLimiter(requestsPerMin, burst int) *tenantLimiter {
	if requestsPerMin <= 0 {
		requestsPerMin = 600
	}
	if burst <= 0 {
		burst = 20
	}
	l := &tenantLimiter{
		clients: make(map[string]*tenantClient),
		rps:     rate.Limit(float64(requestsPerMin) / 60.0),
		burst:   burst,
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// allow reports whether a write for tenantID may proceed, consuming a token
// from its bucket if so. nil tenantID is keyed as the global bucket.
func (l *tenantLimiter) allow(tenantID *string) bool {
	key := ""
	if tenantID != nil {
		key = *tenantID
	}
	l.mu.Lock()
	c, ok := l.clients[key]
	if !ok {
		c = &tenantClient{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = time.Now()
	limiter := c.limiter
	l.mu.Unlock()
	return limiter.Allow()
}

func (l *tenantLimiter) cleanupLoop() {
	ticker := time.NewTicker(tenantClientTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			now := time.Now()
			for k, c := range l.clients {
				if now.Sub(c.lastSeen) > tenantClientTTL {
					delete(l.clients, k)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (l *tenantLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}
