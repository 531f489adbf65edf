// Package ratelimit bounds request volume per caller identity at the
// transport boundary, with a stricter budget for financial endpoints.
package ratelimit

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/gangboard/internal/denial"
	"github.com/mbd888/gangboard/internal/metrics"
)

// Budget scopes.
const (
	ScopeGeneral   = "general"
	ScopeFinancial = "financial"
)

// Config configures rate limiting
type Config struct {
	// Requests is the per-identity budget for one window.
	Requests int
	// FinancialRequests is the budget for paths matching FinancialPaths.
	FinancialRequests int
	Window            time.Duration
	// MaxEntries is the map size above which stale identities are swept.
	MaxEntries int
	// FinancialPaths are path fragments that select the financial budget.
	FinancialPaths []string
}

// DefaultConfig returns the production budgets.
func DefaultConfig() Config {
	return Config{
		Requests:          100,
		FinancialRequests: 20,
		Window:            60 * time.Second,
		MaxEntries:        10000,
		FinancialPaths:    []string{"/finance", "/transactions"},
	}
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Scope     string
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type entry struct {
	count       int
	windowStart time.Time
}

// Limiter counts requests per identity in fixed windows. A window resets
// once it is older than Window, so a burst straddling a boundary can see
// up to twice the budget.
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates a limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Financial reports whether path falls under the financial budget.
func (l *Limiter) Financial(path string) bool {
	for _, frag := range l.cfg.FinancialPaths {
		if frag != "" && strings.Contains(path, frag) {
			return true
		}
	}
	return false
}

// Len returns the number of tracked windows.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Allow counts one request from identity on path. Financial requests must
// fit both budgets; a rejected request is not counted against either.
func (l *Limiter) Allow(identity, path string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	general := l.window(identity, now)
	budgets := []*entry{general}
	limits := []int{l.cfg.Requests}
	scopes := []string{ScopeGeneral}
	if l.Financial(path) {
		budgets = append(budgets, l.window("fin:"+identity, now))
		limits = append(limits, l.cfg.FinancialRequests)
		scopes = append(scopes, ScopeFinancial)
	}

	for i, e := range budgets {
		if e.count >= limits[i] {
			metrics.RateLimitRejectionsTotal.WithLabelValues(scopes[i]).Inc()
			return Decision{
				Scope:   scopes[i],
				Limit:   limits[i],
				ResetAt: e.windowStart.Add(l.cfg.Window),
			}
		}
	}
	for _, e := range budgets {
		e.count++
	}

	// Report the tightest budget.
	last := len(budgets) - 1
	return Decision{
		Allowed:   true,
		Scope:     scopes[last],
		Limit:     limits[last],
		Remaining: limits[last] - budgets[last].count,
		ResetAt:   budgets[last].windowStart.Add(l.cfg.Window),
	}
}

// window returns the live window for key, creating or resetting it.
// Caller holds l.mu.
func (l *Limiter) window(key string, now time.Time) *entry {
	e, ok := l.entries[key]
	if !ok {
		e = &entry{windowStart: now}
		l.entries[key] = e
		if len(l.entries) > l.cfg.MaxEntries {
			l.sweep(now)
		}
		metrics.RateLimitEntries.Set(float64(len(l.entries)))
		return e
	}
	if now.Sub(e.windowStart) > l.cfg.Window {
		e.count = 0
		e.windowStart = now
	}
	return e
}

// sweep drops windows that have already expired. Caller holds l.mu.
func (l *Limiter) sweep(now time.Time) {
	for key, e := range l.entries {
		if now.Sub(e.windowStart) > l.cfg.Window {
			delete(l.entries, key)
		}
	}
}

// Middleware returns a Gin middleware that rate limits by client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		d := l.Allow(c.ClientIP(), c.Request.URL.Path)

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			retryAfter := int(d.ResetAt.Sub(l.now()).Seconds()) + 1
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			denial.AbortWith(c, denial.RateLimited, "Too many requests. Please slow down.", gin.H{
				"scope":      d.Scope,
				"retryAfter": retryAfter,
			})
			return
		}

		c.Next()
	}
}
