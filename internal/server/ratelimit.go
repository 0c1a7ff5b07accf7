package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitConfig holds per-client limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	// MaxDataPerDay caps uploaded bytes, live-scan frames included.
	MaxDataPerDay int64
}

// RateLimiter tracks requests and uploaded bytes per client in fixed
// minute and hour windows and a calendar-day quota.
type RateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	clients map[string]*clientUsage
}

type window struct {
	start time.Time
	count int
}

// roll starts a new window when the current one is older than d.
func (w *window) roll(now time.Time, d time.Duration) {
	if w.start.IsZero() || now.Sub(w.start) >= d {
		w.start = now
		w.count = 0
	}
}

type clientUsage struct {
	minute window
	hour   window
	day    time.Time
	today  int
	bytes  int64
	seen   time.Time
}

// Usage is a copy of one client's counters.
type Usage struct {
	RequestsLastMinute int
	RequestsLastHour   int
	RequestsToday      int
	BytesToday         int64
}

// NewRateLimiter creates a limiter for cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg, now: time.Now, clients: make(map[string]*clientUsage)}
}

// Allow counts one request of size bytes from client, or returns a
// *RateLimitError or *QuotaExceededError without counting it.
func (rl *RateLimiter) Allow(client string, size int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u := rl.usage(client, now)

	if lim := rl.cfg.RequestsPerMinute; lim > 0 && u.minute.count >= lim {
		return &RateLimitError{Type: "minute", Limit: lim, RetryAfter: u.minute.start.Add(time.Minute).Sub(now)}
	}
	if lim := rl.cfg.RequestsPerHour; lim > 0 && u.hour.count >= lim {
		return &RateLimitError{Type: "hour", Limit: lim, RetryAfter: u.hour.start.Add(time.Hour).Sub(now)}
	}
	if lim := rl.cfg.MaxRequestsPerDay; lim > 0 && u.today >= lim {
		return &QuotaExceededError{Type: "requests", Limit: int64(lim), Used: int64(u.today), Resets: u.day.AddDate(0, 0, 1)}
	}
	if err := rl.checkData(u, size); err != nil {
		return err
	}

	u.minute.count++
	u.hour.count++
	u.today++
	u.bytes += size
	return nil
}

// ChargeData counts size uploaded bytes against the daily data quota
// without counting a request. Live-scan frames are charged this way.
func (rl *RateLimiter) ChargeData(client string, size int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u := rl.usage(client, rl.now())
	if err := rl.checkData(u, size); err != nil {
		return err
	}
	u.bytes += size
	return nil
}

func (rl *RateLimiter) checkData(u *clientUsage, size int64) error {
	if lim := rl.cfg.MaxDataPerDay; lim > 0 && u.bytes+size > lim {
		return &QuotaExceededError{Type: "data", Limit: lim, Used: u.bytes, Resets: u.day.AddDate(0, 0, 1)}
	}
	return nil
}

// usage returns the rolled counters for client. Callers hold rl.mu.
func (rl *RateLimiter) usage(client string, now time.Time) *clientUsage {
	u, ok := rl.clients[client]
	if !ok {
		u = &clientUsage{}
		rl.clients[client] = u
	}
	u.minute.roll(now, time.Minute)
	u.hour.roll(now, time.Hour)
	if day := midnight(now); !day.Equal(u.day) {
		u.day = day
		u.today = 0
		u.bytes = 0
	}
	u.seen = now
	return u
}

// Usage returns a copy of client's counters.
func (rl *RateLimiter) Usage(client string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.clients[client]
	if !ok {
		return Usage{}
	}
	return Usage{
		RequestsLastMinute: u.minute.count,
		RequestsLastHour:   u.hour.count,
		RequestsToday:      u.today,
		BytesToday:         u.bytes,
	}
}

// Forget drops clients that have been idle longer than idle and returns
// how many were removed.
func (rl *RateLimiter) Forget(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	n := 0
	for id, u := range rl.clients {
		if now.Sub(u.seen) > idle {
			delete(rl.clients, id)
			n++
		}
	}
	return n
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Type       string // "minute" or "hour"
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a daily quota violation.
type QuotaExceededError struct {
	Type   string // "requests" or "data"
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
