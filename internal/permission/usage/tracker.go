// Package usage enforces the rate-limit restrictions carried by grants:
// maximum uses per hour and per day, and a minimum interval between uses.
package usage

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"trustlayer/internal/permission/domain"
)

// DefaultSize bounds how many (principal, grant) keys are tracked.
const DefaultSize = 100_000

type entry struct {
	mu      sync.Mutex
	limits  domain.Restrictions
	hourly  *rate.Limiter
	daily   *rate.Limiter
	lastUse time.Time
}

// Tracker holds token buckets per key. Least recently used keys are evicted,
// which forgets their history.
type Tracker struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *entry]
}

// NewTracker returns a Tracker holding at most size keys (DefaultSize if size <= 0).
func NewTracker(size int) *Tracker {
	if size <= 0 {
		size = DefaultSize
	}
	c, _ := lru.New[string, *entry](size)
	return &Tracker{entries: c}
}

func newEntry(r *domain.Restrictions) *entry {
	e := &entry{limits: limitsOf(r)}
	if r.MaxUsesPerHour > 0 {
		e.hourly = rate.NewLimiter(rate.Every(time.Hour/time.Duration(r.MaxUsesPerHour)), r.MaxUsesPerHour)
	}
	if r.MaxUsesPerDay > 0 {
		e.daily = rate.NewLimiter(rate.Every(24*time.Hour/time.Duration(r.MaxUsesPerDay)), r.MaxUsesPerDay)
	}
	return e
}

func limitsOf(r *domain.Restrictions) domain.Restrictions {
	return domain.Restrictions{MaxUsesPerHour: r.MaxUsesPerHour, MaxUsesPerDay: r.MaxUsesPerDay, MinInterval: r.MinInterval}
}

func (e *entry) matches(r *domain.Restrictions) bool {
	l := limitsOf(r)
	return e.limits.MaxUsesPerHour == l.MaxUsesPerHour && e.limits.MaxUsesPerDay == l.MaxUsesPerDay &&
		e.limits.MinInterval == l.MinInterval
}

// Check reports whether one more use at now stays within r. It does not consume.
func (t *Tracker) Check(key string, r *domain.Restrictions, now time.Time) (bool, string) {
	if !r.RateLimited() {
		return true, ""
	}
	t.mu.Lock()
	e, ok := t.entries.Peek(key)
	t.mu.Unlock()
	if !ok || !e.matches(r) {
		return true, ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if r.MinInterval > 0 && !e.lastUse.IsZero() && now.Sub(e.lastUse) < r.MinInterval {
		return false, fmt.Sprintf("minimum interval of %s between uses not elapsed", r.MinInterval)
	}
	if e.hourly != nil && e.hourly.TokensAt(now) < 1 {
		return false, fmt.Sprintf("hourly limit of %d uses reached", r.MaxUsesPerHour)
	}
	if e.daily != nil && e.daily.TokensAt(now) < 1 {
		return false, fmt.Sprintf("daily limit of %d uses reached", r.MaxUsesPerDay)
	}
	return true, ""
}

// RecordUse consumes one use at now. It reports false without consuming when
// the use would exceed r.
func (t *Tracker) RecordUse(key string, r *domain.Restrictions, now time.Time) bool {
	if !r.RateLimited() {
		return true
	}
	t.mu.Lock()
	e, ok := t.entries.Get(key)
	if !ok || !e.matches(r) {
		e = newEntry(r)
		t.entries.Add(key, e)
	}
	t.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if r.MinInterval > 0 && !e.lastUse.IsZero() && now.Sub(e.lastUse) < r.MinInterval {
		return false
	}
	if (e.hourly != nil && e.hourly.TokensAt(now) < 1) || (e.daily != nil && e.daily.TokensAt(now) < 1) {
		return false
	}
	if e.hourly != nil {
		e.hourly.AllowN(now, 1)
	}
	if e.daily != nil {
		e.daily.AllowN(now, 1)
	}
	e.lastUse = now
	return true
}

// Forget drops the history for key.
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Remove(key)
}
