// Package quota decides whether a caller may start another analysis.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/labwise/internal/common"
)

type Config struct {
	Window        time.Duration // default 60s
	MaxRequests   int           // default 10
	BlockDuration time.Duration // default 5m
}

// Decision is the answer for one caller.
type Decision struct {
	Allowed      bool      `json:"allowed"`
	Remaining    int       `json:"remaining"`
	Limit        int       `json:"limit"`
	Used         int       `json:"used"`
	ResetAt      time.Time `json:"reset_at"`
	BlockedUntil time.Time `json:"blocked_until,omitempty"`
}

// Limiter is a fixed-window counter. A caller that goes over the limit is
// blocked for BlockDuration, and every check is denied until then.
type Limiter struct {
	cfg    Config
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

func NewLimiter(cfg Config, store Store, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 10
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = 5 * time.Minute
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{cfg: cfg, store: store, now: time.Now, logger: logger}
}

// Check counts one request for caller and reports whether it may proceed.
func (l *Limiter) Check(ctx context.Context, caller string) (Decision, error) {
	now := l.now()
	var denied bool
	rec, err := l.store.Update(ctx, caller, func(rec Record, found bool) Record {
		denied = false
		if now.Before(rec.BlockedUntil) {
			denied = true
			return rec
		}
		if !found || !now.Before(rec.ResetAt) || !rec.BlockedUntil.IsZero() {
			return Record{Count: 1, ResetAt: now.Add(l.cfg.Window)}
		}
		rec.Count++
		if rec.Count > l.cfg.MaxRequests {
			rec.BlockedUntil = now.Add(l.cfg.BlockDuration)
			denied = true
		}
		return rec
	})
	if err != nil {
		return Decision{}, common.WrapError(err, "quota check")
	}

	d := l.decision(rec, now)
	d.Allowed = !denied
	if denied {
		l.logger.Warn("quota.denied", "caller", caller, "blocked_until", rec.BlockedUntil)
	}
	return d, nil
}

// Status reports the caller's state without counting a request.
func (l *Limiter) Status(ctx context.Context, caller string) (Decision, error) {
	now := l.now()
	rec, found, err := l.store.Get(ctx, caller)
	if err != nil {
		return Decision{}, common.WrapError(err, "quota status")
	}
	if !found || (!now.Before(rec.ResetAt) && !now.Before(rec.BlockedUntil)) {
		return Decision{Allowed: true, Remaining: l.cfg.MaxRequests, Limit: l.cfg.MaxRequests, ResetAt: now.Add(l.cfg.Window)}, nil
	}
	d := l.decision(rec, now)
	d.Allowed = !now.Before(rec.BlockedUntil) && d.Remaining > 0
	return d, nil
}

func (l *Limiter) decision(rec Record, now time.Time) Decision {
	d := Decision{
		Limit:   l.cfg.MaxRequests,
		Used:    rec.Count,
		ResetAt: rec.ResetAt,
	}
	if now.Before(rec.BlockedUntil) {
		d.BlockedUntil = rec.BlockedUntil
		d.ResetAt = rec.BlockedUntil
		return d
	}
	d.Remaining = max(0, l.cfg.MaxRequests-rec.Count)
	return d
}

// ExceededError is returned to callers that were denied.
type ExceededError struct {
	Decision Decision
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d requests per window, retry after %s", e.Decision.Limit, e.Decision.ResetAt.Format(time.RFC3339))
}

func (e *ExceededError) Is(target error) bool { return target == common.ErrQuotaExceeded }

func (e *ExceededError) ErrorCode() string { return common.CodeQuotaExceeded }

// RetryAfter is the wait until the caller may try again.
func (e *ExceededError) RetryAfter(now time.Time) time.Duration {
	if d := e.Decision.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
