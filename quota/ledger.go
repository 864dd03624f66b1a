// Package quota implements per-user token budget accounting over monthly
// billing periods.
//
// The ledger follows an estimate-then-commit pattern: Admit is a pure read
// that compares an estimate against the remaining budget, and Commit later
// records whatever the call actually cost. The two are deliberately not
// atomic; two concurrent requests can both pass Admit against the same stale
// counter and both Commit, overshooting the nominal limit by at most one
// call's cost. That is an accepted economic trade-off, not a correctness
// bug — strict enforcement would need a conditional decrement in the store.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/notewise-ai/notewise/billing"
	"github.com/notewise-ai/notewise/store"
)

// ErrStoreUnavailable marks an admission check that failed because the usage
// store could not be read. Admission fails closed on this error.
var ErrStoreUnavailable = errors.New("quota: usage store unavailable")

// ExceededError is returned when an admission check denies a request. It
// carries the budget numbers verbatim so the caller can render them.
type ExceededError struct {
	Limit     int64
	Current   int64
	Remaining int64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d of %d tokens used, %d remaining", e.Current, e.Limit, e.Remaining)
}

// Admission is the result of an admission check.
type Admission struct {
	Allowed   bool   `json:"allowed"`
	Plan      string `json:"plan"`
	Limit     int64  `json:"limit"`
	Current   int64  `json:"current"`
	Remaining int64  `json:"remaining"`
}

// Ledger tracks per-user token consumption for the active billing period.
type Ledger struct {
	store  store.Store
	plans  billing.Resolver
	logger *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewLedger creates a Ledger over the given store and plan resolver.
func NewLedger(s store.Store, plans billing.Resolver, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  s,
		plans:  plans,
		logger: logger.With("component", "quota"),
		now:    time.Now,
	}
}

// PeriodStart returns the start of the billing period containing t: the
// first instant of the calendar month, in UTC. Anchoring to the calendar
// month (rather than each account's creation date) keeps every user's
// rollover at the same wall-clock moment and makes periods comparable
// across the fleet.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Admit checks whether a request with the given estimated cost fits in the
// user's remaining budget. It does not reserve the estimate; only Commit
// mutates the counter. The plan limit is resolved fresh on every call so a
// mid-period upgrade widens the budget immediately.
//
// If the usage store cannot be read the check fails closed: the returned
// Admission denies and the error wraps ErrStoreUnavailable.
func (l *Ledger) Admit(ctx context.Context, userID string, estimatedCost int64) (Admission, error) {
	plan, limits, err := l.plans.Resolve(ctx, userID)
	if err != nil {
		return Admission{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	current, err := l.currentUsage(ctx, userID)
	if err != nil {
		return Admission{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	remaining := limits.MonthlyTokens - current
	return Admission{
		Allowed:   estimatedCost <= remaining,
		Plan:      plan,
		Limit:     limits.MonthlyTokens,
		Current:   current,
		Remaining: remaining,
	}, nil
}

// Commit unconditionally records actualCost against the user's current
// period, even when it pushes usage past the limit — budget enforcement
// happens only at Admit time. The error is returned for the caller to log
// and drop; usage loss on a failed commit is an accepted trade-off so that
// bookkeeping never blocks a response.
func (l *Ledger) Commit(ctx context.Context, userID string, actualCost int64) error {
	if actualCost < 0 {
		return fmt.Errorf("quota: negative cost %d", actualCost)
	}
	period := PeriodStart(l.now())
	if err := l.store.AddUsage(ctx, userID, period, actualCost); err != nil {
		l.logger.Error("usage commit failed",
			"user_id", userID,
			"tokens", actualCost,
			"error", err)
		return fmt.Errorf("add usage: %w", err)
	}
	return nil
}

// currentUsage reads the user's counter for the active period. A missing row
// or a row from an earlier period counts as zero; the rollover itself is
// materialized lazily by the next Commit.
func (l *Ledger) currentUsage(ctx context.Context, userID string) (int64, error) {
	usage, err := l.store.GetUsage(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get usage: %w", err)
	}
	if usage == nil {
		return 0, nil
	}
	if usage.PeriodStart.Before(PeriodStart(l.now())) {
		return 0, nil
	}
	return usage.Tokens, nil
}
