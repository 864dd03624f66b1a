// Package billing defines the plan catalog and the plan lookup used by quota
// enforcement. Payment-provider integration (checkout, webhooks) lives in the
// SaaS repository; this package only answers "what is this user's budget".
package billing

import (
	"context"
	"fmt"

	"github.com/notewise-ai/notewise/store"
)

// Resolver resolves a user's plan tier and limits.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (plan string, limits PlanLimits, err error)
}

// StoreResolver resolves plans from the subscription table. It reads the
// store on every call rather than caching, so a mid-period upgrade takes
// effect on the next quota check.
type StoreResolver struct {
	store store.Store
}

// NewStoreResolver creates a StoreResolver backed by the given store.
func NewStoreResolver(s store.Store) *StoreResolver {
	return &StoreResolver{store: s}
}

// Resolve looks up the user's subscription. Users without an active
// subscription are on the free plan.
func (r *StoreResolver) Resolve(ctx context.Context, userID string) (string, PlanLimits, error) {
	sub, err := r.store.GetSubscription(ctx, userID)
	if err != nil {
		return "", PlanLimits{}, fmt.Errorf("get subscription: %w", err)
	}
	if sub == nil || sub.Status != "active" {
		return "free", GetLimits("free"), nil
	}
	return sub.Plan, GetLimits(sub.Plan), nil
}
