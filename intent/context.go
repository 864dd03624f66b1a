package intent

import (
	"context"
	"fmt"

	"github.com/notewise-ai/notewise/billing"
	"github.com/notewise-ai/notewise/store"
)

// StoreContextBuilder assembles request context from the store: the user's
// plan tier and the subset of mentioned notes that actually exist and belong
// to the user. Mentions of unknown or foreign notes are silently dropped, so
// downstream validation counts only real references.
type StoreContextBuilder struct {
	store store.Store
	plans billing.Resolver
}

// NewStoreContextBuilder creates the default ContextBuilder.
func NewStoreContextBuilder(s store.Store, plans billing.Resolver) *StoreContextBuilder {
	return &StoreContextBuilder{store: s, plans: plans}
}

// Build resolves the request context for one message.
func (b *StoreContextBuilder) Build(ctx context.Context, userID string, req RouteRequest) (RequestContext, error) {
	plan, _, err := b.plans.Resolve(ctx, userID)
	if err != nil {
		return RequestContext{}, fmt.Errorf("resolve plan: %w", err)
	}

	var mentions []Mention
	for _, m := range req.Mentions {
		if m.NoteID == "" {
			continue
		}
		note, err := b.store.GetNote(ctx, m.NoteID)
		if err != nil {
			return RequestContext{}, fmt.Errorf("get note %s: %w", m.NoteID, err)
		}
		if note == nil || note.UserID != userID {
			continue
		}
		name := m.NoteName
		if name == "" {
			name = note.Title
		}
		mentions = append(mentions, Mention{NoteID: note.ID, NoteName: name})
	}

	return RequestContext{
		Plan:        plan,
		PageContext: req.PageContext,
		Mentions:    mentions,
	}, nil
}
