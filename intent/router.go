// Package intent orchestrates chat message classification: it builds request
// context, admits the request against the token quota, dispatches to the
// generation oracle, decodes and independently re-validates the answer, and
// commits the actual cost.
package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/notewise-ai/notewise/capability"
	"github.com/notewise-ai/notewise/oracle"
	"github.com/notewise-ai/notewise/quota"
)

// IntentNone is the safe fallback decision: no capability is dispatched.
const IntentNone = "none"

var (
	// ErrNoUser marks a request without an authenticated user.
	ErrNoUser = errors.New("intent: no authenticated user")

	// ErrEmptyMessage marks a request with a missing or blank message.
	ErrEmptyMessage = errors.New("intent: message is required")

	// ErrUpstream marks an oracle failure (non-success status, network
	// error, or timeout). The request degrades; it is never retried here.
	ErrUpstream = errors.New("intent: oracle unavailable")
)

// Mention is a note reference embedded in the chat message.
type Mention struct {
	NoteID   string `json:"noteId"`
	NoteName string `json:"noteName"`
}

// RouteRequest is one inbound chat message.
type RouteRequest struct {
	Message     string    `json:"message"`
	Mentions    []Mention `json:"mentions,omitempty"`
	PageContext string    `json:"pageContext,omitempty"`
}

// RequestContext is the per-request context assembled by a ContextBuilder.
// It is owned by the request and discarded after use.
type RequestContext struct {
	Plan        string
	PageContext string
	// Mentions holds only the references that resolved to notes the user
	// actually owns.
	Mentions []Mention
}

// ContextBuilder assembles per-request context.
type ContextBuilder interface {
	Build(ctx context.Context, userID string, req RouteRequest) (RequestContext, error)
}

// Decision is the classifier's output for one message. It is created per
// request and never persisted.
type Decision struct {
	Intent     string            `json:"intent"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Confidence float64           `json:"confidence"`
	Reasoning  string            `json:"reasoning"`
	Validated  bool              `json:"validated"`
}

// Options configures a Router.
type Options struct {
	// ClassificationEstimate is the fixed admission estimate for the
	// classification call itself.
	ClassificationEstimate int64

	// OracleTimeout bounds the single suspension point in the flow.
	OracleTimeout time.Duration

	// Temperature is the sampling temperature, nil meaning the 0.1
	// near-deterministic default. A pointer so an explicit 0 stays 0.
	Temperature     *float64
	MaxOutputTokens int

	// CommitOnUpstreamError commits the classification estimate when the
	// oracle call fails and the actual cost was never learned. Off by
	// default: an unlearned cost is not billed.
	CommitOnUpstreamError bool
}

// Router coordinates the full classification flow for one message.
type Router struct {
	ledger   *quota.Ledger
	registry *capability.Registry
	oracle   oracle.Generator
	builder  ContextBuilder
	opts     Options
	logger   *slog.Logger
}

// NewRouter creates a Router. The oracle handle is injected explicitly so
// tests can substitute a fake.
func NewRouter(ledger *quota.Ledger, reg *capability.Registry, gen oracle.Generator, builder ContextBuilder, opts Options, logger *slog.Logger) *Router {
	if opts.ClassificationEstimate == 0 {
		opts.ClassificationEstimate = 500
	}
	if opts.OracleTimeout == 0 {
		opts.OracleTimeout = 30 * time.Second
	}
	if opts.MaxOutputTokens == 0 {
		opts.MaxOutputTokens = 1024
	}
	return &Router{
		ledger:   ledger,
		registry: reg,
		oracle:   gen,
		builder:  builder,
		opts:     opts,
		logger:   logger.With("component", "intent"),
	}
}

// Route classifies one message. Errors:
//   - ErrNoUser / ErrEmptyMessage for invalid input,
//   - *quota.ExceededError when admission denies,
//   - quota.ErrStoreUnavailable (wrapped) when admission cannot be checked,
//   - ErrUpstream (wrapped) when the oracle call fails or times out.
//
// Malformed oracle output is never an error: it decodes to the "none"
// fallback decision.
func (r *Router) Route(ctx context.Context, userID string, req RouteRequest) (*Decision, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	rc, err := r.builder.Build(ctx, userID, req)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}

	adm, err := r.ledger.Admit(ctx, userID, r.opts.ClassificationEstimate)
	if err != nil {
		return nil, err
	}
	if !adm.Allowed {
		return nil, &quota.ExceededError{
			Limit:     adm.Limit,
			Current:   adm.Current,
			Remaining: adm.Remaining,
		}
	}

	// A caller disconnect must not abort the call or suppress the commit:
	// once dispatched, the oracle call runs to completion server-side and
	// its cost is still billed. Only the timeout bounds it.
	detached := context.WithoutCancel(ctx)
	oracleCtx, cancel := context.WithTimeout(detached, r.opts.OracleTimeout)
	defer cancel()

	resp, err := r.oracle.Generate(oracleCtx, oracle.GenerateRequest{
		Prompt:          buildPrompt(req.Message, rc, r.registry),
		Declarations:    r.registry.FunctionDeclarations(),
		Temperature:     r.temperature(),
		MaxOutputTokens: r.opts.MaxOutputTokens,
	})
	if err != nil {
		// The actual cost was never learned. By default nothing is
		// committed; the estimate is committed only when configured.
		if r.opts.CommitOnUpstreamError {
			r.commit(detached, userID, r.opts.ClassificationEstimate)
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	decision := decode(resp, r.registry)
	r.validate(&decision, rc)

	// The classification call itself was made and costs tokens, whatever
	// the decision came out as.
	r.commit(detached, userID, resp.UsageMetadata.TotalTokenCount)

	r.logger.Info("message routed",
		"user_id", userID,
		"intent", decision.Intent,
		"confidence", decision.Confidence,
		"validated", decision.Validated,
		"tokens", resp.UsageMetadata.TotalTokenCount)

	return &decision, nil
}

// validate re-checks the chosen capability's preconditions against the
// actual request context. The oracle's self-reported confidence is never a
// substitute for this check.
func (r *Router) validate(d *Decision, rc RequestContext) {
	if d.Intent == IntentNone {
		return
	}
	desc := r.registry.Get(d.Intent)
	if desc == nil {
		// decode only emits registered ids; treat anything else as none.
		d.Intent = IntentNone
		d.Confidence = 0
		d.Reasoning = "decode failed"
		return
	}
	if desc.Validate != nil {
		err := desc.Validate(d.Parameters, capability.Context{
			Plan:         rc.Plan,
			PageContext:  rc.PageContext,
			MentionCount: len(rc.Mentions),
		})
		if err != nil {
			d.Reasoning = fmt.Sprintf("%s %s", desc.ID, err.Error())
			d.Intent = IntentNone
			d.Parameters = nil
			d.Confidence = 0
			return
		}
	}
	d.Validated = true
}

func (r *Router) temperature() float64 {
	if r.opts.Temperature == nil {
		return 0.1
	}
	return *r.opts.Temperature
}

// commit records actual cost. A failed commit is logged and dropped so that
// bookkeeping never blocks the response path; the lost usage is accepted.
func (r *Router) commit(ctx context.Context, userID string, tokens int64) {
	if tokens <= 0 {
		return
	}
	if err := r.ledger.Commit(ctx, userID, tokens); err != nil {
		r.logger.Warn("dropping failed usage commit", "user_id", userID, "tokens", tokens, "error", err)
	}
}
