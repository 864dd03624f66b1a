package intent

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notewise-ai/notewise/billing"
	"github.com/notewise-ai/notewise/capability"
	"github.com/notewise-ai/notewise/oracle"
	"github.com/notewise-ai/notewise/quota"
	"github.com/notewise-ai/notewise/store"
)

// fakeOracle returns a canned response or error and records the request.
type fakeOracle struct {
	resp    *oracle.GenerateResponse
	err     error
	calls   int
	lastReq oracle.GenerateRequest
}

func (f *fakeOracle) Generate(ctx context.Context, req oracle.GenerateRequest) (*oracle.GenerateResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type routerFixture struct {
	router *Router
	store  store.Store
	oracle *fakeOracle // nil when the test injects its own Generator
	userID string
	noteID string
}

func newFixture(t *testing.T, gen *fakeOracle, opts Options) *routerFixture {
	t.Helper()
	f := newFixtureWith(t, gen, opts)
	f.oracle = gen
	return f
}

func newFixtureWith(t *testing.T, gen oracle.Generator, opts Options) *routerFixture {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	user := &store.User{
		ID:        uuid.New().String(),
		Username:  "student",
		Role:      "user",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateUser(ctx, user))

	note := &store.Note{
		ID:        "n1",
		UserID:    user.ID,
		Title:     "Lecture1",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateNote(ctx, note))

	plans := billing.NewStoreResolver(s)
	ledger := quota.NewLedger(s, plans, slog.Default())
	builder := NewStoreContextBuilder(s, plans)
	router := NewRouter(ledger, capability.DefaultRegistry(), gen, builder, opts, slog.Default())

	return &routerFixture{router: router, store: s, userID: user.ID, noteID: note.ID}
}

func (f *routerFixture) usedTokens(t *testing.T) int64 {
	t.Helper()
	usage, err := f.store.GetUsage(context.Background(), f.userID)
	require.NoError(t, err)
	if usage == nil {
		return 0
	}
	return usage.Tokens
}

func generateTestCall(tokens int64) *oracle.GenerateResponse {
	return &oracle.GenerateResponse{
		Candidates: []oracle.Candidate{{
			Content: oracle.Content{Parts: []oracle.Part{{
				FunctionCall: &oracle.FunctionCall{Name: "generate_test"},
			}}},
		}},
		UsageMetadata: oracle.UsageMetadata{TotalTokenCount: tokens},
	}
}

func TestRouteTestGeneration(t *testing.T) {
	f := newFixture(t, &fakeOracle{resp: generateTestCall(321)}, Options{})

	d, err := f.router.Route(context.Background(), f.userID, RouteRequest{
		Message:  "turn @[Lecture1](n1) into a test",
		Mentions: []Mention{{NoteID: "n1", NoteName: "Lecture1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "test", d.Intent)
	assert.Equal(t, 0.9, d.Confidence)
	assert.True(t, d.Validated)

	// The oracle's reported cost was committed.
	assert.Equal(t, int64(321), f.usedTokens(t))

	// The dispatch carried the declarations and a low temperature.
	assert.Len(t, f.oracle.lastReq.Declarations, 3)
	assert.InDelta(t, 0.1, f.oracle.lastReq.Temperature, 0.001)
}

func TestRouteForcesNoneWithoutMentions(t *testing.T) {
	f := newFixture(t, &fakeOracle{resp: generateTestCall(100)}, Options{})

	// The oracle confidently called generate_test anyway; the router does
	// not take its word for it.
	d, err := f.router.Route(context.Background(), f.userID, RouteRequest{
		Message: "turn my notes into a test",
	})
	require.NoError(t, err)

	assert.Equal(t, IntentNone, d.Intent)
	assert.Equal(t, 0.0, d.Confidence)
	assert.Contains(t, d.Reasoning, "requires note mentions")
	assert.False(t, d.Validated)

	// The classification call was still made and still costs tokens.
	assert.Equal(t, int64(100), f.usedTokens(t))
}

func TestRouteIgnoresForeignMentions(t *testing.T) {
	f := newFixture(t, &fakeOracle{resp: generateTestCall(100)}, Options{})

	// n1 belongs to the fixture user; a made-up note does not count.
	d, err := f.router.Route(context.Background(), f.userID, RouteRequest{
		Message:  "make a test from @[Stolen](n999)",
		Mentions: []Mention{{NoteID: "n999", NoteName: "Stolen"}},
	})
	require.NoError(t, err)
	assert.Equal(t, IntentNone, d.Intent)
	assert.Contains(t, d.Reasoning, "requires note mentions")
}

func TestRouteInputValidation(t *testing.T) {
	f := newFixture(t, &fakeOracle{resp: generateTestCall(1)}, Options{})
	ctx := context.Background()

	_, err := f.router.Route(ctx, "", RouteRequest{Message: "hello"})
	assert.ErrorIs(t, err, ErrNoUser)

	_, err = f.router.Route(ctx, f.userID, RouteRequest{Message: "   \n\t "})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	// Unicode and vertical whitespace count as empty too.
	_, err = f.router.Route(ctx, f.userID, RouteRequest{Message: "\v\f  "})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	assert.Equal(t, 0, f.oracle.calls)
}

func TestRouteQuotaExceeded(t *testing.T) {
	f := newFixture(t, &fakeOracle{resp: generateTestCall(1)}, Options{})
	ctx := context.Background()

	// free plan: 10000. Burn 9600 so the 500-token estimate no longer fits.
	require.NoError(t, f.store.AddUsage(ctx, f.userID, quota.PeriodStart(time.Now()), 9600))

	_, err := f.router.Route(ctx, f.userID, RouteRequest{Message: "quiz me"})
	require.Error(t, err)

	var exceeded *quota.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, int64(10_000), exceeded.Limit)
	assert.Equal(t, int64(9600), exceeded.Current)
	assert.Equal(t, int64(400), exceeded.Remaining)

	// Denied before dispatch: the oracle was never called.
	assert.Equal(t, 0, f.oracle.calls)
}

func TestRouteUpstreamErrorNoCommit(t *testing.T) {
	f := newFixture(t, &fakeOracle{err: context.DeadlineExceeded}, Options{})

	_, err := f.router.Route(context.Background(), f.userID, RouteRequest{Message: "quiz me"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)

	// The actual cost was never learned, so nothing was committed.
	assert.Equal(t, int64(0), f.usedTokens(t))
}

func TestRouteUpstreamErrorCommitsEstimateWhenConfigured(t *testing.T) {
	f := newFixture(t, &fakeOracle{err: errors.New("boom")},
		Options{ClassificationEstimate: 500, CommitOnUpstreamError: true})

	_, err := f.router.Route(context.Background(), f.userID, RouteRequest{Message: "quiz me"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)

	assert.Equal(t, int64(500), f.usedTokens(t))
}

// blockingOracle signals when the call starts and answers only once
// released, so a test can cancel the caller's context mid-call.
type blockingOracle struct {
	started  chan struct{}
	release  chan struct{}
	resp     *oracle.GenerateResponse
	finished bool
}

func (b *blockingOracle) Generate(ctx context.Context, req oracle.GenerateRequest) (*oracle.GenerateResponse, error) {
	close(b.started)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		b.finished = true
		return b.resp, nil
	}
}

func TestRouteCallerDisconnectDoesNotAbortOracleOrCommit(t *testing.T) {
	gen := &blockingOracle{
		started: make(chan struct{}),
		release: make(chan struct{}),
		resp:    generateTestCall(250),
	}
	f := newFixtureWith(t, gen, Options{})

	// The client drops while the oracle call is in flight; the upstream
	// call then finishes server-side.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-gen.started
		cancel()
		close(gen.release)
	}()

	d, err := f.router.Route(ctx, f.userID, RouteRequest{
		Message:  "turn @[Lecture1](n1) into a test",
		Mentions: []Mention{{NoteID: "n1", NoteName: "Lecture1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "test", d.Intent)
	assert.True(t, gen.finished, "oracle call should run to completion")

	// The call was made, so its cost is still billed.
	assert.Equal(t, int64(250), f.usedTokens(t))
}

func TestRouteExplicitZeroTemperature(t *testing.T) {
	zero := 0.0
	f := newFixture(t, &fakeOracle{resp: generateTestCall(10)}, Options{Temperature: &zero})

	_, err := f.router.Route(context.Background(), f.userID, RouteRequest{
		Message:  "turn @[Lecture1](n1) into a test",
		Mentions: []Mention{{NoteID: "n1", NoteName: "Lecture1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 0.0, f.oracle.lastReq.Temperature)
}

func TestRouteUnknownFunction(t *testing.T) {
	f := newFixture(t, &fakeOracle{resp: &oracle.GenerateResponse{
		Candidates: []oracle.Candidate{{
			Content: oracle.Content{Parts: []oracle.Part{{
				FunctionCall: &oracle.FunctionCall{Name: "foo"},
			}}},
		}},
		UsageMetadata: oracle.UsageMetadata{TotalTokenCount: 50},
	}}, Options{})

	d, err := f.router.Route(context.Background(), f.userID, RouteRequest{Message: "do the thing"})
	require.NoError(t, err)

	assert.Equal(t, IntentNone, d.Intent)
	assert.Equal(t, "Unknown function called: foo", d.Reasoning)
	assert.Equal(t, int64(50), f.usedTokens(t))
}

func TestRouteCourseSearchParameters(t *testing.T) {
	f := newFixture(t, &fakeOracle{resp: &oracle.GenerateResponse{
		Candidates: []oracle.Candidate{{
			Content: oracle.Content{Parts: []oracle.Part{{
				FunctionCall: &oracle.FunctionCall{
					Name: "search_courses",
					Args: map[string]any{"school": "MIT", "department": "CS"},
				},
			}}},
		}},
		UsageMetadata: oracle.UsageMetadata{TotalTokenCount: 80},
	}}, Options{})

	// No mentions needed for course search.
	d, err := f.router.Route(context.Background(), f.userID, RouteRequest{Message: "find CS courses at MIT"})
	require.NoError(t, err)

	assert.Equal(t, "course_search", d.Intent)
	assert.True(t, d.Validated)
	assert.Equal(t, "MIT", d.Parameters["school"])
	assert.Equal(t, "CS", d.Parameters["department"])
}
