package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// createTestUser is a helper that inserts a user and returns it.
func createTestUser(t *testing.T, s *SQLiteStore, username string) *User {
	t.Helper()
	u := &User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: "hash-" + username,
		Role:         "user",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("createTestUser(%s): %v", username, err)
	}
	return u
}

func TestCreateAndGetUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := createTestUser(t, s, "alice")

	got, err := s.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got == nil {
		t.Fatal("GetUser: got nil")
	}
	if got.ID != user.ID || got.Username != "alice" || got.Role != "user" {
		t.Errorf("GetUser: got %+v", got)
	}

	byID, err := s.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if byID == nil || byID.Username != "alice" {
		t.Errorf("GetUserByID: got %+v", byID)
	}

	missing, err := s.GetUser(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetUser(nobody): %v", err)
	}
	if missing != nil {
		t.Errorf("GetUser(nobody): got %+v, want nil", missing)
	}
}

func TestGetUserByExternalID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &User{
		ID:         uuid.New().String(),
		ExternalID: "sub-ext-1",
		Username:   "bob",
		Role:       "user",
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetUserByExternalID(ctx, "sub-ext-1")
	if err != nil {
		t.Fatalf("GetUserByExternalID: %v", err)
	}
	if got == nil || got.ID != u.ID {
		t.Errorf("GetUserByExternalID: got %+v", got)
	}
}

func TestNotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "carol")

	n1 := &Note{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Title:     "Lecture 1",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	n2 := &Note{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Title:     "Lecture 2",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC().Add(time.Minute),
	}
	for _, n := range []*Note{n1, n2} {
		if err := s.CreateNote(ctx, n); err != nil {
			t.Fatalf("CreateNote: %v", err)
		}
	}

	got, err := s.GetNote(ctx, n1.ID)
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if got == nil || got.Title != "Lecture 1" {
		t.Errorf("GetNote: got %+v", got)
	}

	list, err := s.ListNotesByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListNotesByUser: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListNotesByUser: got %d notes, want 2", len(list))
	}
	// Most recently updated first.
	if list[0].ID != n2.ID {
		t.Errorf("ListNotesByUser order: got %q first, want %q", list[0].ID, n2.ID)
	}
}

func TestSubscriptionUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "dave")

	sub := &Subscription{
		ID:               uuid.New().String(),
		UserID:           user.ID,
		Plan:             "free",
		Status:           "active",
		CurrentPeriodEnd: time.Now().UTC().Add(30 * 24 * time.Hour),
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.UpsertSubscription(ctx, sub); err != nil {
		t.Fatalf("UpsertSubscription: %v", err)
	}

	// Mid-period upgrade replaces the plan in place.
	sub.Plan = "pro"
	if err := s.UpsertSubscription(ctx, sub); err != nil {
		t.Fatalf("UpsertSubscription upgrade: %v", err)
	}

	got, err := s.GetSubscription(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if got == nil || got.Plan != "pro" {
		t.Errorf("GetSubscription after upgrade: got %+v", got)
	}

	none, err := s.GetSubscription(ctx, "no-such-user")
	if err != nil {
		t.Fatalf("GetSubscription(missing): %v", err)
	}
	if none != nil {
		t.Errorf("GetSubscription(missing): got %+v, want nil", none)
	}
}

func TestAddUsageAccumulates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "erin")

	period := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	if err := s.AddUsage(ctx, user.ID, period, 100); err != nil {
		t.Fatalf("AddUsage: %v", err)
	}
	if err := s.AddUsage(ctx, user.ID, period, 250); err != nil {
		t.Fatalf("AddUsage: %v", err)
	}

	got, err := s.GetUsage(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if got == nil {
		t.Fatal("GetUsage: got nil")
	}
	if got.Tokens != 350 {
		t.Errorf("Tokens: got %d, want 350", got.Tokens)
	}
	if !got.PeriodStart.Equal(period) {
		t.Errorf("PeriodStart: got %v, want %v", got.PeriodStart, period)
	}
}

func TestAddUsageResetsOnNewPeriod(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "frank")

	july := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	august := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	if err := s.AddUsage(ctx, user.ID, july, 9000); err != nil {
		t.Fatalf("AddUsage(july): %v", err)
	}
	if err := s.AddUsage(ctx, user.ID, august, 42); err != nil {
		t.Fatalf("AddUsage(august): %v", err)
	}

	got, err := s.GetUsage(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if got.Tokens != 42 {
		t.Errorf("Tokens after rollover: got %d, want 42", got.Tokens)
	}
	if !got.PeriodStart.Equal(august) {
		t.Errorf("PeriodStart after rollover: got %v, want %v", got.PeriodStart, august)
	}
}

func TestGetUsageMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetUsage(context.Background(), "no-such-user")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if got != nil {
		t.Errorf("GetUsage: got %+v, want nil", got)
	}
}
