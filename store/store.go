// Package store defines the storage interface for the intent service and
// provides SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface for the intent service.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*User, error)

	// Notes (metadata only; content lives with the notes service)
	CreateNote(ctx context.Context, note *Note) error
	GetNote(ctx context.Context, id string) (*Note, error)
	ListNotesByUser(ctx context.Context, userID string) ([]Note, error)

	// Subscriptions
	GetSubscription(ctx context.Context, userID string) (*Subscription, error)
	UpsertSubscription(ctx context.Context, sub *Subscription) error

	// Token usage
	GetUsage(ctx context.Context, userID string) (*Usage, error)
	PutUsage(ctx context.Context, usage *Usage) error
	AddUsage(ctx context.Context, userID string, periodStart time.Time, tokens int64) error

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// User represents an account.
type User struct {
	ID           string    `json:"id"`
	ExternalID   string    `json:"external_id,omitempty"` // external auth subject or empty
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"` // "admin" or "user"
	CreatedAt    time.Time `json:"created_at"`
}

// Note is the metadata for a stored note. The chat router only needs enough
// to verify that a mentioned note exists and belongs to the user.
type Note struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscription represents a user's billing subscription.
type Subscription struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Plan             string    `json:"plan"`   // "free", "pro", "premium"
	Status           string    `json:"status"` // "active", "canceled", "past_due"
	CurrentPeriodEnd time.Time `json:"current_period_end"`
	CreatedAt        time.Time `json:"created_at"`
}

// Usage is the per-user token counter for a billing period. Tokens only
// grows within a period; PeriodStart advances at rollover.
type Usage struct {
	UserID      string    `json:"user_id"`
	PeriodStart time.Time `json:"period_start"`
	Tokens      int64     `json:"tokens"`
	UpdatedAt   time.Time `json:"updated_at"`
}
