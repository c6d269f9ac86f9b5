// Package store provides persistence for lookout records.
package store

import (
	"context"
	"encoding/json"

	"github.com/felixgeelhaar/lookout/internal/domain"
)

// Storage defines the persistence contract. Lookups for a missing
// record return (nil, nil); storage faults are returned as errors and
// never masked.
type Storage interface {
	// User management
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// Auth tokens (opaque login cookies)
	CreateAuthToken(ctx context.Context, token *domain.AuthToken) error
	GetAuthToken(ctx context.Context, token string) (*domain.AuthToken, error)
	DeleteAuthToken(ctx context.Context, token string) error

	// Session management
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	ListSessionsByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	UpdateSessionMeta(ctx context.Context, session *domain.Session) error
	UpdateSessionStatus(ctx context.Context, sessionID, status, pendingClarificationID string) error
	// DeleteSession removes the session and, via foreign keys, its
	// messages and listings. Agent memory is not cascaded here; the
	// caller issues that delete explicitly.
	DeleteSession(ctx context.Context, id string) (bool, error)

	// Messages (append-only chat history)
	CreateMessage(ctx context.Context, msg *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	// ListMessages returns messages ordered by creation time. limit <= 0
	// means no limit; with a limit the most recent messages are kept.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*domain.Message, error)
	UpdateMessageClarification(ctx context.Context, messageID, status, answerMessageID string) error
	// ListPendingBlockingClarifications is the scan behind the session
	// clarification state machine.
	ListPendingBlockingClarifications(ctx context.Context, sessionID string) ([]*domain.Message, error)
	ListClarificationsByListing(ctx context.Context, listingID string) ([]*domain.Message, error)

	// Listings
	CreateListing(ctx context.Context, listing *domain.Listing) error
	GetListing(ctx context.Context, id string) (*domain.Listing, error)
	// ListListings orders by score descending with unscored listings
	// last, then by creation time descending.
	ListListings(ctx context.Context, sessionID string, activeOnly bool) ([]*domain.Listing, error)
	// UpdateListingEvaluation overwrites score and rationale. Returns
	// false when the listing does not exist.
	UpdateListingEvaluation(ctx context.Context, listingID string, score int, rationale string) (bool, error)
	MarkListingRemoved(ctx context.Context, listingID string) (bool, error)

	// Agent memory (keyed JSON documents)
	GetAgentMemory(ctx context.Context, key string) (*domain.AgentMemory, error)
	UpsertAgentMemory(ctx context.Context, key, memType string, data json.RawMessage) error
	DeleteAgentMemory(ctx context.Context, key string) (bool, error)

	// Configuration management (provider keys etc.)
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)

	Ping(ctx context.Context) error
	Close() error
}
