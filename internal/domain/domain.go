// Package domain defines the core records shared across the store,
// the agent, and the API layer.
package domain

import (
	"encoding/json"
	"time"
)

// Session status values. These are part of the external API contract
// and must keep their exact spelling.
const (
	SessionActive                  = "ACTIVE"
	SessionWaitingForClarification = "WAITING_FOR_CLARIFICATION"
	SessionClosed                  = "CLOSED"
)

// Listing status values.
const (
	ListingActive  = "active"
	ListingRemoved = "removed"
)

// Message senders.
const (
	SenderUser  = "user"
	SenderAgent = "agent"
)

// Message types.
const (
	MessageNormal        = "normal"
	MessageClarification = "clarification_question"
)

// Clarification status values. Only meaningful on messages of type
// clarification_question. Only "pending" blocks a session.
const (
	ClarificationPending  = "pending"
	ClarificationAnswered = "answered"
	ClarificationSkipped  = "skipped"
)

// User is an account record. Passwords are stored as bcrypt hashes.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session groups the listings and chat history of one research effort,
// e.g. "used cars under 15k". Status transitions between ACTIVE and
// WAITING_FOR_CLARIFICATION are driven by the clarification scan in the
// agent package; CLOSED is terminal and set only by explicit request.
//
// PendingClarificationID is a denormalized convenience pointing at one
// still-pending blocking clarification. The scan over pending blocking
// messages is the source of truth.
type Session struct {
	ID                     string
	UserID                 string
	Title                  string
	Category               string
	Requirements           string
	Status                 string
	PendingClarificationID string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Message is an append-only chat record. ClarificationStatus and
// AnswerMessageID are the only fields mutated after creation.
type Message struct {
	ID                  string
	SessionID           string
	Sender              string
	Type                string
	Text                string
	IsBlocking          bool
	ClarificationStatus string
	AnswerMessageID     string
	TargetListingID     string
	CreatedAt           time.Time
}

// IsPendingBlocking reports whether this message is a blocking
// clarification question that has not been resolved yet.
func (m *Message) IsPendingBlocking() bool {
	return m.Type == MessageClarification &&
		m.IsBlocking &&
		m.ClarificationStatus == ClarificationPending
}

// Listing is a marketplace item under evaluation. Score and Rationale
// are written exclusively by UPDATE_EVALUATIONS actions; Status moves
// one way from active to removed.
type Listing struct {
	ID          string
	SessionID   string
	Title       string
	URL         string
	Price       float64
	HasPrice    bool
	Currency    string
	Marketplace string
	Metadata    map[string]any
	Description string
	Status      string
	Score       *int
	Rationale   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AgentMemory type values.
const (
	MemoryUserPreferences = "user_preferences"
	MemorySessionSummary  = "session_summary"
)

// AgentMemory is a keyed JSON document owned by the agent. Keys are
// "user:<id>" or "session:<id>"; one record per key, upsert semantics.
type AgentMemory struct {
	Key         string
	Type        string
	Data        json.RawMessage
	LastUpdated time.Time
}

// AuthToken is an opaque server-side login token delivered as a cookie.
type AuthToken struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}
