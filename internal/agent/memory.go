package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/felixgeelhaar/lookout/internal/domain"
	"github.com/felixgeelhaar/lookout/internal/store"
)

// UserPreferences is the agent's long-lived picture of one user,
// organized per category (e.g. "cars" -> {"budget_max": 15000}).
type UserPreferences struct {
	Categories map[string]map[string]any `json:"categories"`
	Summary    *string                   `json:"summary"`
}

// DefaultUserPreferences is the well-formed empty document returned
// for users the agent has not seen yet.
func DefaultUserPreferences() UserPreferences {
	return UserPreferences{Categories: map[string]map[string]any{}}
}

// SessionSummary is the agent's rolling digest of one session.
type SessionSummary struct {
	Requirements  []string `json:"requirements"`
	Summary       *string  `json:"summary"`
	TopListingIDs []string `json:"top_listing_ids"`
	OpenQuestions []string `json:"open_questions"`
}

// DefaultSessionSummary is the well-formed empty document returned for
// sessions without a stored summary.
func DefaultSessionSummary() SessionSummary {
	return SessionSummary{
		Requirements:  []string{},
		TopListingIDs: []string{},
		OpenQuestions: []string{},
	}
}

// UserKey returns the memory key for a user's preference document.
func UserKey(userID string) string {
	return "user:" + userID
}

// SessionKey returns the memory key for a session's summary document.
func SessionKey(sessionID string) string {
	return "session:" + sessionID
}

// Memory manages the agent's keyed JSON documents. Loads never signal
// absence: unseen keys yield the type-specific default so the prompt
// builder always has a well-formed structure to serialize.
//
// There is no locking here; one session is driven by one user at a
// time and concurrent writers to the same key race last-write-wins.
type Memory struct {
	store store.Storage
}

func NewMemory(s store.Storage) *Memory {
	return &Memory{store: s}
}

// LoadUserPreferences returns the stored preference document for the
// user, or the default document when none exists.
func (m *Memory) LoadUserPreferences(ctx context.Context, userID string) (UserPreferences, error) {
	rec, err := m.store.GetAgentMemory(ctx, UserKey(userID))
	if err != nil {
		return UserPreferences{}, err
	}
	if rec == nil || rec.Type != domain.MemoryUserPreferences {
		return DefaultUserPreferences(), nil
	}

	var prefs UserPreferences
	if err := json.Unmarshal(rec.Data, &prefs); err != nil {
		return UserPreferences{}, fmt.Errorf("unmarshal user preferences: %w", err)
	}
	if prefs.Categories == nil {
		prefs.Categories = map[string]map[string]any{}
	}
	return prefs, nil
}

// SaveUserPreferences overwrites the full preference document.
func (m *Memory) SaveUserPreferences(ctx context.Context, userID string, prefs UserPreferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("marshal user preferences: %w", err)
	}
	return m.store.UpsertAgentMemory(ctx, UserKey(userID), domain.MemoryUserPreferences, data)
}

// MergeUserPreferences merges a preference patch into the stored
// document. Merging is shallow at the category level: each category's
// fields are overwritten key by key, fields absent from the patch are
// preserved. A summary in the patch replaces the stored summary
// verbatim.
func (m *Memory) MergeUserPreferences(ctx context.Context, userID string, patch PreferencePatch) error {
	current, err := m.LoadUserPreferences(ctx, userID)
	if err != nil {
		return err
	}

	for category, fields := range patch.Categories {
		if current.Categories[category] == nil {
			current.Categories[category] = map[string]any{}
		}
		for k, v := range fields {
			current.Categories[category][k] = v
		}
	}

	if patch.Summary != nil {
		current.Summary = patch.Summary
	}

	return m.SaveUserPreferences(ctx, userID, current)
}

// LoadSessionSummary returns the stored summary document for the
// session, or the default document when none exists.
func (m *Memory) LoadSessionSummary(ctx context.Context, sessionID string) (SessionSummary, error) {
	rec, err := m.store.GetAgentMemory(ctx, SessionKey(sessionID))
	if err != nil {
		return SessionSummary{}, err
	}
	if rec == nil || rec.Type != domain.MemorySessionSummary {
		return DefaultSessionSummary(), nil
	}

	var summary SessionSummary
	if err := json.Unmarshal(rec.Data, &summary); err != nil {
		return SessionSummary{}, fmt.Errorf("unmarshal session summary: %w", err)
	}
	return summary, nil
}

// SaveSessionSummary overwrites the full summary document.
func (m *Memory) SaveSessionSummary(ctx context.Context, sessionID string, summary SessionSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal session summary: %w", err)
	}
	return m.store.UpsertAgentMemory(ctx, SessionKey(sessionID), domain.MemorySessionSummary, data)
}

// DeleteSessionMemory removes the session's summary document. Called
// by the orchestrating layer when the session is deleted; the memory
// table has no foreign keys of its own.
func (m *Memory) DeleteSessionMemory(ctx context.Context, sessionID string) error {
	_, err := m.store.DeleteAgentMemory(ctx, SessionKey(sessionID))
	return err
}

// DeleteUserMemory removes the user's preference document.
func (m *Memory) DeleteUserMemory(ctx context.Context, userID string) error {
	_, err := m.store.DeleteAgentMemory(ctx, UserKey(userID))
	return err
}
