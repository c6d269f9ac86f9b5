package agent

import (
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/lookout/internal/domain"
)

func TestPromptBuilder(t *testing.T) {
	b := NewPromptBuilder()
	score := 74
	sc := SessionContext{
		User: &domain.User{ID: "u1", Email: "u@example.com"},
		Session: &domain.Session{
			ID: "s1", Title: "Used cars", Category: "cars",
			Requirements: "under 15k", Status: domain.SessionActive,
		},
		RecentMessages: []*domain.Message{
			{Sender: domain.SenderUser, Text: "Score the Civic", CreatedAt: time.Now()},
			{Sender: domain.SenderAgent, Text: "Looking now.", CreatedAt: time.Now()},
		},
		Listings: []*domain.Listing{
			{
				ID: "l1", Title: "2014 Honda Civic", Price: 9800, HasPrice: true,
				Currency: "$", Metadata: map[string]any{"mileage": 92000},
				Score: &score, Rationale: "below market",
			},
			{ID: "l2", Title: "2016 Corolla"},
		},
	}

	prefs := DefaultUserPreferences()
	prefs.Categories["cars"] = map[string]any{"budget_max": 15000}

	prompt := b.BuildFullPrompt("What about the Corolla?", sc, prefs, DefaultSessionSummary())

	for _, want := range []string{
		"marketplace research assistant",
		"UPDATE_EVALUATIONS",
		"ASK_CLARIFYING_QUESTION",
		"UPDATE_PREFERENCES",
		"budget_max",
		"2014 Honda Civic",
		"ID: l1",
		"Price: $9800.00",
		"mileage",
		"Current Score: 74/100",
		"USER: Score the Civic",
		"AGENT: Looking now.",
		"under 15k",
		"What about the Corolla?",
		"Respond with JSON as specified above:",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Prompt missing %q", want)
		}
	}

	// An unscored listing carries no score line.
	if strings.Count(prompt, "Current Score:") != 1 {
		t.Errorf("Expected exactly one scored listing in prompt")
	}
}

func TestPromptBuilder_TruncatesHistory(t *testing.T) {
	b := NewPromptBuilder()
	sc := SessionContext{
		Session: &domain.Session{ID: "s1", Title: "t", Category: "c", Status: domain.SessionActive},
	}
	for i := 0; i < 15; i++ {
		sc.RecentMessages = append(sc.RecentMessages, &domain.Message{
			Sender: domain.SenderUser,
			Text:   "message-" + string(rune('a'+i)),
		})
	}

	prompt := b.BuildFullPrompt("x", sc, DefaultUserPreferences(), DefaultSessionSummary())
	if strings.Contains(prompt, "message-a") {
		t.Error("Expected oldest messages dropped from prompt")
	}
	if !strings.Contains(prompt, "message-o") {
		t.Error("Expected newest message kept in prompt")
	}
}
