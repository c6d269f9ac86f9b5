package agent

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/lookout/internal/domain"
	"github.com/felixgeelhaar/lookout/internal/observe"
	"github.com/felixgeelhaar/lookout/internal/provider"
	"github.com/felixgeelhaar/lookout/internal/store"
)

type svcFixture struct {
	store *store.SQLiteStore
	stub  *provider.StubProvider
	svc   *Service
	sess  *domain.Session
}

func newSvcFixture(t *testing.T, responses ...string) *svcFixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "lookout.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	now := time.Now()
	user := &domain.User{ID: "u1", Email: "u1@example.com", PasswordHash: "x", CreatedAt: now, UpdatedAt: now}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	sess := &domain.Session{
		ID: "s1", UserID: "u1", Title: "Cars", Category: "cars",
		Status: domain.SessionActive, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	stub := provider.NewStubProvider(responses...)
	return &svcFixture{
		store: s,
		stub:  stub,
		svc:   NewService(s, stub, observe.New(io.Discard, false)),
		sess:  sess,
	}
}

func (f *svcFixture) addListing(t *testing.T, id, title string) {
	t.Helper()
	now := time.Now()
	l := &domain.Listing{
		ID: id, SessionID: f.sess.ID, Title: title,
		Price: 11500, HasPrice: true, Status: domain.ListingActive,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := f.store.CreateListing(context.Background(), l); err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
}

func TestService_ProcessTurn(t *testing.T) {
	ctx := context.Background()

	t.Run("EvaluationTurn", func(t *testing.T) {
		f := newSvcFixture(t, "```json\n{\"message\": \"Scored your listing.\", \"actions\": [{\"type\": \"UPDATE_EVALUATIONS\", \"evaluations\": [{\"listing_id\": \"l1\", \"score\": 74, \"rationale\": \"below market\"}]}]}\n```")
		f.addListing(t, "l1", "2014 Civic")

		res, err := f.svc.ProcessTurn(ctx, TurnRequest{SessionID: "s1", UserID: "u1", Text: "What do you think of the Civic?"})
		if err != nil {
			t.Fatalf("ProcessTurn failed: %v", err)
		}
		if !res.Parsed {
			t.Error("Expected parsed response")
		}
		if res.AgentMessage.Text != "Scored your listing." {
			t.Errorf("Expected parsed message used, got %q", res.AgentMessage.Text)
		}

		l, _ := f.store.GetListing(ctx, "l1")
		if l.Score == nil || *l.Score != 74 {
			t.Errorf("Evaluation not applied: %v", l.Score)
		}

		msgs, _ := f.store.ListMessages(ctx, "s1", 0)
		if len(msgs) != 2 {
			t.Fatalf("Expected user and agent message persisted, got %d", len(msgs))
		}
		if msgs[0].Sender != domain.SenderUser || msgs[1].Sender != domain.SenderAgent {
			t.Errorf("Wrong senders: %q %q", msgs[0].Sender, msgs[1].Sender)
		}

		// Prompt carried the listing and the user's text.
		if len(f.stub.Prompts) != 1 {
			t.Fatalf("Expected one model call, got %d", len(f.stub.Prompts))
		}
		prompt := f.stub.Prompts[0]
		if !strings.Contains(prompt, "2014 Civic") || !strings.Contains(prompt, "What do you think of the Civic?") {
			t.Error("Prompt missing session context or user message")
		}
	})

	t.Run("UnparsableAnswerDegradesGracefully", func(t *testing.T) {
		f := newSvcFixture(t, "Honestly it depends on the mileage.")

		res, err := f.svc.ProcessTurn(ctx, TurnRequest{SessionID: "s1", UserID: "u1", Text: "thoughts?"})
		if err != nil {
			t.Fatalf("ProcessTurn failed: %v", err)
		}
		if res.Parsed {
			t.Error("Expected Parsed=false")
		}
		if len(res.Actions) != 0 {
			t.Errorf("Expected zero actions, got %d", len(res.Actions))
		}
		if res.AgentMessage.Text != "Honestly it depends on the mileage." {
			t.Errorf("Expected raw text as message, got %q", res.AgentMessage.Text)
		}
	})

	t.Run("ProviderFailureBecomesAgentError", func(t *testing.T) {
		f := newSvcFixture(t)
		f.stub.Err = provider.ErrStubFailure

		_, err := f.svc.ProcessTurn(ctx, TurnRequest{SessionID: "s1", UserID: "u1", Text: "hi"})
		var agentErr *AgentError
		if !errors.As(err, &agentErr) {
			t.Fatalf("Expected *AgentError, got %v", err)
		}
		if agentErr.Code != CodeProviderError {
			t.Errorf("Expected code %s, got %s", CodeProviderError, agentErr.Code)
		}
		if !strings.Contains(agentErr.Message, "The assistant encountered an error") {
			t.Errorf("Expected renderable message, got %q", agentErr.Message)
		}
	})

	t.Run("NormalMessageAnswersPendingClarification", func(t *testing.T) {
		f := newSvcFixture(t,
			"```json\n{\"message\": \"Before I score this, what's your budget?\", \"actions\": [{\"type\": \"ASK_CLARIFYING_QUESTION\", \"question\": \"What's your budget?\", \"listing_id\": \"l1\"}]}\n```",
			"```json\n{\"message\": \"Thanks, scoring now.\", \"actions\": []}\n```",
		)
		f.addListing(t, "l1", "2014 Civic")

		res, err := f.svc.ProcessTurn(ctx, TurnRequest{SessionID: "s1", UserID: "u1", Text: "Score the Civic"})
		if err != nil {
			t.Fatalf("ProcessTurn failed: %v", err)
		}
		if res.Session.Status != domain.SessionWaitingForClarification {
			t.Fatalf("Expected waiting session, got %q", res.Session.Status)
		}
		clarID := res.Session.PendingClarificationID

		res2, err := f.svc.ProcessTurn(ctx, TurnRequest{SessionID: "s1", UserID: "u1", Text: "About 15k"})
		if err != nil {
			t.Fatalf("ProcessTurn failed: %v", err)
		}
		if res2.Session.Status != domain.SessionActive {
			t.Errorf("Expected ACTIVE after answer, got %q", res2.Session.Status)
		}

		clar, _ := f.store.GetMessage(ctx, clarID)
		if clar.ClarificationStatus != domain.ClarificationAnswered {
			t.Errorf("Expected answered, got %q", clar.ClarificationStatus)
		}
		if clar.AnswerMessageID != res2.UserMessage.ID {
			t.Errorf("Expected answer linked to user message %s, got %q", res2.UserMessage.ID, clar.AnswerMessageID)
		}
	})

	t.Run("UnknownSession", func(t *testing.T) {
		f := newSvcFixture(t)
		_, err := f.svc.ProcessTurn(ctx, TurnRequest{SessionID: "nope", UserID: "u1", Text: "hi"})
		if !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("ForeignSession", func(t *testing.T) {
		f := newSvcFixture(t)
		_, err := f.svc.ProcessTurn(ctx, TurnRequest{SessionID: "s1", UserID: "intruder", Text: "hi"})
		if !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("ClosedSession", func(t *testing.T) {
		f := newSvcFixture(t)
		if err := f.store.UpdateSessionStatus(ctx, "s1", domain.SessionClosed, ""); err != nil {
			t.Fatalf("UpdateSessionStatus failed: %v", err)
		}
		_, err := f.svc.ProcessTurn(ctx, TurnRequest{SessionID: "s1", UserID: "u1", Text: "hi"})
		if !errors.Is(err, ErrSessionClosed) {
			t.Errorf("Expected ErrSessionClosed, got %v", err)
		}
	})
}

func TestService_ReevaluateListing(t *testing.T) {
	ctx := context.Background()

	f := newSvcFixture(t, "```json\n{\"message\": \"Re-scored.\", \"actions\": [{\"type\": \"UPDATE_EVALUATIONS\", \"evaluations\": [{\"listing_id\": \"l1\", \"score\": 61, \"rationale\": \"fair\"}]}]}\n```")
	f.addListing(t, "l1", "2014 Civic")

	res, err := f.svc.ReevaluateListing(ctx, "s1", "u1", "l1")
	if err != nil {
		t.Fatalf("ReevaluateListing failed: %v", err)
	}
	if res.UserMessage != nil {
		t.Error("Expected no user chat message for re-evaluation")
	}
	if res.AgentMessage == nil || res.AgentMessage.Text != "Re-scored." {
		t.Errorf("Expected agent message persisted, got %+v", res.AgentMessage)
	}

	l, _ := f.store.GetListing(ctx, "l1")
	if l.Score == nil || *l.Score != 61 {
		t.Errorf("Expected score 61, got %v", l.Score)
	}

	if _, err := f.svc.ReevaluateListing(ctx, "s1", "u1", "ghost"); err == nil {
		t.Error("Expected error for unknown listing")
	}
}

func TestService_AnswerAndSkipClarification(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture(t,
		"```json\n{\"message\": \"Two questions.\", \"actions\": ["+
			"{\"type\": \"ASK_CLARIFYING_QUESTION\", \"question\": \"Budget for l1?\", \"listing_id\": \"l1\"},"+
			"{\"type\": \"ASK_CLARIFYING_QUESTION\", \"question\": \"Mileage cap for l2?\", \"listing_id\": \"l2\"}]}\n```",
	)
	f.addListing(t, "l1", "2014 Civic")
	f.addListing(t, "l2", "2016 Corolla")

	res, err := f.svc.ProcessTurn(ctx, TurnRequest{SessionID: "s1", UserID: "u1", Text: "Compare these"})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	c1 := res.Process.Clarifications[0]
	c2 := res.Process.Clarifications[1]

	answer, sess, err := f.svc.AnswerClarification(ctx, "s1", "u1", c1.ID, "15k tops")
	if err != nil {
		t.Fatalf("AnswerClarification failed: %v", err)
	}
	if sess.Status != domain.SessionWaitingForClarification {
		t.Errorf("Expected session still waiting on second clarification, got %q", sess.Status)
	}
	got, _ := f.store.GetMessage(ctx, c1.ID)
	if got.AnswerMessageID != answer.ID {
		t.Errorf("Expected answer link %s, got %q", answer.ID, got.AnswerMessageID)
	}

	sess, err = f.svc.SkipClarification(ctx, "s1", "u1", c2.ID)
	if err != nil {
		t.Fatalf("SkipClarification failed: %v", err)
	}
	if sess.Status != domain.SessionActive {
		t.Errorf("Expected ACTIVE after skip, got %q", sess.Status)
	}

	// Resolving an unknown clarification is an error.
	if _, _, err := f.svc.AnswerClarification(ctx, "s1", "u1", "ghost", "x"); err == nil {
		t.Error("Expected error for unknown clarification")
	}
}

func TestService_PreferencesAbsorbedButReported(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture(t, "```json\n{\"message\": \"Noted.\", \"actions\": [{\"type\": \"UPDATE_PREFERENCES\", \"preference_patch\": {\"categories\": {\"cars\": {\"important_factors\": [\"reliability\"]}}}}]}\n```")

	res, err := f.svc.ProcessTurn(ctx, TurnRequest{SessionID: "s1", UserID: "u1", Text: "I care about reliability"})
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if len(res.Actions) != 1 || res.Actions[0].Type != ActionUpdatePreferences {
		t.Errorf("Expected preference action reported, got %+v", res.Actions)
	}

	prefs, _ := f.svc.Memory().LoadUserPreferences(ctx, "u1")
	factors, ok := prefs.Categories["cars"]["important_factors"].([]any)
	if !ok || len(factors) != 1 || factors[0] != "reliability" {
		t.Errorf("Preference not absorbed: %+v", prefs.Categories)
	}
}
