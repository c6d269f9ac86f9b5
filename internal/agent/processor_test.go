package agent

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/felixgeelhaar/lookout/internal/domain"
	"github.com/felixgeelhaar/lookout/internal/observe"
	"github.com/felixgeelhaar/lookout/internal/store"
)

type procFixture struct {
	store *store.SQLiteStore
	proc  *Processor
	sess  *domain.Session
}

func newProcFixture(t *testing.T) *procFixture {
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

	obs := observe.New(io.Discard, false)
	return &procFixture{
		store: s,
		proc:  NewProcessor(s, NewMemory(s), obs),
		sess:  sess,
	}
}

func (f *procFixture) addListing(t *testing.T, id string) *domain.Listing {
	t.Helper()
	now := time.Now()
	l := &domain.Listing{
		ID: id, SessionID: f.sess.ID, Title: "Listing " + id,
		Status: domain.ListingActive, CreatedAt: now, UpdatedAt: now,
	}
	if err := f.store.CreateListing(context.Background(), l); err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	return l
}

func (f *procFixture) reload(t *testing.T) *domain.Session {
	t.Helper()
	sess, err := f.store.GetSession(context.Background(), f.sess.ID)
	if err != nil || sess == nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	return sess
}

func TestProcessor_Evaluations(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()
	f.addListing(t, "l1")
	f.addListing(t, "l2")

	t.Run("AppliedInOrder", func(t *testing.T) {
		actions := []Action{{
			Type: ActionUpdateEvaluations,
			Evaluations: []Evaluation{
				{ListingID: "l1", Score: 30, Rationale: "overpriced"},
				{ListingID: "l1", Score: 65, Rationale: "corrected after checking mileage"},
				{ListingID: "l2", Score: 85, Rationale: "great value"},
			},
		}}
		res, err := f.proc.ProcessActions(ctx, f.sess, actions, TurnHints{})
		if err != nil {
			t.Fatalf("ProcessActions failed: %v", err)
		}
		if res.EvaluationsApplied != 3 {
			t.Errorf("Expected 3 applied, got %d", res.EvaluationsApplied)
		}

		l1, _ := f.store.GetListing(ctx, "l1")
		if l1.Score == nil || *l1.Score != 65 {
			t.Errorf("Expected later evaluation to win, got %v", l1.Score)
		}
	})

	t.Run("UnknownListingIsNoOp", func(t *testing.T) {
		actions := []Action{{
			Type: ActionUpdateEvaluations,
			Evaluations: []Evaluation{
				{ListingID: "ghost", Score: 99, Rationale: "n/a"},
				{ListingID: "l2", Score: 70, Rationale: "revised"},
			},
		}}
		res, err := f.proc.ProcessActions(ctx, f.sess, actions, TurnHints{})
		if err != nil {
			t.Fatalf("ProcessActions failed: %v", err)
		}
		if res.EvaluationsSkipped != 1 || res.EvaluationsApplied != 1 {
			t.Errorf("Expected 1 skipped and 1 applied, got %+v", res)
		}
		l2, _ := f.store.GetListing(ctx, "l2")
		if l2.Score == nil || *l2.Score != 70 {
			t.Errorf("Expected l2 still updated, got %v", l2.Score)
		}
	})

	t.Run("RemovedListingStillUpdatable", func(t *testing.T) {
		if _, err := f.store.MarkListingRemoved(ctx, "l2"); err != nil {
			t.Fatalf("MarkListingRemoved failed: %v", err)
		}
		actions := []Action{{
			Type:        ActionUpdateEvaluations,
			Evaluations: []Evaluation{{ListingID: "l2", Score: 15, Rationale: "listing pulled"}},
		}}
		res, err := f.proc.ProcessActions(ctx, f.sess, actions, TurnHints{})
		if err != nil {
			t.Fatalf("ProcessActions failed: %v", err)
		}
		if res.EvaluationsApplied != 1 {
			t.Errorf("Expected removed listing evaluation applied, got %+v", res)
		}
	})
}

func TestProcessor_ClarificationTargets(t *testing.T) {
	ctx := context.Background()

	ask := func(listingID string) []Action {
		return []Action{{Type: ActionAskClarifyingQuestion, Question: "Which one matters more?", ListingID: listingID}}
	}

	t.Run("ExplicitIDWins", func(t *testing.T) {
		f := newProcFixture(t)
		f.addListing(t, "l1")
		f.addListing(t, "l2")

		res, err := f.proc.ProcessActions(ctx, f.sess, ask("l2"), TurnHints{DefaultListingID: "l1"})
		if err != nil {
			t.Fatalf("ProcessActions failed: %v", err)
		}
		if len(res.Clarifications) != 1 || res.Clarifications[0].TargetListingID != "l2" {
			t.Errorf("Expected explicit target l2, got %+v", res.Clarifications)
		}
	})

	t.Run("DefaultBeatsLastEvaluated", func(t *testing.T) {
		f := newProcFixture(t)
		f.addListing(t, "l1")
		f.addListing(t, "l2")

		actions := []Action{
			{Type: ActionUpdateEvaluations, Evaluations: []Evaluation{{ListingID: "l2", Score: 50, Rationale: "ok"}}},
			{Type: ActionAskClarifyingQuestion, Question: "Mileage tolerance?"},
		}
		res, err := f.proc.ProcessActions(ctx, f.sess, actions, TurnHints{DefaultListingID: "l1"})
		if err != nil {
			t.Fatalf("ProcessActions failed: %v", err)
		}
		if res.Clarifications[0].TargetListingID != "l1" {
			t.Errorf("Expected default listing l1, got %q", res.Clarifications[0].TargetListingID)
		}
	})

	t.Run("LastEvaluatedWhenNoDefault", func(t *testing.T) {
		f := newProcFixture(t)
		f.addListing(t, "l1")
		f.addListing(t, "l2")

		actions := []Action{
			{Type: ActionUpdateEvaluations, Evaluations: []Evaluation{{ListingID: "l2", Score: 50, Rationale: "ok"}}},
			{Type: ActionAskClarifyingQuestion, Question: "Mileage tolerance?"},
		}
		res, err := f.proc.ProcessActions(ctx, f.sess, actions, TurnHints{})
		if err != nil {
			t.Fatalf("ProcessActions failed: %v", err)
		}
		if res.Clarifications[0].TargetListingID != "l2" {
			t.Errorf("Expected last evaluated l2, got %q", res.Clarifications[0].TargetListingID)
		}
	})

	t.Run("SoleVisibleListing", func(t *testing.T) {
		f := newProcFixture(t)
		f.addListing(t, "l1")

		res, err := f.proc.ProcessActions(ctx, f.sess, ask(""), TurnHints{VisibleListingIDs: []string{"l1"}})
		if err != nil {
			t.Fatalf("ProcessActions failed: %v", err)
		}
		if res.Clarifications[0].TargetListingID != "l1" {
			t.Errorf("Expected sole visible l1, got %q", res.Clarifications[0].TargetListingID)
		}
	})

	t.Run("AmbiguousMeansSessionLevel", func(t *testing.T) {
		f := newProcFixture(t)
		f.addListing(t, "l1")
		f.addListing(t, "l2")

		res, err := f.proc.ProcessActions(ctx, f.sess, ask(""), TurnHints{VisibleListingIDs: []string{"l1", "l2"}})
		if err != nil {
			t.Fatalf("ProcessActions failed: %v", err)
		}
		if res.Clarifications[0].TargetListingID != "" {
			t.Errorf("Expected session-level clarification, got %q", res.Clarifications[0].TargetListingID)
		}
	})

	t.Run("UnknownExplicitFallsBack", func(t *testing.T) {
		f := newProcFixture(t)
		f.addListing(t, "l1")

		res, err := f.proc.ProcessActions(ctx, f.sess, ask("ghost"), TurnHints{DefaultListingID: "l1"})
		if err != nil {
			t.Fatalf("ProcessActions failed: %v", err)
		}
		if res.Clarifications[0].TargetListingID != "l1" {
			t.Errorf("Expected fallback to default, got %q", res.Clarifications[0].TargetListingID)
		}
	})

	t.Run("ForeignDefaultFallsBack", func(t *testing.T) {
		f := newProcFixture(t)
		f.addListing(t, "l1")
		f.addListing(t, "l2")

		now := time.Now()
		other := &domain.User{ID: "u2", Email: "u2@example.com", PasswordHash: "x", CreatedAt: now, UpdatedAt: now}
		if err := f.store.CreateUser(ctx, other); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
		foreignSess := &domain.Session{
			ID: "s2", UserID: "u2", Title: "Bikes", Category: "bikes",
			Status: domain.SessionActive, CreatedAt: now, UpdatedAt: now,
		}
		if err := f.store.CreateSession(ctx, foreignSess); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		foreign := &domain.Listing{
			ID: "foreign1", SessionID: "s2", Title: "Road bike",
			Status: domain.ListingActive, CreatedAt: now, UpdatedAt: now,
		}
		if err := f.store.CreateListing(ctx, foreign); err != nil {
			t.Fatalf("CreateListing failed: %v", err)
		}

		res, err := f.proc.ProcessActions(ctx, f.sess, ask(""), TurnHints{DefaultListingID: "foreign1"})
		if err != nil {
			t.Fatalf("ProcessActions failed: %v", err)
		}
		if res.Clarifications[0].TargetListingID != "" {
			t.Errorf("Expected session-level clarification, got %q", res.Clarifications[0].TargetListingID)
		}

		attached, err := f.store.ListClarificationsByListing(ctx, "foreign1")
		if err != nil {
			t.Fatalf("ListClarificationsByListing failed: %v", err)
		}
		if len(attached) != 0 {
			t.Errorf("Expected no clarifications on the other session's listing, got %d", len(attached))
		}
	})
}

func TestProcessor_StateMachine(t *testing.T) {
	ctx := context.Background()

	t.Run("BlockingClarificationBlocksSession", func(t *testing.T) {
		f := newProcFixture(t)
		f.addListing(t, "l1")

		actions := []Action{{Type: ActionAskClarifyingQuestion, Question: "Budget?", ListingID: "l1"}}
		res, err := f.proc.ProcessActions(ctx, f.sess, actions, TurnHints{})
		if err != nil {
			t.Fatalf("ProcessActions failed: %v", err)
		}

		sess := f.reload(t)
		if sess.Status != domain.SessionWaitingForClarification {
			t.Errorf("Expected WAITING_FOR_CLARIFICATION, got %q", sess.Status)
		}
		if sess.PendingClarificationID != res.Clarifications[0].ID {
			t.Errorf("Expected pointer at %s, got %q", res.Clarifications[0].ID, sess.PendingClarificationID)
		}

		answer := &domain.Message{
			ID: "ans1", SessionID: sess.ID, Sender: domain.SenderUser,
			Type: domain.MessageNormal, Text: "Up to 15k", CreatedAt: time.Now(),
		}
		if err := f.store.CreateMessage(ctx, answer); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
		err = f.proc.ResolveClarification(ctx, sess, res.Clarifications[0].ID, answer.ID, domain.ClarificationAnswered)
		if err != nil {
			t.Fatalf("ResolveClarification failed: %v", err)
		}

		sess = f.reload(t)
		if sess.Status != domain.SessionActive {
			t.Errorf("Expected ACTIVE after answer, got %q", sess.Status)
		}
		if sess.PendingClarificationID != "" {
			t.Errorf("Expected cleared pointer, got %q", sess.PendingClarificationID)
		}

		clar, _ := f.store.GetMessage(ctx, res.Clarifications[0].ID)
		if clar.ClarificationStatus != domain.ClarificationAnswered || clar.AnswerMessageID != "ans1" {
			t.Errorf("Answer not recorded on clarification: %+v", clar)
		}
	})

	t.Run("NonBlockingDoesNotBlock", func(t *testing.T) {
		f := newProcFixture(t)
		f.addListing(t, "l1")

		blocking := false
		actions := []Action{{Type: ActionAskClarifyingQuestion, Question: "Color?", Blocking: &blocking, ListingID: "l1"}}
		if _, err := f.proc.ProcessActions(ctx, f.sess, actions, TurnHints{}); err != nil {
			t.Fatalf("ProcessActions failed: %v", err)
		}
		if sess := f.reload(t); sess.Status != domain.SessionActive {
			t.Errorf("Expected ACTIVE, got %q", sess.Status)
		}
	})

	t.Run("TwoIndependentClarifications", func(t *testing.T) {
		f := newProcFixture(t)
		f.addListing(t, "l1")
		f.addListing(t, "l2")

		actions := []Action{
			{Type: ActionAskClarifyingQuestion, Question: "Service history for l1?", ListingID: "l1"},
			{Type: ActionAskClarifyingQuestion, Question: "Accident report for l2?", ListingID: "l2"},
		}
		res, err := f.proc.ProcessActions(ctx, f.sess, actions, TurnHints{})
		if err != nil {
			t.Fatalf("ProcessActions failed: %v", err)
		}
		if len(res.Clarifications) != 2 {
			t.Fatalf("Expected 2 clarifications, got %d", len(res.Clarifications))
		}
		c1, c2 := res.Clarifications[0], res.Clarifications[1]
		if c1.TargetListingID != "l1" || c2.TargetListingID != "l2" {
			t.Fatalf("Wrong targets: %q %q", c1.TargetListingID, c2.TargetListingID)
		}

		sess := f.reload(t)
		if sess.Status != domain.SessionWaitingForClarification {
			t.Fatalf("Expected WAITING_FOR_CLARIFICATION, got %q", sess.Status)
		}

		// Answering the first leaves the second pending, session stays blocked.
		if err := f.proc.ResolveClarification(ctx, sess, c1.ID, "", domain.ClarificationAnswered); err != nil {
			t.Fatalf("ResolveClarification failed: %v", err)
		}
		sess = f.reload(t)
		if sess.Status != domain.SessionWaitingForClarification {
			t.Errorf("Expected session still waiting, got %q", sess.Status)
		}
		if sess.PendingClarificationID != c2.ID {
			t.Errorf("Expected pointer moved to %s, got %q", c2.ID, sess.PendingClarificationID)
		}

		// Answering the second releases the session.
		if err := f.proc.ResolveClarification(ctx, sess, c2.ID, "", domain.ClarificationAnswered); err != nil {
			t.Fatalf("ResolveClarification failed: %v", err)
		}
		if sess = f.reload(t); sess.Status != domain.SessionActive {
			t.Errorf("Expected ACTIVE, got %q", sess.Status)
		}
	})

	t.Run("SkipAlsoReleases", func(t *testing.T) {
		f := newProcFixture(t)
		f.addListing(t, "l1")

		actions := []Action{{Type: ActionAskClarifyingQuestion, Question: "Budget?"}}
		res, err := f.proc.ProcessActions(ctx, f.sess, actions, TurnHints{})
		if err != nil {
			t.Fatalf("ProcessActions failed: %v", err)
		}

		sess := f.reload(t)
		if err := f.proc.ResolveClarification(ctx, sess, res.Clarifications[0].ID, "", domain.ClarificationSkipped); err != nil {
			t.Fatalf("ResolveClarification failed: %v", err)
		}
		if sess = f.reload(t); sess.Status != domain.SessionActive {
			t.Errorf("Expected ACTIVE after skip, got %q", sess.Status)
		}
		clar, _ := f.store.GetMessage(ctx, res.Clarifications[0].ID)
		if clar.ClarificationStatus != domain.ClarificationSkipped {
			t.Errorf("Expected skipped, got %q", clar.ClarificationStatus)
		}
	})

	t.Run("ClosedIsTerminal", func(t *testing.T) {
		f := newProcFixture(t)
		f.addListing(t, "l1")

		if err := f.store.UpdateSessionStatus(ctx, f.sess.ID, domain.SessionClosed, ""); err != nil {
			t.Fatalf("UpdateSessionStatus failed: %v", err)
		}
		sess := f.reload(t)

		actions := []Action{{Type: ActionAskClarifyingQuestion, Question: "Still there?"}}
		if _, err := f.proc.ProcessActions(ctx, sess, actions, TurnHints{}); err != nil {
			t.Fatalf("ProcessActions failed: %v", err)
		}
		if sess = f.reload(t); sess.Status != domain.SessionClosed {
			t.Errorf("Expected CLOSED untouched, got %q", sess.Status)
		}
	})
}

func TestProcessor_Preferences(t *testing.T) {
	f := newProcFixture(t)
	ctx := context.Background()

	actions := []Action{{
		Type: ActionUpdatePreferences,
		PreferencePatch: &PreferencePatch{
			Categories: map[string]map[string]any{"cars": {"budget_max": 15000.0}},
		},
	}}
	res, err := f.proc.ProcessActions(ctx, f.sess, actions, TurnHints{})
	if err != nil {
		t.Fatalf("ProcessActions failed: %v", err)
	}
	if !res.PreferencesUpdated {
		t.Error("Expected PreferencesUpdated")
	}

	mem := NewMemory(f.store)
	prefs, _ := mem.LoadUserPreferences(ctx, f.sess.UserID)
	if prefs.Categories["cars"]["budget_max"] != 15000.0 {
		t.Errorf("Preference patch not applied: %+v", prefs.Categories)
	}

	// A patch-less action is ignored.
	res, err = f.proc.ProcessActions(ctx, f.sess, []Action{{Type: ActionUpdatePreferences}}, TurnHints{})
	if err != nil {
		t.Fatalf("ProcessActions failed: %v", err)
	}
	if res.PreferencesUpdated {
		t.Error("Expected no update for empty patch")
	}
}
