package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/lookout/internal/domain"
	"github.com/felixgeelhaar/lookout/internal/observe"
	"github.com/felixgeelhaar/lookout/internal/store"
)

// TurnHints carries per-turn context the processor cannot recover from
// the store alone: the listing the user's message was about (if the
// API layer knows it) and the listings shown in this turn's prompt.
type TurnHints struct {
	DefaultListingID  string
	VisibleListingIDs []string
}

// ProcessResult accumulates what a batch of actions did to the session.
type ProcessResult struct {
	EvaluationsApplied int
	EvaluationsSkipped int
	Clarifications     []*domain.Message
	PreferencesUpdated bool
}

// Processor applies parsed agent actions to the store and maintains the
// session's clarification state.
//
// Actions are applied strictly in emitted order. A storage failure
// aborts the batch; everything already applied stays applied, since
// chat history is append-only and evaluations are idempotent
// overwrites.
type Processor struct {
	store  store.Storage
	memory *Memory
	obs    *observe.Observer
}

func NewProcessor(s store.Storage, mem *Memory, obs *observe.Observer) *Processor {
	return &Processor{store: s, memory: mem, obs: obs}
}

// ProcessActions applies each action in order, then recomputes the
// session's clarification state. Evaluations naming unknown or foreign
// listings are skipped without failing the batch.
func (p *Processor) ProcessActions(ctx context.Context, sess *domain.Session, actions []Action, hints TurnHints) (*ProcessResult, error) {
	result := &ProcessResult{}
	lastEvaluated := ""

	for _, action := range actions {
		switch action.Type {
		case ActionUpdateEvaluations:
			for _, eval := range action.Evaluations {
				applied, err := p.applyEvaluation(ctx, sess, eval)
				if err != nil {
					return result, err
				}
				if applied {
					result.EvaluationsApplied++
					lastEvaluated = eval.ListingID
				} else {
					result.EvaluationsSkipped++
				}
			}

		case ActionAskClarifyingQuestion:
			msg, err := p.createClarification(ctx, sess, action, hints, lastEvaluated)
			if err != nil {
				return result, err
			}
			result.Clarifications = append(result.Clarifications, msg)

		case ActionUpdatePreferences:
			if action.PreferencePatch == nil {
				continue
			}
			if err := p.memory.MergeUserPreferences(ctx, sess.UserID, *action.PreferencePatch); err != nil {
				return result, err
			}
			result.PreferencesUpdated = true

		default:
			p.obs.SessionLog(sess.ID).Warn().
				Str("action_type", string(action.Type)).
				Msg("ignoring unknown action type")
		}
	}

	if err := p.RecomputeClarificationState(ctx, sess); err != nil {
		return result, err
	}
	return result, nil
}

// applyEvaluation writes one score. Listings outside the session, or
// already deleted, are skipped; the agent may be reasoning over a stale
// snapshot and that is not an error.
func (p *Processor) applyEvaluation(ctx context.Context, sess *domain.Session, eval Evaluation) (bool, error) {
	listing, err := p.store.GetListing(ctx, eval.ListingID)
	if err != nil {
		return false, err
	}
	if listing == nil || listing.SessionID != sess.ID {
		p.obs.SessionLog(sess.ID).Warn().
			Str("listing_id", eval.ListingID).
			Msg("evaluation targets unknown listing, skipping")
		return false, nil
	}

	ok, err := p.store.UpdateListingEvaluation(ctx, eval.ListingID, eval.Score, eval.Rationale)
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (p *Processor) createClarification(ctx context.Context, sess *domain.Session, action Action, hints TurnHints, lastEvaluated string) (*domain.Message, error) {
	text := action.Question
	if text == "" {
		text = "Could you clarify your requirements?"
	}

	target, err := p.resolveTarget(ctx, sess, action.ListingID, hints, lastEvaluated)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:                  uuid.NewString(),
		SessionID:           sess.ID,
		Sender:              domain.SenderAgent,
		Type:                domain.MessageClarification,
		Text:                text,
		IsBlocking:          action.IsBlocking(),
		ClarificationStatus: domain.ClarificationPending,
		TargetListingID:     target,
		CreatedAt:           time.Now().UTC(),
	}
	if err := p.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create clarification: %w", err)
	}
	return msg, nil
}

// resolveTarget picks the listing a clarification concerns. Priority:
// the id the agent named, then the turn's default listing, then the
// listing last evaluated in this batch, then the sole visible listing.
// Empty means the question is session-level.
//
// The explicit id and the default hint are both checked against the
// session before use; the hint carries a caller-supplied listing_id
// and must not attach a clarification to another session's listing.
func (p *Processor) resolveTarget(ctx context.Context, sess *domain.Session, explicit string, hints TurnHints, lastEvaluated string) (string, error) {
	for _, candidate := range []string{explicit, hints.DefaultListingID} {
		if candidate == "" {
			continue
		}
		listing, err := p.store.GetListing(ctx, candidate)
		if err != nil {
			return "", err
		}
		if listing != nil && listing.SessionID == sess.ID {
			return candidate, nil
		}
		p.obs.SessionLog(sess.ID).Warn().
			Str("listing_id", candidate).
			Msg("clarification targets listing outside session, falling back")
	}

	if lastEvaluated != "" {
		return lastEvaluated, nil
	}
	if len(hints.VisibleListingIDs) == 1 {
		return hints.VisibleListingIDs[0], nil
	}
	return "", nil
}

// RecomputeClarificationState scans the session's pending blocking
// clarifications and moves the status between ACTIVE and
// WAITING_FOR_CLARIFICATION accordingly. CLOSED is terminal and never
// overridden. The scan supports any number of concurrent
// clarifications; the denormalized pointer tracks the oldest one.
func (p *Processor) RecomputeClarificationState(ctx context.Context, sess *domain.Session) error {
	if sess.Status == domain.SessionClosed {
		return nil
	}

	pending, err := p.store.ListPendingBlockingClarifications(ctx, sess.ID)
	if err != nil {
		return err
	}

	status := domain.SessionActive
	pointer := ""
	if len(pending) > 0 {
		status = domain.SessionWaitingForClarification
		pointer = pending[0].ID
	}

	if status == sess.Status && pointer == sess.PendingClarificationID {
		return nil
	}
	if err := p.store.UpdateSessionStatus(ctx, sess.ID, status, pointer); err != nil {
		return err
	}
	sess.Status = status
	sess.PendingClarificationID = pointer
	return nil
}

// ResolveClarification marks one clarification answered or skipped and
// recomputes the session state. answerMessageID links the user message
// that satisfied the question; empty for skips.
func (p *Processor) ResolveClarification(ctx context.Context, sess *domain.Session, clarificationID, answerMessageID, status string) error {
	msg, err := p.store.GetMessage(ctx, clarificationID)
	if err != nil {
		return err
	}
	if msg == nil || msg.SessionID != sess.ID || msg.Type != domain.MessageClarification {
		return fmt.Errorf("%w: %s", ErrClarificationNotFound, clarificationID)
	}
	if msg.ClarificationStatus != domain.ClarificationPending {
		return nil
	}

	if err := p.store.UpdateMessageClarification(ctx, clarificationID, status, answerMessageID); err != nil {
		return err
	}
	return p.RecomputeClarificationState(ctx, sess)
}
