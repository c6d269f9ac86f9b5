package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/lookout/internal/domain"
	"github.com/felixgeelhaar/lookout/internal/observe"
	"github.com/felixgeelhaar/lookout/internal/provider"
	"github.com/felixgeelhaar/lookout/internal/store"
)

// Error codes surfaced to external callers.
const (
	CodeProviderError = "LLM_PROVIDER_ERROR"
)

// AgentError is the typed failure external callers receive instead of
// an unhandled fault. It still carries text a caller can render as a
// chat message.
type AgentError struct {
	Code    string
	Message string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func providerError(err error) *AgentError {
	return &AgentError{
		Code:    CodeProviderError,
		Message: fmt.Sprintf("The assistant encountered an error: %v", err),
	}
}

// TurnRequest describes one user-facing event driving an agent turn.
type TurnRequest struct {
	SessionID string
	UserID    string
	Text      string

	// DefaultListingID is the listing the turn was about, when the
	// triggering operation knows it (e.g. manual re-evaluation).
	DefaultListingID string
}

// TurnResult is what one turn produced. Parsed reports whether the
// model's answer carried extractable actions; when false, AgentMessage
// holds the raw text and Actions is empty.
type TurnResult struct {
	UserMessage  *domain.Message
	AgentMessage *domain.Message
	Actions      []Action
	Parsed       bool
	Session      *domain.Session
	Process      *ProcessResult
	Usage        provider.Usage
}

// Service is the caller-facing orchestrator: it loads memory, builds
// the prompt, invokes the model, runs the action processor, and returns
// a unified result. One turn runs synchronously to completion; there is
// no queue and no retry.
type Service struct {
	store     store.Storage
	memory    *Memory
	invoker   *Invoker
	processor *Processor
	prompts   *PromptBuilder
	obs       *observe.Observer
}

func NewService(s store.Storage, p provider.Provider, obs *observe.Observer) *Service {
	mem := NewMemory(s)
	return &Service{
		store:     s,
		memory:    mem,
		invoker:   NewInvoker(p),
		processor: NewProcessor(s, mem, obs),
		prompts:   NewPromptBuilder(),
		obs:       obs,
	}
}

// Memory exposes the agent's memory manager to the API layer, which
// needs it for session and account deletion.
func (s *Service) Memory() *Memory {
	return s.memory
}

// ProcessTurn runs one full turn for a user message. The user message
// is persisted first; if the session was waiting on a clarification,
// the message is treated as its answer. Model failures come back as
// *AgentError; storage faults propagate unwrapped.
func (s *Service) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	ctx, span := s.obs.StartSpan(ctx, "agent.process_turn")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", req.SessionID))

	sess, err := s.loadSession(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}

	userMsg := &domain.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Sender:    domain.SenderUser,
		Type:      domain.MessageNormal,
		Text:      req.Text,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("create user message: %w", err)
	}

	// A normal message while a blocking clarification is pending counts
	// as its answer.
	if sess.PendingClarificationID != "" {
		err := s.processor.ResolveClarification(ctx, sess, sess.PendingClarificationID, userMsg.ID, domain.ClarificationAnswered)
		if err != nil {
			return nil, err
		}
	}

	result, err := s.runTurn(ctx, sess, req.Text, TurnHints{DefaultListingID: req.DefaultListingID})
	if err != nil {
		return nil, err
	}
	result.UserMessage = userMsg
	return result, nil
}

// ReevaluateListing runs an agent turn focused on a single listing,
// without a user chat message. Used for listing creation, edits, and
// manual re-evaluation.
func (s *Service) ReevaluateListing(ctx context.Context, sessionID, userID, listingID string) (*TurnResult, error) {
	ctx, span := s.obs.StartSpan(ctx, "agent.reevaluate_listing")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("listing.id", listingID),
	)

	sess, err := s.loadSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil || listing.SessionID != sess.ID {
		return nil, fmt.Errorf("listing %s not found in session %s", listingID, sessionID)
	}

	prompt := fmt.Sprintf("Please evaluate the listing %q (ID: %s) based on my requirements and your knowledge of market prices.", listing.Title, listing.ID)
	return s.runTurn(ctx, sess, prompt, TurnHints{DefaultListingID: listingID})
}

// runTurn is the shared pipeline behind the turn entry points: build
// context and prompt, invoke the model, apply actions, persist the
// agent's message.
func (s *Service) runTurn(ctx context.Context, sess *domain.Session, text string, hints TurnHints) (*TurnResult, error) {
	sc, err := s.buildContext(ctx, sess)
	if err != nil {
		return nil, err
	}
	if len(hints.VisibleListingIDs) == 0 {
		hints.VisibleListingIDs = sc.VisibleListingIDs()
	}

	prefs, err := s.memory.LoadUserPreferences(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	summary, err := s.memory.LoadSessionSummary(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	prompt := s.prompts.BuildFullPrompt(text, sc, prefs, summary)

	invoked, err := s.invoker.Invoke(ctx, prompt)
	if err != nil {
		s.obs.SessionLog(sess.ID).Error().Err(err).Msg("model invocation failed")
		return nil, providerError(err)
	}

	result := &TurnResult{Session: sess, Usage: invoked.Usage}

	agentText := invoked.Text
	if invoked.Parsed != nil {
		result.Parsed = true
		result.Actions = invoked.Parsed.Actions
		if invoked.Parsed.Message != "" {
			agentText = invoked.Parsed.Message
		}

		proc, err := s.processor.ProcessActions(ctx, sess, invoked.Parsed.Actions, hints)
		if err != nil {
			return nil, err
		}
		result.Process = proc
	} else {
		s.obs.SessionLog(sess.ID).Warn().Msg("model answer carried no extractable JSON, treating as plain message")
		result.Process = &ProcessResult{}
	}

	agentMsg := &domain.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Sender:    domain.SenderAgent,
		Type:      domain.MessageNormal,
		Text:      agentText,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, agentMsg); err != nil {
		return nil, fmt.Errorf("create agent message: %w", err)
	}
	result.AgentMessage = agentMsg

	s.obs.SessionLog(sess.ID).Info().
		Int("actions", len(result.Actions)).
		Int("evaluations", result.Process.EvaluationsApplied).
		Int("clarifications", len(result.Process.Clarifications)).
		Str("status", sess.Status).
		Msg("turn complete")

	return result, nil
}

// AnswerClarification records a user's answer to a specific
// clarification question and recomputes the session state.
func (s *Service) AnswerClarification(ctx context.Context, sessionID, userID, clarificationID, answerText string) (*domain.Message, *domain.Session, error) {
	sess, err := s.loadSession(ctx, sessionID, userID)
	if err != nil {
		return nil, nil, err
	}

	answer := &domain.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Sender:    domain.SenderUser,
		Type:      domain.MessageNormal,
		Text:      answerText,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMessage(ctx, answer); err != nil {
		return nil, nil, fmt.Errorf("create answer message: %w", err)
	}

	err = s.processor.ResolveClarification(ctx, sess, clarificationID, answer.ID, domain.ClarificationAnswered)
	if err != nil {
		return nil, nil, err
	}
	return answer, sess, nil
}

// SkipClarification dismisses a clarification without an answer. A
// skipped clarification no longer blocks the session.
func (s *Service) SkipClarification(ctx context.Context, sessionID, userID, clarificationID string) (*domain.Session, error) {
	sess, err := s.loadSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	err = s.processor.ResolveClarification(ctx, sess, clarificationID, "", domain.ClarificationSkipped)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// RecomputeSessionState re-runs the clarification scan, for callers
// that mutated messages out of band.
func (s *Service) RecomputeSessionState(ctx context.Context, sess *domain.Session) error {
	return s.processor.RecomputeClarificationState(ctx, sess)
}

func (s *Service) loadSession(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || (userID != "" && sess.UserID != userID) {
		return nil, ErrSessionNotFound
	}
	if sess.Status == domain.SessionClosed {
		return nil, ErrSessionClosed
	}
	return sess, nil
}

func (s *Service) buildContext(ctx context.Context, sess *domain.Session) (SessionContext, error) {
	user, err := s.store.GetUser(ctx, sess.UserID)
	if err != nil {
		return SessionContext{}, err
	}

	msgs, err := s.store.ListMessages(ctx, sess.ID, recentMessageLimit)
	if err != nil {
		return SessionContext{}, err
	}

	listings, err := s.store.ListListings(ctx, sess.ID, true)
	if err != nil {
		return SessionContext{}, err
	}

	return SessionContext{
		User:           user,
		Session:        sess,
		RecentMessages: msgs,
		Listings:       listings,
	}, nil
}

const recentMessageLimit = 20

// Sentinel errors for the API layer to map onto status codes.
var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionClosed         = errors.New("session is closed")
	ErrClarificationNotFound = errors.New("clarification not found")
)
