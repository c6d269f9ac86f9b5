package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/lookout/internal/auth"
	"github.com/felixgeelhaar/lookout/internal/domain"
)

// loadOwnedSession loads a session and checks it belongs to the
// authenticated user. Writes the error response itself and returns nil
// on failure.
func (h *Handler) loadOwnedSession(w http.ResponseWriter, r *http.Request) *domain.Session {
	user := auth.UserFromContext(r.Context())
	sess, err := h.store.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.agentError(w, err)
		return nil
	}
	if sess == nil || sess.UserID != user.ID {
		Error(w, http.StatusNotFound, "session not found")
		return nil
	}
	return sess
}

type createSessionRequest struct {
	Title        string `json:"title"`
	Category     string `json:"category"`
	Requirements string `json:"requirements"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.Category == "" {
		Error(w, http.StatusBadRequest, "title and category are required")
		return
	}

	user := auth.UserFromContext(r.Context())
	now := time.Now().UTC()
	sess := &domain.Session{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		Title:        req.Title,
		Category:     req.Category,
		Requirements: req.Requirements,
		Status:       domain.SessionActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.store.CreateSession(r.Context(), sess); err != nil {
		h.agentError(w, err)
		return
	}
	JSON(w, http.StatusCreated, toSessionDTO(sess))
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	sessions, err := h.store.ListSessionsByUser(r.Context(), user.ID)
	if err != nil {
		h.agentError(w, err)
		return
	}

	out := make([]sessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionDTO(s))
	}
	JSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess := h.loadOwnedSession(w, r)
	if sess == nil {
		return
	}
	JSON(w, http.StatusOK, toSessionDTO(sess))
}

type updateSessionRequest struct {
	Title        *string `json:"title"`
	Category     *string `json:"category"`
	Requirements *string `json:"requirements"`
	Status       *string `json:"status"`
}

func (h *Handler) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	sess := h.loadOwnedSession(w, r)
	if sess == nil {
		return
	}

	var req updateSessionRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Title != nil {
		sess.Title = *req.Title
	}
	if req.Category != nil {
		sess.Category = *req.Category
	}
	if req.Requirements != nil {
		sess.Requirements = *req.Requirements
	}
	if err := h.store.UpdateSessionMeta(r.Context(), sess); err != nil {
		h.agentError(w, err)
		return
	}

	// The only status change accepted from outside is closing the
	// session; the clarification state machine owns the rest.
	if req.Status != nil {
		if *req.Status != domain.SessionClosed {
			Error(w, http.StatusBadRequest, "status can only be set to CLOSED")
			return
		}
		if err := h.store.UpdateSessionStatus(r.Context(), sess.ID, domain.SessionClosed, ""); err != nil {
			h.agentError(w, err)
			return
		}
		sess.Status = domain.SessionClosed
		sess.PendingClarificationID = ""
	}

	JSON(w, http.StatusOK, toSessionDTO(sess))
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess := h.loadOwnedSession(w, r)
	if sess == nil {
		return
	}

	ok, err := h.store.DeleteSession(r.Context(), sess.ID)
	if err != nil {
		h.agentError(w, err)
		return
	}
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	// Session memory is keyed separately and not covered by the
	// cascading delete.
	if err := h.agent.Memory().DeleteSessionMemory(r.Context(), sess.ID); err != nil {
		h.agentError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleSessionState returns the session with its full chat history and
// listings, clarifications attached per listing.
func (h *Handler) handleSessionState(w http.ResponseWriter, r *http.Request) {
	sess := h.loadOwnedSession(w, r)
	if sess == nil {
		return
	}
	ctx := r.Context()

	msgs, err := h.store.ListMessages(ctx, sess.ID, 0)
	if err != nil {
		h.agentError(w, err)
		return
	}
	listings, err := h.store.ListListings(ctx, sess.ID, false)
	if err != nil {
		h.agentError(w, err)
		return
	}

	msgByID := make(map[string]*domain.Message, len(msgs))
	msgDTOs := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		msgByID[m.ID] = m
		msgDTOs = append(msgDTOs, toMessageDTO(m))
	}

	listingDTOs := make([]listingDTO, 0, len(listings))
	for _, l := range listings {
		dto := toListingDTO(l)
		clars, err := h.store.ListClarificationsByListing(ctx, l.ID)
		if err != nil {
			h.agentError(w, err)
			return
		}
		for _, c := range clars {
			cd := clarificationDTO{
				ID:                  c.ID,
				Text:                c.Text,
				IsBlocking:          c.IsBlocking,
				ClarificationStatus: c.ClarificationStatus,
				AnswerMessageID:     c.AnswerMessageID,
				CreatedAt:           c.CreatedAt,
			}
			if ans, ok := msgByID[c.AnswerMessageID]; ok {
				cd.AnswerText = ans.Text
			}
			dto.Clarifications = append(dto.Clarifications, cd)
		}
		listingDTOs = append(listingDTOs, dto)
	}

	JSON(w, http.StatusOK, map[string]any{
		"session":  toSessionDTO(sess),
		"messages": msgDTOs,
		"listings": listingDTOs,
	})
}
