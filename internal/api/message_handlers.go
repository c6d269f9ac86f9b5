package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/felixgeelhaar/lookout/internal/agent"
)

type postMessageRequest struct {
	Text      string `json:"text"`
	ListingID string `json:"listing_id"`
}

// handlePostMessage runs a full agent turn for a user chat message.
func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	sess := h.loadOwnedSession(w, r)
	if sess == nil {
		return
	}

	var req postMessageRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}

	turn, err := h.agent.ProcessTurn(r.Context(), agent.TurnRequest{
		SessionID:        sess.ID,
		UserID:           sess.UserID,
		Text:             req.Text,
		DefaultListingID: req.ListingID,
	})
	if err != nil {
		h.agentError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"user_message":  toMessageDTO(turn.UserMessage),
		"agent_message": toMessageDTO(turn.AgentMessage),
		"actions":       turn.Actions,
		"session":       toSessionDTO(turn.Session),
	})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sess := h.loadOwnedSession(w, r)
	if sess == nil {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	msgs, err := h.store.ListMessages(r.Context(), sess.ID, limit)
	if err != nil {
		h.agentError(w, err)
		return
	}

	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageDTO(m))
	}
	JSON(w, http.StatusOK, out)
}

type answerClarificationRequest struct {
	Text string `json:"text"`
}

func (h *Handler) handleAnswerClarification(w http.ResponseWriter, r *http.Request) {
	sess := h.loadOwnedSession(w, r)
	if sess == nil {
		return
	}

	var req answerClarificationRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}

	answer, updated, err := h.agent.AnswerClarification(r.Context(), sess.ID, sess.UserID, chi.URLParam(r, "messageID"), req.Text)
	if err != nil {
		h.agentError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"answer_message": toMessageDTO(answer),
		"session":        toSessionDTO(updated),
	})
}

func (h *Handler) handleSkipClarification(w http.ResponseWriter, r *http.Request) {
	sess := h.loadOwnedSession(w, r)
	if sess == nil {
		return
	}

	updated, err := h.agent.SkipClarification(r.Context(), sess.ID, sess.UserID, chi.URLParam(r, "messageID"))
	if err != nil {
		h.agentError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"session": toSessionDTO(updated)})
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	results, err := h.search.Search(r.Context(), r.URL.Query().Get("q"), r.URL.Query().Get("category"))
	if err != nil {
		h.agentError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"results": results})
}
