package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/lookout/internal/domain"
)

type createListingRequest struct {
	Title       string         `json:"title"`
	URL         string         `json:"url"`
	Price       *float64       `json:"price"`
	Currency    string         `json:"currency"`
	Marketplace string         `json:"marketplace"`
	Metadata    map[string]any `json:"metadata"`
	Description string         `json:"description"`
}

func (h *Handler) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	sess := h.loadOwnedSession(w, r)
	if sess == nil {
		return
	}

	var req createListingRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		Error(w, http.StatusBadRequest, "title is required")
		return
	}

	now := time.Now().UTC()
	listing := &domain.Listing{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		Title:       req.Title,
		URL:         req.URL,
		Currency:    req.Currency,
		Marketplace: req.Marketplace,
		Metadata:    req.Metadata,
		Description: req.Description,
		Status:      domain.ListingActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Price != nil {
		listing.Price = *req.Price
		listing.HasPrice = true
	}
	if err := h.store.CreateListing(r.Context(), listing); err != nil {
		h.agentError(w, err)
		return
	}

	// A fresh listing gets an immediate evaluation pass. Provider
	// failures do not fail the create; the listing simply stays
	// unscored until re-evaluated.
	turn, err := h.agent.ReevaluateListing(r.Context(), sess.ID, sess.UserID, listing.ID)
	if err != nil {
		h.obs.SessionLog(sess.ID).Warn().Err(err).Msg("initial evaluation failed")
	}

	updated, err := h.store.GetListing(r.Context(), listing.ID)
	if err != nil {
		h.agentError(w, err)
		return
	}

	resp := map[string]any{"listing": toListingDTO(updated)}
	if turn != nil && turn.AgentMessage != nil {
		resp["agent_message"] = toMessageDTO(turn.AgentMessage)
	}
	JSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleListListings(w http.ResponseWriter, r *http.Request) {
	sess := h.loadOwnedSession(w, r)
	if sess == nil {
		return
	}

	activeOnly := r.URL.Query().Get("include_removed") != "true"
	listings, err := h.store.ListListings(r.Context(), sess.ID, activeOnly)
	if err != nil {
		h.agentError(w, err)
		return
	}

	out := make([]listingDTO, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingDTO(l))
	}
	JSON(w, http.StatusOK, out)
}

// handleRemoveListing marks a listing removed. Listings are never
// physically deleted while their session lives; history references them.
func (h *Handler) handleRemoveListing(w http.ResponseWriter, r *http.Request) {
	sess := h.loadOwnedSession(w, r)
	if sess == nil {
		return
	}

	listing, err := h.store.GetListing(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		h.agentError(w, err)
		return
	}
	if listing == nil || listing.SessionID != sess.ID {
		Error(w, http.StatusNotFound, "listing not found")
		return
	}

	if _, err := h.store.MarkListingRemoved(r.Context(), listing.ID); err != nil {
		h.agentError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handler) handleReevaluateListing(w http.ResponseWriter, r *http.Request) {
	sess := h.loadOwnedSession(w, r)
	if sess == nil {
		return
	}

	turn, err := h.agent.ReevaluateListing(r.Context(), sess.ID, sess.UserID, chi.URLParam(r, "listingID"))
	if err != nil {
		h.agentError(w, err)
		return
	}

	listing, err := h.store.GetListing(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		h.agentError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"listing":       toListingDTO(listing),
		"agent_message": toMessageDTO(turn.AgentMessage),
		"actions":       turn.Actions,
		"session":       toSessionDTO(turn.Session),
	})
}
