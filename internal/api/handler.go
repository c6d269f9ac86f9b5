// Package api provides the HTTP handlers for the lookout backend.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/felixgeelhaar/lookout/internal/agent"
	"github.com/felixgeelhaar/lookout/internal/auth"
	"github.com/felixgeelhaar/lookout/internal/marketplace"
	"github.com/felixgeelhaar/lookout/internal/observe"
	"github.com/felixgeelhaar/lookout/internal/store"
)

// Handler bundles the dependencies shared by all route groups.
type Handler struct {
	store  store.Storage
	agent  *agent.Service
	auth   *auth.Service
	search marketplace.Searcher
	obs    *observe.Observer
}

func NewHandler(s store.Storage, ag *agent.Service, au *auth.Service, search marketplace.Searcher, obs *observe.Observer) *Handler {
	return &Handler{store: s, agent: ag, auth: au, search: search, obs: obs}
}

// RegisterRoutes mounts all API routes. Everything under /api except
// auth registration and login requires a valid login cookie.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.handleRegister)
		r.Post("/auth/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Middleware)

			r.Post("/auth/logout", h.handleLogout)
			r.Get("/auth/me", h.handleMe)

			r.Get("/search", h.handleSearch)

			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", h.handleCreateSession)
				r.Get("/", h.handleListSessions)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", h.handleGetSession)
					r.Patch("/", h.handleUpdateSession)
					r.Delete("/", h.handleDeleteSession)
					r.Get("/state", h.handleSessionState)

					r.Post("/listings", h.handleCreateListing)
					r.Get("/listings", h.handleListListings)
					r.Delete("/listings/{listingID}", h.handleRemoveListing)
					r.Post("/listings/{listingID}/reevaluate", h.handleReevaluateListing)

					r.Post("/messages", h.handlePostMessage)
					r.Get("/messages", h.handleListMessages)

					r.Post("/clarifications/{messageID}/answer", h.handleAnswerClarification)
					r.Post("/clarifications/{messageID}/skip", h.handleSkipClarification)
				})
			})
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// agentError maps orchestration failures onto the API contract: typed
// agent errors stay renderable, session lookups map to 404/409, and
// everything else is a 500.
func (h *Handler) agentError(w http.ResponseWriter, err error) {
	var agentErr *agent.AgentError
	switch {
	case errors.As(err, &agentErr):
		JSON(w, http.StatusBadGateway, map[string]string{
			"code":  agentErr.Code,
			"error": agentErr.Message,
		})
	case errors.Is(err, agent.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, agent.ErrClarificationNotFound):
		Error(w, http.StatusNotFound, "clarification not found")
	case errors.Is(err, agent.ErrSessionClosed):
		Error(w, http.StatusConflict, "session is closed")
	default:
		h.obs.Log().Error().Err(err).Msg("request failed")
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		Error(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
