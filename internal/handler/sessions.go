// Package handler provides HTTP handlers for the session vault API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chatabubble/session-vault/internal/keystore"
	"github.com/chatabubble/session-vault/internal/manager"
	"github.com/chatabubble/session-vault/internal/middleware"
	"github.com/chatabubble/session-vault/internal/model"
	"github.com/chatabubble/session-vault/internal/repository"
	"github.com/chatabubble/session-vault/pkg/logger"
)

// SessionHandler handles session persistence endpoints.
type SessionHandler struct {
	manager *manager.Manager
	repo    *repository.SessionRepository
	logger  *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(mgr *manager.Manager, repo *repository.SessionRepository, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		manager: mgr,
		repo:    repo,
		logger:  log,
	}
}

// UpdateSessionRequest carries a session snapshot plus its accumulated
// message list.
type UpdateSessionRequest struct {
	Session  model.Session       `json:"session"`
	Messages []model.ChatMessage `json:"messages"`
}

// EndSessionRequest additionally says whether the session is finished for
// good or merely paused.
type EndSessionRequest struct {
	Session       model.Session       `json:"session"`
	Messages      []model.ChatMessage `json:"messages"`
	MarkCompleted bool                `json:"mark_completed"`
}

// SessionResponse is the load/update response shape.
type SessionResponse struct {
	Session  *model.Session      `json:"session"`
	Messages []model.ChatMessage `json:"messages"`
}

// Update handles PUT /api/v1/sessions/{id}
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	sessionID := chi.URLParam(r, "id")

	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Session.ID != sessionID {
		writeError(w, http.StatusBadRequest, "session id mismatch")
		return
	}
	req.Session.UserID = userID

	if err := h.manager.Update(ctx, &req.Session, req.Messages); err != nil {
		// Local persistence failing is the one error class the UI must see
		// and offer a retry for.
		h.logger.Error("session update failed",
			zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save session")
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{Session: &req.Session, Messages: req.Messages})
}

// End handles POST /api/v1/sessions/{id}/end
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	sessionID := chi.URLParam(r, "id")

	var req EndSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Session.ID != sessionID {
		writeError(w, http.StatusBadRequest, "session id mismatch")
		return
	}
	req.Session.UserID = userID

	if err := h.manager.End(ctx, &req.Session, req.Messages, req.MarkCompleted); err != nil {
		h.logger.Error("session end failed",
			zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save session")
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{Session: &req.Session, Messages: req.Messages})
}

// Get handles GET /api/v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	sessionID := chi.URLParam(r, "id")

	session, messages, err := h.manager.Load(ctx, sessionID, userID)
	if err != nil {
		h.logger.Error("session load failed",
			zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if session == nil || session.UserID != userID {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{Session: session, Messages: messages})
}

// History handles GET /api/v1/sessions/{id}/history
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	sessionID := chi.URLParam(r, "id")

	session, err := h.repo.LoadSession(ctx, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if session == nil || session.UserID != userID {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	messages, err := h.repo.LoadHistory(ctx, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}

// List handles GET /api/v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	sessions, err := h.repo.ListUserSessions(ctx, userID)
	if err != nil {
		h.logger.Error("session list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*model.Session{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

// Cleanup handles DELETE /api/v1/users/me/data
func (h *SessionHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	if err := h.manager.Cleanup(ctx, userID); err != nil {
		h.logger.Error("cleanup failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clean up user data")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RotateKeyRequest carries the inputs for a key rotation.
type RotateKeyRequest struct {
	Identifier string `json:"identifier"`
	AuthKind   string `json:"auth_kind"`
}

// RotateKey handles POST /api/v1/users/me/key/rotate
func (h *SessionHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req RotateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := keystore.AuthKind(req.AuthKind)
	if kind != keystore.AuthPassword && kind != keystore.AuthSocial {
		writeError(w, http.StatusBadRequest, "auth_kind must be password or social")
		return
	}

	if err := h.manager.RotateKey(ctx, userID, req.Identifier, kind); err != nil {
		h.logger.Error("key rotation failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to rotate key")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
