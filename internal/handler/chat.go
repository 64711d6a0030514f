package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/chatabubble/session-vault/internal/llm"
	"github.com/chatabubble/session-vault/internal/middleware"
	"github.com/chatabubble/session-vault/internal/model"
	"github.com/chatabubble/session-vault/pkg/logger"
)

// ChatHandler fronts the language-model collaborator.
type ChatHandler struct {
	svc    *llm.Service
	logger *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(svc *llm.Service, log *logger.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, logger: log}
}

// ReplyRequest asks for the assistant's next turn.
type ReplyRequest struct {
	Messages           []model.ChatMessage `json:"messages"`
	Scenario           *model.Scenario     `json:"scenario,omitempty"`
	TargetLanguageName string              `json:"target_language_name"`
}

// TranslateRequest asks for a single-text translation.
type TranslateRequest struct {
	Text               string `json:"text"`
	TargetLanguageName string `json:"target_language_name"`
}

// Reply handles POST /api/v1/chat/reply
func (h *ChatHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var req ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TargetLanguageName == "" {
		writeError(w, http.StatusBadRequest, "target_language_name is required")
		return
	}

	reply, err := h.svc.Reply(r.Context(), req.Messages, req.Scenario, req.TargetLanguageName)
	if err != nil {
		h.logger.Warn("reply generation failed",
			zap.String("user_id", middleware.GetUserID(r.Context())), zap.Error(err))
		writeError(w, http.StatusBadGateway, "reply generation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// Translate handles POST /api/v1/chat/translate
func (h *ChatHandler) Translate(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Text == "" || req.TargetLanguageName == "" {
		writeError(w, http.StatusBadRequest, "text and target_language_name are required")
		return
	}

	translated, err := h.svc.Translate(r.Context(), req.Text, req.TargetLanguageName)
	if err != nil {
		h.logger.Warn("translation failed",
			zap.String("user_id", middleware.GetUserID(r.Context())), zap.Error(err))
		writeError(w, http.StatusBadGateway, "translation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"translated": translated})
}
