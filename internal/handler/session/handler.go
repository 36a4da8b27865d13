package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/PigStep/Vibe-BPMN-studio/internal/model/chat"
	"github.com/PigStep/Vibe-BPMN-studio/internal/model/diagram"
	"github.com/PigStep/Vibe-BPMN-studio/internal/service/ai"
	chatservice "github.com/PigStep/Vibe-BPMN-studio/internal/service/chat"
	"github.com/PigStep/Vibe-BPMN-studio/internal/service/studio"
	"github.com/PigStep/Vibe-BPMN-studio/pkg/utils"
)

// Studio is the conversational backend used by the session endpoints.
type Studio interface {
	Store() chatservice.Store
	Turn(ctx context.Context, sessionID, userInput string, observer ai.Observer) (*ai.Result, error)
	ReplaceDiagram(ctx context.Context, sessionID, xml string) error
}

var _ Studio = (*studio.Service)(nil)

// Handler 会话相关的HTTP处理器
type Handler struct {
	studio Studio
	ws     *WebSocketHandler
}

// New 创建会话处理器，limiter 同时约束 WebSocket 中的生成请求
func New(s Studio, limiter Limiter) *Handler {
	return &Handler{studio: s, ws: NewWebSocketHandler(s, limiter)}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/session", h.handleCreateSession)
	r.Get("/session/{sessionID}", h.handleGetSession)
	r.Get("/session/{sessionID}/messages", h.handleListMessages)
	r.Get("/session/{sessionID}/diagram", h.handleCurrentDiagram)
	h.ws.RegisterWebSocketRoutes(r)
}

// handleCreateSession 创建会话，客户端可自带标识
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.Header.Get(diagram.SessionHeader))
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	session, err := h.studio.Store().EnsureSession(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set(diagram.SessionHeader, session.ID)
	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.studio.Store().GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.studio.Store().LoadTranscript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *Handler) handleCurrentDiagram(w http.ResponseWriter, r *http.Request) {
	xml, err := h.studio.Store().CurrentDiagram(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, diagram.ExampleResponse{XML: xml})
}

func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, chatservice.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondError(w, http.StatusInternalServerError, err.Error())
}
