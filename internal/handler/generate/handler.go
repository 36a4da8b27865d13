package generate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/PigStep/Vibe-BPMN-studio/internal/model/diagram"
	"github.com/PigStep/Vibe-BPMN-studio/internal/service/ai"
	chatservice "github.com/PigStep/Vibe-BPMN-studio/internal/service/chat"
	"github.com/PigStep/Vibe-BPMN-studio/internal/service/studio"
	"github.com/PigStep/Vibe-BPMN-studio/pkg/utils"
)

// KindInvalidXML tags responses whose generated diagram never became well-formed.
const KindInvalidXML = "invalid_xml"

// TurnRunner runs a conversational turn for a session.
type TurnRunner interface {
	Available() bool
	Turn(ctx context.Context, sessionID, userInput string, observer ai.Observer) (*ai.Result, error)
}

var _ TurnRunner = (*studio.Service)(nil)

// Handler 生成接口的HTTP处理器
type Handler struct {
	runner  TurnRunner
	limiter func(http.Handler) http.Handler
}

// New creates the generation handler. limiter may be nil.
func New(runner TurnRunner, limiter func(http.Handler) http.Handler) *Handler {
	return &Handler{runner: runner, limiter: limiter}
}

// RegisterRoutes 注册生成相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter)
		}
		r.Post("/generate", h.handlePost)
		r.Get("/generate", h.handleQuery)
		r.Get("/generate/stream", h.handleStream)
	})
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	var payload diagram.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.respond(w, r, payload.UserInput)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, r.URL.Query().Get("user_input"))
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, userInput string) {
	sessionID := SessionID(w, r)

	if strings.TrimSpace(userInput) == "" {
		utils.RespondError(w, http.StatusBadRequest, "user_input is required")
		return
	}

	result, err := h.runner.Turn(r.Context(), sessionID, userInput, nil)
	if err != nil {
		status, kind := StatusForError(err)
		detail := ""
		var invalid *ai.InvalidDiagramError
		if errors.As(err, &invalid) {
			detail = invalid.Err.Error()
		}
		slog.Log(r.Context(), levelForStatus(status), "[generate] turn failed", "session", sessionID, "status", status, "err", err)
		utils.RespondErrorKind(w, status, kind, publicMessage(status), detail)
		return
	}

	utils.RespondJSON(w, http.StatusOK, diagram.GenerateResponse{
		Output:    result.XML,
		SessionID: sessionID,
		Process:   result.Process,
	})
}

// SessionID returns the caller's X-Session-ID, minting and echoing one when
// the request carries none. EventSource and WebSocket clients cannot set
// headers and pass session_id in the query instead.
func SessionID(w http.ResponseWriter, r *http.Request) string {
	sessionID := strings.TrimSpace(r.Header.Get(diagram.SessionHeader))
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.URL.Query().Get("session_id"))
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	w.Header().Set(diagram.SessionHeader, sessionID)
	return sessionID
}

// StatusForError maps generation errors onto HTTP statuses and error kinds.
func StatusForError(err error) (int, string) {
	var invalid *ai.InvalidDiagramError
	switch {
	case errors.Is(err, studio.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, ai.ErrEmptyInput), errors.Is(err, chatservice.ErrSessionRequired):
		return http.StatusBadRequest, "bad_request"
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity, KindInvalidXML
	default:
		return http.StatusBadGateway, "model_error"
	}
}

func publicMessage(status int) string {
	switch status {
	case http.StatusServiceUnavailable:
		return "ai generation unavailable"
	case http.StatusBadRequest:
		return "user_input is required"
	case http.StatusUnprocessableEntity:
		return "generated diagram is invalid"
	default:
		return "diagram generation failed"
	}
}

// levelForStatus logs client mistakes as warnings and server-side failures as errors.
func levelForStatus(status int) slog.Level {
	if status >= http.StatusInternalServerError {
		return slog.LevelError
	}
	return slog.LevelWarn
}
