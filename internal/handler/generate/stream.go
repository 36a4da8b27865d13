package generate

import (
	"errors"
	"log"
	"log/slog"
	"net/http"
	"strings"

	"github.com/PigStep/Vibe-BPMN-studio/internal/model/diagram"
	"github.com/PigStep/Vibe-BPMN-studio/internal/service/ai"
	"github.com/PigStep/Vibe-BPMN-studio/pkg/utils"
)

// StreamEvent is the payload of start/end SSE events.
type StreamEvent struct {
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
}

// handleStream runs a turn and reports every pipeline stage as an SSE event.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := SessionID(w, r)
	userInput := r.URL.Query().Get("user_input")

	if strings.TrimSpace(userInput) == "" {
		utils.RespondError(w, http.StatusBadRequest, "user_input query parameter is required")
		return
	}
	if !h.runner.Available() {
		utils.RespondErrorKind(w, http.StatusServiceUnavailable, "unavailable", "ai generation unavailable", "")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	ctx := r.Context()
	log.Printf("[sse] opening generation stream for session=%s", sessionID)

	utils.SendSSEEvent(w, flusher, "start", StreamEvent{SessionID: sessionID})

	result, err := h.runner.Turn(ctx, sessionID, userInput, func(e ai.Event) {
		if ctx.Err() != nil {
			return
		}
		utils.SendSSEEvent(w, flusher, "stage", e)
	})
	if err != nil {
		status, kind := StatusForError(err)
		detail := ""
		var invalid *ai.InvalidDiagramError
		if errors.As(err, &invalid) {
			detail = invalid.Err.Error()
		}
		slog.Log(r.Context(), levelForStatus(status), "[sse] generation failed", "session", sessionID, "status", status, "err", err)
		utils.SendSSEEvent(w, flusher, "error", utils.ErrorBody{Error: publicMessage(status), Kind: kind, Detail: detail})
	} else {
		utils.SendSSEEvent(w, flusher, "diagram", diagram.GenerateResponse{
			Output:    result.XML,
			SessionID: sessionID,
			Process:   result.Process,
		})
	}

	utils.SendSSEEvent(w, flusher, "end", StreamEvent{SessionID: sessionID, Finished: true})
	log.Printf("[sse] closing generation stream for session=%s", sessionID)
}
