package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/PigStep/Vibe-BPMN-studio/internal/bpmn"
	"github.com/PigStep/Vibe-BPMN-studio/internal/logging"
	"github.com/PigStep/Vibe-BPMN-studio/internal/middleware"
	"github.com/PigStep/Vibe-BPMN-studio/internal/model/diagram"
	"github.com/PigStep/Vibe-BPMN-studio/internal/service/ai"
	"github.com/PigStep/Vibe-BPMN-studio/internal/service/studio"
	"github.com/PigStep/Vibe-BPMN-studio/pkg/utils"
)

type stubRunner struct {
	available bool
	result    *ai.Result
	err       error
	events    []ai.Event
	sessions  []string
	inputs    []string
}

func (s *stubRunner) Available() bool { return s.available }

func (s *stubRunner) Turn(_ context.Context, sessionID, userInput string, observer ai.Observer) (*ai.Result, error) {
	s.sessions = append(s.sessions, sessionID)
	s.inputs = append(s.inputs, userInput)
	if observer != nil {
		for _, e := range s.events {
			observer(e)
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func setupRouter(runner TurnRunner, limiter func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()
	New(runner, limiter).RegisterRoutes(r)
	return r
}

func postGenerate(r http.Handler, body string, session string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/generate", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(diagram.SessionHeader, session)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestPostGenerateReturnsOutput(t *testing.T) {
	runner := &stubRunner{available: true, result: &ai.Result{Process: "1. start", XML: "<d/>"}}
	r := setupRouter(runner, nil)

	resp := postGenerate(r, `{"user_input":"add a user task after the start event"}`, "browser-1")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body diagram.GenerateResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Output != "<d/>" || body.SessionID != "browser-1" || body.Process != "1. start" {
		t.Fatalf("unexpected body %+v", body)
	}
	if runner.sessions[0] != "browser-1" {
		t.Fatalf("expected session from header, got %s", runner.sessions[0])
	}
}

func TestPostGenerateMintsSessionID(t *testing.T) {
	runner := &stubRunner{available: true, result: &ai.Result{XML: "<d/>"}}
	r := setupRouter(runner, nil)

	resp := postGenerate(r, `{"user_input":"x"}`, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	echoed := resp.Header().Get(diagram.SessionHeader)
	if echoed == "" || echoed != runner.sessions[0] {
		t.Fatalf("expected minted session to be echoed, got %q vs %q", echoed, runner.sessions[0])
	}
}

func TestGetGenerateUsesQuery(t *testing.T) {
	runner := &stubRunner{available: true, result: &ai.Result{XML: "<d/>"}}
	r := setupRouter(runner, nil)

	req := httptest.NewRequest(http.MethodGet, "/generate?user_input=draw+a+flow", nil)
	req.Header.Set(diagram.SessionHeader, "s1")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if runner.inputs[0] != "draw a flow" {
		t.Fatalf("expected query input, got %q", runner.inputs[0])
	}
}

func TestPostGenerateBadRequests(t *testing.T) {
	runner := &stubRunner{available: true}
	r := setupRouter(runner, nil)

	for _, body := range []string{`not json`, `{"user_input":"   "}`, `{}`} {
		resp := postGenerate(r, body, "s1")
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, resp.Code)
		}
	}
	if len(runner.inputs) != 0 {
		t.Fatal("expected runner not to be called")
	}
}

func TestPostGenerateErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"unavailable", studio.ErrUnavailable, http.StatusServiceUnavailable, "unavailable"},
		{"invalid xml", &ai.InvalidDiagramError{Err: &bpmn.SyntaxError{Msg: "bad", Line: 1, Column: 2}}, http.StatusUnprocessableEntity, KindInvalidXML},
		{"model", errors.New("upstream"), http.StatusBadGateway, "model_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := setupRouter(&stubRunner{available: true, err: tc.err}, nil)
			resp := postGenerate(r, `{"user_input":"x"}`, "s1")
			if resp.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.Code)
			}
			var body utils.ErrorBody
			if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Kind != tc.kind {
				t.Fatalf("expected kind %s, got %s", tc.kind, body.Kind)
			}
			if strings.Contains(resp.Body.String(), `"output"`) {
				t.Fatal("error responses must not carry output")
			}
		})
	}
}

func TestGenerateRateLimited(t *testing.T) {
	runner := &stubRunner{available: true, result: &ai.Result{XML: "<d/>"}}
	r := setupRouter(runner, middleware.NewRateLimiter(1, 1).Middleware)

	if resp := postGenerate(r, `{"user_input":"x"}`, "s1"); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := postGenerate(r, `{"user_input":"x"}`, "s1"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
}

func TestStreamEmitsStagesAndDiagram(t *testing.T) {
	runner := &stubRunner{
		available: true,
		result:    &ai.Result{XML: "<d/>"},
		events: []ai.Event{
			{Stage: ai.StageImagine, Status: ai.StatusStarted},
			{Stage: ai.StageImagine, Status: ai.StatusCompleted},
		},
	}
	r := setupRouter(runner, nil)

	req := httptest.NewRequest(http.MethodGet, "/generate/stream?user_input=x&session_id=s9", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	body := resp.Body.String()
	order := []string{"event: start", "event: stage", "event: stage", "event: diagram", "event: end"}
	idx := 0
	for _, marker := range order {
		next := strings.Index(body[idx:], marker)
		if next < 0 {
			t.Fatalf("expected %q after offset %d in %q", marker, idx, body)
		}
		idx += next + len(marker)
	}
	if runner.sessions[0] != "s9" {
		t.Fatalf("expected session from query, got %s", runner.sessions[0])
	}
}

func TestStreamReportsError(t *testing.T) {
	runner := &stubRunner{available: true, err: &ai.InvalidDiagramError{Err: errors.New("bad")}}
	r := setupRouter(runner, nil)

	req := httptest.NewRequest(http.MethodGet, "/generate/stream?user_input=x", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	body := resp.Body.String()
	if !strings.Contains(body, "event: error") || !strings.Contains(body, KindInvalidXML) {
		t.Fatalf("expected invalid_xml error event, got %q", body)
	}
	if strings.Contains(body, "event: diagram") {
		t.Fatal("expected no diagram event on failure")
	}
}

func TestStreamUnavailable(t *testing.T) {
	r := setupRouter(&stubRunner{available: false}, nil)

	req := httptest.NewRequest(http.MethodGet, "/generate/stream?user_input=x", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestFailedTurnLoggedAtWarningLevel(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	slog.SetDefault(logging.New(&buf, slog.LevelWarn))

	r := setupRouter(&stubRunner{available: true, err: errors.New("upstream")}, nil)
	postGenerate(r, `{"user_input":"x"}`, "s1")

	out := buf.String()
	if !strings.Contains(out, "[generate] turn failed") || !strings.Contains(out, `"status":502`) {
		t.Fatalf("expected failure record at WARNING, got %q", out)
	}
	if !strings.Contains(out, `"level":"ERROR"`) {
		t.Fatalf("expected 502 logged as error, got %q", out)
	}
}
