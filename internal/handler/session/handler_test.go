package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/PigStep/Vibe-BPMN-studio/internal/middleware"
	"github.com/PigStep/Vibe-BPMN-studio/internal/model/chat"
	"github.com/PigStep/Vibe-BPMN-studio/internal/model/diagram"
	"github.com/PigStep/Vibe-BPMN-studio/internal/service/ai"
	chatservice "github.com/PigStep/Vibe-BPMN-studio/internal/service/chat"
	"github.com/PigStep/Vibe-BPMN-studio/internal/service/studio"
)

type stubGenerator struct {
	xml   string
	delay time.Duration
}

func (s *stubGenerator) Generate(ctx context.Context, req ai.Request) (*ai.Result, error) {
	if req.Observer != nil {
		req.Observer(ai.Event{Stage: ai.StageImagine, Status: ai.StatusStarted})
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &ai.Result{Process: "1. " + req.UserInput, XML: s.xml}, nil
}

func setupRouter() (*chi.Mux, chatservice.Store) {
	store := chatservice.NewMemoryStore()
	svc := studio.New(&stubGenerator{xml: "<d/>"}, store)

	r := chi.NewRouter()
	New(svc, nil).RegisterRoutes(r)
	return r, store
}

func dialWebSocket(t *testing.T, h *Handler, query string) (*websocket.Conn, *http.Response) {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, resp
}

func sendPrompt(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": "prompt", "data": map[string]string{"text": text}}); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
}

func TestCreateSessionWithClientID(t *testing.T) {
	r, store := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/session", bytes.NewBufferString(`{"sessionId":"browser-1"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if _, err := store.GetSession(context.Background(), "browser-1"); err != nil {
		t.Fatalf("expected session to exist, got %v", err)
	}
}

func TestCreateSessionWithoutBody(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	var session chat.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected generated session id")
	}
}

func TestCreateSessionInvalidBody(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/session", bytes.NewBufferString(`{`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestListMessagesUnknownSession(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/session/missing/messages", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestListMessagesReturnsTranscript(t *testing.T) {
	r, store := setupRouter()
	ctx := context.Background()
	if _, err := store.EnsureSession(ctx, "s1"); err != nil {
		t.Fatalf("EnsureSession err: %v", err)
	}
	if err := store.SaveMessage(ctx, chat.Message{SessionID: "s1", Sender: chat.SenderUser, Content: "hello"}); err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/session/s1/messages", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Messages) != 1 || body.Messages[0].Content != "hello" {
		t.Fatalf("unexpected messages %+v", body.Messages)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, want string) []outgoingMessage {
	t.Helper()
	var seen []outgoingMessage
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg outgoingMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read websocket: %v (seen %+v)", err, seen)
		}
		seen = append(seen, msg)
		if msg.Type == want {
			return seen
		}
	}
}

func TestWebSocketEditingSession(t *testing.T) {
	r, store := setupRouter()
	server := httptest.NewServer(r)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?session_id=ws-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readUntil(t, conn, "connected")

	if err := conn.WriteJSON(map[string]any{"type": "prompt", "data": map[string]string{"text": "draw a flow"}}); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	seen := readUntil(t, conn, "awaiting_edit")

	types := make([]string, 0, len(seen))
	for _, m := range seen {
		types = append(types, m.Type)
	}
	joined := strings.Join(types, ",")
	if joined != "stage,diagram,awaiting_edit" {
		t.Fatalf("unexpected message sequence %s", joined)
	}
	last := seen[len(seen)-1].Data.(map[string]any)
	if last["message"] != AwaitingEditMessage {
		t.Fatalf("unexpected awaiting message %v", last["message"])
	}

	if err := conn.WriteJSON(map[string]any{"type": "xml", "data": map[string]string{"xml": "<broken"}}); err != nil {
		t.Fatalf("write xml: %v", err)
	}
	errMsg := readUntil(t, conn, "error")
	data := errMsg[len(errMsg)-1].Data.(map[string]any)
	if data["kind"] != "invalid_xml" {
		t.Fatalf("expected invalid_xml error, got %v", data)
	}

	if current, _ := store.CurrentDiagram(context.Background(), "ws-1"); current != "<d/>" {
		t.Fatalf("expected generated diagram kept, got %q", current)
	}
}

func TestWebSocketSurvivesTurnLongerThanReadTimeout(t *testing.T) {
	svc := studio.New(&stubGenerator{xml: "<d/>", delay: 600 * time.Millisecond}, chatservice.NewMemoryStore())
	h := New(svc, nil)
	h.ws.readTimeout = 200 * time.Millisecond
	h.ws.pingInterval = 50 * time.Millisecond

	conn, _ := dialWebSocket(t, h, "?session_id=slow-1")
	readUntil(t, conn, "connected")

	for _, text := range []string{"draw a flow", "add a review step"} {
		sendPrompt(t, conn, text)
		seen := readUntil(t, conn, "awaiting_edit")
		for _, m := range seen {
			if m.Type == "error" {
				t.Fatalf("unexpected error frame %+v", m.Data)
			}
		}
	}
}

func TestWebSocketPromptsAreRateLimited(t *testing.T) {
	svc := studio.New(&stubGenerator{xml: "<d/>"}, chatservice.NewMemoryStore())
	h := New(svc, middleware.NewRateLimiter(1, 1))

	conn, _ := dialWebSocket(t, h, "?session_id=limited-1")
	readUntil(t, conn, "connected")

	sendPrompt(t, conn, "draw a flow")
	readUntil(t, conn, "awaiting_edit")

	sendPrompt(t, conn, "draw it again")
	seen := readUntil(t, conn, "error")
	data := seen[len(seen)-1].Data.(map[string]any)
	if data["kind"] != "rate_limited" {
		t.Fatalf("expected rate_limited error, got %v", data)
	}
	for _, m := range seen {
		if m.Type == "diagram" {
			t.Fatal("expected no diagram for a limited prompt")
		}
	}
}

func TestWebSocketUpgradeCarriesSessionHeader(t *testing.T) {
	svc := studio.New(&stubGenerator{xml: "<d/>"}, chatservice.NewMemoryStore())
	conn, resp := dialWebSocket(t, New(svc, nil), "")

	id := resp.Header.Get(diagram.SessionHeader)
	if id == "" {
		t.Fatal("expected session header on upgrade response")
	}
	connected := readUntil(t, conn, "connected")
	if got := connected[len(connected)-1].SessionID; got != id {
		t.Fatalf("expected connected frame for %s, got %s", id, got)
	}
}
