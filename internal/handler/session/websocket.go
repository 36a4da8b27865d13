package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/PigStep/Vibe-BPMN-studio/internal/bpmn"
	"github.com/PigStep/Vibe-BPMN-studio/internal/handler/generate"
	"github.com/PigStep/Vibe-BPMN-studio/internal/model/diagram"
	"github.com/PigStep/Vibe-BPMN-studio/internal/service/ai"
)

// AwaitingEditMessage invites the next instruction once a diagram is shown.
const AwaitingEditMessage = "Share your feedback. Ask me anything to edit!"

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	// maxQueuedMessages bounds the messages waiting behind a running turn.
	maxQueuedMessages = 4
)

// Limiter decides whether a session may start another generation.
type Limiter interface {
	Allow(key string) bool
}

// WebSocketHandler keeps an editing session open: each prompt produces a new
// diagram and the server then waits for the next instruction.
type WebSocketHandler struct {
	studio   Studio
	limiter  Limiter
	upgrader websocket.Upgrader

	readTimeout  time.Duration
	pingInterval time.Duration
}

// NewWebSocketHandler 创建WebSocket处理器，limiter 为 nil 时不限流
func NewWebSocketHandler(s Studio, limiter Limiter) *WebSocketHandler {
	return &WebSocketHandler{
		studio:       s,
		limiter:      limiter,
		readTimeout:  readTimeout,
		pingInterval: pingInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// PromptMessage asks for a new revision of the diagram.
type PromptMessage struct {
	Text string `json:"text"`
}

// XMLMessage replaces the session diagram with a hand-edited one.
type XMLMessage struct {
	XML string `json:"xml"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wsConn serialises writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn      *websocket.Conn
	sessionID string
	mu        sync.Mutex
}

func (c *wsConn) send(msgType string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		slog.Warn("[websocket] write failed", "type", msgType, "session", c.sessionID, "err", err)
	}
}

func (c *wsConn) sendError(kind, message string) {
	c.send("error", map[string]string{"kind": kind, "message": message})
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := generate.SessionID(w, r)

	if _, err := h.studio.Store().EnsureSession(r.Context(), sessionID); err != nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	// The upgrade response is written by gorilla, not from w.Header().
	responseHeader := http.Header{}
	responseHeader.Set(diagram.SessionHeader, sessionID)
	conn, err := h.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		slog.Warn("[websocket] upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsConn{conn: conn, sessionID: sessionID}

	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	go pingLoop(ctx, c, h.pingInterval)

	c.send("connected", map[string]string{"sessionId": sessionID})
	if current, err := h.studio.Store().CurrentDiagram(ctx, sessionID); err == nil && current != "" {
		c.send("diagram", map[string]string{"output": current})
		c.send("awaiting_edit", map[string]string{"message": AwaitingEditMessage})
	}

	// Turns run on their own goroutine so the read loop keeps answering
	// pongs and refreshing the deadline while a generation is in flight.
	jobs := make(chan inboundMessage, maxQueuedMessages)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range jobs {
			h.handleMessage(ctx, c, &msg)
		}
	}()
	defer func() {
		cancel()
		close(jobs)
		<-done
	}()

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("[websocket] read error", "session", sessionID, "err", err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(h.readTimeout))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			c.sendError("bad_request", "session mismatch")
			continue
		}

		select {
		case jobs <- msg:
		default:
			c.sendError("busy", "too many pending messages")
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, c *wsConn, msg *inboundMessage) {
	switch msg.Type {
	case "prompt":
		var prompt PromptMessage
		if err := json.Unmarshal(msg.Data, &prompt); err != nil {
			c.sendError("bad_request", "invalid prompt payload")
			return
		}
		h.handlePrompt(ctx, c, prompt.Text)
	case "xml":
		var edited XMLMessage
		if err := json.Unmarshal(msg.Data, &edited); err != nil {
			c.sendError("bad_request", "invalid xml payload")
			return
		}
		h.handleXML(ctx, c, edited.XML)
	default:
		c.sendError("bad_request", "unsupported message type: "+msg.Type)
	}
}

func (h *WebSocketHandler) handlePrompt(ctx context.Context, c *wsConn, text string) {
	if h.limiter != nil && !h.limiter.Allow(c.sessionID) {
		c.sendError("rate_limited", "too many generation requests, slow down")
		return
	}

	result, err := h.studio.Turn(ctx, c.sessionID, text, func(e ai.Event) {
		c.send("stage", e)
	})
	if err != nil {
		_, kind := generate.StatusForError(err)
		slog.Warn("[websocket] turn failed", "session", c.sessionID, "kind", kind, "err", err)
		c.sendError(kind, err.Error())
		return
	}

	c.send("diagram", map[string]string{"output": result.XML, "process": result.Process})
	c.send("awaiting_edit", map[string]string{"message": AwaitingEditMessage})
}

func (h *WebSocketHandler) handleXML(ctx context.Context, c *wsConn, xml string) {
	if err := h.studio.ReplaceDiagram(ctx, c.sessionID, xml); err != nil {
		var syntaxErr *bpmn.SyntaxError
		if errors.As(err, &syntaxErr) {
			c.sendError(generate.KindInvalidXML, syntaxErr.Error())
			return
		}
		c.sendError("internal", err.Error())
		return
	}

	log.Printf("[websocket] diagram replaced by client session=%s", c.sessionID)
	c.send("awaiting_edit", map[string]string{"message": AwaitingEditMessage})
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, c *wsConn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
