// Package responder sends chat messages to the generation API and turns the
// reply into diagram markup.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/PigStep/Vibe-BPMN-studio/internal/config"
	"github.com/PigStep/Vibe-BPMN-studio/internal/model/diagram"
)

// FailureMessage is returned by GenerateResponse whenever a reply cannot be obtained.
const FailureMessage = "Sorry, unable to connect to the server."

const generatePath = "/api/generate"

// Responder turns one chat message into the assistant reply.
type Responder interface {
	// Generate returns the output field of the reply or a typed error.
	Generate(ctx context.Context, text string) (string, error)
	// GenerateResponse never fails: errors collapse into FailureMessage.
	GenerateResponse(ctx context.Context, text string) string
}

// RequestFailedError reports a non-success HTTP status from the API.
type RequestFailedError struct {
	StatusCode int
	Body       string
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// SchemaError reports a reply that does not match {"output": "<string>"}.
type SchemaError struct {
	Reason string
	Body   string
}

func (e *SchemaError) Error() string {
	return "unexpected response schema: " + e.Reason
}

// Client is the HTTP Responder. Which request shape it sends is fixed at
// construction by the configured transport.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiURL     string
	transport  config.Transport
	sessions   SessionStore

	mu sync.Mutex
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// New 创建生成接口客户端
func New(cfg config.ClientConfig, sessions SessionStore, opts ...Option) (*Client, error) {
	switch cfg.Transport {
	case config.TransportPost, config.TransportQuery:
	case "":
		cfg.Transport = config.TransportPost
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
	if sessions == nil {
		sessions = NewMemorySessionStore("")
	}

	c := &Client{
		// 不设置超时：请求持续到服务端返回或调用方取消
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.App.BaseURL, "/"),
		apiURL:     strings.TrimRight(cfg.App.APIURL, "/"),
		transport:  cfg.Transport,
		sessions:   sessions,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SessionID returns the persisted session identifier, minting one on first use.
func (c *Client) SessionID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.sessions.Get()
	if err != nil {
		return "", fmt.Errorf("read session id: %w", err)
	}
	if id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := c.sessions.Set(id); err != nil {
		return "", fmt.Errorf("persist session id: %w", err)
	}
	log.Printf("[responder] new session %s", id)
	return id, nil
}

// Generate sends text and returns the diagram markup from the reply.
func (c *Client) Generate(ctx context.Context, text string) (string, error) {
	body, err := c.send(ctx, text)
	if err != nil {
		return "", err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", &SchemaError{Reason: "body is not a JSON object", Body: string(body)}
	}
	raw, ok := fields["output"]
	if !ok {
		return "", &SchemaError{Reason: "missing output field", Body: string(body)}
	}
	var output string
	if err := json.Unmarshal(raw, &output); err != nil {
		return "", &SchemaError{Reason: "output is not a string", Body: string(body)}
	}
	return output, nil
}

// GenerateResponse keeps the lenient contract of the browser client: the
// output field when present, the whole body otherwise, FailureMessage on
// any failure.
func (c *Client) GenerateResponse(ctx context.Context, text string) string {
	body, err := c.send(ctx, text)
	if err != nil {
		slog.Warn("[responder] generate failed", "err", err)
		return FailureMessage
	}

	var reply any
	if err := json.Unmarshal(body, &reply); err != nil {
		slog.Warn("[responder] malformed response body", "err", err)
		return FailureMessage
	}
	if obj, ok := reply.(map[string]any); ok {
		if output, ok := obj["output"].(string); ok && output != "" {
			return output
		}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return strings.TrimSpace(string(body))
	}
	return compact.String()
}

// FetchExample loads the example diagram served by the API.
func (c *Client) FetchExample(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/example-bpmn-xml", nil)
	if err != nil {
		return "", fmt.Errorf("build example request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var reply diagram.ExampleResponse
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", &SchemaError{Reason: "body is not a JSON object", Body: string(body)}
	}
	if reply.XML == "" {
		return "", &SchemaError{Reason: "missing xml field", Body: string(body)}
	}
	return reply.XML, nil
}

func (c *Client) send(ctx context.Context, text string) ([]byte, error) {
	sessionID, err := c.SessionID()
	if err != nil {
		return nil, err
	}

	req, err := c.buildRequest(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set(diagram.SessionHeader, sessionID)

	return c.do(req)
}

func (c *Client) buildRequest(ctx context.Context, text string) (*http.Request, error) {
	endpoint := c.baseURL + generatePath

	switch c.transport {
	case config.TransportQuery:
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?user_input="+url.QueryEscape(text), nil)
	default:
		payload, err := json.Marshal(diagram.GenerateRequest{UserInput: text})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestFailedError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// IsSchemaError reports whether err is a reply schema mismatch.
func IsSchemaError(err error) bool {
	var schemaErr *SchemaError
	return errors.As(err, &schemaErr)
}
