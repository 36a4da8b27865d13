// Package openrouter adapts the OpenRouter chat completions API to the eino
// ChatModel interface so it can be composed into chains like any other model.
package openrouter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Config 描述 OpenRouter 模型连接参数。
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// SiteURL and SiteName are sent as HTTP-Referer / X-Title for rankings on openrouter.ai.
	SiteURL  string
	SiteName string

	Temperature *float32
	TopP        *float32
	MaxTokens   *int

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// ChatModel implements model.ChatModel on top of go-openai.
type ChatModel struct {
	client *openai.Client
	cfg    Config
}

var _ model.ChatModel = (*ChatModel)(nil)

// NewChatModel creates an OpenRouter backed chat model.
func NewChatModel(_ context.Context, cfg *Config) (*ChatModel, error) {
	if cfg == nil {
		return nil, errors.New("openrouter config is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openrouter api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("openrouter model name is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = DefaultBaseURL
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: 5 * time.Minute}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout:   base.Timeout,
		Transport: &attributionTransport{next: transport, siteURL: cfg.SiteURL, siteName: cfg.SiteName},
	}

	return &ChatModel{client: openai.NewClientWithConfig(clientCfg), cfg: *cfg}, nil
}

// Generate 发送一次非流式补全请求。
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	req := m.buildRequest(input, opts...)

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openrouter completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openrouter returned no choices")
	}

	choice := resp.Choices[0]
	return &schema.Message{
		Role:    schema.Assistant,
		Content: choice.Message.Content,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: string(choice.FinishReason),
			Usage: &schema.TokenUsage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		},
	}, nil
}

// Stream 以流式方式返回补全内容。
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	req := m.buildRequest(input, opts...)
	req.Stream = true

	stream, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openrouter stream failed: %w", err)
	}

	reader, writer := schema.Pipe[*schema.Message](8)
	go func() {
		defer stream.Close()
		defer writer.Close()

		for {
			chunk, recvErr := stream.Recv()
			if errors.Is(recvErr, io.EOF) {
				return
			}
			if recvErr != nil {
				writer.Send(nil, recvErr)
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			msg := &schema.Message{Role: schema.Assistant, Content: chunk.Choices[0].Delta.Content}
			if closed := writer.Send(msg, nil); closed {
				return
			}
		}
	}()

	return reader, nil
}

// BindTools is not supported; BPMN generation is plain text completion.
func (m *ChatModel) BindTools(_ []*schema.ToolInfo) error {
	return errors.New("openrouter chat model does not support tools")
}

func (m *ChatModel) buildRequest(input []*schema.Message, opts ...model.Option) openai.ChatCompletionRequest {
	modelName := m.cfg.Model
	options := model.GetCommonOptions(&model.Options{
		Model:       &modelName,
		Temperature: m.cfg.Temperature,
		TopP:        m.cfg.TopP,
		MaxTokens:   m.cfg.MaxTokens,
	}, opts...)

	messages := make([]openai.ChatCompletionMessage, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    *options.Model,
		Messages: messages,
		Stop:     options.Stop,
	}
	if options.Temperature != nil {
		req.Temperature = *options.Temperature
	}
	if options.TopP != nil {
		req.TopP = *options.TopP
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	return req
}

type attributionTransport struct {
	next     http.RoundTripper
	siteURL  string
	siteName string
}

func (t *attributionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if t.siteURL != "" {
		clone.Header.Set("HTTP-Referer", t.siteURL)
	}
	if t.siteName != "" {
		clone.Header.Set("X-Title", t.siteName)
	}
	return t.next.RoundTrip(clone)
}
