package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/PigStep/Vibe-BPMN-studio/internal/bpmn"
	"github.com/PigStep/Vibe-BPMN-studio/internal/config"
	"github.com/PigStep/Vibe-BPMN-studio/internal/model/chat"
)

const instrumentationName = "github.com/PigStep/Vibe-BPMN-studio/internal/service/ai"

// Stage names a step of the generation pipeline.
type Stage string

const (
	StageImagine  Stage = "imagine"
	StageGenerate Stage = "generate"
	StageValidate Stage = "validate"
	StageRepair   Stage = "repair"
)

// Event statuses reported to observers.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event reports pipeline progress to an Observer.
type Event struct {
	Stage   Stage  `json:"stage"`
	Status  string `json:"status"`
	Attempt int    `json:"attempt,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Observer receives stage events. It is called synchronously.
type Observer func(Event)

var ErrEmptyInput = errors.New("user_input is required")

// InvalidDiagramError is returned when the model never produced well-formed XML.
type InvalidDiagramError struct {
	XML      string
	Attempts int
	Err      error
}

func (e *InvalidDiagramError) Error() string {
	return fmt.Sprintf("generated diagram is invalid after %d repair attempt(s): %v", e.Attempts, e.Err)
}

func (e *InvalidDiagramError) Unwrap() error { return e.Err }

// Request is one user instruction within a session.
type Request struct {
	SessionID      string
	UserInput      string
	CurrentDiagram string
	History        []chat.Message
	Observer       Observer
}

// Result carries the business process and the validated diagram.
type Result struct {
	Process string
	XML     string
	Repairs int
}

// Service turns natural-language instructions into BPMN diagrams.
type Service struct {
	prompts PromptSet
	cfg     config.AIConfig
	chains  map[Stage]compose.Runnable[map[string]any, *schema.Message]

	tracer      trace.Tracer
	generations metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewService creates the chat model from configuration and loads prompts.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	prompts, err := LoadPrompts(cfg.PromptDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	return NewServiceWithModel(ctx, chatModel, prompts, cfg)
}

// NewServiceWithModel compiles one chain per model-backed stage.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, prompts PromptSet, cfg config.AIConfig) (*Service, error) {
	chains := make(map[Stage]compose.Runnable[map[string]any, *schema.Message], len(promptFiles))
	for stage := range promptFiles {
		call, ok := prompts[stage]
		if !ok {
			return nil, fmt.Errorf("missing prompt for stage %s", stage)
		}

		promptTemplate := prompt.FromMessages(
			schema.Jinja2,
			schema.SystemMessage(call.SystemPrompt),
			schema.MessagesPlaceholder("history", true),
			schema.UserMessage(call.UserPrompt),
		)

		chain := compose.NewChain[map[string]any, *schema.Message]()
		chain.AppendChatTemplate(promptTemplate)
		chain.AppendChatModel(chatModel)

		runnable, err := chain.Compile(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s chain: %w", stage, err)
		}
		chains[stage] = runnable
	}

	meter := otel.Meter(instrumentationName)
	generations, err := meter.Int64Counter("bpmn.generations",
		metric.WithDescription("Diagram generations by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create generation counter: %w", err)
	}
	duration, err := meter.Float64Histogram("bpmn.generation.duration",
		metric.WithDescription("Diagram generation latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &Service{
		prompts:     prompts,
		cfg:         cfg,
		chains:      chains,
		tracer:      otel.Tracer(instrumentationName),
		generations: generations,
		duration:    duration,
	}, nil
}

// Generate runs imagine → generate → validate, repairing invalid XML up to
// the configured number of attempts.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.UserInput) == "" {
		return nil, ErrEmptyInput
	}

	if s.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.GenerateTimeout)
		defer cancel()
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "bpmn.generate",
		trace.WithAttributes(attribute.String("session.id", req.SessionID)))
	defer span.End()

	result, err := s.run(ctx, req)

	outcome := "ok"
	var invalid *InvalidDiagramError
	switch {
	case errors.As(err, &invalid):
		outcome = "invalid_xml"
	case err != nil:
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	s.generations.Add(ctx, 1, attrs)
	s.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.ErrorContext(ctx, "[ai] generation failed", "session", req.SessionID, "outcome", outcome, "err", err)
		return nil, err
	}

	log.Printf("[ai] generated diagram session=%s repairs=%d length=%d", req.SessionID, result.Repairs, len(result.XML))
	return result, nil
}

func (s *Service) run(ctx context.Context, req Request) (*Result, error) {
	notify := req.Observer
	if notify == nil {
		notify = func(Event) {}
	}

	vars := map[string]any{
		"user_input":      req.UserInput,
		"current_diagram": req.CurrentDiagram,
		"history":         buildHistoryMessages(req.History, s.cfg.HistoryLimit),
		"process":         "",
		"xml":             "",
		"error":           "",
	}

	process, err := s.invoke(ctx, StageImagine, 0, vars, notify)
	if err != nil {
		return nil, err
	}
	vars["process"] = process
	// later stages work from the process description alone
	vars["history"] = []*schema.Message{}

	raw, err := s.invoke(ctx, StageGenerate, 0, vars, notify)
	if err != nil {
		return nil, err
	}

	xml := bpmn.CleanXML(raw)
	repairs := 0
	for {
		notify(Event{Stage: StageValidate, Status: StatusStarted, Attempt: repairs})
		verr := bpmn.Validate(xml)
		if verr == nil {
			notify(Event{Stage: StageValidate, Status: StatusCompleted, Attempt: repairs})
			break
		}
		notify(Event{Stage: StageValidate, Status: StatusFailed, Attempt: repairs, Detail: verr.Error()})
		slog.WarnContext(ctx, "[ai] invalid xml", "session", req.SessionID, "attempt", repairs, "err", verr)

		if repairs >= s.cfg.MaxRepairAttempts {
			return nil, &InvalidDiagramError{XML: xml, Attempts: repairs, Err: verr}
		}
		repairs++

		vars["xml"] = xml
		vars["error"] = verr.Error()
		raw, err = s.invoke(ctx, StageRepair, repairs, vars, notify)
		if err != nil {
			return nil, err
		}
		xml = bpmn.CleanXML(raw)
	}

	return &Result{Process: strings.TrimSpace(process), XML: xml, Repairs: repairs}, nil
}

func (s *Service) invoke(ctx context.Context, stage Stage, attempt int, vars map[string]any, notify Observer) (string, error) {
	ctx, span := s.tracer.Start(ctx, "bpmn.stage."+string(stage),
		trace.WithAttributes(attribute.Int("attempt", attempt)))
	defer span.End()

	notify(Event{Stage: stage, Status: StatusStarted, Attempt: attempt})

	var opts []compose.Option
	if t := s.prompts[stage].Temperature; t != nil {
		opts = append(opts, compose.WithChatModelOption(model.WithTemperature(float32(*t))))
	}

	response, err := s.chains[stage].Invoke(ctx, vars, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		notify(Event{Stage: stage, Status: StatusFailed, Attempt: attempt, Detail: err.Error()})
		return "", fmt.Errorf("failed to run %s stage: %w", stage, err)
	}

	span.SetAttributes(attribute.Int("response.length", len(response.Content)))
	notify(Event{Stage: stage, Status: StatusCompleted, Attempt: attempt})
	return response.Content, nil
}

func buildHistoryMessages(messages []chat.Message, limit int) []*schema.Message {
	if limit <= 0 {
		limit = 10
	}

	startIdx := 0
	if len(messages) > limit {
		startIdx = len(messages) - limit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.SenderAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
