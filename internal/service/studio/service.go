package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PigStep/Vibe-BPMN-studio/internal/bpmn"
	"github.com/PigStep/Vibe-BPMN-studio/internal/model/chat"
	"github.com/PigStep/Vibe-BPMN-studio/internal/service/ai"
	chatservice "github.com/PigStep/Vibe-BPMN-studio/internal/service/chat"
)

// ErrUnavailable is returned when no model is configured.
var ErrUnavailable = errors.New("ai generation unavailable")

// Generator produces diagrams from instructions.
type Generator interface {
	Generate(ctx context.Context, req ai.Request) (*ai.Result, error)
}

// Service runs one conversational turn: it records the instruction, asks the
// generator for a diagram in the context of the session and stores the result.
type Service struct {
	gen   Generator
	store chatservice.Store
}

// New wires a generator to a session store. gen may be nil when AI is disabled.
func New(gen Generator, store chatservice.Store) *Service {
	return &Service{gen: gen, store: store}
}

// Available reports whether generation can run.
func (s *Service) Available() bool {
	return s.gen != nil
}

// Store exposes the underlying session store.
func (s *Service) Store() chatservice.Store {
	return s.store
}

// Turn generates a diagram for userInput within sessionID.
func (s *Service) Turn(ctx context.Context, sessionID, userInput string, observer ai.Observer) (*ai.Result, error) {
	if s.gen == nil {
		return nil, ErrUnavailable
	}
	userInput = strings.TrimSpace(userInput)
	if userInput == "" {
		return nil, ai.ErrEmptyInput
	}

	if _, err := s.store.EnsureSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}

	history, err := s.store.LoadTranscript(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	current, err := s.store.CurrentDiagram(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load diagram: %w", err)
	}

	if err := s.store.SaveMessage(ctx, chat.Message{SessionID: sessionID, Sender: chat.SenderUser, Content: userInput}); err != nil {
		slog.ErrorContext(ctx, "[studio] failed to save user message", "session", sessionID, "err", err)
	}

	result, err := s.gen.Generate(ctx, ai.Request{
		SessionID:      sessionID,
		UserInput:      userInput,
		CurrentDiagram: current,
		History:        history,
		Observer:       observer,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveMessage(ctx, chat.Message{SessionID: sessionID, Sender: chat.SenderAssistant, Content: result.Process}); err != nil {
		slog.ErrorContext(ctx, "[studio] failed to save assistant message", "session", sessionID, "err", err)
	}
	if err := s.store.SaveDiagram(ctx, sessionID, result.XML); err != nil {
		slog.ErrorContext(ctx, "[studio] failed to save diagram", "session", sessionID, "err", err)
	}

	return result, nil
}

// ReplaceDiagram stores a diagram edited by hand so the next turn builds on it.
func (s *Service) ReplaceDiagram(ctx context.Context, sessionID, xml string) error {
	xml = bpmn.CleanXML(xml)
	if err := bpmn.Validate(xml); err != nil {
		return err
	}
	if _, err := s.store.EnsureSession(ctx, sessionID); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return s.store.SaveDiagram(ctx, sessionID, xml)
}
