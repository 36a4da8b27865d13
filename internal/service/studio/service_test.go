package studio

import (
	"context"
	"errors"
	"testing"

	"github.com/PigStep/Vibe-BPMN-studio/internal/bpmn"
	"github.com/PigStep/Vibe-BPMN-studio/internal/model/chat"
	"github.com/PigStep/Vibe-BPMN-studio/internal/service/ai"
	chatservice "github.com/PigStep/Vibe-BPMN-studio/internal/service/chat"
)

type stubGenerator struct {
	requests []ai.Request
	result   *ai.Result
	err      error
}

func (s *stubGenerator) Generate(_ context.Context, req ai.Request) (*ai.Result, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func TestTurnPersistsConversationAndDiagram(t *testing.T) {
	store := chatservice.NewMemoryStore()
	gen := &stubGenerator{result: &ai.Result{Process: "1. start", XML: "<d1/>"}}
	svc := New(gen, store)
	ctx := context.Background()

	if _, err := svc.Turn(ctx, "s1", "  draw a flow ", nil); err != nil {
		t.Fatalf("Turn err: %v", err)
	}
	gen.result = &ai.Result{Process: "2. task", XML: "<d2/>"}
	if _, err := svc.Turn(ctx, "s1", "add a task", nil); err != nil {
		t.Fatalf("Turn err: %v", err)
	}

	second := gen.requests[1]
	if second.CurrentDiagram != "<d1/>" {
		t.Fatalf("expected previous diagram as context, got %q", second.CurrentDiagram)
	}
	if len(second.History) != 2 || second.History[0].Content != "draw a flow" {
		t.Fatalf("expected history of first turn, got %+v", second.History)
	}

	transcript, _ := store.LoadTranscript(ctx, "s1")
	if len(transcript) != 4 || transcript[3].Sender != chat.SenderAssistant {
		t.Fatalf("unexpected transcript %+v", transcript)
	}
	if current, _ := store.CurrentDiagram(ctx, "s1"); current != "<d2/>" {
		t.Fatalf("expected latest diagram, got %q", current)
	}
}

func TestTurnFailureKeepsDiagram(t *testing.T) {
	store := chatservice.NewMemoryStore()
	ctx := context.Background()
	if _, err := store.EnsureSession(ctx, "s1"); err != nil {
		t.Fatalf("EnsureSession err: %v", err)
	}
	if err := store.SaveDiagram(ctx, "s1", "<keep/>"); err != nil {
		t.Fatalf("SaveDiagram err: %v", err)
	}

	boom := errors.New("boom")
	svc := New(&stubGenerator{err: boom}, store)
	if _, err := svc.Turn(ctx, "s1", "x", nil); !errors.Is(err, boom) {
		t.Fatalf("expected generator error, got %v", err)
	}
	if current, _ := store.CurrentDiagram(ctx, "s1"); current != "<keep/>" {
		t.Fatalf("expected diagram untouched, got %q", current)
	}
}

func TestTurnWithoutGenerator(t *testing.T) {
	svc := New(nil, chatservice.NewMemoryStore())
	if svc.Available() {
		t.Fatal("expected unavailable service")
	}
	if _, err := svc.Turn(context.Background(), "s1", "x", nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestTurnRejectsBlankInput(t *testing.T) {
	gen := &stubGenerator{}
	svc := New(gen, chatservice.NewMemoryStore())
	if _, err := svc.Turn(context.Background(), "s1", "   ", nil); !errors.Is(err, ai.ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if len(gen.requests) != 0 {
		t.Fatal("expected generator not to be called")
	}
}

func TestReplaceDiagramValidates(t *testing.T) {
	store := chatservice.NewMemoryStore()
	svc := New(nil, store)
	ctx := context.Background()

	var syntaxErr *bpmn.SyntaxError
	if err := svc.ReplaceDiagram(ctx, "s1", "<open>"); !errors.As(err, &syntaxErr) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
	if err := svc.ReplaceDiagram(ctx, "s1", "```xml\n<ok/>\n```"); err != nil {
		t.Fatalf("ReplaceDiagram err: %v", err)
	}
	if current, _ := store.CurrentDiagram(ctx, "s1"); current != "<ok/>" {
		t.Fatalf("expected cleaned diagram, got %q", current)
	}
}
