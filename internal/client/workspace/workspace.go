// Package workspace holds the state of one editing session on the client:
// the raw XML editor, the rendered view, the chat transcript and the
// sidebar panels. Every user action goes through a Workspace method.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"strings"
	"sync"

	"github.com/PigStep/Vibe-BPMN-studio/internal/bpmn"
	"github.com/PigStep/Vibe-BPMN-studio/internal/client/files"
	"github.com/PigStep/Vibe-BPMN-studio/internal/client/viewer"
)

// Fixed transcript messages.
const (
	ThinkingMessage = "Understood! Thinking about your response. Please wait.."
	ApologyMessage  = "Sorry, an error occurred while processing your request."
)

// Panel identifies one sidebar panel.
type Panel string

const (
	PanelChat Panel = "chat-panel"
	PanelXML  Panel = "xml-panel"
)

// Panels is the fixed set of sidebar panels in display order.
var Panels = []Panel{PanelChat, PanelXML}

var (
	// ErrUnknownPanel is returned by Activate for a panel outside Panels.
	ErrUnknownPanel = errors.New("unknown panel")
	// ErrStaleResponse marks a result that arrived after a newer update was
	// started; it is dropped without touching the diagram.
	ErrStaleResponse = errors.New("stale response discarded")
)

// Message is one transcript entry.
type Message struct {
	Text   string `json:"text"`
	IsUser bool   `json:"isUser"`
}

// Generator turns a chat message into diagram XML.
type Generator interface {
	Generate(ctx context.Context, text string) (string, error)
}

// ExampleSource provides the diagram shown on start-up.
type ExampleSource interface {
	FetchExample(ctx context.Context) (string, error)
}

// Options are the collaborators of a Workspace. Examples is optional;
// without it Init shows the built-in base diagram.
type Options struct {
	Viewer     viewer.Viewer
	Generator  Generator
	Downloader files.Downloader
	Examples   ExampleSource
}

// Workspace is safe for concurrent use. Network and file reads run without
// holding the lock; the diagram is only replaced by the newest operation.
type Workspace struct {
	viewer     viewer.Viewer
	generator  Generator
	downloader files.Downloader
	examples   ExampleSource

	mu         sync.Mutex
	editor     string
	transcript []Message
	active     Panel
	latest     uint64
}

// New 创建工作区
func New(opts Options) (*Workspace, error) {
	if opts.Viewer == nil {
		return nil, errors.New("workspace: viewer is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("workspace: generator is required")
	}
	if opts.Downloader == nil {
		return nil, errors.New("workspace: downloader is required")
	}

	return &Workspace{
		viewer:     opts.Viewer,
		generator:  opts.Generator,
		downloader: opts.Downloader,
		examples:   opts.Examples,
		active:     PanelChat,
	}, nil
}

// Init attaches the viewer and shows the example diagram. When the example
// cannot be fetched the base diagram is shown instead.
func (w *Workspace) Init(ctx context.Context) error {
	w.viewer.Initialize()
	token := w.issueToken()

	var doc string
	if w.examples != nil {
		example, err := w.examples.FetchExample(ctx)
		if err != nil {
			slog.Warn("[workspace] failed to fetch example diagram", "err", err)
		} else {
			doc = example
		}
	}
	if doc == "" {
		base, err := bpmn.Assemble(bpmn.BaseDocument())
		if err != nil {
			return fmt.Errorf("build base diagram: %w", err)
		}
		doc = base
	}

	return w.applyIfLatest(ctx, token, doc)
}

// UpdateDiagram puts xml into the editor and renders it. A render failure is
// logged and returned; the editor keeps the new content.
func (w *Workspace) UpdateDiagram(ctx context.Context, xml string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latest++
	return w.updateLocked(ctx, xml)
}

func (w *Workspace) updateLocked(ctx context.Context, xml string) error {
	w.editor = xml
	if err := w.viewer.LoadXML(ctx, xml); err != nil {
		slog.Warn("[workspace] failed to render diagram", "err", err)
		return err
	}
	return nil
}

// SetEditor replaces the editor content without rendering it.
func (w *Workspace) SetEditor(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.editor = text
}

// ApplyEditor renders the current editor content. Empty content is ignored.
func (w *Workspace) ApplyEditor(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	xml := strings.TrimSpace(w.editor)
	if xml == "" {
		return nil
	}
	w.latest++
	if err := w.viewer.LoadXML(ctx, xml); err != nil {
		slog.Warn("[workspace] failed to render editor content", "err", err)
		return err
	}
	return nil
}

// Activate shows panel and hides every other one.
func (w *Workspace) Activate(panel Panel) error {
	for _, p := range Panels {
		if p == panel {
			w.mu.Lock()
			w.active = panel
			w.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownPanel, panel)
}

// IsActive reports whether panel carries the active marker.
func (w *Workspace) IsActive(panel Panel) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active == panel
}

// ActivePanel returns the visible panel.
func (w *Workspace) ActivePanel() Panel {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// SubmitChat sends text to the generator. The user message and the thinking
// placeholder are appended first; on failure the apology follows and the
// diagram is left alone. Blank input is ignored.
func (w *Workspace) SubmitChat(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	w.mu.Lock()
	w.transcript = append(w.transcript,
		Message{Text: text, IsUser: true},
		Message{Text: ThinkingMessage},
	)
	w.latest++
	token := w.latest
	w.mu.Unlock()

	xml, err := w.generator.Generate(ctx, text)
	if err != nil {
		slog.Warn("[workspace] chat request failed", "err", err)
		w.mu.Lock()
		w.transcript = append(w.transcript, Message{Text: ApologyMessage})
		w.mu.Unlock()
		return err
	}

	return w.applyIfLatest(ctx, token, xml)
}

// LoadFile reads a diagram from disk and shows it.
func (w *Workspace) LoadFile(ctx context.Context, path string) error {
	token := w.issueToken()

	xml, err := files.LoadFromFile(path)
	if err != nil {
		slog.Warn("[workspace] failed to load file", "err", err)
		return err
	}
	return w.applyIfLatest(ctx, token, xml)
}

// DownloadSVG exports the rendered diagram as bpmn-diagram.svg.
func (w *Workspace) DownloadSVG(ctx context.Context) error {
	svg, err := w.viewer.SaveSVG(ctx)
	if err != nil {
		return fmt.Errorf("export svg: %w", err)
	}
	return w.downloader.Download(svg, files.SVGFilename, files.SVGMime)
}

// DownloadBPMN exports the rendered diagram as bpmn-diagram.bpmn.
func (w *Workspace) DownloadBPMN(ctx context.Context) error {
	xml, err := w.viewer.SaveXML(ctx)
	if err != nil {
		return fmt.Errorf("export bpmn: %w", err)
	}
	return w.downloader.Download(xml, files.BPMNFilename, files.BPMNMime)
}

func (w *Workspace) ZoomIn()      { w.viewer.ZoomIn() }
func (w *Workspace) ZoomOut()     { w.viewer.ZoomOut() }
func (w *Workspace) FitViewport() { w.viewer.FitViewport() }

// Editor returns the raw XML editor content.
func (w *Workspace) Editor() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.editor
}

// Transcript returns a copy of the chat transcript.
func (w *Workspace) Transcript() []Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Message, len(w.transcript))
	copy(out, w.transcript)
	return out
}

func (w *Workspace) issueToken() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latest++
	return w.latest
}

func (w *Workspace) applyIfLatest(ctx context.Context, token uint64, xml string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if token != w.latest {
		log.Printf("[workspace] dropping stale diagram update token=%d latest=%d", token, w.latest)
		return ErrStaleResponse
	}
	return w.updateLocked(ctx, xml)
}
