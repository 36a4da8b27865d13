// Package viewer defines the diagram viewer contract and a headless
// implementation for terminal use.
package viewer

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/PigStep/Vibe-BPMN-studio/internal/bpmn"
)

var (
	// ErrNotInitialized is returned before Initialize has been called.
	ErrNotInitialized = errors.New("viewer not initialized")
	// ErrNoDiagram is returned when exporting before any diagram loaded.
	ErrNoDiagram = errors.New("no diagram loaded")
)

// Viewer renders BPMN diagrams. LoadXML fails on malformed markup and keeps
// the previous diagram in that case.
type Viewer interface {
	Initialize()
	LoadXML(ctx context.Context, xml string) error
	ZoomIn()
	ZoomOut()
	FitViewport()
	SaveSVG(ctx context.Context) (string, error)
	SaveXML(ctx context.Context) (string, error)
}

const (
	zoomStep = 0.1
	zoomMin  = 0.2
	zoomMax  = 4.0
	padding  = 20.0
)

// Headless keeps the loaded document in memory and exports a box outline
// of its shapes as SVG.
type Headless struct {
	mu          sync.RWMutex
	initialized bool
	xml         string
	shapes      []bpmn.Shape
	zoom        float64
}

// NewHeadless 创建无界面查看器
func NewHeadless() *Headless {
	return &Headless{zoom: 1}
}

func (v *Headless) Initialize() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.initialized = true
	v.zoom = 1
}

func (v *Headless) LoadXML(ctx context.Context, doc string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	shapes, err := bpmn.Outline(doc)
	if err != nil {
		return fmt.Errorf("import diagram: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.initialized {
		return ErrNotInitialized
	}
	v.xml = doc
	v.shapes = shapes
	return nil
}

func (v *Headless) ZoomIn() { v.setZoom(v.Zoom() + zoomStep) }

func (v *Headless) ZoomOut() { v.setZoom(v.Zoom() - zoomStep) }

// FitViewport resets the zoom so the whole diagram is shown at its natural size.
func (v *Headless) FitViewport() { v.setZoom(1) }

// Zoom returns the current zoom factor.
func (v *Headless) Zoom() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.zoom
}

func (v *Headless) setZoom(z float64) {
	z = math.Round(z*100) / 100
	z = math.Max(zoomMin, math.Min(zoomMax, z))

	v.mu.Lock()
	v.zoom = z
	v.mu.Unlock()
}

func (v *Headless) SaveXML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.xml == "" {
		return "", ErrNoDiagram
	}
	return v.xml, nil
}

func (v *Headless) SaveSVG(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.xml == "" {
		return "", ErrNoDiagram
	}
	return renderOutline(v.shapes, v.zoom), nil
}

func renderOutline(shapes []bpmn.Shape, zoom float64) string {
	minX, minY, maxX, maxY := 0.0, 0.0, 0.0, 0.0
	for i, s := range shapes {
		if i == 0 {
			minX, minY = s.Bounds.X, s.Bounds.Y
			maxX, maxY = s.Bounds.X+s.Bounds.Width, s.Bounds.Y+s.Bounds.Height
			continue
		}
		minX = math.Min(minX, s.Bounds.X)
		minY = math.Min(minY, s.Bounds.Y)
		maxX = math.Max(maxX, s.Bounds.X+s.Bounds.Width)
		maxY = math.Max(maxY, s.Bounds.Y+s.Bounds.Height)
	}
	minX -= padding
	minY -= padding
	width := maxX - minX + padding
	height := maxY - minY + padding

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%s" height="%s" viewBox="%s %s %s %s">`+"\n",
		num(width*zoom), num(height*zoom), num(minX), num(minY), num(width), num(height))

	for _, s := range shapes {
		fmt.Fprintf(&b, `  <g data-element-id="%s">`+"\n", escape(s.ElementID))
		fmt.Fprintf(&b, `    <rect x="%s" y="%s" width="%s" height="%s" rx="10" fill="white" stroke="black" stroke-width="2"/>`+"\n",
			num(s.Bounds.X), num(s.Bounds.Y), num(s.Bounds.Width), num(s.Bounds.Height))
		if s.Name != "" {
			fmt.Fprintf(&b, `    <text x="%s" y="%s" text-anchor="middle" dominant-baseline="middle" font-family="Arial" font-size="12">%s</text>`+"\n",
				num(s.Bounds.X+s.Bounds.Width/2), num(s.Bounds.Y+s.Bounds.Height/2), escape(s.Name))
		}
		b.WriteString("  </g>\n")
	}

	b.WriteString("</svg>\n")
	return b.String()
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
