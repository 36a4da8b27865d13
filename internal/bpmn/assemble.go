package bpmn

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
)

// Namespaces declared on every assembled document.
var namespaces = []struct{ Prefix, URI string }{
	{"bpmn", "http://www.omg.org/spec/BPMN/20100524/MODEL"},
	{"bpmndi", "http://www.omg.org/spec/BPMN/20100524/DI"},
	{"dc", "http://www.omg.org/spec/DD/20100524/DC"},
	{"di", "http://www.omg.org/spec/DD/20100524/DI"},
	{"xsi", "http://www.w3.org/2001/XMLSchema-instance"},
}

// ErrProcessMissing is returned when a document has no process section.
var ErrProcessMissing = errors.New("process data missing")

// Document is the structured description a diagram is assembled from.
type Document struct {
	Process       *Process       `json:"process,omitempty"`
	Collaboration *Collaboration `json:"collaboration,omitempty"`
	Flow          *FlowSet       `json:"flow,omitempty"`
	Layout        *Layout        `json:"layout,omitempty"`
}

// Process holds the flow nodes of a single process.
type Process struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Nodes []Node `json:"nodes"`
}

// Node is a flow node such as startEvent, userTask or exclusiveGateway.
type Node struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Collaboration groups participants (pools) referencing processes.
type Collaboration struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants,omitempty"`
}

// Participant is a pool bound to a process.
type Participant struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	ProcessRef string `json:"processRef"`
}

// FlowSet wraps the sequence flows of the process.
type FlowSet struct {
	Flows []SequenceFlow `json:"flows"`
}

// SequenceFlow connects two flow nodes.
type SequenceFlow struct {
	ID        string `json:"id"`
	SourceRef string `json:"sourceRef"`
	TargetRef string `json:"targetRef"`
	Name      string `json:"name,omitempty"`
}

// Layout positions diagram elements.
type Layout struct {
	Positions []Position `json:"positions"`
}

// Position places one element on the plane.
type Position struct {
	ElementID string `json:"elementId"`
	Bounds    Bounds `json:"bounds"`
}

// Bounds is a rectangle in diagram coordinates.
type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NormalizeDefinitions maps loosely keyed JSON definitions, as produced by
// language models, onto a Document. Keys are matched case-insensitively
// against a few known synonyms; the first match wins.
func NormalizeDefinitions(defs map[string]json.RawMessage) (Document, error) {
	var doc Document

	sections := []struct {
		keys   []string
		target any
	}{
		{[]string{"Process", "process"}, &doc.Process},
		{[]string{"Collaboration", "collaboration"}, &doc.Collaboration},
		{[]string{"Flows", "flows", "flow"}, &doc.Flow},
		{[]string{"Layout", "layout", "Diagramm", "diagramm"}, &doc.Layout},
	}

	for _, section := range sections {
		raw, ok := findFirst(defs, section.keys)
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, section.target); err != nil {
			return Document{}, fmt.Errorf("decode %s: %w", section.keys[0], err)
		}
	}
	return doc, nil
}

func findFirst(source map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, key := range keys {
		if raw, ok := source[key]; ok && len(raw) > 0 && string(raw) != "null" {
			return raw, true
		}
	}
	return nil, false
}

// Assemble renders doc as BPMN 2.0 XML.
func Assemble(doc Document) (string, error) {
	if doc.Process == nil || doc.Process.ID == "" {
		return "", ErrProcessMissing
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	w := &tokenWriter{enc: enc}

	rootAttrs := make([]xml.Attr, 0, len(namespaces)+3)
	for _, ns := range namespaces {
		rootAttrs = append(rootAttrs, attr("xmlns:"+ns.Prefix, ns.URI))
	}
	rootAttrs = append(rootAttrs,
		attr("id", "Definitions_1"),
		attr("targetNamespace", "http://bpmn.io/schema/bpmn"),
		attr("exporter", "Vibe BPMN Studio"),
	)
	w.start("bpmn:definitions", rootAttrs...)

	if c := doc.Collaboration; c != nil && c.ID != "" {
		w.start("bpmn:collaboration", attr("id", c.ID))
		for _, p := range c.Participants {
			w.empty("bpmn:participant", optional(attr("id", p.ID), attr("name", p.Name), attr("processRef", p.ProcessRef))...)
		}
		w.end("bpmn:collaboration")
	}

	proc := doc.Process
	w.start("bpmn:process", optional(attr("id", proc.ID), attr("name", proc.Name), attr("isExecutable", "false"))...)
	for _, node := range proc.Nodes {
		if node.Type == "" || node.ID == "" {
			return "", fmt.Errorf("node %q: type and id are required", node.ID)
		}
		w.empty("bpmn:"+node.Type, optional(attr("id", node.ID), attr("name", node.Name))...)
	}
	if doc.Flow != nil {
		for _, flow := range doc.Flow.Flows {
			if flow.SourceRef == "" || flow.TargetRef == "" {
				return "", fmt.Errorf("flow %q: sourceRef and targetRef are required", flow.ID)
			}
			w.empty("bpmn:sequenceFlow", optional(
				attr("id", flow.ID),
				attr("name", flow.Name),
				attr("sourceRef", flow.SourceRef),
				attr("targetRef", flow.TargetRef),
			)...)
		}
	}
	w.end("bpmn:process")

	if doc.Layout != nil {
		planeRef := proc.ID
		if doc.Collaboration != nil && doc.Collaboration.ID != "" {
			planeRef = doc.Collaboration.ID
		}

		w.start("bpmndi:BPMNDiagram", attr("id", "BPMNDiagram_1"))
		w.start("bpmndi:BPMNPlane", attr("id", "BPMNPlane_1"), attr("bpmnElement", planeRef))

		bounds := make(map[string]Bounds, len(doc.Layout.Positions))
		for _, pos := range doc.Layout.Positions {
			bounds[pos.ElementID] = pos.Bounds
			w.start("bpmndi:BPMNShape", attr("id", pos.ElementID+"_di"), attr("bpmnElement", pos.ElementID))
			w.empty("dc:Bounds",
				attr("x", formatFloat(pos.Bounds.X)),
				attr("y", formatFloat(pos.Bounds.Y)),
				attr("width", formatFloat(pos.Bounds.Width)),
				attr("height", formatFloat(pos.Bounds.Height)),
			)
			w.end("bpmndi:BPMNShape")
		}

		if doc.Flow != nil {
			for _, flow := range doc.Flow.Flows {
				src, okSrc := bounds[flow.SourceRef]
				dst, okDst := bounds[flow.TargetRef]
				if !okSrc || !okDst {
					continue
				}
				w.start("bpmndi:BPMNEdge", attr("id", flow.ID+"_di"), attr("bpmnElement", flow.ID))
				w.empty("di:waypoint", attr("x", formatFloat(src.X+src.Width)), attr("y", formatFloat(src.Y+src.Height/2)))
				w.empty("di:waypoint", attr("x", formatFloat(dst.X)), attr("y", formatFloat(dst.Y+dst.Height/2)))
				w.end("bpmndi:BPMNEdge")
			}
		}

		w.end("bpmndi:BPMNPlane")
		w.end("bpmndi:BPMNDiagram")
	}

	w.end("bpmn:definitions")
	if w.err == nil {
		w.err = enc.Flush()
	}
	if w.err != nil {
		return "", fmt.Errorf("encode bpmn xml: %w", w.err)
	}
	buf.WriteByte('\n')
	return buf.String(), nil
}

// BaseDocument is the empty starter diagram: one process with a start event.
func BaseDocument() Document {
	return Document{
		Process: &Process{
			ID:    "Process_1",
			Nodes: []Node{{Type: "startEvent", ID: "StartEvent_1"}},
		},
		Layout: &Layout{Positions: []Position{
			{ElementID: "StartEvent_1", Bounds: Bounds{X: 173, Y: 102, Width: 36, Height: 36}},
		}},
	}
}

// ExampleDocument is a minimal start → task → end process used when no
// example file is configured.
func ExampleDocument() Document {
	return Document{
		Process: &Process{
			ID:   "Process_1",
			Name: "Example process",
			Nodes: []Node{
				{Type: "startEvent", ID: "StartEvent_1", Name: "Start"},
				{Type: "userTask", ID: "Task_1", Name: "Review request"},
				{Type: "endEvent", ID: "EndEvent_1", Name: "End"},
			},
		},
		Flow: &FlowSet{Flows: []SequenceFlow{
			{ID: "Flow_1", SourceRef: "StartEvent_1", TargetRef: "Task_1"},
			{ID: "Flow_2", SourceRef: "Task_1", TargetRef: "EndEvent_1"},
		}},
		Layout: &Layout{Positions: []Position{
			{ElementID: "StartEvent_1", Bounds: Bounds{X: 173, Y: 102, Width: 36, Height: 36}},
			{ElementID: "Task_1", Bounds: Bounds{X: 260, Y: 80, Width: 100, Height: 80}},
			{ElementID: "EndEvent_1", Bounds: Bounds{X: 412, Y: 102, Width: 36, Height: 36}},
		}},
	}
}

type tokenWriter struct {
	enc *xml.Encoder
	err error
}

func (w *tokenWriter) start(name string, attrs ...xml.Attr) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (w *tokenWriter) end(name string) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}})
}

func (w *tokenWriter) empty(name string, attrs ...xml.Attr) {
	w.start(name, attrs...)
	w.end(name)
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

// optional drops attributes with empty values.
func optional(attrs ...xml.Attr) []xml.Attr {
	out := attrs[:0]
	for _, a := range attrs {
		if a.Value != "" {
			out = append(out, a)
		}
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
