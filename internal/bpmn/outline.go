package bpmn

import (
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"
)

// Shape is a diagram element with its position on the plane.
type Shape struct {
	ElementID string
	Name      string
	Bounds    Bounds
}

// Outline lists the shapes of a diagram in document order, resolving each
// shape's label from the referenced process element.
func Outline(doc string) ([]Shape, error) {
	if err := Validate(doc); err != nil {
		return nil, err
	}

	dec := xml.NewDecoder(strings.NewReader(doc))
	names := make(map[string]string)
	var shapes []Shape
	var current *Shape

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "BPMNShape":
				current = &Shape{ElementID: attrValue(t, "bpmnElement")}
			case "Bounds":
				if current != nil {
					current.Bounds = Bounds{
						X:      attrFloat(t, "x"),
						Y:      attrFloat(t, "y"),
						Width:  attrFloat(t, "width"),
						Height: attrFloat(t, "height"),
					}
				}
			default:
				if id, name := attrValue(t, "id"), attrValue(t, "name"); id != "" && name != "" {
					names[id] = name
				}
			}
		case xml.EndElement:
			if t.Name.Local == "BPMNShape" && current != nil {
				shapes = append(shapes, *current)
				current = nil
			}
		}
	}

	for i := range shapes {
		shapes[i].Name = names[shapes[i].ElementID]
	}
	return shapes, nil
}

func attrValue(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func attrFloat(el xml.StartElement, local string) float64 {
	v, err := strconv.ParseFloat(attrValue(el, local), 64)
	if err != nil {
		return 0
	}
	return v
}
