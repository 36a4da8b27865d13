package bpmn

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SyntaxError reports why a document is not well-formed XML.
type SyntaxError struct {
	Msg    string
	Line   int
	Column int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("XML Syntax Error: %s at line %d, column %d", e.Msg, e.Line, e.Column)
}

// Validate checks that doc is a single well-formed XML document. The
// decoder keeps its default strict mode, so nothing is silently repaired.
func Validate(doc string) error {
	if strings.TrimSpace(doc) == "" {
		return &SyntaxError{Msg: "document is empty", Line: 1, Column: 1}
	}

	dec := xml.NewDecoder(strings.NewReader(doc))

	depth := 0
	roots := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		line, col := dec.InputPos()
		if err != nil {
			var xmlErr *xml.SyntaxError
			if errors.As(err, &xmlErr) {
				return &SyntaxError{Msg: xmlErr.Msg, Line: xmlErr.Line, Column: col}
			}
			return &SyntaxError{Msg: err.Error(), Line: line, Column: col}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
				if roots > 1 {
					return &SyntaxError{Msg: fmt.Sprintf("extra content at the end of the document: <%s>", t.Name.Local), Line: line, Column: col}
				}
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && strings.TrimSpace(string(t)) != "" {
				return &SyntaxError{Msg: "text outside of the root element", Line: line, Column: col}
			}
		}
	}

	line, col := dec.InputPos()
	if depth > 0 {
		return &SyntaxError{Msg: "premature end of data, unclosed element", Line: line, Column: col}
	}
	if roots == 0 {
		return &SyntaxError{Msg: "document has no root element", Line: line, Column: col}
	}
	return nil
}
