// Package bpmn contains the small amount of BPMN XML handling the studio
// needs itself: cleaning model output, checking well-formedness, assembling
// documents from structured descriptions and reading shape bounds.
package bpmn

import (
	"regexp"
	"strings"
)

var fencedXML = regexp.MustCompile("(?s)```xml(.*?)```")

// CleanXML strips markdown code fences that language models like to wrap
// around XML output.
func CleanXML(raw string) string {
	if match := fencedXML.FindStringSubmatch(raw); match != nil {
		return strings.TrimSpace(match[1])
	}

	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimSpace(strings.ReplaceAll(cleaned, "```", ""))
	}
	return cleaned
}
