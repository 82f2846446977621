package client

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/MuscularCrab/SolSolve/pkg/types"
)

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInlineComment = regexp.MustCompile(`(?m)//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseLabelSuggestion decodes a model answer of the form
// {"label": "...", "confidence": 0.0, "reason": "..."}. Answers that carry no
// usable JSON come back as an empty label with zero confidence rather than an
// error, so the caller can route the image to manual review.
func ParseLabelSuggestion(raw string) *types.LabelSuggestion {
	cleaned := SanitizeModelJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return &types.LabelSuggestion{Reason: "model returned non-JSON response"}
	}

	var s types.LabelSuggestion
	if err := json.Unmarshal([]byte(cleaned), &s); err != nil {
		return &types.LabelSuggestion{Reason: "failed to parse model response"}
	}
	s.Label = strings.TrimSpace(s.Label)
	s.Confidence = min(max(s.Confidence, 0), 1)
	return &s
}

// SanitizeModelJSON removes code fences, comments, and trailing commas from a model response
// and keeps only the outermost object.
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reInlineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
