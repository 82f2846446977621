package client

import (
	"testing"

	"go.viam.com/test"

	"github.com/MuscularCrab/SolSolve/pkg/types"
)

func TestSanitizeModelJSON(t *testing.T) {
	raw := "```json\n{\n  \"label\": \"hearts\", // red suit\n  /* checked */\n  \"confidence\": 0.9,\n}\n```"
	test.That(t, SanitizeModelJSON(raw), test.ShouldEqual, "{\n  \"label\": \"hearts\", \n  \n  \"confidence\": 0.9\n}")

	test.That(t, SanitizeModelJSON(`Sure! {"label":"Q"} hope that helps`), test.ShouldEqual, `{"label":"Q"}`)
}

func TestParseLabelSuggestion(t *testing.T) {
	s := ParseLabelSuggestion("```json\n{\"label\": \" K \", \"confidence\": 1.4, \"reason\": \"crown\",}\n```")
	test.That(t, s, test.ShouldResemble, &types.LabelSuggestion{Label: "K", Confidence: 1, Reason: "crown"})

	s = ParseLabelSuggestion("I think this is the king of spades.")
	test.That(t, s.Label, test.ShouldBeEmpty)
	test.That(t, s.Confidence, test.ShouldEqual, 0.0)
	test.That(t, s.Reason, test.ShouldContainSubstring, "non-JSON")

	s = ParseLabelSuggestion(`{"label": "K", "confidence": "high"}`)
	test.That(t, s.Label, test.ShouldBeEmpty)
	test.That(t, s.Reason, test.ShouldContainSubstring, "failed to parse")
}
