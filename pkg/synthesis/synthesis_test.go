package synthesis

import (
	"testing"

	"github.com/sentinelworks/firecircle/pkg/circle"
	"github.com/sentinelworks/firecircle/pkg/neutrosophic"
)

func eval(model string, f float64, reasoning string) neutrosophic.Evaluation {
	return neutrosophic.Evaluation{
		Truth:         0.5,
		Indeterminacy: 0.2,
		Falsehood:     f,
		Reasoning:     reasoning,
		Model:         model,
	}
}

func TestExtractDissents(t *testing.T) {
	rounds := []circle.Round{
		{
			Number: 1,
			Evaluations: map[string]neutrosophic.Evaluation{
				"model-a": eval("model-a", 0.9, "clear urgency pressure"),
				"model-b": eval("model-b", 0.5, "ambiguous phrasing"),
				"model-c": eval("model-c", 0.75, "manipulative framing"),
			},
			EmptyChair: "model-a",
		},
		{
			Number: 2,
			Evaluations: map[string]neutrosophic.Evaluation{
				"model-a": eval("model-a", 0.85, "still manipulative"),
				"model-b": eval("model-b", 0.7, "leaning manipulative"),
				"model-c": eval("model-c", 0.8, "manipulative"),
			},
			EmptyChair: "model-b",
		},
	}

	s := New(nil, Config{DissentThreshold: 0.3})
	_, dissents, _ := s.Synthesize(rounds)

	if len(dissents) != 1 {
		t.Fatalf("expected exactly 1 dissent, got %d: %+v", len(dissents), dissents)
	}
	d := dissents[0]
	if d.RoundNumber != 1 || d.ModelHigh != "model-a" || d.ModelLow != "model-b" {
		t.Errorf("unexpected dissent: %+v", d)
	}
	if d.FDelta < 0.39 || d.FDelta > 0.41 {
		t.Errorf("expected f_delta 0.4, got %v", d.FDelta)
	}
	if d.ReasoningHigh != "clear urgency pressure" || d.ReasoningLow != "ambiguous phrasing" {
		t.Errorf("expected both reasoning texts preserved: %+v", d)
	}
}

func TestDissentsSkipParseFailures(t *testing.T) {
	rounds := []circle.Round{
		{
			Number: 1,
			Evaluations: map[string]neutrosophic.Evaluation{
				"model-a": eval("model-a", 0.95, "manipulation"),
				"model-b": neutrosophic.NewParseFailure("model-b", "bad json", "raw"),
			},
			EmptyChair: "model-a",
		},
	}

	s := New(nil, Config{})
	_, dissents, _ := s.Synthesize(rounds)
	if len(dissents) != 0 {
		t.Fatalf("parse-failure evaluations must not pair into dissents, got %+v", dissents)
	}
}

func TestChairInfluence(t *testing.T) {
	rounds := []circle.Round{
		{
			// Chair diverges: 0.9 vs mean(0.2, 0.3) = 0.25.
			Number: 1,
			Evaluations: map[string]neutrosophic.Evaluation{
				"model-a": eval("model-a", 0.9, ""),
				"model-b": eval("model-b", 0.2, ""),
				"model-c": eval("model-c", 0.3, ""),
			},
			EmptyChair: "model-a",
		},
		{
			// Chair agrees: 0.3 vs mean(0.25, 0.35) = 0.3.
			Number: 2,
			Evaluations: map[string]neutrosophic.Evaluation{
				"model-a": eval("model-a", 0.25, ""),
				"model-b": eval("model-b", 0.3, ""),
				"model-c": eval("model-c", 0.35, ""),
			},
			EmptyChair: "model-b",
		},
	}

	s := New(nil, Config{ChairDivergenceThreshold: 0.2})
	_, _, influence := s.Synthesize(rounds)
	if influence != 0.5 {
		t.Errorf("expected influence 0.5, got %v", influence)
	}
}

func TestChairInfluenceNoUsableRounds(t *testing.T) {
	s := New(nil, Config{})
	_, _, influence := s.Synthesize([]circle.Round{
		{Number: 1, Evaluations: map[string]neutrosophic.Evaluation{
			"model-a": eval("model-a", 0.5, ""),
		}, EmptyChair: "model-a"},
	})
	if influence != 0 {
		t.Errorf("expected 0 influence with no comparable rounds, got %v", influence)
	}
}

func TestLexicalExtractor(t *testing.T) {
	rounds := []circle.Round{
		{
			Number: 1,
			Evaluations: map[string]neutrosophic.Evaluation{
				"model-a": eval("model-a", 0.8, "The text creates urgent deadline pressure."),
				"model-b": eval("model-b", 0.7, "Classic false scarcity, only one left, act fast."),
				"model-c": eval("model-c", 0.6, "Seems to impersonate an official authority."),
			},
			EmptyChair: "model-a",
		},
	}

	patterns := NewLexicalExtractor(nil).Extract(rounds)
	byName := make(map[string]float64)
	for _, p := range patterns {
		byName[p.Name] = p.AgreementScore
	}

	if got := byName["urgency_pressure"]; got < 0.66 || got > 0.67 {
		// model-a ("urgent", "deadline") and model-b ("act fast") match.
		t.Errorf("expected urgency_pressure agreement 2/3, got %v", got)
	}
	if got := byName["authority_appeal"]; got < 0.33 || got > 0.34 {
		t.Errorf("expected authority_appeal agreement 1/3, got %v", got)
	}
	if _, ok := byName["reciprocity_trap"]; ok {
		t.Errorf("unmatched pattern should not be emitted")
	}
}

func TestLexicalExtractorEmpty(t *testing.T) {
	if got := NewLexicalExtractor(nil).Extract(nil); got != nil {
		t.Errorf("expected nil patterns for no rounds, got %+v", got)
	}
}

func TestDecodePatterns(t *testing.T) {
	raw := "Here are the recurring themes:\n```json\n[{\"name\": \"urgency_pressure\", \"agreement_score\": 0.75}]\n```"
	patterns, err := decodePatterns(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(patterns) != 1 || patterns[0].Name != "urgency_pressure" || patterns[0].AgreementScore != 0.75 {
		t.Errorf("unexpected patterns: %+v", patterns)
	}

	if _, err := decodePatterns("no array here"); err == nil {
		t.Errorf("expected error for missing array")
	}
}
