// Package neutrosophic defines the three-axis judgment type used across Fire
// Circle deliberations. A judgment carries independent truth, indeterminacy and
// falsehood components; the triple is not a probability distribution and does
// not need to sum to one.
package neutrosophic

import (
	"fmt"
	"strings"
)

// ParseErrorPrefix marks the reasoning of an evaluation synthesized from an
// unparseable model response.
const ParseErrorPrefix = "PARSE_ERROR: "

// Evaluation is a single judgment produced by one model for one input in one
// round. Each axis is independently bounded in [0,1].
type Evaluation struct {
	Truth          float64 `json:"truth"`
	Indeterminacy  float64 `json:"indeterminacy"`
	Falsehood      float64 `json:"falsehood"`
	Reasoning      string  `json:"reasoning"`
	Model          string  `json:"model,omitempty"`
	ReasoningTrace string  `json:"reasoning_trace,omitempty"`
}

// Validate checks that every axis is within [0,1].
func (e Evaluation) Validate() error {
	for _, axis := range []struct {
		name  string
		value float64
	}{
		{"truth", e.Truth},
		{"indeterminacy", e.Indeterminacy},
		{"falsehood", e.Falsehood},
	} {
		if axis.value < 0 || axis.value > 1 {
			return fmt.Errorf("%s %v out of range [0,1]", axis.name, axis.value)
		}
	}
	return nil
}

// ParseFailure reports whether this evaluation was synthesized from a response
// that could not be decoded.
func (e Evaluation) ParseFailure() bool {
	return strings.HasPrefix(e.Reasoning, ParseErrorPrefix)
}

// NewParseFailure builds the evaluation recorded for an undecodable response:
// maximum indeterminacy, neutral truth and falsehood, and the raw text kept for
// audit.
func NewParseFailure(model, cause, raw string) Evaluation {
	return Evaluation{
		Truth:          0.5,
		Indeterminacy:  1.0,
		Falsehood:      0.5,
		Reasoning:      ParseErrorPrefix + cause,
		Model:          model,
		ReasoningTrace: raw,
	}
}

// Merge returns the security-first aggregate of the given evaluations:
// minimum truth, maximum indeterminacy, maximum falsehood. A single strong
// falsehood signal is never diluted by calmer judgments. Merging zero
// evaluations yields the fully indeterminate judgment.
func Merge(evals ...Evaluation) Evaluation {
	if len(evals) == 0 {
		return Evaluation{Truth: 0, Indeterminacy: 1, Falsehood: 0}
	}
	merged := Evaluation{
		Truth:         evals[0].Truth,
		Indeterminacy: evals[0].Indeterminacy,
		Falsehood:     evals[0].Falsehood,
	}
	for _, e := range evals[1:] {
		if e.Truth < merged.Truth {
			merged.Truth = e.Truth
		}
		if e.Indeterminacy > merged.Indeterminacy {
			merged.Indeterminacy = e.Indeterminacy
		}
		if e.Falsehood > merged.Falsehood {
			merged.Falsehood = e.Falsehood
		}
	}
	return merged
}
