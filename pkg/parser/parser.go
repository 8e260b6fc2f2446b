// Package parser converts raw model output into a neutrosophic evaluation.
// Models wrap JSON in prose, code fences, or append commentary after the
// closing brace; the parser tolerates all of that. It never fails hard: an
// undecodable response becomes a parse-failure evaluation that carries the raw
// text for audit.
package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sentinelworks/firecircle/pkg/neutrosophic"
)

// Parse extracts a neutrosophic evaluation from raw model output.
//
// The returned evaluation is always usable. When decoding fails, it is the
// parse-failure evaluation (indeterminacy 1.0, PARSE_ERROR reasoning marker)
// and the returned error describes the cause so callers running in strict mode
// can abort. The error is informational, not a control-flow signal: resilient
// callers record the evaluation and continue.
func Parse(model, raw string) (neutrosophic.Evaluation, error) {
	candidate := extractCandidate(raw)
	candidate = normalizeDoubledBraces(candidate)

	var decoded struct {
		Truth         *float64 `json:"truth"`
		Indeterminacy *float64 `json:"indeterminacy"`
		Falsehood     *float64 `json:"falsehood"`
		Reasoning     string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(candidate), &decoded); err != nil {
		return failure(model, err.Error(), raw)
	}
	if decoded.Truth == nil || decoded.Indeterminacy == nil || decoded.Falsehood == nil {
		return failure(model, "missing truth/indeterminacy/falsehood field", raw)
	}

	eval := neutrosophic.Evaluation{
		Truth:         *decoded.Truth,
		Indeterminacy: *decoded.Indeterminacy,
		Falsehood:     *decoded.Falsehood,
		Reasoning:     decoded.Reasoning,
		Model:         model,
	}
	if err := eval.Validate(); err != nil {
		return failure(model, err.Error(), raw)
	}
	return eval, nil
}

func failure(model, cause, raw string) (neutrosophic.Evaluation, error) {
	return neutrosophic.NewParseFailure(model, cause, raw),
		fmt.Errorf("parse evaluation: %s", cause)
}

// extractCandidate isolates the JSON span from surrounding prose. Fenced code
// blocks win over bare braces; with neither, the raw text is returned as-is so
// json.Unmarshal produces the decode error.
func extractCandidate(raw string) string {
	if fenced, ok := extractFencedBlock(raw); ok {
		return fenced
	}
	if span, ok := extractBraceSpan(raw); ok {
		return span
	}
	return strings.TrimSpace(raw)
}

// extractFencedBlock returns the content between the first code fence and its
// matching close, discarding any prose before or after. The opening fence may
// carry a language tag.
func extractFencedBlock(raw string) (string, bool) {
	open := strings.Index(raw, "```")
	if open == -1 {
		return "", false
	}
	rest := raw[open+3:]
	// Skip the language tag up to end of the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		rest = rest[nl+1:]
	}
	closeIdx := strings.Index(rest, "```")
	if closeIdx == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:closeIdx]), true
}

// extractBraceSpan scans from the first top-level '{' counting brace depth,
// ignoring braces inside string literals, and returns the span up to the
// matching '}'. Trailing prose after valid JSON is common model behavior.
func extractBraceSpan(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// normalizeDoubledBraces unwraps a {{...}} payload, a common artifact of
// template-escaped prompts leaking into output.
func normalizeDoubledBraces(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		inner := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
		if json.Valid([]byte(inner)) {
			return inner
		}
	}
	return trimmed
}
