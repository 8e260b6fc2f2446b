package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sentinelworks/firecircle/pkg/circle"
	"github.com/sentinelworks/firecircle/pkg/llm"
)

const extractorInstruction = `You will be given the reasoning texts several reviewers produced while judging one piece of text for manipulative intent. Identify the recurring observations as short snake_case pattern names and, for each, the fraction of reviewers whose reasoning exhibits it.

Respond with a single JSON array and nothing else:
[{"name": "<pattern_name>", "agreement_score": <0..1>}]`

// ModelExtractor runs a secondary classification pass over the reasoning texts
// using a designated model. Extraction failures degrade to no patterns; they
// never fail the deliberation.
type ModelExtractor struct {
	provider llm.Provider
	model    string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewModelExtractor creates a model-assisted extractor.
func NewModelExtractor(provider llm.Provider, model string, timeout time.Duration) *ModelExtractor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ModelExtractor{
		provider: provider,
		model:    model,
		timeout:  timeout,
		logger:   slog.Default(),
	}
}

// Extract asks the designated model to classify the reasoning texts.
func (x *ModelExtractor) Extract(rounds []circle.Round) []circle.Pattern {
	var b strings.Builder
	reviewers := 0
	for _, round := range rounds {
		ids := make([]string, 0, len(round.Evaluations))
		for id := range round.Evaluations {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			eval := round.Evaluations[id]
			if eval.ParseFailure() {
				continue
			}
			fmt.Fprintf(&b, "Round %d, reviewer %s: %s\n", round.Number, id, eval.Reasoning)
			reviewers++
		}
	}
	if reviewers == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), x.timeout)
	defer cancel()

	resp, err := x.provider.Chat(ctx, llm.ChatRequest{
		Model: x.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: extractorInstruction},
			{Role: llm.RoleUser, Content: b.String()},
		},
	})
	if err != nil {
		x.logger.Warn("pattern extraction call failed", "model", x.model, "error", err)
		return nil
	}

	patterns, err := decodePatterns(resp.Content)
	if err != nil {
		x.logger.Warn("pattern extraction response unparseable", "model", x.model, "error", err)
		return nil
	}
	return patterns
}

// decodePatterns tolerates prose around the JSON array the same way the
// evaluation parser tolerates prose around its object.
func decodePatterns(raw string) ([]circle.Pattern, error) {
	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}
	var patterns []circle.Pattern
	if err := json.Unmarshal([]byte(raw[start:end+1]), &patterns); err != nil {
		return nil, err
	}
	out := patterns[:0]
	for _, p := range patterns {
		if p.Name == "" || p.AgreementScore < 0 || p.AgreementScore > 1 {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
