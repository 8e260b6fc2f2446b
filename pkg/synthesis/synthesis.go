// Package synthesis post-processes a completed deliberation: it extracts named
// patterns from the participants' reasoning, flags pairwise falsehood
// divergences as dissents, and scores how much work the empty-chair rotation
// is doing. Dissents are first-class records: a minority judgment considered
// wrong today stays on the record to be revisited later.
package synthesis

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/sentinelworks/firecircle/pkg/circle"
)

// PatternExtractor pulls named observations from reasoning texts. The
// mechanism (lexical matching vs. a secondary model pass) is a pluggable
// strategy; only the output shape is load-bearing for storage and querying.
type PatternExtractor interface {
	Extract(rounds []circle.Round) []circle.Pattern
}

// Config controls synthesis thresholds. Zero values take defaults.
type Config struct {
	// DissentThreshold is the minimum falsehood delta between two ok
	// evaluations in the same round worth preserving as a dissent.
	DissentThreshold float64

	// ChairDivergenceThreshold is how far the empty chair's falsehood must sit
	// from the mean of the other evaluations for the round to count as the
	// chair diverging.
	ChairDivergenceThreshold float64
}

func (c *Config) applyDefaults() {
	if c.DissentThreshold <= 0 {
		c.DissentThreshold = 0.3
	}
	if c.ChairDivergenceThreshold <= 0 {
		c.ChairDivergenceThreshold = 0.2
	}
}

// Synthesizer implements circle.Synthesizer.
type Synthesizer struct {
	cfg       Config
	extractor PatternExtractor
}

// New creates a Synthesizer with the given extractor. A nil extractor yields
// no patterns but dissents and chair influence are still computed.
func New(extractor PatternExtractor, cfg Config) *Synthesizer {
	cfg.applyDefaults()
	return &Synthesizer{cfg: cfg, extractor: extractor}
}

// Synthesize runs over the final, immutable round snapshot.
func (s *Synthesizer) Synthesize(rounds []circle.Round) ([]circle.Pattern, []circle.Dissent, float64) {
	var patterns []circle.Pattern
	if s.extractor != nil {
		patterns = s.extractor.Extract(rounds)
	}
	return patterns, s.extractDissents(rounds), s.chairInfluence(rounds)
}

// extractDissents emits one record per round per pair of participants whose ok
// evaluations diverge on falsehood beyond the threshold. Parse-failure
// evaluations never pair: their falsehood is a placeholder, not a judgment.
func (s *Synthesizer) extractDissents(rounds []circle.Round) []circle.Dissent {
	var dissents []circle.Dissent
	for _, round := range rounds {
		ids := okParticipants(round)
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a, b := round.Evaluations[ids[i]], round.Evaluations[ids[j]]
				high, low := a, b
				if low.Falsehood > high.Falsehood {
					high, low = low, high
				}
				delta := high.Falsehood - low.Falsehood
				if delta <= s.cfg.DissentThreshold {
					continue
				}
				dissents = append(dissents, circle.Dissent{
					RoundNumber:   round.Number,
					ModelHigh:     high.Model,
					ModelLow:      low.Model,
					FDelta:        delta,
					ReasoningHigh: high.Reasoning,
					ReasoningLow:  low.Reasoning,
				})
			}
		}
	}
	return dissents
}

// chairInfluence is the fraction of rounds in which the empty chair's
// falsehood diverged from the mean of the other participants' judgments.
// Rounds where the chair or everyone else is missing contribute nothing.
func (s *Synthesizer) chairInfluence(rounds []circle.Round) float64 {
	considered, diverged := 0, 0
	for _, round := range rounds {
		chairEval, ok := round.Evaluations[round.EmptyChair]
		if !ok {
			continue
		}
		var others []float64
		for id, eval := range round.Evaluations {
			if id != round.EmptyChair {
				others = append(others, eval.Falsehood)
			}
		}
		if len(others) == 0 {
			continue
		}
		considered++
		mean := stat.Mean(others, nil)
		delta := chairEval.Falsehood - mean
		if delta < 0 {
			delta = -delta
		}
		if delta > s.cfg.ChairDivergenceThreshold {
			diverged++
		}
	}
	if considered == 0 {
		return 0
	}
	return float64(diverged) / float64(considered)
}

// okParticipants returns the sorted ids of participants with a non-parse-failure
// evaluation this round.
func okParticipants(round circle.Round) []string {
	ids := make([]string, 0, len(round.Evaluations))
	for id, eval := range round.Evaluations {
		if !eval.ParseFailure() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
