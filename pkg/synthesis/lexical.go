package synthesis

import (
	"sort"
	"strings"

	"github.com/sentinelworks/firecircle/pkg/circle"
)

// defaultPatternLexicon maps pattern names to reasoning cues. The lexicon is a
// starting point, not a taxonomy claim; callers can supply their own.
var defaultPatternLexicon = map[string][]string{
	"urgency_pressure":     {"urgent", "immediately", "right now", "deadline", "act fast", "running out"},
	"authority_appeal":     {"authority", "as your", "i am the", "official", "compliance", "mandated"},
	"emotional_leverage":   {"guilt", "fear", "shame", "disappoint", "emotional", "you owe"},
	"false_scarcity":       {"scarcity", "limited", "only one", "exclusive", "last chance"},
	"flattery":             {"flattery", "flatter", "praise", "special", "only you can"},
	"instruction_override": {"ignore previous", "ignore prior", "disregard", "jailbreak", "system prompt", "override"},
	"roleplay_coercion":    {"roleplay", "pretend", "act as", "persona", "in character"},
	"reciprocity_trap":     {"reciproc", "favor", "i helped you", "in return"},
}

// LexicalExtractor scores patterns by keyword presence in reasoning texts.
type LexicalExtractor struct {
	lexicon map[string][]string
}

// NewLexicalExtractor creates an extractor over the given lexicon; nil uses
// the default.
func NewLexicalExtractor(lexicon map[string][]string) *LexicalExtractor {
	if lexicon == nil {
		lexicon = defaultPatternLexicon
	}
	return &LexicalExtractor{lexicon: lexicon}
}

// Extract returns each lexicon pattern present in at least one participant's
// reasoning, scored by the fraction of contributing participants exhibiting
// it. A participant contributes when it produced at least one ok evaluation in
// any round.
func (x *LexicalExtractor) Extract(rounds []circle.Round) []circle.Pattern {
	reasoning := make(map[string]string) // participant -> combined lowercased reasoning
	for _, round := range rounds {
		for id, eval := range round.Evaluations {
			if eval.ParseFailure() {
				continue
			}
			reasoning[id] += " " + strings.ToLower(eval.Reasoning)
		}
	}
	if len(reasoning) == 0 {
		return nil
	}

	var patterns []circle.Pattern
	for name, cues := range x.lexicon {
		matches := 0
		for _, text := range reasoning {
			for _, cue := range cues {
				if strings.Contains(text, cue) {
					matches++
					break
				}
			}
		}
		if matches == 0 {
			continue
		}
		patterns = append(patterns, circle.Pattern{
			Name:           name,
			AgreementScore: float64(matches) / float64(len(reasoning)),
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].AgreementScore != patterns[j].AgreementScore {
			return patterns[i].AgreementScore > patterns[j].AgreementScore
		}
		return patterns[i].Name < patterns[j].Name
	})
	return patterns
}
