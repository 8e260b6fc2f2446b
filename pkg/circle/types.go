// Package circle implements the Fire Circle deliberation protocol: a bounded
// multi-round exchange in which several independent models evaluate the same
// input, one participant per round holds the "empty chair" role, and the final
// verdict is the security-first worst case over everything any participant
// said in any round.
package circle

import (
	"time"

	"github.com/sentinelworks/firecircle/pkg/llm"
	"github.com/sentinelworks/firecircle/pkg/neutrosophic"
)

// Input is the text under deliberation: a prompt, optionally the response it
// produced, and any surrounding context.
type Input struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response,omitempty"`
	Context  string `json:"context,omitempty"`
}

// FailureMode controls how the engine reacts to per-participant failures.
type FailureMode string

const (
	// FailureModeResilient demotes a participant to zombie on call failure and
	// records parse failures as data. The default.
	FailureModeResilient FailureMode = "resilient"

	// FailureModeStrict aborts the whole deliberation on any call or parse
	// failure.
	FailureModeStrict FailureMode = "strict"
)

// Participant pairs a model identifier with the provider that reaches it.
type Participant struct {
	ID       string
	Provider llm.Provider
}

// Round is the immutable record of one completed deliberation round.
type Round struct {
	Number         int                                `json:"round_number"`
	Evaluations    map[string]neutrosophic.Evaluation `json:"evaluations"`
	EmptyChair     string                             `json:"empty_chair"`
	LocalConsensus neutrosophic.Evaluation            `json:"local_consensus"`
	Latencies      map[string]time.Duration           `json:"model_latencies"`
}

// Pattern is a named observation extracted from reasoning texts across rounds,
// with the fraction of contributing participants that exhibit it.
type Pattern struct {
	Name           string  `json:"name"`
	AgreementScore float64 `json:"agreement_score"`
}

// Dissent records a pairwise falsehood divergence worth preserving, independent
// of which side the final consensus favored.
type Dissent struct {
	RoundNumber   int     `json:"round_number"`
	ModelHigh     string  `json:"model_high"`
	ModelLow      string  `json:"model_low"`
	FDelta        float64 `json:"f_delta"`
	ReasoningHigh string  `json:"reasoning_high"`
	ReasoningLow  string  `json:"reasoning_low"`
}

// Result is the read-only artifact of a completed deliberation.
type Result struct {
	FireCircleID        string                  `json:"fire_circle_id"`
	StartedAt           time.Time               `json:"started_at"`
	Participants        []string                `json:"participants"`
	Rounds              []Round                 `json:"rounds"`
	Consensus           neutrosophic.Evaluation `json:"consensus"`
	Patterns            []Pattern               `json:"patterns"`
	Dissents            []Dissent               `json:"dissents"`
	EmptyChairInfluence float64                 `json:"empty_chair_influence"`
	QuorumValid         bool                    `json:"quorum_valid"`
	Duration            time.Duration           `json:"duration"`
}

// Synthesizer post-processes completed rounds into patterns, dissents, and the
// empty-chair influence score. Implemented by pkg/synthesis; behind an
// interface so the extraction mechanism can be swapped without touching the
// engine.
type Synthesizer interface {
	Synthesize(rounds []Round) (patterns []Pattern, dissents []Dissent, chairInfluence float64)
}

// PromptFormatter turns the deliberation input and prior rounds into the
// messages sent to one participant. The exact wording is a research variable;
// the engine only cares that the empty chair receives its augmented
// instruction through the same call path as everyone else.
type PromptFormatter interface {
	Format(input Input, history []Round, model string, emptyChair bool) []llm.Message
}
