package circle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/sentinelworks/firecircle/pkg/errors"
	"github.com/sentinelworks/firecircle/pkg/neutrosophic"
	"github.com/sentinelworks/firecircle/pkg/telemetry"
)

// Config controls deliberation behavior. Zero values are replaced by defaults
// in NewEngine.
type Config struct {
	// MaxRounds bounds the deliberation length.
	MaxRounds int

	// MinViableCircle is the quorum: the minimum number of live participants
	// required before each round.
	MinViableCircle int

	// FailureMode selects resilient (default) or strict failure handling.
	FailureMode FailureMode

	// ConvergenceThreshold is the per-round agreement score above which the
	// circle is considered converging. Agreement is the inverse of the spread
	// of falsehood values in a round.
	ConvergenceThreshold float64

	// ConvergenceRounds is how many consecutive converging rounds end the
	// deliberation early.
	ConvergenceRounds int

	// CallTimeout bounds each individual participant call.
	CallTimeout time.Duration

	// Temperature is passed through to providers.
	Temperature float64
}

func (c *Config) applyDefaults() {
	if c.MaxRounds <= 0 {
		c.MaxRounds = 3
	}
	if c.MinViableCircle <= 0 {
		c.MinViableCircle = 2
	}
	if c.FailureMode == "" {
		c.FailureMode = FailureModeResilient
	}
	if c.ConvergenceThreshold <= 0 {
		c.ConvergenceThreshold = 0.85
	}
	if c.ConvergenceRounds <= 0 {
		c.ConvergenceRounds = 2
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 120 * time.Second
	}
}

// QuorumError reports that live participants dropped below the viable circle.
// The rounds completed before the loss are never discarded: Partial carries
// them with QuorumValid=false. Deliberate wraps it in a QUORUM_LOST coded
// error; errors.As still reaches it through the chain.
type QuorumError struct {
	Live            int
	MinViableCircle int
	Partial         *Result
}

func (e *QuorumError) Error() string {
	return fmt.Sprintf("quorum lost: %d live participants, need %d", e.Live, e.MinViableCircle)
}

// Engine drives Fire Circle deliberations. One Engine is safe for concurrent
// Deliberate calls: all mutable deliberation state is local to each call.
type Engine struct {
	participants []Participant
	cfg          Config
	formatter    PromptFormatter
	synth        Synthesizer
	metrics      *telemetry.CircleMetrics
	logger       *slog.Logger
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithConfig sets the deliberation configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithFormatter replaces the default prompt formatter.
func WithFormatter(f PromptFormatter) Option {
	return func(e *Engine) { e.formatter = f }
}

// WithSynthesizer sets the post-deliberation synthesizer.
func WithSynthesizer(s Synthesizer) Option {
	return func(e *Engine) { e.synth = s }
}

// WithMetrics attaches deliberation metrics.
func WithMetrics(m *telemetry.CircleMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a deliberation engine over the given participants.
// A synthesizer is required; everything else has defaults.
func NewEngine(participants []Participant, opts ...Option) (*Engine, error) {
	if len(participants) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "at least one participant is required", nil)
	}
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p.ID == "" || p.Provider == nil {
			return nil, errors.New(errors.CodeInvalidInput, "participant needs id and provider", nil)
		}
		if seen[p.ID] {
			return nil, errors.New(errors.CodeInvalidInput, "duplicate participant id", nil).
				WithContext("id", p.ID)
		}
		seen[p.ID] = true
	}

	e := &Engine{
		participants: append([]Participant(nil), participants...),
		formatter:    DefaultFormatter{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg.applyDefaults()
	if e.synth == nil {
		return nil, errors.New(errors.CodeInvalidInput, "synthesizer is required", nil)
	}
	if e.cfg.MinViableCircle > len(participants) {
		return nil, errors.New(errors.CodeInvalidInput, "min viable circle exceeds participant count", nil).
			WithContext("min_viable_circle", e.cfg.MinViableCircle).
			WithContext("participants", len(participants))
	}
	return e, nil
}

// deliberation is the per-call mutable state: the live/zombie set and the
// empty-chair history. It is touched only between rounds, never concurrently
// with one.
type deliberation struct {
	id        string
	startedAt time.Time
	live      map[string]bool
	lastChair map[string]int // round number the participant last held the chair
	rounds    []Round
}

// Deliberate runs the full protocol on input and returns the result, or a
// typed error. On quorum loss the error is a *QuorumError carrying the partial
// result; in strict mode any call or parse failure aborts with an error naming
// the model and round.
func (e *Engine) Deliberate(ctx context.Context, input Input) (*Result, error) {
	if input.Prompt == "" {
		return nil, errors.New(errors.CodeInvalidInput, "input prompt is empty", nil)
	}

	d := &deliberation{
		id:        uuid.NewString(),
		startedAt: time.Now().UTC(),
		live:      make(map[string]bool, len(e.participants)),
		lastChair: make(map[string]int, len(e.participants)),
	}
	for _, p := range e.participants {
		d.live[p.ID] = true
	}

	logger := e.logger.With("fire_circle_id", d.id)
	logger.InfoContext(ctx, "deliberation started",
		"participants", len(e.participants),
		"max_rounds", e.cfg.MaxRounds,
		"failure_mode", string(e.cfg.FailureMode))

	consecutive := 0
	for roundNumber := 1; roundNumber <= e.cfg.MaxRounds; roundNumber++ {
		live := e.liveParticipants(d)
		if len(live) < e.cfg.MinViableCircle {
			logger.WarnContext(ctx, "quorum lost",
				"round", roundNumber, "live", len(live), "min_viable_circle", e.cfg.MinViableCircle)
			return nil, e.quorumLost(len(live), d)
		}

		chair := nextEmptyChair(live, d.lastChair)
		round, outcomes := e.runRound(ctx, roundNumber, live, chair, input, d.rounds)
		d.lastChair[chair] = roundNumber

		if err := e.applyOutcomes(ctx, logger, d, roundNumber, outcomes); err != nil {
			return nil, err
		}
		d.rounds = append(d.rounds, round)

		agreement := roundAgreement(round)
		logger.InfoContext(ctx, "round complete",
			"round", roundNumber,
			"empty_chair", chair,
			"evaluations", len(round.Evaluations),
			"agreement", agreement)
		if e.metrics != nil {
			e.metrics.RecordRound(ctx, agreement)
			for model, latency := range round.Latencies {
				e.metrics.RecordCallLatency(ctx, model, latency)
			}
		}

		if agreement >= e.cfg.ConvergenceThreshold {
			consecutive++
			if consecutive >= e.cfg.ConvergenceRounds {
				logger.InfoContext(ctx, "converged", "round", roundNumber)
				break
			}
		} else {
			consecutive = 0
		}
	}

	// The pre-round check cannot see participants zombified in the last round
	// played. The circle must still be viable when synthesis begins.
	if live := e.liveParticipants(d); len(live) < e.cfg.MinViableCircle {
		logger.WarnContext(ctx, "quorum lost in final round",
			"live", len(live), "min_viable_circle", e.cfg.MinViableCircle)
		return nil, e.quorumLost(len(live), d)
	}

	result := e.finalize(d, true)
	logger.InfoContext(ctx, "deliberation complete",
		"rounds", len(result.Rounds),
		"consensus_falsehood", result.Consensus.Falsehood,
		"dissents", len(result.Dissents),
		"duration", result.Duration)
	if e.metrics != nil {
		e.metrics.RecordDeliberation(ctx, len(result.Rounds), result.Duration, result.QuorumValid)
	}
	return result, nil
}

// quorumLost wraps the quorum failure in the error taxonomy. The rounds
// completed so far ride along in the partial result.
func (e *Engine) quorumLost(live int, d *deliberation) error {
	return errors.New(errors.CodeQuorumLost, "live participants below viable circle", &QuorumError{
		Live:            live,
		MinViableCircle: e.cfg.MinViableCircle,
		Partial:         e.finalize(d, false),
	}).WithContext("live", live).WithContext("min_viable_circle", e.cfg.MinViableCircle)
}

// applyOutcomes mutates the live set according to the failure mode. Strict
// mode turns the first call or parse failure into a fatal error carrying the
// rounds completed so far.
func (e *Engine) applyOutcomes(ctx context.Context, logger *slog.Logger, d *deliberation, roundNumber int, outcomes []callOutcome) error {
	for _, o := range outcomes {
		switch {
		case o.callErr != nil:
			if e.cfg.FailureMode == FailureModeStrict {
				return errors.New(errors.CodeCallFailure, "participant call failed", o.callErr).
					WithContext("model", o.participant).
					WithContext("round", roundNumber).
					WithContext("completed_rounds", d.rounds)
			}
			d.live[o.participant] = false
			logger.WarnContext(ctx, "participant zombified",
				"model", o.participant, "round", roundNumber, "error", o.callErr)
			if e.metrics != nil {
				e.metrics.RecordZombie(ctx, o.participant)
			}
		case o.parseErr != nil:
			if e.cfg.FailureMode == FailureModeStrict {
				return errors.New(errors.CodeParseFailure, "participant response unparseable", o.parseErr).
					WithContext("model", o.participant).
					WithContext("round", roundNumber).
					WithContext("completed_rounds", d.rounds)
			}
			// A single bad parse is not evidence the model is unusable: the
			// marker evaluation stays in the round, the participant stays live.
			logger.WarnContext(ctx, "parse failure recorded",
				"model", o.participant, "round", roundNumber)
			if e.metrics != nil {
				e.metrics.RecordParseFailure(ctx, o.participant)
			}
		}
	}
	return nil
}

// finalize freezes the deliberation into a Result. The consensus is the
// worst-case merge over every evaluation in every round from every participant
// that ever contributed, not just the last round.
func (e *Engine) finalize(d *deliberation, quorumValid bool) *Result {
	var all []neutrosophic.Evaluation
	for _, round := range d.rounds {
		for _, eval := range round.Evaluations {
			all = append(all, eval)
		}
	}

	patterns, dissents, chairInfluence := e.synth.Synthesize(d.rounds)

	participants := make([]string, 0, len(e.participants))
	for _, p := range e.participants {
		participants = append(participants, p.ID)
	}

	return &Result{
		FireCircleID:        d.id,
		StartedAt:           d.startedAt,
		Participants:        participants,
		Rounds:              d.rounds,
		Consensus:           neutrosophic.Merge(all...),
		Patterns:            patterns,
		Dissents:            dissents,
		EmptyChairInfluence: chairInfluence,
		QuorumValid:         quorumValid,
		Duration:            time.Since(d.startedAt),
	}
}

// liveParticipants returns the still-live participants in configured order.
func (e *Engine) liveParticipants(d *deliberation) []Participant {
	live := make([]Participant, 0, len(e.participants))
	for _, p := range e.participants {
		if d.live[p.ID] {
			live = append(live, p)
		}
	}
	return live
}

// nextEmptyChair picks the live participant that has held the chair least
// recently; ties fall to configured order. Zombies are skipped, not counted.
func nextEmptyChair(live []Participant, lastChair map[string]int) string {
	chair := live[0].ID
	best := lastChair[chair]
	for _, p := range live[1:] {
		if lastChair[p.ID] < best {
			chair = p.ID
			best = lastChair[p.ID]
		}
	}
	return chair
}

// roundAgreement scores how tightly a round's falsehood judgments cluster:
// 1 minus the spread between the highest and lowest falsehood.
func roundAgreement(round Round) float64 {
	if len(round.Evaluations) == 0 {
		return 0
	}
	values := make([]float64, 0, len(round.Evaluations))
	for _, eval := range round.Evaluations {
		values = append(values, eval.Falsehood)
	}
	return 1 - (floats.Max(values) - floats.Min(values))
}
