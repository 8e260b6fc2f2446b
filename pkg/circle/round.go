package circle

import (
	"context"
	"sync"
	"time"

	"github.com/sentinelworks/firecircle/pkg/llm"
	"github.com/sentinelworks/firecircle/pkg/neutrosophic"
	"github.com/sentinelworks/firecircle/pkg/parser"
)

// callOutcome is the result of one participant's call within a round. Exactly
// one of the following holds: callErr is set (call failure or timeout), or
// eval is set with parseErr optionally marking a parse failure.
type callOutcome struct {
	participant string
	eval        neutrosophic.Evaluation
	latency     time.Duration
	callErr     error
	parseErr    error
}

// runRound invokes every live participant concurrently and assembles the
// immutable Round. Each goroutine writes only its own slot of the outcome
// slice, so no locking is needed; the round closes when the slowest live call
// has returned or timed out.
func (e *Engine) runRound(ctx context.Context, roundNumber int, live []Participant, emptyChair string, input Input, history []Round) (Round, []callOutcome) {
	outcomes := make([]callOutcome, len(live))

	var wg sync.WaitGroup
	for i, p := range live {
		wg.Add(1)
		go func(slot int, p Participant) {
			defer wg.Done()
			outcomes[slot] = e.callParticipant(ctx, p, input, history, p.ID == emptyChair)
		}(i, p)
	}
	wg.Wait()

	round := Round{
		Number:      roundNumber,
		Evaluations: make(map[string]neutrosophic.Evaluation),
		EmptyChair:  emptyChair,
		Latencies:   make(map[string]time.Duration),
	}
	var evals []neutrosophic.Evaluation
	for _, o := range outcomes {
		round.Latencies[o.participant] = o.latency
		if o.callErr != nil {
			continue
		}
		round.Evaluations[o.participant] = o.eval
		evals = append(evals, o.eval)
	}
	round.LocalConsensus = neutrosophic.Merge(evals...)
	return round, outcomes
}

// callParticipant issues one provider call with its own timeout and parses the
// response. A timeout is indistinguishable from any other call failure.
func (e *Engine) callParticipant(ctx context.Context, p Participant, input Input, history []Round, emptyChair bool) callOutcome {
	callCtx := ctx
	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}

	messages := e.formatter.Format(input, history, p.ID, emptyChair)
	started := time.Now()
	resp, err := p.Provider.Chat(callCtx, llm.ChatRequest{
		Model:       p.ID,
		Messages:    messages,
		Temperature: e.cfg.Temperature,
	})
	latency := time.Since(started)

	if err != nil {
		return callOutcome{participant: p.ID, latency: latency, callErr: err}
	}

	eval, parseErr := parser.Parse(p.ID, resp.Content)
	return callOutcome{
		participant: p.ID,
		eval:        eval,
		latency:     latency,
		parseErr:    parseErr,
	}
}
