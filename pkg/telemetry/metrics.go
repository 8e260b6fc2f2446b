// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CircleMetrics tracks deliberation health: completed deliberations, rounds,
// per-round agreement, zombifications and parse failures.
type CircleMetrics struct {
	// deliberationCounter counts completed deliberations by quorum outcome
	deliberationCounter metric.Int64Counter

	// roundHistogram tracks rounds needed per deliberation
	roundHistogram metric.Int64Histogram

	// durationHistogram tracks deliberation wall time in seconds
	durationHistogram metric.Float64Histogram

	// agreementHistogram tracks per-round agreement scores
	agreementHistogram metric.Float64Histogram

	// latencyHistogram tracks per-call model latency in seconds
	latencyHistogram metric.Float64Histogram

	// zombieCounter counts participant zombifications by model
	zombieCounter metric.Int64Counter

	// parseFailureCounter counts recorded parse failures by model
	parseFailureCounter metric.Int64Counter
}

// NewCircleMetrics creates a deliberation metrics tracker with OTEL meters.
func NewCircleMetrics() (*CircleMetrics, error) {
	meter := otel.Meter("firecircle/circle")

	deliberationCounter, err := meter.Int64Counter(
		"firecircle.deliberations.total",
		metric.WithDescription("Completed deliberations by quorum outcome"),
	)
	if err != nil {
		return nil, err
	}

	roundHistogram, err := meter.Int64Histogram(
		"firecircle.deliberation.rounds",
		metric.WithDescription("Rounds needed per deliberation"),
	)
	if err != nil {
		return nil, err
	}

	durationHistogram, err := meter.Float64Histogram(
		"firecircle.deliberation.duration_seconds",
		metric.WithDescription("Deliberation wall time in seconds"),
	)
	if err != nil {
		return nil, err
	}

	agreementHistogram, err := meter.Float64Histogram(
		"firecircle.round.agreement",
		metric.WithDescription("Per-round agreement score (inverse falsehood spread)"),
	)
	if err != nil {
		return nil, err
	}

	latencyHistogram, err := meter.Float64Histogram(
		"firecircle.call.latency_seconds",
		metric.WithDescription("Per-call model latency in seconds"),
	)
	if err != nil {
		return nil, err
	}

	zombieCounter, err := meter.Int64Counter(
		"firecircle.participants.zombified",
		metric.WithDescription("Participants excluded after unrecoverable failures"),
	)
	if err != nil {
		return nil, err
	}

	parseFailureCounter, err := meter.Int64Counter(
		"firecircle.responses.parse_failures",
		metric.WithDescription("Model responses recorded as parse failures"),
	)
	if err != nil {
		return nil, err
	}

	return &CircleMetrics{
		deliberationCounter: deliberationCounter,
		roundHistogram:      roundHistogram,
		durationHistogram:   durationHistogram,
		agreementHistogram:  agreementHistogram,
		latencyHistogram:    latencyHistogram,
		zombieCounter:       zombieCounter,
		parseFailureCounter: parseFailureCounter,
	}, nil
}

// RecordDeliberation records a completed deliberation.
func (m *CircleMetrics) RecordDeliberation(ctx context.Context, rounds int, duration time.Duration, quorumValid bool) {
	attrs := metric.WithAttributes(attribute.Bool("quorum_valid", quorumValid))
	m.deliberationCounter.Add(ctx, 1, attrs)
	m.roundHistogram.Record(ctx, int64(rounds), attrs)
	m.durationHistogram.Record(ctx, duration.Seconds(), attrs)
}

// RecordRound records one completed round's agreement score.
func (m *CircleMetrics) RecordRound(ctx context.Context, agreement float64) {
	m.agreementHistogram.Record(ctx, agreement)
}

// RecordCallLatency records one model call's latency.
func (m *CircleMetrics) RecordCallLatency(ctx context.Context, model string, latency time.Duration) {
	m.latencyHistogram.Record(ctx, latency.Seconds(),
		metric.WithAttributes(attribute.String("model", model)))
}

// RecordZombie records a participant demotion.
func (m *CircleMetrics) RecordZombie(ctx context.Context, model string) {
	m.zombieCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}

// RecordParseFailure records a parse failure kept as data.
func (m *CircleMetrics) RecordParseFailure(ctx context.Context, model string) {
	m.parseFailureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}
