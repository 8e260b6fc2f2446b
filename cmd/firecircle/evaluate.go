package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sentinelworks/firecircle/pkg/circle"
	"github.com/sentinelworks/firecircle/pkg/config"
	"github.com/sentinelworks/firecircle/pkg/store"
	"github.com/sentinelworks/firecircle/pkg/telemetry"
)

type evaluateResult struct {
	FireCircleID string         `json:"fire_circle_id" yaml:"fire_circle_id"`
	Stored       bool           `json:"stored" yaml:"stored"`
	QuorumValid  bool           `json:"quorum_valid" yaml:"quorum_valid"`
	Result       *circle.Result `json:"result" yaml:"result"`
}

func runEvaluate(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	prompt := fs.String("prompt", "", "text under review (required)")
	response := fs.String("response", "", "response the text produced, if any")
	inputContext := fs.String("context", "", "surrounding context for the reviewers")
	category := fs.String("category", "", "category tag stored with the verdict")
	source := fs.String("source", "", "source id tag stored with the verdict")
	noStore := fs.Bool("no-store", false, "deliberate without persisting the result")
	fs.Parse(args)

	if *prompt == "" {
		fatal(fmt.Errorf("evaluate: --prompt is required"))
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	shutdown, err := telemetry.InitWithConfig("firecircle", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		fatal(fmt.Errorf("init telemetry: %w", err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdown(shutdownCtx)
	}()

	metrics, err := telemetry.NewCircleMetrics()
	if err != nil {
		fatal(fmt.Errorf("init metrics: %w", err))
	}

	provider, err := baseProvider(cfg)
	if err != nil {
		fatal(err)
	}
	participants, err := buildParticipants(cfg, provider)
	if err != nil {
		fatal(err)
	}
	synth, err := buildSynthesizer(cfg, provider)
	if err != nil {
		fatal(err)
	}

	engine, err := circle.NewEngine(participants,
		circle.WithConfig(circle.Config{
			MaxRounds:            cfg.Circle.MaxRounds,
			MinViableCircle:      cfg.Circle.MinViableCircle,
			FailureMode:          circle.FailureMode(cfg.Circle.FailureMode),
			ConvergenceThreshold: cfg.Circle.ConvergenceThreshold,
			ConvergenceRounds:    cfg.Circle.ConvergenceRounds,
			CallTimeout:          cfg.Circle.CallTimeout,
			Temperature:          cfg.Circle.Temperature,
		}),
		circle.WithSynthesizer(synth),
		circle.WithMetrics(metrics),
		circle.WithLogger(logger),
	)
	if err != nil {
		fatal(err)
	}

	result, err := engine.Deliberate(ctx, circle.Input{
		Prompt:   *prompt,
		Response: *response,
		Context:  *inputContext,
	})

	var quorumErr *circle.QuorumError
	if errors.As(err, &quorumErr) {
		// The rounds completed before quorum loss are still evidence worth
		// keeping; persist them flagged invalid and report the failure.
		result = quorumErr.Partial
		logger.Warn("deliberation lost quorum, storing partial result",
			"live", quorumErr.Live, "min_viable_circle", quorumErr.MinViableCircle)
	} else if err != nil {
		fatal(err)
	}

	stored := false
	if !*noStore {
		s, closer, err := openStore(cfg)
		if err != nil {
			fatal(err)
		}
		if closer != nil {
			defer closer()
		}
		if _, err := s.Store(ctx, result, store.Tags{Category: *category, SourceID: *source}); err != nil {
			fatal(fmt.Errorf("store result: %w", err))
		}
		stored = true
	}

	emit(global, evaluateResult{
		FireCircleID: result.FireCircleID,
		Stored:       stored,
		QuorumValid:  result.QuorumValid,
		Result:       result,
	})
	if quorumErr != nil {
		os.Exit(1)
	}
}
