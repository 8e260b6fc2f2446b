package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/sentinelworks/firecircle/pkg/config"
	"github.com/sentinelworks/firecircle/pkg/store"
)

func withStore(cfg *config.Config, fn func(store.Store) error) {
	s, closer, err := openStore(cfg)
	if err != nil {
		fatal(err)
	}
	if closer != nil {
		defer closer()
	}
	if err := fn(s); err != nil {
		fatal(err)
	}
}

func runGet(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	if len(args) != 1 {
		fatal(fmt.Errorf("usage: firecircle get <fire-circle-id>"))
	}
	withStore(cfg, func(s store.Store) error {
		record, err := s.Get(ctx, args[0])
		if err != nil {
			return err
		}
		emit(global, record)
		return nil
	})
}

func runDissents(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("dissents", flag.ExitOnError)
	minDelta := fs.Float64("min-delta", cfg.Circle.DissentThreshold, "minimum falsehood delta")
	limit := fs.Int("limit", 20, "maximum dissents to return")
	fs.Parse(args)

	withStore(cfg, func(s store.Store) error {
		dissents, err := s.FindDissents(ctx, *minDelta, *limit)
		if err != nil {
			return err
		}
		emit(global, dissents)
		return nil
	})
}

func runPatterns(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("patterns", flag.ExitOnError)
	name := fs.String("name", "", "pattern name (required)")
	minAgreement := fs.Float64("min-agreement", 0.5, "minimum agreement score")
	limit := fs.Int("limit", 20, "maximum deliberations to return")
	fs.Parse(args)

	if *name == "" {
		fatal(fmt.Errorf("patterns: --name is required"))
	}
	withStore(cfg, func(s store.Store) error {
		metas, err := s.QueryByPattern(ctx, *name, *minAgreement, *limit)
		if err != nil {
			return err
		}
		emit(global, metas)
		return nil
	})
}

func runRecent(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("recent", flag.ExitOnError)
	category := fs.String("category", "", "filter by category tag")
	since := fs.Duration("since", 24*time.Hour, "how far back to look")
	limit := fs.Int("limit", 20, "maximum deliberations to return")
	fs.Parse(args)

	withStore(cfg, func(s store.Store) error {
		if *category != "" {
			metas, err := s.QueryByCategory(ctx, *category, *limit)
			if err != nil {
				return err
			}
			emit(global, metas)
			return nil
		}
		now := time.Now().UTC()
		metas, err := s.QueryByTimeRange(ctx, now.Add(-*since), now.Add(time.Minute), *limit)
		if err != nil {
			return err
		}
		emit(global, metas)
		return nil
	})
}
