package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentinelworks/firecircle/pkg/circle"
	"github.com/sentinelworks/firecircle/pkg/config"
	"github.com/sentinelworks/firecircle/pkg/llm"
	"github.com/sentinelworks/firecircle/pkg/store"
	"github.com/sentinelworks/firecircle/pkg/synthesis"
)

// openStore builds the configured store backend. The returned closer is nil
// for backends with nothing to close.
func openStore(cfg *config.Config) (store.Store, func() error, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return store.NewMemoryStore(), nil, nil
	case "sqlite", "":
		db, err := sql.Open("sqlite", cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite at %s: %w", cfg.Storage.Path, err)
		}
		var opts []store.SQLiteOption
		if cfg.Storage.Encrypt {
			opts = append(opts, store.WithEncryption(cfg.Storage.EncryptionKey))
		}
		s, err := store.NewSQLiteStore(db, opts...)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return s, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// baseProvider builds the transport shared by every participant: one backend,
// model selected per request, optionally wrapped in the redis call cache.
func baseProvider(cfg *config.Config) (llm.Provider, error) {
	var provider llm.Provider
	switch cfg.LLM.Provider {
	case "openai":
		provider = llm.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	case "ollama", "":
		provider = llm.NewOllama(cfg.LLM.BaseURL)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}

	if cfg.LLM.MaxRetries > 1 {
		retryCfg := llm.DefaultRetryConfig()
		retryCfg.MaxAttempts = cfg.LLM.MaxRetries
		provider = llm.NewRetrying(provider, retryCfg)
	}

	if cfg.Cache.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		provider = llm.NewCaching(provider, client, cfg.Cache.TTL)
	}
	return provider, nil
}

func buildParticipants(cfg *config.Config, provider llm.Provider) ([]circle.Participant, error) {
	if len(cfg.Circle.Participants) < 2 {
		return nil, fmt.Errorf("circle.participants needs at least 2 model ids, got %d", len(cfg.Circle.Participants))
	}
	participants := make([]circle.Participant, 0, len(cfg.Circle.Participants))
	for _, model := range cfg.Circle.Participants {
		participants = append(participants, circle.Participant{ID: model, Provider: provider})
	}
	return participants, nil
}

func buildSynthesizer(cfg *config.Config, provider llm.Provider) (*synthesis.Synthesizer, error) {
	var extractor synthesis.PatternExtractor
	switch cfg.Circle.PatternExtractor {
	case "model":
		model := cfg.Circle.PatternExtractorModel
		if model == "" {
			return nil, fmt.Errorf("circle.pattern_extractor_model is required for the model extractor")
		}
		extractor = synthesis.NewModelExtractor(provider, model, 60*time.Second)
	case "lexical", "":
		extractor = synthesis.NewLexicalExtractor(nil)
	default:
		return nil, fmt.Errorf("unknown pattern extractor %q", cfg.Circle.PatternExtractor)
	}

	return synthesis.New(extractor, synthesis.Config{
		DissentThreshold:         cfg.Circle.DissentThreshold,
		ChairDivergenceThreshold: cfg.Circle.ChairDivergenceThreshold,
	}), nil
}
