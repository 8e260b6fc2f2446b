package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/sentinelworks/firecircle/pkg/circle"
	"github.com/sentinelworks/firecircle/pkg/errors"
	"github.com/sentinelworks/firecircle/pkg/neutrosophic"
)

func sampleResult(id string) *circle.Result {
	return &circle.Result{
		FireCircleID: id,
		StartedAt:    time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		Participants: []string{"model-a", "model-b"},
		Rounds: []circle.Round{
			{
				Number: 1,
				Evaluations: map[string]neutrosophic.Evaluation{
					"model-a": {Truth: 0.2, Indeterminacy: 0.1, Falsehood: 0.8, Reasoning: "urgency pressure", Model: "model-a"},
					"model-b": {Truth: 0.5, Indeterminacy: 0.2, Falsehood: 0.4, Reasoning: "looks benign", Model: "model-b"},
				},
				EmptyChair:     "model-a",
				LocalConsensus: neutrosophic.Evaluation{Truth: 0.2, Indeterminacy: 0.2, Falsehood: 0.8},
				Latencies: map[string]time.Duration{
					"model-a": 120 * time.Millisecond,
					"model-b": 340 * time.Millisecond,
				},
			},
		},
		Consensus: neutrosophic.Evaluation{Truth: 0.2, Indeterminacy: 0.2, Falsehood: 0.8, Reasoning: "worst case over 1 rounds"},
		Patterns: []circle.Pattern{
			{Name: "urgency_pressure", AgreementScore: 0.5},
		},
		Dissents: []circle.Dissent{
			{RoundNumber: 1, ModelHigh: "model-a", ModelLow: "model-b", FDelta: 0.4,
				ReasoningHigh: "urgency pressure", ReasoningLow: "looks benign"},
		},
		EmptyChairInfluence: 1.0,
		QuorumValid:         true,
		Duration:            time.Second,
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqliteStore, err := NewSQLiteStore(openTestDB(t))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			result := sampleResult("fc-roundtrip")
			id, err := s.Store(ctx, result, Tags{Category: "phishing", SourceID: "ticket-42"})
			if err != nil {
				t.Fatalf("store: %v", err)
			}
			if id != "fc-roundtrip" {
				t.Fatalf("expected stored id fc-roundtrip, got %q", id)
			}

			rec, err := s.Get(ctx, id)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if rec.Metadata.Category != "phishing" || rec.Metadata.SourceID != "ticket-42" {
				t.Fatalf("tags not preserved: %+v", rec.Metadata)
			}
			if rec.Metadata.YearMonth != "2026-03" {
				t.Fatalf("expected year_month 2026-03, got %q", rec.Metadata.YearMonth)
			}
			if rec.Metadata.RoundCount != 1 || !rec.Metadata.QuorumValid {
				t.Fatalf("metadata projection wrong: %+v", rec.Metadata)
			}
			if rec.Metadata.Consensus.Falsehood != 0.8 {
				t.Fatalf("expected consensus falsehood 0.8, got %v", rec.Metadata.Consensus.Falsehood)
			}
			if len(rec.Rounds) != 1 {
				t.Fatalf("expected 1 round, got %d", len(rec.Rounds))
			}
			round := rec.Rounds[0]
			if round.EmptyChair != "model-a" {
				t.Fatalf("empty chair not preserved: %q", round.EmptyChair)
			}
			if got := round.Evaluations["model-a"].Reasoning; got != "urgency pressure" {
				t.Fatalf("reasoning not preserved: %q", got)
			}
			if round.Latencies["model-b"] != 340*time.Millisecond {
				t.Fatalf("latency not preserved: %v", round.Latencies["model-b"])
			}
			if len(rec.Synthesis.Patterns) != 1 || rec.Synthesis.Patterns[0].Name != "urgency_pressure" {
				t.Fatalf("patterns not preserved: %+v", rec.Synthesis.Patterns)
			}
			if rec.Synthesis.Consensus.Reasoning != "worst case over 1 rounds" {
				t.Fatalf("synthesis consensus reasoning not preserved: %q", rec.Synthesis.Consensus.Reasoning)
			}
			if len(rec.Dissents) != 1 || rec.Dissents[0].FDelta != 0.4 {
				t.Fatalf("dissents not preserved: %+v", rec.Dissents)
			}
		})
	}
}

func TestStoreWriteOnce(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Store(ctx, sampleResult("fc-dup"), Tags{}); err != nil {
				t.Fatalf("first store: %v", err)
			}
			_, err := s.Store(ctx, sampleResult("fc-dup"), Tags{Category: "changed"})
			if err == nil {
				t.Fatal("expected duplicate store to fail")
			}
			ce := errors.AsCircleError(err)
			if ce == nil || ce.Code != errors.CodeStorageError {
				t.Fatalf("expected storage error, got %v", err)
			}

			// The original record must be untouched.
			rec, err := s.Get(ctx, "fc-dup")
			if err != nil {
				t.Fatalf("get after dup: %v", err)
			}
			if rec.Metadata.Category != "" {
				t.Fatalf("duplicate store mutated stored record: %+v", rec.Metadata)
			}
		})
	}
}

func TestStoreGetNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "fc-missing")
			if err == nil {
				t.Fatal("expected not found")
			}
			ce := errors.AsCircleError(err)
			if ce == nil || ce.Code != errors.CodeNotFound {
				t.Fatalf("expected not found code, got %v", err)
			}
		})
	}
}

func TestStoreGetIsIdempotent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Store(ctx, sampleResult("fc-idem"), Tags{}); err != nil {
				t.Fatalf("store: %v", err)
			}
			first, err := s.Get(ctx, "fc-idem")
			if err != nil {
				t.Fatalf("first get: %v", err)
			}
			// Mutate the returned copy; the stored record must not change.
			first.Rounds[0].Evaluations["model-a"] = neutrosophic.Evaluation{Falsehood: 1.0}
			first.Dissents[0].FDelta = 9
			first.Metadata.Participants[0] = "model-x"

			second, err := s.Get(ctx, "fc-idem")
			if err != nil {
				t.Fatalf("second get: %v", err)
			}
			if second.Rounds[0].Evaluations["model-a"].Falsehood != 0.8 {
				t.Fatalf("stored record mutated through returned copy")
			}
			if second.Dissents[0].FDelta != 0.4 {
				t.Fatalf("stored dissent mutated through returned copy")
			}
			if second.Metadata.Participants[0] != "model-a" {
				t.Fatalf("stored participants mutated through returned copy: %v", second.Metadata.Participants)
			}
		})
	}
}

func TestQueryByCategory(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, tc := range []struct{ id, category string }{
				{"fc-cat-1", "phishing"},
				{"fc-cat-2", "phishing"},
				{"fc-cat-3", "benign"},
			} {
				if _, err := s.Store(ctx, sampleResult(tc.id), Tags{Category: tc.category}); err != nil {
					t.Fatalf("store %s: %v", tc.id, err)
				}
			}

			metas, err := s.QueryByCategory(ctx, "phishing", 10)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(metas) != 2 {
				t.Fatalf("expected 2 phishing records, got %d", len(metas))
			}
			for _, m := range metas {
				if m.Category != "phishing" {
					t.Fatalf("wrong category in result: %+v", m)
				}
			}

			limited, err := s.QueryByCategory(ctx, "phishing", 1)
			if err != nil {
				t.Fatalf("limited query: %v", err)
			}
			if len(limited) != 1 {
				t.Fatalf("limit not applied, got %d", len(limited))
			}
		})
	}
}

func TestQueryByPattern(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			strong := sampleResult("fc-pat-strong")
			strong.Patterns = []circle.Pattern{{Name: "urgency_pressure", AgreementScore: 0.9}}
			weak := sampleResult("fc-pat-weak")
			weak.Patterns = []circle.Pattern{{Name: "urgency_pressure", AgreementScore: 0.3}}
			other := sampleResult("fc-pat-other")
			other.Patterns = []circle.Pattern{{Name: "flattery", AgreementScore: 0.9}}

			for _, r := range []*circle.Result{strong, weak, other} {
				if _, err := s.Store(ctx, r, Tags{}); err != nil {
					t.Fatalf("store %s: %v", r.FireCircleID, err)
				}
			}

			metas, err := s.QueryByPattern(ctx, "urgency_pressure", 0.5, 10)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(metas) != 1 || metas[0].FireCircleID != "fc-pat-strong" {
				t.Fatalf("expected only fc-pat-strong, got %+v", metas)
			}
		})
	}
}

func TestQueryByTimeRange(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			before := time.Now().UTC().Add(-time.Minute)
			if _, err := s.Store(ctx, sampleResult("fc-time"), Tags{}); err != nil {
				t.Fatalf("store: %v", err)
			}
			after := time.Now().UTC().Add(time.Minute)

			metas, err := s.QueryByTimeRange(ctx, before, after, 10)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(metas) != 1 || metas[0].FireCircleID != "fc-time" {
				t.Fatalf("expected fc-time in range, got %+v", metas)
			}

			empty, err := s.QueryByTimeRange(ctx, after, after.Add(time.Hour), 10)
			if err != nil {
				t.Fatalf("empty-range query: %v", err)
			}
			if len(empty) != 0 {
				t.Fatalf("expected no records outside range, got %+v", empty)
			}
		})
	}
}

func TestFindDissents(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			big := sampleResult("fc-dis-big")
			big.Dissents = []circle.Dissent{
				{RoundNumber: 1, ModelHigh: "model-a", ModelLow: "model-b", FDelta: 0.7},
			}
			small := sampleResult("fc-dis-small")
			small.Dissents = []circle.Dissent{
				{RoundNumber: 2, ModelHigh: "model-b", ModelLow: "model-a", FDelta: 0.35},
			}

			if _, err := s.Store(ctx, big, Tags{Category: "phishing"}); err != nil {
				t.Fatalf("store big: %v", err)
			}
			if _, err := s.Store(ctx, small, Tags{}); err != nil {
				t.Fatalf("store small: %v", err)
			}

			all, err := s.FindDissents(ctx, 0.3, 10)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if len(all) != 2 {
				t.Fatalf("expected 2 dissents, got %d", len(all))
			}
			if all[0].FDelta != 0.7 || all[0].FireCircleID != "fc-dis-big" {
				t.Fatalf("expected largest delta first, got %+v", all[0])
			}
			if all[0].Category != "phishing" {
				t.Fatalf("expected category joined onto dissent, got %+v", all[0])
			}

			high, err := s.FindDissents(ctx, 0.5, 10)
			if err != nil {
				t.Fatalf("find high: %v", err)
			}
			if len(high) != 1 || high[0].FireCircleID != "fc-dis-big" {
				t.Fatalf("threshold not applied: %+v", high)
			}
		})
	}
}
