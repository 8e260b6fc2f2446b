package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sentinelworks/firecircle/pkg/circle"
	"github.com/sentinelworks/firecircle/pkg/errors"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Store persists a deep copy of the result; the caller's object stays theirs.
func (s *MemoryStore) Store(ctx context.Context, result *circle.Result, tags Tags) (string, error) {
	if result == nil || result.FireCircleID == "" {
		return "", errors.New(errors.CodeInvalidInput, "result with fire circle id is required", nil)
	}

	record := &Record{
		Metadata: newMetadata(result, tags, time.Now().UTC()),
		Rounds:   cloneJSON(result.Rounds),
		Synthesis: Synthesis{
			Consensus:           result.Consensus,
			Patterns:            cloneJSON(result.Patterns),
			EmptyChairInfluence: result.EmptyChairInfluence,
		},
		Dissents: cloneJSON(result.Dissents),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[result.FireCircleID]; exists {
		return "", errors.New(errors.CodeStorageError, "deliberation already stored", nil).
			WithContext("fire_circle_id", result.FireCircleID)
	}
	s.records[result.FireCircleID] = record
	return result.FireCircleID, nil
}

// Get returns a copy of the stored record.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	record, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "deliberation not found", nil).
			WithContext("fire_circle_id", id)
	}
	out := *record
	out.Metadata = cloneMetadata(record.Metadata)
	out.Rounds = cloneJSON(record.Rounds)
	out.Synthesis.Patterns = cloneJSON(record.Synthesis.Patterns)
	out.Dissents = cloneJSON(record.Dissents)
	return &out, nil
}

// QueryByCategory returns matching metadata, most recent first.
func (s *MemoryStore) QueryByCategory(ctx context.Context, category string, limit int) ([]Metadata, error) {
	return s.queryMetadata(limit, func(m Metadata) bool {
		return m.Category == category
	})
}

// QueryByPattern returns metadata for deliberations exhibiting the pattern.
func (s *MemoryStore) QueryByPattern(ctx context.Context, name string, minAgreement float64, limit int) ([]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Metadata
	for _, record := range s.records {
		for _, p := range record.Synthesis.Patterns {
			if p.Name == name && p.AgreementScore >= minAgreement {
				out = append(out, cloneMetadata(record.Metadata))
				break
			}
		}
	}
	sortMetadata(out)
	return clip(out, limit), nil
}

// QueryByTimeRange returns metadata stored in [from, to).
func (s *MemoryStore) QueryByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]Metadata, error) {
	return s.queryMetadata(limit, func(m Metadata) bool {
		return !m.StoredAt.Before(from) && m.StoredAt.Before(to)
	})
}

// FindDissents returns dissents at or above minFDelta, largest first.
func (s *MemoryStore) FindDissents(ctx context.Context, minFDelta float64, limit int) ([]DissentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DissentRecord
	for _, record := range s.records {
		for _, d := range record.Dissents {
			if d.FDelta >= minFDelta {
				out = append(out, DissentRecord{
					Dissent:      d,
					FireCircleID: record.Metadata.FireCircleID,
					Category:     record.Metadata.Category,
					StoredAt:     record.Metadata.StoredAt,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FDelta > out[j].FDelta })
	return clip(out, limit), nil
}

func (s *MemoryStore) queryMetadata(limit int, keep func(Metadata) bool) ([]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Metadata
	for _, record := range s.records {
		if keep(record.Metadata) {
			out = append(out, cloneMetadata(record.Metadata))
		}
	}
	sortMetadata(out)
	return clip(out, limit), nil
}

func sortMetadata(list []Metadata) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].StoredAt.Equal(list[j].StoredAt) {
			return list[i].StoredAt.After(list[j].StoredAt)
		}
		return list[i].FireCircleID < list[j].FireCircleID
	})
}

func clip[T any](list []T, limit int) []T {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}

// cloneMetadata copies metadata so callers cannot mutate the stored
// participants slice through the returned value.
func cloneMetadata(m Metadata) Metadata {
	out := m
	out.Participants = append([]string(nil), m.Participants...)
	return out
}

// cloneJSON deep-copies a value by JSON round-trip; storage owns its copy.
func cloneJSON[T any](value T) T {
	var out T
	payload, err := json.Marshal(value)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(payload, &out)
	return out
}
