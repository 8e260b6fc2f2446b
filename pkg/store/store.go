// Package store persists completed deliberations. A record is write-once per
// fire circle id and split into four sub-documents sharing that id: small
// indexed metadata, the bulk round transcript, the synthesis, and the
// dissents. Metadata-only queries never load round transcripts.
package store

import (
	"context"
	"time"

	"github.com/sentinelworks/firecircle/pkg/circle"
	"github.com/sentinelworks/firecircle/pkg/neutrosophic"
)

// Tags carries optional classification applied at store time.
type Tags struct {
	Category string `json:"category,omitempty"`
	SourceID string `json:"source_id,omitempty"`
}

// Metadata is the small, indexed projection of a stored deliberation.
type Metadata struct {
	FireCircleID        string                  `json:"fire_circle_id"`
	StoredAt            time.Time               `json:"stored_at"`
	StartedAt           time.Time               `json:"started_at"`
	Duration            time.Duration           `json:"duration"`
	YearMonth           string                  `json:"year_month"`
	Category            string                  `json:"category,omitempty"`
	SourceID            string                  `json:"source_id,omitempty"`
	Participants        []string                `json:"participants"`
	RoundCount          int                     `json:"round_count"`
	Consensus           neutrosophic.Evaluation `json:"consensus"`
	EmptyChairInfluence float64                 `json:"empty_chair_influence"`
	QuorumValid         bool                    `json:"quorum_valid"`
}

// Synthesis is the stored synthesis sub-document.
type Synthesis struct {
	Consensus           neutrosophic.Evaluation `json:"consensus"`
	Patterns            []circle.Pattern        `json:"patterns"`
	EmptyChairInfluence float64                 `json:"empty_chair_influence"`
}

// Record is the full reproducible deliberation record.
type Record struct {
	Metadata  Metadata         `json:"metadata"`
	Rounds    []circle.Round   `json:"rounds"`
	Synthesis Synthesis        `json:"synthesis"`
	Dissents  []circle.Dissent `json:"dissents"`
}

// DissentRecord is a dissent joined with the metadata needed to locate it.
type DissentRecord struct {
	circle.Dissent
	FireCircleID string    `json:"fire_circle_id"`
	Category     string    `json:"category,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
}

// Store persists and queries deliberation records. Implementations are safe
// for concurrent use; stored records are immutable.
type Store interface {
	// Store persists a completed deliberation. Each fire circle id is
	// write-once: storing the same id twice fails with a storage error.
	Store(ctx context.Context, result *circle.Result, tags Tags) (string, error)

	// Get returns the full record for the given fire circle id.
	Get(ctx context.Context, id string) (*Record, error)

	// QueryByCategory returns metadata for deliberations tagged with category,
	// most recent first.
	QueryByCategory(ctx context.Context, category string, limit int) ([]Metadata, error)

	// QueryByPattern returns metadata for deliberations exhibiting the named
	// pattern at or above minAgreement, most recent first.
	QueryByPattern(ctx context.Context, name string, minAgreement float64, limit int) ([]Metadata, error)

	// QueryByTimeRange returns metadata for deliberations stored in
	// [from, to), most recent first.
	QueryByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]Metadata, error)

	// FindDissents returns dissents with f_delta at or above minFDelta,
	// largest first.
	FindDissents(ctx context.Context, minFDelta float64, limit int) ([]DissentRecord, error)
}

// newMetadata builds the indexed projection for a result.
func newMetadata(result *circle.Result, tags Tags, storedAt time.Time) Metadata {
	return Metadata{
		FireCircleID:        result.FireCircleID,
		StoredAt:            storedAt,
		StartedAt:           result.StartedAt,
		Duration:            result.Duration,
		YearMonth:           result.StartedAt.UTC().Format("2006-01"),
		Category:            tags.Category,
		SourceID:            tags.SourceID,
		Participants:        append([]string(nil), result.Participants...),
		RoundCount:          len(result.Rounds),
		Consensus:           result.Consensus,
		EmptyChairInfluence: result.EmptyChairInfluence,
		QuorumValid:         result.QuorumValid,
	}
}
