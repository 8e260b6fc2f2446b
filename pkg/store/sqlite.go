package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentinelworks/firecircle/pkg/circle"
	"github.com/sentinelworks/firecircle/pkg/errors"

	_ "modernc.org/sqlite"
)

const (
	metadataTable  = "deliberation_metadata"
	roundsTable    = "deliberation_rounds"
	synthesisTable = "deliberation_synthesis"
	patternsTable  = "deliberation_patterns"
	dissentsTable  = "deliberation_dissents"
)

// SQLiteStore persists deliberations in a SQLite database. The bulk round
// transcript can be encrypted at rest; the indexed metadata never is.
type SQLiteStore struct {
	db     *sql.DB
	cipher *transcriptCipher // nil means plaintext rounds
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore) error

// WithEncryption enables transcript encryption with a 32-byte hex key.
func WithEncryption(hexKey string) SQLiteOption {
	return func(s *SQLiteStore) error {
		cipher, err := newTranscriptCipher(hexKey)
		if err != nil {
			return err
		}
		s.cipher = cipher
		return nil
	}
}

// NewSQLiteStore creates a SQLite-backed store and ensures schema.
func NewSQLiteStore(db *sql.DB, opts ...SQLiteOption) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			stored_at INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			year_month TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			source_id TEXT NOT NULL DEFAULT '',
			round_count INTEGER NOT NULL,
			quorum_valid INTEGER NOT NULL,
			consensus_truth REAL NOT NULL,
			consensus_indeterminacy REAL NOT NULL,
			consensus_falsehood REAL NOT NULL,
			empty_chair_influence REAL NOT NULL,
			participants_json BLOB NOT NULL
		);`, metadataTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_category ON %s(category);`, metadataTable, metadataTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_year_month ON %s(year_month);`, metadataTable, metadataTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_stored ON %s(stored_at);`, metadataTable, metadataTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			encrypted INTEGER NOT NULL DEFAULT 0,
			rounds_json BLOB NOT NULL
		);`, roundsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			synthesis_json BLOB NOT NULL
		);`, synthesisTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			agreement REAL NOT NULL,
			PRIMARY KEY(id, name)
		);`, patternsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_name ON %s(name, agreement);`, patternsTable, patternsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL,
			round_number INTEGER NOT NULL,
			model_high TEXT NOT NULL,
			model_low TEXT NOT NULL,
			f_delta REAL NOT NULL,
			reasoning_high TEXT NOT NULL,
			reasoning_low TEXT NOT NULL
		);`, dissentsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_delta ON %s(f_delta);`, dissentsTable, dissentsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_id ON %s(id);`, dissentsTable, dissentsTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Store persists a result in one transaction. Each fire circle id is
// write-once; a duplicate insert fails without touching the existing record.
func (s *SQLiteStore) Store(ctx context.Context, result *circle.Result, tags Tags) (string, error) {
	if result == nil || result.FireCircleID == "" {
		return "", errors.New(errors.CodeInvalidInput, "result with fire circle id is required", nil)
	}

	storedAt := time.Now().UTC()
	meta := newMetadata(result, tags, storedAt)

	participants, err := json.Marshal(meta.Participants)
	if err != nil {
		return "", storageErr("marshal participants", err, result.FireCircleID)
	}
	roundsPayload, err := json.Marshal(result.Rounds)
	if err != nil {
		return "", storageErr("marshal rounds", err, result.FireCircleID)
	}
	encrypted := 0
	if s.cipher != nil {
		roundsPayload, err = s.cipher.seal(roundsPayload)
		if err != nil {
			return "", storageErr("encrypt rounds", err, result.FireCircleID)
		}
		encrypted = 1
	}
	synthesisPayload, err := json.Marshal(Synthesis{
		Consensus:           result.Consensus,
		Patterns:            result.Patterns,
		EmptyChairInfluence: result.EmptyChairInfluence,
	})
	if err != nil {
		return "", storageErr("marshal synthesis", err, result.FireCircleID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageErr("begin tx", err, result.FireCircleID)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = ?", metadataTable),
		result.FireCircleID).Scan(&exists); err != nil {
		return "", storageErr("check existing", err, result.FireCircleID)
	}
	if exists > 0 {
		return "", errors.New(errors.CodeStorageError, "deliberation already stored", nil).
			WithContext("fire_circle_id", result.FireCircleID)
	}

	quorum := 0
	if meta.QuorumValid {
		quorum = 1
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, stored_at, started_at, duration_ms, year_month,
			category, source_id, round_count, quorum_valid,
			consensus_truth, consensus_indeterminacy, consensus_falsehood,
			empty_chair_influence, participants_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, metadataTable),
		meta.FireCircleID, storedAt.UnixMilli(), meta.StartedAt.UnixMilli(),
		meta.Duration.Milliseconds(), meta.YearMonth,
		meta.Category, meta.SourceID, meta.RoundCount, quorum,
		meta.Consensus.Truth, meta.Consensus.Indeterminacy, meta.Consensus.Falsehood,
		meta.EmptyChairInfluence, participants)
	if err != nil {
		return "", storageErr("insert metadata", err, result.FireCircleID)
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, encrypted, rounds_json) VALUES (?, ?, ?)", roundsTable),
		result.FireCircleID, encrypted, roundsPayload)
	if err != nil {
		return "", storageErr("insert rounds", err, result.FireCircleID)
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, synthesis_json) VALUES (?, ?)", synthesisTable),
		result.FireCircleID, synthesisPayload)
	if err != nil {
		return "", storageErr("insert synthesis", err, result.FireCircleID)
	}

	for _, p := range result.Patterns {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (id, name, agreement) VALUES (?, ?, ?)", patternsTable),
			result.FireCircleID, p.Name, p.AgreementScore)
		if err != nil {
			return "", storageErr("insert pattern", err, result.FireCircleID)
		}
	}
	for _, d := range result.Dissents {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, round_number, model_high, model_low, f_delta,
				reasoning_high, reasoning_low) VALUES (?, ?, ?, ?, ?, ?, ?)`, dissentsTable),
			result.FireCircleID, d.RoundNumber, d.ModelHigh, d.ModelLow, d.FDelta,
			d.ReasoningHigh, d.ReasoningLow)
		if err != nil {
			return "", storageErr("insert dissent", err, result.FireCircleID)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", storageErr("commit", err, result.FireCircleID)
	}
	return result.FireCircleID, nil
}

// Get returns the full reproducible record for the given id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	meta, err := s.getMetadata(ctx, id)
	if err != nil {
		return nil, err
	}

	var encrypted int
	var roundsPayload []byte
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT encrypted, rounds_json FROM %s WHERE id = ?", roundsTable),
		id).Scan(&encrypted, &roundsPayload)
	if err != nil {
		return nil, storageErr("load rounds", err, id)
	}
	if encrypted == 1 {
		if s.cipher == nil {
			return nil, errors.New(errors.CodeStorageError, "record is encrypted and no key is configured", nil).
				WithContext("fire_circle_id", id)
		}
		roundsPayload, err = s.cipher.open(roundsPayload)
		if err != nil {
			return nil, storageErr("decrypt rounds", err, id)
		}
	}
	var rounds []circle.Round
	if err := json.Unmarshal(roundsPayload, &rounds); err != nil {
		return nil, storageErr("decode rounds", err, id)
	}

	var synthesisPayload []byte
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT synthesis_json FROM %s WHERE id = ?", synthesisTable),
		id).Scan(&synthesisPayload)
	if err != nil {
		return nil, storageErr("load synthesis", err, id)
	}
	var synthesis Synthesis
	if err := json.Unmarshal(synthesisPayload, &synthesis); err != nil {
		return nil, storageErr("decode synthesis", err, id)
	}

	dissents, err := s.dissentsFor(ctx, id)
	if err != nil {
		return nil, err
	}

	return &Record{
		Metadata:  *meta,
		Rounds:    rounds,
		Synthesis: synthesis,
		Dissents:  dissents,
	}, nil
}

// QueryByCategory returns matching metadata, most recent first.
func (s *SQLiteStore) QueryByCategory(ctx context.Context, category string, limit int) ([]Metadata, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE category = ?
		ORDER BY stored_at DESC, id ASC LIMIT ?`, metadataColumns, metadataTable)
	return s.queryMetadata(ctx, query, category, normalizeLimit(limit))
}

// QueryByPattern joins the pattern index against metadata.
func (s *SQLiteStore) QueryByPattern(ctx context.Context, name string, minAgreement float64, limit int) ([]Metadata, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s m
		JOIN %s p ON p.id = m.id
		WHERE p.name = ? AND p.agreement >= ?
		ORDER BY m.stored_at DESC, m.id ASC LIMIT ?`,
		prefixedMetadataColumns("m"), metadataTable, patternsTable)
	return s.queryMetadata(ctx, query, name, minAgreement, normalizeLimit(limit))
}

// QueryByTimeRange returns metadata stored in [from, to), most recent first.
func (s *SQLiteStore) QueryByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]Metadata, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE stored_at >= ? AND stored_at < ?
		ORDER BY stored_at DESC, id ASC LIMIT ?`, metadataColumns, metadataTable)
	return s.queryMetadata(ctx, query, from.UTC().UnixMilli(), to.UTC().UnixMilli(), normalizeLimit(limit))
}

// FindDissents returns dissents at or above minFDelta, largest first.
func (s *SQLiteStore) FindDissents(ctx context.Context, minFDelta float64, limit int) ([]DissentRecord, error) {
	query := fmt.Sprintf(`SELECT d.id, d.round_number, d.model_high, d.model_low,
		d.f_delta, d.reasoning_high, d.reasoning_low, m.category, m.stored_at
		FROM %s d JOIN %s m ON m.id = d.id
		WHERE d.f_delta >= ?
		ORDER BY d.f_delta DESC, d.id ASC LIMIT ?`, dissentsTable, metadataTable)
	rows, err := s.db.QueryContext(ctx, query, minFDelta, normalizeLimit(limit))
	if err != nil {
		return nil, storageErr("query dissents", err, "")
	}
	defer rows.Close()

	var out []DissentRecord
	for rows.Next() {
		var rec DissentRecord
		var storedAt int64
		if err := rows.Scan(&rec.FireCircleID, &rec.RoundNumber, &rec.ModelHigh, &rec.ModelLow,
			&rec.FDelta, &rec.ReasoningHigh, &rec.ReasoningLow, &rec.Category, &storedAt); err != nil {
			return nil, storageErr("scan dissent", err, "")
		}
		rec.StoredAt = time.UnixMilli(storedAt).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate dissents", err, "")
	}
	return out, nil
}

const metadataColumns = `id, stored_at, started_at, duration_ms, year_month,
	category, source_id, round_count, quorum_valid,
	consensus_truth, consensus_indeterminacy, consensus_falsehood,
	empty_chair_influence, participants_json`

func prefixedMetadataColumns(prefix string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.stored_at, %[1]s.started_at, %[1]s.duration_ms, %[1]s.year_month,
	%[1]s.category, %[1]s.source_id, %[1]s.round_count, %[1]s.quorum_valid,
	%[1]s.consensus_truth, %[1]s.consensus_indeterminacy, %[1]s.consensus_falsehood,
	%[1]s.empty_chair_influence, %[1]s.participants_json`, prefix)
}

func (s *SQLiteStore) getMetadata(ctx context.Context, id string) (*Metadata, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", metadataColumns, metadataTable), id)
	meta, err := scanMetadata(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.CodeNotFound, "deliberation not found", nil).
			WithContext("fire_circle_id", id)
	}
	if err != nil {
		return nil, storageErr("load metadata", err, id)
	}
	return meta, nil
}

func (s *SQLiteStore) queryMetadata(ctx context.Context, query string, args ...any) ([]Metadata, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query metadata", err, "")
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		meta, err := scanMetadata(rows.Scan)
		if err != nil {
			return nil, storageErr("scan metadata", err, "")
		}
		out = append(out, *meta)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate metadata", err, "")
	}
	return out, nil
}

func scanMetadata(scan func(...any) error) (*Metadata, error) {
	var meta Metadata
	var storedAt, startedAt, durationMS int64
	var quorum, roundCount int
	var participants []byte
	err := scan(&meta.FireCircleID, &storedAt, &startedAt, &durationMS, &meta.YearMonth,
		&meta.Category, &meta.SourceID, &roundCount, &quorum,
		&meta.Consensus.Truth, &meta.Consensus.Indeterminacy, &meta.Consensus.Falsehood,
		&meta.EmptyChairInfluence, &participants)
	if err != nil {
		return nil, err
	}
	meta.StoredAt = time.UnixMilli(storedAt).UTC()
	meta.StartedAt = time.UnixMilli(startedAt).UTC()
	meta.Duration = time.Duration(durationMS) * time.Millisecond
	meta.RoundCount = roundCount
	meta.QuorumValid = quorum == 1
	if err := json.Unmarshal(participants, &meta.Participants); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *SQLiteStore) dissentsFor(ctx context.Context, id string) ([]circle.Dissent, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT round_number, model_high, model_low, f_delta,
			reasoning_high, reasoning_low FROM %s WHERE id = ?
			ORDER BY round_number ASC, f_delta DESC`, dissentsTable), id)
	if err != nil {
		return nil, storageErr("load dissents", err, id)
	}
	defer rows.Close()

	var out []circle.Dissent
	for rows.Next() {
		var d circle.Dissent
		if err := rows.Scan(&d.RoundNumber, &d.ModelHigh, &d.ModelLow, &d.FDelta,
			&d.ReasoningHigh, &d.ReasoningLow); err != nil {
			return nil, storageErr("scan dissent", err, id)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate dissents", err, id)
	}
	return out, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

func storageErr(op string, err error, id string) *errors.CircleError {
	ce := errors.New(errors.CodeStorageError, op+" failed", err)
	if id != "" {
		ce.WithContext("fire_circle_id", id)
	}
	return ce
}
