package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"adorb/internal/logging"
	"adorb/internal/orb"
)

// SQLiteStore persists orbs in a single SQLite database. Structured fields
// used by queries (state, platform, success score, timestamps) are real
// columns; the nested payloads are JSON blobs.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewSQLiteStore opens (or creates) the database at the given path.
// Pass ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteStore")
	defer timer.Stop()

	logging.Store("Initializing SQLiteStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	store := &SQLiteStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}

	logging.Store("SQLiteStore initialization complete")
	return store, nil
}

// initialize creates the orbs table.
func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS orbs (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		created_from TEXT NOT NULL,
		parent_orb_id TEXT,
		platform TEXT,
		objective TEXT,
		success_score REAL,
		has_results INTEGER NOT NULL DEFAULT 0,
		raw TEXT,
		derived TEXT,
		spec TEXT,
		learning_intent TEXT,
		results TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orbs_platform ON orbs(platform);
	CREATE INDEX IF NOT EXISTS idx_orbs_state ON orbs(state);
	CREATE INDEX IF NOT EXISTS idx_orbs_created_at ON orbs(created_at);
	CREATE INDEX IF NOT EXISTS idx_orbs_success ON orbs(success_score);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save upserts an orb. INSERT OR REPLACE keeps the operation idempotent.
func (s *SQLiteStore) Save(ctx context.Context, o *orb.Orb) error {
	timer := logging.StartTimer(logging.CategoryStore, "Save")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	rawJSON, err := marshalNullable(o.Raw)
	if err != nil {
		return fmt.Errorf("marshal raw: %w", err)
	}
	derivedJSON, err := marshalNullable(o.Derived)
	if err != nil {
		return fmt.Errorf("marshal derived: %w", err)
	}
	specJSON, err := json.Marshal(o.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}
	intentJSON, err := marshalNullable(o.LearningIntent)
	if err != nil {
		return fmt.Errorf("marshal learning intent: %w", err)
	}
	resultsJSON, err := marshalNullable(o.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	var successScore sql.NullFloat64
	hasResults := 0
	if o.Results != nil {
		successScore = sql.NullFloat64{Float64: o.Results.SuccessScore, Valid: true}
		hasResults = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO orbs
		(id, state, created_from, parent_orb_id, platform, objective,
		 success_score, has_results, raw, derived, spec, learning_intent,
		 results, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, string(o.State), string(o.CreatedFrom), nullString(o.ParentOrbID),
		nullString(o.Platform()), nullString(o.Objective()),
		successScore, hasResults, rawJSON, derivedJSON, string(specJSON),
		intentJSON, resultsJSON, o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to save orb %s: %v", o.ID, err)
		return err
	}

	logging.StoreDebug("Saved orb %s (state=%s, platform=%s)", o.ID, o.State, o.Platform())
	return nil
}

// Get returns the orb with the given ID or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*orb.Orb, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+orbColumns+` FROM orbs WHERE id = ?`, id)
	o, err := scanOrb(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return o, err
}

// List returns all stored orbs.
func (s *SQLiteStore) List(ctx context.Context) ([]*orb.Orb, error) {
	return s.query(ctx, `SELECT `+orbColumns+` FROM orbs ORDER BY created_at`)
}

// Delete removes an orb. Deleting a missing orb is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM orbs WHERE id = ?`, id)
	return err
}

// ListByPlatform returns orbs whose platform matches.
func (s *SQLiteStore) ListByPlatform(ctx context.Context, platform string) ([]*orb.Orb, error) {
	return s.query(ctx,
		`SELECT `+orbColumns+` FROM orbs WHERE platform = ? ORDER BY created_at`, platform)
}

// ListByDateRange returns orbs created within [from, to].
func (s *SQLiteStore) ListByDateRange(ctx context.Context, from, to time.Time) ([]*orb.Orb, error) {
	return s.query(ctx,
		`SELECT `+orbColumns+` FROM orbs WHERE created_at >= ? AND created_at <= ? ORDER BY created_at`,
		from.UTC(), to.UTC())
}

// ListByMinSuccess returns observed orbs at or above the given score.
func (s *SQLiteStore) ListByMinSuccess(ctx context.Context, minScore float64) ([]*orb.Orb, error) {
	return s.query(ctx,
		`SELECT `+orbColumns+` FROM orbs WHERE has_results = 1 AND success_score >= ? ORDER BY success_score DESC`,
		minScore)
}

// ListAdOrbs returns flattened retrieval views of the stored orbs.
func (s *SQLiteStore) ListAdOrbs(ctx context.Context, resultsOnly bool) ([]*orb.AdOrb, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListAdOrbs")
	defer timer.Stop()

	q := `SELECT ` + orbColumns + ` FROM orbs`
	if resultsOnly {
		q += ` WHERE has_results = 1`
	}
	orbs, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]*orb.AdOrb, 0, len(orbs))
	for _, o := range orbs {
		out = append(out, o.Flatten())
	}
	return out, nil
}

// =============================================================================
// ROW MAPPING
// =============================================================================

const orbColumns = `id, state, created_from, parent_orb_id, raw, derived, spec, learning_intent, results, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrb(row rowScanner) (*orb.Orb, error) {
	var (
		o           orb.Orb
		state       string
		createdFrom string
		parentID    sql.NullString
		rawJSON     sql.NullString
		derivedJSON sql.NullString
		specJSON    string
		intentJSON  sql.NullString
		resultsJSON sql.NullString
	)

	err := row.Scan(&o.ID, &state, &createdFrom, &parentID, &rawJSON,
		&derivedJSON, &specJSON, &intentJSON, &resultsJSON,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	o.State = orb.State(state)
	o.CreatedFrom = orb.Origin(createdFrom)
	o.ParentOrbID = parentID.String

	if err := unmarshalNullable(rawJSON, &o.Raw); err != nil {
		return nil, fmt.Errorf("unmarshal raw for orb %s: %w", o.ID, err)
	}
	if err := unmarshalNullable(derivedJSON, &o.Derived); err != nil {
		return nil, fmt.Errorf("unmarshal derived for orb %s: %w", o.ID, err)
	}
	if err := json.Unmarshal([]byte(specJSON), &o.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec for orb %s: %w", o.ID, err)
	}
	if err := unmarshalNullable(intentJSON, &o.LearningIntent); err != nil {
		return nil, fmt.Errorf("unmarshal learning intent for orb %s: %w", o.ID, err)
	}
	if err := unmarshalNullable(resultsJSON, &o.Results); err != nil {
		return nil, fmt.Errorf("unmarshal results for orb %s: %w", o.ID, err)
	}

	return &o, nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...interface{}) ([]*orb.Orb, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Query failed: %v", err)
		return nil, err
	}
	defer rows.Close()

	var out []*orb.Orb
	for rows.Next() {
		o, err := scanOrb(rows)
		if err != nil {
			logging.StoreWarn("Skipping unreadable orb row: %v", err)
			continue
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func marshalNullable(v interface{}) (sql.NullString, error) {
	if isNilPtr(v) {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalNullable(src sql.NullString, dest interface{}) error {
	if !src.Valid || src.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(src.String), dest)
}

func isNilPtr(v interface{}) bool {
	switch t := v.(type) {
	case *orb.Raw:
		return t == nil
	case *orb.Derived:
		return t == nil
	case *orb.LearningIntent:
		return t == nil
	case *orb.Results:
		return t == nil
	}
	return v == nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
