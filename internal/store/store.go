// Package store persists trained models and run history in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/outagelens/internal/model"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no row matches
var ErrNotFound = errors.New("not found")

// Store handles database operations
type Store struct {
	db *sql.DB
}

// ModelRecord is a persisted classifier artifact
type ModelRecord struct {
	Provider  model.Provider
	SchemaID  string // Configured schema the model was requested under
	Blob      []byte
	TrainedAt time.Time
}

// RunRecord is one row of run history
type RunRecord struct {
	RunID       string
	Provider    model.Provider
	StartedAt   time.Time
	FinishedAt  time.Time
	BestScore   *float64
	Granularity model.Granularity
	Error       string
	Result      []byte // ProviderResult as JSON
}

// Open opens or creates the database at path. ":memory:" keeps everything in process.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers anyway; one connection also keeps ":memory:" coherent
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS models (
			provider TEXT NOT NULL,
			schema_id TEXT NOT NULL,
			blob BLOB NOT NULL,
			trained_at INTEGER NOT NULL,
			PRIMARY KEY (provider, schema_id)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			best_score REAL,
			granularity TEXT,
			error TEXT,
			result TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_provider ON runs (provider, started_at)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// SaveModel inserts or replaces the model for provider under schemaID
func (s *Store) SaveModel(ctx context.Context, rec ModelRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO models (provider, schema_id, blob, trained_at) VALUES (?, ?, ?, ?)`,
		string(rec.Provider), rec.SchemaID, rec.Blob, rec.TrainedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("save model %s: %w", rec.Provider, err)
	}
	return nil
}

// LoadModel returns the stored model for provider under schemaID
func (s *Store) LoadModel(ctx context.Context, provider model.Provider, schemaID string) (ModelRecord, error) {
	rec := ModelRecord{Provider: provider, SchemaID: schemaID}
	var trainedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT blob, trained_at FROM models WHERE provider = ? AND schema_id = ?`,
		string(provider), schemaID).Scan(&rec.Blob, &trainedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ModelRecord{}, ErrNotFound
	}
	if err != nil {
		return ModelRecord{}, fmt.Errorf("load model %s: %w", provider, err)
	}
	rec.TrainedAt = time.Unix(trainedAt, 0).UTC()
	return rec, nil
}

// SaveRun appends a provider result to run history
func (s *Store) SaveRun(ctx context.Context, res *model.ProviderResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	var best sql.NullFloat64
	if res.Score.Best != nil {
		best = sql.NullFloat64{Float64: res.Score.Best.Combined, Valid: true}
	}
	var granularity sql.NullString
	if res.Match != nil {
		granularity = sql.NullString{String: string(res.Match.Granularity), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, provider, started_at, finished_at, best_score, granularity, error, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, string(res.Provider), res.StartedAt.UTC().Unix(), res.FinishedAt.UTC().Unix(),
		best, granularity, res.Err, string(data))
	if err != nil {
		return fmt.Errorf("save run %s: %w", res.RunID, err)
	}
	return nil
}

// Runs returns the most recent runs for provider, newest first
func (s *Store) Runs(ctx context.Context, provider model.Provider, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, provider, started_at, finished_at, best_score, granularity, error, result
		 FROM runs WHERE provider = ? ORDER BY started_at DESC, run_id LIMIT ?`,
		string(provider), limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		var (
			rec                 RunRecord
			prov                string
			started, finished   int64
			best                sql.NullFloat64
			granularity, errMsg sql.NullString
			result              string
		)
		if err := rows.Scan(&rec.RunID, &prov, &started, &finished, &best, &granularity, &errMsg, &result); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec.Provider = model.Provider(prov)
		rec.StartedAt = time.Unix(started, 0).UTC()
		rec.FinishedAt = time.Unix(finished, 0).UTC()
		if best.Valid {
			v := best.Float64
			rec.BestScore = &v
		}
		rec.Granularity = model.Granularity(granularity.String)
		rec.Error = errMsg.String
		rec.Result = []byte(result)
		out = append(out, rec)
	}
	return out, rows.Err()
}
