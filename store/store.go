// Package store persists track results of pipeline runs in SQLite and
// writes them as CSV reports.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/swdee/go-wagonocr/tracker"
)

//go:embed schema.sql
var schemaSQL string

// ErrRunNotFound is returned when a run id has no stored run
var ErrRunNotFound = errors.New("run not found")

// Run describes one stored pipeline run
type Run struct {
	ID        string
	Source    string
	CreatedAt time.Time
	NumTracks int
}

// SQLite stores track results in a SQLite database file
type SQLite struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.  Use
// ":memory:" for a private in-memory database.
func Open(path string) (*SQLite, error) {

	db, err := sql.Open("sqlite", path)

	if err != nil {
		return nil, fmt.Errorf("error opening result store: %w", err)
	}

	// a single connection keeps in-memory databases shared between calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling foreign keys: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("error applying result store schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveRun stores the results of a run, replacing any earlier results saved
// under the same run id
func (s *SQLite) SaveRun(ctx context.Context, runID, source string, results []tracker.Result) error {

	tx, err := s.db.BeginTx(ctx, nil)

	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}

	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("error clearing run %s: %w", runID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, source, created_at) VALUES (?, ?, ?)`,
		runID, source, time.Now().UnixNano())

	if err != nil {
		return fmt.Errorf("error inserting run %s: %w", runID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO track_results (run_id, track_id, best_text, num_sightings, confidence, last_seen_identifier)
		VALUES (?, ?, ?, ?, ?, ?)
	`)

	if err != nil {
		return fmt.Errorf("error preparing result insert: %w", err)
	}

	defer stmt.Close()

	for _, r := range results {
		_, err := stmt.ExecContext(ctx, runID, r.TrackID, r.BestText, r.NumSightings,
			r.Confidence, r.LastSeenIdentifier)

		if err != nil {
			return fmt.Errorf("error inserting track %d: %w", r.TrackID, err)
		}
	}

	return tx.Commit()
}

// Results returns the results of a run ordered by track id
func (s *SQLite) Results(ctx context.Context, runID string) ([]tracker.Result, error) {

	var exists int

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID).Scan(&exists)

	if err != nil {
		return nil, fmt.Errorf("error looking up run %s: %w", runID, err)
	}

	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT track_id, best_text, num_sightings, confidence, last_seen_identifier
		FROM track_results
		WHERE run_id = ?
		ORDER BY track_id
	`, runID)

	if err != nil {
		return nil, fmt.Errorf("error querying run %s: %w", runID, err)
	}

	defer rows.Close()

	var results []tracker.Result

	for rows.Next() {
		var r tracker.Result

		if err := rows.Scan(&r.TrackID, &r.BestText, &r.NumSightings, &r.Confidence,
			&r.LastSeenIdentifier); err != nil {
			return nil, fmt.Errorf("error reading track result: %w", err)
		}

		results = append(results, r)
	}

	return results, rows.Err()
}

// Runs lists the stored runs, newest first
func (s *SQLite) Runs(ctx context.Context) ([]Run, error) {

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.source, r.created_at, COUNT(t.track_id)
		FROM runs r
		LEFT JOIN track_results t ON t.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.created_at DESC, r.run_id
	`)

	if err != nil {
		return nil, fmt.Errorf("error querying runs: %w", err)
	}

	defer rows.Close()

	var runs []Run

	for rows.Next() {
		var r Run
		var created int64

		if err := rows.Scan(&r.ID, &r.Source, &created, &r.NumTracks); err != nil {
			return nil, fmt.Errorf("error reading run: %w", err)
		}

		r.CreatedAt = time.Unix(0, created)
		runs = append(runs, r)
	}

	return runs, rows.Err()
}
