// Package db keeps an audit trail of training runs, data quality issues
// and served predictions in SQLite.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"pcosdx/ml"
	"pcosdx/pipeline"
)

var ErrClosed = errors.New("database not initialized")

// Store is a SQLite-backed audit store. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	database, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	database.SetMaxOpenConns(1)

	s := &Store{db: database, now: time.Now}
	if err := s.createTables(); err != nil {
		database.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS training_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL UNIQUE,
            artifact_path TEXT NOT NULL,
            source TEXT,
            rows INTEGER NOT NULL,
            features INTEGER NOT NULL,
            accuracy REAL,
            precision REAL,
            recall REAL,
            f1 REAL,
            seed INTEGER,
            trained_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS data_quality (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            issue_type TEXT NOT NULL,
            severity TEXT NOT NULL,
            column_name TEXT,
            count INTEGER NOT NULL,
            message TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS predictions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            prediction_id TEXT NOT NULL UNIQUE,
            label INTEGER NOT NULL,
            confidence REAL NOT NULL,
            features TEXT,
            created_at DATETIME NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_quality_run ON data_quality(run_id)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("exec query failed: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// TrainingRun is one row of training_log.
type TrainingRun struct {
	RunID        string    `json:"run_id"`
	ArtifactPath string    `json:"artifact_path"`
	Source       string    `json:"source"`
	Rows         int       `json:"rows"`
	Features     int       `json:"features"`
	Accuracy     float64   `json:"accuracy"`
	Precision    float64   `json:"precision"`
	Recall       float64   `json:"recall"`
	F1           float64   `json:"f1"`
	Seed         int64     `json:"seed"`
	TrainedAt    time.Time `json:"trained_at"`
}

// NewTrainingRun describes a trained artifact saved at path.
func NewTrainingRun(path string, a *ml.Artifact) TrainingRun {
	run := TrainingRun{
		RunID:        uuid.NewString(),
		ArtifactPath: path,
		Source:       a.Metadata.Source,
		Rows:         a.Metadata.Rows,
		Features:     a.Schema.Len(),
		Seed:         a.Metadata.Seed,
		TrainedAt:    a.Metadata.TrainedAt,
	}
	if r := a.Metadata.Report; r != nil {
		run.Accuracy, run.Precision, run.Recall, run.F1 = r.Accuracy, r.Precision, r.Recall, r.F1
	}
	return run
}

// SaveTrainingRun records a run and the quality issues found while
// preparing its dataset, in one transaction.
func (s *Store) SaveTrainingRun(ctx context.Context, run TrainingRun, issues []pipeline.QualityIssue) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.TrainedAt.IsZero() {
		run.TrainedAt = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO training_log (
            run_id, artifact_path, source, rows, features,
            accuracy, precision, recall, f1, seed, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.ArtifactPath, run.Source, run.Rows, run.Features,
		run.Accuracy, run.Precision, run.Recall, run.F1, run.Seed, run.TrainedAt)
	if err != nil {
		return err
	}

	if len(issues) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO data_quality (run_id, issue_type, severity, column_name, count, message)
            VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, issue := range issues {
			if _, err := stmt.ExecContext(ctx, run.RunID, issue.Type, issue.Severity, issue.Column, issue.Count, issue.Message); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// LoadTrainingLog returns up to limit runs, newest first. limit <= 0
// returns all.
func (s *Store) LoadTrainingLog(ctx context.Context, limit int) ([]TrainingRun, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT run_id, artifact_path, source, rows, features,
               accuracy, precision, recall, f1, seed, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]TrainingRun, 0)
	for rows.Next() {
		var r TrainingRun
		var source sql.NullString
		if err := rows.Scan(&r.RunID, &r.ArtifactPath, &source, &r.Rows, &r.Features,
			&r.Accuracy, &r.Precision, &r.Recall, &r.F1, &r.Seed, &r.TrainedAt); err != nil {
			return nil, err
		}
		r.Source = source.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LoadQualityIssues returns the issues recorded for a run.
func (s *Store) LoadQualityIssues(ctx context.Context, runID string) ([]pipeline.QualityIssue, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT issue_type, severity, column_name, count, message
        FROM data_quality
        WHERE run_id = ?
        ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []pipeline.QualityIssue
	for rows.Next() {
		var issue pipeline.QualityIssue
		var column, message sql.NullString
		if err := rows.Scan(&issue.Type, &issue.Severity, &column, &issue.Count, &message); err != nil {
			return nil, err
		}
		issue.Column, issue.Message = column.String, message.String
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// SavePrediction stores a served prediction with the record it was made
// from and returns its id.
func (s *Store) SavePrediction(ctx context.Context, pred ml.Prediction, record ml.Record) (string, error) {
	if s == nil || s.db == nil {
		return "", ErrClosed
	}
	features, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO predictions (prediction_id, label, confidence, features, created_at)
        VALUES (?, ?, ?, ?, ?)`,
		id, pred.Label, pred.Confidence, string(features), s.now().UTC())
	if err != nil {
		return "", err
	}
	return id, nil
}

// CountPredictions returns the number of stored predictions.
func (s *Store) CountPredictions(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&n)
	return n, err
}
