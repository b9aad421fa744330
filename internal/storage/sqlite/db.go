package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"riskapi/internal/domain"
	"riskapi/internal/storage"
)

// Store keeps prediction records in a local SQLite file using the same
// columns as the hosted predictions table.
type Store struct {
	db *sql.DB
}

func InitDB(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS predictions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id     TEXT DEFAULT '',
		model_name  TEXT NOT NULL,
		input       TEXT NOT NULL DEFAULT '{}',
		prediction  INTEGER NOT NULL,
		probability REAL NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_predictions_model ON predictions(model_name);
	CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InsertPrediction(ctx context.Context, rec domain.PredictionRecord) error {
	input, err := json.Marshal(rec.Input)
	if err != nil {
		return fmt.Errorf("encoding input: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO predictions (user_id, model_name, input, prediction, probability, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.ModelName, string(input), rec.Prediction, rec.Probability, createdAt,
	)
	return err
}

func (s *Store) Probabilities(ctx context.Context, f storage.Filter) ([]float64, error) {
	query := `SELECT probability FROM predictions`
	var args []any
	if f.Domain != "" {
		query += ` WHERE model_name = ?`
		args = append(args, string(f.Domain))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
