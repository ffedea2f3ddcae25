// Package index keeps a queryable record of every stored artifact in
// SQLite via modernc.org/sqlite (pure Go). The blob store holds the
// bytes; the index holds the metadata the read path lists.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/snapstash/snapstash/pkg/models"
)

// Index is a SQLite-backed capture record store.
type Index struct {
	db *sql.DB
}

// Open opens or creates the index database. Use ":memory:" for testing.
func Open(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("index: open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: ping database: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS captures (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			object_key  TEXT NOT NULL,
			target_url  TEXT NOT NULL,
			width       INTEGER NOT NULL,
			height      INTEGER NOT NULL,
			full_page   INTEGER NOT NULL DEFAULT 0,
			created_at  DATETIME NOT NULL
		);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: create table: %w", err)
	}

	createIndexSQL := `
		CREATE INDEX IF NOT EXISTS idx_captures_user_id ON captures(user_id, created_at);
	`
	if _, err := db.Exec(createIndexSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: create index: %w", err)
	}

	return &Index{db: db}, nil
}

// Record persists one capture record. A missing id gets a fresh UUID.
func (i *Index) Record(ctx context.Context, rec models.CaptureRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO captures (id, user_id, object_key, target_url, width, height, full_page, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := i.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		rec.ObjectKey,
		rec.TargetURL,
		rec.Width,
		rec.Height,
		boolToInt(rec.FullPage),
		rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("index: record capture: %w", err)
	}
	return nil
}

// ListByUser returns the user's most recent capture records, newest first.
func (i *Index) ListByUser(ctx context.Context, userID string, limit int) ([]models.CaptureRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, object_key, target_url, width, height, full_page, created_at
		FROM captures
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := i.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("index: list captures: %w", err)
	}
	defer rows.Close()

	var records []models.CaptureRecord
	for rows.Next() {
		var rec models.CaptureRecord
		var fullPage int
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ObjectKey, &rec.TargetURL, &rec.Width, &rec.Height, &fullPage, &createdAt); err != nil {
			return nil, fmt.Errorf("index: scan capture: %w", err)
		}
		rec.FullPage = fullPage != 0
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			rec.CreatedAt = ts
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: iterate captures: %w", err)
	}
	return records, nil
}

func (i *Index) Close() error {
	return i.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
