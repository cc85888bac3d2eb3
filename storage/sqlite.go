package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"ewintr.nl/scribe/model"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS extraction (
id TEXT PRIMARY KEY,
requester TEXT NOT NULL DEFAULT '',
url TEXT NOT NULL,
platform TEXT NOT NULL,
video_id TEXT NOT NULL,
title TEXT NOT NULL DEFAULT '',
duration REAL NOT NULL DEFAULT 0,
thumbnail_url TEXT NOT NULL DEFAULT '',
transcript TEXT NOT NULL DEFAULT '{}',
status TEXT NOT NULL,
error_message TEXT NOT NULL DEFAULT '',
created_at INTEGER NOT NULL,
updated_at INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS usage_count (
key TEXT NOT NULL,
day TEXT NOT NULL,
count INTEGER NOT NULL DEFAULT 0,
PRIMARY KEY (key, day)
)`,
}

// SQLite runs the service on a single file, no database server needed.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc sqlite allows one writer at a time
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	for _, query := range sqliteSchema {
		if _, err := db.Exec(query); err != nil {
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Save(ctx context.Context, extraction *model.Extraction) error {
	transcript, err := json.Marshal(extraction.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
INSERT INTO extraction
(id, requester, url, platform, video_id, title, duration, thumbnail_url, transcript, status, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
title = excluded.title,
duration = excluded.duration,
thumbnail_url = excluded.thumbnail_url,
transcript = excluded.transcript,
status = excluded.status,
error_message = excluded.error_message,
updated_at = excluded.updated_at`,
		extraction.ID.String(), extraction.Requester, extraction.Video.RawURL, string(extraction.Video.Platform),
		extraction.Video.ID, extraction.Metadata.Title, extraction.Metadata.Duration,
		extraction.Metadata.ThumbnailURL, string(transcript), string(extraction.Status), extraction.ErrorMessage,
		extraction.CreatedAt.UnixMilli(), extraction.UpdatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}

	return nil
}

func (s *SQLite) Find(ctx context.Context, id uuid.UUID) (*model.Extraction, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, requester, url, platform, video_id, title, duration, thumbnail_url, transcript, status, error_message, created_at, updated_at
FROM extraction
WHERE id = ?`, id.String())

	var (
		extraction           model.Extraction
		rawID, transcript    string
		platform, status     string
		createdAt, updatedAt int64
	)
	err := row.Scan(&rawID, &extraction.Requester, &extraction.Video.RawURL, &platform,
		&extraction.Video.ID, &extraction.Metadata.Title, &extraction.Metadata.Duration,
		&extraction.Metadata.ThumbnailURL, &transcript, &status, &extraction.ErrorMessage,
		&createdAt, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("extraction %s: %w", id, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("find extraction: %w", err)
	}

	extraction.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse extraction id: %w", err)
	}
	if err := json.Unmarshal([]byte(transcript), &extraction.Transcript); err != nil {
		return nil, fmt.Errorf("unmarshal transcript: %w", err)
	}
	extraction.Video.Platform = model.Platform(platform)
	extraction.Status = model.ExtractionStatus(status)
	extraction.CreatedAt = time.UnixMilli(createdAt).UTC()
	extraction.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return &extraction, nil
}

func (s *SQLite) Check(ctx context.Context, key string, limit int) (Usage, error) {
	now := time.Now()

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count FROM usage_count WHERE key = ? AND day = ?`,
		key, dayKey(now)).Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Usage{}, fmt.Errorf("check usage: %w", err)
	}

	return usageFor(count, limit, now), nil
}

func (s *SQLite) Increment(ctx context.Context, key string, limit int) (Usage, error) {
	now := time.Now()

	if limit <= 0 {
		if _, err := s.db.ExecContext(ctx, `
INSERT INTO usage_count (key, day, count) VALUES (?, ?, 1)
ON CONFLICT (key, day) DO UPDATE SET count = count + 1`,
			key, dayKey(now)); err != nil {
			return Usage{}, fmt.Errorf("increment usage: %w", err)
		}

		return usageFor(0, limit, now), nil
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
INSERT INTO usage_count (key, day, count) VALUES (?, ?, 1)
ON CONFLICT (key, day) DO UPDATE SET count = count + 1
WHERE count < ?
RETURNING count`,
		key, dayKey(now), limit).Scan(&count)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return usageFor(limit, limit, now), fmt.Errorf("key %s: %w", key, ErrLimitReached)
	case err != nil:
		return Usage{}, fmt.Errorf("increment usage: %w", err)
	}

	return usageFor(count, limit, now), nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
