package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"ewintr.nl/scribe/model"
)

type PostgresInfo struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

type Postgres struct {
	db *sql.DB
}

func NewPostgres(info PostgresInfo) (*Postgres, error) {
	db, err := sql.Open("postgres", fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		info.Host, info.Port, info.User, info.Password, info.Database))
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.migrate(pgMigration); err != nil {
		return nil, err
	}

	return p, nil
}

var pgMigration = []string{
	`CREATE TABLE extraction (
id uuid PRIMARY KEY,
requester VARCHAR(255) NOT NULL DEFAULT '',
url VARCHAR(1024) NOT NULL,
platform VARCHAR(32) NOT NULL,
video_id VARCHAR(255) NOT NULL,
title VARCHAR(1024) NOT NULL DEFAULT '',
duration DOUBLE PRECISION NOT NULL DEFAULT 0,
thumbnail_url VARCHAR(1024) NOT NULL DEFAULT '',
transcript JSONB NOT NULL DEFAULT '{}',
status VARCHAR(32) NOT NULL,
error_message TEXT NOT NULL DEFAULT '',
created_at TIMESTAMPTZ NOT NULL,
updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE usage_count (
key VARCHAR(255) NOT NULL,
day DATE NOT NULL,
count INTEGER NOT NULL DEFAULT 0,
PRIMARY KEY (key, day)
)`,
	`CREATE INDEX extraction_requester_idx ON extraction (requester)`,
	`CREATE INDEX extraction_video_idx ON extraction (platform, video_id)`,
}

func (p *Postgres) Save(ctx context.Context, extraction *model.Extraction) error {
	transcript, err := json.Marshal(extraction.Transcript)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, `
INSERT INTO extraction
(id, requester, url, platform, video_id, title, duration, thumbnail_url, transcript, status, error_message, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
title = EXCLUDED.title,
duration = EXCLUDED.duration,
thumbnail_url = EXCLUDED.thumbnail_url,
transcript = EXCLUDED.transcript,
status = EXCLUDED.status,
error_message = EXCLUDED.error_message,
updated_at = EXCLUDED.updated_at`,
		extraction.ID, extraction.Requester, extraction.Video.RawURL, extraction.Video.Platform,
		extraction.Video.ID, extraction.Metadata.Title, extraction.Metadata.Duration,
		extraction.Metadata.ThumbnailURL, transcript, extraction.Status, extraction.ErrorMessage,
		extraction.CreatedAt, extraction.UpdatedAt); err != nil {
		return fmt.Errorf("save extraction: %w", err)
	}

	return nil
}

func (p *Postgres) Find(ctx context.Context, id uuid.UUID) (*model.Extraction, error) {
	row := p.db.QueryRowContext(ctx, `
SELECT id, requester, url, platform, video_id, title, duration, thumbnail_url, transcript, status, error_message, created_at, updated_at
FROM extraction
WHERE id = $1`, id)

	var (
		extraction model.Extraction
		transcript []byte
	)
	err := row.Scan(&extraction.ID, &extraction.Requester, &extraction.Video.RawURL,
		&extraction.Video.Platform, &extraction.Video.ID, &extraction.Metadata.Title,
		&extraction.Metadata.Duration, &extraction.Metadata.ThumbnailURL, &transcript,
		&extraction.Status, &extraction.ErrorMessage, &extraction.CreatedAt, &extraction.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("extraction %s: %w", id, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("find extraction: %w", err)
	}
	if err := json.Unmarshal(transcript, &extraction.Transcript); err != nil {
		return nil, fmt.Errorf("unmarshal transcript: %w", err)
	}

	return &extraction, nil
}

func (p *Postgres) Check(ctx context.Context, key string, limit int) (Usage, error) {
	now := time.Now()

	var count int
	err := p.db.QueryRowContext(ctx, `SELECT count FROM usage_count WHERE key = $1 AND day = $2`,
		key, dayKey(now)).Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Usage{}, fmt.Errorf("check usage: %w", err)
	}

	return usageFor(count, limit, now), nil
}

func (p *Postgres) Increment(ctx context.Context, key string, limit int) (Usage, error) {
	now := time.Now()

	if limit <= 0 {
		if _, err := p.db.ExecContext(ctx, `
INSERT INTO usage_count (key, day, count) VALUES ($1, $2, 1)
ON CONFLICT (key, day) DO UPDATE SET count = usage_count.count + 1`,
			key, dayKey(now)); err != nil {
			return Usage{}, fmt.Errorf("increment usage: %w", err)
		}

		return usageFor(0, limit, now), nil
	}

	// the WHERE clause makes this a no-op on a full counter, so check and
	// increment happen in one atomic statement
	var count int
	err := p.db.QueryRowContext(ctx, `
INSERT INTO usage_count (key, day, count) VALUES ($1, $2, 1)
ON CONFLICT (key, day) DO UPDATE SET count = usage_count.count + 1
WHERE usage_count.count < $3
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

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) migrate(wanted []string) error {
	query := `CREATE TABLE IF NOT EXISTS migration
("id" SERIAL PRIMARY KEY, "query" TEXT)`
	_, err := p.db.Exec(query)
	if err != nil {
		return err
	}

	// find existing
	rows, err := p.db.Query(`SELECT query FROM migration ORDER BY id`)
	if err != nil {
		return err
	}

	existing := []string{}
	for rows.Next() {
		var query string
		if err := rows.Scan(&query); err != nil {
			return err
		}
		existing = append(existing, query)
	}
	rows.Close()

	// compare
	missing, err := compareMigrations(wanted, existing)
	if err != nil {
		return err
	}

	// execute missing
	for _, query := range missing {
		if _, err := p.db.Exec(query); err != nil {
			return err
		}

		// register
		if _, err := p.db.Exec(`
INSERT INTO migration
(query) VALUES ($1)
`, query); err != nil {
			return err
		}
	}

	return nil
}

func compareMigrations(wanted, existing []string) ([]string, error) {
	needed := []string{}
	if len(wanted) < len(existing) {
		return []string{}, fmt.Errorf("not enough migrations")
	}

	for i, want := range wanted {
		switch {
		case i >= len(existing):
			needed = append(needed, want)
		case want == existing[i]:
			// do nothing
		case want != existing[i]:
			return []string{}, fmt.Errorf("incompatible migration: %v", want)
		}
	}

	return needed, nil
}
