package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"ewintr.nl/scribe/model"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrLimitReached = errors.New("usage limit reached")
)

type ExtractionRepository interface {
	Save(ctx context.Context, extraction *model.Extraction) error
	Find(ctx context.Context, id uuid.UUID) (*model.Extraction, error)
}

// Usage is the state of one daily counter. Remaining is -1 when the
// counter is unlimited.
type Usage struct {
	CanProceed bool      `json:"can_proceed"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
}

// UsageStore keeps day-scoped counters per requester key. A limit of zero
// or less means unlimited. Increment performs read, check and increment as
// one atomic step and fails with ErrLimitReached when the counter is full,
// so two racing calls can never both take the last slot. The Usage it
// returns describes the state after the increment.
type UsageStore interface {
	Check(ctx context.Context, key string, limit int) (Usage, error)
	Increment(ctx context.Context, key string, limit int) (Usage, error)
}

// TranscriptIndex holds completed transcripts for semantic search.
type TranscriptIndex interface {
	Index(ctx context.Context, extraction *model.Extraction) error
}

// NextReset is the coming UTC midnight, when all daily counters start
// over.
func NextReset(now time.Time) time.Time {
	now = now.UTC()

	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

func dayKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

func usageFor(count, limit int, now time.Time) Usage {
	reset := NextReset(now)
	if limit <= 0 {
		return Usage{CanProceed: true, Remaining: -1, ResetAt: reset}
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Usage{CanProceed: remaining > 0, Remaining: remaining, ResetAt: reset}
}
