package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ewintr.nl/scribe/model"
)

// Memory keeps everything in process memory. It backs tests and makes the
// service runnable without any database.
type Memory struct {
	mu          sync.Mutex
	extractions map[uuid.UUID]model.Extraction
	counts      map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		extractions: map[uuid.UUID]model.Extraction{},
		counts:      map[string]int{},
	}
}

func (m *Memory) Save(_ context.Context, extraction *model.Extraction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.extractions[extraction.ID] = *extraction

	return nil
}

func (m *Memory) Find(_ context.Context, id uuid.UUID) (*model.Extraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	extraction, ok := m.extractions[id]
	if !ok {
		return nil, fmt.Errorf("extraction %s: %w", id, ErrNotFound)
	}

	return &extraction, nil
}

func (m *Memory) Check(_ context.Context, key string, limit int) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	return usageFor(m.counts[m.countKey(key, now)], limit, now), nil
}

func (m *Memory) Increment(_ context.Context, key string, limit int) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	ck := m.countKey(key, now)
	count := m.counts[ck]
	if limit > 0 && count >= limit {
		return usageFor(count, limit, now), fmt.Errorf("key %s: %w", key, ErrLimitReached)
	}
	m.counts[ck] = count + 1

	return usageFor(count+1, limit, now), nil
}

func (m *Memory) countKey(key string, now time.Time) string {
	return fmt.Sprintf("%s|%s", key, dayKey(now))
}
