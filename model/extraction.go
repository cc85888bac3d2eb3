package model

import (
	"time"

	"github.com/google/uuid"
)

type ExtractionStatus string

const (
	StatusPending    ExtractionStatus = "pending"
	StatusProcessing ExtractionStatus = "processing"
	StatusCompleted  ExtractionStatus = "completed"
	StatusFailed     ExtractionStatus = "failed"
)

// Extraction is one transcript extraction run. Requester is empty for
// guest runs.
type Extraction struct {
	ID           uuid.UUID        `json:"id"`
	Requester    string           `json:"requester,omitempty"`
	Video        VideoReference   `json:"video"`
	Metadata     VideoMetadata    `json:"metadata"`
	Transcript   Transcript       `json:"transcript"`
	Status       ExtractionStatus `json:"status"`
	ErrorMessage string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
