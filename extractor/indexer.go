package extractor

import (
	"context"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"ewintr.nl/scribe/model"
	"ewintr.nl/scribe/storage"
)

const indexQueueSize = 64

// Indexer feeds completed transcripts to the search index without holding
// up extraction runs.
type Indexer struct {
	index  storage.TranscriptIndex
	queue  chan *model.Extraction
	logger *slog.Logger
}

func NewIndexer(index storage.TranscriptIndex, logger *slog.Logger) *Indexer {
	return &Indexer{
		index:  index,
		queue:  make(chan *model.Extraction, indexQueueSize),
		logger: logger,
	}
}

// Enqueue offers an extraction to the queue. Indexing is best effort, on a
// full queue the extraction is skipped.
func (ix *Indexer) Enqueue(extraction *model.Extraction) {
	select {
	case ix.queue <- extraction:
	default:
		ix.logger.Debug("index queue full, skipping transcript", slog.String("extraction", extraction.ID.String()))
	}
}

// Run consumes the queue until the context is canceled.
func (ix *Indexer) Run(ctx context.Context) {
	ix.logger.Info("transcript indexer started")
	for {
		select {
		case <-ctx.Done():
			ix.logger.Info("transcript indexer stopped")

			return
		case extraction := <-ix.queue:
			op := func() error {
				return ix.index.Index(ctx, extraction)
			}
			bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
			if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
				ix.logger.Warn("cannot index transcript", slog.String("extraction", extraction.ID.String()), slog.Any("error", err))

				continue
			}
			ix.logger.Debug("transcript indexed", slog.String("extraction", extraction.ID.String()))
		}
	}
}
