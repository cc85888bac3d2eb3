package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ewintr.nl/scribe/model"
	"ewintr.nl/scribe/progress"
	"ewintr.nl/scribe/resolver"
	"ewintr.nl/scribe/storage"
	"ewintr.nl/scribe/transcriber"
)

// rough per-second-of-video cost of each step, for progress estimates
const (
	downloadETAFactor   = 0.1
	transcribeETAFactor = 0.2
)

// Acquirer fetches metadata and audio for a resolved video.
type Acquirer interface {
	Probe(ctx context.Context, ref model.VideoReference) (model.VideoMetadata, error)
	Acquire(ctx context.Context, ref model.VideoReference) (*model.AudioArtifact, error)
	Available(ctx context.Context) bool
}

// Engine turns an audio artifact into a transcript.
type Engine interface {
	Transcribe(ctx context.Context, artifact *model.AudioArtifact, opts transcriber.Options) (model.Transcript, error)
	Available(ctx context.Context) bool
}

// Notifier receives stage events. Publishing must not block.
type Notifier interface {
	Publish(ev progress.Event)
}

// ResultError is a run that ended before producing anything renderable.
type ResultError struct {
	Kind    model.Kind     `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Result is the outcome of one extraction run. Either Extraction or Err is
// set. A failed run can still carry an extraction: acquisition and
// transcription failures produce a placeholder transcript so the caller
// always has something to render. Guest holds the remaining quota on guest
// runs.
type Result struct {
	Extraction *model.Extraction `json:"extraction,omitempty"`
	Guest      *storage.Usage    `json:"guest_info,omitempty"`
	Err        *ResultError      `json:"error,omitempty"`
}

func (r Result) OK() bool { return r.Err == nil }

type Dependencies struct {
	Acquirer Acquirer
	Engine   Engine
	Usage    storage.UsageStore
	Repo     storage.ExtractionRepository
	Indexer  *Indexer // optional
	Notifier Notifier // optional
}

// Orchestrator drives one extraction through validating, policy check,
// acquisition, transcription and finalizing. Runs are independent, the only
// state shared between them lives in the usage store.
type Orchestrator struct {
	acquirer Acquirer
	engine   Engine
	usage    storage.UsageStore
	repo     storage.ExtractionRepository
	indexer  *Indexer
	notifier Notifier
	policy   Policy
	metrics  *Metrics
	logger   *slog.Logger
}

func NewOrchestrator(deps Dependencies, policy Policy, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		acquirer: deps.Acquirer,
		engine:   deps.Engine,
		usage:    deps.Usage,
		repo:     deps.Repo,
		indexer:  deps.Indexer,
		notifier: deps.Notifier,
		policy:   policy,
		metrics:  &Metrics{},
		logger:   logger,
	}
}

type request struct {
	rawURL    string
	requester string // empty for guests
	quotaKey  string
	limit     int
	maxDur    float64 // seconds, 0 means no cap
	language  string
}

// ExtractGuest runs an extraction for an anonymous visitor, keyed by client
// IP. Guests get a daily quota and a video duration cap, the transcript is
// cut off at the cap.
func (o *Orchestrator) ExtractGuest(ctx context.Context, rawURL, clientIP string) Result {
	return o.run(ctx, request{
		rawURL:   rawURL,
		quotaKey: "ip:" + clientIP,
		limit:    o.policy.GuestDailyLimit,
		maxDur:   o.policy.GuestMaxDuration,
	})
}

// ExtractAuthenticated runs an extraction for a known user. The daily limit
// depends on the tier, there is no duration cap and the full video is
// transcribed.
func (o *Orchestrator) ExtractAuthenticated(ctx context.Context, rawURL, userID, tier, language string) Result {
	return o.run(ctx, request{
		rawURL:    rawURL,
		requester: userID,
		quotaKey:  "user:" + userID,
		limit:     o.policy.LimitFor(tier),
		language:  language,
	})
}

func (o *Orchestrator) run(ctx context.Context, req request) Result {
	o.metrics.Started.Add(1)
	id := uuid.New()

	o.notify(id, progress.StageValidating, "resolving video url", 0)
	ref, err := resolver.Resolve(req.rawURL)
	if err != nil {
		return o.reject(id, err, nil)
	}

	o.notify(id, progress.StagePolicyCheck, "checking usage limits", 0)
	if req.limit > 0 {
		usage, err := o.usage.Check(ctx, req.quotaKey, req.limit)
		if err != nil {
			return o.reject(id, model.WrapError(model.KindDependencyUnavailable, "usage store is unavailable", err), nil)
		}
		if !usage.CanProceed {
			o.metrics.QuotaRejected.Add(1)

			return o.reject(id, model.NewError(model.KindQuotaExceeded, "daily extraction limit reached"), quotaDetails(usage))
		}
	}

	now := time.Now()
	extraction := &model.Extraction{
		ID:        id,
		Requester: req.requester,
		Video:     ref,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	o.notify(id, progress.StageAcquiring, "fetching video metadata", 0)
	extraction.Status = model.StatusProcessing
	md, err := o.acquirer.Probe(ctx, ref)
	if err != nil {
		return o.fallback(ctx, extraction, err)
	}
	extraction.Metadata = md

	if req.maxDur > 0 && md.Duration > req.maxDur {
		o.metrics.DurationRejected.Add(1)
		err := model.NewError(model.KindDurationExceeded, fmt.Sprintf("video is %.0f seconds, the cap is %.0f", md.Duration, req.maxDur))

		return o.reject(id, err, map[string]any{
			"duration": md.Duration,
			"limit":    req.maxDur,
		})
	}

	o.notify(id, progress.StageAcquiring, "downloading audio", md.Duration*downloadETAFactor)
	o.metrics.Downloads.Add(1)
	artifact, err := o.acquirer.Acquire(ctx, ref)
	if err != nil {
		o.metrics.DownloadErrors.Add(1)

		return o.fallback(ctx, extraction, err)
	}
	defer artifact.Release()

	o.notify(id, progress.StageTranscribing, "transcribing audio", md.Duration*transcribeETAFactor)
	o.metrics.Transcriptions.Add(1)
	transcript, err := o.engine.Transcribe(ctx, artifact, transcriber.Options{
		Language:    req.language,
		MaxDuration: req.maxDur,
	})
	if err != nil {
		o.metrics.TranscriptionErrors.Add(1)

		return o.fallback(ctx, extraction, err)
	}
	extraction.Transcript = transcript

	o.notify(id, progress.StageFinalizing, "recording the run", 0)
	usage, err := o.usage.Increment(ctx, req.quotaKey, req.limit)
	switch {
	case errors.Is(err, storage.ErrLimitReached):
		// a concurrent run took the last slot while this one was working
		o.metrics.QuotaRejected.Add(1)
		extraction.Status = model.StatusFailed
		extraction.ErrorMessage = "daily extraction limit reached"
		extraction.Transcript = model.Transcript{}
		o.persist(ctx, extraction)
		o.metrics.Failed.Add(1)

		return o.reject(id, model.NewError(model.KindQuotaExceeded, "daily extraction limit reached"), quotaDetails(usage))
	case err != nil:
		o.logger.Warn("cannot record usage", slog.String("key", req.quotaKey), slog.Any("error", err))
	}

	extraction.Status = model.StatusCompleted
	o.persist(ctx, extraction)
	if o.indexer != nil {
		o.indexer.Enqueue(extraction)
	}
	o.metrics.Completed.Add(1)
	o.logger.Info("extraction completed", slog.String("extraction", id.String()), slog.String("url", ref.RawURL), slog.Int("segments", len(transcript.Segments)))
	o.notify(id, progress.StageCompleted, "transcript ready", 0)

	result := Result{Extraction: extraction}
	if req.requester == "" && err == nil {
		result.Guest = &usage
	}

	return result
}

// Ready probes the external dependencies for health reporting.
func (o *Orchestrator) Ready(ctx context.Context) map[string]bool {
	return map[string]bool{
		"downloader":    o.acquirer.Available(ctx),
		"transcription": o.engine.Available(ctx),
	}
}

func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

// reject ends a run that produced nothing renderable. Quota and duration
// rejections are user-facing outcomes, not system failures, so nothing is
// persisted and nothing is logged above Info.
func (o *Orchestrator) reject(id uuid.UUID, err error, details map[string]any) Result {
	o.metrics.Rejected.Add(1)

	msg := err.Error()
	var mErr *model.Error
	if errors.As(err, &mErr) {
		msg = mErr.Message
	}
	o.logger.Info("extraction rejected", slog.String("extraction", id.String()), slog.String("kind", string(model.KindOf(err))), slog.String("reason", msg))
	o.notify(id, progress.StageFailed, msg, 0)

	return Result{Err: &ResultError{
		Kind:    model.KindOf(err),
		Message: msg,
		Details: details,
	}}
}

// fallback converts an acquisition or transcription failure into a
// placeholder transcript, so the caller still gets something to render. The
// run counts as failed and costs no quota.
func (o *Orchestrator) fallback(ctx context.Context, extraction *model.Extraction, err error) Result {
	o.metrics.Fallbacks.Add(1)

	msg := err.Error()
	var mErr *model.Error
	if errors.As(err, &mErr) {
		msg = mErr.Message
	}

	transcript := model.NewTranscript([]model.TranscriptSegment{{
		Start: 0,
		End:   extraction.Metadata.Duration,
		Text:  fmt.Sprintf("extraction failed: %s", msg),
	}})
	transcript.Duration = extraction.Metadata.Duration
	extraction.Transcript = transcript
	extraction.Status = model.StatusFailed
	extraction.ErrorMessage = msg

	o.logger.Error("extraction failed", slog.String("extraction", extraction.ID.String()), slog.String("url", extraction.Video.RawURL), slog.Any("error", err))
	o.persist(ctx, extraction)
	o.metrics.Failed.Add(1)
	o.notify(extraction.ID, progress.StageFailed, msg, 0)

	return Result{Extraction: extraction}
}

// persist saves the extraction record. Save failures do not fail the run,
// the transcript is already in hand.
func (o *Orchestrator) persist(ctx context.Context, extraction *model.Extraction) {
	extraction.UpdatedAt = time.Now()
	if err := o.repo.Save(ctx, extraction); err != nil {
		o.metrics.SaveErrors.Add(1)
		o.logger.Warn("cannot save extraction", slog.String("extraction", extraction.ID.String()), slog.Any("error", err))
	}
}

func (o *Orchestrator) notify(id uuid.UUID, stage progress.Stage, detail string, eta float64) {
	if o.notifier == nil {
		return
	}
	o.notifier.Publish(progress.Event{
		ExtractionID: id,
		Stage:        stage,
		Detail:       detail,
		ETASeconds:   eta,
		At:           time.Now(),
	})
}

func quotaDetails(usage storage.Usage) map[string]any {
	return map[string]any{
		"remaining": usage.Remaining,
		"reset_at":  usage.ResetAt,
	}
}
