package transcriber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"ewintr.nl/scribe/model"
)

// DefaultMaxUploadBytes is the upload ceiling of the transcription
// endpoint.
const DefaultMaxUploadBytes = 25 << 20

var allowedExtensions = map[string]bool{
	".flac": true,
	".m4a":  true,
	".mp3":  true,
	".mp4":  true,
	".mpeg": true,
	".mpga": true,
	".oga":  true,
	".ogg":  true,
	".wav":  true,
	".webm": true,
}

type Options struct {
	Language    string  // empty lets the engine detect it
	MaxDuration float64 // seconds, 0 means no cap
}

type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxUploadBytes int64
	Timeout        time.Duration // 0 means no upper bound
}

// OpenAI adapts the OpenAI speech-to-text endpoint to the transcript
// model.
type OpenAI struct {
	client         *openai.Client
	model          string
	maxUploadBytes int64
	timeout        time.Duration
	logger         *slog.Logger
}

func NewOpenAI(cfg Config, logger *slog.Logger) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}

	return &OpenAI{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		maxUploadBytes: cfg.MaxUploadBytes,
		timeout:        cfg.Timeout,
		logger:         logger,
	}
}

// Transcribe runs speech recognition on the artifact. With a MaxDuration
// the transcript is cut off there, segment timestamps stay intact.
func (o *OpenAI) Transcribe(ctx context.Context, artifact *model.AudioArtifact, opts Options) (model.Transcript, error) {
	if err := o.precheck(artifact.Path); err != nil {
		return model.Transcript{}, err
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.model,
		FilePath: artifact.Path,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: opts.Language,
	})
	if err != nil {
		return model.Transcript{}, classify(err)
	}

	transcript := normalize(resp)
	if opts.MaxDuration > 0 {
		transcript = transcript.Truncate(opts.MaxDuration)
	}

	return transcript, nil
}

// Available probes the engine with a cheap authenticated call.
func (o *OpenAI) Available(ctx context.Context) bool {
	_, err := o.client.ListModels(ctx)

	return err == nil
}

func (o *OpenAI) precheck(path string) error {
	if ext := strings.ToLower(filepath.Ext(path)); !allowedExtensions[ext] {
		return model.NewError(model.KindUnsupportedFormat, fmt.Sprintf("%s files cannot be transcribed", ext))
	}

	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat audio file: %w", err)
	}
	if fi.Size() > o.maxUploadBytes {
		return model.NewError(model.KindFileTooLarge, fmt.Sprintf("audio file is %d bytes, the engine takes at most %d", fi.Size(), o.maxUploadBytes))
	}

	return nil
}

// normalize maps an engine response onto the transcript model. The full
// text is rebuilt from the segments so the join property always holds. An
// answer with text but no segments gets one synthesized segment, its end
// is the reported audio duration when the engine knows it.
func normalize(resp openai.AudioResponse) model.Transcript {
	segments := make([]model.TranscriptSegment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, model.TranscriptSegment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		})
	}
	if len(segments) == 0 && strings.TrimSpace(resp.Text) != "" {
		segments = append(segments, model.TranscriptSegment{
			Start: 0,
			End:   resp.Duration,
			Text:  strings.TrimSpace(resp.Text),
		})
	}

	transcript := model.NewTranscript(segments)
	transcript.Language = resp.Language
	transcript.Duration = resp.Duration

	return transcript
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized:
			return model.WrapError(model.KindInvalidCredentials, "the engine rejected the api key", err)
		case http.StatusTooManyRequests:
			return model.WrapError(model.KindEngineQuotaExceeded, "the engine quota is used up", err)
		case http.StatusRequestEntityTooLarge:
			return model.WrapError(model.KindFileTooLarge, "the engine rejected the upload size", err)
		case http.StatusBadRequest, http.StatusUnsupportedMediaType:
			return model.WrapError(model.KindUnsupportedFormat, apiErr.Message, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.WrapError(model.KindTimeout, "transcription timed out", err)
	}

	return model.WrapError(model.KindTranscriptionFailed, "transcription failed", err)
}
