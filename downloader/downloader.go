package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"ewintr.nl/scribe/model"
)

const (
	defaultBin     = "yt-dlp"
	defaultTimeout = 5 * time.Minute
)

// Runner executes an external command, keeping stdout and stderr apart so
// metadata output stays parseable.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var outBuf, errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()

	return outBuf.Bytes(), errBuf.Bytes(), err
}

// MetadataFetcher is an optional faster metadata source consulted before
// spawning the downloader binary. Any error falls back to the binary.
type MetadataFetcher interface {
	Fetch(ctx context.Context, ref model.VideoReference) (model.VideoMetadata, error)
}

type Config struct {
	Bin     string
	WorkDir string
	Timeout time.Duration
	Meta    MetadataFetcher
	Runner  Runner
}

// YTDLP drives the yt-dlp binary. It is the single process boundary towards
// the video platforms.
type YTDLP struct {
	bin     string
	workDir string
	timeout time.Duration
	meta    MetadataFetcher
	runner  Runner
	logger  *slog.Logger
}

func NewYTDLP(cfg Config, logger *slog.Logger) *YTDLP {
	if cfg.Bin == "" {
		cfg.Bin = defaultBin
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Runner == nil {
		cfg.Runner = execRunner{}
	}

	return &YTDLP{
		bin:     cfg.Bin,
		workDir: cfg.WorkDir,
		timeout: cfg.Timeout,
		meta:    cfg.Meta,
		runner:  cfg.Runner,
		logger:  logger,
	}
}

// Probe fetches title, duration and thumbnail without downloading anything.
func (d *YTDLP) Probe(ctx context.Context, ref model.VideoReference) (model.VideoMetadata, error) {
	if d.meta != nil {
		md, err := d.meta.Fetch(ctx, ref)
		if err == nil {
			return md, nil
		}
		d.logger.Debug("metadata fast path failed, falling back to yt-dlp", slog.String("url", ref.RawURL), slog.Any("error", err))
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	stdout, stderr, err := d.runner.Run(ctx, d.bin, "--dump-json", "--no-playlist", "--skip-download", ref.RawURL)
	if err != nil {
		return model.VideoMetadata{}, d.classify(ctx, "fetch metadata", err, stderr)
	}

	nfo, err := normalizeInfo(stdout)
	if err != nil {
		return model.VideoMetadata{}, model.WrapError(model.KindDownloadFailed, "cannot read metadata output", err)
	}

	return model.VideoMetadata{
		Title:        nfo.Title,
		Duration:     nfo.Duration,
		ThumbnailURL: nfo.Thumbnail,
	}, nil
}

// Acquire downloads the audio track to a temp file and hands ownership to
// the returned artifact. On any failure the partial file is removed before
// the error is returned.
func (d *YTDLP) Acquire(ctx context.Context, ref model.VideoReference) (*model.AudioArtifact, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	tmp, err := os.CreateTemp(d.workDir, "scribe-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	path := tmp.Name()

	args := []string{
		"--no-playlist",
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", "0",
		"--force-overwrites",
		"--print-json",
		"--output", path,
		ref.RawURL,
	}
	stdout, stderr, err := d.runner.Run(ctx, d.bin, args...)
	if err != nil {
		d.remove(path)

		return nil, d.classify(ctx, "download audio", err, stderr)
	}

	fi, err := os.Stat(path)
	if err != nil || fi.Size() == 0 {
		d.remove(path)

		return nil, model.NewError(model.KindDownloadFailed, "downloader produced no audio file")
	}

	nfo, err := normalizeInfo(stdout)
	if err != nil {
		d.logger.Debug("no metadata in download output", slog.String("url", ref.RawURL), slog.Any("error", err))
	}

	duration, err := mp3Duration(path)
	if err != nil {
		d.logger.Debug("cannot measure mp3 duration", slog.String("path", path), slog.Any("error", err))
	}
	if duration == 0 {
		duration = nfo.Duration
	}

	release := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			d.logger.Warn("cannot remove audio file", slog.String("path", path), slog.Any("error", err))
		}
	}

	return model.NewAudioArtifact(path, duration, nfo.Title, release), nil
}

// Version reports the installed yt-dlp version.
func (d *YTDLP) Version(ctx context.Context) (string, error) {
	stdout, stderr, err := d.runner.Run(ctx, d.bin, "--version")
	if err != nil {
		return "", d.classify(ctx, "check version", err, stderr)
	}

	return strings.TrimSpace(string(stdout)), nil
}

func (d *YTDLP) Available(ctx context.Context) bool {
	_, err := d.Version(ctx)

	return err == nil
}

func (d *YTDLP) classify(ctx context.Context, op string, err error, stderr []byte) error {
	if errors.Is(err, exec.ErrNotFound) {
		return model.WrapError(model.KindDependencyUnavailable, fmt.Sprintf("%s is not installed", d.bin), err)
	}
	if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return model.WrapError(model.KindTimeout, fmt.Sprintf("%s timed out", op), err)
	}

	msg := lastLine(stderr)
	if msg == "" {
		msg = err.Error()
	}

	return model.WrapError(model.KindDownloadFailed, fmt.Sprintf("%s: %s", op, msg), err)
}

func (d *YTDLP) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("cannot remove partial download", slog.String("path", path), slog.Any("error", err))
	}
}

// lastLine picks the final non-empty stderr line, which is where yt-dlp
// puts its actual error.
func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}

	return ""
}
