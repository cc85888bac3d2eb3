package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"

	"ewintr.nl/scribe/extractor"
	"ewintr.nl/scribe/progress"
	"ewintr.nl/scribe/storage"
)

// Extractor is the part of the orchestrator the http surface needs.
type Extractor interface {
	ExtractGuest(ctx context.Context, rawURL, clientIP string) extractor.Result
	ExtractAuthenticated(ctx context.Context, rawURL, userID, tier, language string) extractor.Result
	Ready(ctx context.Context) map[string]bool
	Metrics() *extractor.Metrics
}

// Pinger reports whether the persistence store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	apis   map[string]http.Handler
	stream http.Handler
	logger *slog.Logger
}

func NewServer(ext Extractor, repo storage.ExtractionRepository, registry *progress.Registry, store Pinger, logger *slog.Logger) *Server {
	return &Server{
		apis: map[string]http.Handler{
			"extraction": NewExtractionAPI(ext, repo, logger),
			"health":     NewHealthAPI(ext, store),
			"metrics":    NewMetricsAPI(ext),
		},
		stream: NewProgressAPI(registry, logger),
		logger: logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	originalPath := r.URL.Path
	head, tail := ShiftPath(r.URL.Path)

	// the progress stream writes to the live connection, buffering it in a
	// recorder would stall it
	if head == "progress" {
		r.URL.Path = tail
		s.stream.ServeHTTP(w, r)
		s.logger.Info("stream served", slog.String("path", originalPath))

		return
	}

	rec := httptest.NewRecorder() // records the response to be able to mix writing headers and content
	w.Header().Set("Content-Type", "application/json")

	switch {
	case head == "":
		Index(rec)
	default:
		api, ok := s.apis[head]
		if !ok {
			Error(rec, http.StatusNotFound, "not found", fmt.Errorf("%s is not a valid path", originalPath))
			break
		}
		r.URL.Path = tail
		api.ServeHTTP(rec, r)
	}

	returnResponse(w, rec)
	s.logger.Info("request served", slog.String("path", originalPath), slog.Int("status", rec.Code))
}

func returnResponse(w http.ResponseWriter, rec *httptest.ResponseRecorder) {
	for k, v := range rec.Header() {
		w.Header()[k] = v
	}
	w.WriteHeader(rec.Code)
	w.Write(rec.Body.Bytes())
}

// ShiftPath splits off the first component of p, which will be cleaned of
// relative components before processing. head will never contain a slash and
// tail will always be a rooted path without trailing slash.
// See https://blog.merovius.de/posts/2017-06-18-how-not-to-use-an-http-router/
func ShiftPath(p string) (string, string) {
	p = path.Clean("/" + p)
	i := strings.Index(p[1:], "/") + 1
	if i <= 0 {
		return p[1:], "/"
	}

	return p[1:i], p[i:]
}
