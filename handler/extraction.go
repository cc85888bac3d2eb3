package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"ewintr.nl/scribe/export"
	"ewintr.nl/scribe/extractor"
	"ewintr.nl/scribe/model"
	"ewintr.nl/scribe/storage"
)

type ExtractionAPI struct {
	extractor Extractor
	repo      storage.ExtractionRepository
	logger    *slog.Logger
}

func NewExtractionAPI(ext Extractor, repo storage.ExtractionRepository, logger *slog.Logger) *ExtractionAPI {
	return &ExtractionAPI{
		extractor: ext,
		repo:      repo,
		logger:    logger,
	}
}

func (a *ExtractionAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	head, tail := ShiftPath(r.URL.Path)
	sub, _ := ShiftPath(tail)

	switch {
	case r.Method == http.MethodPost && head == "":
		a.Create(w, r)
	case r.Method == http.MethodGet && head != "" && sub == "":
		a.Get(w, r, head)
	case r.Method == http.MethodGet && head != "" && sub == "export":
		a.Export(w, r, head)
	default:
		Error(w, http.StatusNotFound, "not found", fmt.Errorf("method %s with subpath %q was not registered in the extraction api", r.Method, head))
	}
}

// Create runs one extraction and answers with the full result. A request
// carrying an X-User-ID header takes the authenticated path, anything else
// is a guest keyed by client ip.
func (a *ExtractionAPI) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL      string `json:"url"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "could not parse request body", err)

		return
	}
	if req.URL == "" {
		Error(w, http.StatusBadRequest, "could not parse request body", errors.New("url is required"))

		return
	}

	var res extractor.Result
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		res = a.extractor.ExtractAuthenticated(r.Context(), req.URL, userID, r.Header.Get("X-User-Tier"), req.Language)
	} else {
		res = a.extractor.ExtractGuest(r.Context(), req.URL, clientIP(r))
	}

	status := http.StatusOK
	if !res.OK() {
		status = statusFor(res.Err.Kind)
	}
	body, err := json.Marshal(res)
	if err != nil {
		a.returnErr(w, http.StatusInternalServerError, "could not marshal response", err)

		return
	}
	w.WriteHeader(status)
	w.Write(body)
}

func (a *ExtractionAPI) Get(w http.ResponseWriter, r *http.Request, rawID string) {
	extraction, ok := a.find(w, r, rawID)
	if !ok {
		return
	}

	body, err := json.Marshal(extraction)
	if err != nil {
		a.returnErr(w, http.StatusInternalServerError, "could not marshal response", err)

		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// Export renders the stored transcript in the requested format and serves
// it as a download.
func (a *ExtractionAPI) Export(w http.ResponseWriter, r *http.Request, rawID string) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		Error(w, http.StatusBadRequest, "unknown export format", err)

		return
	}
	extraction, ok := a.find(w, r, rawID)
	if !ok {
		return
	}

	body, err := export.Render(extraction.Transcript, format)
	if err != nil {
		a.returnErr(w, http.StatusInternalServerError, "could not render transcript", err)

		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=transcript-%s.%s", extraction.ID, format))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func (a *ExtractionAPI) find(w http.ResponseWriter, r *http.Request, rawID string) (*model.Extraction, bool) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid extraction id", err)

		return nil, false
	}
	extraction, err := a.repo.Find(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		Error(w, http.StatusNotFound, "extraction not found", err)

		return nil, false
	case err != nil:
		a.returnErr(w, http.StatusInternalServerError, "could not fetch extraction", err)

		return nil, false
	}

	return extraction, true
}

func (a *ExtractionAPI) returnErr(w http.ResponseWriter, status int, message string, err error, details ...any) {
	a.logger.Error(message, slog.Any("error", err), slog.String("details", fmt.Sprintf("%+v", details)))
	Error(w, status, message, err, details...)
}

func statusFor(kind model.Kind) int {
	switch kind {
	case model.KindInvalidURL, model.KindUnsupportedPlatform, model.KindUnsupportedExportFormat:
		return http.StatusBadRequest
	case model.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case model.KindDurationExceeded:
		return http.StatusUnprocessableEntity
	case model.KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// clientIP prefers the first X-Forwarded-For hop, the service runs behind a
// proxy in production.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i >= 0 {
			fwd = fwd[:i]
		}

		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
