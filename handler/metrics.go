package handler

import (
	"fmt"
	"net/http"
)

// MetricsAPI exposes the orchestrator counters as plain text.
type MetricsAPI struct {
	extractor Extractor
}

func NewMetricsAPI(ext Extractor) *MetricsAPI {
	return &MetricsAPI{extractor: ext}
}

func (m *MetricsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusNotFound, "not found", fmt.Errorf("method %s was not registered in the metrics api", r.Method))

		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(m.extractor.Metrics().Format()))
}
