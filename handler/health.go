package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// HealthAPI reports whether the external dependencies answer their probes.
type HealthAPI struct {
	extractor Extractor
	store     Pinger
}

func NewHealthAPI(ext Extractor, store Pinger) *HealthAPI {
	return &HealthAPI{
		extractor: ext,
		store:     store,
	}
}

func (h *HealthAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusNotFound, "not found", fmt.Errorf("method %s was not registered in the health api", r.Method))

		return
	}

	probes := h.extractor.Ready(r.Context())
	if h.store != nil {
		probes["storage"] = h.store.Ping(r.Context()) == nil
	}
	healthy := true
	for _, ok := range probes {
		healthy = healthy && ok
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	body, err := json.Marshal(struct {
		Healthy bool            `json:"healthy"`
		Probes  map[string]bool `json:"probes"`
	}{
		Healthy: healthy,
		Probes:  probes,
	})
	if err != nil {
		Error(w, http.StatusInternalServerError, "could not marshal response", err)

		return
	}
	w.WriteHeader(status)
	w.Write(body)
}
