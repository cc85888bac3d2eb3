package extractor

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics counts what the orchestrator does. The zero value is ready to
// use.
type Metrics struct {
	Started             atomic.Int64
	Completed           atomic.Int64
	Failed              atomic.Int64
	Rejected            atomic.Int64
	QuotaRejected       atomic.Int64
	DurationRejected    atomic.Int64
	Downloads           atomic.Int64
	DownloadErrors      atomic.Int64
	Transcriptions      atomic.Int64
	TranscriptionErrors atomic.Int64
	Fallbacks           atomic.Int64
	SaveErrors          atomic.Int64
}

func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"extractions_started":   m.Started.Load(),
		"extractions_completed": m.Completed.Load(),
		"extractions_failed":    m.Failed.Load(),
		"extractions_rejected":  m.Rejected.Load(),
		"rejected_quota":        m.QuotaRejected.Load(),
		"rejected_duration":     m.DurationRejected.Load(),
		"downloads":             m.Downloads.Load(),
		"download_errors":       m.DownloadErrors.Load(),
		"transcriptions":        m.Transcriptions.Load(),
		"transcription_errors":  m.TranscriptionErrors.Load(),
		"fallbacks":             m.Fallbacks.Load(),
		"save_errors":           m.SaveErrors.Load(),
	}
}

// Format renders the counters as plain text, one per line, in a fixed
// order.
func (m *Metrics) Format() string {
	var b strings.Builder
	snapshot := m.Snapshot()
	for _, key := range []string{
		"extractions_started",
		"extractions_completed",
		"extractions_failed",
		"extractions_rejected",
		"rejected_quota",
		"rejected_duration",
		"downloads",
		"download_errors",
		"transcriptions",
		"transcription_errors",
		"fallbacks",
		"save_errors",
	} {
		fmt.Fprintf(&b, "%s %d\n", key, snapshot[key])
	}

	return b.String()
}
