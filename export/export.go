package export

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"ewintr.nl/scribe/model"
)

type Format string

const (
	TXT  Format = "txt"
	SRT  Format = "srt"
	VTT  Format = "vtt"
	JSON Format = "json"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case TXT, SRT, VTT, JSON:
		return f, nil
	default:
		return "", model.NewError(model.KindUnsupportedExportFormat, fmt.Sprintf("unknown export format %q", s))
	}
}

func (f Format) ContentType() string {
	switch f {
	case SRT:
		return "application/x-subrip"
	case VTT:
		return "text/vtt"
	case JSON:
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Render serializes a transcript in the given format.
func Render(t model.Transcript, f Format) (string, error) {
	switch f {
	case TXT:
		return t.Text, nil
	case SRT:
		return renderSRT(t), nil
	case VTT:
		return renderVTT(t), nil
	case JSON:
		body, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal transcript: %w", err)
		}

		return string(body), nil
	default:
		return "", model.NewError(model.KindUnsupportedExportFormat, fmt.Sprintf("unknown export format %q", f))
	}
}

func renderSRT(t model.Transcript) string {
	var b strings.Builder
	for i, s := range t.Segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, timestamp(s.Start, ","), timestamp(s.End, ","), strings.TrimSpace(s.Text))
	}

	return b.String()
}

func renderVTT(t model.Transcript) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, s := range t.Segments {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n", timestamp(s.Start, "."), timestamp(s.End, "."), strings.TrimSpace(s.Text))
	}

	return b.String()
}

// timestamp renders seconds as HH:MM:SS<sep>mmm, rounded to the millisecond.
func timestamp(seconds float64, sep string) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))

	return fmt.Sprintf("%02d:%02d:%02d%s%03d", ms/3600000, ms%3600000/60000, ms%60000/1000, sep, ms%1000)
}
