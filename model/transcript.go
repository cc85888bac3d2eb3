package model

import "strings"

type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the recognized speech of one video. Text is always the
// segment texts joined with single spaces, in segment order.
type Transcript struct {
	Text     string              `json:"full_text"`
	Segments []TranscriptSegment `json:"segments"`
	Language string              `json:"language,omitempty"`
	Duration float64             `json:"duration,omitempty"`
}

func NewTranscript(segments []TranscriptSegment) Transcript {
	texts := make([]string, 0, len(segments))
	for _, s := range segments {
		texts = append(texts, s.Text)
	}

	return Transcript{
		Text:     strings.Join(texts, " "),
		Segments: segments,
	}
}

// Truncate returns a copy limited to the first limit seconds. Segments
// starting at or past the limit are dropped, the end of the last kept
// segment is clamped and Text is rebuilt. Truncating an already truncated
// transcript changes nothing.
func (t Transcript) Truncate(limit float64) Transcript {
	if limit <= 0 {
		return t
	}

	kept := make([]TranscriptSegment, 0, len(t.Segments))
	for _, s := range t.Segments {
		if s.Start >= limit {
			continue
		}
		if s.End > limit {
			s.End = limit
		}
		kept = append(kept, s)
	}

	res := NewTranscript(kept)
	res.Language = t.Language
	res.Duration = t.Duration
	if res.Duration > limit {
		res.Duration = limit
	}

	return res
}
