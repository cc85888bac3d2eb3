package downloader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type info struct {
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail"`
}

// normalizeInfo reads yt-dlp metadata output. Depending on extractor and
// flags that is a single JSON object, a JSON array, or one object per line.
// The first video object wins.
func normalizeInfo(out []byte) (info, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return info{}, errors.New("empty metadata output")
	}

	if trimmed[0] == '[' {
		var list []info
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return info{}, fmt.Errorf("unmarshal metadata list: %w", err)
		}
		if len(list) == 0 {
			return info{}, errors.New("empty metadata list")
		}

		return list[0], nil
	}

	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var nfo info
		if err := json.Unmarshal(line, &nfo); err == nil {
			return nfo, nil
		}
	}

	// a single object can span lines when something pretty-printed it
	var nfo info
	if err := json.Unmarshal(trimmed, &nfo); err != nil {
		return info{}, fmt.Errorf("unrecognized metadata shape: %w", err)
	}

	return nfo, nil
}
