package downloader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tcolgate/mp3"
)

// mp3Duration measures playing time by decoding frame headers, which is
// more truthful than what the platform reports for the video.
func mp3Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var (
		frame   mp3.Frame
		skipped int
		total   time.Duration
	)
	dec := mp3.NewDecoder(f)
	for {
		if err := dec.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return 0, fmt.Errorf("decode mp3 frame: %w", err)
		}
		total += frame.Duration()
	}

	return total.Seconds(), nil
}
