package metadata

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/youtube/v3"

	"ewintr.nl/scribe/model"
)

// YouTubeAPI fetches video metadata through the Data API, which answers in
// milliseconds where spawning the downloader binary takes seconds.
type YouTubeAPI struct {
	client *youtube.Service
}

func NewYouTubeAPI(client *youtube.Service) *YouTubeAPI {
	return &YouTubeAPI{client: client}
}

func (y *YouTubeAPI) Fetch(ctx context.Context, ref model.VideoReference) (model.VideoMetadata, error) {
	if ref.Platform != model.PlatformYoutube {
		return model.VideoMetadata{}, fmt.Errorf("platform %s is not served by the youtube api", ref.Platform)
	}

	var resp *youtube.VideoListResponse
	op := func() error {
		var err error
		resp, err = y.client.Videos.
			List([]string{"snippet", "contentDetails"}).
			Id(ref.ID).
			Context(ctx).
			Do()

		return err
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return model.VideoMetadata{}, fmt.Errorf("failed to fetch video metadata: %w", err)
	}
	if len(resp.Items) == 0 {
		return model.VideoMetadata{}, fmt.Errorf("video %s is unknown to the youtube api", ref.ID)
	}

	item := resp.Items[0]
	duration, err := parseISODuration(item.ContentDetails.Duration)
	if err != nil {
		return model.VideoMetadata{}, fmt.Errorf("failed to parse video duration: %w", err)
	}

	md := model.VideoMetadata{
		Title:    item.Snippet.Title,
		Duration: duration,
	}
	if tn := item.Snippet.Thumbnails; tn != nil {
		switch {
		case tn.High != nil:
			md.ThumbnailURL = tn.High.Url
		case tn.Medium != nil:
			md.ThumbnailURL = tn.Medium.Url
		case tn.Default != nil:
			md.ThumbnailURL = tn.Default.Url
		}
	}

	return md, nil
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?T?(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// parseISODuration reads the ISO-8601 durations the Data API reports, like
// PT1H2M3S.
func parseISODuration(s string) (float64, error) {
	m := isoDuration.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%q is not an ISO-8601 duration", s)
	}

	var total time.Duration
	for i, unit := range []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, fmt.Errorf("%q is not an ISO-8601 duration", s)
		}
		total += time.Duration(n) * unit
	}

	return total.Seconds(), nil
}
