package resolver

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"ewintr.nl/scribe/model"
)

type pattern struct {
	platform model.Platform
	re       *regexp.Regexp
}

// Ordered most specific first per platform. The watch pattern keys on the v
// query parameter, so embed and shorts URLs never match it by accident.
var patterns = []pattern{
	{model.PlatformYoutube, regexp.MustCompile(`^https?://(?:www\.|m\.)?youtube\.com/embed/([A-Za-z0-9_-]{11})(?:[?&/#]|$)`)},
	{model.PlatformYoutube, regexp.MustCompile(`^https?://(?:www\.|m\.)?youtube\.com/shorts/([A-Za-z0-9_-]{11})(?:[?&/#]|$)`)},
	{model.PlatformYoutube, regexp.MustCompile(`^https?://youtu\.be/([A-Za-z0-9_-]{11})(?:[?&/#]|$)`)},
	{model.PlatformYoutube, regexp.MustCompile(`^https?://(?:www\.|m\.)?youtube\.com/watch\?(?:[^#]*&)?v=([A-Za-z0-9_-]{11})(?:[&#]|$)`)},
	{model.PlatformBilibili, regexp.MustCompile(`^https?://(?:www\.|m\.)?bilibili\.com/video/(BV[0-9A-Za-z]{10})(?:[?&/#]|$)`)},
	{model.PlatformBilibili, regexp.MustCompile(`^https?://(?:www\.|m\.)?bilibili\.com/video/(av\d+)(?:[?&/#]|$)`)},
	{model.PlatformRedbook, regexp.MustCompile(`^https?://(?:www\.)?xiaohongshu\.com/(?:explore|discovery/item)/([0-9A-Za-z]+)`)},
	{model.PlatformRedbook, regexp.MustCompile(`^https?://xhslink\.com/(?:[A-Za-z]/)?([0-9A-Za-z]+)`)},
}

// Resolve turns a raw video page URL into a platform reference. It does no
// network calls.
func Resolve(rawURL string) (model.VideoReference, error) {
	trimmed := strings.TrimSpace(rawURL)

	u, err := url.Parse(trimmed)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.VideoReference{}, model.NewError(model.KindInvalidURL, fmt.Sprintf("not a video url: %q", rawURL))
	}

	for _, p := range patterns {
		if m := p.re.FindStringSubmatch(trimmed); m != nil {
			return model.VideoReference{
				RawURL:   trimmed,
				Platform: p.platform,
				ID:       m[1],
			}, nil
		}
	}

	return model.VideoReference{}, model.NewError(model.KindUnsupportedPlatform, fmt.Sprintf("no supported platform recognizes %q", rawURL))
}
