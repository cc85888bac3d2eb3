package model

type Platform string

const (
	PlatformYoutube  Platform = "youtube"
	PlatformBilibili Platform = "bilibili"
	PlatformRedbook  Platform = "redbook"
)

// VideoReference identifies one video on a supported platform.
type VideoReference struct {
	RawURL   string   `json:"url"`
	Platform Platform `json:"platform"`
	ID       string   `json:"video_id"`
}

// VideoMetadata holds what the platform reports about a video before any
// audio is downloaded. Duration is in seconds.
type VideoMetadata struct {
	Title        string  `json:"title"`
	Duration     float64 `json:"duration"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
}
