// Package archive defines the post record schema shared by the enricher,
// extractor and bootstrap pipelines.
package archive

import (
	"encoding/json"
	"strings"
	"time"
)

// Platform is the only platform this archive currently carries.
const Platform = "instagram"

// Source values track a record's enrichment state. Transitions are
// forward-only: archive → archive+api, or archive → archive:deleted.
const (
	SourceArchive  = "archive"         // stub from an archive import
	SourceEnriched = "archive+api"     // metadata + media filled from the API
	SourceDeleted  = "archive:deleted" // platform says the post is gone
)

// Content types.
const (
	ContentSavedPost = "saved_post"
	ContentReel      = "reel"
)

// Sentinel captions.
const (
	NoCaption   = "[No caption]"
	Unavailable = "[Post no longer available]"
)

// Author is the post author's public identity.
type Author struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	ProfileURL  string `json:"profile_url"`
	Headline    string `json:"headline"`
}

// Media is one asset of a post. URL is a short-TTL CDN URL; LocalPath is
// set once the bytes have been downloaded.
type Media struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type"` // "image" or "video"
	LocalPath string `json:"local_path"`
	AltText   string `json:"alt_text"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// ExtractedText is the extractor's output, attached to a post once its local
// media has been transcribed and OCR'd.
type ExtractedText struct {
	AudioTranscripts []string `json:"audio_transcripts"`
	OCRTexts         []string `json:"ocr_texts"`
	ExtractedAt      string   `json:"extracted_at"`
	ExtractionStatus string   `json:"extraction_status"` // complete | partial:no_audio | partial:no_ocr
}

// Extraction status values.
const (
	ExtractionComplete = "complete"
	ExtractionNoAudio  = "partial:no_audio"
	ExtractionNoOCR    = "partial:no_ocr"
)

// Post is one archived saved post, keyed by shortcode.
type Post struct {
	ID          string         `json:"id"` // shortcode
	Platform    string         `json:"platform"`
	ContentType string         `json:"content_type"`
	Text        string         `json:"text"`
	Author      Author         `json:"author"`
	Media       []Media        `json:"media"`
	PostURL     string         `json:"post_url"`
	CreatedAt   string         `json:"created_at"`
	SavedAt     string         `json:"saved_at"`
	HarvestedAt string         `json:"harvested_at"`
	LikeCount   int            `json:"like_count"`
	ReplyCount  int            `json:"reply_count"`
	RepostCount int            `json:"repost_count"`
	Source      string         `json:"source"`
	Collections []string       `json:"collections"`
	MediaPK     string         `json:"media_pk"`
	Extracted   *ExtractedText `json:"extracted_text,omitempty"`
}

// Decode converts a raw store item into a Post via a JSON round-trip.
func Decode(item map[string]any) (Post, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return Post{}, err
	}
	var p Post
	if err := json.Unmarshal(data, &p); err != nil {
		return Post{}, err
	}
	return p, nil
}

// Encode converts a Post into a raw store item.
func (p Post) Encode() (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var item map[string]any
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	return item, nil
}

// Pending reports whether the post still needs enrichment.
func (p Post) Pending() bool {
	return p.Source == SourceArchive && p.Text == ""
}

// HasLocalMedia reports whether any media item has a local path set.
func (p Post) HasLocalMedia() bool {
	for _, m := range p.Media {
		if m.LocalPath != "" {
			return true
		}
	}
	return false
}

// MatchesCollection reports whether any of the post's collections contains
// sub, case-insensitively. An empty sub matches everything.
func (p Post) MatchesCollection(sub string) bool {
	if sub == "" {
		return true
	}
	sub = strings.ToLower(sub)
	for _, c := range p.Collections {
		if strings.Contains(strings.ToLower(c), sub) {
			return true
		}
	}
	return false
}

// PermalinkFor returns the public post URL for a shortcode and content type.
func PermalinkFor(shortcode, contentType string) string {
	if contentType == ContentReel {
		return "https://www.instagram.com/reel/" + shortcode + "/"
	}
	return "https://www.instagram.com/p/" + shortcode + "/"
}

// ProfileURLFor returns the public profile URL for a username, or "" when
// the username is unknown.
func ProfileURLFor(username string) string {
	if username == "" {
		return ""
	}
	return "https://www.instagram.com/" + username + "/"
}

// Now returns the current time formatted the way the archive stores
// timestamps (RFC 3339 UTC).
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
