package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
)

// TestShortcode is a known-good public post used by the auth check.
const TestShortcode = "DUGZG3CjcN-"

// Fetch outcome classification. Only StatusError carries Code/Message.
type Status string

const (
	StatusOK          Status = "ok"
	StatusNotFound    Status = "not_found"
	StatusRateLimited Status = "rate_limited"
	StatusError       Status = "error"
)

// MediaItem is one normalized media entry from a post.
type MediaItem struct {
	Type   string // "image" or "video"
	URL    string
	Width  int
	Height int
}

// FetchResult is the normalized outcome of a single post fetch.
type FetchResult struct {
	Shortcode string
	Status    Status
	Code      int    // HTTP status, set for StatusError on non-200
	Message   string // transport/parse detail, set for StatusError

	PK           string
	Username     string
	FullName     string
	Caption      string
	LikeCount    int
	CommentCount int
	TakenAt      int64 // unix seconds
	MediaType    int   // 1 photo, 2 video/reel, 8 carousel
	Media        []MediaItem
}

// Item is a raw post object as both the GraphQL and REST endpoints return
// it. Carousel children reuse the same shape.
type Item struct {
	PK           json.Number `json:"pk"`
	Code         string      `json:"code"`
	MediaType    int         `json:"media_type"`
	TakenAt      int64       `json:"taken_at"`
	LikeCount    int         `json:"like_count"`
	CommentCount int         `json:"comment_count"`
	Caption      *struct {
		Text string `json:"text"`
	} `json:"caption"`
	User struct {
		Username string `json:"username"`
		FullName string `json:"full_name"`
	} `json:"user"`
	ImageVersions2 *struct {
		Candidates []mediaVersion `json:"candidates"`
	} `json:"image_versions2"`
	VideoVersions      []mediaVersion `json:"video_versions"`
	CarouselMedia      []Item         `json:"carousel_media"`
	SavedCollectionIDs []json.Number  `json:"saved_collection_ids"`
}

type mediaVersion struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ExtractMedia flattens an item's media: top-level image first, then video,
// then each carousel child's image and video, preserving API order.
func (it *Item) ExtractMedia() []MediaItem {
	var media []MediaItem
	if it.ImageVersions2 != nil && len(it.ImageVersions2.Candidates) > 0 {
		c := it.ImageVersions2.Candidates[0]
		media = append(media, MediaItem{Type: "image", URL: c.URL, Width: c.Width, Height: c.Height})
	}
	if len(it.VideoVersions) > 0 {
		v := it.VideoVersions[0]
		media = append(media, MediaItem{Type: "video", URL: v.URL, Width: v.Width, Height: v.Height})
	}
	for i := range it.CarouselMedia {
		media = append(media, it.CarouselMedia[i].ExtractMedia()...)
	}
	return media
}

// CaptionText returns the caption, or "" when absent.
func (it *Item) CaptionText() string {
	if it.Caption != nil {
		return it.Caption.Text
	}
	return ""
}

// CreatedAt formats taken_at as an RFC 3339 UTC timestamp, or "" when unset.
func (it *Item) CreatedAt() string {
	if it.TakenAt == 0 {
		return ""
	}
	return time.Unix(it.TakenAt, 0).UTC().Format(time.RFC3339)
}

func itemToResult(shortcode string, it *Item) FetchResult {
	return FetchResult{
		Shortcode:    shortcode,
		Status:       StatusOK,
		PK:           it.PK.String(),
		Username:     it.User.Username,
		FullName:     it.User.FullName,
		Caption:      it.CaptionText(),
		LikeCount:    it.LikeCount,
		CommentCount: it.CommentCount,
		TakenAt:      it.TakenAt,
		MediaType:    it.MediaType,
		Media:        it.ExtractMedia(),
	}
}

func errorResult(shortcode, message string) FetchResult {
	return FetchResult{Shortcode: shortcode, Status: StatusError, Message: message}
}

// FetchPost fetches one post, trying GraphQL first and falling back to the
// REST media-info endpoint once GraphQL starts returning checkpoint HTML.
// The fallback sticks for the rest of the session.
func (s *Session) FetchPost(ctx context.Context, shortcode string) FetchResult {
	if s.graphqlAvailable {
		res := s.FetchGraphQL(ctx, shortcode)
		if res.Status != StatusError || res.Message != "invalid json" {
			return res
		}
		log.Info("GraphQL checkpointed, switching to REST API")
		s.graphqlAvailable = false
	}
	return s.FetchREST(ctx, shortcode)
}

// FetchGraphQL fetches a post via the web GraphQL endpoint.
func (s *Session) FetchGraphQL(ctx context.Context, shortcode string) FetchResult {
	vars, _ := json.Marshal(map[string]string{"shortcode": shortcode})
	form := url.Values{
		"doc_id":    {graphQLDocID},
		"variables": {string(vars)},
	}

	body, code, err := s.postForm(ctx, "/graphql/query", form)
	if err != nil {
		return errorResult(shortcode, err.Error())
	}
	if code == 429 {
		return FetchResult{Shortcode: shortcode, Status: StatusRateLimited}
	}
	if code != 200 {
		return FetchResult{Shortcode: shortcode, Status: StatusError, Code: code}
	}

	var data struct {
		Data struct {
			WebInfo *struct {
				Items []Item `json:"items"`
			} `json:"xdt_api__v1__media__shortcode__web_info"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		// Checkpoint pages come back as HTML with a 200.
		return errorResult(shortcode, "invalid json")
	}
	if data.Data.WebInfo == nil || len(data.Data.WebInfo.Items) == 0 {
		if len(data.Errors) > 0 {
			msg := data.Errors[0].Message
			if msg == "" {
				msg = "unknown"
			}
			return errorResult(shortcode, msg)
		}
		return FetchResult{Shortcode: shortcode, Status: StatusNotFound}
	}
	return itemToResult(shortcode, &data.Data.WebInfo.Items[0])
}

// FetchREST fetches a post via /api/v1/media/{pk}/info/, which sits on a
// different rate-limit path than GraphQL.
func (s *Session) FetchREST(ctx context.Context, shortcode string) FetchResult {
	pk, err := ShortcodeToPK(shortcode)
	if err != nil {
		return errorResult(shortcode, "invalid shortcode")
	}

	body, code, err := s.get(ctx, fmt.Sprintf("/api/v1/media/%d/info/", pk), nil)
	if err != nil {
		return errorResult(shortcode, err.Error())
	}
	switch {
	case code == 404:
		return FetchResult{Shortcode: shortcode, Status: StatusNotFound}
	case code == 429:
		return FetchResult{Shortcode: shortcode, Status: StatusRateLimited}
	case code != 200:
		return FetchResult{Shortcode: shortcode, Status: StatusError, Code: code}
	}

	var data struct {
		Items []Item `json:"items"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return errorResult(shortcode, "invalid json")
	}
	if len(data.Items) == 0 {
		return FetchResult{Shortcode: shortcode, Status: StatusNotFound}
	}
	return itemToResult(shortcode, &data.Items[0])
}

// Collection is one saved collection's metadata.
type Collection struct {
	ID    string
	Name  string
	Count int
}

// FetchCollections pages through the saved-collections list. A short pause
// between pages keeps us under the feed endpoints' limits.
func (s *Session) FetchCollections(ctx context.Context) ([]Collection, error) {
	var collections []Collection
	maxID := ""

	for {
		params := url.Values{}
		if maxID != "" {
			params.Set("max_id", maxID)
		}
		body, code, err := s.get(ctx, "/api/v1/collections/list/", params)
		if err != nil {
			return collections, err
		}
		if code != 200 {
			return collections, fmt.Errorf("collections list: HTTP %d", code)
		}

		var data struct {
			Items []struct {
				CollectionID         json.Number `json:"collection_id"`
				CollectionName       string      `json:"collection_name"`
				CollectionMediaCount int         `json:"collection_media_count"`
			} `json:"items"`
			MoreAvailable bool   `json:"more_available"`
			NextMaxID     string `json:"next_max_id"`
		}
		if err := json.Unmarshal(body, &data); err != nil {
			return collections, fmt.Errorf("collections list: %w", err)
		}
		for _, c := range data.Items {
			collections = append(collections, Collection{
				ID:    c.CollectionID.String(),
				Name:  c.CollectionName,
				Count: c.CollectionMediaCount,
			})
		}
		if !data.MoreAvailable {
			return collections, nil
		}
		maxID = data.NextMaxID

		select {
		case <-ctx.Done():
			return collections, ctx.Err()
		case <-time.After(s.PageDelay):
		}
	}
}

// SavedPage is one page of the saved-posts feed.
type SavedPage struct {
	Items         []Item
	MoreAvailable bool
	NextMaxID     string
}

// FetchSavedPage fetches one page of /api/v1/feed/saved/posts/. Pass the
// previous page's NextMaxID to continue, "" for the first page.
func (s *Session) FetchSavedPage(ctx context.Context, maxID string) (*SavedPage, error) {
	params := url.Values{}
	if maxID != "" {
		params.Set("max_id", maxID)
	}
	body, code, err := s.get(ctx, "/api/v1/feed/saved/posts/", params)
	if err != nil {
		return nil, err
	}
	if code != 200 {
		return nil, fmt.Errorf("saved feed: HTTP %d", code)
	}

	var data struct {
		Items []struct {
			Media *Item `json:"media"`
		} `json:"items"`
		MoreAvailable bool   `json:"more_available"`
		NextMaxID     string `json:"next_max_id"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("saved feed: %w", err)
	}

	page := &SavedPage{MoreAvailable: data.MoreAvailable, NextMaxID: data.NextMaxID}
	for _, it := range data.Items {
		if it.Media != nil && it.Media.Code != "" {
			page.Items = append(page.Items, *it.Media)
		}
	}
	return page, nil
}
