package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/socmed/internal/archive"
	"github.com/snapetech/socmed/internal/enricher"
	"github.com/snapetech/socmed/internal/instagram"
	"github.com/snapetech/socmed/internal/store"
	"github.com/snapetech/socmed/internal/syncstate"
)

func testBootstrap(t *testing.T, baseURL string) *Bootstrap {
	t.Helper()
	dir := t.TempDir()
	return &Bootstrap{
		Store:      store.New(filepath.Join(dir, "saved_posts.json"), "id"),
		Tracker:    syncstate.NewTracker(filepath.Join(dir, "sync_state.json")),
		Downloader: enricher.NewDownloader(filepath.Join(dir, "media")),
		LoadCookies: func() (instagram.Cookies, error) {
			return instagram.Cookies{
				"sessionid": "s", "csrftoken": "c", "ds_user_id": "42",
			}, nil
		},
		BaseURL: baseURL,
		Out:     io.Discard,
	}
}

func savedFeedBody(imageURL string) string {
	return fmt.Sprintf(`{"items":[
		{"media":{"pk":1,"code":"REEL1","media_type":2,"taken_at":1700000000,
		  "caption":{"text":"trick training"},
		  "user":{"username":"trainer","full_name":"T Rainer"},
		  "video_versions":[{"url":"%s","width":720,"height":1280}],
		  "saved_collection_ids":[111]}},
		{"media":{"pk":2,"code":"POST1","media_type":1,
		  "user":{"username":"cook"},
		  "image_versions2":{"candidates":[{"url":"%s","width":10,"height":10}]},
		  "saved_collection_ids":[222,999]}}
	],"more_available":false}`, imageURL, imageURL)
}

func newServer(t *testing.T) (*httptest.Server, *http.ServeMux) {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/api/v1/collections/list/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[
			{"collection_id":111,"collection_name":"Hundetriks","collection_media_count":2},
			{"collection_id":222,"collection_name":"Recipes","collection_media_count":1}
		],"more_available":false}`)
	})
	return srv, mux
}

func TestRunSync(t *testing.T) {
	srv, mux := newServer(t)
	mux.HandleFunc("/media.bin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "media bytes")
	})
	mux.HandleFunc("/api/v1/feed/saved/posts/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, savedFeedBody(srv.URL+"/media.bin"))
	})

	b := testBootstrap(t, srv.URL)
	require.NoError(t, b.RunSync(context.Background(), SyncOptions{
		Delay: 1, DownloadMedia: true,
	}))

	items, err := b.Store.Read()
	require.NoError(t, err)
	require.Len(t, items, 2)

	reel, err := archive.Decode(items[0])
	require.NoError(t, err)
	assert.Equal(t, "REEL1", reel.ID)
	assert.Equal(t, archive.ContentReel, reel.ContentType)
	assert.Equal(t, "https://www.instagram.com/reel/REEL1/", reel.PostURL)
	assert.Equal(t, "trick training", reel.Text)
	assert.Equal(t, archive.SourceEnriched, reel.Source)
	assert.Equal(t, []string{"Hundetriks"}, reel.Collections)
	assert.Equal(t, "2023-11-14T22:13:20Z", reel.CreatedAt)
	require.Len(t, reel.Media, 1)
	assert.Equal(t, "video", reel.Media[0].MediaType)
	assert.FileExists(t, reel.Media[0].LocalPath)

	post, err := archive.Decode(items[1])
	require.NoError(t, err)
	assert.Equal(t, archive.ContentSavedPost, post.ContentType)
	assert.Equal(t, "https://www.instagram.com/p/POST1/", post.PostURL)
	assert.Equal(t, archive.NoCaption, post.Text)
	// Unknown collection id 999 is dropped.
	assert.Equal(t, []string{"Recipes"}, post.Collections)

	cursor, err := b.Tracker.Get("instagram", "saved")
	require.NoError(t, err)
	assert.Equal(t, syncstate.StatusSuccess, cursor.LastSyncStatus)
	assert.Equal(t, 2, cursor.TotalItems)
}

func TestRunSyncDedupsExisting(t *testing.T) {
	srv, mux := newServer(t)
	mux.HandleFunc("/api/v1/feed/saved/posts/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, savedFeedBody("https://cdn/x.jpg"))
	})

	b := testBootstrap(t, srv.URL)
	existing := archive.Post{ID: "REEL1", Platform: archive.Platform,
		Source: archive.SourceEnriched, Text: "already here"}
	item, err := existing.Encode()
	require.NoError(t, err)
	require.NoError(t, b.Store.Write([]store.Item{item}))

	require.NoError(t, b.RunSync(context.Background(), SyncOptions{Delay: 1}))

	items, _ := b.Store.Read()
	require.Len(t, items, 2)
	p, err := archive.Decode(items[0])
	require.NoError(t, err)
	// The existing record is not overwritten.
	assert.Equal(t, "already here", p.Text)
}

func TestRunSyncCollectionFilter(t *testing.T) {
	srv, mux := newServer(t)
	mux.HandleFunc("/api/v1/feed/saved/posts/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, savedFeedBody("https://cdn/x.jpg"))
	})

	b := testBootstrap(t, srv.URL)
	require.NoError(t, b.RunSync(context.Background(), SyncOptions{
		Delay: 1, Collection: "hunde",
	}))

	items, _ := b.Store.Read()
	require.Len(t, items, 1)
	p, _ := archive.Decode(items[0])
	assert.Equal(t, "REEL1", p.ID)
}

func TestItemToPostMediaTypes(t *testing.T) {
	it := &instagram.Item{Code: "X", MediaType: 8}
	p := ItemToPost(it, nil)
	// Carousels are saved posts, not reels.
	assert.Equal(t, archive.ContentSavedPost, p.ContentType)
	assert.Equal(t, archive.NoCaption, p.Text)
	assert.NotEmpty(t, p.SavedAt)
	assert.Equal(t, p.SavedAt, p.HarvestedAt)
}

func TestCollectionSummary(t *testing.T) {
	srv, _ := newServer(t)
	b := testBootstrap(t, srv.URL)
	out, err := b.CollectionSummary(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, "Found 2 collections (3 total posts)")
	assert.Contains(t, out, "Hundetriks: 2 posts (id=111)")
}

func TestSyncDelta(t *testing.T) {
	srv, _ := newServer(t)
	b := testBootstrap(t, srv.URL)

	p := archive.Post{ID: "A", Platform: archive.Platform,
		Source: archive.SourceEnriched, Collections: []string{"Hundetriks"}}
	item, err := p.Encode()
	require.NoError(t, err)
	require.NoError(t, b.Store.Write([]store.Item{item}))

	out, err := b.SyncDelta(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, "Hundetriks")
	assert.Contains(t, out, "+1") // 2 in API, 1 local
	assert.Contains(t, out, "Local posts not in any collection: 0")
}
