package enricher

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/socmed/internal/instagram"
)

func TestSafeUsername(t *testing.T) {
	cases := []struct{ in, want string }{
		{"dog.trainer_1", "dog.trainer_1"},
		{"weird name!", "weirdname"},
		{"ÅseBakke", "seBakke"},
		{"🙂🙂", "unknown"},
		{"", "unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SafeUsername(tc.in), tc.in)
	}
}

func TestGuessExt(t *testing.T) {
	cases := []struct {
		url, mediaType, want string
	}{
		{"https://cdn.example.com/a/b.jpg?sig=1", "image", ".jpg"},
		{"https://cdn.example.com/a/b.JPEG", "image", ".jpeg"},
		{"https://cdn.example.com/clip.webm", "video", ".webm"},
		{"https://cdn.example.com/stream", "video", ".mp4"},
		{"https://cdn.example.com/blob.bin", "image", ".jpg"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, guessExt(tc.url, tc.mediaType), tc.url)
	}
}

func TestMediaFilenameDeterministic(t *testing.T) {
	a := mediaFilename("SC1", "https://cdn/x.mp4", "video")
	b := mediaFilename("SC1", "https://cdn/x.mp4", "video")
	c := mediaFilename("SC1", "https://cdn/y.mp4", "video")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^SC1_[0-9a-f]{12}\.mp4$`, a)
}

func TestDownloadPostMedia(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(bytes.Repeat([]byte("x"), 4096))
	}))
	defer srv.Close()

	mediaDir := t.TempDir()
	d := NewDownloader(mediaDir)

	media := []instagram.MediaItem{
		{Type: "image", URL: srv.URL + "/a.jpg", Width: 100, Height: 200},
		{Type: "video", URL: ""},
	}
	out := d.DownloadPostMedia(context.Background(), "SC1", "user", media)
	require.Len(t, out, 2)

	fi, err := os.Stat(out[0].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), fi.Size())
	assert.Equal(t, filepath.Join(mediaDir, "instagram", "user"), filepath.Dir(out[0].LocalPath))
	assert.Equal(t, srv.URL+"/a.jpg", out[0].URL)
	assert.Equal(t, 100, out[0].Width)

	// No URL means no download and no local path.
	assert.Empty(t, out[1].LocalPath)

	// Re-download skips the existing non-empty file.
	out = d.DownloadPostMedia(context.Background(), "SC1", "user", media)
	assert.Equal(t, 1, hits)
	assert.NotEmpty(t, out[0].LocalPath)
}

func TestDownloadPostMediaEmptyFileRefetched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "fresh bytes")
	}))
	defer srv.Close()

	mediaDir := t.TempDir()
	d := NewDownloader(mediaDir)
	media := []instagram.MediaItem{{Type: "image", URL: srv.URL + "/a.jpg"}}

	dest := filepath.Join(mediaDir, "instagram", "user", mediaFilename("SC1", media[0].URL, "image"))
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))
	require.NoError(t, os.WriteFile(dest, nil, 0o644))

	out := d.DownloadPostMedia(context.Background(), "SC1", "user", media)
	require.NotEmpty(t, out[0].LocalPath)
	data, err := os.ReadFile(out[0].LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "fresh bytes", string(data))
}

func TestDownloadRetriesTransientFailures(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "finally")
	}))
	defer srv.Close()

	d := NewDownloader(t.TempDir())
	d.RetryDelay = time.Millisecond
	out := d.DownloadPostMedia(context.Background(), "SC1", "user",
		[]instagram.MediaItem{{Type: "image", URL: srv.URL + "/a.jpg"}})
	require.NotEmpty(t, out[0].LocalPath)
	assert.Equal(t, 3, attempts)
}

func TestDownloadPostMediaFailureLeavesLocalPathEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewDownloader(t.TempDir())
	out := d.DownloadPostMedia(context.Background(), "SC1", "user",
		[]instagram.MediaItem{{Type: "image", URL: srv.URL + "/a.jpg"}})
	assert.Empty(t, out[0].LocalPath)
	assert.Equal(t, srv.URL+"/a.jpg", out[0].URL)
}
