package enricher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/snapetech/socmed/internal/archive"
	"github.com/snapetech/socmed/internal/httpclient"
	"github.com/snapetech/socmed/internal/instagram"
	"github.com/snapetech/socmed/internal/metrics"
	"github.com/snapetech/socmed/internal/retry"
)

// Extensions we trust from a CDN URL path. Anything else falls back to the
// media type's default.
var knownExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".mp4": true, ".mov": true, ".webm": true,
}

// SafeUsername strips a username to [A-Za-z0-9._-] for use as a directory
// name, falling back to "unknown".
func SafeUsername(username string) string {
	var b strings.Builder
	for _, c := range username {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

func urlHash(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:12]
}

// guessExt derives a file extension from the URL path when recognizable,
// otherwise defaults by media type.
func guessExt(rawURL, mediaType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); knownExts[ext] {
			return ext
		}
	}
	if mediaType == "video" {
		return ".mp4"
	}
	return ".jpg"
}

// mediaFilename is <shortcode>_<sha256(url)[:12]><ext>. The hash keeps
// multi-asset posts from colliding.
func mediaFilename(shortcode, rawURL, mediaType string) string {
	return shortcode + "_" + urlHash(rawURL) + guessExt(rawURL, mediaType)
}

// Downloader fetches CDN media into the archive's media tree. CDN URLs are
// presigned, so requests go out with a plain browser UA and no cookies.
type Downloader struct {
	baseDir string // <media_root>/instagram
	client  *http.Client

	// RetryDelay is the base backoff between download attempts.
	RetryDelay time.Duration
}

// NewDownloader returns a Downloader rooted at mediaDir/instagram.
func NewDownloader(mediaDir string) *Downloader {
	return &Downloader{
		baseDir:    filepath.Join(mediaDir, archive.Platform),
		client:     httpclient.WithTimeout(httpclient.DownloadTimeout),
		RetryDelay: time.Second,
	}
}

// DownloadPostMedia downloads every media item for one post and returns the
// archive media entries with local_path filled in where the download
// succeeded. Existing non-empty files are not re-fetched.
func (d *Downloader) DownloadPostMedia(ctx context.Context, shortcode, username string, media []instagram.MediaItem) []archive.Media {
	targetDir := filepath.Join(d.baseDir, SafeUsername(username))
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		log.Warn("media dir create failed", "dir", targetDir, "err", err)
		return toArchiveMedia(media)
	}

	out := make([]archive.Media, 0, len(media))
	for _, m := range media {
		entry := archive.Media{
			URL: m.URL, MediaType: m.Type, Width: m.Width, Height: m.Height,
		}
		if m.URL == "" {
			out = append(out, entry)
			continue
		}

		dest := filepath.Join(targetDir, mediaFilename(shortcode, m.URL, m.Type))
		if fi, err := os.Stat(dest); err == nil && fi.Size() > 0 {
			entry.LocalPath = dest
			out = append(out, entry)
			continue
		}

		if err := d.fetch(ctx, m.URL, dest); err != nil {
			log.Warn("media download failed", "shortcode", shortcode, "err", err)
			out = append(out, entry)
			continue
		}
		metrics.MediaDownloads.Inc()
		entry.LocalPath = dest
		out = append(out, entry)
	}
	return out
}

type httpStatusError int

func (e httpStatusError) Error() string { return fmt.Sprintf("HTTP %d", int(e)) }

// transient reports whether a download failure is worth retrying: transport
// errors, 429 and 5xx. Other HTTP statuses are permanent for a presigned URL.
func transient(err error) bool {
	var status httpStatusError
	if errors.As(err, &status) {
		return status == http.StatusTooManyRequests || status >= 500
	}
	return true
}

// fetch downloads rawURL to dest, retrying transient failures.
func (d *Downloader) fetch(ctx context.Context, rawURL, dest string) error {
	return retry.Do(ctx, retry.Config{
		MaxAttempts: 3,
		BaseDelay:   d.RetryDelay,
		Retryable:   transient,
	}, func() error {
		return d.fetchOnce(ctx, rawURL, dest)
	})
}

func (d *Downloader) fetchOnce(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", httpclient.DownloadUserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return httpStatusError(resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return err
	}
	metrics.MediaBytes.Add(float64(n))
	return nil
}

// toArchiveMedia converts fetched media entries without downloading.
func toArchiveMedia(media []instagram.MediaItem) []archive.Media {
	out := make([]archive.Media, 0, len(media))
	for _, m := range media {
		out = append(out, archive.Media{
			URL: m.URL, MediaType: m.Type, Width: m.Width, Height: m.Height,
		})
	}
	return out
}
