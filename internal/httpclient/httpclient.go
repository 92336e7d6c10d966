// Package httpclient provides the shared tuned HTTP clients used by the
// session, the media downloader and the metrics listener.
package httpclient

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout         = 15 * time.Second
	DownloadTimeout        = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 8
)

// DownloadUserAgent is the plain browser UA used for CDN downloads. CDN URLs
// are presigned, so no cookies are sent with them.
const DownloadUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)"

var defaultClient *http.Client

func init() {
	defaultClient = &http.Client{
		Timeout: DefaultTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: MaxIdleConnsPerHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
		},
	}
}

// Default returns the shared tuned HTTP client.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with the given timeout and the same transport
// as Default (or a copy).
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: t.Clone(),
	}
}
