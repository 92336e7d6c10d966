// Package instagram talks to Instagram's private web APIs using a logged-in
// browser session's cookies. No automation, just the same HTTP requests the
// web app makes.
package instagram

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/publicsuffix"

	"github.com/snapetech/socmed/internal/httpclient"
)

// DefaultBaseURL is the Instagram web origin.
const DefaultBaseURL = "https://www.instagram.com"

const (
	// graphQLDocID identifies the PolarisPostRootQuery persisted query.
	graphQLDocID = "34052121741099006"
	// igAppID is the web app's X-IG-App-ID.
	igAppID = "936619743392459"

	sessionUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// Session is an authenticated Instagram web client. Sessions are not safe
// for concurrent use; each pipeline run builds its own.
type Session struct {
	// BaseURL defaults to DefaultBaseURL. Tests point it at a local server.
	BaseURL string
	// PageDelay is the pause between pagination requests.
	PageDelay time.Duration

	client  *http.Client
	cookies Cookies

	// graphqlAvailable flips to false for the rest of this session once
	// GraphQL returns a checkpoint page instead of JSON. A fresh session
	// always tries GraphQL again.
	graphqlAvailable bool
}

// NewSession builds a client with a publicsuffix cookie jar and the header
// set Instagram's web app sends.
func NewSession(cookies Cookies) (*Session, error) {
	if err := cookies.validate(); err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	client := httpclient.WithTimeout(httpclient.DefaultTimeout)
	client.Jar = jar

	s := &Session{
		BaseURL:          DefaultBaseURL,
		PageDelay:        time.Second,
		client:           client,
		cookies:          cookies,
		graphqlAvailable: true,
	}
	s.seedJar()
	return s, nil
}

// seedJar installs the cookie bundle for the current BaseURL.
func (s *Session) seedJar() {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return
	}
	hc := make([]*http.Cookie, 0, len(s.cookies))
	for name, value := range s.cookies {
		hc = append(hc, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	s.client.Jar.SetCookies(u, hc)
}

// SetBaseURL retargets the session (tests only) and re-seeds the jar.
func (s *Session) SetBaseURL(base string) {
	s.BaseURL = base
	s.seedJar()
}

// UserID returns the authenticated account's numeric id.
func (s *Session) UserID() string { return s.cookies.UserID() }

// GraphQLAvailable reports whether GraphQL is still the primary endpoint for
// this session.
func (s *Session) GraphQLAvailable() bool { return s.graphqlAvailable }

func (s *Session) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", sessionUserAgent)
	req.Header.Set("X-CSRFToken", s.cookies.CSRFToken())
	req.Header.Set("X-IG-App-ID", igAppID)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", s.BaseURL+"/")
	req.Header.Set("Origin", s.BaseURL)
	req.Header.Set("Accept-Encoding", "gzip, br")
}

// get issues a GET to path with query params and returns the decoded body
// and HTTP status.
func (s *Session) get(ctx context.Context, path string, params url.Values) ([]byte, int, error) {
	u := s.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	s.setHeaders(req)
	return s.do(req)
}

// postForm issues a form-encoded POST to path.
func (s *Session) postForm(ctx context.Context, path string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	s.setHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func (s *Session) do(req *http.Request) ([]byte, int, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := decodeBody(resp)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// decodeBody handles the Content-Encodings we advertise. Go's transport only
// transparently decodes gzip when it added the header itself.
func decodeBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(r)
}
