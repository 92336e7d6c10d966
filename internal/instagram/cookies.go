package instagram

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"
)

// ErrMissingCookies means no usable Instagram session was found. Fatal: the
// pipelines cannot authenticate without one.
var ErrMissingCookies = errors.New("missing instagram cookies")

// requiredCookies must all be present for an authenticated session.
var requiredCookies = []string{"sessionid", "csrftoken", "ds_user_id"}

// Cookies is the Instagram cookie bundle keyed by cookie name.
type Cookies map[string]string

// UserID returns the logged-in account's numeric user id.
func (c Cookies) UserID() string { return c["ds_user_id"] }

// CSRFToken returns the csrftoken cookie value.
func (c Cookies) CSRFToken() string { return c["csrftoken"] }

func (c Cookies) validate() error {
	var missing []string
	for _, name := range requiredCookies {
		if c[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s (log into Instagram in your browser first)",
			ErrMissingCookies, strings.Join(missing, ", "))
	}
	return nil
}

// LoadCookies loads the Instagram cookie bundle, trying the JSON file at
// jsonPath first and then the Firefox profile's cookies.sqlite. Either
// source must yield sessionid, csrftoken and ds_user_id.
func LoadCookies(jsonPath, firefoxProfileDir string) (Cookies, error) {
	if jsonPath != "" {
		c, err := loadCookieFile(jsonPath)
		if err == nil {
			return c, c.validate()
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if firefoxProfileDir != "" {
		c, err := loadFirefoxCookies(firefoxProfileDir)
		if err != nil {
			return nil, err
		}
		return c, c.validate()
	}
	return nil, fmt.Errorf("%w: no cookie file at %s and no Firefox profile configured",
		ErrMissingCookies, jsonPath)
}

// loadCookieFile reads a flat {"name": "value"} JSON bundle.
func loadCookieFile(path string) (Cookies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Cookies
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse cookie file %s: %w", path, err)
	}
	return c, nil
}

// loadFirefoxCookies reads Instagram cookies out of a Firefox profile's
// cookies.sqlite. The database is copied to a temp file first because
// Firefox holds it locked while running.
func loadFirefoxCookies(profileDir string) (Cookies, error) {
	src := filepath.Join(profileDir, "cookies.sqlite")
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", src, err)
	}

	tmp, err := os.CreateTemp("", "socmed-cookies-*.sqlite")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("open cookie db: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(
		`SELECT name, value FROM moz_cookies WHERE host LIKE '%instagram.com'`)
	if err != nil {
		return nil, fmt.Errorf("query cookie db: %w", err)
	}
	defer rows.Close()

	c := Cookies{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		c[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	log.Debug("loaded cookies from firefox profile", "profile", profileDir, "count", len(c))
	return c, nil
}
