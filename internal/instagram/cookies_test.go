package instagram

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCookiesFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"sessionid":"s","csrftoken":"c","ds_user_id":"42","mid":"x"}`), 0o600))

	c, err := LoadCookies(path, "")
	require.NoError(t, err)
	assert.Equal(t, "42", c.UserID())
	assert.Equal(t, "c", c.CSRFToken())
	assert.Equal(t, "x", c["mid"])
}

func TestLoadCookiesMissingRequired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"sessionid":"s"}`), 0o600))

	_, err := LoadCookies(path, "")
	assert.ErrorIs(t, err, ErrMissingCookies)
	assert.Contains(t, err.Error(), "csrftoken")
	assert.Contains(t, err.Error(), "ds_user_id")
}

func TestLoadCookiesNoSources(t *testing.T) {
	_, err := LoadCookies(filepath.Join(t.TempDir(), "nope.json"), "")
	assert.ErrorIs(t, err, ErrMissingCookies)
}

func TestLoadCookiesFirefoxFallback(t *testing.T) {
	profile := t.TempDir()
	db, err := sql.Open("sqlite", filepath.Join(profile, "cookies.sqlite"))
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE moz_cookies (host TEXT, name TEXT, value TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO moz_cookies (host, name, value) VALUES
		('.instagram.com', 'sessionid', 's'),
		('.instagram.com', 'csrftoken', 'c'),
		('.instagram.com', 'ds_user_id', '42'),
		('.example.com', 'other', 'ignored')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	c, err := LoadCookies(filepath.Join(t.TempDir(), "absent.json"), profile)
	require.NoError(t, err)
	assert.Equal(t, "42", c.UserID())
	assert.NotContains(t, c, "other")
}

func TestNewSessionRejectsIncompleteCookies(t *testing.T) {
	_, err := NewSession(Cookies{"sessionid": "s"})
	assert.ErrorIs(t, err, ErrMissingCookies)
}
