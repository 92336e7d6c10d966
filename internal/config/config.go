// Package config resolves the archive layout and pipeline tunables.
//
// Everything is driven by environment variables so the pipelines can run
// unattended from cron/systemd. Call LoadEnvFile(".env") before Load() to use
// a .env file.
package config

import (
	"os"
	"path/filepath"
)

// EnvDataDir overrides the archive root. When unset, the root is the
// directory next to the binary if it contains a data/ layout, otherwise the
// current working directory.
const EnvDataDir = "SOCMED_DATA_DIR"

// Config holds archive paths plus external tool and endpoint settings.
type Config struct {
	// Root is the archive root; everything else is derived from it unless
	// individually overridden.
	Root string

	PostsPath     string // data/instagram/saved_posts.json
	SyncStatePath string // data/sync_state.json
	MediaDir      string // data/media
	CookiesPath   string // credentials/instagram/cookies.json

	// FirefoxProfileDir is searched for cookies.sqlite when the JSON cookie
	// bundle is absent. Empty = skip the sqlite fallback.
	FirefoxProfileDir string

	// External tool paths; all default to the bare binary name (resolved
	// from PATH). Tests point these at stubs.
	FFmpegPath    string
	FFprobePath   string
	WhisperPath   string
	WhisperModel  string
	TesseractPath string

	// MetricsAddr, when non-empty, serves prometheus metrics on that address
	// for the lifetime of a pipeline run.
	MetricsAddr string
}

// Load reads configuration from the environment.
func Load() *Config {
	root := os.Getenv(EnvDataDir)
	if root == "" {
		root = detectRoot()
	}
	c := &Config{
		Root:              root,
		PostsPath:         getEnv("SOCMED_POSTS_FILE", filepath.Join(root, "data", "instagram", "saved_posts.json")),
		SyncStatePath:     getEnv("SOCMED_SYNC_STATE_FILE", filepath.Join(root, "data", "sync_state.json")),
		MediaDir:          getEnv("SOCMED_MEDIA_DIR", filepath.Join(root, "data", "media")),
		CookiesPath:       getEnv("SOCMED_COOKIES_FILE", filepath.Join(root, "credentials", "instagram", "cookies.json")),
		FirefoxProfileDir: os.Getenv("SOCMED_FIREFOX_PROFILE"),
		FFmpegPath:        getEnv("SOCMED_FFMPEG", "ffmpeg"),
		FFprobePath:       getEnv("SOCMED_FFPROBE", "ffprobe"),
		WhisperPath:       getEnv("SOCMED_WHISPER", "whisper-cli"),
		WhisperModel:      os.Getenv("SOCMED_WHISPER_MODEL"),
		TesseractPath:     getEnv("SOCMED_TESSERACT", "tesseract"),
		MetricsAddr:       os.Getenv("SOCMED_METRICS_ADDR"),
	}
	return c
}

// detectRoot prefers the directory containing the binary when it already has
// a data/ layout; otherwise the current working directory.
func detectRoot() string {
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		if fi, err := os.Stat(filepath.Join(dir, "data")); err == nil && fi.IsDir() {
			return dir
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// EnsureDirs creates the directories the pipelines write into.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{
		filepath.Dir(c.PostsPath),
		filepath.Dir(c.SyncStatePath),
		c.MediaDir,
		filepath.Dir(c.CookiesPath),
	} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
