// Package enricher fills in pending archive records from the platform API
// and downloads their media.
package enricher

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/snapetech/socmed/internal/archive"
	"github.com/snapetech/socmed/internal/config"
	"github.com/snapetech/socmed/internal/instagram"
	"github.com/snapetech/socmed/internal/metrics"
	"github.com/snapetech/socmed/internal/store"
	"github.com/snapetech/socmed/internal/syncstate"
)

// Instagram's anti-automation kicks in after ~700 requests in a session.
// A proactive cooldown every 600 fetches keeps us under the wall; a burst
// of consecutive failures triggers it early.
const (
	defaultCooldownEvery = 600
	defaultCooldownPause = 120 * time.Second
	defaultMaxConsecFail = 10

	defaultRateLimitPause = 60 * time.Second
	defaultDrainTimeout   = 120 * time.Second
	defaultDelay          = 3 * time.Second
	defaultSaveEvery      = 25

	downloadWorkers = 4
)

// Options are the tunables for one enrichment run.
type Options struct {
	Limit         int           // 0 = all pending
	Delay         time.Duration // pause between API fetches
	SaveEvery     int           // flush batch every N posts
	DownloadMedia bool
	Collection    string // substring filter on collections
}

func (o *Options) applyDefaults() {
	if o.Delay <= 0 {
		o.Delay = defaultDelay
	}
	if o.SaveEvery <= 0 {
		o.SaveEvery = defaultSaveEvery
	}
}

// Enricher drives the enrichment pipeline over one archive.
type Enricher struct {
	Store      *store.Store
	Tracker    *syncstate.Tracker
	Downloader *Downloader

	// LoadCookies is called at startup and after every pause to pick up
	// platform-rotated session ids.
	LoadCookies func() (instagram.Cookies, error)

	// BaseURL overrides the API origin (tests).
	BaseURL string
	// Out receives progress output. Defaults to stdout.
	Out io.Writer

	RateLimitPause  time.Duration
	CooldownEvery   int
	CooldownPause   time.Duration
	MaxConsecFail   int
	DrainTimeout    time.Duration
	RedownloadPause time.Duration
}

// New wires an Enricher from config.
func New(cfg *config.Config) *Enricher {
	return &Enricher{
		Store:      store.New(cfg.PostsPath, "id"),
		Tracker:    syncstate.NewTracker(cfg.SyncStatePath),
		Downloader: NewDownloader(cfg.MediaDir),
		LoadCookies: func() (instagram.Cookies, error) {
			return instagram.LoadCookies(cfg.CookiesPath, cfg.FirefoxProfileDir)
		},
		Out:             os.Stdout,
		RateLimitPause:  defaultRateLimitPause,
		CooldownEvery:   defaultCooldownEvery,
		CooldownPause:   defaultCooldownPause,
		MaxConsecFail:   defaultMaxConsecFail,
		DrainTimeout:    defaultDrainTimeout,
		RedownloadPause: 2500 * time.Millisecond,
	}
}

func (e *Enricher) out() io.Writer {
	if e.Out != nil {
		return e.Out
	}
	return os.Stdout
}

// newSession reloads cookies and builds a fresh session.
func (e *Enricher) newSession() (*instagram.Session, error) {
	cookies, err := e.LoadCookies()
	if err != nil {
		return nil, err
	}
	s, err := instagram.NewSession(cookies)
	if err != nil {
		return nil, err
	}
	if e.BaseURL != "" {
		s.SetBaseURL(e.BaseURL)
	}
	return s, nil
}

// Pending returns the shortcodes of records still needing enrichment, in
// file order, optionally filtered by collection substring and capped.
func (e *Enricher) Pending(collection string, limit int) ([]string, error) {
	items, err := e.Store.Read()
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, it := range items {
		p, err := archive.Decode(it)
		if err != nil {
			continue
		}
		if !p.Pending() || !p.MatchesCollection(collection) {
			continue
		}
		pending = append(pending, p.ID)
		if limit > 0 && len(pending) >= limit {
			break
		}
	}
	return pending, nil
}

// Counts summarizes one batch application.
type Counts struct {
	Enriched  int
	Deleted   int
	Failed    int
	Remaining int
}

// outcome pairs a fetch result with its (possibly downloaded) media. The
// download worker replaces Media in place; the main loop only reads it
// after draining the pool.
type outcome struct {
	res   instagram.FetchResult
	media []archive.Media
}

// Run executes the enrichment loop until all pending posts are processed,
// the context is cancelled, or a cookie refresh fails.
func (e *Enricher) Run(ctx context.Context, opts Options) error {
	opts.applyDefaults()

	fmt.Fprintln(e.out(), "Loading cookies...")
	session, err := e.newSession()
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out(), "Authenticated as user %s\n", session.UserID())

	// Auth check against a known public post before committing to a run.
	test := session.FetchPost(ctx, instagram.TestShortcode)
	if test.Status == instagram.StatusError {
		return fmt.Errorf("auth test failed: %s", test.Message)
	}
	mode := "GraphQL"
	if !session.GraphQLAvailable() {
		mode = "REST API (GraphQL checkpointed)"
	}
	fmt.Fprintf(e.out(), "Auth test passed via %s (fetched @%s)\n", mode, test.Username)

	pending, err := e.Pending(opts.Collection, opts.Limit)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(e.out(), "No posts need enrichment.")
		return nil
	}
	fmt.Fprintf(e.out(), "\nStarting enrichment: %d posts (1 request every %s)\n\n",
		len(pending), opts.Delay)

	limiter := rate.NewLimiter(rate.Every(opts.Delay), 1)

	var (
		batch      []*outcome
		enrichTot  int
		deletedTot int
		failedTot  int
		consecFail int
		runErr     string
	)

	// Downloads run concurrently with the fetch loop, unconstrained while the
	// batch accumulates. The drain deadline starts only when a flush begins.
	newPool := func() (*errgroup.Group, context.Context, context.CancelFunc) {
		gctx, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(gctx)
		g.SetLimit(downloadWorkers)
		return g, gctx, cancel
	}
	drainPool := func(g *errgroup.Group, cancel context.CancelFunc) {
		defer cancel()
		done := make(chan struct{})
		go func() { g.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(e.DrainTimeout):
			cancel()
			<-done
		}
	}
	pool, poolCtx, cancelPool := newPool()
	defer func() { cancelPool() }()

loop:
	for i, shortcode := range pending {
		if err := limiter.Wait(ctx); err != nil {
			runErr = err.Error()
			break
		}

		res := session.FetchPost(ctx, shortcode)
		metrics.PostFetches.WithLabelValues(string(res.Status)).Inc()
		o := &outcome{res: res, media: toArchiveMedia(res.Media)}
		batch = append(batch, o)

		rateLimited := false
		switch res.Status {
		case instagram.StatusOK:
			enrichTot++
			consecFail = 0
			fmt.Fprint(e.out(), ".")
			if opts.DownloadMedia && len(res.Media) > 0 {
				dctx := poolCtx
				pool.Go(func() error {
					o.media = e.Downloader.DownloadPostMedia(
						dctx, o.res.Shortcode, o.res.Username, o.res.Media)
					return nil
				})
			}
		case instagram.StatusNotFound:
			deletedTot++
			consecFail = 0
			fmt.Fprint(e.out(), "X")
		case instagram.StatusRateLimited:
			rateLimited = true
			consecFail++
			fmt.Fprint(e.out(), "!")
		default:
			failedTot++
			consecFail++
			fmt.Fprint(e.out(), "?")
		}

		needsCooldown := (i+1)%e.CooldownEvery == 0 || consecFail >= e.MaxConsecFail

		if (i+1)%opts.SaveEvery == 0 || i == len(pending)-1 || rateLimited || needsCooldown {
			drainPool(pool, cancelPool)
			counts, err := e.applyBatch(batch)
			if err != nil {
				return err
			}
			batch = batch[:0]
			pool, poolCtx, cancelPool = newPool()
			fmt.Fprintf(e.out(), " [%d/%d] +%d enriched, %d deleted, %d failed | %d remaining\n",
				i+1, len(pending), counts.Enriched, counts.Deleted, counts.Failed, counts.Remaining)
		}

		switch {
		case rateLimited:
			fmt.Fprintf(e.out(), "\nRate limited! Backing off for %s...\n", e.RateLimitPause)
			if err := sleep(ctx, e.RateLimitPause); err != nil {
				runErr = err.Error()
				break loop
			}
			session, err = e.newSession()
			if err != nil {
				log.Error("cookie refresh failed", "err", err)
				runErr = "cookie refresh failed: " + err.Error()
				break loop
			}
			consecFail = 0
			fmt.Fprintln(e.out(), "Resumed after rate limit pause.")

		case needsCooldown:
			fmt.Fprintf(e.out(), "\nCooling down: pausing %s...\n", e.CooldownPause)
			if err := sleep(ctx, e.CooldownPause); err != nil {
				runErr = err.Error()
				break loop
			}
			session, err = e.newSession()
			if err != nil {
				log.Error("cookie refresh failed", "err", err)
				runErr = "cookie refresh failed: " + err.Error()
				break loop
			}
			consecFail = 0
			fmt.Fprintln(e.out(), "Resumed after cooldown.")
		}
	}

	// Flush whatever survived an early exit.
	if len(batch) > 0 {
		drainPool(pool, cancelPool)
		if _, err := e.applyBatch(batch); err != nil {
			return err
		}
	}

	cursor, err := e.Tracker.Get(archive.Platform, "saved")
	if err != nil {
		return err
	}
	if runErr == "" {
		cursor.MarkSuccess(enrichTot, "", "")
	} else {
		cursor.MarkPartial(enrichTot, runErr)
	}
	if err := e.Tracker.Save(cursor); err != nil {
		return err
	}

	fmt.Fprintf(e.out(), "\nEnrichment complete\n  Enriched: %d\n  Deleted:  %d\n  Failed:   %d\n",
		enrichTot, deletedTot, failedTot)
	return nil
}

// applyBatch folds a batch of fetch outcomes into the archive via
// patch_items and bumps the enrichment cursor.
func (e *Enricher) applyBatch(batch []*outcome) (Counts, error) {
	var counts Counts
	patches := map[string]store.Item{}

	for _, o := range batch {
		switch o.res.Status {
		case instagram.StatusOK:
			patches[o.res.Shortcode] = enrichPatch(o)
			counts.Enriched++
		case instagram.StatusNotFound:
			patches[o.res.Shortcode] = store.Item{
				"source": archive.SourceDeleted,
				"text":   archive.Unavailable,
			}
			counts.Deleted++
		default:
			counts.Failed++
		}
	}

	n, err := e.Store.PatchItems(patches)
	if err != nil {
		return counts, err
	}
	metrics.StorePatches.Add(float64(n))

	remaining, err := e.countRemaining()
	if err != nil {
		return counts, err
	}
	counts.Remaining = remaining

	cursor, err := e.Tracker.Get(archive.Platform, "enrichment")
	if err != nil {
		return counts, err
	}
	cursor.MarkSuccess(counts.Enriched, "", "")
	return counts, e.Tracker.Save(cursor)
}

// enrichPatch builds the patch for a successfully fetched post. Fields the
// extractor owns are never touched.
func enrichPatch(o *outcome) store.Item {
	caption := o.res.Caption
	if caption == "" {
		caption = archive.NoCaption
	}
	patch := store.Item{
		"text": caption,
		"author": map[string]any{
			"username":     o.res.Username,
			"display_name": o.res.FullName,
			"profile_url":  archive.ProfileURLFor(o.res.Username),
		},
		"source": archive.SourceEnriched,
	}
	if len(o.media) > 0 {
		patch["media"] = mediaItems(o.media)
	}
	if o.res.LikeCount > 0 {
		patch["like_count"] = o.res.LikeCount
	}
	if o.res.CommentCount > 0 {
		patch["reply_count"] = o.res.CommentCount
	}
	if o.res.TakenAt > 0 {
		patch["created_at"] = time.Unix(o.res.TakenAt, 0).UTC().Format(time.RFC3339)
	}
	if o.res.PK != "" {
		patch["media_pk"] = o.res.PK
	}
	return patch
}

// mediaItems converts archive media to raw store values.
func mediaItems(media []archive.Media) []map[string]any {
	out := make([]map[string]any, 0, len(media))
	for _, m := range media {
		out = append(out, map[string]any{
			"url":        m.URL,
			"media_type": m.MediaType,
			"local_path": m.LocalPath,
			"alt_text":   m.AltText,
			"width":      m.Width,
			"height":     m.Height,
		})
	}
	return out
}

func (e *Enricher) countRemaining() (int, error) {
	items, err := e.Store.Read()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, it := range items {
		if p, err := archive.Decode(it); err == nil && p.Pending() {
			n++
		}
	}
	return n, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
