// Package bootstrap syncs saved posts straight from the platform API into
// the archive. Posts arrive pre-enriched (caption, author, media URLs), so
// they skip enrichment and go straight to extraction.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"

	"github.com/snapetech/socmed/internal/archive"
	"github.com/snapetech/socmed/internal/config"
	"github.com/snapetech/socmed/internal/enricher"
	"github.com/snapetech/socmed/internal/instagram"
	"github.com/snapetech/socmed/internal/store"
	"github.com/snapetech/socmed/internal/syncstate"
)

const downloadWorkers = 4

// Bootstrap drives the API sync pipeline.
type Bootstrap struct {
	Store      *store.Store
	Tracker    *syncstate.Tracker
	Downloader *enricher.Downloader

	LoadCookies func() (instagram.Cookies, error)

	// BaseURL overrides the API origin (tests).
	BaseURL string
	// Out receives progress output. Defaults to stdout.
	Out io.Writer
}

// New wires a Bootstrap from config.
func New(cfg *config.Config) *Bootstrap {
	return &Bootstrap{
		Store:      store.New(cfg.PostsPath, "id"),
		Tracker:    syncstate.NewTracker(cfg.SyncStatePath),
		Downloader: enricher.NewDownloader(cfg.MediaDir),
		LoadCookies: func() (instagram.Cookies, error) {
			return instagram.LoadCookies(cfg.CookiesPath, cfg.FirefoxProfileDir)
		},
		Out: os.Stdout,
	}
}

func (b *Bootstrap) out() io.Writer {
	if b.Out != nil {
		return b.Out
	}
	return os.Stdout
}

func (b *Bootstrap) newSession() (*instagram.Session, error) {
	cookies, err := b.LoadCookies()
	if err != nil {
		return nil, err
	}
	s, err := instagram.NewSession(cookies)
	if err != nil {
		return nil, err
	}
	if b.BaseURL != "" {
		s.SetBaseURL(b.BaseURL)
	}
	return s, nil
}

// ItemToPost converts a saved-feed item into a full archive record.
// collectionMap maps collection id to display name; unknown ids are
// dropped from the record's collections.
func ItemToPost(it *instagram.Item, collectionMap map[string]string) archive.Post {
	contentType := archive.ContentSavedPost
	if it.MediaType == 2 {
		contentType = archive.ContentReel
	}

	caption := it.CaptionText()
	if caption == "" {
		caption = archive.NoCaption
	}

	var collections []string
	for _, cid := range it.SavedCollectionIDs {
		if name := collectionMap[cid.String()]; name != "" {
			collections = append(collections, name)
		}
	}

	media := make([]archive.Media, 0)
	for _, m := range it.ExtractMedia() {
		media = append(media, archive.Media{
			URL: m.URL, MediaType: m.Type, Width: m.Width, Height: m.Height,
		})
	}

	now := archive.Now()
	return archive.Post{
		ID:          it.Code,
		Platform:    archive.Platform,
		ContentType: contentType,
		Text:        caption,
		Author: archive.Author{
			Username:    it.User.Username,
			DisplayName: it.User.FullName,
			ProfileURL:  archive.ProfileURLFor(it.User.Username),
		},
		Media:       media,
		PostURL:     archive.PermalinkFor(it.Code, contentType),
		CreatedAt:   it.CreatedAt(),
		SavedAt:     now,
		HarvestedAt: now,
		LikeCount:   it.LikeCount,
		ReplyCount:  it.CommentCount,
		Source:      archive.SourceEnriched,
		Collections: collections,
		MediaPK:     it.PK.String(),
	}
}

// SyncOptions are the tunables for one sync run.
type SyncOptions struct {
	Limit         int           // 0 = all
	Delay         time.Duration // pause between feed pages
	DownloadMedia bool
	Collection    string // substring filter
}

// RunSync pulls the saved feed, dedups against the store by shortcode, and
// appends new records with their media.
func (b *Bootstrap) RunSync(ctx context.Context, opts SyncOptions) error {
	if opts.Delay <= 0 {
		opts.Delay = 2 * time.Second
	}

	fmt.Fprintln(b.out(), "Loading cookies...")
	session, err := b.newSession()
	if err != nil {
		return err
	}
	session.PageDelay = opts.Delay
	fmt.Fprintf(b.out(), "Authenticated as user %s\n", session.UserID())

	fmt.Fprintln(b.out(), "\nFetching collections...")
	collections, err := session.FetchCollections(ctx)
	if err != nil {
		return err
	}
	if len(collections) == 0 {
		return fmt.Errorf("no collections found; check that the session is still valid")
	}
	collectionMap := map[string]string{}
	totalSaved := 0
	for _, c := range collections {
		collectionMap[c.ID] = c.Name
		totalSaved += c.Count
	}
	fmt.Fprintf(b.out(), "Found %d collections (%d total posts)\n", len(collections), totalSaved)

	existing := map[string]bool{}
	items, err := b.Store.Read()
	if err != nil {
		return err
	}
	for _, it := range items {
		if id, ok := it["id"].(string); ok {
			existing[id] = true
		}
	}
	fmt.Fprintf(b.out(), "Existing posts in store: %d\n\n", len(existing))

	// Paginate the saved feed.
	var fetched []archive.Post
	maxID := ""
	pages := 0
feed:
	for {
		page, err := session.FetchSavedPage(ctx, maxID)
		if err != nil {
			return err
		}
		pages++
		for i := range page.Items {
			post := ItemToPost(&page.Items[i], collectionMap)
			if !post.MatchesCollection(opts.Collection) {
				continue
			}
			fetched = append(fetched, post)
			if opts.Limit > 0 && len(fetched) >= opts.Limit {
				break feed
			}
		}
		fmt.Fprintf(b.out(), "\r  Fetched %d posts (%d pages)...", len(fetched), pages)
		if !page.MoreAvailable {
			break
		}
		maxID = page.NextMaxID
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.Delay):
		}
	}
	fmt.Fprintln(b.out())

	newPosts := make([]archive.Post, 0, len(fetched))
	for _, p := range fetched {
		if !existing[p.ID] {
			newPosts = append(newPosts, p)
		}
	}
	fmt.Fprintf(b.out(), "Fetched %d posts (%d new, %d already in store)\n",
		len(fetched), len(newPosts), len(fetched)-len(newPosts))
	if len(newPosts) == 0 {
		fmt.Fprintln(b.out(), "All posts already in store. Nothing to do.")
		return nil
	}

	if opts.DownloadMedia {
		fmt.Fprintf(b.out(), "\nDownloading media for %d new posts...\n", len(newPosts))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(downloadWorkers)
		for i := range newPosts {
			p := &newPosts[i]
			if len(p.Media) == 0 {
				continue
			}
			g.Go(func() error {
				items := make([]instagram.MediaItem, 0, len(p.Media))
				for _, m := range p.Media {
					if m.URL == "" {
						continue
					}
					items = append(items, instagram.MediaItem{
						Type: m.MediaType, URL: m.URL, Width: m.Width, Height: m.Height,
					})
				}
				p.Media = b.Downloader.DownloadPostMedia(gctx, p.ID, p.Author.Username, items)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	newItems := make([]store.Item, 0, len(newPosts))
	for _, p := range newPosts {
		item, err := p.Encode()
		if err != nil {
			return err
		}
		newItems = append(newItems, item)
	}
	added, err := b.Store.Append(newItems, nil)
	if err != nil {
		return err
	}
	total, err := b.Store.Count()
	if err != nil {
		return err
	}
	fmt.Fprintf(b.out(), "\nAdded %d new posts to store (total: %d)\n", added, total)

	cursor, err := b.Tracker.Get(archive.Platform, "saved")
	if err != nil {
		return err
	}
	cursor.MarkSuccess(total, "", "")
	return b.Tracker.Save(cursor)
}

// CollectionSummary lists the account's saved collections, largest first.
func (b *Bootstrap) CollectionSummary(ctx context.Context) (string, error) {
	session, err := b.newSession()
	if err != nil {
		return "", err
	}
	collections, err := session.FetchCollections(ctx)
	if err != nil {
		return "", err
	}
	if len(collections) == 0 {
		return "No collections found.", nil
	}
	sort.Slice(collections, func(i, j int) bool { return collections[i].Count > collections[j].Count })

	total := 0
	for _, c := range collections {
		total += c.Count
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d collections (%d total posts):\n\n", len(collections), total)
	for _, c := range collections {
		fmt.Fprintf(&sb, "  %s: %d posts (id=%s)\n", c.Name, c.Count, c.ID)
	}
	return sb.String(), nil
}

// SyncDelta compares per-collection counts between the API and the local
// store.
func (b *Bootstrap) SyncDelta(ctx context.Context) (string, error) {
	session, err := b.newSession()
	if err != nil {
		return "", err
	}
	collections, err := session.FetchCollections(ctx)
	if err != nil {
		return "", err
	}

	items, err := b.Store.Read()
	if err != nil {
		return "", err
	}
	local := map[string]int{}
	inCollections := 0
	for _, it := range items {
		p, err := archive.Decode(it)
		if err != nil {
			continue
		}
		for _, c := range p.Collections {
			local[c]++
			inCollections++
		}
	}

	sort.Slice(collections, func(i, j int) bool { return collections[i].Count > collections[j].Count })

	var sb strings.Builder
	tbl := tablewriter.NewWriter(&sb)
	tbl.SetHeader([]string{"Collection", "API", "Local", "Delta"})
	tbl.SetBorder(false)
	tbl.SetAutoFormatHeaders(false)

	apiTotal, localTotal := 0, 0
	for _, c := range collections {
		apiTotal += c.Count
		localTotal += local[c.Name]
		tbl.Append([]string{c.Name,
			fmt.Sprint(c.Count), fmt.Sprint(local[c.Name]),
			deltaString(c.Count - local[c.Name])})
	}
	tbl.SetFooter([]string{"TOTAL",
		fmt.Sprint(apiTotal), fmt.Sprint(localTotal), deltaString(apiTotal - localTotal)})
	tbl.Render()

	fmt.Fprintf(&sb, "\nLocal posts not in any collection: %d\n", len(items)-inCollections)
	return sb.String(), nil
}

func deltaString(d int) string {
	if d > 0 {
		return fmt.Sprintf("+%d", d)
	}
	return fmt.Sprint(d)
}
