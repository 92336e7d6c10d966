package enricher

import (
	"context"
	"fmt"

	"github.com/snapetech/socmed/internal/archive"
	"github.com/snapetech/socmed/internal/instagram"
)

// RunMediaDownload downloads media for already-enriched posts missing local
// files. CDN URLs expire, so each post is re-fetched for fresh ones. This is
// a single-writer entry point: it saves via full-store writes, so it must
// not run concurrently with other pipelines.
func (e *Enricher) RunMediaDownload(ctx context.Context, limit int) error {
	fmt.Fprintln(e.out(), "Loading cookies...")
	session, err := e.newSession()
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out(), "Authenticated as user %s\n", session.UserID())

	items, err := e.Store.Read()
	if err != nil {
		return err
	}

	// Index of records with a media URL but no local file.
	var needs []int
	for i, it := range items {
		p, err := archive.Decode(it)
		if err != nil || p.Source != archive.SourceEnriched {
			continue
		}
		for _, m := range p.Media {
			if m.URL != "" && m.LocalPath == "" {
				needs = append(needs, i)
				break
			}
		}
		if limit > 0 && len(needs) >= limit {
			break
		}
	}
	if len(needs) == 0 {
		fmt.Fprintln(e.out(), "No posts need media downloads.")
		return nil
	}
	fmt.Fprintf(e.out(), "\nDownloading media for %d enriched posts (re-fetching fresh CDN URLs)\n\n", len(needs))

	downloaded := 0
	failed := 0

	for n, idx := range needs {
		p, err := archive.Decode(items[idx])
		if err != nil {
			continue
		}
		res := session.FetchPost(ctx, p.ID)
		if res.Status != instagram.StatusOK || len(res.Media) == 0 {
			fmt.Fprint(e.out(), "?")
			failed++
		} else {
			username := res.Username
			if username == "" {
				username = p.Author.Username
			}
			media := e.Downloader.DownloadPostMedia(ctx, p.ID, username, res.Media)
			items[idx]["media"] = mediaItems(media)
			for _, m := range media {
				if m.LocalPath != "" {
					downloaded++
				}
			}
			fmt.Fprint(e.out(), ".")
		}

		if (n+1)%25 == 0 || n == len(needs)-1 {
			if err := e.Store.Write(items); err != nil {
				return err
			}
			fmt.Fprintf(e.out(), " [%d/%d] %d files\n", n+1, len(needs), downloaded)
		}

		if n < len(needs)-1 {
			if err := sleep(ctx, e.RedownloadPause); err != nil {
				return e.Store.Write(items)
			}
		}
	}

	fmt.Fprintf(e.out(), "\nMedia download complete\n  Downloaded: %d files\n", downloaded)
	if failed > 0 {
		fmt.Fprintf(e.out(), "  Failed: %d\n", failed)
	}
	return nil
}
