package enricher

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/snapetech/socmed/internal/archive"
)

// Stats summarizes the archive's enrichment and media state.
type Stats struct {
	Total    int
	Enriched int
	Pending  int
	Deleted  int

	MediaFiles   int
	MediaBytes   int64
	WithLocal    int // enriched posts with at least one local file
	MissingLocal int // enriched posts with media but no local files
}

func (s *Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total:     %d\n", s.Total)
	fmt.Fprintf(&b, "Enriched:  %d\n", s.Enriched)
	fmt.Fprintf(&b, "Pending:   %d\n", s.Pending)
	fmt.Fprintf(&b, "Deleted:   %d\n", s.Deleted)
	fmt.Fprintf(&b, "\nMedia:     %d files (%.1f MB)\n", s.MediaFiles,
		float64(s.MediaBytes)/(1024*1024))
	fmt.Fprintf(&b, "  With local files:    %d\n", s.WithLocal)
	fmt.Fprintf(&b, "  Missing local files: %d\n", s.MissingLocal)
	return b.String()
}

// Stats reads the archive and walks the media tree.
func (e *Enricher) Stats() (*Stats, error) {
	items, err := e.Store.Read()
	if err != nil {
		return nil, err
	}

	s := &Stats{Total: len(items)}
	for _, it := range items {
		p, err := archive.Decode(it)
		if err != nil {
			continue
		}
		switch {
		case p.Pending():
			s.Pending++
		case p.Source == archive.SourceEnriched:
			s.Enriched++
			if p.HasLocalMedia() {
				s.WithLocal++
			} else if len(p.Media) > 0 {
				s.MissingLocal++
			}
		case p.Source == archive.SourceDeleted:
			s.Deleted++
		}
	}

	filepath.WalkDir(e.Downloader.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !knownExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			s.MediaFiles++
			s.MediaBytes += fi.Size()
		}
		return nil
	})
	return s, nil
}
