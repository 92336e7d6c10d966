// Package extractor mines downloaded media for text: Whisper transcription
// of video audio tracks, OCR of video frames and images.
//
// Progress is materialized per record in the extracted_text field, so runs
// are resumable and the pipeline never needs its own cursor.
package extractor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/snapetech/socmed/internal/archive"
	"github.com/snapetech/socmed/internal/config"
	"github.com/snapetech/socmed/internal/metrics"
	"github.com/snapetech/socmed/internal/store"
)

const defaultSaveEvery = 10

// Extractor drives text extraction over one archive.
type Extractor struct {
	Store *store.Store

	FFmpegPath    string
	FFprobePath   string
	WhisperPath   string
	WhisperModel  string
	TesseractPath string

	// Out receives progress output. Defaults to stdout.
	Out io.Writer
}

// New wires an Extractor from config.
func New(cfg *config.Config) *Extractor {
	return &Extractor{
		Store:         store.New(cfg.PostsPath, "id"),
		FFmpegPath:    cfg.FFmpegPath,
		FFprobePath:   cfg.FFprobePath,
		WhisperPath:   cfg.WhisperPath,
		WhisperModel:  cfg.WhisperModel,
		TesseractPath: cfg.TesseractPath,
		Out:           os.Stdout,
	}
}

func (e *Extractor) out() io.Writer {
	if e.Out != nil {
		return e.Out
	}
	return os.Stdout
}

// Options are the tunables for one extraction run.
type Options struct {
	Collection  string
	Limit       int
	SaveEvery   int
	SkipWhisper bool // OCR only
	SkipOCR     bool // audio only
}

// Candidates returns posts with at least one local media file and no
// extraction yet, in file order.
func (e *Extractor) Candidates(collection string, limit int) ([]archive.Post, error) {
	items, err := e.Store.Read()
	if err != nil {
		return nil, err
	}
	var out []archive.Post
	for _, it := range items {
		p, err := archive.Decode(it)
		if err != nil {
			continue
		}
		if p.Extracted != nil {
			continue
		}
		if !p.HasLocalMedia() || !p.MatchesCollection(collection) {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Run processes every candidate post and patches extracted_text into the
// archive at save boundaries.
func (e *Extractor) Run(ctx context.Context, opts Options) error {
	if opts.SaveEvery <= 0 {
		opts.SaveEvery = defaultSaveEvery
	}

	candidates, err := e.Candidates(opts.Collection, opts.Limit)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		fmt.Fprintln(e.out(), "No posts need text extraction.")
		return nil
	}

	nVideos, nImages := 0, 0
	for _, p := range candidates {
		for _, m := range p.Media {
			if m.LocalPath == "" {
				continue
			}
			switch m.MediaType {
			case "video":
				nVideos++
			case "image":
				nImages++
			}
		}
	}
	fmt.Fprintf(e.out(), "Found %d posts needing extraction\n", len(candidates))
	fmt.Fprintf(e.out(), "  Videos to process: %d\n", nVideos)
	fmt.Fprintf(e.out(), "  Images to process: %d\n\n", nImages)

	patches := map[string]store.Item{}
	processed := 0
	transcribed := 0
	imagesOCRd := 0
	audioSecs := 0.0

	for ci, post := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}

		transcripts := make([]string, 0, 1)
		var postOCR []OCRText

		for _, m := range post.Media {
			if m.LocalPath == "" {
				continue
			}
			if _, err := os.Stat(m.LocalPath); err != nil {
				continue
			}

			switch m.MediaType {
			case "video":
				if !opts.SkipWhisper {
					if text, secs := e.transcribeVideo(ctx, m.LocalPath); text != "" {
						transcripts = append(transcripts, text)
						transcribed++
						audioSecs += secs
					}
				}
				if !opts.SkipOCR {
					postOCR = append(postOCR, e.ocrVideoFrames(ctx, m.LocalPath)...)
				}
			case "image":
				if !opts.SkipOCR {
					postOCR = append(postOCR, e.OCRImage(ctx, m.LocalPath)...)
					imagesOCRd++
				}
			}
		}

		status := archive.ExtractionComplete
		if opts.SkipWhisper && nVideos > 0 {
			status = archive.ExtractionNoAudio
		}
		if opts.SkipOCR {
			status = archive.ExtractionNoOCR
		}

		ocrTexts := DedupTexts(postOCR)
		patches[post.ID] = store.Item{
			"extracted_text": map[string]any{
				"audio_transcripts": transcripts,
				"ocr_texts":         ocrTexts,
				"extracted_at":      archive.Now(),
				"extraction_status": status,
			},
		}
		processed++
		fmt.Fprint(e.out(), indicator(len(transcripts) > 0, len(ocrTexts) > 0))

		if processed%opts.SaveEvery == 0 || ci == len(candidates)-1 {
			n, err := e.Store.PatchItems(patches)
			if err != nil {
				return err
			}
			metrics.StorePatches.Add(float64(n))
			patches = map[string]store.Item{}
			fmt.Fprintf(e.out(), " [%d/%d] %d transcribed, %d OCR'd\n",
				ci+1, len(candidates), transcribed, imagesOCRd)
		}
	}

	fmt.Fprintf(e.out(), "\nExtraction complete\n  Posts processed: %d\n  Videos transcribed: %d (%.0fs of audio)\n  Images OCR'd: %d\n",
		processed, transcribed, audioSecs, imagesOCRd)
	return nil
}

// transcribeVideo extracts the audio track and runs Whisper over it.
// Returns the transcript and the video duration in seconds.
func (e *Extractor) transcribeVideo(ctx context.Context, videoPath string) (string, float64) {
	secs := e.ProbeDuration(ctx, videoPath)
	wav, err := e.ExtractAudio(ctx, videoPath)
	if err != nil || wav == "" {
		return "", secs
	}
	defer os.Remove(wav)
	return e.Transcribe(ctx, wav), secs
}

// ocrVideoFrames samples frames and OCRs each one. The frame dir is removed
// on all paths.
func (e *Extractor) ocrVideoFrames(ctx context.Context, videoPath string) []OCRText {
	dir, err := os.MkdirTemp("", "socmed-frames-*")
	if err != nil {
		return nil
	}
	defer os.RemoveAll(dir)

	frames, err := e.ExtractFrames(ctx, videoPath, dir)
	if err != nil {
		return nil
	}
	var out []OCRText
	for _, frame := range frames {
		out = append(out, e.OCRImage(ctx, frame)...)
	}
	return out
}

func indicator(hasAudio, hasOCR bool) string {
	switch {
	case hasAudio && hasOCR:
		return "A"
	case hasAudio:
		return "a"
	case hasOCR:
		return "T"
	}
	return "."
}

// Stats summarizes extraction progress.
type Stats struct {
	Total          int
	WithLocalMedia int
	Extracted      int
	WithAudio      int
	WithOCR        int
	Pending        int
}

func (s *Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total posts:           %d\n", s.Total)
	fmt.Fprintf(&b, "With local media:      %d\n", s.WithLocalMedia)
	fmt.Fprintf(&b, "Extracted:             %d\n", s.Extracted)
	fmt.Fprintf(&b, "  With audio:          %d\n", s.WithAudio)
	fmt.Fprintf(&b, "  With OCR text:       %d\n", s.WithOCR)
	fmt.Fprintf(&b, "Pending extraction:    %d\n", s.Pending)
	return b.String()
}

// Stats reads the archive and counts extraction coverage.
func (e *Extractor) Stats() (*Stats, error) {
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
		if p.HasLocalMedia() {
			s.WithLocalMedia++
		}
		if p.Extracted == nil {
			continue
		}
		s.Extracted++
		if len(p.Extracted.AudioTranscripts) > 0 {
			s.WithAudio++
		}
		if len(p.Extracted.OCRTexts) > 0 {
			s.WithOCR++
		}
	}
	s.Pending = s.WithLocalMedia - s.Extracted
	if s.Pending < 0 {
		s.Pending = 0
	}
	return s, nil
}

// Sample renders the extraction results for one post: the given shortcode,
// or the best available example (preferring posts with both audio and OCR).
func (e *Extractor) Sample(postID, collection string) (string, error) {
	items, err := e.Store.Read()
	if err != nil {
		return "", err
	}

	var target *archive.Post
	var fallback *archive.Post
	for _, it := range items {
		p, err := archive.Decode(it)
		if err != nil {
			continue
		}
		if postID != "" {
			if p.ID == postID {
				target = &p
				break
			}
			continue
		}
		if p.Extracted == nil || !p.MatchesCollection(collection) {
			continue
		}
		if fallback == nil {
			q := p
			fallback = &q
		}
		if len(p.Extracted.AudioTranscripts) > 0 && len(p.Extracted.OCRTexts) > 0 {
			target = &p
			break
		}
	}
	if target == nil {
		target = fallback
	}
	if target == nil {
		return "No extracted posts found.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Post: %s by @%s\n", target.ID, target.Author.Username)
	fmt.Fprintf(&b, "URL: %s\n", target.PostURL)
	fmt.Fprintf(&b, "Collections: %s\n", strings.Join(target.Collections, ", "))
	fmt.Fprintf(&b, "\n--- Caption ---\n%s\n", clip(target.Text, 500))

	if et := target.Extracted; et != nil {
		for i, tr := range et.AudioTranscripts {
			fmt.Fprintf(&b, "\n--- Audio Transcript %d ---\n%s\n", i+1, clip(tr, 500))
		}
		if len(et.OCRTexts) > 0 {
			fmt.Fprintf(&b, "\n--- OCR Texts (%d unique) ---\n", len(et.OCRTexts))
			for _, txt := range et.OCRTexts[:min(len(et.OCRTexts), 20)] {
				fmt.Fprintf(&b, "  %s\n", txt)
			}
		}
		fmt.Fprintf(&b, "\nExtracted at: %s\nStatus: %s\n", et.ExtractedAt, et.ExtractionStatus)
	}
	return b.String(), nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// CollectionBreakdown counts per-collection extraction progress, sorted by
// pending count descending.
type CollectionCount struct {
	Name      string
	Total     int
	Extracted int
	Pending   int
}

func (e *Extractor) CollectionBreakdown() ([]CollectionCount, error) {
	items, err := e.Store.Read()
	if err != nil {
		return nil, err
	}
	byName := map[string]*CollectionCount{}
	for _, it := range items {
		p, err := archive.Decode(it)
		if err != nil {
			continue
		}
		for _, c := range p.Collections {
			cc := byName[c]
			if cc == nil {
				cc = &CollectionCount{Name: c}
				byName[c] = cc
			}
			cc.Total++
			if p.Extracted != nil {
				cc.Extracted++
			} else if p.HasLocalMedia() {
				cc.Pending++
			}
		}
	}
	out := make([]CollectionCount, 0, len(byName))
	for _, cc := range byName {
		out = append(out, *cc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pending != out[j].Pending {
			return out[i].Pending > out[j].Pending
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
