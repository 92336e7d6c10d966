package extractor

import (
	"context"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/snapetech/socmed/internal/metrics"
)

const (
	// minOCRConfidence drops low-quality recognitions (0..1 scale).
	minOCRConfidence = 0.5
	// minTextLength filters single-character noise.
	minTextLength = 2
)

// OCRText is one recognized line with its confidence in [0, 1].
type OCRText struct {
	Text       string
	Confidence float64
}

// OCRImage runs tesseract in TSV mode over one image and returns the
// recognized lines with per-line confidence (mean of word confidences).
// Failures return nil: a bad frame degrades the post, not the run.
func (e *Extractor) OCRImage(ctx context.Context, imagePath string) []OCRText {
	cmd := exec.CommandContext(ctx, e.TesseractPath, imagePath, "stdout", "tsv")
	out, err := cmd.Output()
	if err != nil {
		log.Warn("ocr failed", "image", imagePath, "err", err)
		return nil
	}
	metrics.OCRRuns.Inc()
	return parseTSV(string(out))
}

// parseTSV groups tesseract's word rows into lines. Columns:
// level page block par line word left top width height conf text.
func parseTSV(tsv string) []OCRText {
	type lineKey struct{ page, block, par, line int }
	type lineAcc struct {
		words []string
		conf  float64
		n     int
		order int
	}
	lines := map[lineKey]*lineAcc{}

	rows := strings.Split(tsv, "\n")
	order := 0
	for i, row := range rows {
		if i == 0 || strings.TrimSpace(row) == "" { // header
			continue
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 {
			continue
		}
		level, _ := strconv.Atoi(cols[0])
		if level != 5 { // word rows only
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}
		key := lineKey{atoi(cols[1]), atoi(cols[2]), atoi(cols[3]), atoi(cols[4])}
		acc := lines[key]
		if acc == nil {
			acc = &lineAcc{order: order}
			order++
			lines[key] = acc
		}
		acc.words = append(acc.words, word)
		acc.conf += conf
		acc.n++
	}

	accs := make([]*lineAcc, 0, len(lines))
	for _, acc := range lines {
		accs = append(accs, acc)
	}
	sort.Slice(accs, func(i, j int) bool { return accs[i].order < accs[j].order })

	out := make([]OCRText, 0, len(accs))
	for _, acc := range accs {
		out = append(out, OCRText{
			Text:       strings.Join(acc.words, " "),
			Confidence: acc.conf / float64(acc.n) / 100,
		})
	}
	return out
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

// DedupTexts filters and deduplicates OCR results across a whole post.
// Video frames repeat the same overlay text; comparison is case-insensitive
// and whitespace-trimmed, keeping the highest-confidence surface form.
// Survivors are ordered by confidence descending.
func DedupTexts(texts []OCRText) []string {
	type best struct {
		text string
		conf float64
	}
	seen := map[string]best{}

	for _, t := range texts {
		trimmed := strings.TrimSpace(t.Text)
		if t.Confidence < minOCRConfidence || len([]rune(trimmed)) < minTextLength {
			continue
		}
		key := strings.ToLower(trimmed)
		if b, ok := seen[key]; !ok || t.Confidence > b.conf {
			seen[key] = best{text: trimmed, conf: t.Confidence}
		}
	}

	out := make([]best, 0, len(seen))
	for _, b := range seen {
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].conf > out[j].conf })

	texts2 := make([]string, 0, len(out))
	for _, b := range out {
		texts2 = append(texts2, b.text)
	}
	return texts2
}
