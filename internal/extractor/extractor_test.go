package extractor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/socmed/internal/archive"
	"github.com/snapetech/socmed/internal/store"
)

const ffmpegStub = `#!/bin/sh
for last; do :; done
case "$last" in
  *.wav) head -c 2000 /dev/zero > "$last" ;;
  *'frame_%04d.jpg')
    dir=$(dirname "$last")
    printf 'jpegbytes' > "$dir/frame_0001.jpg"
    ;;
esac
exit 0
`

const ffprobeStub = `#!/bin/sh
echo 12.5
`

const whisperStub = `#!/bin/sh
printf '  add butter to the pan  \n'
`

const tesseractStub = `#!/bin/sh
printf 'level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n'
printf '5\t1\t1\t1\t1\t1\t0\t0\t9\t9\t96\tADD\n'
printf '5\t1\t1\t1\t1\t2\t0\t0\t9\t9\t90\tBUTTER\n'
printf '5\t1\t1\t1\t2\t1\t0\t0\t9\t9\t30\tnoise\n'
`

const failStub = `#!/bin/sh
exit 1
`

func writeStub(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testExtractor(t *testing.T) *Extractor {
	t.Helper()
	bin := t.TempDir()
	return &Extractor{
		Store:         store.New(filepath.Join(t.TempDir(), "saved_posts.json"), "id"),
		FFmpegPath:    writeStub(t, bin, "ffmpeg", ffmpegStub),
		FFprobePath:   writeStub(t, bin, "ffprobe", ffprobeStub),
		WhisperPath:   writeStub(t, bin, "whisper-cli", whisperStub),
		TesseractPath: writeStub(t, bin, "tesseract", tesseractStub),
		Out:           io.Discard,
	}
}

func seedPost(t *testing.T, e *Extractor, id, mediaType string) archive.Post {
	t.Helper()
	local := filepath.Join(t.TempDir(), id+".bin")
	require.NoError(t, os.WriteFile(local, []byte("media"), 0o644))
	p := archive.Post{
		ID: id, Platform: archive.Platform, Source: archive.SourceEnriched,
		Text:        "caption",
		Collections: []string{"Matinspo"},
		Media:       []archive.Media{{URL: "https://cdn/x", MediaType: mediaType, LocalPath: local}},
	}
	item, err := p.Encode()
	require.NoError(t, err)
	_, err = e.Store.Append([]store.Item{item}, nil)
	require.NoError(t, err)
	return p
}

func readExtracted(t *testing.T, e *Extractor, id string) *archive.ExtractedText {
	t.Helper()
	items, err := e.Store.Find(store.Item{"id": id})
	require.NoError(t, err)
	require.Len(t, items, 1)
	p, err := archive.Decode(items[0])
	require.NoError(t, err)
	return p.Extracted
}

func TestRunVideoPost(t *testing.T) {
	e := testExtractor(t)
	seedPost(t, e, "VID1", "video")

	require.NoError(t, e.Run(context.Background(), Options{}))

	et := readExtracted(t, e, "VID1")
	require.NotNil(t, et)
	assert.Equal(t, []string{"add butter to the pan"}, et.AudioTranscripts)
	assert.Equal(t, []string{"ADD BUTTER"}, et.OCRTexts)
	assert.Equal(t, archive.ExtractionComplete, et.ExtractionStatus)
	assert.NotEmpty(t, et.ExtractedAt)
}

func TestRunImagePost(t *testing.T) {
	e := testExtractor(t)
	seedPost(t, e, "IMG1", "image")

	require.NoError(t, e.Run(context.Background(), Options{}))

	et := readExtracted(t, e, "IMG1")
	require.NotNil(t, et)
	assert.Empty(t, et.AudioTranscripts)
	assert.Equal(t, []string{"ADD BUTTER"}, et.OCRTexts)
	assert.Equal(t, archive.ExtractionComplete, et.ExtractionStatus)
}

func TestRunIsResumable(t *testing.T) {
	e := testExtractor(t)
	seedPost(t, e, "VID1", "video")
	require.NoError(t, e.Run(context.Background(), Options{}))

	first := readExtracted(t, e, "VID1")
	require.NotNil(t, first)

	// Swap in failing tools; an extracted post must not be reprocessed.
	bin := t.TempDir()
	e.FFmpegPath = writeStub(t, bin, "ffmpeg", failStub)
	e.TesseractPath = writeStub(t, bin, "tesseract", failStub)
	require.NoError(t, e.Run(context.Background(), Options{}))

	assert.Equal(t, first, readExtracted(t, e, "VID1"))

	cands, err := e.Candidates("", 0)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestRunToolFailureStillPatches(t *testing.T) {
	e := testExtractor(t)
	bin := t.TempDir()
	e.FFmpegPath = writeStub(t, bin, "ffmpeg", failStub)
	e.TesseractPath = writeStub(t, bin, "tesseract", failStub)
	seedPost(t, e, "VID1", "video")

	require.NoError(t, e.Run(context.Background(), Options{}))

	et := readExtracted(t, e, "VID1")
	require.NotNil(t, et)
	assert.Empty(t, et.AudioTranscripts)
	assert.Empty(t, et.OCRTexts)
	assert.Equal(t, archive.ExtractionComplete, et.ExtractionStatus)
}

func TestRunSkipPhases(t *testing.T) {
	e := testExtractor(t)
	seedPost(t, e, "VID1", "video")
	require.NoError(t, e.Run(context.Background(), Options{SkipWhisper: true}))
	et := readExtracted(t, e, "VID1")
	require.NotNil(t, et)
	assert.Empty(t, et.AudioTranscripts)
	assert.Equal(t, archive.ExtractionNoAudio, et.ExtractionStatus)

	e2 := testExtractor(t)
	seedPost(t, e2, "VID2", "video")
	require.NoError(t, e2.Run(context.Background(), Options{SkipOCR: true}))
	et = readExtracted(t, e2, "VID2")
	require.NotNil(t, et)
	assert.Empty(t, et.OCRTexts)
	assert.NotEmpty(t, et.AudioTranscripts)
	assert.Equal(t, archive.ExtractionNoOCR, et.ExtractionStatus)
}

func TestCandidatesFilters(t *testing.T) {
	e := testExtractor(t)
	seedPost(t, e, "A", "video")
	other := seedPost(t, e, "B", "image")
	_ = other

	// A post without local media is never a candidate.
	noLocal := archive.Post{ID: "C", Source: archive.SourceEnriched,
		Media: []archive.Media{{URL: "https://cdn/x", MediaType: "image"}}}
	item, err := noLocal.Encode()
	require.NoError(t, err)
	_, err = e.Store.Append([]store.Item{item}, nil)
	require.NoError(t, err)

	cands, err := e.Candidates("", 0)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "A", cands[0].ID)

	cands, err = e.Candidates("matin", 1)
	require.NoError(t, err)
	require.Len(t, cands, 1)
}

func TestStatsAndSample(t *testing.T) {
	e := testExtractor(t)
	seedPost(t, e, "VID1", "video")
	seedPost(t, e, "IMG1", "image")
	require.NoError(t, e.Run(context.Background(), Options{Limit: 1}))

	s, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 2, s.WithLocalMedia)
	assert.Equal(t, 1, s.Extracted)
	assert.Equal(t, 1, s.WithAudio)
	assert.Equal(t, 1, s.Pending)

	out, err := e.Sample("", "")
	require.NoError(t, err)
	assert.Contains(t, out, "VID1")
	assert.Contains(t, out, "add butter to the pan")
	assert.Contains(t, out, "ADD BUTTER")

	out, err = e.Sample("MISSING", "")
	require.NoError(t, err)
	assert.Equal(t, "No extracted posts found.", out)
}
