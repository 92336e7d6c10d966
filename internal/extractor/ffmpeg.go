package extractor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Whisper expects 16 kHz mono 16-bit PCM.
const (
	audioSampleRate = "16000"
	audioTimeout    = 60 * time.Second

	// Audio files under this size are silence or container noise.
	minAudioBytes = 1000

	// One OCR frame every three seconds of video.
	frameInterval = "1/3"
)

// ExtractAudio pulls the audio track of a video into a temp WAV file and
// returns its path. The caller removes the file. Returns "" (no error) when
// the video has no usable audio.
func (e *Extractor) ExtractAudio(ctx context.Context, videoPath string) (string, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp("", "socmed-audio-*.wav")
	if err != nil {
		return "", err
	}
	tmp.Close()

	cctx, cancel := context.WithTimeout(ctx, audioTimeout)
	defer cancel()
	cmd := exec.CommandContext(cctx, e.FFmpegPath,
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", audioSampleRate,
		"-ac", "1",
		tmp.Name(),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(tmp.Name())
		log.Debug("audio extraction failed", "video", videoPath, "err", err,
			"output", truncate(string(out), 200))
		return "", nil
	}
	if fi, err := os.Stat(tmp.Name()); err != nil || fi.Size() < minAudioBytes {
		os.Remove(tmp.Name())
		return "", nil
	}
	return tmp.Name(), nil
}

// ExtractFrames samples one frame per interval into dir and returns the
// frame paths in order.
func (e *Extractor) ExtractFrames(ctx context.Context, videoPath, dir string) ([]string, error) {
	cmd := exec.CommandContext(ctx, e.FFmpegPath,
		"-y",
		"-i", videoPath,
		"-vf", "fps="+frameInterval,
		filepath.Join(dir, "frame_%04d.jpg"),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("frame extraction: %w (%s)", err, truncate(string(out), 200))
	}
	frames, err := filepath.Glob(filepath.Join(dir, "frame_*.jpg"))
	if err != nil {
		return nil, err
	}
	sort.Strings(frames)
	return frames, nil
}

// ProbeDuration returns the video duration in seconds, 0 when unknown.
func (e *Extractor) ProbeDuration(ctx context.Context, videoPath string) float64 {
	cmd := exec.CommandContext(ctx, e.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
