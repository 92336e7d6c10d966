package extractor

import (
	"context"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/snapetech/socmed/internal/metrics"
)

// Transcribe runs whisper-cli over a WAV file and returns the transcript,
// or "" on failure. Transcription failures degrade the post, never the run.
func (e *Extractor) Transcribe(ctx context.Context, wavPath string) string {
	args := []string{}
	if e.WhisperModel != "" {
		args = append(args, "-m", e.WhisperModel)
	}
	args = append(args, "--no-timestamps", "--no-prints", "-f", wavPath)

	cmd := exec.CommandContext(ctx, e.WhisperPath, args...)
	out, err := cmd.Output()
	if err != nil {
		log.Warn("transcription failed", "audio", wavPath, "err", err)
		metrics.Transcriptions.WithLabelValues("error").Inc()
		return ""
	}
	text := strings.TrimSpace(string(out))
	if text == "" {
		metrics.Transcriptions.WithLabelValues("empty").Inc()
	} else {
		metrics.Transcriptions.WithLabelValues("ok").Inc()
	}
	return text
}
