// Package metrics exposes prometheus counters for the pipelines. An
// optional listener serves /metrics for long-running runs.
package metrics

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PostFetches counts API post fetches by outcome status.
	PostFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "socmed",
		Name:      "post_fetches_total",
		Help:      "Post fetches by normalized result status.",
	}, []string{"status"})

	// MediaDownloads counts successfully downloaded media files.
	MediaDownloads = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "socmed",
		Name:      "media_downloads_total",
		Help:      "Media files downloaded.",
	})

	// MediaBytes counts bytes of media written to disk.
	MediaBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "socmed",
		Name:      "media_bytes_total",
		Help:      "Bytes of media downloaded.",
	})

	// Transcriptions counts whisper runs by result ("ok", "empty", "error").
	Transcriptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "socmed",
		Name:      "transcriptions_total",
		Help:      "Audio transcription attempts by result.",
	}, []string{"result"})

	// OCRRuns counts OCR invocations over frames and images.
	OCRRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "socmed",
		Name:      "ocr_runs_total",
		Help:      "OCR invocations.",
	})

	// StorePatches counts patch_items merges applied to the archive.
	StorePatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "socmed",
		Name:      "store_patches_total",
		Help:      "Records patched in the archive.",
	})
)

// Serve starts a /metrics listener on addr when addr is non-empty. Errors
// are logged, not fatal: metrics are best-effort.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn("metrics listener stopped", "addr", addr, "err", err)
		}
	}()
}
