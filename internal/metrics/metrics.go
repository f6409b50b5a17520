// Package metrics exposes Prometheus collectors for the importer.
package metrics

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by the counters below.
const (
	OutcomeImported  = "imported"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeLocalized = "localized"
	OutcomeCached    = "cached"
	OutcomeFallback  = "fallback"
)

// Page fetch statuses.
const (
	PageOK    = "ok"
	PageError = "error"
)

var (
	backfillPagesTotal             *prometheus.CounterVec
	backfillPostsTotal             *prometheus.CounterVec
	backfillImagesTotal            *prometheus.CounterVec
	backfillImageBytesTotal        prometheus.Counter
	backfillLastSequenceID         prometheus.Gauge
	backfillRateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		backfillPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backfill_pages_total",
				Help: "Total number of read API pages fetched, labeled by status.",
			},
			[]string{"status"},
		)

		backfillPostsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backfill_posts_total",
				Help: "Total number of source posts handled, labeled by type and outcome.",
			},
			[]string{"type", "outcome"},
		)

		backfillImagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backfill_images_total",
				Help: "Total number of image references resolved, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		backfillImageBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "backfill_image_bytes_total",
				Help: "Total number of image bytes downloaded.",
			},
		)

		backfillLastSequenceID = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "backfill_last_sequence_id",
				Help: "Sequence ID of the most recently written entry.",
			},
		)

		backfillRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backfill_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObservePage counts a read API page fetch ("ok" or "error").
func ObservePage(status string) {
	Init()
	backfillPagesTotal.WithLabelValues(status).Inc()
}

// ObservePost counts a handled source post.
func ObservePost(postType string, outcome string) {
	Init()
	backfillPostsTotal.WithLabelValues(postType, outcome).Inc()
}

// ObserveImage counts an image reference and the bytes downloaded for it.
func ObserveImage(outcome string, bytesFetched int) {
	Init()
	backfillImagesTotal.WithLabelValues(outcome).Inc()
	if bytesFetched > 0 {
		backfillImageBytesTotal.Add(float64(bytesFetched))
	}
}

// SetLastSequenceID records the high-water mark of written entries.
func SetLastSequenceID(id int) {
	Init()
	backfillLastSequenceID.Set(float64(id))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	backfillRateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// WriteTextfile dumps the default registry in the text exposition format,
// for pickup by the node exporter textfile collector.
func WriteTextfile(path string) error {
	Init()
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
