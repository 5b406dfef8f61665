// Package metrics collects per-run Prometheus metrics and pushes them to a Pushgateway.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/JakeFAU/beach-parking-monitor/internal/parking"
)

// Stage names used for the stage duration gauge.
const (
	StageFetch   = "fetch"
	StageExtract = "extract"
	StagePersist = "persist"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder owns a private registry so a one-shot run pushes only its own series.
type Recorder struct {
	registry *prometheus.Registry

	recordsExtracted  prometheus.Counter
	recordsWritten    prometheus.Counter
	containersSeen    prometheus.Counter
	containersSkipped *prometheus.CounterVec
	stageDuration     *prometheus.GaugeVec
	runOutcome        *prometheus.GaugeVec
	lastSuccess       prometheus.Gauge
}

// New registers the run collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		recordsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parking_records_extracted_total",
			Help: "Records extracted from the source page.",
		}),
		recordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parking_records_written_total",
			Help: "Rows confirmed by the sink.",
		}),
		containersSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parking_containers_seen_total",
			Help: "Beach containers found on the page.",
		}),
		containersSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parking_containers_skipped_total",
			Help: "Containers skipped during extraction, labeled by reason.",
		}, []string{"reason"}),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parking_stage_duration_seconds",
			Help: "Duration of each pipeline stage in the last run.",
		}, []string{"stage"}),
		runOutcome: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parking_run_outcome",
			Help: "1 for the outcome of the last run, 0 otherwise.",
		}, []string{"outcome"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parking_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}),
	}
	reg.MustRegister(
		r.recordsExtracted,
		r.recordsWritten,
		r.containersSeen,
		r.containersSkipped,
		r.stageDuration,
		r.runOutcome,
		r.lastSuccess,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveExtraction records container and record counts.
func (r *Recorder) ObserveExtraction(ex parking.Extraction) {
	r.containersSeen.Add(float64(ex.Containers))
	r.recordsExtracted.Add(float64(len(ex.Records)))
	for _, s := range ex.Skipped {
		r.containersSkipped.WithLabelValues(s.Reason).Inc()
	}
}

// ObserveWritten records the number of rows the sink confirmed.
func (r *Recorder) ObserveWritten(n int) {
	if n > 0 {
		r.recordsWritten.Add(float64(n))
	}
}

// ObserveStage records how long a stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// ObserveOutcome marks the run as succeeded or failed.
func (r *Recorder) ObserveOutcome(err error, at time.Time) {
	if err != nil {
		r.runOutcome.WithLabelValues(OutcomeFailure).Set(1)
		r.runOutcome.WithLabelValues(OutcomeSuccess).Set(0)
		return
	}
	r.runOutcome.WithLabelValues(OutcomeSuccess).Set(1)
	r.runOutcome.WithLabelValues(OutcomeFailure).Set(0)
	r.lastSuccess.Set(float64(at.Unix()))
}

const defaultPushTimeout = 5 * time.Second

// Pusher sends a Recorder's registry to a Pushgateway.
type Pusher struct {
	url    string
	job    string
	client *http.Client
}

// NewPusher returns a Pusher for the gateway at gatewayURL. Each push is
// bounded by timeout (5s when zero).
func NewPusher(gatewayURL, job string, timeout time.Duration) (*Pusher, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("pushgateway url is required")
	}
	if strings.TrimSpace(job) == "" {
		return nil, fmt.Errorf("pushgateway job is required")
	}
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	return &Pusher{url: gatewayURL, job: job, client: &http.Client{Timeout: timeout}}, nil
}

// Push replaces the job's metrics on the gateway, grouped by source site.
func (p *Pusher) Push(ctx context.Context, r *Recorder, sourceURL string) error {
	err := push.New(p.url, p.job).
		Client(p.client).
		Gatherer(r.registry).
		Grouping("site", SanitizeSite(sourceURL)).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
