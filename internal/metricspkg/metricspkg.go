// Package metricspkg records in-process Prometheus counters/gauges for the
// orchestrator loop and snapshots them to metrics.json (SPEC_FULL.md §3, §4.8,
// DOMAIN STACK). Grounded on the teacher's
// pkg/agent/middleware/metrics/prometheus.go (CounterVec/HistogramVec shape)
// and pkg/metrics/query.go for the export half; the live-Prometheus-server
// query client is out of scope here since nothing stands up an HTTP server.
package metricspkg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder owns a private Prometheus registry (not the global default, so
// repeated test construction never panics on duplicate registration) and the
// metric vectors the orchestrator loop updates every iteration.
type Recorder struct {
	registry *prometheus.Registry

	loopTotal       *prometheus.CounterVec
	breakerOpens    prometheus.Counter
	rateLimitHits   prometheus.Counter
	loopDuration    *prometheus.HistogramVec
	filesChangedSum *prometheus.CounterVec

	mu      sync.Mutex
	snap    Snapshot
}

// Snapshot is the point-in-time dashboard artifact written to metrics.json.
type Snapshot struct {
	GeneratedAt     string                    `json:"generated_at"`
	LoopTotal       map[string]float64        `json:"loop_total"`
	BreakerOpens    float64                   `json:"breaker_opens"`
	RateLimitHits   float64                   `json:"rate_limit_hits"`
	FilesChangedSum map[string]float64        `json:"files_changed_sum"`
}

// New builds a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		loopTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sprinty_loop_total",
			Help: "Total orchestrator loop iterations by phase, role, and classification.",
		}, []string{"phase", "role", "classification"}),
		breakerOpens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sprinty_breaker_opens_total",
			Help: "Total times the circuit breaker transitioned to OPEN.",
		}),
		rateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sprinty_rate_limit_hits_total",
			Help: "Total times an invocation was classified RateLimited.",
		}),
		loopDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sprinty_loop_duration_seconds",
			Help:    "Wall-clock duration of one orchestrator loop iteration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase", "role"}),
		filesChangedSum: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sprinty_files_changed_total",
			Help: "Cumulative files-changed count observed per phase.",
		}, []string{"phase"}),
		snap: Snapshot{
			LoopTotal:       map[string]float64{},
			FilesChangedSum: map[string]float64{},
		},
	}
	reg.MustRegister(r.loopTotal, r.breakerOpens, r.rateLimitHits, r.loopDuration, r.filesChangedSum)
	return r
}

// RecordLoop records one orchestrator iteration's outcome.
func (r *Recorder) RecordLoop(phase, role, classification string, duration time.Duration, filesChanged int) {
	r.loopTotal.WithLabelValues(phase, role, classification).Inc()
	r.loopDuration.WithLabelValues(phase, role).Observe(duration.Seconds())
	r.filesChangedSum.WithLabelValues(phase).Add(float64(filesChanged))

	r.mu.Lock()
	defer r.mu.Unlock()
	key := phase + "/" + role + "/" + classification
	r.snap.LoopTotal[key]++
	r.snap.FilesChangedSum[phase] += float64(filesChanged)
}

// RecordBreakerOpen increments the breaker-opens counter.
func (r *Recorder) RecordBreakerOpen() {
	r.breakerOpens.Inc()
	r.mu.Lock()
	r.snap.BreakerOpens++
	r.mu.Unlock()
}

// RecordRateLimitHit increments the rate-limit-hits counter.
func (r *Recorder) RecordRateLimitHit() {
	r.rateLimitHits.Inc()
	r.mu.Lock()
	r.snap.RateLimitHits++
	r.mu.Unlock()
}

// Snapshot returns a copy of the current point-in-time counters.
func (r *Recorder) Snapshot(now time.Time) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Snapshot{
		GeneratedAt:     now.UTC().Format(time.RFC3339),
		LoopTotal:       make(map[string]float64, len(r.snap.LoopTotal)),
		FilesChangedSum: make(map[string]float64, len(r.snap.FilesChangedSum)),
		BreakerOpens:    r.snap.BreakerOpens,
		RateLimitHits:   r.snap.RateLimitHits,
	}
	for k, v := range r.snap.LoopTotal {
		out.LoopTotal[k] = v
	}
	for k, v := range r.snap.FilesChangedSum {
		out.FilesChangedSum[k] = v
	}
	return out
}

// WriteSnapshot marshals the current snapshot to path (metrics.json),
// overwriting any existing file. This is a plain write, not a statestore
// document: metrics.json is explicitly "out of core" per §6 and is never
// read back to drive control flow.
func (r *Recorder) WriteSnapshot(path string, now time.Time) error {
	data, err := json.MarshalIndent(r.Snapshot(now), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
