package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements repository.ScanMetrics using Prometheus.
type Recorder struct {
	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	lastCycle       prometheus.Gauge
	lastSequence    prometheus.Gauge
	runs            *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	findings        *prometheus.GaugeVec
	consecutive     *prometheus.GaugeVec
	skippedTicks    *prometheus.CounterVec
	manualTriggers  *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	pipelineDropped *prometheus.CounterVec
}

type Option func(*options)

type options struct {
	reg prometheus.Registerer
}

// WithRegisterer registers collectors on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

func New(opts ...Option) *Recorder {
	o := &options{reg: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(o)
	}
	f := promauto.With(o.reg)

	return &Recorder{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_cycles_total",
				Help: "Published scan cycles by trigger",
			},
			[]string{"trigger"},
		),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_cycle_duration_seconds",
			Help:    "Wall time of a full scan cycle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		lastCycle: f.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle was published",
		}),
		lastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_cycle_sequence",
			Help: "Sequence number of the last published cycle",
		}),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_runs_total",
				Help: "Scanner runs by outcome",
			},
			[]string{"scanner", "result"},
		),
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_attempts_total",
				Help: "Scanner attempts including retries",
			},
			[]string{"scanner"},
		),
		runDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scanner_run_duration_seconds",
				Help:    "Duration of one scanner run including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"scanner"},
		),
		findings: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scanner_findings",
				Help: "Findings reported by the last run",
			},
			[]string{"scanner"},
		),
		consecutive: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scanner_consecutive_failures",
				Help: "Consecutive failed cycles per scanner",
			},
			[]string{"scanner"},
		),
		skippedTicks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_skipped_ticks_total",
				Help: "Scheduled ticks that did not run",
			},
			[]string{"reason"},
		),
		manualTriggers: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_manual_triggers_total",
				Help: "Manual trigger requests by outcome",
			},
			[]string{"outcome"},
		),
		notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_notifications_total",
				Help: "Notification deliveries by result",
			},
			[]string{"result"},
		),
		pipelineDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_publish_pipeline_dropped_total",
				Help: "Snapshots dropped from the publish pipeline",
			},
			[]string{"reason"},
		),
	}
}

func (r *Recorder) RecordCycle(trigger string, d time.Duration, sequence uint64) {
	r.cycles.WithLabelValues(trigger).Inc()
	r.cycleDuration.Observe(d.Seconds())
	r.lastCycle.SetToCurrentTime()
	r.lastSequence.Set(float64(sequence))
}

func (r *Recorder) RecordScannerRun(scanner, result string, attempts int, d time.Duration, findings int) {
	r.runs.WithLabelValues(scanner, result).Inc()
	r.attempts.WithLabelValues(scanner).Add(float64(attempts))
	r.runDuration.WithLabelValues(scanner).Observe(d.Seconds())
	r.findings.WithLabelValues(scanner).Set(float64(findings))
}

func (r *Recorder) RecordConsecutiveFailures(scanner string, n int) {
	r.consecutive.WithLabelValues(scanner).Set(float64(n))
}

func (r *Recorder) RecordSkippedTicks(reason string, n int) {
	if n > 0 {
		r.skippedTicks.WithLabelValues(reason).Add(float64(n))
	}
}

func (r *Recorder) RecordManualTrigger(outcome string) {
	r.manualTriggers.WithLabelValues(outcome).Inc()
}

// RecordNotification counts a notification attempt: sent, skipped, deduped or error.
func (r *Recorder) RecordNotification(result string) {
	r.notifications.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordPipelineDrop(reason string) {
	r.pipelineDropped.WithLabelValues(reason).Inc()
}
