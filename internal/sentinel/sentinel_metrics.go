package sentinel

import "github.com/prometheus/client_golang/prometheus"

// Hooks are optional callbacks the Service invokes as notices move through
// the pipeline. Nil fields are skipped.
type Hooks struct {
	OnReceived     func(origin string)
	OnProcessed    func(outcome Outcome, seconds float64)
	OnStageFailure func(stage State)
	OnQueueDepth   func(depth int)
	OnTargets      func(kind string, n int)
}

// Metrics holds Prometheus metrics for the ingestion pipeline.
type Metrics struct {
	NoticesReceived   *prometheus.CounterVec
	NoticesProcessed  *prometheus.CounterVec
	StageFailures     *prometheus.CounterVec
	ProcessingSeconds *prometheus.HistogramVec
	QueueDepth        prometheus.Gauge
	TargetsBuilt      *prometheus.CounterVec
	SkyMapFetches     *prometheus.CounterVec
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NoticesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_notices_received_total",
			Help: "Notices accepted onto the queue by origin.",
		}, []string{"origin"}),
		NoticesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_notices_processed_total",
			Help: "Notices that left the pipeline by outcome.",
		}, []string{"outcome"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_stage_failures_total",
			Help: "Pipeline failures by lifecycle stage.",
		}, []string{"stage"}),
		ProcessingSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_processing_duration_seconds",
			Help:    "Time from dequeue to terminal outcome in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms .. ~82s
		}, []string{"outcome"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_queue_depth",
			Help: "Entries in the ingestion queue, including the one in flight.",
		}),
		TargetsBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_targets_built_total",
			Help: "Targets persisted by localization kind.",
		}, []string{"kind"}),
		SkyMapFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_skymap_fetch_total",
			Help: "Sky map retrieval attempts by fallback stage and outcome.",
		}, []string{"stage", "outcome"}),
	}

	reg.MustRegister(
		m.NoticesReceived,
		m.NoticesProcessed,
		m.StageFailures,
		m.ProcessingSeconds,
		m.QueueDepth,
		m.TargetsBuilt,
		m.SkyMapFetches,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnReceived: func(origin string) {
			m.NoticesReceived.WithLabelValues(origin).Inc()
		},
		OnProcessed: func(outcome Outcome, seconds float64) {
			m.NoticesProcessed.WithLabelValues(string(outcome)).Inc()
			m.ProcessingSeconds.WithLabelValues(string(outcome)).Observe(seconds)
		},
		OnStageFailure: func(stage State) {
			m.StageFailures.WithLabelValues(string(stage)).Inc()
		},
		OnQueueDepth: func(depth int) {
			m.QueueDepth.Set(float64(depth))
		},
		OnTargets: func(kind string, n int) {
			m.TargetsBuilt.WithLabelValues(kind).Add(float64(n))
		},
	}
}

// ObserveSkyMap counts one sky map stage attempt. It matches
// skymap.ObserverFunc.
func (m *Metrics) ObserveSkyMap(stage, outcome string) {
	m.SkyMapFetches.WithLabelValues(stage, outcome).Inc()
}
