package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveCalls    prometheus.Gauge
	CallEvents     *prometheus.CounterVec
	ARIEvents      *prometheus.CounterVec
	ARIConnected   prometheus.Gauge
	ARIReconnects  prometheus.Counter
	CommandErrors  *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec
	PlaybackWait   prometheus.Histogram
	StageLatency   *prometheus.HistogramVec

	stages *stageWindow
}

// NewMetrics registers the instruments on the default Prometheus registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.DefaultRegisterer)
}

func NewMetricsWithRegistry(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of calls with a live IVR session.",
		}),
		CallEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call flow events by type.",
		}, []string{"event"}),
		ARIEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ari_events_total",
			Help:      "Inbound ARI events by type.",
		}, []string{"type"}),
		ARIConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ari_connected",
			Help:      "1 when the ARI events websocket is open.",
		}),
		ARIReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ari_reconnects_total",
			Help:      "Reconnect attempts against the ARI events websocket.",
		}),
		CommandErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ari_command_errors_total",
			Help:      "Failed ARI call-control commands by command.",
		}, []string{"command"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		PlaybackWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "playback_wait_ms",
			Help:      "Time the engine waits for a prompt to finish, in milliseconds.",
			Buckets:   []float64{500, 1000, 2000, 3500, 5000, 7500, 10000, 15000, 20000, 30000},
		}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Latency of external call stages in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 15000},
		}, []string{"stage"}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) SetActiveCalls(n int) {
	if m == nil {
		return
	}
	m.ActiveCalls.Set(float64(n))
}

func (m *Metrics) CallEvent(event string) {
	if m == nil {
		return
	}
	m.CallEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ARIEvent(kind string) {
	if m == nil {
		return
	}
	m.ARIEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetARIConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.ARIConnected.Set(1)
		return
	}
	m.ARIConnected.Set(0)
}

func (m *Metrics) ARIReconnect() {
	if m == nil {
		return
	}
	m.ARIReconnects.Inc()
}

func (m *Metrics) CommandError(command string) {
	if m == nil {
		return
	}
	m.CommandErrors.WithLabelValues(command).Inc()
}

func (m *Metrics) ProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) ObservePlaybackWait(d time.Duration) {
	if m == nil {
		return
	}
	m.PlaybackWait.Observe(float64(d.Milliseconds()))
}

// ObserveStage records d for stage in both the histogram and the rolling
// window served by StageSnapshot.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d) / float64(time.Millisecond)
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.stages.Observe(stage, ms)
}

func (m *Metrics) StageSnapshot() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// MetricsHandlerFor serves a specific gatherer, used with private registries.
func MetricsHandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
