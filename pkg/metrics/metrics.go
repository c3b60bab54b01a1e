// Package metrics exposes Prometheus instrumentation for the share server.
//
// Collectors are registered on a private registry via InitRegistry; when the
// registry is never initialized, New returns nil and every recording method
// on a nil *Metrics is a no-op, so instrumented code needs no enabled checks.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide metrics registry with the standard Go
// runtime and process collectors. Safe to call more than once.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return registry != nil
}

// GetRegistry returns the process-wide registry, or nil when disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// Metrics holds the server's collectors. A nil *Metrics records nothing.
type Metrics struct {
	activeConnections prometheus.Gauge
	framesReceived    *prometheus.CounterVec
	broadcasts        prometheus.Counter
	fileOffers        *prometheus.CounterVec
	bytesReceived     prometheus.Counter
	transferBytes     prometheus.Histogram
}

// New registers the server collectors on the process registry.
// Returns nil if InitRegistry was never called.
func New() *Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &Metrics{
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "multishare_active_connections",
				Help: "Number of currently connected clients",
			},
		),
		framesReceived: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "multishare_frames_received_total",
				Help: "Total frames received by command",
			},
			[]string{"command"},
		),
		broadcasts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "multishare_broadcasts_total",
				Help: "Total messages broadcast to room members",
			},
		),
		fileOffers: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "multishare_file_offers_total",
				Help: "File offers by outcome",
			},
			[]string{"outcome"}, // "accepted", "declined", "timeout", "disconnected"
		),
		bytesReceived: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "multishare_file_bytes_received_total",
				Help: "Total file payload bytes written to storage",
			},
		),
		transferBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "multishare_transfer_bytes",
				Help: "Distribution of completed transfer sizes",
				Buckets: []float64{
					1024,      // 1KB
					10240,     // 10KB
					102400,    // 100KB
					1048576,   // 1MB
					10485760,  // 10MB
					104857600, // 100MB
				},
			},
		),
	}
}

// ConnectionOpened increments the active connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

// ConnectionClosed decrements the active connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

// FrameReceived counts one inbound frame by command name.
func (m *Metrics) FrameReceived(command string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(command).Inc()
}

// Broadcast counts one message fanned out to a room.
func (m *Metrics) Broadcast() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}

// FileOffer counts one offer delivery by its outcome.
func (m *Metrics) FileOffer(outcome string) {
	if m == nil {
		return
	}
	m.fileOffers.WithLabelValues(outcome).Inc()
}

// FileBytes counts file payload bytes written to storage.
func (m *Metrics) FileBytes(n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(n))
}

// TransferComplete records the size of a finished upload.
func (m *Metrics) TransferComplete(bytes uint64) {
	if m == nil {
		return
	}
	m.transferBytes.Observe(float64(bytes))
}
