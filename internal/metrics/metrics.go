// Package metrics exposes Prometheus counters for the scanner session.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/barcode.scanner/internal/scanner"
)

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ScannerMetrics are the counters updated by the scan mux. A nil
// *ScannerMetrics is valid and records nothing.
type ScannerMetrics struct {
	Handshakes        *prometheus.CounterVec // labels: opcode, result
	HandshakeDuration *prometheus.HistogramVec
	DiscardedBytes    prometheus.Counter
	Scans             *prometheus.CounterVec // labels: truncated
	Overflows         prometheus.Counter
	Connected         prometheus.Gauge
}

// NewScannerMetrics registers the scanner metrics on reg.
func NewScannerMetrics(reg prometheus.Registerer) *ScannerMetrics {
	m := &ScannerMetrics{
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_handshakes_total",
			Help: "Command handshakes by opcode and result.",
		}, []string{"opcode", "result"}),
		HandshakeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scanner_handshake_duration_seconds",
			Help:    "Time from frame write to ACK, NACK or timeout.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 3, 5},
		}, []string{"result"}),
		DiscardedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_handshake_discarded_bytes_total",
			Help: "Non-sentinel bytes dropped while awaiting a handshake.",
		}),
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_scans_total",
			Help: "Completed barcode payloads.",
		}, []string{"truncated"}),
		Overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_scan_overflows_total",
			Help: "Payloads rejected for exceeding the scan buffer.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_connected",
			Help: "1 if the last connectivity probe succeeded.",
		}),
	}
	reg.MustRegister(m.Handshakes, m.HandshakeDuration, m.DiscardedBytes, m.Scans, m.Overflows, m.Connected)
	return m
}

// ObserveHandshake records one handshake event.
func (m *ScannerMetrics) ObserveHandshake(ev scanner.HandshakeEvent) {
	if m == nil {
		return
	}
	result := ev.Result.String()
	if ev.Err != nil {
		result = "error"
	}
	m.Handshakes.WithLabelValues(ev.Command.Opcode, result).Inc()
	m.HandshakeDuration.WithLabelValues(result).Observe(ev.Duration.Seconds())
	m.AddDiscarded(ev.Discarded)
}

// AddDiscarded adds n to the discarded byte counter.
func (m *ScannerMetrics) AddDiscarded(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.DiscardedBytes.Add(float64(n))
}

func (m *ScannerMetrics) ObserveScan(truncated bool) {
	if m == nil {
		return
	}
	label := "false"
	if truncated {
		label = "true"
	}
	m.Scans.WithLabelValues(label).Inc()
}

func (m *ScannerMetrics) ObserveOverflow() {
	if m == nil {
		return
	}
	m.Overflows.Inc()
}

func (m *ScannerMetrics) SetConnected(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
}
