package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/barcode.scanner/internal/scanner"
)

func TestObserveHandshake(t *testing.T) {
	reg := NewRegistry()
	m := NewScannerMetrics(reg)

	m.ObserveHandshake(scanner.HandshakeEvent{Command: scanner.NewCommand(scanner.OpFlashLight, "1"), Result: scanner.Acked, Duration: 20 * time.Millisecond})
	m.ObserveHandshake(scanner.HandshakeEvent{Command: scanner.NewCommand(scanner.OpFlashLight, "1"), Result: scanner.TimedOut, Duration: 3 * time.Second})
	m.ObserveHandshake(scanner.HandshakeEvent{Command: scanner.NewCommand(scanner.OpFlashLight, "0"), Result: scanner.Acked, Discarded: 4})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Handshakes.WithLabelValues("LAMENA", "acked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Handshakes.WithLabelValues("LAMENA", "timed out")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DiscardedBytes))
}

func TestCounters(t *testing.T) {
	reg := NewRegistry()
	m := NewScannerMetrics(reg)

	m.AddDiscarded(3)
	m.AddDiscarded(0)
	m.ObserveScan(false)
	m.ObserveScan(true)
	m.ObserveScan(false)
	m.ObserveOverflow()
	m.SetConnected(true)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.DiscardedBytes))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Scans.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Scans.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Overflows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connected))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *ScannerMetrics
	m.ObserveHandshake(scanner.HandshakeEvent{})
	m.AddDiscarded(1)
	m.ObserveScan(true)
	m.ObserveOverflow()
	m.SetConnected(true)
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	m := NewScannerMetrics(reg)
	m.ObserveOverflow()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "scanner_scan_overflows_total 1"))
}
