package serialmux

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/barcode.scanner/internal/metrics"
	"github.com/banshee-data/barcode.scanner/internal/scanner"
	"github.com/banshee-data/barcode.scanner/internal/timeutil"
)

func newTestMux(t *testing.T, baud int, cfg Config) (*ScanMux, *MockTransport, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	tr := NewMockTransport(baud, clock)
	cfg.Session.Clock = clock
	mux := NewScanMux(tr, cfg)
	t.Cleanup(func() { mux.Close() })
	return mux, tr, clock
}

func TestScanMux_EndToEnd(t *testing.T) {
	mux, tr, clock := newTestMux(t, 115200, Config{})
	ctx := context.Background()

	require.True(t, mux.Session().IsConnected(ctx))
	require.NoError(t, mux.SendCommand(ctx, scanner.OpFlashLight, "1"))
	assert.Equal(t, []string{"^_^DSPYFW.", "^_^LAMENA1."}, tr.Frames())

	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)

	tr.Drip([]byte("012345\r"), 2, 20*time.Millisecond)
	for i := 1; i <= 4; i++ {
		clock.Advance(20 * time.Millisecond)
		done, err := mux.poll()
		require.NoError(t, err)
		assert.Equal(t, i == 4, done, "poll %d", i)
	}

	scan := <-ch
	assert.Equal(t, "012345", scan.Payload)
	assert.Empty(t, scan.CodeID)
	assert.False(t, scan.Truncated)
	assert.Equal(t, clock.Now().UTC(), scan.ScannedAt)
	assert.NotEmpty(t, scan.ID)

	st := mux.Status(ctx)
	assert.True(t, st.Connected)
	assert.Equal(t, uint64(1), st.Scans)
	assert.Equal(t, scan.ScannedAt, st.LastScanAt)
}

func TestScanMux_FanOut(t *testing.T) {
	mux, tr, _ := newTestMux(t, 115200, Config{})

	_, a := mux.Subscribe()
	idB, b := mux.Subscribe()

	tr.Inject([]byte("first\r"))
	done, err := mux.poll()
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, "first", (<-a).Payload)
	assert.Equal(t, "first", (<-b).Payload)

	mux.Unsubscribe(idB)
	_, open := <-b
	assert.False(t, open, "unsubscribed channel is closed")

	tr.Inject([]byte("second\r"))
	_, err = mux.poll()
	require.NoError(t, err)
	assert.Equal(t, "second", (<-a).Payload)
}

func TestScanMux_SlowSubscriberDoesNotBlock(t *testing.T) {
	mux, tr, _ := newTestMux(t, 115200, Config{})
	_, ch := mux.Subscribe()

	for i := 0; i < subscriberBuffer+4; i++ {
		tr.Inject([]byte("x\r"))
		done, err := mux.poll()
		require.NoError(t, err)
		require.True(t, done)
	}
	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, uint64(subscriberBuffer+4), mux.Status(context.Background()).Scans)
}

func TestScanMux_CodeID(t *testing.T) {
	mux, tr, _ := newTestMux(t, 115200, Config{})
	ctx := context.Background()
	_, ch := mux.Subscribe()

	require.NoError(t, mux.SendCommand(ctx, scanner.OpTransferCodeID, "1"))
	assert.True(t, mux.Status(ctx).CodeID)

	tr.Inject([]byte("shttps://example.com\r"))
	_, err := mux.poll()
	require.NoError(t, err)
	scan := <-ch
	assert.Equal(t, "s", scan.CodeID)
	assert.Equal(t, "https://example.com", scan.Payload)

	require.NoError(t, mux.SendCommand(ctx, scanner.OpFactoryDefault, ""))
	assert.False(t, mux.Status(ctx).CodeID)
}

func TestScanMux_SendCommandErrors(t *testing.T) {
	mux, tr, _ := newTestMux(t, 115200, Config{})
	ctx := context.Background()

	assert.ErrorIs(t, mux.SendCommand(ctx, "BOGUS", ""), scanner.ErrUnknownOpcode)
	assert.ErrorIs(t, mux.SendCommand(ctx, scanner.OpFlashLight, "2"), scanner.ErrInvalidArgument)
	assert.Empty(t, tr.Frames(), "invalid commands are not sent")

	tr.Nack[scanner.OpAimLight] = true
	assert.ErrorIs(t, mux.SendCommand(ctx, scanner.OpAimLight, "0"), scanner.ErrNacked)

	// a rejected CIDENA leaves the code id flag untouched
	tr.Nack[scanner.OpTransferCodeID] = true
	assert.Error(t, mux.SendCommand(ctx, scanner.OpTransferCodeID, "1"))
	assert.False(t, mux.codeID.Load())
}

func TestScanMux_Overflow(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewScannerMetrics(reg)
	mux, tr, _ := newTestMux(t, 115200, Config{BufferCapacity: 4, Overflow: scanner.OverflowError, Metrics: m})
	_, ch := mux.Subscribe()

	tr.Inject([]byte("toolong\rok\r"))
	done, err := mux.poll()
	require.NoError(t, err, "overflow is counted, not returned")
	assert.False(t, done)

	done, err = mux.poll()
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, "ok", (<-ch).Payload)

	st := mux.Status(context.Background())
	assert.Equal(t, uint64(1), st.Overflows)
	assert.Equal(t, uint64(1), st.Scans)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Overflows))
}

func TestScanMux_Truncated(t *testing.T) {
	mux, tr, _ := newTestMux(t, 115200, Config{BufferCapacity: 4})
	_, ch := mux.Subscribe()

	tr.Inject([]byte("abcdefg\r"))
	done, err := mux.poll()
	require.NoError(t, err)
	require.True(t, done)
	scan := <-ch
	assert.True(t, scan.Truncated)
	assert.Equal(t, "abc", scan.Payload)
}

func TestScanMux_MetricsHookChainsUserHook(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewScannerMetrics(reg)
	var events []scanner.HandshakeEvent
	mux, _, _ := newTestMux(t, 115200, Config{
		Metrics: m,
		Session: scanner.Options{OnHandshake: func(ev scanner.HandshakeEvent) { events = append(events, ev) }},
	})

	require.NoError(t, mux.SendCommand(context.Background(), scanner.OpStartScan, ""))
	require.Len(t, events, 1)
	assert.Equal(t, scanner.Acked, events[0].Result)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Handshakes.WithLabelValues(scanner.OpStartScan, "acked")))
}

func TestScanMux_Initialize(t *testing.T) {
	mux, tr, _ := newTestMux(t, 115200, Config{})
	settings := []scanner.Setting{
		{Opcode: scanner.OpReadingMode, Value: scanner.ReadingModeContinuous},
		{Opcode: scanner.OpTransferCodeID, Value: "1"},
	}

	require.NoError(t, mux.Initialize(context.Background(), settings))
	assert.Equal(t, []string{"^_^DSPYFW.", "^_^SCMCNT.", "^_^CIDENA1."}, tr.Frames())
	assert.True(t, mux.codeID.Load())
}

func TestScanMux_InitializeRecoversBaud(t *testing.T) {
	mux, tr, _ := newTestMux(t, 9600, Config{})
	tr.SetDeviceBaud(scanner.FactoryBaudRate)

	require.NoError(t, mux.Initialize(context.Background(), nil))
	assert.Equal(t, 9600, tr.DeviceBaud())
	assert.Equal(t, 9600, tr.BaudRate())
	assert.Equal(t, []string{"^_^DSPYFW.", "^_^232BAD5.", "^_^DSPYFW."}, tr.Frames())
}

func TestScanMux_StatusLeavesBaudAlone(t *testing.T) {
	mux, tr, _ := newTestMux(t, 9600, Config{})
	tr.SetDeviceBaud(scanner.FactoryBaudRate)

	st := mux.Status(context.Background())
	assert.False(t, st.Connected)
	assert.Equal(t, []string{"^_^DSPYFW."}, tr.Frames(), "status must not send 232BAD")
	assert.Equal(t, scanner.FactoryBaudRate, tr.DeviceBaud())
	assert.Equal(t, 9600, tr.BaudRate())
}

func TestScanMux_SubscribeAfterClose(t *testing.T) {
	mux, _, _ := newTestMux(t, 115200, Config{})
	require.NoError(t, mux.Close())

	_, ch := mux.Subscribe()
	select {
	case _, open := <-ch:
		assert.False(t, open, "subscription after Close is already closed")
	case <-time.After(time.Second):
		t.Fatal("subscription after Close was left open")
	}
}

func TestScanMux_InitializeFailures(t *testing.T) {
	t.Run("silent", func(t *testing.T) {
		mux, tr, _ := newTestMux(t, 115200, Config{})
		tr.Silent = true
		err := mux.Initialize(context.Background(), []scanner.Setting{{Opcode: scanner.OpStartScan}})
		require.ErrorIs(t, err, ErrNotConnected)
		assert.NotContains(t, tr.Frames(), "^_^SCAN.")
	})

	t.Run("setting rejected", func(t *testing.T) {
		mux, tr, _ := newTestMux(t, 115200, Config{})
		tr.Nack[scanner.OpFlashLight] = true
		err := mux.Initialize(context.Background(), []scanner.Setting{
			{Opcode: scanner.OpFlashLight, Value: "0"},
			{Opcode: scanner.OpAimLight, Value: "0"},
		})
		require.ErrorIs(t, err, scanner.ErrNacked)
		assert.Contains(t, err.Error(), "LAMENA0")
		assert.NotContains(t, tr.Frames(), "^_^AIMENA0.", "first failure aborts")
	})
}

func TestScanMux_MonitorStopsOnCancel(t *testing.T) {
	mux, tr, clock := newTestMux(t, 115200, Config{})
	_, ch := mux.Subscribe()
	tr.Inject([]byte("scan\r"))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- mux.Monitor(ctx) }()

	// the ticker is created inside Monitor, so keep advancing until it fires
	var scan Scan
	require.Eventually(t, func() bool {
		clock.Advance(DefaultPollInterval)
		select {
		case scan = <-ch:
			return true
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, "scan", scan.Payload)

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestScanMux_MonitorStopsOnClose(t *testing.T) {
	mux, _, clock := newTestMux(t, 115200, Config{})
	_, ch := mux.Subscribe()

	errc := make(chan error, 1)
	go func() { errc <- mux.Monitor(context.Background()) }()

	require.NoError(t, mux.Close())
	_, open := <-ch
	assert.False(t, open, "Close closes subscriber channels")

	require.Eventually(t, func() bool {
		clock.Advance(DefaultPollInterval)
		select {
		case err := <-errc:
			return err == nil
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)

	_, err := mux.poll()
	assert.True(t, errors.Is(err, scanner.ErrClosed))
	assert.False(t, mux.Status(context.Background()).Connected)
}
