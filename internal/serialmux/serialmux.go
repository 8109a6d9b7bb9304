// Package serialmux owns the scanner session for the running service: it
// polls the session for barcodes, fans completed scans out to subscribers and
// serialises commands from the API and admin routes onto the same port.
package serialmux

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/barcode.scanner/internal/metrics"
	"github.com/banshee-data/barcode.scanner/internal/monitoring"
	"github.com/banshee-data/barcode.scanner/internal/scanner"
	"github.com/banshee-data/barcode.scanner/internal/timeutil"
)

// DefaultPollInterval is how often Monitor asks the session for scan bytes.
const DefaultPollInterval = 20 * time.Millisecond

// subscriberBuffer is the channel depth per subscriber. Scans beyond it are
// dropped for that subscriber rather than stalling the poll loop.
const subscriberBuffer = 16

var ErrNotConnected = errors.New("scanner not responding")

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

// Scan is one completed barcode.
type Scan struct {
	ID        string    `json:"id"`
	Payload   string    `json:"payload"`
	CodeID    string    `json:"code_id,omitempty"`
	Truncated bool      `json:"truncated"`
	ScannedAt time.Time `json:"scanned_at"`
}

// Status is a snapshot of the scanner and mux counters.
type Status struct {
	Connected      bool      `json:"connected"`
	BaudRate       int       `json:"baud_rate"`
	CodeID         bool      `json:"code_id"`
	DiscardedBytes uint64    `json:"discarded_bytes"`
	Scans          uint64    `json:"scans"`
	Overflows      uint64    `json:"overflows"`
	LastScanAt     time.Time `json:"last_scan_at,omitzero"`
}

// Config tunes a ScanMux. Zero values select defaults.
type Config struct {
	PollInterval   time.Duration
	BufferCapacity int
	Overflow       scanner.OverflowPolicy
	// Session options; Session.Clock also drives the poll ticker.
	Session scanner.Options
	Metrics *metrics.ScannerMetrics
}

// SerialMuxInterface is implemented by ScanMux and DisabledSerialMux.
type SerialMuxInterface interface {
	// Subscribe returns a channel receiving every completed scan. The id is
	// used to unsubscribe.
	Subscribe() (string, chan Scan)
	// Unsubscribe closes and removes a subscriber channel.
	Unsubscribe(string)
	// SendCommand validates and sends one opcode/value pair.
	SendCommand(ctx context.Context, opcode, value string) error
	// Status probes the scanner and returns the current counters.
	Status(ctx context.Context) Status
	// Monitor polls for barcodes until ctx is done or the mux is closed.
	Monitor(context.Context) error
	// Close closes all subscriber channels and the port.
	Close() error
	// Initialize checks connectivity and applies the startup settings.
	Initialize(ctx context.Context, settings []scanner.Setting) error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// ScanMux drives one scanner session.
type ScanMux struct {
	session      *scanner.Session
	buf          *scanner.ScanBuffer
	clock        timeutil.Clock
	pollInterval time.Duration
	metrics      *metrics.ScannerMetrics

	codeID     atomic.Bool
	scans      atomic.Uint64
	overflows  atomic.Uint64
	lastScanAt atomic.Int64

	subscribers  map[string]chan Scan
	subscriberMu sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// NewScanMux wraps t in a scanner session configured by cfg.
func NewScanMux(t scanner.Transport, cfg Config) *ScanMux {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Session.Clock == nil {
		cfg.Session.Clock = timeutil.RealClock{}
	}
	if cfg.Metrics != nil {
		hook := cfg.Session.OnHandshake
		cfg.Session.OnHandshake = func(ev scanner.HandshakeEvent) {
			cfg.Metrics.ObserveHandshake(ev)
			if hook != nil {
				hook(ev)
			}
		}
	}
	return &ScanMux{
		session:      scanner.NewSession(t, cfg.Session),
		buf:          scanner.NewScanBuffer(cfg.BufferCapacity, cfg.Overflow),
		clock:        cfg.Session.Clock,
		pollInterval: cfg.PollInterval,
		metrics:      cfg.Metrics,
		subscribers:  make(map[string]chan Scan),
	}
}

// Session exposes the underlying session for direct facade calls.
func (s *ScanMux) Session() *scanner.Session {
	return s.session
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *ScanMux) Subscribe() (string, chan Scan) {
	id := randomID()
	ch := make(chan Scan, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	// Close marks closing before it drains subscribers under this lock
	if s.isClosing() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the mux.
func (s *ScanMux) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Initialize probes the scanner, recovering its baud rate if needed, then
// applies settings in order. The first failing setting aborts.
func (s *ScanMux) Initialize(ctx context.Context, settings []scanner.Setting) error {
	ok := s.session.IsConnected(ctx)
	s.metrics.SetConnected(ok)
	if !ok {
		return fmt.Errorf("%w at %d bps", ErrNotConnected, s.session.BaudRate())
	}
	monitoring.Logf("scanner responding at %d bps", s.session.BaudRate())

	for _, st := range settings {
		if err := s.SendCommand(ctx, st.Opcode, st.Value); err != nil {
			return fmt.Errorf("apply setting %s%s: %w", st.Opcode, st.Value, err)
		}
	}
	return nil
}

// SendCommand validates opcode/value against the property table and sends it.
func (s *ScanMux) SendCommand(ctx context.Context, opcode, value string) error {
	if err := s.session.Apply(ctx, opcode, value); err != nil {
		return err
	}
	switch opcode {
	case scanner.OpTransferCodeID:
		s.codeID.Store(value == "1")
	case scanner.OpFactoryDefault:
		s.codeID.Store(false)
	}
	return nil
}

// Status pings the scanner at the current baud rate without attempting baud
// recovery, so it never reconfigures the peripheral. The ping shares the
// port lock with Monitor, so scan bytes that arrive during it are discarded.
func (s *ScanMux) Status(ctx context.Context) Status {
	connected := s.session.Ping(ctx)
	s.metrics.SetConnected(connected)
	st := Status{
		Connected:      connected,
		BaudRate:       s.session.BaudRate(),
		CodeID:         s.codeID.Load(),
		DiscardedBytes: s.session.DiscardedBytes(),
		Scans:          s.scans.Load(),
		Overflows:      s.overflows.Load(),
	}
	if ns := s.lastScanAt.Load(); ns != 0 {
		st.LastScanAt = time.Unix(0, ns).UTC()
	}
	return st
}

// Monitor polls the session every poll interval and publishes completed
// scans until ctx is cancelled or the mux is closed.
func (s *ScanMux) Monitor(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if s.isClosing() {
				return nil
			}
			if _, err := s.poll(); err != nil {
				if errors.Is(err, scanner.ErrClosed) {
					return nil
				}
				return err
			}
		}
	}
}

// poll makes one ReadBarcode call and reports whether a scan was published.
func (s *ScanMux) poll() (bool, error) {
	done, err := s.session.ReadBarcode(s.buf)
	if errors.Is(err, scanner.ErrScanOverflow) {
		s.overflows.Add(1)
		s.metrics.ObserveOverflow()
		monitoring.Logf("dropping scan: %v", err)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !done {
		return false, nil
	}

	codeID, payload := ParseScan(s.buf.String(), s.codeID.Load())
	scan := Scan{
		ID:        uuid.NewString(),
		Payload:   payload,
		CodeID:    codeID,
		Truncated: s.buf.Truncated(),
		ScannedAt: s.clock.Now().UTC(),
	}
	s.scans.Add(1)
	s.lastScanAt.Store(scan.ScannedAt.UnixNano())
	s.metrics.ObserveScan(scan.Truncated)
	if scan.Truncated {
		monitoring.Logf("scan truncated to %d bytes", s.buf.Len())
	}
	monitoring.Debugf("scan %s %q", scan.ID, scan.Payload)

	s.publish(scan)
	return true, nil
}

func (s *ScanMux) publish(scan Scan) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- scan:
		default:
			// if the channel is full/blocking skip so as not to block the poll loop
		}
	}
}

func (s *ScanMux) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

func (s *ScanMux) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.session.Close()
}

func (s *ScanMux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// Command form and live scan tail using the endpoints below.
	debug.HandleFunc("send-command", "send a command to the scanner", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		data := struct{ Properties []scanner.Property }{scanner.Properties}
		if err := sendCommandTemplate.Execute(buf, data); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// API endpoint to send a raw command such as "LAMENA1".
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		opcode, value := SplitCommand(command)
		if err := s.SendCommand(r.Context(), opcode, value); err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, scanner.ErrInvalidArgument) || errors.Is(err, scanner.ErrUnknownOpcode) {
				status = http.StatusBadRequest
			}
			http.Error(w, fmt.Sprintf("Command %q failed: %v", command, err), status)
			return
		}
		fmt.Fprintf(w, "Command %q acknowledged", opcode+value)
	})

	debug.HandleFunc("scanner-status", "probe the scanner and show counters", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Status(r.Context()))
	})

	// Server-Sent Events stream of completed scans.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		serveScanEvents(w, r, s)
	})

	debug.HandleSilentFunc("tail.js", serveTailJS)
}

// serveScanEvents streams scans from m to w as SSE until the request ends or
// the subscription is closed.
func serveScanEvents(w http.ResponseWriter, r *http.Request, m SerialMuxInterface) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := m.Subscribe()
	defer m.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case scan, ok := <-c:
			if !ok {
				return
			}
			payload, err := json.Marshal(scan)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func serveTailJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	w.Header().Set("Cache-Control", "no-cache")

	f, err := adminTemplateFS.Open("templates/tail.js")
	if err != nil {
		http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	io.Copy(w, f)
}
