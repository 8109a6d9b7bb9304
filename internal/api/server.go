// Package api serves the scanner's JSON HTTP API: stored scans and command
// history, commands to the scanner, status and serial port configurations.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/barcode.scanner/internal/db"
	"github.com/banshee-data/barcode.scanner/internal/httputil"
	"github.com/banshee-data/barcode.scanner/internal/monitoring"
	"github.com/banshee-data/barcode.scanner/internal/scanner"
	"github.com/banshee-data/barcode.scanner/internal/serialmux"
	"github.com/banshee-data/barcode.scanner/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// statusTimeout bounds the connectivity probe behind GET /status. A probe
// that needs baud recovery takes two probe timeouts plus the settle delay.
const statusTimeout = 5 * time.Second

type Server struct {
	m       serialmux.SerialMuxInterface
	db      *db.DB
	metrics http.Handler
}

// NewServer creates an API server. metrics may be nil, in which case
// /metrics is not served.
func NewServer(m serialmux.SerialMuxInterface, db *db.DB, metrics http.Handler) *Server {
	return &Server{
		m:       m,
		db:      db,
		metrics: metrics,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/scans", s.listScans)
	mux.HandleFunc("/commands", s.listCommands)
	mux.HandleFunc("/command", s.sendCommand)
	mux.HandleFunc("/status", s.showStatus)
	mux.HandleFunc("/properties", s.listProperties)
	mux.HandleFunc("/serial-configs", s.handleSerialConfigsOrCreate)
	mux.HandleFunc("/serial-configs/", s.handleSerialConfigByID)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

// parseLimit reads ?limit=. Absent means the db default; anything other
// than a positive integer is rejected. Values above db.MaxListLimit are
// clamped by the db layer.
func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return db.DefaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid 'limit' parameter %q", v)
	}
	return n, nil
}

func (s *Server) listScans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	scans, err := s.db.RecentScans(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve scans: %v", err))
		return
	}
	httputil.WriteJSONOK(w, scans)
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	commands, err := s.db.RecentCommands(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve commands: %v", err))
		return
	}
	httputil.WriteJSONOK(w, commands)
}

// CommandRequest is the body of POST /command. Form posts may instead send
// a single "command" field such as "LAMENA1".
type CommandRequest struct {
	Opcode string `json:"opcode"`
	Value  string `json:"value"`
}

// CommandResponse reports an acknowledged command.
type CommandResponse struct {
	Opcode string `json:"opcode"`
	Value  string `json:"value"`
	Result string `json:"result"`
}

func readCommandRequest(r *http.Request) (CommandRequest, error) {
	var req CommandRequest
	if httputil.IsJSON(r) {
		err := httputil.DecodeJSON(r, &req)
		return req, err
	}
	if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("invalid form: %w", err)
	}
	if raw := strings.TrimSpace(r.PostForm.Get("command")); raw != "" {
		req.Opcode, req.Value = serialmux.SplitCommand(raw)
		return req, nil
	}
	req.Opcode = r.PostForm.Get("opcode")
	req.Value = r.PostForm.Get("value")
	return req, nil
}

// commandErrorStatus maps a SendCommand error to an HTTP status.
func commandErrorStatus(err error) int {
	switch {
	case errors.Is(err, scanner.ErrInvalidArgument), errors.Is(err, scanner.ErrUnknownOpcode):
		return http.StatusBadRequest
	case errors.Is(err, serialmux.ErrNotConnected), errors.Is(err, scanner.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, scanner.ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, scanner.ErrNacked):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	req, err := readCommandRequest(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	req.Opcode = strings.ToUpper(strings.TrimSpace(req.Opcode))
	req.Value = strings.TrimSpace(req.Value)
	if req.Opcode == "" {
		httputil.BadRequest(w, "Missing opcode")
		return
	}
	// Validate before touching the port so bad input never waits on the
	// session lock.
	if err := scanner.ValidateCommand(req.Opcode, req.Value); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if err := s.m.SendCommand(r.Context(), req.Opcode, req.Value); err != nil {
		monitoring.Logf("command %s%s failed: %v", req.Opcode, req.Value, err)
		httputil.WriteJSONError(w, commandErrorStatus(err), err.Error())
		return
	}
	httputil.WriteJSONOK(w, CommandResponse{Opcode: req.Opcode, Value: req.Value, Result: scanner.Acked.String()})
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Scanner     serialmux.Status `json:"scanner"`
	Version     string           `json:"version"`
	StoredScans int              `json:"stored_scans"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()

	n, err := s.db.ScanCount()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to count scans: %v", err))
		return
	}
	httputil.WriteJSONOK(w, StatusResponse{
		Scanner:     s.m.Status(ctx),
		Version:     version.String(),
		StoredScans: n,
	})
}

func (s *Server) listProperties(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, scanner.Properties)
}
