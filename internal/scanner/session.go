package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/barcode.scanner/internal/monitoring"
	"github.com/banshee-data/barcode.scanner/internal/timeutil"
)

const (
	DefaultCommandTimeout = 3 * time.Second
	// DefaultVersionTimeout is longer than the command default; the firmware
	// version response typically takes ~430ms and occasionally much longer.
	DefaultVersionTimeout = 5 * time.Second
	DefaultProbeTimeout   = 800 * time.Millisecond
	DefaultSettleDelay    = 100 * time.Millisecond
	DefaultPollYield      = time.Millisecond

	// FactoryBaudRate is the rate the peripheral uses after a factory reset.
	FactoryBaudRate = 115200
)

// Transport is the byte-stream link to the peripheral. Available must not
// block. ReadByte is only called after Available reported pending bytes.
type Transport interface {
	Available() (int, error)
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
	SetBaudRate(baud int) error
	BaudRate() int
	Close() error
}

// HandshakeEvent describes one completed SendAndAwait call.
type HandshakeEvent struct {
	Command   Command
	Result    HandshakeResult
	Duration  time.Duration
	// Discarded counts bytes dropped while awaiting this response.
	Discarded uint64
	Err       error
}

// Options tunes a Session. Zero values fall back to the package defaults.
type Options struct {
	CommandTimeout time.Duration
	VersionTimeout time.Duration
	ProbeTimeout   time.Duration
	SettleDelay    time.Duration
	// PollYield is the sleep between availability checks while awaiting a
	// handshake response.
	PollYield time.Duration

	Clock timeutil.Clock

	// OnHandshake, if set, is called after every handshake with the session
	// lock held. It must not call back into the Session.
	OnHandshake func(HandshakeEvent)
}

func (o Options) withDefaults() Options {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.VersionTimeout <= 0 {
		o.VersionTimeout = DefaultVersionTimeout
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.PollYield <= 0 {
		o.PollYield = DefaultPollYield
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// Session owns the transport of one physical scanner. Every operation that
// touches the transport takes the same lock: the protocol has no response
// tagging, so a concurrent reader could swallow an ACK or eat barcode bytes.
type Session struct {
	mu         sync.Mutex
	transport  Transport
	clock      timeutil.Clock
	opts       Options
	targetBaud int
	closed     bool

	discarded atomic.Uint64
}

// NewSession wraps t. The transport's current baud rate becomes the target
// rate restored by the connectivity probe.
func NewSession(t Transport, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		transport:  t,
		clock:      opts.Clock,
		opts:       opts,
		targetBaud: t.BaudRate(),
	}
}

// Options returns the effective options of the session.
func (s *Session) Options() Options {
	return s.opts
}

// BaudRate returns the rate the session expects the peripheral to use.
func (s *Session) BaudRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetBaud
}

// DiscardedBytes counts unrecognised bytes dropped while awaiting ACK/NACK.
func (s *Session) DiscardedBytes() uint64 {
	return s.discarded.Load()
}

// Close closes the transport. Further operations return ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.transport.Close()
}

// IsConnected probes the peripheral with a firmware version query. If that
// times out it assumes the peripheral fell back to its factory baud rate:
// it switches the transport to FactoryBaudRate, tells the peripheral to use
// the target rate, switches back, waits for the peripheral to settle and
// probes once more. The lock is held for the whole sequence.
func (s *Session) IsConnected(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	probe := NewCommand(OpGetVersion, "")
	res, err := s.sendAndAwaitLocked(ctx, probe, s.opts.ProbeTimeout)
	if err != nil {
		monitoring.Logf("scanner probe failed: %v", err)
		return false
	}
	switch res {
	case Acked:
		return true
	case Nacked:
		return false
	}

	if err := s.recoverBaudLocked(ctx); err != nil {
		monitoring.Logf("scanner baud recovery failed: %v", err)
		return false
	}

	res, err = s.sendAndAwaitLocked(ctx, probe, s.opts.ProbeTimeout)
	if err != nil {
		monitoring.Logf("scanner probe failed after baud recovery: %v", err)
		return false
	}
	return res == Acked
}

// Ping sends a single firmware version query at the current baud rate and
// reports whether it was acked. Unlike IsConnected it never changes the
// peripheral's configuration.
func (s *Session) Ping(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	res, err := s.sendAndAwaitLocked(ctx, NewCommand(OpGetVersion, ""), s.opts.ProbeTimeout)
	if err != nil {
		monitoring.Logf("scanner ping failed: %v", err)
		return false
	}
	return res == Acked
}

func (s *Session) recoverBaudLocked(ctx context.Context) error {
	target := s.targetBaud
	code, ok := BaudCode(target)
	if !ok {
		return fmt.Errorf("%w: no baud code for %d bps", ErrInvalidArgument, target)
	}

	monitoring.Logf("scanner silent at %d bps, retrying via factory rate %d bps", target, FactoryBaudRate)
	if err := s.transport.SetBaudRate(FactoryBaudRate); err != nil {
		return fmt.Errorf("switch to factory baud rate: %w", err)
	}

	res, sendErr := s.sendAndAwaitLocked(ctx, NewCommand(OpBaudRate, code), s.opts.ProbeTimeout)
	if err := s.transport.SetBaudRate(target); err != nil {
		return fmt.Errorf("restore baud rate %d: %w", target, err)
	}
	if sendErr != nil {
		return sendErr
	}
	monitoring.Logf("baud rate change to %d bps: %s", target, res)
	s.clock.Sleep(s.opts.SettleDelay)
	return nil
}
