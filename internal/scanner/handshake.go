package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/barcode.scanner/internal/monitoring"
)

// HandshakeResult is the outcome of one command send.
type HandshakeResult int

const (
	TimedOut HandshakeResult = iota
	Acked
	Nacked
)

func (r HandshakeResult) String() string {
	switch r {
	case Acked:
		return "acked"
	case Nacked:
		return "nacked"
	case TimedOut:
		return "timed out"
	}
	return fmt.Sprintf("HandshakeResult(%d)", int(r))
}

// SendAndAwait writes the framed command and waits up to timeout for the
// peripheral's ACK or NACK byte. Bytes that are neither are discarded.
//
// The returned error is non-nil only for transport failures or context
// cancellation; the result is TimedOut in those cases. Nacked and TimedOut
// on their own are not errors here; see SendCommand for the error form.
func (s *Session) SendAndAwait(ctx context.Context, cmd Command, timeout time.Duration) (HandshakeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return TimedOut, ErrClosed
	}
	return s.sendAndAwaitLocked(ctx, cmd, timeout)
}

// SendCommand sends opcode+argument with the command timeout and reports
// anything other than Acked as an error matching ErrNacked or ErrTimedOut.
func (s *Session) SendCommand(ctx context.Context, opcode, argument string) error {
	return s.sendWithTimeout(ctx, NewCommand(opcode, argument), s.opts.CommandTimeout)
}

func (s *Session) sendWithTimeout(ctx context.Context, cmd Command, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.sendLocked(ctx, cmd, timeout)
}

func (s *Session) sendLocked(ctx context.Context, cmd Command, timeout time.Duration) error {
	res, err := s.sendAndAwaitLocked(ctx, cmd, timeout)
	if err != nil {
		return err
	}
	if res != Acked {
		return &HandshakeError{Command: cmd, Result: res}
	}
	return nil
}

func (s *Session) sendAndAwaitLocked(ctx context.Context, cmd Command, timeout time.Duration) (HandshakeResult, error) {
	start := s.clock.Now()
	discarded := s.discarded.Load()
	res, err := s.handshake(ctx, cmd, timeout)
	if s.opts.OnHandshake != nil {
		s.opts.OnHandshake(HandshakeEvent{
			Command:   cmd,
			Result:    res,
			Duration:  s.clock.Since(start),
			Discarded: s.discarded.Load() - discarded,
			Err:       err,
		})
	}
	return res, err
}

func (s *Session) handshake(ctx context.Context, cmd Command, timeout time.Duration) (HandshakeResult, error) {
	frame := cmd.Frame()
	n, err := s.transport.Write(frame)
	if err != nil {
		return TimedOut, fmt.Errorf("write %q: %w", frame, err)
	}
	if n != len(frame) {
		return TimedOut, fmt.Errorf("write %q: %w (%d of %d bytes)", frame, ErrShortWrite, n, len(frame))
	}
	monitoring.Debugf("-> %q", frame)

	deadline := s.clock.Now().Add(timeout)
	for s.clock.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return TimedOut, err
		}

		avail, err := s.transport.Available()
		if err != nil {
			return TimedOut, fmt.Errorf("awaiting response to %q: %w", frame, err)
		}
		if avail == 0 {
			s.clock.Sleep(s.opts.PollYield)
			continue
		}

		for ; avail > 0; avail-- {
			b, err := s.transport.ReadByte()
			if err != nil {
				return TimedOut, fmt.Errorf("awaiting response to %q: %w", frame, err)
			}
			switch b {
			case Ack:
				monitoring.Debugf("<- ACK for %s", cmd)
				return Acked, nil
			case Nack:
				monitoring.Debugf("<- NACK for %s", cmd)
				return Nacked, nil
			}
			s.discarded.Add(1)
			monitoring.Debugf("discarding %#02x while awaiting %s", b, cmd)
		}
	}

	monitoring.Debugf("no response to %s within %v", cmd, timeout)
	return TimedOut, nil
}
