package scanner

import (
	"errors"
	"fmt"
)

var (
	// ErrNacked is matched by handshake errors where the peripheral replied NACK.
	ErrNacked = errors.New("command rejected by scanner")
	// ErrTimedOut is matched by handshake errors where no ACK/NACK arrived in time.
	ErrTimedOut = errors.New("timed out waiting for scanner response")
	// ErrScanOverflow is returned by ReadBarcode under OverflowError when a
	// payload does not fit the scan buffer.
	ErrScanOverflow = errors.New("barcode payload exceeds scan buffer capacity")
	// ErrInvalidArgument is returned when a property value is out of range.
	ErrInvalidArgument = errors.New("invalid property value")
	// ErrUnknownOpcode is returned for opcodes missing from the property table.
	ErrUnknownOpcode = errors.New("unknown opcode")
	// ErrShortWrite is returned when the transport accepts part of a frame.
	ErrShortWrite = errors.New("short write to scanner transport")
	// ErrClosed is returned by a session after Close.
	ErrClosed = errors.New("scanner session closed")
)

// HandshakeError reports a command that did not end in Acked.
type HandshakeError struct {
	Command Command
	Result  HandshakeResult
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("command %q: %s", e.Command.String(), e.Result)
}

// Is matches ErrNacked or ErrTimedOut according to the result.
func (e *HandshakeError) Is(target error) bool {
	switch target {
	case ErrNacked:
		return e.Result == Nacked
	case ErrTimedOut:
		return e.Result == TimedOut
	}
	return false
}
