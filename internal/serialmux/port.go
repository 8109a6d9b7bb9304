package serialmux

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// SerialPorter is the subset of serial.Port used by SerialTransport. Tests
// substitute an in-memory port.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
	// SetMode reconfigures the line settings, including the baud rate.
	SetMode(mode *serial.Mode) error
	// SetReadTimeout bounds each Read so the reader loop can notice Close.
	SetReadTimeout(timeout time.Duration) error
}

// SerialPortOpener opens a serial port. It is a variable in OpenSerialTransport
// so tests can replace it.
type SerialPortOpener func(path string, mode *serial.Mode) (SerialPorter, error)

func openRealPort(path string, mode *serial.Mode) (SerialPorter, error) {
	return serial.Open(path, mode)
}
