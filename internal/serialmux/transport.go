package serialmux

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/barcode.scanner/internal/monitoring"
)

// readTimeout bounds each blocking Read in the reader loop.
const readTimeout = 50 * time.Millisecond

var ErrTransportClosed = errors.New("serial transport closed")

// openPort is replaced in tests.
var openPort SerialPortOpener = openRealPort

// SerialTransport adapts a go.bug.st/serial port to scanner.Transport. The
// serial package cannot report how many bytes are waiting, so a reader
// goroutine drains the port into a buffer and Available reports its length.
type SerialTransport struct {
	port SerialPorter

	mu     sync.Mutex
	cond   *sync.Cond
	mode   serial.Mode
	rx     []byte
	err    error
	closed bool

	done chan struct{}
}

// OpenSerialTransport opens path with opts and starts the reader loop.
func OpenSerialTransport(path string, opts PortOptions) (*SerialTransport, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := openPort(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	t, err := NewSerialTransport(port, mode)
	if err != nil {
		port.Close()
		return nil, err
	}
	monitoring.Logf("opened %s at %d bps", path, mode.BaudRate)
	return t, nil
}

// NewSerialTransport wraps an already opened port configured with mode.
func NewSerialTransport(port SerialPorter, mode *serial.Mode) (*SerialTransport, error) {
	if err := port.SetReadTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	t := &SerialTransport{
		port: port,
		mode: *mode,
		done: make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	go t.readLoop()
	return t, nil
}

func (t *SerialTransport) readLoop() {
	defer close(t.done)
	chunk := make([]byte, 256)
	for {
		n, err := t.port.Read(chunk)

		t.mu.Lock()
		if n > 0 {
			t.rx = append(t.rx, chunk[:n]...)
			monitoring.Debugf("rx % x", chunk[:n])
		}
		if t.closed {
			t.mu.Unlock()
			return
		}
		if err != nil {
			t.err = err
			t.cond.Broadcast()
			t.mu.Unlock()
			monitoring.Logf("serial read failed: %v", err)
			return
		}
		if n > 0 {
			t.cond.Broadcast()
		}
		t.mu.Unlock()
	}
}

// Available returns the number of buffered bytes. Once buffered bytes run
// out, a reader failure is reported.
func (t *SerialTransport) Available() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rx) > 0 {
		return len(t.rx), nil
	}
	if t.closed {
		return 0, ErrTransportClosed
	}
	return 0, t.err
}

// ReadByte blocks until a byte is buffered or the transport fails.
func (t *SerialTransport) ReadByte() (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.rx) == 0 {
		if t.closed {
			return 0, ErrTransportClosed
		}
		if t.err != nil {
			return 0, t.err
		}
		t.cond.Wait()
	}
	b := t.rx[0]
	t.rx = t.rx[1:]
	return b, nil
}

func (t *SerialTransport) Write(p []byte) (int, error) {
	monitoring.Debugf("tx %q", p)
	return t.port.Write(p)
}

// SetBaudRate reconfigures the UART. Buffered bytes received at the old rate
// are kept.
func (t *SerialTransport) SetBaudRate(baud int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	mode := t.mode
	mode.BaudRate = baud
	if err := t.port.SetMode(&mode); err != nil {
		return fmt.Errorf("set baud rate %d: %w", baud, err)
	}
	t.mode = mode
	return nil
}

func (t *SerialTransport) BaudRate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode.BaudRate
}

// Close closes the port and waits for the reader loop to exit.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.cond.Broadcast()
	t.mu.Unlock()

	err := t.port.Close()
	<-t.done
	return err
}
