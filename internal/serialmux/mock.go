package serialmux

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/barcode.scanner/internal/monitoring"
	"github.com/banshee-data/barcode.scanner/internal/scanner"
	"github.com/banshee-data/barcode.scanner/internal/timeutil"
)

// MockTransport is an in-memory scanner.Transport with a simulated
// peripheral behind it. The peripheral answers well-formed frames for known
// opcodes with ACK, anything else with NACK, and stays silent while the host
// and peripheral baud rates differ. It follows 232BAD and DEFALT.
type MockTransport struct {
	mu         sync.Mutex
	clock      timeutil.Clock
	rx         []byte
	drips      []*drip
	written    [][]byte
	baud       int
	deviceBaud int
	closed     bool

	// Silent makes the peripheral ignore every frame.
	Silent bool
	// Nack lists opcodes the peripheral rejects.
	Nack map[string]bool
}

// drip releases data a few bytes at a time as the clock advances.
type drip struct {
	data     []byte
	perTick  int
	every    time.Duration
	start    time.Time
	released int
}

// NewMockTransport returns a transport and peripheral both at baud.
func NewMockTransport(baud int, clock timeutil.Clock) *MockTransport {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &MockTransport{
		clock:      clock,
		baud:       baud,
		deviceBaud: baud,
		Nack:       make(map[string]bool),
	}
}

// SetDeviceBaud sets the rate the simulated peripheral listens at.
func (m *MockTransport) SetDeviceBaud(baud int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceBaud = baud
}

func (m *MockTransport) DeviceBaud() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deviceBaud
}

// Inject makes b available to the host immediately.
func (m *MockTransport) Inject(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rx = append(m.rx, b...)
}

// Drip makes data available perTick bytes for every elapsed interval of the
// transport clock, starting now.
func (m *MockTransport) Drip(data []byte, perTick int, every time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drips = append(m.drips, &drip{
		data:    append([]byte(nil), data...),
		perTick: perTick,
		every:   every,
		start:   m.clock.Now(),
	})
}

func (m *MockTransport) releaseLocked() {
	now := m.clock.Now()
	pending := m.drips[:0]
	for _, d := range m.drips {
		due := int(now.Sub(d.start)/d.every) * d.perTick
		due = min(due, len(d.data))
		if due > d.released {
			m.rx = append(m.rx, d.data[d.released:due]...)
			d.released = due
		}
		if d.released < len(d.data) {
			pending = append(pending, d)
		}
	}
	m.drips = pending
}

func (m *MockTransport) Available() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrTransportClosed
	}
	m.releaseLocked()
	return len(m.rx), nil
}

func (m *MockTransport) ReadByte() (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrTransportClosed
	}
	m.releaseLocked()
	if len(m.rx) == 0 {
		return 0, io.EOF
	}
	b := m.rx[0]
	m.rx = m.rx[1:]
	return b, nil
}

func (m *MockTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrTransportClosed
	}
	m.written = append(m.written, append([]byte(nil), p...))
	if reply, ok := m.respondLocked(p); ok {
		m.rx = append(m.rx, reply)
	}
	return len(p), nil
}

func (m *MockTransport) respondLocked(frame []byte) (byte, bool) {
	if m.Silent || m.baud != m.deviceBaud {
		return 0, false
	}
	body, ok := bytes.CutPrefix(frame, []byte(scanner.StartMarker))
	if !ok {
		return 0, false
	}
	body, ok = bytes.CutSuffix(body, []byte(scanner.EndMarker))
	if !ok {
		return 0, false
	}
	opcode, value := SplitCommand(string(body))
	if m.Nack[opcode] || scanner.ValidateCommand(opcode, value) != nil {
		return scanner.Nack, true
	}
	switch opcode {
	case scanner.OpBaudRate:
		m.deviceBaud, _ = scanner.BaudFromCode(value)
	case scanner.OpFactoryDefault:
		m.deviceBaud = scanner.FactoryBaudRate
	}
	return scanner.Ack, true
}

// Frames returns every frame written so far.
func (m *MockTransport) Frames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.written))
	for i, f := range m.written {
		out[i] = string(f)
	}
	return out
}

func (m *MockTransport) SetBaudRate(baud int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baud = baud
	return nil
}

func (m *MockTransport) BaudRate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baud
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockTransport) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// NewMockSerialMux creates a ScanMux backed by a MockTransport that emits
// each of barcodes in turn, one every interval, until the mux is closed.
func NewMockSerialMux(barcodes []string, interval time.Duration, cfg Config) *ScanMux {
	t := NewMockTransport(scanner.FactoryBaudRate, timeutil.RealClock{})
	monitoring.Logf("using mock scanner with %d fixture barcodes", len(barcodes))

	if len(barcodes) > 0 {
		go func() {
			for i := 0; !t.isClosed(); i++ {
				t.Inject([]byte(strings.TrimRight(barcodes[i%len(barcodes)], "\r\n") + "\r"))
				time.Sleep(interval)
			}
		}()
	}
	return NewScanMux(t, cfg)
}

// TestableSerialPort implements SerialPorter for SerialTransport tests.
type TestableSerialPort struct {
	mu sync.Mutex

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	cond     *sync.Cond

	// ReadError is returned by the next Read if set.
	ReadError error
	// WriteError is returned by every Write if set.
	WriteError error
	// ModeError is returned by SetMode if set.
	ModeError error

	Modes       []serial.Mode
	ReadTimeout time.Duration
	Closed      bool
}

// NewTestableSerialPort creates an empty TestableSerialPort.
func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Read returns buffered data, waiting up to ReadTimeout for some to arrive.
// Like go.bug.st/serial it returns 0, nil on timeout.
func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readBuf.Len() == 0 && !p.Closed && p.ReadError == nil {
		timer := time.AfterFunc(p.ReadTimeout, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		p.cond.Wait()
		timer.Stop()
	}
	if p.Closed {
		return 0, errors.New("serial port closed")
	}
	if err := p.ReadError; err != nil {
		p.ReadError = nil
		return 0, err
	}
	if p.readBuf.Len() == 0 {
		return 0, nil
	}
	return p.readBuf.Read(b)
}

func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Closed {
		return 0, errors.New("serial port closed")
	}
	if p.WriteError != nil {
		return 0, p.WriteError
	}
	return p.writeBuf.Write(b)
}

func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	p.cond.Broadcast()
	return nil
}

func (p *TestableSerialPort) SetMode(mode *serial.Mode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ModeError != nil {
		return p.ModeError
	}
	p.Modes = append(p.Modes, *mode)
	return nil
}

func (p *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReadTimeout = timeout
	return nil
}

// AddReadData makes data available to subsequent Reads.
func (p *TestableSerialPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuf.Write(data)
	p.cond.Broadcast()
}

// FailRead makes the next Read return err.
func (p *TestableSerialPort) FailRead(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReadError = err
	p.cond.Broadcast()
}

// WrittenData returns a copy of everything written to the port.
func (p *TestableSerialPort) WrittenData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.writeBuf.Bytes())
}
