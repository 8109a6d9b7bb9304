package scanner

import (
	"bytes"
	"errors"
	"sync"
)

// fakeTransport is an in-memory Transport. Bytes queued with feed are
// reported by Available; onWrite lets a test answer frames as a peripheral.
type fakeTransport struct {
	mu       sync.Mutex
	rx       []byte
	written  [][]byte
	baud     int
	bauds    []int
	writeErr error
	readErr  error
	shortBy  int
	closed   bool

	onWrite func(frame []byte, baud int) []byte
}

func newFakeTransport(baud int) *fakeTransport {
	return &fakeTransport{baud: baud}
}

func (f *fakeTransport) feed(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = append(f.rx, b...)
}

func (f *fakeTransport) Available() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	return len(f.rx), nil
}

func (f *fakeTransport) ReadByte() (byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rx) == 0 {
		return 0, errors.New("read on empty transport")
	}
	b := f.rx[0]
	f.rx = f.rx[1:]
	return b, nil
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	if f.writeErr != nil {
		f.mu.Unlock()
		return 0, f.writeErr
	}
	f.written = append(f.written, bytes.Clone(p))
	respond := f.onWrite
	baud := f.baud
	short := f.shortBy
	f.mu.Unlock()

	if respond != nil {
		if reply := respond(p, baud); len(reply) > 0 {
			f.feed(reply)
		}
	}
	return len(p) - short, nil
}

func (f *fakeTransport) SetBaudRate(baud int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.baud = baud
	f.bauds = append(f.bauds, baud)
	return nil
}

func (f *fakeTransport) BaudRate() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.baud
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.written))
	for i, w := range f.written {
		out[i] = string(w)
	}
	return out
}

func (f *fakeTransport) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rx)
}

func ackAll(frame []byte, baud int) []byte { return []byte{Ack} }
