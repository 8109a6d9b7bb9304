package scanner

import "fmt"

// DefaultScanBufferSize fits any 1D code and typical 2D payloads.
const DefaultScanBufferSize = 256

// OverflowPolicy selects what ReadBarcode does when a payload is longer than
// the scan buffer.
type OverflowPolicy int

const (
	// OverflowTruncate keeps the first bytes that fit, drops the rest of the
	// payload and completes the scan at the next CR with Truncated set.
	OverflowTruncate OverflowPolicy = iota
	// OverflowError reports ErrScanOverflow once, clears the buffer and drops
	// everything up to and including the next CR.
	OverflowError
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowTruncate:
		return "truncate"
	case OverflowError:
		return "error"
	}
	return fmt.Sprintf("OverflowPolicy(%d)", int(p))
}

// ParseOverflowPolicy maps "truncate" or "error" to a policy. The empty
// string selects the default, OverflowTruncate.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "truncate":
		return OverflowTruncate, nil
	case "error":
		return OverflowError, nil
	}
	return OverflowTruncate, fmt.Errorf("unknown overflow policy %q: expected truncate or error", s)
}

// ScanBuffer is a fixed-capacity, caller-owned buffer that ReadBarcode fills
// across calls. It is allocated once and reused for every scan.
type ScanBuffer struct {
	data   []byte
	n      int
	policy OverflowPolicy

	// complete marks a terminated payload from the previous scan; the next
	// scan starts by resetting the cursor.
	complete   bool
	truncated  bool
	discarding bool
}

// NewScanBuffer allocates a buffer holding up to capacity bytes including the
// end marker. A non-positive capacity selects DefaultScanBufferSize.
func NewScanBuffer(capacity int, policy OverflowPolicy) *ScanBuffer {
	if capacity <= 0 {
		capacity = DefaultScanBufferSize
	}
	return &ScanBuffer{
		data:   make([]byte, capacity),
		policy: policy,
	}
}

// Bytes returns the payload written so far. The slice aliases the buffer and
// is only valid until the next ReadBarcode call.
func (b *ScanBuffer) Bytes() []byte { return b.data[:b.n] }

// String returns a copy of the payload written so far.
func (b *ScanBuffer) String() string { return string(b.data[:b.n]) }

// Len is the logical cursor: the number of payload bytes written.
func (b *ScanBuffer) Len() int { return b.n }

// Cap is the fixed capacity of the buffer.
func (b *ScanBuffer) Cap() int { return len(b.data) }

// Complete reports whether the buffer holds a terminated payload.
func (b *ScanBuffer) Complete() bool { return b.complete }

// Truncated reports whether the completed payload lost bytes to overflow.
func (b *ScanBuffer) Truncated() bool { return b.truncated }

// Policy returns the overflow policy.
func (b *ScanBuffer) Policy() OverflowPolicy { return b.policy }

// Reset empties the buffer and clears any overflow state.
func (b *ScanBuffer) Reset() {
	b.n = 0
	b.complete = false
	b.truncated = false
	b.discarding = false
}

// ReadBarcode moves whatever bytes the transport has pending into buf and
// reports whether a complete, CR-terminated barcode is now in buf. It never
// blocks: with nothing pending it returns false at once, and a partial
// payload stays in buf for the next call to continue.
func (s *Session) ReadBarcode(buf *ScanBuffer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	return buf.fill(s.transport)
}

type byteSource interface {
	Available() (int, error)
	ReadByte() (byte, error)
}

func (b *ScanBuffer) fill(src byteSource) (bool, error) {
	avail, err := src.Available()
	if err != nil {
		return false, err
	}
	if avail == 0 {
		return false, nil
	}

	if b.complete {
		b.n = 0
		b.complete = false
		b.truncated = false
	}

	for {
		if avail == 0 {
			if avail, err = src.Available(); err != nil {
				return false, err
			}
			if avail == 0 {
				return false, nil
			}
		}

		c, err := src.ReadByte()
		if err != nil {
			return false, err
		}
		avail--

		if b.discarding {
			if c == CR {
				b.discarding = false
			}
			continue
		}

		if c == CR {
			if b.n >= len(b.data) && b.policy == OverflowError {
				// no slot left for the end marker
				b.n = 0
				return false, fmt.Errorf("%w (%d bytes)", ErrScanOverflow, len(b.data))
			}
			if b.n >= len(b.data) {
				// end marker takes the last slot of a full buffer
				b.n = len(b.data) - 1
				b.truncated = true
			}
			b.data[b.n] = 0
			b.complete = true
			return true, nil
		}

		if b.n >= len(b.data) {
			if b.policy == OverflowError {
				b.n = 0
				b.discarding = true
				return false, fmt.Errorf("%w (%d bytes)", ErrScanOverflow, len(b.data))
			}
			b.truncated = true
			continue
		}

		b.data[b.n] = c
		b.n++
	}
}
