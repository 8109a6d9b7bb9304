package scanner

// Wire markers and single-byte responses used by the peripheral.
const (
	StartMarker = "^_^"
	EndMarker   = "."

	Ack  byte = 0x06
	Nack byte = 0x15

	// CR terminates every decoded barcode in the receive stream.
	CR byte = 0x0D
)

// Command is an opcode plus an optional argument. The argument is usually a
// single digit or a short enumerator code (e.g. "MAN" for SCM).
type Command struct {
	Opcode   string
	Argument string
}

// NewCommand returns the command for opcode with the given argument.
func NewCommand(opcode, argument string) Command {
	return Command{Opcode: opcode, Argument: argument}
}

func (c Command) String() string {
	return c.Opcode + c.Argument
}

// Frame returns the wire representation of the command.
func (c Command) Frame() []byte {
	return Frame(c.Opcode, c.Argument)
}

// Frame builds START_MARKER + opcode + argument + END_MARKER.
//
// Nothing is escaped or truncated. Callers must not pass an opcode or argument
// containing the end marker or non-ASCII bytes; the peripheral would treat the
// frame as malformed.
func Frame(opcode, argument string) []byte {
	b := make([]byte, 0, len(StartMarker)+len(opcode)+len(argument)+len(EndMarker))
	b = append(b, StartMarker...)
	b = append(b, opcode...)
	b = append(b, argument...)
	b = append(b, EndMarker...)
	return b
}
