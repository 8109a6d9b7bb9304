package serialmux

// NewRealSerialMux creates a ScanMux backed by the serial port at path opened
// with opts. The session targets the port's baud rate.
func NewRealSerialMux(path string, opts PortOptions, cfg Config) (*ScanMux, error) {
	t, err := OpenSerialTransport(path, opts)
	if err != nil {
		return nil, err
	}
	return NewScanMux(t, cfg), nil
}
