// Package scanner implements the command/response protocol of a serial
// 2D barcode scanner (DE2120 family).
//
// Commands travel as "^_^" + opcode + argument + "." and are answered with a
// single ACK (0x06) or NACK (0x15) byte. Decoded barcodes arrive unsolicited
// as ASCII terminated by CR, with no framing or length prefix. Because
// responses are untagged, a Session serializes every transport access behind
// one lock: at most one command is in flight, and barcode assembly never runs
// while a handshake is waiting.
//
// Typical use:
//
//	s := scanner.NewSession(transport, scanner.Options{})
//	if !s.IsConnected(ctx) {
//		return errors.New("scanner not responding")
//	}
//	_ = s.LightOn(ctx)
//	buf := scanner.NewScanBuffer(256, scanner.OverflowTruncate)
//	for range ticker.C {
//		if done, _ := s.ReadBarcode(buf); done {
//			fmt.Println(buf.String())
//		}
//	}
package scanner
