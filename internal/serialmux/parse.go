package serialmux

import (
	"strings"

	"github.com/banshee-data/barcode.scanner/internal/scanner"
)

// Symbology names for the one-byte code id the scanner prefixes to each
// payload when CIDENA1 is active.
var symbologies = map[byte]string{
	'a': "Codabar",
	'b': "Code 39",
	'c': "UPC-A",
	'd': "EAN-13",
	'e': "Interleaved 2 of 5",
	'g': "Code 93",
	'h': "Code 11",
	'j': "Code 128",
	'm': "MSI",
	'r': "PDF417",
	's': "QR Code",
	'u': "Data Matrix",
	'z': "Aztec",
}

// ParseScan splits a completed payload into its code id and data. Without
// code ids, or for an empty payload, the payload is returned unchanged.
func ParseScan(payload string, withCodeID bool) (codeID, data string) {
	if !withCodeID || len(payload) == 0 {
		return "", payload
	}
	return payload[:1], payload[1:]
}

// SymbologyName returns the symbology for a code id, or "" if unknown.
func SymbologyName(codeID string) string {
	if len(codeID) != 1 {
		return ""
	}
	return symbologies[codeID[0]]
}

// SplitCommand splits a raw command such as "LAMENA1" into opcode and value
// using the property table. When several opcodes prefix the command the one
// that accepts the remainder wins. An unmatched command is returned whole as
// the opcode so that validation reports it as unknown.
func SplitCommand(command string) (opcode, value string) {
	command = strings.TrimSuffix(strings.TrimPrefix(command, scanner.StartMarker), scanner.EndMarker)
	best := ""
	for _, p := range scanner.Properties {
		if !strings.HasPrefix(command, p.Opcode) {
			continue
		}
		if scanner.ValidateCommand(p.Opcode, command[len(p.Opcode):]) == nil {
			return p.Opcode, command[len(p.Opcode):]
		}
		if len(p.Opcode) > len(best) {
			best = p.Opcode
		}
	}
	if best == "" {
		return command, ""
	}
	return best, command[len(best):]
}
