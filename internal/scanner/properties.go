package scanner

import (
	"fmt"
	"slices"
	"strconv"
)

// Opcodes understood by the peripheral.
const (
	OpStartScan      = "SCAN"
	OpStopScan       = "SLEEP"
	OpFactoryDefault = "DEFALT"
	OpGetVersion     = "DSPYFW"

	OpBuzzerFrequency     = "BEPPWM"
	OpDecodeBeep          = "BEPSUC"
	OpBootBeep            = "BEPPWR"
	OpFlashLight          = "LAMENA"
	OpAimLight            = "AIMENA"
	OpReadingArea         = "IMGREG"
	OpMirrorFlip          = "MIRLRE"
	OpUSBDataFormat       = "UTFEAN"
	OpSerialDataFormat    = "232UTF"
	OpInvoiceMode         = "SPCINV"
	OpVirtualKeyboard     = "KBDVIR"
	OpCommMode            = "POR"
	OpBaudRate            = "232BAD"
	OpReadingMode         = "SCM"
	OpContinuousInterval  = "CNTALW"
	OpMotionSensitivity   = "MDTTHR"
	OpTransferCodeID      = "CIDENA"
	OpKeyboardCaseConvert = "KBDCNV"

	OpEnableAll1D  = "ODCENA"
	OpDisableAll1D = "ODCDIS"
	OpEnableAll2D  = "AQRENA"
	OpDisableAll2D = "AQRDIS"
)

// Reading mode arguments for OpReadingMode.
const (
	ReadingModeManual     = "MAN"
	ReadingModeContinuous = "CNT"
	ReadingModeMotion     = "MDH"
)

// Property describes one opcode: the values it accepts and its factory
// default. Actions (SCAN, DEFALT, ...) take no value.
type Property struct {
	Opcode      string   `json:"opcode"`
	Description string   `json:"description"`
	Values      []string `json:"values,omitempty"`
	Default     string   `json:"default,omitempty"`
}

// IsAction reports whether the opcode is sent without an argument.
func (p Property) IsAction() bool {
	return len(p.Values) == 0
}

// Properties is the allow list of commands that may be sent to the scanner.
var Properties = []Property{
	{Opcode: OpStartScan, Description: "Start scanning (trigger)"},
	{Opcode: OpStopScan, Description: "Stop scanning"},
	{Opcode: OpFactoryDefault, Description: "Reset to factory defaults"},
	{Opcode: OpGetVersion, Description: "Query firmware version"},

	{Opcode: OpBuzzerFrequency, Description: "Buzzer drive: 0 active, 1 passive low, 2 passive medium, 3 passive high", Values: []string{"0", "1", "2", "3"}, Default: "2"},
	{Opcode: OpDecodeBeep, Description: "Beep on successful decode", Values: []string{"0", "1"}, Default: "1"},
	{Opcode: OpBootBeep, Description: "Beep on power up", Values: []string{"0", "1"}, Default: "1"},
	{Opcode: OpFlashLight, Description: "White illumination", Values: []string{"0", "1"}, Default: "1"},
	{Opcode: OpAimLight, Description: "Red aiming reticle", Values: []string{"0", "1"}, Default: "1"},
	{Opcode: OpReadingArea, Description: "Reading area: 0 full, 1 80%, 2 60%, 3 40%, 4 20%", Values: []string{"0", "1", "2", "3", "4"}, Default: "0"},
	{Opcode: OpMirrorFlip, Description: "Mirror image flip", Values: []string{"0", "1"}, Default: "0"},
	{Opcode: OpUSBDataFormat, Description: "USB data format: 0 GBK, 1 UTF-8", Values: []string{"0", "1"}, Default: "0"},
	{Opcode: OpSerialDataFormat, Description: "Serial data format: 0 GBK, 1 UTF-8, 2 Unicode big endian, 3 Unicode little endian", Values: []string{"0", "1", "2", "3"}, Default: "0"},
	{Opcode: OpInvoiceMode, Description: "Invoice mode", Values: []string{"0", "1"}, Default: "0"},
	{Opcode: OpVirtualKeyboard, Description: "Virtual keyboard", Values: []string{"0", "1"}, Default: "1"},
	{Opcode: OpCommMode, Description: "Interface: KBD USB keyboard, HID USB HID, VIC USB COM, 232 TTL/RS232", Values: []string{"KBD", "HID", "VIC", "232"}},
	{Opcode: OpBaudRate, Description: "Serial baud rate: 2=1200 .. 9=115200", Values: []string{"2", "3", "4", "5", "6", "7", "8", "9"}, Default: "9"},
	{Opcode: OpReadingMode, Description: "Reading mode: MAN manual, CNT continuous, MDH motion", Values: []string{ReadingModeManual, ReadingModeContinuous, ReadingModeMotion}, Default: ReadingModeManual},
	{Opcode: OpContinuousInterval, Description: "Continuous mode output: 0 once, 1 no interval, 2 0.5s, 3 1s", Values: []string{"0", "1", "2", "3"}},
	{Opcode: OpMotionSensitivity, Description: "Motion sensitivity: 15 extremely high .. 100 low", Values: []string{"15", "20", "30", "50", "100"}, Default: "20"},
	{Opcode: OpTransferCodeID, Description: "Prefix payloads with the symbology code id", Values: []string{"0", "1"}, Default: "0"},
	{Opcode: OpKeyboardCaseConvert, Description: "Keyboard case: 0 none, 1 upper, 2 lower, 3 swap", Values: []string{"0", "1", "2", "3"}, Default: "0"},

	{Opcode: OpEnableAll1D, Description: "Enable all 1D symbologies"},
	{Opcode: OpDisableAll1D, Description: "Disable all 1D symbologies"},
	{Opcode: OpEnableAll2D, Description: "Enable all 2D symbologies"},
	{Opcode: OpDisableAll2D, Description: "Disable all 2D symbologies"},
}

// LookupProperty returns the property for opcode.
func LookupProperty(opcode string) (Property, bool) {
	for _, p := range Properties {
		if p.Opcode == opcode {
			return p, true
		}
	}
	return Property{}, false
}

// ValidateCommand checks opcode and value against the property table.
func ValidateCommand(opcode, value string) error {
	p, ok := LookupProperty(opcode)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOpcode, opcode)
	}
	if p.IsAction() {
		if value != "" {
			return fmt.Errorf("%w: %s takes no value, got %q", ErrInvalidArgument, opcode, value)
		}
		return nil
	}
	if !slices.Contains(p.Values, value) {
		return fmt.Errorf("%w: %s accepts %v, got %q", ErrInvalidArgument, opcode, p.Values, value)
	}
	return nil
}

var baudCodes = map[int]string{
	1200:   "2",
	2400:   "3",
	4800:   "4",
	9600:   "5",
	19200:  "6",
	38400:  "7",
	57600:  "8",
	115200: "9",
}

// BaudCode returns the 232BAD argument for a bit rate.
func BaudCode(bps int) (string, bool) {
	code, ok := baudCodes[bps]
	return code, ok
}

// BaudFromCode is the inverse of BaudCode.
func BaudFromCode(code string) (int, bool) {
	for bps, c := range baudCodes {
		if c == code {
			return bps, true
		}
	}
	return 0, false
}

var readingAreaCodes = map[int]string{
	100: "0",
	80:  "1",
	60:  "2",
	40:  "3",
	20:  "4",
}

var motionSensitivities = []int{15, 20, 30, 50, 100}

func intArg(v int) string { return strconv.Itoa(v) }

// Setting is one opcode/value pair applied at startup.
type Setting struct {
	Opcode string `json:"opcode"`
	Value  string `json:"value"`
}
