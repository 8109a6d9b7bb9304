package scanner

import (
	"testing"
)

func TestFrame(t *testing.T) {
	tests := []struct {
		opcode, arg string
		want        string
	}{
		{"LAMENA", "1", "^_^LAMENA1."},
		{"DSPYFW", "", "^_^DSPYFW."},
		{"SCM", "MAN", "^_^SCMMAN."},
		{"MDTTHR", "100", "^_^MDTTHR100."},
		{"232BAD", "9", "^_^232BAD9."},
		{"", "", "^_^."},
	}
	for _, tt := range tests {
		got := Frame(tt.opcode, tt.arg)
		if string(got) != tt.want {
			t.Errorf("Frame(%q, %q) = %q, want %q", tt.opcode, tt.arg, got, tt.want)
		}
		if len(got) != len(StartMarker)+len(tt.opcode)+len(tt.arg)+len(EndMarker) {
			t.Errorf("Frame(%q, %q) has %d bytes, want exact concatenation", tt.opcode, tt.arg, len(got))
		}
	}
}

func TestFrame_EveryProperty(t *testing.T) {
	for _, p := range Properties {
		values := p.Values
		if p.IsAction() {
			values = []string{""}
		}
		for _, v := range values {
			want := StartMarker + p.Opcode + v + EndMarker
			if got := NewCommand(p.Opcode, v).Frame(); string(got) != want {
				t.Errorf("frame for %s%s = %q, want %q", p.Opcode, v, got, want)
			}
		}
	}
}

func TestFrame_FreshSlice(t *testing.T) {
	a := Frame("BEPSUC", "1")
	b := Frame("BEPSUC", "1")
	a[0] = 'X'
	if b[0] != '^' {
		t.Error("Frame returned shared backing storage")
	}
}

func TestCommandString(t *testing.T) {
	if got := NewCommand("CIDENA", "0").String(); got != "CIDENA0" {
		t.Errorf("String() = %q, want CIDENA0", got)
	}
}
