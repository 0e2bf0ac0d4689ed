package synth

import "bytes"

// Bodies of the system exclusive messages that put a synthesizer back into
// its power-on state, without the F0/F7 framing.
var resetBodies = [][]byte{
	{0x7E, 0x7F, 0x09, 0x01},                               // GM system on
	{0x7E, 0x7F, 0x09, 0x03},                               // GM2 system on
	{0x41, 0x10, 0x42, 0x12, 0x40, 0x00, 0x7F, 0x00, 0x41}, // GS reset
	{0x43, 0x10, 0x4C, 0x00, 0x00, 0x7E, 0x00},             // XG system on
}

// gmSystemOn is the complete GM reset message sent to external devices.
var gmSystemOn = []byte{0xF0, 0x7E, 0x7F, 0x09, 0x01, 0xF7}

func sysexBody(data []byte) []byte {
	if len(data) > 0 && (data[0] == 0xF0 || data[0] == 0xF7) {
		data = data[1:]
	}
	if len(data) > 0 && data[len(data)-1] == 0xF7 {
		data = data[:len(data)-1]
	}
	return data
}

// isResetSysEx reports whether data is a GM, GM2, GS or XG reset.
func isResetSysEx(data []byte) bool {
	body := sysexBody(data)
	for _, r := range resetBodies {
		if bytes.Equal(body, r) {
			return true
		}
	}
	return false
}
