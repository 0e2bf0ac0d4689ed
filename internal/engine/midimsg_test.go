package engine

import "testing"

func TestMakeMessageBitExact(t *testing.T) {
	cases := []struct {
		name   string
		typ    uint8
		ch     uint8
		value1 uint8
		value2 uint8
		want   uint32
	}{
		{"volume", EventControlChange, 3, ControlVolume, 100, 0x6407B3},
		{"note on", EventNoteOn, 9, 36, 127, 0x7F2499},
		{"channel masked", EventNoteOff, 0x1F, 60, 0, 0x003C8F},
		{"program change", EventProgramChange, 0, 5, 0, 0x0005C0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := MakeMessage(tc.typ, tc.ch, tc.value1, tc.value2)
			if got != tc.want {
				t.Fatalf("MakeMessage = %#06x, want %#06x", got, tc.want)
			}
			if MessageType(got) != tc.typ {
				t.Fatalf("type = %x, want %x", MessageType(got), tc.typ)
			}
			if MessageChannel(got) != tc.ch&0x0F {
				t.Fatalf("channel = %d, want %d", MessageChannel(got), tc.ch&0x0F)
			}
			if MessageValue1(got) != tc.value1 || MessageValue2(got) != tc.value2 {
				t.Fatalf("values = %d,%d, want %d,%d", MessageValue1(got), MessageValue2(got), tc.value1, tc.value2)
			}
		})
	}
}
