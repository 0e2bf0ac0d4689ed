package synth

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/cbegin/midifeed-go/internal/engine"
)

func TestEncodeFramesS16(t *testing.T) {
	f := engine.Format{SampleRate: 44100, Sample: engine.FormatS16, Channels: 2}
	buf := make([]byte, 12)
	n := encodeFrames(buf, []float32{1, -2, 0}, []float32{-1, 0.5, 0}, f)
	if n != 12 {
		t.Fatalf("wrote %d bytes, want 12", n)
	}
	want := []int16{32767, -32767, -32767, 16384, 0, 0}
	for i, w := range want {
		if got := int16(binary.LittleEndian.Uint16(buf[i*2:])); got != w {
			t.Fatalf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestEncodeFramesMonoF32(t *testing.T) {
	f := engine.Format{SampleRate: 44100, Sample: engine.FormatF32, Channels: 1}
	buf := make([]byte, 8)
	if n := encodeFrames(buf, []float32{0.5, 1}, []float32{0.25, 1}, f); n != 8 {
		t.Fatalf("wrote %d bytes, want 8", n)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(buf)); got != 0.375 {
		t.Fatalf("mono sample = %v, want 0.375", got)
	}
}

func TestResetSysExDetection(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want bool
	}{
		{"gm framed", []byte{0xF0, 0x7E, 0x7F, 0x09, 0x01, 0xF7}, true},
		{"gm body", []byte{0x7E, 0x7F, 0x09, 0x01}, true},
		{"gs", []byte{0xF0, 0x41, 0x10, 0x42, 0x12, 0x40, 0x00, 0x7F, 0x00, 0x41, 0xF7}, true},
		{"xg", []byte{0xF0, 0x43, 0x10, 0x4C, 0x00, 0x00, 0x7E, 0x00, 0xF7}, true},
		{"gm off", []byte{0xF0, 0x7E, 0x7F, 0x09, 0x02, 0xF7}, false},
		{"empty", nil, false},
	}
	for _, tc := range cases {
		if got := isResetSysEx(tc.in); got != tc.want {
			t.Fatalf("%s: isResetSysEx = %v, want %v", tc.name, got, tc.want)
		}
	}
}
