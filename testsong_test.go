package midifeed

import (
	"bytes"
	"testing"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// songTicks per quarter note at the default 120 bpm: 480 ticks = 0.5s.
const songTicks = 480

// testSong builds a single-note file lasting length ticks. loopAt places a
// CC#111 loop marker at that tick; a negative value omits it.
func testSong(t *testing.T, length uint32, loopAt int) []byte {
	t.Helper()
	var tr smf.Track
	tr.Add(0, midi.ProgramChange(0, 0))
	if loopAt == 0 {
		tr.Add(0, midi.ControlChange(0, 111, 0))
	}
	tr.Add(0, midi.NoteOn(0, 60, 100))
	if loopAt > 0 && uint32(loopAt) < length {
		tr.Add(uint32(loopAt), midi.ControlChange(0, 111, 0))
		tr.Add(length-uint32(loopAt), midi.NoteOff(0, 60))
	} else {
		tr.Add(length, midi.NoteOff(0, 60))
		if loopAt > 0 {
			tr.Add(0, midi.ControlChange(0, 111, 0))
		}
	}
	tr.Close(0)

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(songTicks)
	if err := s.Add(tr); err != nil {
		t.Fatalf("add track: %v", err)
	}
	var buf bytes.Buffer
	if _, err := s.WriteTo(&buf); err != nil {
		t.Fatalf("write song: %v", err)
	}
	return buf.Bytes()
}
