package engine

import (
	"bytes"
	"testing"
)

func TestChannelVolumeIsShadowedAndScaled(t *testing.T) {
	e, backend := openEngine(t, newScriptedSequence(endEvent(10)), Options{})
	e.SetVolume(50)
	backend.clear()

	e.ChannelMessage(MakeMessage(EventControlChange, 2, ControlVolume, 127))
	if got := e.ChannelVolume(2); got != 127 {
		t.Fatalf("shadow = %d, want 127", got)
	}
	if len(backend.messages) != 1 {
		t.Fatalf("forwarded %d messages, want 1", len(backend.messages))
	}
	// 127 * 0.5 rounds to 64.
	if want := MakeMessage(EventControlChange, 2, ControlVolume, 64); backend.messages[0] != want {
		t.Fatalf("forwarded %#06x, want %#06x", backend.messages[0], want)
	}
}

func TestForwardedVolumeStaysInRange(t *testing.T) {
	e, backend := openEngine(t, newScriptedSequence(endEvent(10)), Options{})
	for _, percent := range []int{-20, 0, 33, 100, 250} {
		e.SetVolume(percent)
		for _, raw := range []uint8{0, 1, 64, 127, 200} {
			backend.clear()
			e.ChannelMessage(MakeMessage(EventControlChange, 0, ControlVolume, raw))
			shadow := e.ChannelVolume(0)
			if shadow > 127 {
				t.Fatalf("shadow %d out of range", shadow)
			}
			got := MessageValue2(backend.messages[0])
			if got > 127 {
				t.Fatalf("forwarded volume %d out of range", got)
			}
			want := uint8(float64(shadow)*percentToVolume(percent) + 0.5)
			if got != want {
				t.Fatalf("volume %d%% raw %d: forwarded %d, want %d", percent, raw, got, want)
			}
		}
	}
}

func TestOtherChannelMessagesPassThrough(t *testing.T) {
	e, backend := openEngine(t, newScriptedSequence(endEvent(10)), Options{})
	e.SetVolume(10)
	backend.clear()

	msgs := []uint32{
		MakeMessage(EventNoteOn, 0, 60, 100),
		MakeMessage(EventControlChange, 1, 10, 64),
		MakeMessage(EventPitchBend, 15, 0, 64),
	}
	for _, m := range msgs {
		e.ChannelMessage(m)
	}
	for i, m := range msgs {
		if backend.messages[i] != m {
			t.Fatalf("message %d = %#06x, want %#06x", i, backend.messages[i], m)
		}
	}
	if e.ChannelVolume(1) != 127 {
		t.Fatalf("non-volume controller touched the shadow table")
	}
}

func TestSysExForwardedVerbatim(t *testing.T) {
	e, backend := openEngine(t, newScriptedSequence(endEvent(10)), Options{})
	data := []byte{0xF0, 0x7E, 0x7F, 0x09, 0x01, 0xF7}
	e.SysEx(data)
	if len(backend.sysex) != 1 || !bytes.Equal(backend.sysex[0], data) {
		t.Fatalf("sysex = %x, want %x", backend.sysex, data)
	}
}

func TestMetaTempoEventsDriveTempoTrack(t *testing.T) {
	e, backend := openEngine(t, newScriptedSequence(endEvent(10)), Options{})
	e.virtualTime = 1
	e.MetaEvent(MetaTempo, []byte{0x03, 0xD0, 0x90}) // 250000
	e.MetaEvent(0x03, []byte("Track name"))
	e.MetaEvent(MetaTempo, []byte{0x07, 0xA1}) // short payload
	e.MetaEvent(MetaTempo, []byte{0, 0, 0})

	recs := e.TempoRecords()
	if len(recs) != 2 {
		t.Fatalf("tempo records = %d, want 2 (%+v)", len(recs), recs)
	}
	if recs[1].Tempo != 250000 || recs[1].Created != 1 || recs[1].BaseTicks != 960 {
		t.Fatalf("unexpected tempo record %+v", recs[1])
	}
	if len(backend.messages) != 0 || len(backend.sysex) != 0 {
		t.Fatalf("meta events must not reach the backend")
	}
	e.virtualTime = 2
	if got := e.Ticks(); got != 960+1920 {
		t.Fatalf("Ticks() = %d, want 2880", got)
	}
}
