package engine

import (
	"errors"
	"io"
	"testing"
)

type scriptedEvent struct {
	at     float64
	msg    uint32
	sysex  []byte
	isMeta bool
	meta   byte
	data   []byte
}

func channelEvent(at float64, msg uint32) scriptedEvent {
	return scriptedEvent{at: at, msg: msg}
}

func tempoEvent(at float64, tempo uint32) scriptedEvent {
	return scriptedEvent{at: at, isMeta: true, meta: MetaTempo, data: []byte{byte(tempo >> 16), byte(tempo >> 8), byte(tempo)}}
}

func endEvent(at float64) scriptedEvent {
	return scriptedEvent{at: at, isMeta: true, meta: 0x2F}
}

// scriptedSequence replays a fixed event list.
type scriptedSequence struct {
	events    []scriptedEvent
	pos       int
	loopIndex int
	loopTime  float64
	start     float64
	division  int
	loadErr   error
	loads     int
}

func newScriptedSequence(events ...scriptedEvent) *scriptedSequence {
	return &scriptedSequence{events: events, division: 480}
}

func (s *scriptedSequence) Load(r io.Reader) error {
	s.loads++
	if s.loadErr != nil {
		return s.loadErr
	}
	return nil
}

func (s *scriptedSequence) Rewind() { s.pos = 0 }

func (s *scriptedSequence) RewindToLoopPoint() float64 {
	s.pos = s.loopIndex
	return s.loopTime
}

func (s *scriptedSequence) LoopPoint() float64        { return s.loopTime }
func (s *scriptedSequence) SkipSilenceStart() float64 { return s.start }
func (s *scriptedSequence) Division() int             { return s.division }
func (s *scriptedSequence) IsAtEnd() bool             { return s.pos >= len(s.events) }

func (s *scriptedSequence) TotalDuration() float64 {
	if len(s.events) == 0 {
		return 0
	}
	return s.events[len(s.events)-1].at
}

func (s *scriptedSequence) PlayEventsUpTo(t float64, target EventTarget) {
	for s.pos < len(s.events) && s.events[s.pos].at <= t {
		ev := s.events[s.pos]
		s.pos++
		switch {
		case ev.isMeta:
			target.MetaEvent(ev.meta, ev.data)
		case ev.sysex != nil:
			target.SysEx(ev.sysex)
		default:
			target.ChannelMessage(ev.msg)
		}
	}
}

// recordingBackend records everything the engine sends and fills buffers
// with a marker byte.
type recordingBackend struct {
	format   Format
	messages []uint32
	sysex    [][]byte
	resets   int
	filled   int
	limit    int // total bytes before short writes; 0 = unlimited
	ops      []string
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{format: DefaultFormat()}
}

func (b *recordingBackend) SendChannelMessage(msg uint32) {
	b.messages = append(b.messages, msg)
	b.ops = append(b.ops, "msg")
}

func (b *recordingBackend) SendSysEx(data []byte) {
	b.sysex = append(b.sysex, data)
	b.ops = append(b.ops, "sysex")
}

func (b *recordingBackend) SendReset() { b.resets++ }

func (b *recordingBackend) FillSamples(buf []byte) int {
	n := len(buf)
	if b.limit > 0 && b.filled+n > b.limit {
		n = max(b.limit-b.filled, 0)
	}
	for i := 0; i < n; i++ {
		buf[i] = 0x11
	}
	b.filled += n
	b.ops = append(b.ops, "fill")
	return n
}

func (b *recordingBackend) Format() Format { return b.format }

func (b *recordingBackend) SetFormat(f Format) bool {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return false
	}
	b.format = f
	return true
}

func (b *recordingBackend) clear() {
	b.messages = nil
	b.sysex = nil
	b.ops = nil
}

func (b *recordingBackend) volumeMessages() []uint32 {
	var out []uint32
	for _, m := range b.messages {
		if MessageType(m) == EventControlChange && MessageValue1(m) == ControlVolume {
			out = append(out, m)
		}
	}
	return out
}

var errBadFile = errors.New("not a midi file")

func openEngine(t *testing.T, seq *scriptedSequence, opts Options) (*Engine, *recordingBackend) {
	t.Helper()
	backend := newRecordingBackend()
	e := NewWithOptions(seq, backend, opts)
	if err := e.Open(nil); err != nil {
		t.Fatalf("open: %v", err)
	}
	backend.clear()
	return e, backend
}
