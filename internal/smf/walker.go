// Package smf walks Standard MIDI Files for the playback engine. Every track
// is merged into one time-ordered event list whose times come from the file's
// own tempo map.
package smf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	gosmf "gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/midifeed-go/internal/debug"
	"github.com/cbegin/midifeed-go/internal/engine"
)

// ErrTimecode is returned for files timed in SMPTE frames instead of
// ticks per quarter note.
var ErrTimecode = errors.New("smpte time format not supported")

const metaEndOfTrack = 0x2F

type Event struct {
	Tick  int64
	Time  float64
	Track int
	Data  []byte
}

func (ev Event) isMeta() bool  { return len(ev.Data) > 1 && ev.Data[0] == 0xFF }
func (ev Event) isSysEx() bool { return len(ev.Data) > 0 && (ev.Data[0] == 0xF0 || ev.Data[0] == 0xF7) }

func (ev Event) isChannel() bool {
	return len(ev.Data) > 0 && ev.Data[0] >= 0x80 && ev.Data[0] < 0xF0
}

// Walker implements engine.Sequence over a loaded file.
type Walker struct {
	events   []Event
	pos      int
	division int

	loopIndex int
	loopTime  float64
	start     float64
}

var _ engine.Sequence = (*Walker)(nil)

func New() *Walker {
	return &Walker{}
}

// Load parses a file and replaces the current song. On error the previous
// song is dropped. Corrupt files are reported as errors, never as panics.
func (w *Walker) Load(r io.Reader) (err error) {
	*w = Walker{}
	if r == nil {
		return errors.New("no input")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if timecodeHeader(data) {
		return ErrTimecode
	}
	defer func() {
		if p := recover(); p != nil {
			*w = Walker{}
			debug.Log("smf", "parser panic: %v", p)
			err = fmt.Errorf("malformed file: %v", p)
		}
	}()

	file, err := gosmf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return err
	}
	ticks, ok := file.TimeFormat.(gosmf.MetricTicks)
	if !ok {
		return ErrTimecode
	}
	if ticks.Resolution() == 0 {
		return fmt.Errorf("invalid resolution %d", ticks.Resolution())
	}

	var events []Event
	for ti, track := range file.Tracks {
		var abs int64
		for _, ev := range track {
			abs += int64(ev.Delta)
			msg := []byte(ev.Message)
			if len(msg) == 0 {
				continue
			}
			events = append(events, Event{Tick: abs, Track: ti, Data: msg})
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Tick < events[j].Tick })

	w.division = int(ticks.Resolution())
	w.events = events
	w.assignTimes()
	w.findMarkers()
	debug.Log("smf", "loaded %d tracks, %d events, division=%d, length=%.3fs",
		len(file.Tracks), len(events), w.division, w.TotalDuration())
	return nil
}

// timecodeHeader reports whether an MThd header carries an SMPTE division
// (high bit set). The parser cannot handle those files.
func timecodeHeader(data []byte) bool {
	if len(data) < 14 || string(data[:4]) != "MThd" {
		return false
	}
	return binary.BigEndian.Uint16(data[12:14])&0x8000 != 0
}

// assignTimes converts ticks to seconds. A tempo change takes effect for
// events after it, including later events on the same tick.
func (w *Walker) assignTimes() {
	tempo := engine.DefaultTempo
	var lastTick int64
	var now float64
	for i := range w.events {
		ev := &w.events[i]
		now += float64(ev.Tick-lastTick) * float64(tempo) / 1e6 / float64(w.division)
		lastTick = ev.Tick
		ev.Time = now
		if kind, data, ok := metaPayload(ev.Data); ok && kind == engine.MetaTempo && len(data) == 3 {
			t := uint32(data[0])<<16 | uint32(data[1])<<8 | uint32(data[2])
			if t == 0 {
				debug.Log("smf", "ignoring zero tempo at tick %d", ev.Tick)
				continue
			}
			tempo = t
		}
	}
}

// findMarkers locates the loop point (first CC#111) and the first audible
// note.
func (w *Walker) findMarkers() {
	loopFound, startFound := false, false
	for i, ev := range w.events {
		if !ev.isChannel() || len(ev.Data) < 3 {
			continue
		}
		kind := ev.Data[0] >> 4
		if !loopFound && kind == engine.EventControlChange && ev.Data[1] == engine.ControlLoopPoint {
			w.loopIndex, w.loopTime = i, ev.Time
			loopFound = true
		}
		if !startFound && kind == engine.EventNoteOn && ev.Data[2] > 0 {
			w.start = ev.Time
			startFound = true
		}
		if loopFound && startFound {
			return
		}
	}
}

func (w *Walker) Rewind() { w.pos = 0 }

func (w *Walker) RewindToLoopPoint() float64 {
	w.pos = w.loopIndex
	return w.loopTime
}

func (w *Walker) LoopPoint() float64 { return w.loopTime }

func (w *Walker) SkipSilenceStart() float64 { return w.start }

// TotalDuration is the time of the last event, end-of-track markers included.
func (w *Walker) TotalDuration() float64 {
	if len(w.events) == 0 {
		return 0
	}
	return w.events[len(w.events)-1].Time
}

func (w *Walker) Division() int { return w.division }

func (w *Walker) IsAtEnd() bool { return w.pos >= len(w.events) }

// Events returns the merged event list.
func (w *Walker) Events() []Event { return w.events }

// PlayEventsUpTo delivers every pending event whose time is at or before t.
func (w *Walker) PlayEventsUpTo(t float64, target engine.EventTarget) {
	for w.pos < len(w.events) && w.events[w.pos].Time <= t {
		ev := w.events[w.pos]
		w.pos++
		switch {
		case ev.isChannel():
			target.ChannelMessage(channelWord(ev.Data))
		case ev.isSysEx():
			target.SysEx(ev.Data)
		case ev.isMeta():
			if kind, data, ok := metaPayload(ev.Data); ok && kind != metaEndOfTrack {
				target.MetaEvent(kind, data)
			}
		}
	}
}

func channelWord(data []byte) uint32 {
	var v1, v2 uint8
	if len(data) > 1 {
		v1 = data[1]
	}
	if len(data) > 2 {
		v2 = data[2]
	}
	return engine.MakeMessage(data[0]>>4, data[0]&0x0F, v1, v2)
}

// metaPayload splits FF <type> <vlq length> <data>.
func metaPayload(b []byte) (kind byte, data []byte, ok bool) {
	if len(b) < 3 || b[0] != 0xFF {
		return 0, nil, false
	}
	length, n := readVarLen(b[2:])
	if n == 0 {
		return 0, nil, false
	}
	rest := b[2+n:]
	if int(length) > len(rest) {
		debug.Log("smf", "truncated meta event %#x", b[1])
		return 0, nil, false
	}
	return b[1], rest[:length], true
}

// readVarLen decodes a variable-length quantity, returning the value and the
// number of bytes consumed (0 when malformed).
func readVarLen(b []byte) (uint32, int) {
	var v uint32
	for i := 0; i < len(b) && i < 4; i++ {
		v = v<<7 | uint32(b[i]&0x7F)
		if b[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	return 0, 0
}
