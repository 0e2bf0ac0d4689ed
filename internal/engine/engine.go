// Package engine turns time-stamped MIDI events into a PCM feed. It keeps the
// sequence's musical ticks, the tempo-dependent virtual clock and the output
// sample clock in step, and delegates parsing and synthesis to a Sequence and
// a Backend.
//
// An Engine is not safe for concurrent use. Callers that fill buffers from an
// audio thread and change volume or seek from another goroutine must guard
// the whole Engine with one mutex.
package engine

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cbegin/midifeed-go/internal/debug"
)

// SliceFrames bounds how many frames are rendered between two event
// deliveries: about 1 ms at 44.1 kHz, regardless of the requested length.
const SliceFrames = 44

const DefaultSampleRate = 44100

var (
	ErrLoad    = errors.New("midi load failed")
	ErrNotOpen = errors.New("no midi sequence open")
)

type SampleFormat int

const (
	FormatS16 SampleFormat = iota
	FormatF32
)

// Size returns the size in bytes of one sample of one channel.
func (f SampleFormat) Size() int {
	switch f {
	case FormatF32:
		return 4
	default:
		return 2
	}
}

func (f SampleFormat) String() string {
	switch f {
	case FormatF32:
		return "f32le"
	default:
		return "s16le"
	}
}

type Format struct {
	SampleRate int
	Sample     SampleFormat
	Channels   int
}

// DefaultFormat is 44.1 kHz, signed 16-bit, stereo.
func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, Sample: FormatS16, Channels: 2}
}

func (f Format) BytesPerFrame() int {
	return f.Sample.Size() * f.Channels
}

// EventTarget receives the events a Sequence delivers.
type EventTarget interface {
	ChannelMessage(msg uint32)
	SysEx(data []byte)
	MetaEvent(kind byte, data []byte)
}

// Sequence walks a parsed song and emits its events in time order.
// Times are seconds of virtual time at normal pitch.
type Sequence interface {
	Load(r io.Reader) error
	Rewind()
	// RewindToLoopPoint moves the cursor to the loop point and returns its time.
	RewindToLoopPoint() float64
	LoopPoint() float64
	// SkipSilenceStart returns the time of the first audible event.
	SkipSilenceStart() float64
	TotalDuration() float64
	// Division returns ticks per quarter note.
	Division() int
	IsAtEnd() bool
	// PlayEventsUpTo delivers every pending event with a time <= t.
	PlayEventsUpTo(t float64, target EventTarget)
}

// Backend renders MIDI messages into PCM.
type Backend interface {
	SendChannelMessage(msg uint32)
	SendSysEx(data []byte)
	SendReset()
	// FillSamples renders into buf and returns the number of bytes written.
	FillSamples(buf []byte) int
	Format() Format
	SetFormat(f Format) bool
}

// EventKind identifies engine lifecycle events.
type EventKind int

const (
	EventLooped EventKind = iota
	EventEnded
)

func (k EventKind) String() string {
	switch k {
	case EventLooped:
		return "looped"
	case EventEnded:
		return "ended"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

type Options struct {
	Looping bool
	// OnEvent is called synchronously from FillBuffer or UpdateRealTime.
	OnEvent func(EventKind)
}

type Engine struct {
	seq     Sequence
	backend Backend
	format  Format
	tempo   *TempoTrack
	shadow  [numChannels]uint8
	fade    fadeState

	virtualTime    float64
	pitch          int
	paused         bool
	looping        bool
	loopsHeldAtEnd bool
	loaded         bool
	endReported    bool
	onEvent        func(EventKind)
}

func New(seq Sequence, backend Backend) *Engine {
	return NewWithOptions(seq, backend, Options{})
}

func NewWithOptions(seq Sequence, backend Backend, opts Options) *Engine {
	e := &Engine{
		seq:     seq,
		backend: backend,
		format:  backend.Format(),
		tempo:   NewTempoTrack(0),
		pitch:   100,
		looping: opts.Looping,
		onEvent: opts.OnEvent,
	}
	if e.format.SampleRate <= 0 {
		e.format.SampleRate = DefaultSampleRate
	}
	if e.format.Channels <= 0 {
		e.format.Channels = 2
	}
	for i := range e.shadow {
		e.shadow[i] = maxControlValue
	}
	e.fade.volume = 1
	return e
}

// Open loads a new sequence. Any fade or loop state of the previous one is
// dropped. On failure the engine stays unusable until the next successful Open.
func (e *Engine) Open(r io.Reader) error {
	e.reset()
	e.loaded = false
	e.endReported = false
	e.fade.steps = 0

	if err := e.seq.Load(r); err != nil {
		debug.Log("engine", "open failed: %v", err)
		return fmt.Errorf("%w: error reading file: %w", ErrLoad, err)
	}
	division := e.seq.Division()
	if division <= 0 {
		debug.Log("engine", "open failed: division %d", division)
		return fmt.Errorf("%w: invalid division %d", ErrLoad, division)
	}
	e.seq.Rewind()
	e.virtualTime = e.seq.SkipSilenceStart()
	e.tempo.SetDivision(division)
	e.loopsHeldAtEnd = e.seq.LoopPoint() >= e.seq.TotalDuration()
	e.loaded = true
	debug.Log("engine", "opened: division=%d start=%.3fs loop=%.3fs total=%.3fs held=%v",
		division, e.virtualTime, e.seq.LoopPoint(), e.seq.TotalDuration(), e.loopsHeldAtEnd)
	return nil
}

// Close silences the backend and unloads the sequence.
func (e *Engine) Close() {
	e.reset()
	e.loaded = false
}

func (e *Engine) Loaded() bool { return e.loaded }

// FillBuffer renders len(buf) bytes of audio, advancing virtual time in slices
// of at most SliceFrames frames. It returns fewer bytes only when the
// sequence ended during the request.
func (e *Engine) FillBuffer(buf []byte) int {
	if !e.loaded {
		return 0
	}
	if e.holdingAtEnd() {
		clear(buf)
		return len(buf)
	}
	if !e.paused {
		e.tickFade()
	}

	bpf := e.format.BytesPerFrame()
	total := len(buf) / bpf * bpf
	remaining := total / bpf
	written := 0
	for remaining > 0 {
		n := min(SliceFrames, remaining)
		// Events at the slice boundary must reach the backend before the
		// audio they affect is rendered.
		if !e.playUpToNow() {
			break
		}
		if e.holdingAtEnd() {
			clear(buf[written:total])
			written = total
			break
		}
		e.virtualTime += float64(n) / (float64(e.format.SampleRate) * float64(e.pitch) / 100)

		length := n * bpf
		res := e.backend.FillSamples(buf[written : written+length])
		written += res
		if n < SliceFrames || res < length {
			break
		}
		remaining -= n
	}
	return written
}

// UpdateRealTime advances playback by a wall-clock delta without rendering.
// Used when the backend renders on its own, e.g. an external MIDI port.
func (e *Engine) UpdateRealTime(delta time.Duration) {
	if !e.loaded || e.paused {
		return
	}
	e.tickFade()
	e.seq.PlayEventsUpTo(e.virtualTime, e)
	e.virtualTime += delta.Seconds() * float64(e.pitch) / 100
	if e.IsFinished() {
		if e.looping {
			e.loop()
		} else {
			e.reportEnd()
		}
	}
}

// playUpToNow delivers pending events and handles the end of the stream.
// It returns false once the stream ended and playback does not continue.
func (e *Engine) playUpToNow() bool {
	e.seq.PlayEventsUpTo(e.virtualTime, e)
	if !e.IsFinished() {
		return true
	}
	if e.looping {
		e.loop()
		return true
	}
	e.reportEnd()
	return false
}

func (e *Engine) reportEnd() {
	if e.endReported {
		return
	}
	e.endReported = true
	debug.Log("engine", "end of sequence at %.3fs", e.virtualTime)
	e.emit(EventEnded)
}

func (e *Engine) emit(kind EventKind) {
	if e.onEvent != nil {
		e.onEvent(kind)
	}
}

func (e *Engine) Format() Format { return e.backend.Format() }

// SetFormat forwards to the backend and adopts the new rate on success.
func (e *Engine) SetFormat(f Format) bool {
	if !e.backend.SetFormat(f) {
		return false
	}
	e.format = e.backend.Format()
	return true
}

// SetPitch sets the playback speed in percent; 100 is normal speed.
func (e *Engine) SetPitch(percent int) bool {
	if percent <= 0 {
		return false
	}
	e.pitch = percent
	return true
}

func (e *Engine) Pitch() int { return e.pitch }

// Ticks returns the current position in sequence ticks.
func (e *Engine) Ticks() int {
	if !e.loaded {
		return 0
	}
	return e.tempo.TicksAt(e.virtualTime)
}

func (e *Engine) VirtualTime() float64 { return e.virtualTime }

// TotalDuration returns the length of the loaded sequence in seconds.
func (e *Engine) TotalDuration() float64 {
	if !e.loaded {
		return 0
	}
	return e.seq.TotalDuration()
}

func (e *Engine) TempoRecords() []TempoRecord { return e.tempo.Records() }

// ChannelVolume returns the last volume the song requested on channel ch.
func (e *Engine) ChannelVolume(ch int) uint8 { return e.shadow[ch&0x0F] }

// reset stops all sound and controller state on the backend.
func (e *Engine) reset() {
	for ch := uint8(0); ch < numChannels; ch++ {
		e.backend.SendChannelMessage(MakeMessage(EventControlChange, ch, ControlAllSoundOff, 0))
	}
	for ch := uint8(0); ch < numChannels; ch++ {
		e.backend.SendChannelMessage(MakeMessage(EventControlChange, ch, ControlResetAll, 0))
	}
	e.backend.SendReset()
}
