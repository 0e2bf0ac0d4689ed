package engine

import (
	"io"

	"github.com/cbegin/midifeed-go/internal/debug"
)

// SeekTo supports exactly one position: offset 0 from io.SeekStart, which
// rewinds to the loop point. Anything else is rejected without side effects.
func (e *Engine) SeekTo(offset int64, whence int) bool {
	if offset != 0 || whence != io.SeekStart {
		return false
	}
	return e.SeekToLoopStart()
}

// SeekToLoopStart rewinds to the song's loop point.
func (e *Engine) SeekToLoopStart() bool {
	if !e.loaded {
		return false
	}
	e.virtualTime = e.seq.RewindToLoopPoint()
	// A loop point at the end of the track keeps the song alive as silence
	// instead of finishing.
	e.loopsHeldAtEnd = e.virtualTime >= e.seq.TotalDuration()
	e.resetTemposAfterLoop()
	e.endReported = false
	debug.Log("loop", "seek to loop start %.3fs held=%v", e.virtualTime, e.loopsHeldAtEnd)
	return true
}

// loop rewinds after the stream ended while looping.
func (e *Engine) loop() {
	e.virtualTime = e.seq.RewindToLoopPoint()
	e.resetTemposAfterLoop()
	debug.Log("loop", "looped to %.3fs", e.virtualTime)
	e.emit(EventLooped)
}

func (e *Engine) resetTemposAfterLoop() {
	if e.virtualTime <= 0 {
		e.tempo.Reset()
		return
	}
	e.tempo.TruncateAfter(e.virtualTime)
	// Notes held across a mid-song loop point would otherwise hang.
	for ch := uint8(0); ch < numChannels; ch++ {
		e.backend.SendChannelMessage(MakeMessage(EventControlChange, ch, ControlAllNotesOff, 0))
	}
}

// IsFinished reports whether the sequence has ended. A song whose loop point
// is its end never finishes.
func (e *Engine) IsFinished() bool {
	if !e.loaded {
		return true
	}
	if e.loopsHeldAtEnd {
		return false
	}
	return e.seq.IsAtEnd()
}

func (e *Engine) holdingAtEnd() bool {
	return e.loopsHeldAtEnd && e.seq.IsAtEnd()
}

func (e *Engine) SetLooping(enabled bool) { e.looping = enabled }

func (e *Engine) Looping() bool { return e.looping }

func (e *Engine) LoopsHeldAtEnd() bool { return e.loopsHeldAtEnd }
