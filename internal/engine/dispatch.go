package engine

import (
	"math"

	"github.com/cbegin/midifeed-go/internal/debug"
)

// ChannelMessage forwards a channel message to the backend. Channel volume
// changes are remembered and scaled by the master volume first.
func (e *Engine) ChannelMessage(msg uint32) {
	if MessageType(msg) == EventControlChange && MessageValue1(msg) == ControlVolume {
		ch := MessageChannel(msg)
		e.shadow[ch] = min(MessageValue2(msg), maxControlValue)
		if e.paused {
			msg = volumeMessage(ch, 0)
		} else {
			msg = volumeMessage(ch, e.scaledVolume(ch))
		}
	}
	e.backend.SendChannelMessage(msg)
}

func (e *Engine) SysEx(data []byte) {
	e.backend.SendSysEx(data)
}

// MetaEvent handles Set Tempo; every other meta event is dropped since it
// cannot be sent to a synthesizer.
func (e *Engine) MetaEvent(kind byte, data []byte) {
	if kind != MetaTempo || len(data) != 3 {
		return
	}
	tempo := uint32(data[0])<<16 | uint32(data[1])<<8 | uint32(data[2])
	if err := e.tempo.Record(tempo, e.virtualTime); err != nil {
		debug.Log("tempo", "dropping tempo %d at %.3fs: %v", tempo, e.virtualTime, err)
		return
	}
	debug.Log("tempo", "tempo %d us/qn at %.3fs", tempo, e.virtualTime)
}

func (e *Engine) scaledVolume(ch uint8) uint8 {
	v := math.Round(float64(e.shadow[ch]) * e.fade.volume)
	return uint8(max(0, min(v, maxControlValue)))
}
