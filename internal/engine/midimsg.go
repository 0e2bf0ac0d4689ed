package engine

// Channel message event types (high nibble of the status byte).
const (
	EventNoteOff         uint8 = 0x8
	EventNoteOn          uint8 = 0x9
	EventKeyPressure     uint8 = 0xA
	EventControlChange   uint8 = 0xB
	EventProgramChange   uint8 = 0xC
	EventChannelPressure uint8 = 0xD
	EventPitchBend       uint8 = 0xE
)

// Controller numbers the engine sends or intercepts.
const (
	ControlVolume      uint8 = 7
	ControlLoopPoint   uint8 = 111
	ControlAllSoundOff uint8 = 120
	ControlResetAll    uint8 = 121
	ControlAllNotesOff uint8 = 123
)

// MetaTempo is the meta event type of a Set Tempo event.
const MetaTempo byte = 0x51

const (
	numChannels     = 16
	maxControlValue = 127
)

// MakeMessage packs a channel message into the 24-bit wire word:
// low byte status, middle byte value1, high byte value2.
func MakeMessage(eventType, channel, value1, value2 uint8) uint32 {
	var msg uint32
	msg |= uint32((eventType<<4)&0xF0|channel&0x0F) & 0x0000FF
	msg |= (uint32(value1) << 8) & 0x00FF00
	msg |= (uint32(value2) << 16) & 0xFF0000
	return msg
}

func MessageType(msg uint32) uint8    { return uint8((msg & 0x0000F0) >> 4) }
func MessageChannel(msg uint32) uint8 { return uint8(msg & 0x00000F) }
func MessageValue1(msg uint32) uint8  { return uint8((msg & 0x00FF00) >> 8) }
func MessageValue2(msg uint32) uint8  { return uint8((msg & 0xFF0000) >> 16) }

// MessageStatus returns the full status byte (type and channel).
func MessageStatus(msg uint32) uint8 { return uint8(msg & 0xFF) }

func volumeMessage(channel, volume uint8) uint32 {
	return MakeMessage(EventControlChange, channel, ControlVolume, volume)
}
