package synth

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/cbegin/midifeed-go/internal/debug"
	"github.com/cbegin/midifeed-go/internal/engine"
)

// SoundFont renders through a SoundFont 2 bank.
type SoundFont struct {
	font   *meltysynth.SoundFont
	synth  *meltysynth.Synthesizer
	format engine.Format
	left   []float32
	right  []float32
}

var _ engine.Backend = (*SoundFont)(nil)

// LoadSoundFontFile parses an .sf2 file.
func LoadSoundFontFile(path string) (*meltysynth.SoundFont, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read soundfont: %w", err)
	}
	return LoadSoundFont(bytes.NewReader(data))
}

func LoadSoundFont(r io.Reader) (*meltysynth.SoundFont, error) {
	font, err := meltysynth.NewSoundFont(r)
	if err != nil {
		return nil, fmt.Errorf("parse soundfont: %w", err)
	}
	return font, nil
}

func NewSoundFont(font *meltysynth.SoundFont, format engine.Format) (*SoundFont, error) {
	if !validFormat(format) {
		return nil, fmt.Errorf("unsupported format %d Hz %s x%d", format.SampleRate, format.Sample, format.Channels)
	}
	synth, err := newSynthesizer(font, format.SampleRate)
	if err != nil {
		return nil, err
	}
	return &SoundFont{font: font, synth: synth, format: format}, nil
}

func newSynthesizer(font *meltysynth.SoundFont, rate int) (*meltysynth.Synthesizer, error) {
	settings := meltysynth.NewSynthesizerSettings(int32(rate))
	synth, err := meltysynth.NewSynthesizer(font, settings)
	if err != nil {
		return nil, fmt.Errorf("create synthesizer: %w", err)
	}
	return synth, nil
}

func (s *SoundFont) SendChannelMessage(msg uint32) {
	s.synth.ProcessMidiMessage(
		int32(engine.MessageChannel(msg)),
		int32(engine.MessageStatus(msg)&0xF0),
		int32(engine.MessageValue1(msg)),
		int32(engine.MessageValue2(msg)),
	)
}

// SendSysEx only understands the standard reset messages; the synthesizer
// has no other system exclusive support.
func (s *SoundFont) SendSysEx(data []byte) {
	if isResetSysEx(data) {
		debug.Log("synth", "soundfont: reset sysex")
		s.synth.Reset()
	}
}

func (s *SoundFont) SendReset() { s.synth.Reset() }

func (s *SoundFont) FillSamples(buf []byte) int {
	frames := len(buf) / s.format.BytesPerFrame()
	if frames == 0 {
		return 0
	}
	s.left, s.right = frameBuffers(s.left, s.right, frames)
	s.synth.Render(s.left, s.right)
	return encodeFrames(buf, s.left, s.right, s.format)
}

func (s *SoundFont) Format() engine.Format { return s.format }

// SetFormat rebuilds the synthesizer when the sample rate changes, which
// drops all channel state.
func (s *SoundFont) SetFormat(f engine.Format) bool {
	if !validFormat(f) {
		return false
	}
	if f.SampleRate != s.format.SampleRate {
		synth, err := newSynthesizer(s.font, f.SampleRate)
		if err != nil {
			debug.Log("synth", "soundfont: %v", err)
			return false
		}
		s.synth = synth
	}
	s.format = f
	return true
}
