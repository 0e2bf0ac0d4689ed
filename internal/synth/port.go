package synth

import (
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/cbegin/midifeed-go/internal/debug"
	"github.com/cbegin/midifeed-go/internal/engine"
)

// Port forwards everything to an external MIDI device, which does its own
// rendering. FillSamples produces silence so the engine clock can still be
// driven from an audio buffer if needed.
type Port struct {
	out    drivers.Out
	send   func(midi.Message) error
	format engine.Format
	errors int
}

var _ engine.Backend = (*Port)(nil)

// PortNames lists the available MIDI outputs. A driver must be registered
// by importing it, e.g. rtmididrv.
func PortNames() []string {
	var names []string
	for _, out := range midi.GetOutPorts() {
		names = append(names, out.String())
	}
	return names
}

// OpenPort opens the first output whose name contains name; an empty name
// picks the first output.
func OpenPort(name string) (*Port, error) {
	for _, out := range midi.GetOutPorts() {
		if name != "" && !strings.Contains(strings.ToLower(out.String()), strings.ToLower(name)) {
			continue
		}
		send, err := midi.SendTo(out)
		if err != nil {
			return nil, fmt.Errorf("open midi out %q: %w", out.String(), err)
		}
		debug.Log("synth", "port: opened %q", out.String())
		p := NewPort(send)
		p.out = out
		return p, nil
	}
	if name == "" {
		return nil, fmt.Errorf("no midi output ports")
	}
	return nil, fmt.Errorf("midi output %q not found", name)
}

// NewPort wraps a send function, such as one returned by midi.SendTo.
func NewPort(send func(midi.Message) error) *Port {
	return &Port{send: send, format: engine.DefaultFormat()}
}

// Name returns the device name, or "" for a bare send function.
func (p *Port) Name() string {
	if p.out == nil {
		return ""
	}
	return p.out.String()
}

func (p *Port) Close() error {
	if p.out == nil {
		return nil
	}
	return p.out.Close()
}

func (p *Port) write(msg midi.Message) {
	if err := p.send(msg); err != nil {
		p.errors++
		debug.LogEvery(100, "synth", "port: send failed (%d so far): %v", p.errors, err)
	}
}

// Errors returns the number of failed sends.
func (p *Port) Errors() int { return p.errors }

func (p *Port) SendChannelMessage(msg uint32) {
	status := engine.MessageStatus(msg)
	switch engine.MessageType(msg) {
	case engine.EventProgramChange, engine.EventChannelPressure:
		p.write(midi.Message{status, engine.MessageValue1(msg)})
	default:
		p.write(midi.Message{status, engine.MessageValue1(msg), engine.MessageValue2(msg)})
	}
}

func (p *Port) SendSysEx(data []byte) {
	body := sysexBody(data)
	if len(body) == 0 {
		return
	}
	p.write(midi.SysEx(body))
}

func (p *Port) SendReset() {
	p.write(midi.Message(append([]byte(nil), gmSystemOn...)))
}

// FillSamples writes silence; the device renders the audio.
func (p *Port) FillSamples(buf []byte) int {
	n := len(buf) / p.format.BytesPerFrame() * p.format.BytesPerFrame()
	clear(buf[:n])
	return n
}

func (p *Port) Format() engine.Format { return p.format }

func (p *Port) SetFormat(f engine.Format) bool {
	if !validFormat(f) {
		return false
	}
	p.format = f
	return true
}
