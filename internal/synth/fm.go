package synth

import (
	"math"

	"github.com/cbegin/midifeed-go/internal/debug"
	"github.com/cbegin/midifeed-go/internal/effects"
	"github.com/cbegin/midifeed-go/internal/engine"
	"github.com/cbegin/midifeed-go/internal/lfo"
)

const (
	twoPi       = math.Pi * 2
	drumChannel = 9
	numChannels = 16
)

type FMParams struct {
	Polyphony      int
	MasterGain     float64
	VelocityAmp    float64
	BendRange      float64 // semitones, until changed through RPN 0
	VibratoHz      float64
	VibratoDepth   float64 // semitones at modulation wheel 127
	ReverbRoom     float32
	ReverbFeedback float32
	ChorusDelayMs  float32
	ChorusDepthMs  float32
	ChorusRateHz   float32
	Limiter        bool
}

func DefaultFMParams() FMParams {
	return FMParams{
		Polyphony:      48,
		MasterGain:     0.3,
		VelocityAmp:    0.8,
		BendRange:      2,
		VibratoHz:      5.5,
		VibratoDepth:   0.5,
		ReverbRoom:     0.6,
		ReverbFeedback: 0.75,
		ChorusDelayMs:  15,
		ChorusDepthMs:  4,
		ChorusRateHz:   0.8,
		Limiter:        true,
	}
}

// fmPatch is the two-operator voice used for one General MIDI family.
type fmPatch struct {
	carMul, modMul, index           float64
	attack, decay, sustain, release float64
}

// patches is indexed by program / 8.
var patches = [16]fmPatch{
	{1, 1, 1.2, 0.002, 0.8, 0.2, 0.3},   // piano
	{1, 3.5, 1.5, 0.001, 0.5, 0, 0.4},   // chromatic percussion
	{1, 1, 0.6, 0.01, 0.1, 0.9, 0.08},   // organ
	{1, 2, 1.4, 0.002, 0.6, 0.15, 0.25}, // guitar
	{1, 1, 1.8, 0.003, 0.3, 0.4, 0.12},  // bass
	{1, 1, 0.9, 0.08, 0.3, 0.8, 0.35},   // strings
	{1, 1, 0.8, 0.12, 0.3, 0.85, 0.4},   // ensemble
	{1, 1, 2.2, 0.04, 0.2, 0.75, 0.15},  // brass
	{1, 2, 1.3, 0.03, 0.2, 0.8, 0.12},   // reed
	{1, 1, 0.4, 0.04, 0.1, 0.85, 0.12},  // pipe
	{1, 1, 2.5, 0.005, 0.1, 0.8, 0.1},   // synth lead
	{1, 0.5, 1.0, 0.3, 0.5, 0.8, 0.6},   // synth pad
	{1, 3.5, 2.0, 0.05, 0.6, 0.5, 0.5},  // synth effects
	{1, 3, 1.6, 0.002, 0.4, 0.2, 0.3},   // ethnic
	{1, 2.7, 2.0, 0.001, 0.25, 0, 0.2},  // percussive
	{1, 7, 3.0, 0.01, 0.4, 0.3, 0.3},    // sound effects
}

type envState int

const (
	envAttack envState = iota
	envDecay
	envSustain
	envRelease
	envOff
)

type operator struct {
	phase    float64
	mul      float64
	env      float64
	envState envState
	attack   float64
	decay    float64
	sustain  float64
	release  float64
}

type fmVoice struct {
	active    bool
	channel   int
	key       uint8
	velocity  float64
	freq      float64
	index     float64
	car, mod  operator
	sustained bool
	age       uint64

	drum     bool
	tone     float64
	toneEnd  float64
	noiseMix float64
	decayK   float64
	noise    uint32
}

type channelState struct {
	program    uint8
	volume     uint8
	expression uint8
	pan        uint8
	modulation uint8
	reverb     uint8
	chorus     uint8
	sustain    bool
	bend       int
	bendRange  float64
	bendFactor float64
	rpn        [2]uint8
	vibrato    lfo.LFO
}

func (c *channelState) reset(p FMParams) {
	program := c.program
	*c = channelState{
		program:    program,
		volume:     100,
		expression: 127,
		pan:        64,
		reverb:     40,
		bendRange:  p.BendRange,
		bendFactor: 1,
		rpn:        [2]uint8{127, 127},
	}
}

func (c *channelState) gain() float64 {
	v := float64(c.volume) / 127 * float64(c.expression) / 127
	return v * v
}

func (c *channelState) updateBend() {
	c.bendFactor = math.Pow(2, float64(c.bend)/8192*c.bendRange/12)
}

// FM is a self-contained General MIDI backend built from two-operator FM
// voices. Drums on channel 10 are synthesized from tuned noise bursts.
type FM struct {
	format   engine.Format
	params   FMParams
	voices   []fmVoice
	channels [numChannels]channelState
	reverb   *effects.Reverb
	chorus   *effects.Chorus
	master   *effects.Chain
	left     []float32
	right    []float32
	clock    uint64
}

var _ engine.Backend = (*FM)(nil)

func NewFM(format engine.Format, params FMParams) *FM {
	if params.Polyphony <= 0 {
		params.Polyphony = DefaultFMParams().Polyphony
	}
	if !validFormat(format) {
		format = engine.DefaultFormat()
	}
	s := &FM{
		format: format,
		params: params,
		voices: make([]fmVoice, params.Polyphony),
	}
	s.buildEffects()
	s.SendReset()
	return s
}

func (s *FM) buildEffects() {
	rate := s.format.SampleRate
	p := s.params
	s.reverb = effects.NewReverb(rate, p.ReverbRoom, p.ReverbFeedback, 1)
	s.chorus = effects.NewChorus(rate, p.ChorusDelayMs, p.ChorusDepthMs, p.ChorusRateHz, 0, 1)
	s.master = effects.NewChain()
	if p.Limiter {
		s.master = effects.NewChain(effects.NewLimiter(rate))
	}
}

func (s *FM) Format() engine.Format { return s.format }

// SetFormat switches the output format. Sounding voices are cut.
func (s *FM) SetFormat(f engine.Format) bool {
	if !validFormat(f) {
		return false
	}
	s.format = f
	s.killAll()
	s.buildEffects()
	return true
}

// SendReset returns every channel to its power-on state.
func (s *FM) SendReset() {
	s.killAll()
	for ch := range s.channels {
		s.channels[ch].program = 0
		s.channels[ch].reset(s.params)
	}
	s.reverb.Reset()
	s.chorus.Reset()
	s.master.Reset()
}

func (s *FM) SendSysEx(data []byte) {
	if isResetSysEx(data) {
		debug.Log("synth", "fm: reset sysex")
		s.SendReset()
	}
}

func (s *FM) SendChannelMessage(msg uint32) {
	ch := int(engine.MessageChannel(msg))
	v1, v2 := engine.MessageValue1(msg), engine.MessageValue2(msg)
	switch engine.MessageType(msg) {
	case engine.EventNoteOn:
		if v2 == 0 {
			s.noteOff(ch, v1)
			return
		}
		s.noteOn(ch, v1, v2)
	case engine.EventNoteOff:
		s.noteOff(ch, v1)
	case engine.EventControlChange:
		s.controlChange(ch, v1, v2)
	case engine.EventProgramChange:
		s.channels[ch].program = v1 & 0x7F
	case engine.EventPitchBend:
		c := &s.channels[ch]
		c.bend = (int(v2&0x7F)<<7 | int(v1&0x7F)) - 8192
		c.updateBend()
	}
}

func (s *FM) controlChange(ch int, cc, value uint8) {
	c := &s.channels[ch]
	switch cc {
	case 1:
		c.modulation = value
		c.vibrato.Set(s.params.VibratoDepth*float64(value)/127, s.params.VibratoHz, lfo.WaveSine)
	case 6:
		if c.rpn == [2]uint8{0, 0} {
			c.bendRange = float64(value)
			c.updateBend()
		}
	case engine.ControlVolume:
		c.volume = value
	case 10:
		c.pan = value
	case 11:
		c.expression = value
	case 64:
		c.sustain = value >= 64
		if !c.sustain {
			s.releaseSustained(ch)
		}
	case 91:
		c.reverb = value
	case 93:
		c.chorus = value
	case 100:
		c.rpn[0] = value
	case 101:
		c.rpn[1] = value
	case engine.ControlAllSoundOff:
		for i := range s.voices {
			if s.voices[i].channel == ch {
				s.voices[i].active = false
			}
		}
	case engine.ControlResetAll:
		// Volume, pan and program survive a controller reset.
		c.modulation = 0
		c.vibrato.SetDepth(0)
		c.expression = 127
		c.sustain = false
		c.bend = 0
		c.rpn = [2]uint8{127, 127}
		c.updateBend()
		s.releaseSustained(ch)
	case engine.ControlAllNotesOff:
		for i := range s.voices {
			v := &s.voices[i]
			if v.active && v.channel == ch {
				v.sustained = false
				v.release()
			}
		}
	}
}

func (s *FM) noteOn(ch int, key, velocity uint8) {
	slot := s.stealVoice()
	s.clock++
	v := &s.voices[slot]
	*v = fmVoice{
		active:   true,
		channel:  ch,
		key:      key,
		velocity: 0.2 + float64(velocity)/127*s.params.VelocityAmp,
		age:      s.clock,
	}
	if ch == drumChannel {
		s.startDrum(v, key)
		return
	}
	p := patches[s.channels[ch].program>>3]
	v.freq = midiToFreq(int(key))
	v.index = p.index
	v.car = operator{mul: p.carMul, attack: p.attack, decay: p.decay, sustain: p.sustain, release: p.release}
	v.mod = operator{mul: p.modMul, attack: p.attack, decay: p.decay * 0.7, sustain: p.sustain, release: p.release}
}

// startDrum configures a one-shot percussion voice for a GM drum key.
func (s *FM) startDrum(v *fmVoice, key uint8) {
	v.drum = true
	v.noise = 0x7FFF ^ uint32(key)<<3
	v.car.env = 1
	decay := 0.15
	switch {
	case key == 35 || key == 36: // bass drum
		v.tone, v.toneEnd, v.noiseMix, decay = 150, 45, 0.05, 0.35
	case key == 38 || key == 40: // snare
		v.tone, v.toneEnd, v.noiseMix, decay = 190, 170, 0.7, 0.2
	case key == 42 || key == 44: // closed hi-hat
		v.noiseMix, decay = 1, 0.05
	case key == 46: // open hi-hat
		v.noiseMix, decay = 1, 0.3
	case key == 49 || key == 51 || key == 52 || key == 55 || key == 57 || key == 59: // cymbals
		v.noiseMix, decay = 1, 0.8
	case key >= 41 && key <= 50: // toms
		f := midiToFreq(int(key) - 5)
		v.tone, v.toneEnd, v.noiseMix, decay = f, f*0.7, 0.1, 0.3
	default:
		v.tone, v.toneEnd, v.noiseMix = midiToFreq(int(key)), midiToFreq(int(key)), 0.5
	}
	v.freq = v.tone
	v.decayK = math.Exp(-1 / (decay * float64(s.format.SampleRate)))
}

func (s *FM) noteOff(ch int, key uint8) {
	if ch == drumChannel {
		return
	}
	sustain := s.channels[ch].sustain
	for i := range s.voices {
		v := &s.voices[i]
		if !v.active || v.channel != ch || v.key != key || v.car.envState == envRelease {
			continue
		}
		if sustain {
			v.sustained = true
			continue
		}
		v.release()
	}
}

func (s *FM) releaseSustained(ch int) {
	for i := range s.voices {
		v := &s.voices[i]
		if v.active && v.channel == ch && v.sustained {
			v.sustained = false
			v.release()
		}
	}
}

func (v *fmVoice) release() {
	if v.drum {
		return
	}
	v.car.envState = envRelease
	v.mod.envState = envRelease
}

func (s *FM) killAll() {
	for i := range s.voices {
		s.voices[i].active = false
	}
}

// stealVoice picks a free slot, else the oldest releasing voice, else the
// quietest one.
func (s *FM) stealVoice() int {
	for i := range s.voices {
		if !s.voices[i].active {
			return i
		}
	}
	best := -1
	for i := range s.voices {
		v := &s.voices[i]
		if v.car.envState == envRelease && (best < 0 || v.age < s.voices[best].age) {
			best = i
		}
	}
	if best >= 0 {
		return best
	}
	quiet := 0
	for i := 1; i < len(s.voices); i++ {
		if s.voices[i].car.env < s.voices[quiet].car.env {
			quiet = i
		}
	}
	return quiet
}

// ActiveVoices returns the number of sounding voices.
func (s *FM) ActiveVoices() int {
	n := 0
	for i := range s.voices {
		if s.voices[i].active {
			n++
		}
	}
	return n
}

func (s *FM) FillSamples(buf []byte) int {
	frames := len(buf) / s.format.BytesPerFrame()
	s.left, s.right = frameBuffers(s.left, s.right, frames)
	s.render(s.left, s.right)
	return encodeFrames(buf, s.left, s.right, s.format)
}

func (s *FM) render(left, right []float32) {
	rate := float64(s.format.SampleRate)
	var vibrato [numChannels]float64
	for i := range left {
		for ch := range s.channels {
			c := &s.channels[ch]
			vibrato[ch] = c.bendFactor * c.vibrato.PitchRatio(rate)
		}

		var l, r, rev, cho float64
		for vi := range s.voices {
			v := &s.voices[vi]
			if !v.active {
				continue
			}
			c := &s.channels[v.channel]
			var sig float64
			if v.drum {
				sig = v.drumSample(rate)
			} else {
				sig = v.fmSample(rate, vibrato[v.channel])
			}
			if !v.active {
				continue
			}
			sig *= s.params.MasterGain * v.velocity * c.gain()
			pl, pr := panGains(c.pan)
			l += sig * pl
			r += sig * pr
			rev += sig * float64(c.reverb) / 127
			cho += sig * float64(c.chorus) / 127
		}
		rl, rr := s.reverb.Process(float32(rev), float32(rev))
		cl, cr := s.chorus.Process(float32(cho), float32(cho))
		left[i], right[i] = s.master.Process(float32(l)+rl+cl, float32(r)+rr+cr)
	}
}

// fmSample renders one frame of a melodic voice: the modulator drives the
// phase of the carrier.
func (v *fmVoice) fmSample(rate, pitch float64) float64 {
	v.car.advanceEnv(rate)
	v.mod.advanceEnv(rate)
	if v.car.envState == envOff {
		v.active = false
		return 0
	}
	mod := math.Sin(v.mod.phase) * v.mod.env * v.index
	out := math.Sin(v.car.phase+mod) * v.car.env
	f := v.freq * pitch
	v.car.phase = wrapPhase(v.car.phase + twoPi*f*v.car.mul/rate)
	v.mod.phase = wrapPhase(v.mod.phase + twoPi*f*v.mod.mul/rate)
	return out
}

func (v *fmVoice) drumSample(rate float64) float64 {
	v.noise = (v.noise >> 1) ^ (-(v.noise & 1) & 0xB400)
	noise := float64(v.noise&0xFFFF)/float64(0x7FFF) - 1
	var tone float64
	if v.tone > 0 {
		tone = math.Sin(v.car.phase)
		v.car.phase = wrapPhase(v.car.phase + twoPi*v.freq/rate)
		v.freq += (v.toneEnd - v.freq) * 0.0005
	}
	out := (tone*(1-v.noiseMix) + noise*v.noiseMix) * v.car.env
	v.car.env *= v.decayK
	if v.car.env < 1e-4 {
		v.active = false
	}
	return out
}

func (op *operator) advanceEnv(rate float64) {
	switch op.envState {
	case envAttack:
		op.env += 1 / max(op.attack*rate, 1)
		if op.env >= 1 {
			op.env = 1
			op.envState = envDecay
		}
	case envDecay:
		op.env -= (1 - op.sustain) / max(op.decay*rate, 1)
		if op.env <= op.sustain {
			op.env = op.sustain
			op.envState = envSustain
			if op.sustain <= 0 {
				op.envState = envOff
			}
		}
	case envRelease:
		op.env -= 1 / max(op.release*rate, 1)
		if op.env <= 0.0001 {
			op.env = 0
			op.envState = envOff
		}
	case envOff:
		op.env = 0
	}
}

// panGains maps a CC#10 value to equal-power left and right gains.
func panGains(pan uint8) (float64, float64) {
	angle := float64(min(pan, 127)) / 127 * (math.Pi / 2)
	return math.Cos(angle), math.Sin(angle)
}

func wrapPhase(p float64) float64 {
	if p > twoPi {
		p -= twoPi
	}
	return p
}

func midiToFreq(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}
