// Package lfo provides the low-frequency oscillators behind channel vibrato.
package lfo

import "math"

const (
	WaveSine = iota
	WaveTriangle
	WaveSquare
	WaveSaw
)

// LFO produces one modulation value per output frame. A MIDI channel owns
// one; the modulation wheel sets its depth.
type LFO struct {
	depth    float64 // peak deviation, in semitones for vibrato
	rateHz   float64
	waveform int
	phase    float64 // [0, 1)
}

// Set configures the oscillator. Unknown waveforms fall back to a sine.
func (l *LFO) Set(depth, rateHz float64, waveform int) {
	l.depth = depth
	l.rateHz = rateHz
	if waveform < WaveSine || waveform > WaveSaw {
		waveform = WaveSine
	}
	l.waveform = waveform
}

// SetDepth changes the depth and keeps the phase running.
func (l *LFO) SetDepth(depth float64) { l.depth = depth }

// Sample returns the value at the current phase, in [-depth, +depth], and
// advances by one frame. An inactive LFO returns 0 and does not advance.
func (l *LFO) Sample(sampleRate float64) float64 {
	if !l.Active() || sampleRate <= 0 {
		return 0
	}
	var v float64
	switch l.waveform {
	case WaveTriangle:
		if l.phase < 0.5 {
			v = 4*l.phase - 1
		} else {
			v = 3 - 4*l.phase
		}
	case WaveSquare:
		v = 1
		if l.phase >= 0.5 {
			v = -1
		}
	case WaveSaw:
		v = 1 - 2*l.phase
	default:
		v = math.Sin(2 * math.Pi * l.phase)
	}
	l.phase += l.rateHz / sampleRate
	for l.phase >= 1 {
		l.phase--
	}
	return v * l.depth
}

// PitchRatio advances one frame and returns the frequency multiplier for a
// depth given in semitones.
func (l *LFO) PitchRatio(sampleRate float64) float64 {
	if !l.Active() {
		return 1
	}
	return math.Pow(2, l.Sample(sampleRate)/12)
}

func (l *LFO) Active() bool {
	return l.depth != 0 && l.rateHz != 0
}

func (l *LFO) Reset() {
	l.phase = 0
}
