package lfo

import (
	"math"
	"testing"
)

func TestSineStartsAtZeroAndPeaksAtQuarter(t *testing.T) {
	l := &LFO{}
	l.Set(0.5, 1, WaveSine)

	samples := make([]float64, 100) // one cycle at 100 Hz sampling
	for i := range samples {
		samples[i] = l.Sample(100)
	}
	if math.Abs(samples[0]) > 1e-9 {
		t.Errorf("sine at phase 0: got %f, want 0", samples[0])
	}
	if math.Abs(samples[25]-0.5) > 1e-6 {
		t.Errorf("sine at phase 0.25: got %f, want 0.5", samples[25])
	}
	if math.Abs(samples[75]+0.5) > 1e-6 {
		t.Errorf("sine at phase 0.75: got %f, want -0.5", samples[75])
	}
}

func TestTriangleShape(t *testing.T) {
	l := &LFO{}
	l.Set(1, 1, WaveTriangle)
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = l.Sample(100)
	}
	cases := []struct {
		index int
		want  float64
	}{
		{0, -1},
		{25, 0},
		{50, 1},
		{75, 0},
	}
	for _, tc := range cases {
		if math.Abs(samples[tc.index]-tc.want) > 0.05 {
			t.Errorf("triangle[%d] = %f, want %f", tc.index, samples[tc.index], tc.want)
		}
	}
}

func TestSquareAndSaw(t *testing.T) {
	sq := &LFO{}
	sq.Set(2, 1, WaveSquare)
	if v := sq.Sample(100); v != 2 {
		t.Errorf("square first half: got %f, want 2", v)
	}
	for i := 1; i < 50; i++ {
		sq.Sample(100)
	}
	if v := sq.Sample(100); v != -2 {
		t.Errorf("square second half: got %f, want -2", v)
	}

	saw := &LFO{}
	saw.Set(1, 1, WaveSaw)
	if v := saw.Sample(100); math.Abs(v-1) > 1e-9 {
		t.Errorf("saw at phase 0: got %f, want 1", v)
	}
}

func TestInactiveLFODoesNotAdvance(t *testing.T) {
	l := &LFO{}
	l.Set(0, 5, WaveSine)
	if v := l.Sample(44100); v != 0 {
		t.Fatalf("zero depth should return 0, got %f", v)
	}
	if l.phase != 0 {
		t.Fatalf("inactive LFO advanced to phase %f", l.phase)
	}
	if r := l.PitchRatio(44100); r != 1 {
		t.Fatalf("inactive pitch ratio = %f, want 1", r)
	}

	l.Set(1, 0, WaveSine)
	if l.Active() {
		t.Fatalf("zero-rate LFO should not be active")
	}
}

func TestPitchRatioSpansDepthInSemitones(t *testing.T) {
	l := &LFO{}
	l.Set(12, 1, WaveSquare)
	if r := l.PitchRatio(100); math.Abs(r-2) > 1e-9 {
		t.Fatalf("ratio at +12 semitones = %f, want 2", r)
	}
	for i := 1; i < 50; i++ {
		l.Sample(100)
	}
	if r := l.PitchRatio(100); math.Abs(r-0.5) > 1e-9 {
		t.Fatalf("ratio at -12 semitones = %f, want 0.5", r)
	}
}

func TestSetDepthKeepsPhase(t *testing.T) {
	l := &LFO{}
	l.Set(1, 1, WaveSine)
	for i := 0; i < 10; i++ {
		l.Sample(100)
	}
	phase := l.phase
	l.SetDepth(0.25)
	if l.phase != phase {
		t.Fatalf("SetDepth moved the phase")
	}
	l.Reset()
	if l.phase != 0 {
		t.Fatalf("Reset left phase %f", l.phase)
	}
}

func TestUnknownWaveformFallsBackToSine(t *testing.T) {
	l := &LFO{}
	l.Set(1, 1, 42)
	if l.waveform != WaveSine {
		t.Fatalf("waveform = %d, want sine", l.waveform)
	}
}
