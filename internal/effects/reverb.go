package effects

// Reverb is a Schroeder reverb: four parallel combs into two allpasses. The
// input is summed to mono; the right output is the wet signal delayed by
// the spread time to widen the image.
type Reverb struct {
	combs   [4]delayLine
	allpass [2]delayLine
	spread  delayLine
	wet     float32
}

// NewReverb builds a reverb. roomSize (0..1) scales the delay lengths,
// feedback (0..0.95) the decay, wet (0..1) the mix. A send bus uses wet 1.
func NewReverb(sampleRate int, roomSize, feedback, wet float32) *Reverb {
	base := max(int(float32(sampleRate)*roomSize*0.05), 10)
	fb := clamp(feedback, 0, 0.95)
	r := &Reverb{wet: clamp(wet, 0, 1)}
	lens := [4]int{base, base * 1117 / 1000, base * 1271 / 1000, base * 1437 / 1000}
	for i := range r.combs {
		r.combs[i] = newDelayLine(lens[i], fb)
	}
	r.allpass[0] = newDelayLine(base*347/1000, 0.5)
	r.allpass[1] = newDelayLine(base*213/1000, 0.5)
	r.spread = newDelayLine(sampleRate/200, 0)
	return r
}

func (r *Reverb) Process(inL, inR float32) (float32, float32) {
	mono := (inL + inR) * 0.5
	var out float32
	for i := range r.combs {
		out += r.combs[i].comb(mono)
	}
	out *= 0.25
	for i := range r.allpass {
		out = r.allpass[i].allpass(out)
	}
	wide := r.spread.delay(out)
	return inL*(1-r.wet) + out*r.wet, inR*(1-r.wet) + wide*r.wet
}

func (r *Reverb) Reset() {
	for i := range r.combs {
		r.combs[i].clear()
	}
	for i := range r.allpass {
		r.allpass[i].clear()
	}
	r.spread.clear()
}
