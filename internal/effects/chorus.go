package effects

import "math"

// Chorus is a modulated stereo delay. The right side reads the line with
// the opposite modulation of the left.
type Chorus struct {
	bufL, bufR []float32
	pos        int
	base       float64 // delay in frames
	depth      float64 // modulation in frames
	rate       float64 // radians per frame
	phase      float64
	feedback   float32
	wet        float32
}

// NewChorus builds a chorus with a base delay and modulation depth in ms,
// a modulation rate in Hz, feedback (0..0.9) and wet mix (0..1).
func NewChorus(sampleRate int, delayMs, depthMs, rateHz, feedback, wet float32) *Chorus {
	base := float64(delayMs) * float64(sampleRate) / 1000
	depth := min(float64(depthMs)*float64(sampleRate)/1000, base)
	size := max(int(base+depth)+2, 4)
	return &Chorus{
		bufL:     make([]float32, size),
		bufR:     make([]float32, size),
		base:     base,
		depth:    depth,
		rate:     2 * math.Pi * float64(rateHz) / float64(sampleRate),
		feedback: clamp(feedback, 0, 0.9),
		wet:      clamp(wet, 0, 1),
	}
}

func (c *Chorus) Process(l, r float32) (float32, float32) {
	c.bufL[c.pos] = l
	c.bufR[c.pos] = r
	mod := math.Sin(c.phase) * c.depth
	c.phase += c.rate
	if c.phase > 2*math.Pi {
		c.phase -= 2 * math.Pi
	}
	delL := c.read(c.bufL, c.base+mod)
	delR := c.read(c.bufR, c.base-mod)
	c.bufL[c.pos] += delL * c.feedback
	c.bufR[c.pos] += delR * c.feedback
	c.pos++
	if c.pos >= len(c.bufL) {
		c.pos = 0
	}
	return l*(1-c.wet) + delL*c.wet, r*(1-c.wet) + delR*c.wet
}

// read returns the sample delay frames back, interpolated linearly.
func (c *Chorus) read(buf []float32, delay float64) float32 {
	size := float64(len(buf))
	p := float64(c.pos) - delay
	for p < 0 {
		p += size
	}
	i := int(p)
	frac := float32(p - float64(i))
	j := i + 1
	if j >= len(buf) {
		j = 0
	}
	return buf[i]*(1-frac) + buf[j]*frac
}

func (c *Chorus) Reset() {
	clear(c.bufL)
	clear(c.bufR)
	c.pos = 0
	c.phase = 0
}
