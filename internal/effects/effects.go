// Package effects holds the stereo processors used by the synthesizer
// backends: the reverb and chorus send buses and the master limiter.
package effects

// Effector processes one stereo frame.
type Effector interface {
	Process(l, r float32) (float32, float32)
	Reset()
}

// Chain applies effects in order.
type Chain struct {
	effects []Effector
}

func NewChain(effects ...Effector) *Chain {
	return &Chain{effects: effects}
}

func (c *Chain) Process(l, r float32) (float32, float32) {
	for _, e := range c.effects {
		l, r = e.Process(l, r)
	}
	return l, r
}

func (c *Chain) Reset() {
	for _, e := range c.effects {
		e.Reset()
	}
}

func (c *Chain) Len() int { return len(c.effects) }

func clamp(v, lo, hi float32) float32 {
	return max(lo, min(v, hi))
}

// delayLine is a circular buffer shared by the comb, allpass and plain
// delays below.
type delayLine struct {
	buf []float32
	pos int
	fb  float32
}

func newDelayLine(n int, fb float32) delayLine {
	return delayLine{buf: make([]float32, max(n, 1)), fb: fb}
}

func (d *delayLine) comb(in float32) float32 {
	out := d.buf[d.pos]
	d.buf[d.pos] = in + out*d.fb
	d.advance()
	return out
}

func (d *delayLine) allpass(in float32) float32 {
	held := d.buf[d.pos]
	d.buf[d.pos] = in + held*d.fb
	d.advance()
	return held - in
}

func (d *delayLine) delay(in float32) float32 {
	out := d.buf[d.pos]
	d.buf[d.pos] = in
	d.advance()
	return out
}

func (d *delayLine) advance() {
	d.pos++
	if d.pos >= len(d.buf) {
		d.pos = 0
	}
}

func (d *delayLine) clear() {
	clear(d.buf)
	d.pos = 0
}
