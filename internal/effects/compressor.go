package effects

import "math"

// Compressor reduces the level above a threshold. Both sides share one
// envelope, taken from the louder side, so the stereo image does not shift.
type Compressor struct {
	threshold float32
	ratio     float32
	attack    float32 // per-frame smoothing coefficients
	release   float32
	makeup    float32
	env       float32
}

// NewCompressor builds a compressor from a threshold and makeup gain in dB,
// a ratio (4 means 4:1) and attack and release times in ms.
func NewCompressor(sampleRate int, thresholdDB, ratio, attackMs, releaseMs, makeupDB float32) *Compressor {
	return &Compressor{
		threshold: dbToGain(thresholdDB),
		ratio:     max(ratio, 1),
		attack:    smoothing(sampleRate, attackMs),
		release:   smoothing(sampleRate, releaseMs),
		makeup:    dbToGain(makeupDB),
	}
}

// NewLimiter is the master limiter of the synthesizer backends: it holds
// dense passages under full scale before PCM conversion clips them.
func NewLimiter(sampleRate int) *Compressor {
	return NewCompressor(sampleRate, -3, 20, 1, 80, 0)
}

func (c *Compressor) Process(l, r float32) (float32, float32) {
	level := max(abs32(l), abs32(r))
	if level > c.env {
		c.env += c.attack * (level - c.env)
	} else {
		c.env += c.release * (level - c.env)
	}
	g := c.gain() * c.makeup
	return l * g, r * g
}

// gain returns the reduction for the current envelope.
func (c *Compressor) gain() float32 {
	if c.env <= c.threshold || c.threshold <= 0 {
		return 1
	}
	over := float64(c.env / c.threshold)
	return float32(math.Pow(over, float64(1/c.ratio-1)))
}

func (c *Compressor) Reset() { c.env = 0 }

func dbToGain(db float32) float32 {
	return float32(math.Pow(10, float64(db)/20))
}

func smoothing(sampleRate int, ms float32) float32 {
	frames := max(float64(ms)*float64(sampleRate)/1000, 1)
	return float32(1 - math.Exp(-1/frames))
}

func abs32(v float32) float32 {
	return float32(math.Abs(float64(v)))
}
