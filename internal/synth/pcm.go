package synth

import (
	"encoding/binary"
	"math"

	"github.com/cbegin/midifeed-go/internal/engine"
)

const (
	minSampleRate = 8000
	maxSampleRate = 192000
)

// validFormat reports whether a sample backend can render f.
func validFormat(f engine.Format) bool {
	if f.SampleRate < minSampleRate || f.SampleRate > maxSampleRate {
		return false
	}
	if f.Channels != 1 && f.Channels != 2 {
		return false
	}
	return f.Sample == engine.FormatS16 || f.Sample == engine.FormatF32
}

// encodeFrames writes the stereo frames into buf in format f and returns the
// number of bytes written. Mono output is the average of both sides.
func encodeFrames(buf []byte, left, right []float32, f engine.Format) int {
	off := 0
	for i := range left {
		l, r := left[i], right[i]
		if f.Channels == 1 {
			l = (l + r) * 0.5
			off += putSample(buf[off:], l, f.Sample)
			continue
		}
		off += putSample(buf[off:], l, f.Sample)
		off += putSample(buf[off:], r, f.Sample)
	}
	return off
}

func putSample(b []byte, v float32, sf engine.SampleFormat) int {
	v = max(-1, min(v, 1))
	if sf == engine.FormatF32 {
		binary.LittleEndian.PutUint32(b, math.Float32bits(v))
		return 4
	}
	binary.LittleEndian.PutUint16(b, uint16(int16(math.Round(float64(v)*32767))))
	return 2
}

// frameBuffers grows the scratch buffers to hold n frames.
func frameBuffers(left, right []float32, n int) ([]float32, []float32) {
	if cap(left) < n {
		left = make([]float32, n)
		right = make([]float32, n)
	}
	return left[:n], right[:n]
}
