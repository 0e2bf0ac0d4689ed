package midifeed

import (
	"bytes"
	"encoding/binary"
	"time"

	intengine "github.com/cbegin/midifeed-go/internal/engine"
	intsmf "github.com/cbegin/midifeed-go/internal/smf"
)

// DefaultRenderLimit caps offline rendering when no length is given, so a
// song that holds at its end cannot render forever.
const DefaultRenderLimit = 600.0

type RenderOptions struct {
	// Seconds bounds the output length; 0 means DefaultRenderLimit.
	Seconds float64
	// Loops is the number of times the loop section repeats before the song
	// plays through to its end.
	Loops int
	// FadeOutSeconds fades the final pass out over its last seconds when
	// the output is cut by Seconds.
	FadeOutSeconds float64
}

// Render plays a Standard MIDI File through backend without an audio device
// and returns up to seconds of PCM in the backend's format. Rendering stops
// early when the song ends.
func Render(data []byte, backend Backend, seconds float64) ([]byte, error) {
	return RenderWithOptions(data, backend, RenderOptions{Seconds: seconds})
}

func RenderWithOptions(data []byte, backend Backend, opts RenderOptions) ([]byte, error) {
	limit := opts.Seconds
	if limit <= 0 {
		limit = DefaultRenderLimit
	}
	loops := 0
	var eng *intengine.Engine
	eng = intengine.NewWithOptions(intsmf.New(), backend, intengine.Options{
		Looping: opts.Loops > 0,
		OnEvent: func(kind intengine.EventKind) {
			if kind != intengine.EventLooped {
				return
			}
			loops++
			if loops >= opts.Loops {
				eng.SetLooping(false)
			}
		},
	})
	if err := eng.Open(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	defer eng.Close()

	format := eng.Format()
	bpf := format.BytesPerFrame()
	totalFrames := int(limit * float64(format.SampleRate))
	fadeStart := -1
	if opts.FadeOutSeconds > 0 && opts.Seconds > 0 {
		fadeStart = max(totalFrames-int(opts.FadeOutSeconds*float64(format.SampleRate)), 0)
	}

	// 10 ms chunks keep fade steps on their 100 ms grid.
	chunkFrames := max(format.SampleRate/100, 1)
	chunk := make([]byte, chunkFrames*bpf)
	var out bytes.Buffer
	faded := false
	for done := 0; done < totalFrames; {
		if fadeStart >= 0 && !faded && done >= fadeStart {
			eng.SetFade(eng.Volume(), 0, time.Duration(opts.FadeOutSeconds*float64(time.Second)))
			faded = true
		}
		frames := min(chunkFrames, totalFrames-done)
		if fadeStart > done {
			frames = min(frames, fadeStart-done)
		}
		n := eng.FillBuffer(chunk[:frames*bpf])
		out.Write(chunk[:n])
		done += n / bpf
		if n < frames*bpf {
			break
		}
		if opts.Seconds <= 0 && eng.LoopsHeldAtEnd() && eng.VirtualTime() >= eng.TotalDuration() {
			break
		}
	}
	return out.Bytes(), nil
}

// EncodeWAV wraps interleaved PCM in a RIFF/WAVE container: integer PCM for
// 16-bit samples, IEEE float for 32-bit.
func EncodeWAV(pcm []byte, f Format) []byte {
	dataSize := len(pcm)
	sampleSize := f.Sample.Size()
	byteRate := f.SampleRate * f.Channels * sampleSize
	blockAlign := f.Channels * sampleSize
	var tag uint16 = 1
	if f.Sample == FormatF32 {
		tag = 3
	}
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(36+dataSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], tag)
	binary.LittleEndian.PutUint16(out[22:], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], uint16(sampleSize*8))
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	copy(out[44:], pcm)
	return out
}
