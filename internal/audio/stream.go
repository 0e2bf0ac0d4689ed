// Package audio plays engine output through the ebiten audio context.
package audio

import (
	"fmt"
	"io"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"

	"github.com/cbegin/midifeed-go/internal/engine"
)

// Source renders interleaved PCM in the player's format.
type Source interface {
	FillBuffer(p []byte) int
}

// FinishingSource is a Source that can signal when playback has ended.
// When Finished returns true, the stream returns io.EOF.
type FinishingSource interface {
	Source
	Finished() bool
}

// StreamReader adapts a Source to io.Reader. Reads run under lock, which the
// caller shares with every other goroutine touching the source.
type StreamReader struct {
	lock      sync.Locker
	source    Source
	frameSize int
}

func NewStreamReader(source Source, format engine.Format, lock sync.Locker) *StreamReader {
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &StreamReader{lock: lock, source: source, frameSize: format.BytesPerFrame()}
}

// Read fills whole frames only. A source that falls short without finishing
// is padded with silence so the device never starves.
func (r *StreamReader) Read(p []byte) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	frames := len(p) / r.frameSize
	if frames == 0 {
		return 0, nil
	}
	p = p[:frames*r.frameSize]
	n := r.source.FillBuffer(p)
	if fs, ok := r.source.(FinishingSource); ok && fs.Finished() {
		return n, io.EOF
	}
	if n < len(p) {
		clear(p[n:])
	}
	return len(p), nil
}

func (r *StreamReader) Close() error { return nil }

type Player struct {
	player *ebitaudio.Player
	reader io.ReadCloser
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// NewPlayer creates a paused player pulling from source. ebiten only plays
// stereo, as signed 16-bit or 32-bit float.
func NewPlayer(format engine.Format, source Source, lock sync.Locker) (*Player, error) {
	if format.Channels != 2 {
		return nil, fmt.Errorf("audio output needs 2 channels, got %d", format.Channels)
	}
	ctx, err := sharedAudioContext(format.SampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source, format, lock)
	var pl *ebitaudio.Player
	switch format.Sample {
	case engine.FormatF32:
		pl, err = ctx.NewPlayerF32(reader)
	default:
		pl, err = ctx.NewPlayer(reader)
	}
	if err != nil {
		return nil, err
	}
	pl.SetBufferSize(50 * time.Millisecond)
	return &Player{
		player: pl,
		reader: reader,
	}, nil
}

func (p *Player) Play()  { p.player.Play() }
func (p *Player) Pause() { p.player.Pause() }
func (p *Player) IsPlaying() bool {
	return p.player.IsPlaying()
}

// Position returns the current playback position (what the listener actually hears).
func (p *Player) Position() time.Duration {
	return p.player.Position()
}

func (p *Player) Stop() error {
	p.player.Pause()
	p.player.Close()
	return p.reader.Close()
}
