package midifeed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	intaudio "github.com/cbegin/midifeed-go/internal/audio"
	"github.com/cbegin/midifeed-go/internal/debug"
	intengine "github.com/cbegin/midifeed-go/internal/engine"
	intsmf "github.com/cbegin/midifeed-go/internal/smf"
	intsynth "github.com/cbegin/midifeed-go/internal/synth"
)

// Backend renders MIDI messages. Custom implementations can be passed to
// WithCustomBackend and Render.
type Backend = intengine.Backend

type Format = intengine.Format

const (
	FormatS16 = intengine.FormatS16
	FormatF32 = intengine.FormatF32
)

var (
	ErrLoad    = intengine.ErrLoad
	ErrNotOpen = intengine.ErrNotOpen
)

// PlaybackEvent carries playback events from Watch().
type PlaybackEvent struct {
	Kind int // EventLoopCompleted or EventPlaybackEnded
	Loop int // loops completed so far
}

const (
	EventLoopCompleted int = iota
	EventPlaybackEnded
)

type BackendKind string

const (
	BackendFM        BackendKind = "fm"
	BackendSoundFont BackendKind = "soundfont"
	BackendPort      BackendKind = "port"
)

// Position is the playback position of the current song.
type Position struct {
	Ticks   int
	Seconds float64
}

type PlayerOption func(*playerConfig)

type playerConfig struct {
	kind         BackendKind
	soundFont    string
	port         string
	sampleRate   int
	loopPlayback bool
	custom       Backend
	realTime     bool
	tick         time.Duration
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		kind:         BackendFM,
		sampleRate:   intengine.DefaultSampleRate,
		loopPlayback: true,
		tick:         5 * time.Millisecond,
	}
}

func WithBackend(kind BackendKind) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.kind = kind
	}
}

// WithSoundFont selects the SoundFont backend with the .sf2 file at path.
func WithSoundFont(path string) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.kind = BackendSoundFont
		cfg.soundFont = path
	}
}

// WithPort selects the MIDI output backend. The first output whose name
// contains name is used; an empty name picks the first output. A MIDI driver
// must be registered by the program, e.g. by importing rtmididrv.
func WithPort(name string) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.kind = BackendPort
		cfg.port = name
	}
}

func WithSampleRate(rate int) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleRate = rate
	}
}

func WithLoopPlayback(enabled bool) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.loopPlayback = enabled
	}
}

// WithCustomBackend plays through b. When realTime is set the player drives
// the song from a wall-clock ticker instead of an audio device, the way a
// MIDI port is driven.
func WithCustomBackend(b Backend, realTime bool) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.custom = b
		cfg.realTime = realTime
	}
}

// Player plays Standard MIDI Files. All methods are safe for concurrent use.
type Player struct {
	mu           sync.Mutex
	cfg          playerConfig
	backend      Backend
	engine       *intengine.Engine
	walker       *intsmf.Walker
	audio        output
	openOutput   func(Format, intaudio.Source, sync.Locker) (output, error)
	cancelClock  context.CancelFunc
	clockStopped chan struct{}
	loops        int
	done         chan struct{}
	eventCh      chan PlaybackEvent
	eventChMu    sync.Mutex
}

// output is the audio device a rendered song plays through.
type output interface {
	Play()
	Pause()
	IsPlaying() bool
	Stop() error
}

func openAudioOutput(format Format, source intaudio.Source, lock sync.Locker) (output, error) {
	out, err := intaudio.NewPlayer(format, source, lock)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// engineSource feeds the audio stream. The stream reader holds Player.mu
// around every call.
type engineSource struct {
	engine *intengine.Engine
}

func (s engineSource) FillBuffer(p []byte) int { return s.engine.FillBuffer(p) }
func (s engineSource) Finished() bool          { return s.engine.IsFinished() && !s.engine.Looping() }

func NewPlayer(opts ...PlayerOption) (*Player, error) {
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	backend, err := newBackend(&cfg)
	if err != nil {
		return nil, err
	}
	p := &Player{
		cfg:        cfg,
		backend:    backend,
		walker:     intsmf.New(),
		openOutput: openAudioOutput,
	}
	p.engine = intengine.NewWithOptions(p.walker, backend, intengine.Options{
		Looping: cfg.loopPlayback,
		OnEvent: p.onEngineEvent,
	})
	return p, nil
}

func newBackend(cfg *playerConfig) (Backend, error) {
	if cfg.custom != nil {
		return cfg.custom, nil
	}
	format := intengine.Format{SampleRate: cfg.sampleRate, Sample: intengine.FormatS16, Channels: 2}
	switch cfg.kind {
	case BackendFM:
		return NewFMBackend(format), nil
	case BackendSoundFont:
		return NewSoundFontBackend(cfg.soundFont, format)
	case BackendPort:
		cfg.realTime = true
		return intsynth.OpenPort(cfg.port)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.kind)
	}
}

// NewFMBackend returns the built-in FM synthesizer.
func NewFMBackend(format Format) Backend {
	return intsynth.NewFM(format, intsynth.DefaultFMParams())
}

// NewSoundFontBackend loads the .sf2 file at path.
func NewSoundFontBackend(path string, format Format) (Backend, error) {
	if path == "" {
		return nil, errors.New("soundfont backend needs an .sf2 path")
	}
	font, err := intsynth.LoadSoundFontFile(path)
	if err != nil {
		return nil, err
	}
	return intsynth.NewSoundFont(font, format)
}

// onEngineEvent runs inside FillBuffer or UpdateRealTime, with p.mu held.
func (p *Player) onEngineEvent(kind intengine.EventKind) {
	switch kind {
	case intengine.EventLooped:
		p.loops++
		p.sendEvent(PlaybackEvent{Kind: EventLoopCompleted, Loop: p.loops})
	case intengine.EventEnded:
		p.sendEvent(PlaybackEvent{Kind: EventPlaybackEnded, Loop: p.loops})
		if p.done != nil {
			close(p.done)
			p.done = nil
		}
	}
}

func (p *Player) PlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return p.Play(data)
}

// Play replaces the current song with the Standard MIDI File in data.
func (p *Player) Play(data []byte) error {
	p.stopOutput()

	out, err := p.start(data)
	if err != nil {
		return err
	}
	// The device pulls samples under p.mu, so it must start unlocked.
	if out != nil {
		out.Play()
	}
	return nil
}

// start opens the song and its clock or audio output. A rendered song's
// output is returned for the caller to start.
func (p *Player) start(data []byte) (output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Signal any existing Wait() that the previous playback was replaced
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	if err := p.engine.Open(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	p.loops = 0
	p.done = make(chan struct{})
	debug.Log("player", "playing %d bytes, length %.3fs", len(data), p.engine.TotalDuration())

	if p.cfg.realTime {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancelClock = cancel
		p.clockStopped = make(chan struct{})
		go p.runClock(ctx, p.clockStopped)
		return nil, nil
	}
	out, err := p.openOutput(p.backend.Format(), engineSource{p.engine}, &p.mu)
	if err != nil {
		p.engine.Close()
		return nil, err
	}
	p.audio = out
	return out, nil
}

// runClock advances a device-rendered song by wall-clock time.
func (p *Player) runClock(ctx context.Context, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(p.cfg.tick)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.mu.Lock()
			p.engine.UpdateRealTime(now.Sub(last))
			p.mu.Unlock()
			last = now
		}
	}
}

// stopOutput stops the audio device or clock. It must be called without
// p.mu held, since the audio device reads under that lock.
func (p *Player) stopOutput() {
	p.mu.Lock()
	out := p.audio
	p.audio = nil
	cancel, stopped := p.cancelClock, p.clockStopped
	p.cancelClock, p.clockStopped = nil, nil
	p.mu.Unlock()

	if out != nil {
		_ = out.Stop()
	}
	if cancel != nil {
		cancel()
		<-stopped
	}
}

func (p *Player) sendEvent(ev PlaybackEvent) {
	p.eventChMu.Lock()
	ch := p.eventCh
	p.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full or closed; drop event
		}
	}
}

// Pause mutes the song. Device-rendered songs also stop advancing.
func (p *Player) Pause() {
	p.mu.Lock()
	p.engine.Pause()
	out := p.audio
	p.mu.Unlock()
	if out != nil {
		out.Pause()
	}
}

func (p *Player) Resume() {
	p.mu.Lock()
	p.engine.Resume()
	out := p.audio
	p.mu.Unlock()
	if out != nil {
		out.Play()
	}
}

func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Paused()
}

func (p *Player) Stop() error {
	p.stopOutput()
	p.mu.Lock()
	wasLoaded := p.engine.Loaded()
	p.engine.Close()
	done := p.done
	p.done = nil
	loops := p.loops
	p.mu.Unlock()
	if wasLoaded {
		p.sendEvent(PlaybackEvent{Kind: EventPlaybackEnded, Loop: loops})
	}
	if done != nil {
		close(done)
	}
	return nil
}

// Close stops playback and releases the backend's device, if any.
func (p *Player) Close() error {
	if err := p.Stop(); err != nil {
		return err
	}
	if c, ok := p.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Wait blocks until the current playback ends. When loop playback is enabled,
// Wait blocks indefinitely (use Watch for loop-counting instead).
// Wait returns immediately if no playback is active or if it was stopped.
func (p *Player) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Watch returns a channel that receives playback events. Events are sent when:
//   - EventLoopCompleted: the song jumped back to its loop point
//   - EventPlaybackEnded: playback finished (when not looping) or was stopped
//
// The channel is buffered (cap 8); receive in a goroutine to avoid dropping events.
// Only the most recent Watch() channel receives events; call Watch before Play.
func (p *Player) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 8)
	p.eventChMu.Lock()
	p.eventCh = ch
	p.eventChMu.Unlock()
	return ch
}

// SetVolume sets the master volume in percent (0-100) and cancels a fade.
func (p *Player) SetVolume(percent int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engine.SetVolume(percent)
}

// Volume returns the master volume in percent; during a fade, its target.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Volume()
}

// Fade ramps the volume from begin to end percent over d.
func (p *Player) Fade(begin, end int, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engine.SetFade(begin, end, d)
}

// Restart jumps to the song's loop point. A song that already ended starts
// playing again.
func (p *Player) Restart() error {
	p.mu.Lock()
	if !p.engine.SeekToLoopStart() {
		p.mu.Unlock()
		return ErrNotOpen
	}
	if p.done == nil {
		p.done = make(chan struct{})
	}
	out := p.audio
	resume := !p.engine.Paused()
	p.mu.Unlock()
	if out != nil && resume && !out.IsPlaying() {
		out.Play()
	}
	return nil
}

// SetPitch sets the playback speed in percent of normal.
func (p *Player) SetPitch(percent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.engine.SetPitch(percent) {
		return fmt.Errorf("invalid pitch %d%%", percent)
	}
	return nil
}

func (p *Player) Pitch() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Pitch()
}

// SetLooping changes loop playback for the current and following songs.
func (p *Player) SetLooping(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.loopPlayback = enabled
	p.engine.SetLooping(enabled)
}

func (p *Player) Position() Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Position{Ticks: p.engine.Ticks(), Seconds: p.engine.VirtualTime()}
}

// Duration returns the length of the current song and its loop point.
func (p *Player) Duration() (total, loopStart float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.engine.Loaded() {
		return 0, 0
	}
	return p.engine.TotalDuration(), p.walker.LoopPoint()
}

// Finished reports whether the song has ended. A song whose loop point is
// its very end never finishes.
func (p *Player) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.IsFinished()
}

func (p *Player) Loops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loops
}

func (p *Player) Format() Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Format()
}

// PortNames lists the MIDI outputs of the registered driver.
func PortNames() []string {
	return intsynth.PortNames()
}
