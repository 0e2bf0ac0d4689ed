package midifeed

import (
	"errors"
	"sync"
	"testing"
	"time"

	intaudio "github.com/cbegin/midifeed-go/internal/audio"
	intengine "github.com/cbegin/midifeed-go/internal/engine"
)

// deviceBackend stands in for a MIDI port: it records messages and renders
// nothing.
type deviceBackend struct {
	mu     sync.Mutex
	msgs   []uint32
	resets int
}

func (b *deviceBackend) SendChannelMessage(msg uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *deviceBackend) SendSysEx([]byte) {}

func (b *deviceBackend) SendReset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets++
}

func (b *deviceBackend) FillSamples(buf []byte) int {
	clear(buf)
	return len(buf)
}

func (b *deviceBackend) Format() Format        { return intengine.DefaultFormat() }
func (b *deviceBackend) SetFormat(Format) bool { return false }

func (b *deviceBackend) count(match func(uint32) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.msgs {
		if match(m) {
			n++
		}
	}
	return n
}

func newDevicePlayer(t *testing.T, opts ...PlayerOption) (*Player, *deviceBackend) {
	t.Helper()
	dev := &deviceBackend{}
	pl, err := NewPlayer(append([]PlayerOption{WithCustomBackend(dev, true)}, opts...)...)
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	t.Cleanup(func() { _ = pl.Close() })
	return pl, dev
}

func waitEvent(t *testing.T, ch <-chan PlaybackEvent, kind int) PlaybackEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event %d", kind)
		}
	}
}

func TestNewPlayerRejectsBadOptions(t *testing.T) {
	if _, err := NewPlayer(WithBackend("opl3")); err == nil {
		t.Fatalf("unknown backend accepted")
	}
	if _, err := NewPlayer(WithSampleRate(0)); err == nil {
		t.Fatalf("zero sample rate accepted")
	}
	if _, err := NewPlayer(WithSoundFont("")); err == nil {
		t.Fatalf("soundfont backend without a file accepted")
	}
}

func TestPlayerRejectsInvalidFile(t *testing.T) {
	pl, _ := newDevicePlayer(t)
	err := pl.Play([]byte("this is not a midi file"))
	if !errors.Is(err, ErrLoad) {
		t.Fatalf("Play err = %v, want ErrLoad", err)
	}
	if !pl.Finished() {
		t.Fatalf("player without a song should report finished")
	}
	if err := pl.Restart(); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("Restart err = %v, want ErrNotOpen", err)
	}
	pl.Wait()
}

func TestPlayerPlaysToEndInRealTime(t *testing.T) {
	pl, dev := newDevicePlayer(t, WithLoopPlayback(false))
	events := pl.Watch()
	if err := pl.Play(testSong(t, songTicks/5, -1)); err != nil {
		t.Fatalf("play: %v", err)
	}
	waitEvent(t, events, EventPlaybackEnded)
	pl.Wait()
	if !pl.Finished() {
		t.Fatalf("player not finished after the end event")
	}
	noteOns := dev.count(func(m uint32) bool { return intengine.MessageType(m) == intengine.EventNoteOn })
	if noteOns != 1 {
		t.Fatalf("device received %d note-ons, want 1", noteOns)
	}
	if pos := pl.Position(); pos.Seconds < 0.09 || pos.Ticks < songTicks/5-2 {
		t.Fatalf("position after end = %+v", pos)
	}
}

func TestPlayerCountsLoops(t *testing.T) {
	pl, _ := newDevicePlayer(t)
	events := pl.Watch()
	if err := pl.Play(testSong(t, songTicks/10, 0)); err != nil {
		t.Fatalf("play: %v", err)
	}
	first := waitEvent(t, events, EventLoopCompleted)
	second := waitEvent(t, events, EventLoopCompleted)
	if first.Loop != 1 || second.Loop != 2 {
		t.Fatalf("loop counts = %d, %d; want 1, 2", first.Loop, second.Loop)
	}
	if pl.Finished() {
		t.Fatalf("looping song reported finished")
	}
	if err := pl.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitEvent(t, events, EventPlaybackEnded)
	pl.Wait()
}

func TestPlayerVolumePitchAndFade(t *testing.T) {
	pl, dev := newDevicePlayer(t)
	if err := pl.Play(testSong(t, songTicks*8, -1)); err != nil {
		t.Fatalf("play: %v", err)
	}
	pl.SetVolume(50)
	if pl.Volume() != 50 {
		t.Fatalf("Volume() = %d, want 50", pl.Volume())
	}
	halved := dev.count(func(m uint32) bool {
		return intengine.MessageValue1(m) == intengine.ControlVolume && intengine.MessageValue2(m) == 64
	})
	if halved != 16 {
		t.Fatalf("volume messages at 64 = %d, want 16", halved)
	}

	pl.Fade(0, 100, time.Second)
	if pl.Volume() != 100 {
		t.Fatalf("Volume() during fade = %d, want the target 100", pl.Volume())
	}

	if err := pl.SetPitch(0); err == nil {
		t.Fatalf("zero pitch accepted")
	}
	if err := pl.SetPitch(150); err != nil || pl.Pitch() != 150 {
		t.Fatalf("SetPitch(150) = %v, pitch %d", err, pl.Pitch())
	}

	pl.Pause()
	if !pl.Paused() {
		t.Fatalf("Paused() = false after Pause")
	}
	pos := pl.Position()
	time.Sleep(30 * time.Millisecond)
	if pl.Position() != pos {
		t.Fatalf("position moved while paused")
	}
	pl.Resume()
	if pl.Paused() {
		t.Fatalf("Paused() = true after Resume")
	}
}

func TestPlayerRestartRewindsToLoopPoint(t *testing.T) {
	pl, _ := newDevicePlayer(t, WithLoopPlayback(false))
	if err := pl.Play(testSong(t, songTicks*2, songTicks)); err != nil {
		t.Fatalf("play: %v", err)
	}
	total, loopStart := pl.Duration()
	if total < 0.99 || total > 1.01 || loopStart < 0.49 || loopStart > 0.51 {
		t.Fatalf("Duration() = %v, %v; want 1.0, 0.5", total, loopStart)
	}
	pl.Wait()
	if err := pl.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if pos := pl.Position(); pos.Seconds < 0.49 || pos.Seconds > 0.9 {
		t.Fatalf("position after restart = %v, want near the loop point", pos.Seconds)
	}
	if pl.Finished() {
		t.Fatalf("restarted song still finished")
	}
}

// pullingOutput reads from the stream inside Play, the way a device may
// fill its first buffer on the calling goroutine.
type pullingOutput struct {
	reader *intaudio.StreamReader

	mu      sync.Mutex
	pulled  int
	playing bool
}

func (o *pullingOutput) Play() {
	buf := make([]byte, 1024)
	n, _ := o.reader.Read(buf)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pulled += n
	o.playing = true
}

func (o *pullingOutput) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.playing = false
}

func (o *pullingOutput) IsPlaying() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.playing
}

func (o *pullingOutput) Stop() error { return nil }

func (o *pullingOutput) bytesPulled() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pulled
}

func TestPlayerStartsOutputWithoutHoldingLock(t *testing.T) {
	pl, err := NewPlayer(WithCustomBackend(&deviceBackend{}, false), WithLoopPlayback(false))
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	var out *pullingOutput
	pl.openOutput = func(f Format, src intaudio.Source, lock sync.Locker) (output, error) {
		out = &pullingOutput{reader: intaudio.NewStreamReader(src, f, lock)}
		return out, nil
	}
	song := testSong(t, songTicks*4, -1)

	played := make(chan error, 1)
	go func() { played <- pl.Play(song) }()
	select {
	case err := <-played:
		if err != nil {
			t.Fatalf("play: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Play blocked while the output pulled samples")
	}
	if out.bytesPulled() != 1024 {
		t.Fatalf("output pulled %d bytes on start, want 1024", out.bytesPulled())
	}

	resumed := make(chan struct{})
	go func() {
		pl.Pause()
		pl.Resume()
		close(resumed)
	}()
	select {
	case <-resumed:
	case <-time.After(2 * time.Second):
		t.Fatalf("Resume blocked while the output pulled samples")
	}
	if out.bytesPulled() != 2048 {
		t.Fatalf("output pulled %d bytes after resume, want 2048", out.bytesPulled())
	}
	if err := pl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
