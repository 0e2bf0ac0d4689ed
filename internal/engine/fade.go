package engine

import (
	"math"
	"time"
)

// FadeStepInterval is the fade duration covered by one volume step.
const FadeStepInterval = 100 * time.Millisecond

// fadeTickSeconds is the virtual time that must pass between two fade steps.
// It matches FadeStepInterval by convention only.
const fadeTickSeconds = 0.1

const fadeTickEpsilon = 1e-9

type fadeState struct {
	volume     float64
	target     float64
	steps      int
	delta      float64
	lastAdjust float64
}

func (f *fadeState) active() bool { return f.steps > 0 }

// SetVolume sets the master volume in percent and cancels any fade.
func (e *Engine) SetVolume(percent int) {
	e.fade.steps = 0
	e.fade.volume = percentToVolume(percent)
	e.broadcastVolumes()
}

// SetFade ramps the master volume from begin to end percent over d, one step
// per FadeStepInterval of virtual time.
func (e *Engine) SetFade(begin, end int, d time.Duration) {
	e.fade.steps = 0
	steps := int(d / FadeStepInterval)
	if d <= 0 || begin == end || steps <= 0 {
		e.SetVolume(end)
		return
	}
	e.fade.volume = percentToVolume(begin)
	e.fade.target = percentToVolume(end)
	e.fade.steps = steps
	e.fade.delta = (e.fade.target - e.fade.volume) / float64(steps)
	e.fade.lastAdjust = e.virtualTime
	e.broadcastVolumes()
}

// Volume reports the master volume in percent. While a fade runs it reports
// where the fade ends, not the current level.
func (e *Engine) Volume() int {
	if e.fade.active() {
		return int(math.Round(e.fade.target * 100))
	}
	return int(math.Round(e.fade.volume * 100))
}

func (e *Engine) Fading() bool { return e.fade.active() }

// tickFade runs at most one fade step per outer time advance.
func (e *Engine) tickFade() {
	if !e.fade.active() {
		return
	}
	if e.virtualTime-e.fade.lastAdjust < fadeTickSeconds-fadeTickEpsilon {
		return
	}
	e.fade.steps--
	if e.fade.steps == 0 {
		e.fade.volume = e.fade.target
	} else {
		e.fade.volume = max(0, min(e.fade.volume+e.fade.delta, 1))
	}
	e.fade.lastAdjust = e.virtualTime
	e.broadcastVolumes()
}

// Pause mutes every channel without touching the volume state.
func (e *Engine) Pause() {
	e.paused = true
	for ch := uint8(0); ch < numChannels; ch++ {
		e.backend.SendChannelMessage(volumeMessage(ch, 0))
	}
}

// Resume restores the channel volumes muted by Pause.
func (e *Engine) Resume() {
	e.paused = false
	e.broadcastVolumes()
}

func (e *Engine) Paused() bool { return e.paused }

func (e *Engine) broadcastVolumes() {
	for ch := uint8(0); ch < numChannels; ch++ {
		e.backend.SendChannelMessage(volumeMessage(ch, e.scaledVolume(ch)))
	}
}

func percentToVolume(percent int) float64 {
	return float64(max(0, min(percent, 100))) / 100
}
