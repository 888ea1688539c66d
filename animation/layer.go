package animation

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/mogaika/mmd_runtime/motion"
)

const DefaultFrameRate = 30

type LayerState int

const (
	Stopped LayerState = iota
	Playing
	Paused
	FadingIn
	FadingOut
)

func (s LayerState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case FadingIn:
		return "fading_in"
	case FadingOut:
		return "fading_out"
	default:
		return fmt.Sprintf("LayerState(%d)", int(s))
	}
}

func (s LayerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *LayerState) UnmarshalText(text []byte) error {
	for st := Stopped; st <= FadingOut; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return errors.Errorf("Unknown layer state %q", text)
}

type LayerConfig struct {
	Weight      float32
	Speed       float32
	Loop        bool
	FadeInTime  float32
	FadeOutTime float32
}

func DefaultLayerConfig() LayerConfig {
	return LayerConfig{Weight: 1, Speed: 1, Loop: true}
}

// Layer is one playback cursor over shared motion
type Layer struct {
	Index int
	Name  string

	motion  *motion.Motion
	binding *binding

	frame           float32
	state           LayerState
	config          LayerConfig
	effectiveWeight float32
	fadeProgress    float32
	enabled         bool
}

func newLayer(index int) *Layer {
	return &Layer{
		Index:   index,
		Name:    fmt.Sprintf("Layer_%d", index),
		config:  DefaultLayerConfig(),
		enabled: true,
	}
}

func (l *Layer) Motion() *motion.Motion {
	return l.motion
}

func (l *Layer) setMotion(m *motion.Motion, b *binding) {
	l.motion = m
	l.binding = b
	l.frame = 0
	l.state = Stopped
	l.effectiveWeight = 0
	l.fadeProgress = 0
}

func (l *Layer) Play() {
	if l.motion == nil {
		return
	}
	if l.config.FadeInTime > 0 {
		l.state = FadingIn
		l.fadeProgress = 0
		l.effectiveWeight = 0
	} else {
		l.state = Playing
		l.fadeProgress = 1
		l.effectiveWeight = l.config.Weight
	}
}

func (l *Layer) Pause() {
	if l.state == Playing || l.state == FadingIn {
		l.state = Paused
	}
}

func (l *Layer) Resume() {
	if l.state == Paused {
		l.state = Playing
	}
}

func (l *Layer) Stop() {
	if l.config.FadeOutTime > 0 && l.effectiveWeight > 0 {
		l.state = FadingOut
		l.fadeProgress = 1
	} else {
		l.state = Stopped
		l.effectiveWeight = 0
		l.frame = 0
	}
}

func (l *Layer) Reset() {
	l.frame = 0
	l.state = Stopped
	l.effectiveWeight = 0
	l.fadeProgress = 0
}

func (l *Layer) Seek(frame float32) {
	if frame < 0 {
		frame = 0
	}
	l.frame = frame
}

func (l *Layer) SetWeight(w float32) {
	if w < 0 {
		w = 0
	} else if w > 1 {
		w = 1
	}
	l.config.Weight = w
	if l.state != FadingIn && l.state != FadingOut {
		l.effectiveWeight = w
	}
}

func (l *Layer) SetSpeed(speed float32) {
	if speed < 0 {
		speed = 0
	}
	l.config.Speed = speed
}

func (l *Layer) SetLoop(loop bool) {
	l.config.Loop = loop
}

func (l *Layer) SetFadeTimes(fadeIn, fadeOut float32) {
	l.config.FadeInTime = float32(math.Max(0, float64(fadeIn)))
	l.config.FadeOutTime = float32(math.Max(0, float64(fadeOut)))
}

func (l *Layer) SetEnabled(enabled bool) {
	l.enabled = enabled
}

func (l *Layer) Enabled() bool            { return l.enabled }
func (l *Layer) State() LayerState        { return l.state }
func (l *Layer) Frame() float32           { return l.frame }
func (l *Layer) Weight() float32          { return l.config.Weight }
func (l *Layer) EffectiveWeight() float32 { return l.effectiveWeight }
func (l *Layer) Config() LayerConfig      { return l.config }

func (l *Layer) IsPlaying() bool {
	return l.state == Playing || l.state == FadingIn
}

func (l *Layer) MaxFrame() uint32 {
	if l.motion == nil {
		return 0
	}
	return l.motion.Duration()
}

// Update advances layer by dt seconds, returns false when nothing moved
func (l *Layer) Update(dt float32, frameRate float32) bool {
	if !l.enabled || l.motion == nil {
		return false
	}
	dt *= l.config.Speed

	switch l.state {
	case Playing:
		l.advance(dt, frameRate)
	case FadingIn:
		l.fadeIn(dt)
		l.advance(dt, frameRate)
	case FadingOut:
		l.fadeOut(dt)
		if l.state == FadingOut {
			l.advance(dt, frameRate)
		}
	case Paused:
	default:
		return false
	}
	return true
}

func (l *Layer) advance(dt float32, frameRate float32) {
	max := float32(l.MaxFrame())
	if max <= 0 {
		return
	}
	l.frame += dt * frameRate
	if l.frame > max {
		if l.config.Loop {
			l.frame = float32(math.Mod(float64(l.frame), float64(max)))
		} else {
			l.frame = max
			l.state = Stopped
		}
	}
}

func (l *Layer) fadeIn(dt float32) {
	if l.config.FadeInTime > 0 {
		l.fadeProgress += dt / l.config.FadeInTime
	} else {
		l.fadeProgress = 1
	}
	if l.fadeProgress >= 1 {
		l.fadeProgress = 1
		l.state = Playing
	}
	l.effectiveWeight = l.config.Weight * l.fadeProgress
}

func (l *Layer) fadeOut(dt float32) {
	if l.config.FadeOutTime > 0 {
		l.fadeProgress -= dt / l.config.FadeOutTime
	} else {
		l.fadeProgress = 0
	}
	if l.fadeProgress <= 0 {
		l.fadeProgress = 0
		l.state = Stopped
		l.frame = 0
	}
	l.effectiveWeight = l.config.Weight * l.fadeProgress
}
