package model

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/mmd_runtime/utils"
)

const (
	minBlinkInterval = 0.5
	minBlinkDuration = 0.05
	maxBlinkDuration = 0.5
)

// blinker drives blink morph 0 -> 1 -> 0 over duration, waits randomized interval between blinks
type blinker struct {
	enabled  bool
	morph    int
	interval float32
	duration float32

	timer    float32
	phase    float32
	blinking bool

	rand *rand.Rand
}

func (b *blinker) init(interval, duration float32, r *rand.Rand) {
	b.rand = r
	b.morph = -1
	b.setParams(interval, duration)
}

func (b *blinker) setParams(interval, duration float32) {
	if interval < minBlinkInterval {
		interval = minBlinkInterval
	}
	b.interval = interval
	b.duration = mgl32.Clamp(duration, minBlinkDuration, maxBlinkDuration)
}

func (b *blinker) setEnabled(enabled bool) {
	b.enabled = enabled
	if enabled {
		// random start, so models spawned together do not blink in sync
		b.timer = b.rand.Float32() * b.interval
		b.blinking = false
		b.phase = 0
	}
}

// update returns weight to write into blink morph, ok is false when morph is untouched
func (b *blinker) update(dt float32) (weight float32, ok bool) {
	if !b.enabled || b.morph < 0 {
		return 0, false
	}
	if !b.blinking {
		b.timer -= dt
		if b.timer <= 0 {
			b.blinking = true
			b.phase = 0
		}
		return 0, false
	}

	b.phase += dt / b.duration
	if b.phase >= 1 {
		b.blinking = false
		b.phase = 0
		b.timer = b.interval * (0.7 + b.rand.Float32()*0.6)
		return 0, true
	}
	return float32(math.Sin(float64(b.phase) * math.Pi)), true
}

func (m *Model) updateBlink(dt float32) {
	if w, ok := m.blink.update(dt); ok {
		m.morphs.SetWeight(m.blink.morph, w)
	}
}

func (m *Model) applyHeadRotation() {
	if m.headBone >= 0 {
		m.skel.AddBoneRotation(m.headBone, utils.EulerXYZToQuat(m.headAngle))
	}
	if !m.eyeTracking {
		return
	}
	rot := utils.EulerXYZToQuat(mgl32.Vec3{m.eyeAngle[0], m.eyeAngle[1], 0})
	for _, bone := range m.eyeBones {
		if bone >= 0 {
			m.skel.AddBoneRotation(bone, rot)
		}
	}
}

// SetHeadAngle adds euler XYZ rotation in radians to head bone every tick
func (m *Model) SetHeadAngle(x, y, z float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headAngle = mgl32.Vec3{x, y, z}
}

func (m *Model) HeadAngle() mgl32.Vec3 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headAngle
}

func (m *Model) HasHeadBone() bool {
	return m.headBone >= 0
}

func (m *Model) SetEyeTrackingEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eyeTracking = enabled
}

func (m *Model) EyeTrackingEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eyeTracking
}

// SetEyeAngle is clamped by eye max angle
func (m *Model) SetEyeAngle(x, y float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eyeAngle = mgl32.Vec2{
		mgl32.Clamp(x, -m.eyeMaxAngle, m.eyeMaxAngle),
		mgl32.Clamp(y, -m.eyeMaxAngle, m.eyeMaxAngle),
	}
}

func (m *Model) EyeAngle() mgl32.Vec2 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eyeAngle
}

// SetEyeMaxAngle limits eye rotation, clamped into [0.1, 1] radians
func (m *Model) SetEyeMaxAngle(max float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eyeMaxAngle = mgl32.Clamp(max, 0.1, 1)
}

func (m *Model) EyeMaxAngle() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eyeMaxAngle
}

func (m *Model) SetAutoBlinkEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blink.setEnabled(enabled)
}

func (m *Model) AutoBlinkEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blink.enabled
}

// SetBlinkParams sets interval (at least 0.5s) and duration (0.05s to 0.5s) of auto blink
func (m *Model) SetBlinkParams(interval, duration float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blink.setParams(interval, duration)
}

func (m *Model) BlinkParams() (interval, duration float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blink.interval, m.blink.duration
}

// HasBlinkMorph reports whether auto blink has a morph to drive
func (m *Model) HasBlinkMorph() bool {
	return m.blink.morph >= 0
}
