package animation

import (
	"math"
	"sort"

	"github.com/mogaika/mmd_runtime/morph"
	"github.com/mogaika/mmd_runtime/motion"
	"github.com/mogaika/mmd_runtime/skeleton"
	"github.com/mogaika/mmd_runtime/utils"
)

const (
	DefaultLayerCount = 4
	minLayerWeight    = 0.001
)

type boneBinding struct {
	bone  int
	track *motion.BoneTrack
}

type morphBinding struct {
	morph int
	track *motion.MorphTrack
}

type ikBinding struct {
	bone  int
	track *motion.IKTrack
}

func sortedNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// binding is motion tracks resolved against one model, tracks without target are dropped
type binding struct {
	bones  []boneBinding
	morphs []morphBinding
	iks    []ikBinding
}

func bind(m *motion.Motion, skel *skeleton.Skeleton, morphs *morph.Manager) *binding {
	b := &binding{}
	for _, name := range sortedNames(m.BoneTracks) {
		if i, ok := skel.FindBone(name); ok {
			b.bones = append(b.bones, boneBinding{bone: i, track: m.BoneTracks[name]})
		}
	}
	if morphs != nil {
		for _, name := range sortedNames(m.MorphTracks) {
			if i, ok := morphs.Find(name); ok {
				b.morphs = append(b.morphs, morphBinding{morph: i, track: m.MorphTracks[name]})
			}
		}
	}
	for _, name := range sortedNames(m.IKTracks) {
		if i, ok := skel.FindBone(name); ok {
			if _, isIK := skel.IKSolver(i); isIK {
				b.iks = append(b.iks, ikBinding{bone: i, track: m.IKTracks[name]})
			}
		}
	}
	return b
}

// Manager owns fixed set of layers playing against one skeleton
type Manager struct {
	layers    []*Layer
	skel      *skeleton.Skeleton
	morphs    *morph.Manager
	frameRate float32
}

func NewManager(count int, frameRate float32, skel *skeleton.Skeleton, morphs *morph.Manager) *Manager {
	if count <= 0 {
		count = DefaultLayerCount
	}
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	m := &Manager{
		layers:    make([]*Layer, count),
		skel:      skel,
		morphs:    morphs,
		frameRate: frameRate,
	}
	for i := range m.layers {
		m.layers[i] = newLayer(i)
	}
	return m
}

func (m *Manager) LayerCount() int {
	return len(m.layers)
}

func (m *Manager) Layer(i int) (*Layer, bool) {
	if i < 0 || i >= len(m.layers) {
		return nil, false
	}
	return m.layers[i], true
}

func (m *Manager) with(i int, f func(l *Layer)) bool {
	l, ok := m.Layer(i)
	if ok {
		f(l)
	}
	return ok
}

// SetMotion binds motion to layer, nil clears the slot
func (m *Manager) SetMotion(i int, mot *motion.Motion) bool {
	return m.with(i, func(l *Layer) {
		var b *binding
		if mot != nil {
			b = bind(mot, m.skel, m.morphs)
		}
		l.setMotion(mot, b)
	})
}

func (m *Manager) Play(i int) bool   { return m.with(i, (*Layer).Play) }
func (m *Manager) Pause(i int) bool  { return m.with(i, (*Layer).Pause) }
func (m *Manager) Resume(i int) bool { return m.with(i, (*Layer).Resume) }
func (m *Manager) Stop(i int) bool   { return m.with(i, (*Layer).Stop) }

func (m *Manager) Seek(i int, frame float32) bool {
	return m.with(i, func(l *Layer) { l.Seek(frame) })
}

func (m *Manager) SetWeight(i int, w float32) bool {
	return m.with(i, func(l *Layer) { l.SetWeight(w) })
}

func (m *Manager) SetSpeed(i int, speed float32) bool {
	return m.with(i, func(l *Layer) { l.SetSpeed(speed) })
}

func (m *Manager) SetLoop(i int, loop bool) bool {
	return m.with(i, func(l *Layer) { l.SetLoop(loop) })
}

func (m *Manager) SetFadeTimes(i int, fadeIn, fadeOut float32) bool {
	return m.with(i, func(l *Layer) { l.SetFadeTimes(fadeIn, fadeOut) })
}

func (m *Manager) SetEnabled(i int, enabled bool) bool {
	return m.with(i, func(l *Layer) { l.SetEnabled(enabled) })
}

func (m *Manager) Update(dt float32) {
	for _, l := range m.layers {
		l.Update(dt, m.frameRate)
	}
}

func (m *Manager) StopAll() {
	for _, l := range m.layers {
		l.Stop()
	}
}

func (m *Manager) ResetAll() {
	for _, l := range m.layers {
		l.Reset()
	}
}

func (m *Manager) ActiveCount() int {
	n := 0
	for _, l := range m.layers {
		if l.enabled && l.IsPlaying() {
			n++
		}
	}
	return n
}

// MaxFrame is longest motion bound to any layer
func (m *Manager) MaxFrame() uint32 {
	var max uint32
	for _, l := range m.layers {
		if f := l.MaxFrame(); f > max {
			max = f
		}
	}
	return max
}

type LayerWeight struct {
	Layer  int
	Weight float32
}

// NormalizedWeights lists contributing layers, scaled to sum 1 when their sum exceeds 1
func (m *Manager) NormalizedWeights() []LayerWeight {
	var active []LayerWeight
	var sum float32
	for _, l := range m.layers {
		if !l.enabled || l.motion == nil || l.effectiveWeight <= minLayerWeight {
			continue
		}
		active = append(active, LayerWeight{Layer: l.Index, Weight: l.effectiveWeight})
		sum += l.effectiveWeight
	}
	if sum > 1 {
		for i := range active {
			active[i].Weight /= sum
		}
	}
	return active
}

// Report describes what evaluation wrote
type Report struct {
	Layers int
	Bones  int
	Morphs int
	// bones whose keyframes request physics off this frame
	PhysicsDisabled []int
}

// EvaluateNormalized writes blended pose of every contributing layer into skeleton and morphs
func (m *Manager) EvaluateNormalized() Report {
	var r Report
	for _, lw := range m.NormalizedWeights() {
		l := m.layers[lw.Layer]
		m.evaluate(l, lw.Weight, &r)
		r.Layers++
	}
	return r
}

func splitFrame(frame float32) (uint32, float32) {
	whole := math.Floor(float64(frame))
	return uint32(whole), frame - float32(whole)
}

func (m *Manager) evaluate(l *Layer, weight float32, r *Report) {
	if l.binding == nil {
		return
	}
	frame, amount := splitFrame(l.frame)
	full := weight >= 1-minLayerWeight

	for _, bb := range l.binding.bones {
		bft := bb.track.SeekPrecise(frame, amount)
		b := m.skel.Bone(bb.bone)

		t := bft.MixedTranslation(b.AnimTranslate)
		q := bft.MixedOrientation(b.AnimRotate)
		if !full {
			t = utils.LerpV3(b.AnimTranslate, t, weight)
			q = utils.Slerp(b.AnimRotate, q, weight)
		}
		m.skel.SetBoneTranslation(bb.bone, t)
		m.skel.SetBoneRotation(bb.bone, q)
		r.Bones++

		if full && bft.DisablePhysics && !bft.EnablePhysics {
			r.PhysicsDisabled = append(r.PhysicsDisabled, bb.bone)
		}
	}

	for _, mb := range l.binding.morphs {
		w := mb.track.SeekPrecise(frame, amount)
		if !full {
			cur := m.morphs.Weight(mb.morph)
			w = cur + (w-cur)*weight
		}
		m.morphs.SetWeight(mb.morph, w)
		r.Morphs++
	}

	if full {
		for _, ib := range l.binding.iks {
			m.skel.SetIKEnabled(ib.bone, ib.track.EnabledAt(frame))
		}
	}
}

type LayerSnapshot struct {
	Index           int        `json:"index"`
	Name            string     `json:"name"`
	State           LayerState `json:"state"`
	Enabled         bool       `json:"enabled"`
	HasMotion       bool       `json:"has_motion"`
	Frame           float32    `json:"frame"`
	MaxFrame        uint32     `json:"max_frame"`
	Weight          float32    `json:"weight"`
	EffectiveWeight float32    `json:"effective_weight"`
	Speed           float32    `json:"speed"`
	Loop            bool       `json:"loop"`
	FadeIn          float32    `json:"fade_in"`
	FadeOut         float32    `json:"fade_out"`
	BoundBones      int        `json:"bound_bones"`
	BoundMorphs     int        `json:"bound_morphs"`
}

func (m *Manager) Snapshot() []LayerSnapshot {
	r := make([]LayerSnapshot, len(m.layers))
	for i, l := range m.layers {
		r[i] = LayerSnapshot{
			Index:           l.Index,
			Name:            l.Name,
			State:           l.state,
			Enabled:         l.enabled,
			HasMotion:       l.motion != nil,
			Frame:           l.frame,
			MaxFrame:        l.MaxFrame(),
			Weight:          l.config.Weight,
			EffectiveWeight: l.effectiveWeight,
			Speed:           l.config.Speed,
			Loop:            l.config.Loop,
			FadeIn:          l.config.FadeInTime,
			FadeOut:         l.config.FadeOutTime,
		}
		if l.binding != nil {
			r[i].BoundBones = len(l.binding.bones)
			r[i].BoundMorphs = len(l.binding.morphs)
		}
	}
	return r
}
