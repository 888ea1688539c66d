package model

import (
	"log"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/mmd_runtime/animation"
	"github.com/mogaika/mmd_runtime/motion"
	"github.com/mogaika/mmd_runtime/physics"
)

func (m *Model) LayerCount() int {
	return m.layers.LayerCount()
}

// SetLayerMotion binds motion to layer, nil clears it.
// Motion set on layer 0 is sampled at frame 0 right away, so physics never sees the bind pose.
func (m *Model) SetLayerMotion(layer int, mot *motion.Motion) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if layer == 0 && mot != nil {
		m.primePose(mot)
	}
	return m.layers.SetMotion(layer, mot)
}

func (m *Model) primePose(mot *motion.Motion) {
	m.skel.ResetPose()
	m.morphs.ResetWeights()
	m.skel.BeginUpdate()
	for name, track := range mot.BoneTracks {
		if i, ok := m.skel.FindBone(name); ok {
			bft := track.Seek(0)
			m.skel.SetBoneTranslation(i, bft.Translation)
			m.skel.SetBoneRotation(i, bft.Orientation)
		}
	}
	for name, track := range mot.MorphTracks {
		if i, ok := m.morphs.Find(name); ok {
			m.morphs.SetWeight(i, track.Seek(0))
		}
	}
	m.skel.UpdateTransforms(false)
	m.skel.UpdateTransforms(true)
	m.skel.EndUpdate()
}

func (m *Model) withLayers(f func(l *animation.Manager) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return f(m.layers)
}

func (m *Model) PlayLayer(layer int) bool {
	return m.withLayers(func(l *animation.Manager) bool { return l.Play(layer) })
}

func (m *Model) StopLayer(layer int) bool {
	return m.withLayers(func(l *animation.Manager) bool { return l.Stop(layer) })
}

func (m *Model) PauseLayer(layer int) bool {
	return m.withLayers(func(l *animation.Manager) bool { return l.Pause(layer) })
}

func (m *Model) ResumeLayer(layer int) bool {
	return m.withLayers(func(l *animation.Manager) bool { return l.Resume(layer) })
}

func (m *Model) SeekLayer(layer int, frame float32) bool {
	return m.withLayers(func(l *animation.Manager) bool { return l.Seek(layer, frame) })
}

func (m *Model) SetLayerWeight(layer int, w float32) bool {
	return m.withLayers(func(l *animation.Manager) bool { return l.SetWeight(layer, w) })
}

func (m *Model) SetLayerSpeed(layer int, speed float32) bool {
	return m.withLayers(func(l *animation.Manager) bool { return l.SetSpeed(layer, speed) })
}

func (m *Model) SetLayerLoop(layer int, loop bool) bool {
	return m.withLayers(func(l *animation.Manager) bool { return l.SetLoop(layer, loop) })
}

func (m *Model) SetLayerFadeTimes(layer int, fadeIn, fadeOut float32) bool {
	return m.withLayers(func(l *animation.Manager) bool { return l.SetFadeTimes(layer, fadeIn, fadeOut) })
}

func (m *Model) SetLayerEnabled(layer int, enabled bool) bool {
	return m.withLayers(func(l *animation.Manager) bool { return l.SetEnabled(layer, enabled) })
}

func (m *Model) StopAllLayers() {
	m.withLayers(func(l *animation.Manager) bool { l.StopAll(); return true })
}

// TransitionLayerTo switches layer motion and plays it, skinning matrices are blended
// from the current pose over seconds with smoothstep easing
func (m *Model) TransitionLayerTo(layer int, mot *motion.Motion, seconds float32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.layers.Layer(layer); !ok {
		return false
	}
	if seconds > 0 {
		m.transitionFrom = append(m.transitionFrom[:0], m.skel.SkinningMatrices()...)
		m.transitionDuration = seconds
		m.transitionProgress = 0
		m.transitioning = true
	}
	m.layers.SetMotion(layer, mot)
	m.layers.Play(layer)
	return true
}

func (m *Model) IsTransitioning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitioning
}

// LayerMaxFrame is 0 for unknown layer or layer without motion
func (m *Model) LayerMaxFrame(layer int) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.layers.Layer(layer); ok {
		return l.MaxFrame()
	}
	return 0
}

func (m *Model) MaxFrame() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.layers.MaxFrame()
}

func (m *Model) Layers() []animation.LayerSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.layers.Snapshot()
}

// SetBoneOverride pins bone local translation and rotation after layer evaluation every tick
func (m *Model) SetBoneOverride(bone int, translation mgl32.Vec3, rotation mgl32.Quat) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bone < 0 || bone >= m.skel.BoneCount() {
		return false
	}
	m.overrides[bone] = boneOverride{translation: translation, rotation: rotation}
	return true
}

func (m *Model) ClearBoneOverride(bone int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.overrides, bone)
}

func (m *Model) ClearBoneOverrides() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides = make(map[int]boneOverride)
}

func (m *Model) BoneOverrideCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.overrides)
}

// ApplyPose turns every pose bone found in model into override and sets pose morph weights.
// Returns how many bones and morphs were matched.
func (m *Model) ApplyPose(p *motion.Pose) (bones, morphs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pb := range p.Bones {
		if i, ok := m.skel.FindBone(pb.Name); ok {
			m.overrides[i] = boneOverride{translation: pb.Translation, rotation: pb.Orientation}
			bones++
		}
	}
	for _, pm := range p.Morphs {
		if m.morphs.SetWeightByName(pm.Name, pm.Weight) {
			morphs++
		}
	}
	return bones, morphs
}

func (m *Model) MorphCount() int {
	return m.morphs.Count()
}

func (m *Model) FindMorph(name string) (int, bool) {
	return m.morphs.Find(name)
}

func (m *Model) SetMorphWeight(i int, w float32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.morphs.SetWeight(i, w)
}

func (m *Model) SetMorphWeightByName(name string, w float32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.morphs.SetWeightByName(name, w)
}

func (m *Model) MorphWeight(i int) (float32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= m.morphs.Count() {
		return 0, false
	}
	return m.morphs.Weight(i), true
}

func (m *Model) ResetMorphWeights() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.morphs.ResetWeights()
}

// InitPhysics binds rigid bodies to skeleton bind pose and enables simulation.
// nil engine means built-in reference world. Returns false when model has no rigid bodies.
func (m *Model) InitPhysics(engine physics.Engine) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.bodies) == 0 {
		log.Printf("[model] %q has no rigid bodies, physics skipped", m.Name)
		return false, nil
	}
	m.skel.ResetPose()
	p, err := physics.New(m.cfg.Physics, engine, m.bodies, m.joints, m.skel)
	if err != nil {
		return false, errors.Wrapf(err, "Failed to init physics of %q", m.Name)
	}
	m.physics = p
	m.physicsEnabled = true
	return true, nil
}

func (m *Model) SetPhysicsEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.physicsEnabled = enabled
}

// PhysicsEnabled is true only when physics was initialized and enabled
func (m *Model) PhysicsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.physicsEnabled && m.physics != nil
}

func (m *Model) HasPhysics() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.physics != nil
}

func (m *Model) ResetPhysics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.physics != nil {
		m.physics.Reset()
	}
}

func (m *Model) PhysicsDebugInfo() (physics.DebugInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.physics == nil {
		return physics.DebugInfo{}, false
	}
	return m.physics.DebugInfo(), true
}

func (m *Model) DynamicBoneCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.physics == nil {
		return 0
	}
	return len(m.physics.DynamicBones())
}

func (m *Model) SetTransform(t mgl32.Mat4) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transform = t
}

func (m *Model) Transform() mgl32.Mat4 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transform
}

// SetPositionAndYaw places model in world, physics uses the motion to drag secondary bodies
func (m *Model) SetPositionAndYaw(x, y, z, yaw float32) {
	s, c := math.Sincos(float64(yaw))
	sin, cos := float32(s), float32(c)
	m.SetTransform(mgl32.Mat4{
		cos, 0, sin, 0,
		0, 1, 0, 0,
		-sin, 0, cos, 0,
		x, y, z, 1,
	})
}

func (m *Model) MaterialCount() int {
	return len(m.materials)
}

func (m *Model) MaterialName(i int) (string, bool) {
	if i < 0 || i >= len(m.materials) {
		return "", false
	}
	return m.materials[i].Name, true
}

func (m *Model) MaterialNames() []string {
	r := make([]string, len(m.materials))
	for i := range m.materials {
		r[i] = m.materials[i].Name
	}
	return r
}

func (m *Model) Submeshes() []Submesh {
	return append([]Submesh(nil), m.submeshes...)
}

// MaterialVisible is true for out of range index
func (m *Model) MaterialVisible(i int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.visible) {
		return true
	}
	return m.visible[i]
}

func (m *Model) SetMaterialVisible(i int, visible bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.visible) {
		return false
	}
	m.visible[i] = visible
	return true
}

// SetMaterialVisibleByName changes every material whose name contains substr, returns changed count
func (m *Model) SetMaterialVisibleByName(substr string, visible bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for i := range m.materials {
		if strings.Contains(m.materials[i].Name, substr) {
			m.visible[i] = visible
			count++
		}
	}
	return count
}

func (m *Model) SetAllMaterialsVisible(visible bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.visible {
		m.visible[i] = visible
	}
}

func (m *Model) handMatrix(names []string) mgl32.Mat4 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := findFirstBone(m.skel, names); i >= 0 {
		return m.skel.GlobalTransform(i)
	}
	return mgl32.Ident4()
}

// RightHandMatrix is global transform of right wrist, identity when model has none
func (m *Model) RightHandMatrix() mgl32.Mat4 {
	return m.handMatrix(rightHandNames)
}

func (m *Model) LeftHandMatrix() mgl32.Mat4 {
	return m.handMatrix(leftHandNames)
}
