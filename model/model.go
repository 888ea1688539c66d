package model

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/mmd_runtime/animation"
	"github.com/mogaika/mmd_runtime/config"
	"github.com/mogaika/mmd_runtime/morph"
	"github.com/mogaika/mmd_runtime/physics"
	"github.com/mogaika/mmd_runtime/skeleton"
	"github.com/mogaika/mmd_runtime/skinning"
	"github.com/mogaika/mmd_runtime/utils"
)

type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	UV       mgl32.Vec2
	Weight   skinning.Weight
}

// Material covers next IndexCount indices of the index buffer
type Material struct {
	Name       string
	IndexCount int
	Base       morph.MaterialResult
}

type MorphDesc struct {
	Name    string
	Payload morph.Payload
}

// Desc is everything geometry loader hands over to runtime, in runtime coordinates.
// Rigid bodies and joints stay in file coordinates.
type Desc struct {
	Name      string
	Bones     []skeleton.BoneDesc
	Vertices  []Vertex
	Indices   []uint32
	Materials []Material
	Morphs    []MorphDesc
	Bodies    []physics.RigidBodyDesc
	Joints    []physics.JointDesc
}

type Submesh struct {
	Material int
	Begin    int
	Count    int
}

type boneOverride struct {
	translation mgl32.Vec3
	rotation    mgl32.Quat
}

// Model is one animated character instance. Every public method locks the model,
// so different models can be ticked from different goroutines.
type Model struct {
	mu sync.Mutex

	Name string
	cfg  *config.Config

	skel   *skeleton.Skeleton
	morphs *morph.Manager
	layers *animation.Manager

	bodies         []physics.RigidBodyDesc
	joints         []physics.JointDesc
	physics        *physics.Physics
	physicsEnabled bool

	weights   []skinning.Weight
	rest      []mgl32.Vec3
	normals   []mgl32.Vec3
	baseUV    []mgl32.Vec2
	indices   []uint32
	materials []Material
	submeshes []Submesh
	visible   []bool

	boneIndices []int32
	boneWeights []float32

	// morphed rest pose, input of skinning
	positions []mgl32.Vec3
	uvs       []mgl32.Vec2
	uvDirty   bool

	outPositions []mgl32.Vec3
	outNormals   []mgl32.Vec3
	skinner      skinning.Evaluator

	overrides map[int]boneOverride

	headBone  int
	headAngle mgl32.Vec3

	eyeBones    [2]int
	eyeTracking bool
	eyeAngle    mgl32.Vec2
	eyeMaxAngle float32

	blink blinker

	transform mgl32.Mat4

	transitioning      bool
	transitionFrom     []mgl32.Mat4
	transitionDuration float32
	transitionProgress float32

	lastReport animation.Report
	ticks      uint64
}

func validateGeometry(d *Desc) error {
	for i, idx := range d.Indices {
		if int(idx) >= len(d.Vertices) {
			return errors.Errorf("Index %d references vertex %d of %d", i, idx, len(d.Vertices))
		}
	}
	total := 0
	for i, mat := range d.Materials {
		if mat.IndexCount < 0 || mat.IndexCount%3 != 0 {
			return errors.Errorf("Material %d %q has invalid index count %d", i, mat.Name, mat.IndexCount)
		}
		total += mat.IndexCount
	}
	if total > len(d.Indices) {
		return errors.Errorf("Materials cover %d indices of %d", total, len(d.Indices))
	}
	return nil
}

// New builds runtime model in bind pose. nil cfg means config.Default().
func New(d *Desc, cfg *config.Config) (*Model, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	skel, err := skeleton.NewSkeleton(d.Bones)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to build skeleton of %q", d.Name)
	}
	if err := validateGeometry(d); err != nil {
		return nil, errors.Wrapf(err, "Model %q", d.Name)
	}

	results := make([]morph.MaterialResult, len(d.Materials))
	for i := range d.Materials {
		results[i] = d.Materials[i].Base
	}
	morphs := morph.NewManager(len(d.Vertices), results)
	for _, md := range d.Morphs {
		morphs.Add(md.Name, md.Payload)
	}
	if err := morphs.Validate(skel.BoneCount()); err != nil {
		return nil, errors.Wrapf(err, "Model %q", d.Name)
	}

	vc := len(d.Vertices)
	m := &Model{
		Name:         d.Name,
		cfg:          cfg,
		skel:         skel,
		morphs:       morphs,
		layers:       animation.NewManager(cfg.Layers.Count, cfg.Layers.FrameRate, skel, morphs),
		bodies:       d.Bodies,
		joints:       d.Joints,
		weights:      make([]skinning.Weight, vc),
		rest:         make([]mgl32.Vec3, vc),
		normals:      make([]mgl32.Vec3, vc),
		baseUV:       make([]mgl32.Vec2, vc),
		indices:      d.Indices,
		materials:    d.Materials,
		visible:      make([]bool, len(d.Materials)),
		positions:    make([]mgl32.Vec3, vc),
		uvs:          make([]mgl32.Vec2, vc),
		outPositions: make([]mgl32.Vec3, vc),
		outNormals:   make([]mgl32.Vec3, vc),
		skinner:      skinning.Evaluator{Workers: cfg.Skinning.Workers, MinBatch: cfg.Skinning.MinBatch},
		overrides:    make(map[int]boneOverride),
		headBone:     -1,
		eyeBones:     [2]int{-1, -1},
		eyeMaxAngle:  mgl32.Clamp(cfg.Model.EyeMaxAngle, 0.1, 1),
		transform:    mgl32.Ident4(),
	}
	for i := range d.Vertices {
		v := &d.Vertices[i]
		m.weights[i] = v.Weight
		m.rest[i] = v.Position
		m.normals[i] = v.Normal
		m.baseUV[i] = v.UV
	}
	copy(m.positions, m.rest)
	copy(m.uvs, m.baseUV)
	copy(m.outPositions, m.rest)
	copy(m.outNormals, m.normals)
	for i := range m.visible {
		m.visible[i] = true
	}

	begin := 0
	for i := range d.Materials {
		m.submeshes = append(m.submeshes, Submesh{Material: i, Begin: begin, Count: d.Materials[i].IndexCount})
		begin += d.Materials[i].IndexCount
	}

	m.buildGPUWeights()
	m.findNamedBones()
	m.blink.init(cfg.Model.BlinkInterval, cfg.Model.BlinkDuration, rand.New(rand.NewSource(time.Now().UnixNano())))
	m.blink.morph = findFirstMorph(morphs, blinkMorphNames)
	skel.ResetPose()

	log.Printf("[model] Created %q: %d bones, %d vertices, %d indices, %d materials, %d morphs, %d rigid bodies",
		m.Name, skel.BoneCount(), vc, len(d.Indices), len(d.Materials), morphs.Count(), len(d.Bodies))
	return m, nil
}

// buildGPUWeights packs four bone indices and weights per vertex, sdef degrades into bdef2
func (m *Model) buildGPUWeights() {
	m.boneIndices = make([]int32, len(m.weights)*4)
	m.boneWeights = make([]float32, len(m.weights)*4)
	bad := 0
	for i := range m.weights {
		w := &m.weights[i]
		base := i * 4
		for j := 0; j < 4; j++ {
			m.boneIndices[base+j] = -1
		}
		switch w.Kind {
		case skinning.BDEF1:
			m.boneIndices[base] = int32(w.Bones[0])
			m.boneWeights[base] = 1
		case skinning.BDEF2, skinning.SDEF:
			m.boneIndices[base] = int32(w.Bones[0])
			m.boneIndices[base+1] = int32(w.Bones[1])
			m.boneWeights[base] = w.Weights[0]
			m.boneWeights[base+1] = 1 - w.Weights[0]
		default:
			for j := 0; j < 4; j++ {
				m.boneIndices[base+j] = int32(w.Bones[j])
				m.boneWeights[base+j] = w.Weights[j]
			}
		}
		for j := 0; j < 4; j++ {
			if int(m.boneIndices[base+j]) >= m.skel.BoneCount() {
				bad++
			}
		}
	}
	if bad != 0 {
		log.Printf("[model] %q: %d vertex bone references are out of range", m.Name, bad)
	}
}

var (
	headBoneNames     = []string{"頭", "head", "Head", "あたま"}
	leftEyeBoneNames  = []string{"左目", "eye_L", "Eye_L", "LeftEye", "left_eye", "Left_Eye", "eyeL", "EyeL", "左眼", "L_Eye", "eye.L", "Eye.L"}
	rightEyeBoneNames = []string{"右目", "eye_R", "Eye_R", "RightEye", "right_eye", "Right_Eye", "eyeR", "EyeR", "右眼", "R_Eye", "eye.R", "Eye.R"}
	rightHandNames    = []string{"右手首", "右腕", "right_hand", "RightHand"}
	leftHandNames     = []string{"左手首", "左腕", "left_hand", "LeftHand"}
	blinkMorphNames   = []string{"まばたき", "眨眼", "blink", "Blink", "まばたき両目", "ウィンク", "wink"}
)

func findFirstBone(skel *skeleton.Skeleton, names []string) int {
	for _, name := range names {
		if i, ok := skel.FindBone(name); ok {
			return i
		}
	}
	return -1
}

func findFirstMorph(morphs *morph.Manager, names []string) int {
	for _, name := range names {
		if i, ok := morphs.Find(name); ok {
			return i
		}
	}
	return -1
}

func (m *Model) findNamedBones() {
	m.headBone = findFirstBone(m.skel, headBoneNames)
	m.eyeBones[0] = findFirstBone(m.skel, leftEyeBoneNames)
	m.eyeBones[1] = findFirstBone(m.skel, rightEyeBoneNames)
}

// Tick advances layers by dt seconds and produces skinned vertices
func (m *Model) Tick(dt float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick(dt, true)
}

// TickNoSkinning runs full pose update but leaves vertex skinning to the host
func (m *Model) TickNoSkinning(dt float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick(dt, false)
}

func (m *Model) tick(dt float32, skin bool) {
	if dt < 0 {
		dt = 0
	}
	m.layers.Update(dt)
	m.skel.BeginUpdate()
	m.lastReport = m.layers.EvaluateNormalized()

	m.applyOverrides()
	m.updateBlink(dt)
	m.applyHeadRotation()
	m.applyMorphs()

	m.skel.UpdateTransforms(false)
	if m.physicsEnabled && m.physics != nil {
		m.physics.Update(m.skel, dt, m.transform, m.lastReport.PhysicsDisabled)
	}
	m.skel.UpdateTransforms(true)
	m.skel.ClearPhysicsOwned()
	m.skel.EndUpdate()

	m.applyTransition(dt)
	if skin {
		m.skinner.Evaluate(m.skel.SkinningMatrices(), m.weights, m.positions, m.normals, m.outPositions, m.outNormals)
	}
	m.ticks++
}

func (m *Model) applyOverrides() {
	for bone, o := range m.overrides {
		m.skel.SetBoneTranslation(bone, o.translation)
		m.skel.SetBoneRotation(bone, o.rotation)
	}
}

func (m *Model) applyMorphs() {
	m.morphs.Apply(m.skel, m.rest, m.positions)
	if deltas := m.morphs.UVDeltas(0); deltas != nil {
		for i := range m.uvs {
			m.uvs[i] = m.baseUV[i].Add(mgl32.Vec2{deltas[i][0], deltas[i][1]})
		}
		m.uvDirty = true
	} else if m.uvDirty {
		copy(m.uvs, m.baseUV)
		m.uvDirty = false
	}
}

func (m *Model) applyTransition(dt float32) {
	if !m.transitioning {
		return
	}
	if len(m.transitionFrom) == 0 {
		m.transitioning = false
		return
	}
	m.transitionProgress += dt / m.transitionDuration
	if m.transitionProgress >= 1 {
		m.transitionProgress = 1
		m.transitioning = false
		m.transitionFrom = m.transitionFrom[:0]
		return
	}
	t := utils.Smoothstep(m.transitionProgress)
	matrices := m.skel.SkinningMatrices()
	n := len(m.transitionFrom)
	if len(matrices) < n {
		n = len(matrices)
	}
	for i := 0; i < n; i++ {
		matrices[i] = utils.LerpMat4(m.transitionFrom[i], matrices[i], t)
	}
}

// Ticks counts performed ticks
func (m *Model) Ticks() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks
}

// LastReport is what layer evaluation wrote during last tick
func (m *Model) LastReport() animation.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReport
}

func (m *Model) BoneCount() int {
	return m.skel.BoneCount()
}

func (m *Model) VertexCount() int {
	return len(m.rest)
}

func (m *Model) IndexCount() int {
	return len(m.indices)
}

// FindBone returns first bone with the name
func (m *Model) FindBone(name string) (int, bool) {
	return m.skel.FindBone(name)
}

func (m *Model) BoneName(i int) (string, bool) {
	if i < 0 || i >= m.skel.BoneCount() {
		return "", false
	}
	return m.skel.Bone(i).Name, true
}

// GlobalTransform of bone after last tick
func (m *Model) GlobalTransform(i int) (mgl32.Mat4, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= m.skel.BoneCount() {
		return mgl32.Ident4(), false
	}
	return m.skel.GlobalTransform(i), true
}
