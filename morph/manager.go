package morph

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
)

const (
	MaxGroupDepth = 16
	UVChannels    = 5
)

// BoneTarget receives bone morph contributions on top of animation values
type BoneTarget interface {
	BoneCount() int
	AddBoneTranslation(i int, t mgl32.Vec3)
	AddBoneRotation(i int, q mgl32.Quat)
}

type Manager struct {
	morphs []Morph
	byName map[string]int

	vertexCount int
	effective   []float32

	uv            [UVChannels][]mgl32.Vec4
	uvTouched     [UVChannels]bool
	baseMaterials []MaterialResult
	materials     []MaterialResult
}

func NewManager(vertexCount int, materials []MaterialResult) *Manager {
	m := &Manager{
		byName:        make(map[string]int),
		vertexCount:   vertexCount,
		baseMaterials: make([]MaterialResult, len(materials)),
		materials:     make([]MaterialResult, len(materials)),
	}
	for i := range materials {
		m.baseMaterials[i] = NeutralTint(materials[i])
	}
	copy(m.materials, m.baseMaterials)
	return m
}

// Add registers morph, first morph wins on duplicated name lookup
func (m *Manager) Add(name string, p Payload) int {
	i := len(m.morphs)
	if p == nil {
		p = VertexOffsets(nil)
	}
	m.morphs = append(m.morphs, Morph{Name: name, Payload: p})
	if _, dup := m.byName[name]; !dup {
		m.byName[name] = i
	}
	m.effective = append(m.effective, 0)
	return i
}

func (m *Manager) Count() int {
	return len(m.morphs)
}

func (m *Manager) Morph(i int) *Morph {
	return &m.morphs[i]
}

func (m *Manager) Find(name string) (int, bool) {
	i, ok := m.byName[name]
	return i, ok
}

func (m *Manager) Weight(i int) float32 {
	return m.morphs[i].weight
}

// SetWeight clamps to [0,1], returns false on bad index
func (m *Manager) SetWeight(i int, w float32) bool {
	if i < 0 || i >= len(m.morphs) {
		return false
	}
	m.morphs[i].weight = mgl32.Clamp(w, 0, 1)
	return true
}

func (m *Manager) SetWeightByName(name string, w float32) bool {
	i, ok := m.byName[name]
	if !ok {
		return false
	}
	return m.SetWeight(i, w)
}

func (m *Manager) ResetWeights() {
	for i := range m.morphs {
		m.morphs[i].weight = 0
	}
}

// Validate checks payload indices and group reference cycles
func (m *Manager) Validate(boneCount int) error {
	for i := range m.morphs {
		mo := &m.morphs[i]
		switch p := mo.Payload.(type) {
		case VertexOffsets:
			for _, o := range p {
				if o.Vertex < 0 || o.Vertex >= m.vertexCount {
					return errors.Errorf("Morph %q references vertex %d of %d", mo.Name, o.Vertex, m.vertexCount)
				}
			}
		case BoneOffsets:
			for _, o := range p {
				if o.Bone < 0 || o.Bone >= boneCount {
					return errors.Errorf("Morph %q references bone %d of %d", mo.Name, o.Bone, boneCount)
				}
			}
		case MaterialOffsets:
			for _, o := range p {
				if o.Material >= len(m.baseMaterials) {
					return errors.Errorf("Morph %q references material %d of %d", mo.Name, o.Material, len(m.baseMaterials))
				}
			}
		case UVOffsets:
			for _, o := range p {
				if o.Vertex < 0 || o.Vertex >= m.vertexCount || o.Channel < 0 || o.Channel >= UVChannels {
					return errors.Errorf("Morph %q references uv %d:%d", mo.Name, o.Channel, o.Vertex)
				}
			}
		case GroupRefs:
			for _, r := range p {
				if r.Morph < 0 || r.Morph >= len(m.morphs) {
					return errors.Errorf("Morph %q references morph %d of %d", mo.Name, r.Morph, len(m.morphs))
				}
			}
			if m.groupHasCycle(i, make([]bool, len(m.morphs))) {
				return errors.Errorf("Morph %q group references form a cycle", mo.Name)
			}
		}
	}
	return nil
}

func (m *Manager) groupHasCycle(i int, path []bool) bool {
	refs, ok := m.morphs[i].Payload.(GroupRefs)
	if !ok {
		return false
	}
	path[i] = true
	defer func() { path[i] = false }()
	for _, r := range refs {
		if path[r.Morph] || m.groupHasCycle(r.Morph, path) {
			return true
		}
	}
	return false
}

// expand adds group weight to referenced morphs, cycles and deep chains are cut
func (m *Manager) expand(refs GroupRefs, w float32, depth int, path []bool) {
	if depth >= MaxGroupDepth {
		return
	}
	for _, r := range refs {
		if r.Morph < 0 || r.Morph >= len(m.morphs) || path[r.Morph] {
			continue
		}
		cw := w * r.Rate
		if cw == 0 {
			continue
		}
		if sub, ok := m.morphs[r.Morph].Payload.(GroupRefs); ok {
			path[r.Morph] = true
			m.expand(sub, cw, depth+1, path)
			path[r.Morph] = false
			continue
		}
		m.effective[r.Morph] += cw
	}
}

// EffectiveWeights returns own weight plus group contributions, valid after Apply
func (m *Manager) EffectiveWeights() []float32 {
	return m.effective
}

// Apply resets positions to rest and adds every active morph, bone morphs go into bones
func (m *Manager) Apply(bones BoneTarget, rest, positions []mgl32.Vec3) {
	copy(positions, rest)
	for c := range m.uv {
		if m.uvTouched[c] {
			for i := range m.uv[c] {
				m.uv[c][i] = mgl32.Vec4{}
			}
			m.uvTouched[c] = false
		}
	}
	copy(m.materials, m.baseMaterials)

	for i := range m.morphs {
		m.effective[i] = 0
		if _, group := m.morphs[i].Payload.(GroupRefs); !group {
			m.effective[i] = m.morphs[i].weight
		}
	}
	var path []bool
	for i := range m.morphs {
		mo := &m.morphs[i]
		refs, ok := mo.Payload.(GroupRefs)
		if !ok || mo.weight <= 0 {
			continue
		}
		if path == nil {
			path = make([]bool, len(m.morphs))
		}
		path[i] = true
		m.expand(refs, mo.weight, 1, path)
		path[i] = false
	}

	for i := range m.morphs {
		w := m.effective[i]
		if w == 0 {
			continue
		}
		switch p := m.morphs[i].Payload.(type) {
		case VertexOffsets:
			for _, o := range p {
				if o.Vertex >= 0 && o.Vertex < len(positions) {
					positions[o.Vertex] = positions[o.Vertex].Add(o.Offset.Mul(w))
				}
			}
		case BoneOffsets:
			if bones == nil {
				continue
			}
			n := bones.BoneCount()
			for _, o := range p {
				if o.Bone < 0 || o.Bone >= n {
					continue
				}
				bones.AddBoneTranslation(o.Bone, o.Translation.Mul(w))
				bones.AddBoneRotation(o.Bone, boneRotation(o.Rotation, w))
			}
		case MaterialOffsets:
			for j := range p {
				m.applyMaterial(&p[j], w)
			}
		case UVOffsets:
			for _, o := range p {
				if o.Channel < 0 || o.Channel >= UVChannels || o.Vertex < 0 || o.Vertex >= m.vertexCount {
					continue
				}
				if m.uv[o.Channel] == nil {
					m.uv[o.Channel] = make([]mgl32.Vec4, m.vertexCount)
				}
				m.uv[o.Channel][o.Vertex] = m.uv[o.Channel][o.Vertex].Add(o.Offset.Mul(w))
				m.uvTouched[o.Channel] = true
			}
		}
	}
}

func (m *Manager) applyMaterial(o *MaterialOffset, w float32) {
	if o.Material < 0 {
		for i := range m.materials {
			m.materials[i].apply(o, w)
		}
	} else if o.Material < len(m.materials) {
		m.materials[o.Material].apply(o, w)
	}
}

// UVDeltas returns accumulated offsets for channel or nil when no uv morph touched it
func (m *Manager) UVDeltas(channel int) []mgl32.Vec4 {
	if channel < 0 || channel >= UVChannels || !m.uvTouched[channel] {
		return nil
	}
	return m.uv[channel]
}

func (m *Manager) MaterialResults() []MaterialResult {
	return m.materials
}

type WeightInfo struct {
	Name   string
	Kind   string
	Weight float32
}

// ActiveWeights lists morphs with non zero weight
func (m *Manager) ActiveWeights() []WeightInfo {
	var r []WeightInfo
	for i := range m.morphs {
		if m.morphs[i].weight > 0 {
			r = append(r, WeightInfo{Name: m.morphs[i].Name, Kind: m.morphs[i].Payload.Kind().String(), Weight: m.morphs[i].weight})
		}
	}
	return r
}
