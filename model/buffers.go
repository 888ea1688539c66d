package model

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/mmd_runtime/morph"
	"github.com/mogaika/mmd_runtime/skinning"
)

// MaterialResultFloats is per material stride of MaterialResults output
const MaterialResultFloats = 28

// Buffer getters append into dst[:0] and return it, so hosts can reuse storage between ticks.

func (m *Model) SkinningMatrices(dst []mgl32.Mat4) []mgl32.Mat4 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(dst[:0], m.skel.SkinningMatrices()...)
}

// SkinningMatricesFlat is column major, 16 floats per bone
func (m *Model) SkinningMatricesFlat(dst []float32) []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	dst = dst[:0]
	for _, mat := range m.skel.SkinningMatrices() {
		dst = append(dst, mat[:]...)
	}
	return dst
}

// Positions are skinned positions of last Tick, 3 floats per vertex
func (m *Model) Positions(dst []float32) []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return skinning.Flatten(dst, m.outPositions)
}

func (m *Model) Normals(dst []float32) []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return skinning.Flatten(dst, m.outNormals)
}

// MorphedPositions are rest positions with vertex morphs, input of gpu skinning
func (m *Model) MorphedPositions(dst []float32) []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return skinning.Flatten(dst, m.positions)
}

// UVs are base uv plus uv morph deltas, 2 floats per vertex
func (m *Model) UVs(dst []float32) []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	dst = dst[:0]
	for _, uv := range m.uvs {
		dst = append(dst, uv[0], uv[1])
	}
	return dst
}

// AdditionalUVDeltas returns copy of uv morph offsets of channel 1-4, nil when untouched
func (m *Model) AdditionalUVDeltas(channel int) []mgl32.Vec4 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if channel < 1 {
		return nil
	}
	deltas := m.morphs.UVDeltas(channel)
	if deltas == nil {
		return nil
	}
	return append([]mgl32.Vec4(nil), deltas...)
}

func (m *Model) OriginalPositions(dst []float32) []float32 {
	return skinning.Flatten(dst, m.rest)
}

func (m *Model) OriginalNormals(dst []float32) []float32 {
	return skinning.Flatten(dst, m.normals)
}

// Indices is shared index buffer, must not be modified
func (m *Model) Indices() []uint32 {
	return m.indices
}

// BoneIndices has 4 entries per vertex, -1 for unused slot. Must not be modified.
func (m *Model) BoneIndices() []int32 {
	return m.boneIndices
}

// BoneWeights has 4 entries per vertex matching BoneIndices. Must not be modified.
func (m *Model) BoneWeights() []float32 {
	return m.boneWeights
}

func (m *Model) MaterialResults() []morph.MaterialResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]morph.MaterialResult(nil), m.morphs.MaterialResults()...)
}

// MaterialResultsFlat packs diffuse, specular, specular strength, ambient, edge color, edge size,
// texture, environment and toon tint of every material
func (m *Model) MaterialResultsFlat(dst []float32) []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	dst = dst[:0]
	for _, r := range m.morphs.MaterialResults() {
		dst = append(dst, r.Diffuse[:]...)
		dst = append(dst, r.Specular[:]...)
		dst = append(dst, r.SpecularStrength)
		dst = append(dst, r.Ambient[:]...)
		dst = append(dst, r.EdgeColor[:]...)
		dst = append(dst, r.EdgeSize)
		dst = append(dst, r.TextureTint[:]...)
		dst = append(dst, r.EnvironmentTint[:]...)
		dst = append(dst, r.ToonTint[:]...)
	}
	return dst
}
