package model

import (
	"io"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/mogaika/mmd_runtime/morph"
	"github.com/mogaika/mmd_runtime/utils/gltfutils"
)

type GLTFExported struct {
	JointNodes []uint32
	MeshNode   uint32
	Targets    []string
}

func (m *Model) exportGLTFJoints(doc *gltf.Document) []uint32 {
	nodes := make([]uint32, m.skel.BoneCount())
	for i := range nodes {
		b := m.skel.Bone(i)
		translation := b.Position
		if b.Parent >= 0 {
			translation = translation.Sub(m.skel.Bone(b.Parent).Position)
		}
		nodes[i] = uint32(len(doc.Nodes))
		doc.Nodes = append(doc.Nodes, &gltf.Node{
			Name:        b.Name,
			Translation: translation,
			Rotation:    [4]float32{0, 0, 0, 1},
			Scale:       [3]float32{1, 1, 1},
		})
	}
	for i := range nodes {
		if parent := m.skel.Bone(i).Parent; parent >= 0 {
			pn := doc.Nodes[nodes[parent]]
			pn.Children = append(pn.Children, nodes[i])
		}
	}
	return nodes
}

func (m *Model) exportGLTFSkin(doc *gltf.Document, joints []uint32) uint32 {
	inverse := make([][4][4]float32, len(joints))
	for i := range joints {
		ib := mgl32.Translate3D(m.skel.Bone(i).Position.Mul(-1).Elem())
		for col := 0; col < 4; col++ {
			copy(inverse[i][col][:], ib[col*4:col*4+4])
		}
	}
	doc.Skins = append(doc.Skins, &gltf.Skin{
		Name:                m.Name,
		Joints:              joints,
		InverseBindMatrices: gltf.Index(modeler.WriteAccessor(doc, gltf.TargetNone, inverse)),
	})
	return uint32(len(doc.Skins) - 1)
}

// gltf joints need valid index for every slot and weights summing to one
func (m *Model) gltfJointsWeights() ([][4]uint16, [][4]float32) {
	joints := make([][4]uint16, len(m.weights))
	weights := make([][4]float32, len(m.weights))
	for i := range m.weights {
		var sum float32
		for j := 0; j < 4; j++ {
			bone := m.boneIndices[i*4+j]
			w := m.boneWeights[i*4+j]
			if bone < 0 || int(bone) >= m.skel.BoneCount() || w <= 0 {
				continue
			}
			joints[i][j] = uint16(bone)
			weights[i][j] = w
			sum += w
		}
		if sum > 0 {
			for j := range weights[i] {
				weights[i][j] /= sum
			}
		} else {
			weights[i][0] = 1
		}
	}
	return joints, weights
}

func vec3Array(src []mgl32.Vec3) [][3]float32 {
	r := make([][3]float32, len(src))
	for i, v := range src {
		r[i] = v
	}
	return r
}

// vertex morphs become morph targets of every primitive
func (m *Model) exportGLTFTargets(doc *gltf.Document) ([]uint32, []string) {
	var accessors []uint32
	var names []string
	for i := 0; i < m.morphs.Count(); i++ {
		mo := m.morphs.Morph(i)
		offsets, ok := mo.Payload.(morph.VertexOffsets)
		if !ok || len(offsets) == 0 {
			continue
		}
		deltas := make([][3]float32, len(m.rest))
		for _, o := range offsets {
			if o.Vertex >= 0 && o.Vertex < len(deltas) {
				deltas[o.Vertex] = o.Offset
			}
		}
		accessors = append(accessors, modeler.WriteAccessor(doc, gltf.TargetArrayBuffer, deltas))
		names = append(names, mo.Name)
	}
	return accessors, names
}

func (m *Model) exportGLTFMesh(doc *gltf.Document, posed bool) (*GLTFExported, error) {
	if len(m.rest) == 0 {
		return nil, errors.Errorf("Model %q has no vertices", m.Name)
	}
	ge := &GLTFExported{}

	attributes := make(map[string]uint32)
	if posed {
		attributes["POSITION"] = modeler.WritePosition(doc, vec3Array(m.outPositions))
		attributes["NORMAL"] = modeler.WriteNormal(doc, vec3Array(m.outNormals))
	} else {
		attributes["POSITION"] = modeler.WritePosition(doc, vec3Array(m.rest))
		attributes["NORMAL"] = modeler.WriteNormal(doc, vec3Array(m.normals))
	}
	{
		uvs := make([][2]float32, len(m.uvs))
		for i, uv := range m.uvs {
			uvs[i] = uv
		}
		attributes["TEXCOORD_0"] = modeler.WriteTextureCoord(doc, uvs)
	}

	var targets []uint32
	if !posed {
		joints, weights := m.gltfJointsWeights()
		attributes["JOINTS_0"] = modeler.WriteJoints(doc, joints)
		attributes["WEIGHTS_0"] = modeler.WriteWeights(doc, weights)
		targets, ge.Targets = m.exportGLTFTargets(doc)
	}

	mesh := &gltf.Mesh{Name: m.Name}
	for _, sub := range m.submeshes {
		if sub.Count == 0 || !m.visible[sub.Material] {
			continue
		}
		indices := modeler.WriteIndices(doc, m.indices[sub.Begin:sub.Begin+sub.Count])
		mat := m.materials[sub.Material]
		doc.Materials = append(doc.Materials, &gltf.Material{
			Name:        mat.Name,
			DoubleSided: true,
		})
		primitive := &gltf.Primitive{
			Indices:    gltf.Index(indices),
			Attributes: attributes,
			Material:   gltf.Index(uint32(len(doc.Materials) - 1)),
		}
		for _, target := range targets {
			primitive.Targets = append(primitive.Targets, map[string]uint32{"POSITION": target})
		}
		mesh.Primitives = append(mesh.Primitives, primitive)
	}
	if len(mesh.Primitives) == 0 {
		return nil, errors.Errorf("Model %q has no visible materials", m.Name)
	}
	if len(ge.Targets) != 0 {
		mesh.Extras = map[string]interface{}{"targetNames": ge.Targets}
	}
	doc.Meshes = append(doc.Meshes, mesh)

	node := &gltf.Node{
		Name:     m.Name,
		Mesh:     gltf.Index(uint32(len(doc.Meshes) - 1)),
		Rotation: [4]float32{0, 0, 0, 1},
		Scale:    [3]float32{1, 1, 1},
	}
	if !posed {
		ge.JointNodes = m.exportGLTFJoints(doc)
		if len(ge.JointNodes) != 0 {
			node.Skin = gltf.Index(m.exportGLTFSkin(doc, ge.JointNodes))
		}
	}
	ge.MeshNode = uint32(len(doc.Nodes))
	doc.Nodes = append(doc.Nodes, node)
	return ge, nil
}

// ExportGLTF writes glb with skinned bind pose mesh, skeleton and vertex morph targets.
// When posed is set, skinned vertices of last tick are written as static mesh.
func (m *Model) ExportGLTF(w io.Writer, posed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := gltfutils.NewDocument()
	if _, err := m.exportGLTFMesh(doc, posed); err != nil {
		return err
	}
	if err := gltfutils.ExportBinary(w, doc); err != nil {
		return errors.Wrapf(err, "Failed to encode gltf of %q", m.Name)
	}
	return nil
}
