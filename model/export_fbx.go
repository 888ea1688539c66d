package model

import (
	"io"

	"github.com/mogaika/fbx"
	"github.com/mogaika/fbx/builders/bfbx73"
	"github.com/pkg/errors"

	"github.com/mogaika/mmd_runtime/utils/fbxbuilder"
)

type FbxExporter struct {
	FbxModelId  int64
	FbxJointIds []int64
	FbxMeshId   int64
}

func fbxModel(id int64, name, class string, translation [3]float32) *fbx.Node {
	return bfbx73.Model(id, name+"\x00\x01Model", class).AddNodes(
		bfbx73.Version(232),
		bfbx73.Properties70().AddNodes(
			bfbx73.P("InheritType", "enum", "", "", int32(1)),
			bfbx73.P("DefaultAttributeIndex", "int", "Integer", "", int32(0)),
			bfbx73.P("Lcl Translation", "Lcl Translation", "", "A",
				float64(translation[0]), float64(translation[1]), float64(translation[2])),
			bfbx73.P("Lcl Rotation", "Lcl Rotation", "", "A", float64(0), float64(0), float64(0)),
			bfbx73.P("Lcl Scaling", "Lcl Scaling", "", "A", float64(1), float64(1), float64(1)),
		),
		bfbx73.Shading(true),
		bfbx73.Culling("CullingOff"),
	)
}

func (m *Model) exportFbxSkeleton(f *fbxbuilder.FBXBuilder, fe *FbxExporter) {
	fe.FbxJointIds = make([]int64, m.skel.BoneCount())
	for i := range fe.FbxJointIds {
		b := m.skel.Bone(i)
		translation := b.Position
		if b.Parent >= 0 {
			translation = translation.Sub(m.skel.Bone(b.Parent).Position)
		}

		fe.FbxJointIds[i] = f.GenerateId()
		model := fbxModel(fe.FbxJointIds[i], b.Name, "LimbNode", translation)
		nodeAttribute := bfbx73.NodeAttribute(f.GenerateId(), b.Name+"\x00\x01NodeAttribute", "LimbNode").AddNodes(
			bfbx73.Properties70().AddNodes(
				bfbx73.P("Size", "double", "Number", "", float64(1)),
			),
			bfbx73.TypeFlags("Skeleton"),
		)
		f.AddObjects(model, nodeAttribute)
		f.AddConnections(bfbx73.C("OO", nodeAttribute.Properties[0].(int64), fe.FbxJointIds[i]))
	}
	for i, id := range fe.FbxJointIds {
		parent := fe.FbxModelId
		if p := m.skel.Bone(i).Parent; p >= 0 {
			parent = fe.FbxJointIds[p]
		}
		f.AddConnections(bfbx73.C("OO", id, parent))
	}
}

func (m *Model) exportFbxMaterials(f *fbxbuilder.FBXBuilder, meshId int64) {
	results := m.morphs.MaterialResults()
	for i, mat := range m.materials {
		color := mat.Base.Diffuse
		if i < len(results) {
			color = results[i].Diffuse
		}
		amb := mat.Base.Ambient
		id := f.GenerateId()
		f.AddObjects(bfbx73.Material(id, mat.Name+"\x00\x01Material", "").AddNodes(
			bfbx73.Version(102),
			bfbx73.ShadingModel("lambert"),
			bfbx73.MultiLayer(0),
			bfbx73.Properties70().AddNodes(
				bfbx73.P("AmbientColor", "Color", "", "A", float64(amb[0]), float64(amb[1]), float64(amb[2])),
				bfbx73.P("DiffuseColor", "Color", "", "A", float64(color[0]), float64(color[1]), float64(color[2])),
				bfbx73.P("Emissive", "Vector3D", "Vector", "", float64(0), float64(0), float64(0)),
				bfbx73.P("Ambient", "Vector3D", "Vector", "", float64(amb[0]), float64(amb[1]), float64(amb[2])),
				bfbx73.P("Diffuse", "Vector3D", "Vector", "", float64(color[0]), float64(color[1]), float64(color[2])),
				bfbx73.P("Opacity", "double", "Number", "", float64(color[3])),
			),
		))
		f.AddConnections(bfbx73.C("OO", id, meshId))
	}
}

// exportFbxMesh writes skinned vertices of last tick, or rest pose when posed is not set
func (m *Model) exportFbxMesh(f *fbxbuilder.FBXBuilder, fe *FbxExporter, posed bool) error {
	positions, normals := m.rest, m.normals
	if posed {
		positions, normals = m.outPositions, m.outNormals
	}

	vertices := make([]float64, 0, len(positions)*3)
	normalsData := make([]float64, 0, len(normals)*3)
	uv := make([]float64, 0, len(m.uvs)*2)
	for i := range positions {
		vertices = append(vertices, float64(positions[i][0]), float64(positions[i][1]), float64(positions[i][2]))
		normalsData = append(normalsData, float64(normals[i][0]), float64(normals[i][1]), float64(normals[i][2]))
		uv = append(uv, float64(m.uvs[i][0]), float64(1-m.uvs[i][1]))
	}

	indexes := make([]int32, 0, len(m.indices))
	materials := make([]int32, 0, len(m.indices)/3)
	for _, sub := range m.submeshes {
		if !m.visible[sub.Material] {
			continue
		}
		tris := m.indices[sub.Begin : sub.Begin+sub.Count]
		for i := 0; i+2 < len(tris); i += 3 {
			indexes = append(indexes, int32(tris[i]), int32(tris[i+1]), -int32(tris[i+2])-1)
			materials = append(materials, int32(sub.Material))
		}
	}
	if len(indexes) == 0 {
		return errors.Errorf("Model %q has no visible triangles", m.Name)
	}

	geometryLayer := bfbx73.Layer(0).AddNodes(
		bfbx73.Version(100),
		bfbx73.LayerElement().AddNodes(
			bfbx73.Type("LayerElementNormal"),
			bfbx73.TypedIndex(0),
		),
		bfbx73.LayerElement().AddNodes(
			bfbx73.Type("LayerElementUV"),
			bfbx73.TypedIndex(0),
		),
		bfbx73.LayerElement().AddNodes(
			bfbx73.Type("LayerElementMaterial"),
			bfbx73.TypedIndex(0),
		),
	)

	geometryId := f.GenerateId()
	geometry := bfbx73.Geometry(geometryId, m.Name+"\x00\x01Geometry", "Mesh").AddNodes(
		bfbx73.Properties70(),
		bfbx73.GeometryVersion(124),
		bfbx73.Vertices(vertices),
		bfbx73.PolygonVertexIndex(indexes),
		bfbx73.LayerElementNormal(0).AddNodes(
			bfbx73.Version(101),
			bfbx73.Name(""),
			bfbx73.MappingInformationType("ByVertice"),
			bfbx73.ReferenceInformationType("Direct"),
			bfbx73.Normals(normalsData),
		),
		bfbx73.LayerElementUV(0).AddNodes(
			bfbx73.Version(101),
			bfbx73.Name(""),
			bfbx73.MappingInformationType("ByVertice"),
			bfbx73.ReferenceInformationType("Direct"),
			bfbx73.UV(uv),
		),
		bfbx73.LayerElementMaterial(0).AddNodes(
			bfbx73.Version(101),
			bfbx73.Name(""),
			bfbx73.MappingInformationType("ByPolygon"),
			bfbx73.ReferenceInformationType("IndexToDirect"),
			bfbx73.Materials(materials),
		),
		geometryLayer,
	)

	fe.FbxMeshId = f.GenerateId()
	f.AddObjects(fbxModel(fe.FbxMeshId, m.Name+"_mesh", "Mesh", [3]float32{}), geometry)
	f.AddConnections(
		bfbx73.C("OO", geometryId, fe.FbxMeshId),
		bfbx73.C("OO", fe.FbxMeshId, fe.FbxModelId),
	)
	m.exportFbxMaterials(f, fe.FbxMeshId)
	return nil
}

func (m *Model) exportFbx(f *fbxbuilder.FBXBuilder, posed bool) (*FbxExporter, error) {
	fe := &FbxExporter{FbxModelId: f.GenerateId()}

	model := bfbx73.Model(fe.FbxModelId, m.Name+"\x00\x01Model", "Null").AddNodes(
		bfbx73.Version(232),
		bfbx73.Properties70(),
		bfbx73.Shading(true),
		bfbx73.Culling("CullingOff"),
	)
	nodeAttribute := bfbx73.NodeAttribute(f.GenerateId(), m.Name+"\x00\x01NodeAttribute", "Null").AddNodes(
		bfbx73.TypeFlags("Null"),
	)
	f.AddObjects(model, nodeAttribute)
	f.AddConnections(bfbx73.C("OO", nodeAttribute.Properties[0].(int64), fe.FbxModelId))

	m.exportFbxSkeleton(f, fe)
	if err := m.exportFbxMesh(f, fe, posed); err != nil {
		return nil, err
	}
	return fe, nil
}

// ExportFBX writes binary fbx with skeleton and mesh of the model
func (m *Model) ExportFBX(w io.Writer, posed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := fbxbuilder.NewFBXBuilder(m.Name + ".fbx")
	fe, err := m.exportFbx(f, posed)
	if err != nil {
		return err
	}
	f.AddConnections(bfbx73.C("OO", fe.FbxModelId, 0))
	if err := f.Write(w); err != nil {
		return errors.Wrapf(err, "Failed to write fbx of %q", m.Name)
	}
	return nil
}
