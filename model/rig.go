package model

import (
	"io"
	"log"
	"os"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mogaika/mmd_runtime/morph"
	"github.com/mogaika/mmd_runtime/physics"
	"github.com/mogaika/mmd_runtime/skeleton"
	"github.com/mogaika/mmd_runtime/skinning"
)

// Rig file is yaml description of a model in left handed file coordinates, same as pmx.
// Bones, bodies and morphs are referenced by name.

type rigAppend struct {
	Parent    string  `yaml:"parent"`
	Rate      float32 `yaml:"rate"`
	Rotate    bool    `yaml:"rotate"`
	Translate bool    `yaml:"translate"`
	Local     bool    `yaml:"local"`
}

type rigLocalAxis struct {
	X mgl32.Vec3 `yaml:"x"`
	Z mgl32.Vec3 `yaml:"z"`
}

type rigIKLink struct {
	Bone string      `yaml:"bone"`
	Min  *mgl32.Vec3 `yaml:"min"`
	Max  *mgl32.Vec3 `yaml:"max"`
}

type rigIK struct {
	Target     string      `yaml:"target"`
	Iterations int         `yaml:"iterations"`
	LimitAngle float32     `yaml:"limit_angle"`
	Links      []rigIKLink `yaml:"links"`
}

type rigBone struct {
	Name         string        `yaml:"name"`
	Parent       string        `yaml:"parent"`
	Level        int           `yaml:"level"`
	Position     mgl32.Vec3    `yaml:"position"`
	Fixed        bool          `yaml:"fixed"`
	Movable      bool          `yaml:"movable"`
	AfterPhysics bool          `yaml:"after_physics"`
	Append       *rigAppend    `yaml:"append"`
	FixedAxis    *mgl32.Vec3   `yaml:"fixed_axis"`
	LocalAxis    *rigLocalAxis `yaml:"local_axis"`
	IK           *rigIK        `yaml:"ik"`
}

type rigSdef struct {
	C  mgl32.Vec3 `yaml:"c"`
	R0 mgl32.Vec3 `yaml:"r0"`
	R1 mgl32.Vec3 `yaml:"r1"`
}

type rigVertex struct {
	Position mgl32.Vec3 `yaml:"position"`
	Normal   mgl32.Vec3 `yaml:"normal"`
	UV       mgl32.Vec2 `yaml:"uv"`
	Type     string     `yaml:"type"`
	Bones    []int      `yaml:"bones"`
	Weights  []float32  `yaml:"weights"`
	Sdef     *rigSdef   `yaml:"sdef"`
}

type rigMaterial struct {
	Name             string     `yaml:"name"`
	IndexCount       int        `yaml:"index_count"`
	Diffuse          mgl32.Vec4 `yaml:"diffuse"`
	Specular         mgl32.Vec3 `yaml:"specular"`
	SpecularStrength float32    `yaml:"specular_strength"`
	Ambient          mgl32.Vec3 `yaml:"ambient"`
	EdgeColor        mgl32.Vec4 `yaml:"edge_color"`
	EdgeSize         float32    `yaml:"edge_size"`
}

type rigVertexOffset struct {
	Vertex int        `yaml:"vertex"`
	Offset mgl32.Vec3 `yaml:"offset"`
}

type rigBoneOffset struct {
	Bone        string     `yaml:"bone"`
	Translation mgl32.Vec3 `yaml:"translation"`
	// x, y, z, w
	Rotation *mgl32.Vec4 `yaml:"rotation"`
}

type rigMaterialOffset struct {
	// empty targets every material
	Material         string     `yaml:"material"`
	Op               string     `yaml:"op"`
	Diffuse          mgl32.Vec4 `yaml:"diffuse"`
	Specular         mgl32.Vec3 `yaml:"specular"`
	SpecularStrength float32    `yaml:"specular_strength"`
	Ambient          mgl32.Vec3 `yaml:"ambient"`
	EdgeColor        mgl32.Vec4 `yaml:"edge_color"`
	EdgeSize         float32    `yaml:"edge_size"`
	TextureTint      mgl32.Vec4 `yaml:"texture_tint"`
	EnvironmentTint  mgl32.Vec4 `yaml:"environment_tint"`
	ToonTint         mgl32.Vec4 `yaml:"toon_tint"`
}

type rigUVOffset struct {
	Vertex  int        `yaml:"vertex"`
	Channel int        `yaml:"channel"`
	Offset  mgl32.Vec4 `yaml:"offset"`
}

type rigGroupRef struct {
	Morph string  `yaml:"morph"`
	Rate  float32 `yaml:"rate"`
}

type rigMorph struct {
	Name     string              `yaml:"name"`
	Vertex   []rigVertexOffset   `yaml:"vertex"`
	Bone     []rigBoneOffset     `yaml:"bone"`
	Material []rigMaterialOffset `yaml:"material"`
	UV       []rigUVOffset       `yaml:"uv"`
	Group    []rigGroupRef       `yaml:"group"`
}

type rigBody struct {
	Name           string     `yaml:"name"`
	Bone           string     `yaml:"bone"`
	Mode           string     `yaml:"mode"`
	Shape          string     `yaml:"shape"`
	Size           mgl32.Vec3 `yaml:"size"`
	Position       mgl32.Vec3 `yaml:"position"`
	Rotation       mgl32.Vec3 `yaml:"rotation"`
	Mass           float32    `yaml:"mass"`
	LinearDamping  float32    `yaml:"linear_damping"`
	AngularDamping float32    `yaml:"angular_damping"`
	Restitution    float32    `yaml:"restitution"`
	Friction       float32    `yaml:"friction"`
	Group          uint8      `yaml:"group"`
	Mask           uint16     `yaml:"mask"`
}

type rigJoint struct {
	Name          string     `yaml:"name"`
	BodyA         string     `yaml:"body_a"`
	BodyB         string     `yaml:"body_b"`
	Position      mgl32.Vec3 `yaml:"position"`
	Rotation      mgl32.Vec3 `yaml:"rotation"`
	LinearLower   mgl32.Vec3 `yaml:"linear_lower"`
	LinearUpper   mgl32.Vec3 `yaml:"linear_upper"`
	AngularLower  mgl32.Vec3 `yaml:"angular_lower"`
	AngularUpper  mgl32.Vec3 `yaml:"angular_upper"`
	LinearSpring  mgl32.Vec3 `yaml:"linear_spring"`
	AngularSpring mgl32.Vec3 `yaml:"angular_spring"`
}

type rigFile struct {
	Name      string        `yaml:"name"`
	Bones     []rigBone     `yaml:"bones"`
	Vertices  []rigVertex   `yaml:"vertices"`
	Indices   []uint32      `yaml:"indices"`
	Materials []rigMaterial `yaml:"materials"`
	Morphs    []rigMorph    `yaml:"morphs"`
	Bodies    []rigBody     `yaml:"rigid_bodies"`
	Joints    []rigJoint    `yaml:"joints"`
}

func flipZ(v mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{v[0], v[1], -v[2]}
}

func flipQuat(q mgl32.Quat) mgl32.Quat {
	return mgl32.Quat{W: -q.W, V: mgl32.Vec3{q.V[0], q.V[1], -q.V[2]}}
}

type nameIndex map[string]int

// lookup resolves name, empty name is -1
func (n nameIndex) lookup(kind, name string) (int, error) {
	if name == "" {
		return -1, nil
	}
	if i, ok := n[name]; ok {
		return i, nil
	}
	return -1, errors.Errorf("Unknown %s %q", kind, name)
}

func indexNames(count int, name func(i int) string) nameIndex {
	n := make(nameIndex, count)
	for i := 0; i < count; i++ {
		if _, dup := n[name(i)]; !dup {
			n[name(i)] = i
		}
	}
	return n
}

func (rf *rigFile) bones(names nameIndex) ([]skeleton.BoneDesc, error) {
	r := make([]skeleton.BoneDesc, len(rf.Bones))
	for i := range rf.Bones {
		rb := &rf.Bones[i]
		parent, err := names.lookup("parent bone", rb.Parent)
		if err != nil {
			return nil, errors.Wrapf(err, "Bone %q", rb.Name)
		}
		d := skeleton.BoneDesc{
			Name:               rb.Name,
			Parent:             parent,
			TransformLevel:     rb.Level,
			Position:           flipZ(rb.Position),
			Rotatable:          !rb.Fixed,
			Movable:            rb.Movable,
			DeformAfterPhysics: rb.AfterPhysics,
			AppendParent:       -1,
		}
		if rb.Append != nil {
			if d.AppendParent, err = names.lookup("append bone", rb.Append.Parent); err != nil {
				return nil, errors.Wrapf(err, "Bone %q", rb.Name)
			}
			d.AppendRate = rb.Append.Rate
			d.AppendRotate = rb.Append.Rotate
			d.AppendTranslate = rb.Append.Translate
			d.AppendLocal = rb.Append.Local
		}
		if rb.FixedAxis != nil {
			axis := flipZ(*rb.FixedAxis)
			d.FixedAxis = &axis
		}
		if rb.LocalAxis != nil {
			x, z := flipZ(rb.LocalAxis.X), flipZ(rb.LocalAxis.Z)
			d.LocalAxisX, d.LocalAxisZ = &x, &z
		}
		if rb.IK != nil {
			chain := &skeleton.IKChain{
				Iterations: rb.IK.Iterations,
				LimitAngle: rb.IK.LimitAngle,
			}
			if chain.Target, err = names.lookup("ik target", rb.IK.Target); err != nil || chain.Target < 0 {
				return nil, errors.Errorf("Bone %q has invalid ik target %q", rb.Name, rb.IK.Target)
			}
			for _, rl := range rb.IK.Links {
				link := skeleton.IKLink{}
				if link.Bone, err = names.lookup("ik link", rl.Bone); err != nil || link.Bone < 0 {
					return nil, errors.Errorf("Bone %q has invalid ik link %q", rb.Name, rl.Bone)
				}
				if rl.Min != nil && rl.Max != nil {
					link.HasLimits = true
					link.LimitMin, link.LimitMax = skeleton.LimitsFromPMX(*rl.Min, *rl.Max)
				}
				chain.Links = append(chain.Links, link)
			}
			d.IK = chain
		}
		r[i] = d
	}
	return r, nil
}

func (rv *rigVertex) weight() (skinning.Weight, error) {
	kind := rv.Type
	if kind == "" {
		switch len(rv.Bones) {
		case 1:
			kind = "bdef1"
		case 2:
			kind = "bdef2"
		default:
			kind = "bdef4"
		}
	}
	need := func(bones, weights int) error {
		if len(rv.Bones) < bones || len(rv.Weights) < weights {
			return errors.Errorf("Vertex %s weight needs %d bones and %d weights", kind, bones, weights)
		}
		return nil
	}

	switch kind {
	case "bdef1":
		if err := need(1, 0); err != nil {
			return skinning.Weight{}, err
		}
		return skinning.Bdef1(rv.Bones[0]), nil
	case "bdef2":
		if err := need(2, 1); err != nil {
			return skinning.Weight{}, err
		}
		return skinning.Bdef2(rv.Bones[0], rv.Bones[1], rv.Weights[0]), nil
	case "sdef":
		if err := need(2, 1); err != nil {
			return skinning.Weight{}, err
		}
		if rv.Sdef == nil {
			return skinning.Weight{}, errors.Errorf("Vertex sdef weight without sdef block")
		}
		w := skinning.Bdef2(rv.Bones[0], rv.Bones[1], rv.Weights[0])
		w.Kind = skinning.SDEF
		w.C, w.R0, w.R1 = flipZ(rv.Sdef.C), flipZ(rv.Sdef.R0), flipZ(rv.Sdef.R1)
		return w, nil
	case "bdef4", "qdef":
		if len(rv.Bones) > 4 || len(rv.Weights) != len(rv.Bones) {
			return skinning.Weight{}, errors.Errorf("Vertex %s weight has %d bones and %d weights", kind, len(rv.Bones), len(rv.Weights))
		}
		w := skinning.Weight{Kind: skinning.BDEF4, Bones: [4]int{-1, -1, -1, -1}}
		if kind == "qdef" {
			w.Kind = skinning.QDEF
		}
		copy(w.Bones[:], rv.Bones)
		copy(w.Weights[:], rv.Weights)
		return w, nil
	default:
		return skinning.Weight{}, errors.Errorf("Unknown vertex weight type %q", rv.Type)
	}
}

func parseMaterialOp(op string) (morph.MaterialOp, error) {
	switch op {
	case "", "mul":
		return morph.MaterialMul, nil
	case "add":
		return morph.MaterialAdd, nil
	default:
		return 0, errors.Errorf("Unknown material morph op %q", op)
	}
}

func (rf *rigFile) morphPayload(rm *rigMorph, bones, materials, morphs nameIndex) (morph.Payload, error) {
	kinds := 0
	for _, n := range []int{len(rm.Vertex), len(rm.Bone), len(rm.Material), len(rm.UV), len(rm.Group)} {
		if n != 0 {
			kinds++
		}
	}
	if kinds > 1 {
		return nil, errors.Errorf("Morph %q mixes payload kinds", rm.Name)
	}

	switch {
	case len(rm.Bone) != 0:
		p := make(morph.BoneOffsets, 0, len(rm.Bone))
		for _, o := range rm.Bone {
			bone, err := bones.lookup("bone", o.Bone)
			if err != nil || bone < 0 {
				return nil, errors.Errorf("Morph %q references unknown bone %q", rm.Name, o.Bone)
			}
			rot := mgl32.QuatIdent()
			if o.Rotation != nil {
				rot = flipQuat(mgl32.Quat{W: o.Rotation[3], V: mgl32.Vec3{o.Rotation[0], o.Rotation[1], o.Rotation[2]}}.Normalize())
			}
			p = append(p, morph.BoneOffset{Bone: bone, Translation: flipZ(o.Translation), Rotation: rot})
		}
		return p, nil
	case len(rm.Material) != 0:
		p := make(morph.MaterialOffsets, 0, len(rm.Material))
		for _, o := range rm.Material {
			mat, err := materials.lookup("material", o.Material)
			if err != nil {
				return nil, errors.Wrapf(err, "Morph %q", rm.Name)
			}
			op, err := parseMaterialOp(o.Op)
			if err != nil {
				return nil, errors.Wrapf(err, "Morph %q", rm.Name)
			}
			p = append(p, morph.MaterialOffset{
				Material:         mat,
				Op:               op,
				Diffuse:          o.Diffuse,
				Specular:         o.Specular,
				SpecularStrength: o.SpecularStrength,
				Ambient:          o.Ambient,
				EdgeColor:        o.EdgeColor,
				EdgeSize:         o.EdgeSize,
				TextureTint:      o.TextureTint,
				EnvironmentTint:  o.EnvironmentTint,
				ToonTint:         o.ToonTint,
			})
		}
		return p, nil
	case len(rm.UV) != 0:
		p := make(morph.UVOffsets, 0, len(rm.UV))
		for _, o := range rm.UV {
			p = append(p, morph.UVOffset{Vertex: o.Vertex, Channel: o.Channel, Offset: o.Offset})
		}
		return p, nil
	case len(rm.Group) != 0:
		p := make(morph.GroupRefs, 0, len(rm.Group))
		for _, o := range rm.Group {
			i, err := morphs.lookup("morph", o.Morph)
			if err != nil || i < 0 {
				return nil, errors.Errorf("Morph %q references unknown morph %q", rm.Name, o.Morph)
			}
			p = append(p, morph.GroupRef{Morph: i, Rate: o.Rate})
		}
		return p, nil
	default:
		p := make(morph.VertexOffsets, 0, len(rm.Vertex))
		for _, o := range rm.Vertex {
			p = append(p, morph.VertexOffset{Vertex: o.Vertex, Offset: flipZ(o.Offset)})
		}
		return p, nil
	}
}

func parseBodyMode(s string) (physics.Mode, error) {
	switch s {
	case "", "kinematic":
		return physics.Kinematic, nil
	case "dynamic":
		return physics.Dynamic, nil
	case "dynamic_bone":
		return physics.DynamicWithBonePosition, nil
	default:
		return 0, errors.Errorf("Unknown rigid body mode %q", s)
	}
}

func parseShape(s string) (physics.Shape, error) {
	switch s {
	case "", "sphere":
		return physics.ShapeSphere, nil
	case "box":
		return physics.ShapeBox, nil
	case "capsule":
		return physics.ShapeCapsule, nil
	default:
		return 0, errors.Errorf("Unknown rigid body shape %q", s)
	}
}

func (rf *rigFile) desc() (*Desc, error) {
	bones := indexNames(len(rf.Bones), func(i int) string { return rf.Bones[i].Name })
	materials := indexNames(len(rf.Materials), func(i int) string { return rf.Materials[i].Name })
	morphs := indexNames(len(rf.Morphs), func(i int) string { return rf.Morphs[i].Name })
	bodies := indexNames(len(rf.Bodies), func(i int) string { return rf.Bodies[i].Name })

	d := &Desc{Name: rf.Name, Indices: rf.Indices}
	var err error
	if d.Bones, err = rf.bones(bones); err != nil {
		return nil, err
	}

	d.Vertices = make([]Vertex, len(rf.Vertices))
	for i := range rf.Vertices {
		rv := &rf.Vertices[i]
		w, err := rv.weight()
		if err != nil {
			return nil, errors.Wrapf(err, "Vertex %d", i)
		}
		d.Vertices[i] = Vertex{
			Position: flipZ(rv.Position),
			Normal:   flipZ(rv.Normal),
			UV:       rv.UV,
			Weight:   w,
		}
	}

	d.Materials = make([]Material, len(rf.Materials))
	for i, rm := range rf.Materials {
		d.Materials[i] = Material{
			Name:       rm.Name,
			IndexCount: rm.IndexCount,
			Base: morph.MaterialResult{
				Diffuse:          rm.Diffuse,
				Specular:         rm.Specular,
				SpecularStrength: rm.SpecularStrength,
				Ambient:          rm.Ambient,
				EdgeColor:        rm.EdgeColor,
				EdgeSize:         rm.EdgeSize,
			},
		}
	}

	d.Morphs = make([]MorphDesc, len(rf.Morphs))
	for i := range rf.Morphs {
		rm := &rf.Morphs[i]
		p, err := rf.morphPayload(rm, bones, materials, morphs)
		if err != nil {
			return nil, err
		}
		d.Morphs[i] = MorphDesc{Name: rm.Name, Payload: p}
	}

	d.Bodies = make([]physics.RigidBodyDesc, len(rf.Bodies))
	for i, rb := range rf.Bodies {
		bone, err := bones.lookup("bone", rb.Bone)
		if err != nil {
			return nil, errors.Wrapf(err, "Rigid body %q", rb.Name)
		}
		mode, err := parseBodyMode(rb.Mode)
		if err != nil {
			return nil, errors.Wrapf(err, "Rigid body %q", rb.Name)
		}
		shape, err := parseShape(rb.Shape)
		if err != nil {
			return nil, errors.Wrapf(err, "Rigid body %q", rb.Name)
		}
		d.Bodies[i] = physics.RigidBodyDesc{
			Name:           rb.Name,
			Bone:           bone,
			Mode:           mode,
			Shape:          shape,
			Size:           rb.Size,
			Position:       rb.Position,
			Rotation:       rb.Rotation,
			Mass:           rb.Mass,
			LinearDamping:  rb.LinearDamping,
			AngularDamping: rb.AngularDamping,
			Restitution:    rb.Restitution,
			Friction:       rb.Friction,
			Group:          rb.Group,
			Mask:           rb.Mask,
		}
	}

	d.Joints = make([]physics.JointDesc, len(rf.Joints))
	for i, rj := range rf.Joints {
		a, err := bodies.lookup("rigid body", rj.BodyA)
		if err != nil {
			return nil, errors.Wrapf(err, "Joint %q", rj.Name)
		}
		b, err := bodies.lookup("rigid body", rj.BodyB)
		if err != nil {
			return nil, errors.Wrapf(err, "Joint %q", rj.Name)
		}
		d.Joints[i] = physics.JointDesc{
			Name:          rj.Name,
			BodyA:         a,
			BodyB:         b,
			Position:      rj.Position,
			Rotation:      rj.Rotation,
			LinearLower:   rj.LinearLower,
			LinearUpper:   rj.LinearUpper,
			AngularLower:  rj.AngularLower,
			AngularUpper:  rj.AngularUpper,
			LinearSpring:  rj.LinearSpring,
			AngularSpring: rj.AngularSpring,
		}
	}
	return d, nil
}

// ParseRig decodes yaml rig description into model description
func ParseRig(data []byte) (*Desc, error) {
	var rf rigFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, errors.Wrapf(err, "Failed to unmarshal rig")
	}
	return rf.desc()
}

func ReadRig(r io.Reader) (*Desc, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to read rig stream")
	}
	return ParseRig(data)
}

func LoadRig(path string) (*Desc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to open rig %q", path)
	}
	d, err := ParseRig(data)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to parse rig %q", path)
	}
	if d.Name == "" {
		d.Name = path
	}
	log.Printf("[rig] Loaded %q: %d bones, %d vertices, %d morphs, %d rigid bodies, %d joints",
		path, len(d.Bones), len(d.Vertices), len(d.Morphs), len(d.Bodies), len(d.Joints))
	return d, nil
}
