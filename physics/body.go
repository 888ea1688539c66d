package physics

import (
	"fmt"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/mmd_runtime/config"
	"github.com/mogaika/mmd_runtime/utils"
)

type Mode int

const (
	// follows bone
	Kinematic Mode = iota
	// drives bone
	Dynamic
	// drives bone rotation, bone keeps animated position
	DynamicWithBonePosition
)

func (m Mode) String() string {
	switch m {
	case Kinematic:
		return "Kinematic"
	case Dynamic:
		return "Dynamic"
	case DynamicWithBonePosition:
		return "DynamicWithBonePosition"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// RigidBodyDesc is rigid body as stored in model file.
// Position and Rotation are in file coordinates, rotation is euler applied in Y, X, Z order.
type RigidBodyDesc struct {
	Name string
	// -1 for unbound body
	Bone int
	Mode Mode

	Shape Shape
	Size  mgl32.Vec3

	Position mgl32.Vec3
	Rotation mgl32.Vec3

	Mass           float32
	LinearDamping  float32
	AngularDamping float32
	Restitution    float32
	Friction       float32

	Group uint8
	// bit set means collision with that group enabled
	Mask uint16
}

// JointDesc is spring joint as stored in model file, euler applied in Z, Y, X order
type JointDesc struct {
	Name         string
	BodyA, BodyB int

	Position mgl32.Vec3
	Rotation mgl32.Vec3

	LinearLower   mgl32.Vec3
	LinearUpper   mgl32.Vec3
	AngularLower  mgl32.Vec3
	AngularUpper  mgl32.Vec3
	LinearSpring  mgl32.Vec3
	AngularSpring mgl32.Vec3
}

// WorldTransform of body at bind time in runtime coordinates
func (d *RigidBodyDesc) WorldTransform() mgl32.Mat4 {
	return utils.InvZ(utils.RotationTranslation(utils.EulerYXZToQuat(d.Rotation), d.Position))
}

func (d *JointDesc) WorldTransform() mgl32.Mat4 {
	return utils.InvZ(utils.RotationTranslation(utils.EulerZYXToQuat(d.Rotation), d.Position))
}

var bustNames = []string{"おっぱ", "乳", "胸", "bust", "Bust", "BUST"}

// IsBustName reports bodies that get softer bust parameters
func IsBustName(name string) bool {
	for _, n := range bustNames {
		if strings.Contains(name, n) {
			return true
		}
	}
	return false
}

type tuning struct {
	linearDamping, angularDamping     float32
	mass                              float32
	linearStiffness, angularStiffness float32
	linearDampingF, angularDampingF   float32
}

func tuningOf(cfg *config.PhysicsConfig, bust bool) tuning {
	if bust && cfg.Bust.Enabled {
		return tuning{
			linearDamping:    cfg.Bust.LinearDampingScale,
			angularDamping:   cfg.Bust.AngularDampingScale,
			mass:             cfg.Bust.MassScale,
			linearStiffness:  cfg.Bust.LinearSpringStiffnessScale,
			angularStiffness: cfg.Bust.AngularSpringStiffnessScale,
			linearDampingF:   cfg.Bust.LinearSpringDampingFactor,
			angularDampingF:  cfg.Bust.AngularSpringDampingFactor,
		}
	}
	return tuning{
		linearDamping:    cfg.LinearDampingScale,
		angularDamping:   cfg.AngularDampingScale,
		mass:             cfg.MassScale,
		linearStiffness:  cfg.LinearSpringStiffnessScale,
		angularStiffness: cfg.AngularSpringStiffnessScale,
		linearDampingF:   cfg.LinearSpringDampingFactor,
		angularDampingF:  cfg.AngularSpringDampingFactor,
	}
}

func (t tuning) bodyParams(d *RigidBodyDesc, pose mgl32.Mat4) BodyParams {
	p := BodyParams{
		Kinematic:      d.Mode == Kinematic,
		Pose:           pose,
		LinearDamping:  d.LinearDamping * t.linearDamping,
		AngularDamping: d.AngularDamping * t.angularDamping,
		Friction:       d.Friction,
		Restitution:    d.Restitution,
		Shape:          d.Shape,
		Size:           d.Size,
		Group:          d.Group,
		Mask:           d.Mask,
	}
	if !p.Kinematic {
		p.Mass = d.Mass * t.mass
	}
	return p
}

// springs returns stiffness and damping, damping = sqrt(stiffness * factor)
func springs(spring mgl32.Vec3, scale, factor float32) (stiffness, damping mgl32.Vec3) {
	for k := 0; k < 3; k++ {
		if spring[k] == 0 {
			continue
		}
		stiffness[k] = spring[k] * scale
		damping[k] = float32(math.Sqrt(math.Abs(float64(stiffness[k] * factor))))
	}
	return stiffness, damping
}

func (t tuning) jointParams(d *JointDesc, a, b BodyID, frameA, frameB mgl32.Mat4) JointParams {
	p := JointParams{
		BodyA:        a,
		BodyB:        b,
		FrameA:       frameA,
		FrameB:       frameB,
		LinearLower:  d.LinearLower,
		LinearUpper:  d.LinearUpper,
		AngularLower: d.AngularLower,
		AngularUpper: d.AngularUpper,
	}
	p.LinearStiffness, p.LinearDamping = springs(d.LinearSpring, t.linearStiffness, t.linearDampingF)
	p.AngularStiffness, p.AngularDamping = springs(d.AngularSpring, t.angularStiffness, t.angularDampingF)
	return p
}
