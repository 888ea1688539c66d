package physics

import (
	"log"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/mmd_runtime/config"
	"github.com/mogaika/mmd_runtime/skeleton"
	"github.com/mogaika/mmd_runtime/utils"
)

// below this delta time velocities are not derived from pose difference
const minDeltaTime = 1e-5

type body struct {
	desc RigidBodyDesc
	id   BodyID
	bust bool

	// bone global -> body world
	offset    mgl32.Mat4
	invOffset mgl32.Mat4
	initial   mgl32.Mat4

	prevTarget mgl32.Mat4
	hasPrev    bool
}

type joint struct {
	desc JointDesc
	id   JointID
}

// Physics couples rigid bodies of one model with its skeleton
type Physics struct {
	cfg    config.PhysicsConfig
	engine Engine

	bodies []body
	joints []joint

	prevModel    mgl32.Mat4
	hasPrevModel bool

	lastSubsteps int
}

// New binds bodies and joints to skeleton in its current pose.
// nil engine means built-in World.
func New(cfg config.PhysicsConfig, engine Engine, bodies []RigidBodyDesc, joints []JointDesc, skel *skeleton.Skeleton) (*Physics, error) {
	if engine == nil {
		engine = NewWorld(cfg.SolverIteration)
	}
	p := &Physics{
		cfg:    cfg,
		engine: engine,
		bodies: make([]body, 0, len(bodies)),
	}
	engine.SetGravity(mgl32.Vec3{0, cfg.GravityY, 0})

	for i := range bodies {
		d := bodies[i]
		if d.Bone >= skel.BoneCount() {
			return nil, errors.Errorf("Rigid body %d %q has invalid bone %d", i, d.Name, d.Bone)
		}
		if d.Mode < Kinematic || d.Mode > DynamicWithBonePosition {
			return nil, errors.Errorf("Rigid body %d %q has invalid mode %d", i, d.Name, d.Mode)
		}

		b := body{desc: d, bust: IsBustName(d.Name)}
		b.initial = d.WorldTransform()
		if d.Bone >= 0 {
			b.offset = skel.GlobalTransform(d.Bone).Inv().Mul4(b.initial)
		} else {
			b.offset = b.initial
		}
		b.invOffset = b.offset.Inv()
		b.id = engine.AddBody(tuningOf(&cfg, b.bust).bodyParams(&d, b.initial))
		p.bodies = append(p.bodies, b)
	}

	if cfg.JointsEnabled {
		for i := range joints {
			d := joints[i]
			if d.BodyA < 0 || d.BodyA >= len(p.bodies) || d.BodyB < 0 || d.BodyB >= len(p.bodies) {
				log.Printf("[physics] Skipping joint %d %q: invalid bodies %d, %d", i, d.Name, d.BodyA, d.BodyB)
				continue
			}
			a, b := &p.bodies[d.BodyA], &p.bodies[d.BodyB]
			world := d.WorldTransform()
			frameA := a.initial.Inv().Mul4(world)
			frameB := b.initial.Inv().Mul4(world)

			t := tuningOf(&cfg, a.bust || b.bust)
			id := engine.AddJoint(t.jointParams(&d, a.id, b.id, frameA, frameB))
			p.joints = append(p.joints, joint{desc: d, id: id})
		}
	}

	info := p.DebugInfo()
	log.Printf("[physics] Created %d bodies (%d kinematic, %d dynamic, %d bones driven), %d joints",
		len(p.bodies), info.Kinematic, info.Dynamic, len(info.DynamicBones), len(p.joints))
	return p, nil
}

func (p *Physics) Engine() Engine {
	return p.engine
}

func (p *Physics) BodyCount() int {
	return len(p.bodies)
}

func (p *Physics) JointCount() int {
	return len(p.joints)
}

func (p *Physics) SetGravity(g mgl32.Vec3) {
	p.engine.SetGravity(g)
}

// DynamicBones returns sorted bones driven by non kinematic bodies
func (p *Physics) DynamicBones() []int {
	seen := make(map[int]struct{})
	var r []int
	for i := range p.bodies {
		b := &p.bodies[i]
		if b.desc.Mode == Kinematic || b.desc.Bone < 0 {
			continue
		}
		if _, ok := seen[b.desc.Bone]; !ok {
			seen[b.desc.Bone] = struct{}{}
			r = append(r, b.desc.Bone)
		}
	}
	sort.Ints(r)
	return r
}

// SyncKinematic moves kinematic bodies after their bones and
// pushes dynamic bodies against model locomotion
func (p *Physics) SyncKinematic(skel *skeleton.Skeleton, dt float32, model mgl32.Mat4) {
	for i := range p.bodies {
		b := &p.bodies[i]
		if b.desc.Mode != Kinematic || b.desc.Bone < 0 {
			continue
		}
		target := skel.GlobalTransform(b.desc.Bone).Mul4(b.offset)
		p.engine.SetKinematicTarget(b.id, target)

		var lin, ang mgl32.Vec3
		if b.hasPrev && dt > minDeltaTime {
			prevRot, prevPos := utils.Decompose(b.prevTarget)
			rot, pos := utils.Decompose(target)
			lin = pos.Sub(prevPos).Mul(1 / dt)
			ang = angularVelocity(prevRot, rot, dt)
		}
		p.engine.SetVelocity(b.id, lin, ang)
		b.prevTarget = target
		b.hasPrev = true
	}

	if p.cfg.InertiaStrength > 0 && p.hasPrevModel && dt > minDeltaTime {
		rot, pos := utils.Decompose(model)
		_, prevPos := utils.Decompose(p.prevModel)
		// model moved forward, so its parts lag backward in model space
		bias := rot.Inverse().Rotate(pos.Sub(prevPos)).Mul(-p.cfg.InertiaStrength / dt)
		if bias.Dot(bias) > 0 {
			for i := range p.bodies {
				b := &p.bodies[i]
				if b.desc.Mode == Kinematic {
					continue
				}
				lin, ang := p.engine.Velocity(b.id)
				p.engine.SetVelocity(b.id, lin.Add(bias), ang)
			}
		}
	}
	p.prevModel = model
	p.hasPrevModel = true
}

// Step simulates dt seconds in fixed substeps, last substep takes the remainder.
// Returns substeps made.
func (p *Physics) Step(dt float32) int {
	if dt <= 0 {
		return 0
	}
	fixed := 1 / p.cfg.FPS
	n := int(math.Ceil(float64(dt / fixed)))
	if n > p.cfg.MaxSubstepCount {
		n = p.cfg.MaxSubstepCount
	}
	if n < 1 {
		n = 1
	}

	remaining := dt
	for i := 0; i < n; i++ {
		h := fixed
		if i == n-1 || h > remaining {
			h = remaining
		}
		if h <= 0 {
			break
		}
		p.engine.Step(h)
		remaining -= h
	}
	p.clampVelocities()

	if p.cfg.DebugLog {
		log.Printf("[physics] dt=%v substeps=%d fixed=%v", dt, n, fixed)
	}
	p.lastSubsteps = n
	return n
}

func clampLength(v mgl32.Vec3, max float32) mgl32.Vec3 {
	if max <= 0 {
		return v
	}
	if l := v.Len(); l > max {
		return v.Mul(max / l)
	}
	return v
}

func (p *Physics) clampVelocities() {
	for i := range p.bodies {
		b := &p.bodies[i]
		if b.desc.Mode == Kinematic {
			continue
		}
		lin, ang := p.engine.Velocity(b.id)
		p.engine.SetVelocity(b.id,
			clampLength(lin, p.cfg.MaxLinearVelocity),
			clampLength(ang, p.cfg.MaxAngularVelocity))
	}
}

// Reflect writes simulated bodies back into their bones and marks those bones physics owned.
// Bones listed in skip keep animated pose.
func (p *Physics) Reflect(skel *skeleton.Skeleton, skip []int) {
	for i := range p.bodies {
		b := &p.bodies[i]
		bone := b.desc.Bone
		if b.desc.Mode == Kinematic || bone < 0 || containsInt(skip, bone) {
			continue
		}
		global := p.engine.Pose(b.id).Mul4(b.invOffset)
		if b.desc.Mode == DynamicWithBonePosition {
			global.SetCol(3, skel.GlobalTransform(bone).Col(3))
		}
		skel.SetGlobalTransformPhysics(bone, global)
		skel.MarkPhysicsOwned(bone)
	}
	skel.UpdateNonPhysicsChildren()
}

func containsInt(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

// Update is one physics pass of a tick
func (p *Physics) Update(skel *skeleton.Skeleton, dt float32, model mgl32.Mat4, skip []int) {
	p.SyncKinematic(skel, dt, model)
	p.Step(dt)
	p.Reflect(skel, skip)
}

// Reset puts every body to bind pose at rest
func (p *Physics) Reset() {
	for i := range p.bodies {
		b := &p.bodies[i]
		p.engine.SetPose(b.id, b.initial)
		p.engine.SetVelocity(b.id, mgl32.Vec3{}, mgl32.Vec3{})
		b.hasPrev = false
	}
	p.hasPrevModel = false
	log.Printf("[physics] Reset %d bodies", len(p.bodies))
}

type BodyInfo struct {
	Index    int        `json:"index"`
	Name     string     `json:"name"`
	Mode     Mode       `json:"type"`
	Shape    string     `json:"shape"`
	Bone     int        `json:"bone"`
	Mass     float32    `json:"mass"`
	Bust     bool       `json:"bust"`
	Position [3]float32 `json:"position"`
}

type JointInfo struct {
	Index         int        `json:"index"`
	Name          string     `json:"name"`
	BodyA         int        `json:"rb_a"`
	BodyB         int        `json:"rb_b"`
	LinearLower   [3]float32 `json:"lin_lower"`
	LinearUpper   [3]float32 `json:"lin_upper"`
	AngularLower  [3]float32 `json:"ang_lower"`
	AngularUpper  [3]float32 `json:"ang_upper"`
	LinearSpring  [3]float32 `json:"lin_spring"`
	AngularSpring [3]float32 `json:"ang_spring"`
}

type DebugInfo struct {
	Bodies       []BodyInfo  `json:"rigid_bodies"`
	Joints       []JointInfo `json:"joints"`
	Kinematic    int         `json:"kinematic_count"`
	Dynamic      int         `json:"dynamic_count"`
	DynamicBones []int       `json:"dynamic_bones"`
	Substeps     int         `json:"last_substeps"`
}

func (p *Physics) DebugInfo() DebugInfo {
	info := DebugInfo{
		Bodies:       make([]BodyInfo, len(p.bodies)),
		Joints:       make([]JointInfo, len(p.joints)),
		DynamicBones: p.DynamicBones(),
		Substeps:     p.lastSubsteps,
	}
	for i := range p.bodies {
		b := &p.bodies[i]
		if b.desc.Mode == Kinematic {
			info.Kinematic++
		} else {
			info.Dynamic++
		}
		info.Bodies[i] = BodyInfo{
			Index:    i,
			Name:     b.desc.Name,
			Mode:     b.desc.Mode,
			Shape:    b.desc.Shape.String(),
			Bone:     b.desc.Bone,
			Mass:     b.desc.Mass,
			Bust:     b.bust,
			Position: utils.Position(p.engine.Pose(b.id)),
		}
	}
	for i := range p.joints {
		d := &p.joints[i].desc
		info.Joints[i] = JointInfo{
			Index:         i,
			Name:          d.Name,
			BodyA:         d.BodyA,
			BodyB:         d.BodyB,
			LinearLower:   d.LinearLower,
			LinearUpper:   d.LinearUpper,
			AngularLower:  d.AngularLower,
			AngularUpper:  d.AngularUpper,
			LinearSpring:  d.LinearSpring,
			AngularSpring: d.AngularSpring,
		}
	}
	return info
}
