package skeleton

import (
	"sort"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/mogaika/mmd_runtime/utils"
)

type Skeleton struct {
	Bones []Bone

	byName map[string]int

	// stable sort by transform level
	sorted []int
	// depth first preorder, subtree of bone i is order[pos[i]:end[i]]
	order []int
	pos   []int
	end   []int

	solvers  []*IKSolver
	solverOf map[int]*IKSolver

	owned     []bool
	ownedList []int

	skinning []mgl32.Mat4
}

func checkIndex(i, count int, allowNone bool) bool {
	if allowNone && i < 0 {
		return true
	}
	return i >= 0 && i < count
}

func NewSkeleton(descs []BoneDesc) (*Skeleton, error) {
	s := &Skeleton{
		Bones:    make([]Bone, len(descs)),
		byName:   make(map[string]int, len(descs)),
		solverOf: make(map[int]*IKSolver),
		owned:    make([]bool, len(descs)),
		skinning: make([]mgl32.Mat4, len(descs)),
	}

	for i, d := range descs {
		if !checkIndex(d.Parent, len(descs), true) || d.Parent == i {
			return nil, errors.Errorf("Bone %d %q has invalid parent %d", i, d.Name, d.Parent)
		}
		if (d.AppendRotate || d.AppendTranslate) && !checkIndex(d.AppendParent, len(descs), true) {
			return nil, errors.Errorf("Bone %d %q has invalid append parent %d", i, d.Name, d.AppendParent)
		}
		if d.IK != nil {
			if !checkIndex(d.IK.Target, len(descs), false) {
				return nil, errors.Errorf("Bone %d %q has invalid ik target %d", i, d.Name, d.IK.Target)
			}
			for j, l := range d.IK.Links {
				if !checkIndex(l.Bone, len(descs), false) {
					return nil, errors.Errorf("Bone %d %q ik link %d has invalid bone %d", i, d.Name, j, l.Bone)
				}
			}
		}

		b := &s.Bones[i]
		*b = Bone{
			Name:               d.Name,
			Index:              i,
			Parent:             d.Parent,
			TransformLevel:     d.TransformLevel,
			Position:           d.Position,
			Rotatable:          d.Rotatable,
			Movable:            d.Movable,
			AppendRotate:       d.AppendRotate,
			AppendTranslate:    d.AppendTranslate,
			AppendLocal:        d.AppendLocal,
			DeformAfterPhysics: d.DeformAfterPhysics,
			AppendParent:       d.AppendParent,
			AppendRate:         d.AppendRate,
			IK:                 d.IK,
		}
		if !b.HasAppend() {
			b.AppendParent = -1
		}
		if d.FixedAxis != nil {
			if axis := utils.SafeNormalize(*d.FixedAxis); axis.Len() != 0 {
				b.HasFixedAxis = true
				b.FixedAxis = axis
			}
		}
		if d.LocalAxisX != nil && d.LocalAxisZ != nil {
			b.HasLocalAxis = true
			b.LocalAxisX = utils.SafeNormalize(*d.LocalAxisX)
			b.LocalAxisZ = utils.SafeNormalize(*d.LocalAxisZ)
		}
		if _, dup := s.byName[d.Name]; !dup {
			s.byName[d.Name] = i
		}
		if d.IK != nil {
			solver := &IKSolver{Bone: i, Chain: d.IK, Enabled: true}
			s.solvers = append(s.solvers, solver)
			s.solverOf[i] = solver
		}
	}

	if err := s.buildOrder(); err != nil {
		return nil, err
	}
	s.bind()
	return s, nil
}

func (s *Skeleton) buildOrder() error {
	count := len(s.Bones)

	s.sorted = make([]int, count)
	for i := range s.sorted {
		s.sorted[i] = i
	}
	sort.SliceStable(s.sorted, func(a, b int) bool {
		return s.Bones[s.sorted[a]].TransformLevel < s.Bones[s.sorted[b]].TransformLevel
	})

	children := make([][]int, count)
	var roots []int
	for i := range s.Bones {
		if p := s.Bones[i].Parent; p >= 0 {
			children[p] = append(children[p], i)
		} else {
			roots = append(roots, i)
		}
	}

	s.order = make([]int, 0, count)
	s.pos = make([]int, count)
	s.end = make([]int, count)

	type frame struct {
		bone, child int
	}
	stack := make([]frame, 0, 16)
	for _, root := range roots {
		s.pos[root] = len(s.order)
		s.order = append(s.order, root)
		stack = append(stack, frame{bone: root})
		for len(stack) != 0 {
			top := &stack[len(stack)-1]
			if top.child == len(children[top.bone]) {
				s.end[top.bone] = len(s.order)
				stack = stack[:len(stack)-1]
				continue
			}
			c := children[top.bone][top.child]
			top.child++
			s.pos[c] = len(s.order)
			s.order = append(s.order, c)
			stack = append(stack, frame{bone: c})
		}
	}

	if len(s.order) != count {
		return errors.Errorf("Bone hierarchy contains cycle: %d of %d bones reachable from roots", len(s.order), count)
	}
	return nil
}

func (s *Skeleton) bind() {
	for i := range s.Bones {
		b := &s.Bones[i]
		if b.Parent >= 0 {
			b.Offset = b.Position.Sub(s.Bones[b.Parent].Position)
		} else {
			b.Offset = b.Position
		}
		b.Global = mgl32.Translate3D(b.Position.Elem())
		b.InverseBind = b.Global.Inv()
		b.Local = mgl32.Translate3D(b.Offset.Elem())
		b.resetAnimation()
		s.skinning[i] = mgl32.Ident4()
	}
}

func (s *Skeleton) BoneCount() int {
	return len(s.Bones)
}

func (s *Skeleton) Bone(index int) *Bone {
	return &s.Bones[index]
}

// FindBone returns first bone with given name
func (s *Skeleton) FindBone(name string) (int, bool) {
	i, ok := s.byName[name]
	return i, ok
}

func (s *Skeleton) Sorted() []int {
	return s.sorted
}

func (s *Skeleton) IKSolvers() []*IKSolver {
	return s.solvers
}

func (s *Skeleton) IKSolver(boneIndex int) (*IKSolver, bool) {
	solver, ok := s.solverOf[boneIndex]
	return solver, ok
}

// SetIKEnabled toggles solver attached to ik bone, returns false if bone has no chain
func (s *Skeleton) SetIKEnabled(boneIndex int, enabled bool) bool {
	solver, ok := s.solverOf[boneIndex]
	if ok {
		solver.Enabled = enabled
	}
	return ok
}

func (s *Skeleton) BeginUpdate() {
	for i := range s.Bones {
		s.Bones[i].resetAnimation()
	}
	for _, solver := range s.solvers {
		solver.Enabled = true
	}
}

func (s *Skeleton) EndUpdate() {
	for i := range s.Bones {
		s.skinning[i] = s.Bones[i].SkinningMatrix()
	}
}

func (s *Skeleton) SkinningMatrices() []mgl32.Mat4 {
	return s.skinning
}

// ResetPose puts every bone to bind pose and refreshes globals
func (s *Skeleton) ResetPose() {
	s.ClearPhysicsOwned()
	for i := range s.Bones {
		b := &s.Bones[i]
		b.resetAnimation()
		b.EnableIK = false
		b.updateLocal()
	}
	s.propagateAll()
	s.EndUpdate()
}

func (s *Skeleton) setGlobal(i int) {
	b := &s.Bones[i]
	if b.Parent >= 0 {
		b.Global = s.Bones[b.Parent].Global.Mul4(b.Local)
	} else {
		b.Global = b.Local
	}
}

// propagate refreshes globals of bone subtree, physics owned bones keep theirs
func (s *Skeleton) propagate(i int) {
	for _, bi := range s.order[s.pos[i]:s.end[i]] {
		if s.owned[bi] {
			continue
		}
		s.setGlobal(bi)
	}
}

func (s *Skeleton) propagateAll() {
	for _, bi := range s.order {
		if !s.owned[bi] {
			s.setGlobal(bi)
		}
	}
}

// propagatePhase refreshes subtrees rooted at bones of the pass whose parent is outside of it
func (s *Skeleton) propagatePhase(afterPhysics bool) {
	for _, i := range s.sorted {
		b := &s.Bones[i]
		if b.DeformAfterPhysics != afterPhysics {
			continue
		}
		if b.Parent < 0 || s.Bones[b.Parent].DeformAfterPhysics != afterPhysics {
			s.propagate(i)
		}
	}
}

func (s *Skeleton) UpdateTransforms(afterPhysics bool) {
	for _, i := range s.sorted {
		b := &s.Bones[i]
		if b.DeformAfterPhysics != afterPhysics || s.owned[i] {
			continue
		}
		b.updateLocal()
	}

	s.propagatePhase(afterPhysics)

	for _, i := range s.sorted {
		b := &s.Bones[i]
		if b.DeformAfterPhysics != afterPhysics {
			continue
		}
		if b.HasAppend() {
			s.applyAppend(i)
			s.propagate(i)
		}
		if solver, ok := s.solverOf[i]; ok {
			s.solve(solver)
		}
	}

	s.propagatePhase(afterPhysics)
}

func (s *Skeleton) applyAppend(i int) {
	b := &s.Bones[i]
	if b.AppendParent < 0 {
		return
	}
	parent := &s.Bones[b.AppendParent]

	if b.AppendRotate {
		var r mgl32.Quat
		if b.AppendLocal || parent.AppendParent < 0 {
			r = parent.AnimRotate
		} else {
			r = parent.AppendR
		}
		if parent.EnableIK {
			r = parent.IKRotate.Mul(r)
		}
		b.AppendR = utils.Slerp(mgl32.QuatIdent(), r, b.AppendRate)
	}

	if b.AppendTranslate {
		var t mgl32.Vec3
		if b.AppendLocal || parent.AppendParent < 0 {
			t = parent.AnimTranslate
		} else {
			t = parent.AppendT
		}
		b.AppendT = t.Mul(b.AppendRate)
	}

	b.updateLocal()
}

func (s *Skeleton) SetBoneTranslation(i int, t mgl32.Vec3) {
	s.Bones[i].AnimTranslate = t
}

func (s *Skeleton) SetBoneRotation(i int, q mgl32.Quat) {
	s.Bones[i].AnimRotate = q
}

func (s *Skeleton) AddBoneTranslation(i int, t mgl32.Vec3) {
	b := &s.Bones[i]
	b.AnimTranslate = b.AnimTranslate.Add(t)
}

func (s *Skeleton) AddBoneRotation(i int, q mgl32.Quat) {
	b := &s.Bones[i]
	b.AnimRotate = b.AnimRotate.Mul(q)
}

// SetGlobalTransformPhysics writes simulated pose back into bone without touching children
func (s *Skeleton) SetGlobalTransformPhysics(i int, global mgl32.Mat4) {
	b := &s.Bones[i]
	b.Global = global
	if b.Parent >= 0 {
		b.Local = s.Bones[b.Parent].Global.Inv().Mul4(global)
	} else {
		b.Local = global
	}
	rot, pos := utils.Decompose(b.Local)
	b.AnimRotate = rot
	b.AnimTranslate = pos.Sub(b.Offset)
}

// UpdateNonPhysicsChildren refreshes every non owned bone from its parent in hierarchy order
func (s *Skeleton) UpdateNonPhysicsChildren() {
	for _, i := range s.order {
		if s.owned[i] || s.Bones[i].Parent < 0 {
			continue
		}
		s.setGlobal(i)
	}
}

func (s *Skeleton) SetPhysicsOwned(indices []int) {
	s.ClearPhysicsOwned()
	for _, i := range indices {
		s.MarkPhysicsOwned(i)
	}
}

func (s *Skeleton) MarkPhysicsOwned(i int) {
	if !s.owned[i] {
		s.owned[i] = true
		s.ownedList = append(s.ownedList, i)
	}
}

func (s *Skeleton) ClearPhysicsOwned() {
	for _, i := range s.ownedList {
		s.owned[i] = false
	}
	s.ownedList = s.ownedList[:0]
}

func (s *Skeleton) IsPhysicsOwned(i int) bool {
	return s.owned[i]
}

// PhysicsOwned returns sorted copy of owned bone indices
func (s *Skeleton) PhysicsOwned() []int {
	r := append([]int(nil), s.ownedList...)
	sort.Ints(r)
	return r
}

func (s *Skeleton) GlobalTransform(i int) mgl32.Mat4 {
	return s.Bones[i].Global
}

func (s *Skeleton) GlobalTransforms() []mgl32.Mat4 {
	r := make([]mgl32.Mat4, len(s.Bones))
	for i := range s.Bones {
		r[i] = s.Bones[i].Global
	}
	return r
}
