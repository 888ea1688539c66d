package skinning

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func near(a, b mgl32.Vec3) bool {
	return a.Sub(b).Len() <= 1e-5
}

var testMatrices = []mgl32.Mat4{
	mgl32.Translate3D(1, 0, 0),
	mgl32.Translate3D(0, 2, 0).Mul4(mgl32.HomogRotate3DZ(math.Pi / 2)),
}

func TestBdef2Endpoints(t *testing.T) {
	pos := mgl32.Vec3{1, 1, 0}
	normal := mgl32.Vec3{0, 1, 0}
	for _, tc := range []struct {
		w    float32
		bone int
	}{
		{1, 0},
		{0, 1},
	} {
		w := Bdef2(0, 1, tc.w)
		p, n := Vertex(testMatrices, &w, pos, normal)
		single := Bdef1(tc.bone)
		sp, sn := Vertex(testMatrices, &single, pos, normal)
		if !near(p, sp) || !near(n, sn) {
			t.Errorf("Bdef2(w=%v)=%v,%v; expected bone %d result %v,%v", tc.w, p, n, tc.bone, sp, sn)
		}
	}
}

func TestNormalUnitLength(t *testing.T) {
	normal := mgl32.Vec3{0.3, 0.9, 0.1}
	for _, wv := range []float32{0, 0.1, 0.25, 0.5, 0.75, 1} {
		w := Bdef2(0, 1, wv)
		_, n := Vertex(testMatrices, &w, mgl32.Vec3{}, normal)
		if l := n.Len(); math.Abs(float64(l-1)) > 1e-5 {
			t.Errorf("Bdef2(w=%v) normal length=%v; expected 1", wv, l)
		}
	}

	// opposite rotations cancel the normal
	flip := []mgl32.Mat4{mgl32.Ident4(), mgl32.HomogRotate3DZ(math.Pi)}
	w := Bdef2(0, 1, 0.5)
	if _, n := Vertex(flip, &w, mgl32.Vec3{}, mgl32.Vec3{1, 0, 0}); n != (mgl32.Vec3{}) {
		t.Errorf("cancelled normal=%v; expected zero", n)
	}
}

func TestBadBoneIndex(t *testing.T) {
	w := Bdef1(7)
	pos := mgl32.Vec3{1, 2, 3}
	if p, _ := Vertex(testMatrices, &w, pos, mgl32.Vec3{0, 1, 0}); p != pos {
		t.Errorf("Bdef1(7)=%v; expected untouched %v", p, pos)
	}
}

func TestBdef4(t *testing.T) {
	w := Weight{Kind: BDEF4, Bones: [4]int{0, 0, 1, -1}, Weights: [4]float32{0.25, 0.25, 0.5, 0}}
	half := Bdef2(0, 1, 0.5)
	p4, n4 := Vertex(testMatrices, &w, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1})
	p2, n2 := Vertex(testMatrices, &half, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1})
	if !near(p4, p2) || !near(n4, n2) {
		t.Errorf("Bdef4=%v,%v; expected %v,%v", p4, n4, p2, n2)
	}
}

func TestSdef(t *testing.T) {
	// same matrix on both bones makes sdef equal to plain transform
	same := []mgl32.Mat4{testMatrices[1], testMatrices[1]}
	w := Weight{Kind: SDEF, Bones: [4]int{0, 1}, Weights: [4]float32{0.3}, C: mgl32.Vec3{0, 1, 0}}
	pos := mgl32.Vec3{0.5, 1.5, 0}
	p, _ := Vertex(same, &w, pos, mgl32.Vec3{0, 1, 0})
	if expected := mgl32.TransformCoordinate(pos, testMatrices[1]); !near(p, expected) {
		t.Errorf("Sdef=%v; expected %v", p, expected)
	}

	w.Weights[0] = 1
	single := Bdef1(0)
	sp, _ := Vertex(testMatrices, &single, pos, mgl32.Vec3{})
	if p, _ := Vertex(testMatrices, &w, pos, mgl32.Vec3{}); !near(p, sp) {
		t.Errorf("Sdef(w=1)=%v; expected %v", p, sp)
	}
}

func TestEvaluateParallel(t *testing.T) {
	const count = 1000
	positions := make([]mgl32.Vec3, count)
	normals := make([]mgl32.Vec3, count)
	weights := make([]Weight, count)
	for i := range positions {
		positions[i] = mgl32.Vec3{float32(i), 0, 0}
		normals[i] = mgl32.Vec3{0, 1, 0}
		weights[i] = Bdef2(0, 1, float32(i%5)/4)
	}

	serial := Evaluator{Workers: 1}
	parallel := Evaluator{Workers: 8, MinBatch: 16}
	sp, sn := make([]mgl32.Vec3, count), make([]mgl32.Vec3, count)
	pp, pn := make([]mgl32.Vec3, count), make([]mgl32.Vec3, count)
	serial.Evaluate(testMatrices, weights, positions, normals, sp, sn)
	parallel.Evaluate(testMatrices, weights, positions, normals, pp, pn)

	for i := range sp {
		if sp[i] != pp[i] || sn[i] != pn[i] {
			t.Fatalf("vertex %d serial %v,%v parallel %v,%v", i, sp[i], sn[i], pp[i], pn[i])
		}
	}
}

func TestWorkers(t *testing.T) {
	for _, tc := range []struct {
		e              Evaluator
		count          int
		workers, batch int
	}{
		{Evaluator{Workers: 4, MinBatch: 100}, 1000, 4, 250},
		{Evaluator{Workers: 4, MinBatch: 100}, 150, 2, 75},
		{Evaluator{Workers: 4, MinBatch: 100}, 10, 1, 10},
		{Evaluator{Workers: 3}, 10, 1, 10},
	} {
		w, b := tc.e.workers(tc.count)
		if w != tc.workers || b != tc.batch {
			t.Errorf("workers(%+v, %d)=%d,%d; expected %d,%d", tc.e, tc.count, w, b, tc.workers, tc.batch)
		}
	}
}

func TestFlatten(t *testing.T) {
	r := Flatten(nil, []mgl32.Vec3{{1, 2, 3}, {4, 5, 6}})
	if len(r) != 6 || r[3] != 4 || r[5] != 6 {
		t.Errorf("Flatten()=%v", r)
	}
}
