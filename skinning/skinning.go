package skinning

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/mogaika/mmd_runtime/utils"
)

type Kind int

const (
	BDEF1 Kind = iota
	BDEF2
	BDEF4
	SDEF
	QDEF
)

func (k Kind) String() string {
	switch k {
	case BDEF1:
		return "BDEF1"
	case BDEF2:
		return "BDEF2"
	case BDEF4:
		return "BDEF4"
	case SDEF:
		return "SDEF"
	case QDEF:
		return "QDEF"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

const DefaultMinBatch = 1024

// Weight is bone binding of one vertex.
// BDEF2 and SDEF use Weights[0] for first bone and 1-Weights[0] for second.
type Weight struct {
	Kind    Kind
	Bones   [4]int
	Weights [4]float32

	// SDEF center and reference points
	C, R0, R1 mgl32.Vec3
}

func Bdef1(bone int) Weight {
	return Weight{Kind: BDEF1, Bones: [4]int{bone, -1, -1, -1}, Weights: [4]float32{1}}
}

func Bdef2(b0, b1 int, w float32) Weight {
	return Weight{Kind: BDEF2, Bones: [4]int{b0, b1, -1, -1}, Weights: [4]float32{w, 1 - w}}
}

func matrix(matrices []mgl32.Mat4, i int) mgl32.Mat4 {
	if i < 0 || i >= len(matrices) {
		return mgl32.Ident4()
	}
	return matrices[i]
}

func transformNormal(m mgl32.Mat4, n mgl32.Vec3) mgl32.Vec3 {
	return m.Mul4x1(n.Vec4(0)).Vec3()
}

// Vertex deforms one vertex, normal result is unit or zero
func Vertex(matrices []mgl32.Mat4, w *Weight, pos, normal mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	switch w.Kind {
	case BDEF1:
		m := matrix(matrices, w.Bones[0])
		return mgl32.TransformCoordinate(pos, m), utils.SafeNormalize(transformNormal(m, normal))
	case BDEF2:
		m0 := matrix(matrices, w.Bones[0])
		m1 := matrix(matrices, w.Bones[1])
		w0 := w.Weights[0]
		w1 := 1 - w0
		p := mgl32.TransformCoordinate(pos, m0).Mul(w0).Add(mgl32.TransformCoordinate(pos, m1).Mul(w1))
		n := transformNormal(m0, normal).Mul(w0).Add(transformNormal(m1, normal).Mul(w1))
		return p, utils.SafeNormalize(n)
	case SDEF:
		return sdef(matrices, w, pos, normal)
	case BDEF4, QDEF:
		var p, n mgl32.Vec3
		for i := 0; i < 4; i++ {
			if w.Weights[i] == 0 {
				continue
			}
			m := matrix(matrices, w.Bones[i])
			p = p.Add(mgl32.TransformCoordinate(pos, m).Mul(w.Weights[i]))
			n = n.Add(transformNormal(m, normal).Mul(w.Weights[i]))
		}
		return p, utils.SafeNormalize(n)
	default:
		return pos, utils.SafeNormalize(normal)
	}
}

// sdef moves center linearly and rotates offset from center by slerped bone rotations
func sdef(matrices []mgl32.Mat4, w *Weight, pos, normal mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	m0 := matrix(matrices, w.Bones[0])
	m1 := matrix(matrices, w.Bones[1])
	w0 := w.Weights[0]
	w1 := 1 - w0

	c := mgl32.TransformCoordinate(w.C, m0).Mul(w0).Add(mgl32.TransformCoordinate(w.C, m1).Mul(w1))
	q0, _ := utils.Decompose(m0)
	q1, _ := utils.Decompose(m1)
	q := utils.Slerp(q0, q1, w1)
	p := c.Add(q.Rotate(pos.Sub(w.C)))

	n := transformNormal(m0, normal).Mul(w0).Add(transformNormal(m1, normal).Mul(w1))
	return p, utils.SafeNormalize(n)
}

// Evaluator runs skinning over vertex batches in parallel
type Evaluator struct {
	// 0 means GOMAXPROCS
	Workers int
	// vertices per goroutine at least
	MinBatch int
}

func (e *Evaluator) workers(count int) (int, int) {
	workers := e.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	minBatch := e.MinBatch
	if minBatch <= 0 {
		minBatch = DefaultMinBatch
	}
	if max := (count + minBatch - 1) / minBatch; workers > max {
		workers = max
	}
	if workers < 1 {
		workers = 1
	}
	return workers, (count + workers - 1) / workers
}

// Evaluate skins positions and normals into output slices of the same length.
// normals may be nil, then outNormals is left untouched.
func (e *Evaluator) Evaluate(matrices []mgl32.Mat4, weights []Weight, positions, normals, outPositions, outNormals []mgl32.Vec3) {
	count := len(positions)
	if count == 0 {
		return
	}
	run := func(from, to int) {
		for i := from; i < to; i++ {
			var n mgl32.Vec3
			if normals != nil {
				n = normals[i]
			}
			p, rn := Vertex(matrices, &weights[i], positions[i], n)
			outPositions[i] = p
			if normals != nil {
				outNormals[i] = rn
			}
		}
	}

	workers, batch := e.workers(count)
	if workers == 1 {
		run(0, count)
		return
	}

	var wg sync.WaitGroup
	for from := 0; from < count; from += batch {
		to := from + batch
		if to > count {
			to = count
		}
		wg.Add(1)
		go func(from, to int) {
			defer wg.Done()
			run(from, to)
		}(from, to)
	}
	wg.Wait()
}

// Flatten copies vectors into tightly packed float buffer for render backends
func Flatten(dst []float32, src []mgl32.Vec3) []float32 {
	dst = dst[:0]
	for _, v := range src {
		dst = append(dst, v[0], v[1], v[2])
	}
	return dst
}
