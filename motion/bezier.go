package motion

import (
	"math"
	"sync"
)

const (
	bezierIterations = 15
	bezierEpsilon    = 1e-6
)

// Bezier is cubic ease curve from (0,0) to (1,1) with two free control points
type Bezier struct {
	X1, Y1, X2, Y2 float32
}

var LinearBezier = &Bezier{X1: 20.0 / 127.0, Y1: 20.0 / 127.0, X2: 107.0 / 127.0, Y2: 107.0 / 127.0}

func NewBezier(x1, y1, x2, y2 byte) *Bezier {
	return &Bezier{
		X1: float32(x1) / 127.0,
		Y1: float32(y1) / 127.0,
		X2: float32(x2) / 127.0,
		Y2: float32(y2) / 127.0,
	}
}

func (b *Bezier) IsLinear() bool {
	return b.X1 == b.Y1 && b.X2 == b.Y2
}

func bezierComponent(p1, p2, s float64) float64 {
	is := 1 - s
	return 3*is*is*s*p1 + 3*is*s*s*p2 + s*s*s
}

func bezierDerivative(p1, p2, s float64) float64 {
	is := 1 - s
	return 3*is*is*p1 + 6*is*s*(p2-p1) + 3*s*s*(1-p2)
}

// Evaluate maps linear time fraction t to eased fraction
func (b *Bezier) Evaluate(t float32) float32 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	if b == nil || b.IsLinear() {
		return t
	}

	x1, y1, x2, y2 := float64(b.X1), float64(b.Y1), float64(b.X2), float64(b.Y2)
	target := float64(t)

	s := target
	for i := 0; i < bezierIterations; i++ {
		dx := bezierDerivative(x1, x2, s)
		if math.Abs(dx) < bezierEpsilon {
			break
		}
		next := s - (bezierComponent(x1, x2, s)-target)/dx
		if next < 0 {
			next = 0
		} else if next > 1 {
			next = 1
		}
		if math.Abs(next-s) < bezierEpsilon {
			s = next
			break
		}
		s = next
	}

	y := bezierComponent(y1, y2, s)
	if y < 0 {
		return 0
	}
	if y > 1 {
		return 1
	}
	return float32(y)
}

// BezierCache shares one curve instance per control byte quadruple.
// Safe for concurrent use.
type BezierCache struct {
	curves sync.Map
}

func bezierKey(x1, y1, x2, y2 byte) uint32 {
	return uint32(x1) | uint32(y1)<<8 | uint32(x2)<<16 | uint32(y2)<<24
}

func (c *BezierCache) Get(x1, y1, x2, y2 byte) *Bezier {
	key := bezierKey(x1, y1, x2, y2)
	if v, ok := c.curves.Load(key); ok {
		return v.(*Bezier)
	}
	v, _ := c.curves.LoadOrStore(key, NewBezier(x1, y1, x2, y2))
	return v.(*Bezier)
}

func (c *BezierCache) Len() int {
	n := 0
	c.curves.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
