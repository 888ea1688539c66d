package motion

import (
	"math"
	"testing"
)

var bezierCurves = [][4]byte{
	{20, 20, 107, 107},
	{0, 0, 127, 127},
	{64, 0, 64, 127},
	{127, 0, 0, 127},
	{10, 90, 30, 127},
	{0, 127, 127, 0},
}

func TestBezierEndpoints(t *testing.T) {
	for _, c := range bezierCurves {
		b := NewBezier(c[0], c[1], c[2], c[3])
		if v := b.Evaluate(0); v != 0 {
			t.Errorf("Bezier(%v).Evaluate(0)=%v; expected 0", c, v)
		}
		if v := b.Evaluate(1); v != 1 {
			t.Errorf("Bezier(%v).Evaluate(1)=%v; expected 1", c, v)
		}
		if v := b.Evaluate(-3); v != 0 {
			t.Errorf("Bezier(%v).Evaluate(-3)=%v; expected 0", c, v)
		}
		if v := b.Evaluate(5); v != 1 {
			t.Errorf("Bezier(%v).Evaluate(5)=%v; expected 1", c, v)
		}
	}
}

func TestBezierLinear(t *testing.T) {
	for i := 0; i <= 100; i++ {
		x := float32(i) / 100
		if v := LinearBezier.Evaluate(x); math.Abs(float64(v-x)) > 1e-5 {
			t.Errorf("LinearBezier.Evaluate(%v)=%v; expected %v", x, v, x)
		}
	}
	var nilCurve *Bezier
	if v := nilCurve.Evaluate(0.3); v != 0.3 {
		t.Errorf("nil Bezier.Evaluate(0.3)=%v; expected 0.3", v)
	}
}

func TestBezierMonotonic(t *testing.T) {
	for _, c := range [][4]byte{bezierCurves[0], bezierCurves[1], bezierCurves[2], bezierCurves[4]} {
		b := NewBezier(c[0], c[1], c[2], c[3])
		prev := float32(0)
		for i := 1; i <= 200; i++ {
			v := b.Evaluate(float32(i) / 200)
			if v+1e-4 < prev {
				t.Errorf("Bezier(%v) decreases at %v: %v < %v", c, float32(i)/200, v, prev)
				break
			}
			prev = v
		}
	}
}

func TestBezierEaseIn(t *testing.T) {
	// slow start curve stays below diagonal
	b := NewBezier(127, 0, 127, 0)
	if v := b.Evaluate(0.5); v >= 0.5 {
		t.Errorf("ease in Evaluate(0.5)=%v; expected < 0.5", v)
	}
}

func TestBezierCache(t *testing.T) {
	var c BezierCache
	a := c.Get(1, 2, 3, 4)
	b := c.Get(1, 2, 3, 4)
	d := c.Get(4, 3, 2, 1)
	if a != b {
		t.Errorf("BezierCache returned different instances for same key")
	}
	if a == d {
		t.Errorf("BezierCache returned same instance for different keys")
	}
	if c.Len() != 2 {
		t.Errorf("BezierCache.Len()=%d; expected 2", c.Len())
	}
}
