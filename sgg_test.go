package msut

import (
	"math"
	"testing"
)

func linspace(a, b float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = a
		return out
	}
	step := (b - a) / float64(n-1)
	for i := range out {
		out[i] = a + step*float64(i)
	}
	return out
}

func TestSggSmoothConstant(t *testing.T) {
	xs := linspace(0, 10, 41)
	ys := make([]float64, len(xs))
	for i := range ys {
		ys[i] = 5.0
	}
	out := Sgg(ys, xs, SggOptions{WindowSize: 9, Derivative: 0, Polynomial: 3})
	for i, v := range out {
		if math.Abs(v-5.0) > 1e-6 {
			t.Fatalf("index %d: got %g, want 5.0", i, v)
		}
	}
}

func TestSggDerivativeOfLine(t *testing.T) {
	xs := linspace(0, 10, 51)
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = 2*x + 1
	}
	out := Sgg(ys, xs, SggOptions{WindowSize: 9, Derivative: 1, Polynomial: 3})
	for i := 5; i < len(out)-5; i++ {
		if math.Abs(out[i]-2.0) > 1e-6 {
			t.Fatalf("index %d: got %g, want slope 2.0", i, out[i])
		}
	}
}

func TestSggPanicsOnEvenWindow(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on even window size")
		}
	}()
	xs := linspace(0, 1, 20)
	ys := make([]float64, len(xs))
	Sgg(ys, xs, SggOptions{WindowSize: 10, Derivative: 0, Polynomial: 3})
}

func TestSggPanicsOnWindowLargerThanData(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on oversized window")
		}
	}()
	xs := linspace(0, 1, 5)
	ys := make([]float64, len(xs))
	Sgg(ys, xs, SggOptions{WindowSize: 11, Derivative: 0, Polynomial: 3})
}

func TestSggSmoothsGaussianPeak(t *testing.T) {
	xs := linspace(0, 20, 101)
	ys := make([]float64, len(xs))
	for i, x := range xs {
		d := x - 10
		ys[i] = 100*math.Exp(-d*d/2) + 0.01*math.Sin(50*x)
	}
	out := Sgg(ys, xs, DefaultSggOptions())
	apex := 0
	for i, v := range out {
		if v > out[apex] {
			apex = i
		}
	}
	if math.Abs(xs[apex]-10) > 0.5 {
		t.Fatalf("smoothed apex at x=%g, want near 10", xs[apex])
	}
}
