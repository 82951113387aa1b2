package msut

import "math"

// lowerBound returns the index of the first element of a (sorted
// ascending) not less than x, or len(a) if none.
func lowerBound(a []float64, x float64) int {
	lo, hi := 0, len(a)
	for lo < hi {
		mid := (lo + hi) / 2
		if a[mid] < x {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// upperBound returns the index of the first element of a strictly greater
// than x, or len(a) if none.
func upperBound(a []float64, x float64) int {
	lo, hi := 0, len(a)
	for lo < hi {
		mid := (lo + hi) / 2
		if a[mid] <= x {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// closestIndex returns the index of the element of xs nearest v, with
// ties broken toward the lower index.
func closestIndex(xs []float64, v float64) int {
	if len(xs) == 0 {
		return 0
	}
	lo := lowerBound(xs, v)
	if lo == 0 {
		return 0
	}
	if lo >= len(xs) {
		return len(xs) - 1
	}
	if math.Abs(v-xs[lo-1]) <= math.Abs(xs[lo]-v) {
		return lo - 1
	}
	return lo
}

// meanStep is the mean positive step between consecutive x samples.
func meanStep(xs []float64) float64 {
	sum, n := 0.0, 0
	for i := 1; i < len(xs); i++ {
		d := math.Abs(xs[i] - xs[i-1])
		if !math.IsInf(d, 0) && d > 0 {
			sum += d
			n++
		}
	}
	if n == 0 {
		return math.Max(2.220446049250313e-16, 0.01)
	}
	return math.Max(sum/float64(n), 2.220446049250313e-16)
}

// minPositiveStep is the smallest strictly-positive step between
// consecutive x samples, or ok=false if there is none.
func minPositiveStep(xs []float64) (float64, bool) {
	m := math.Inf(1)
	for i := 1; i < len(xs); i++ {
		d := xs[i] - xs[i-1]
		if d > 0 && d < m {
			m = d
		}
	}
	return m, !math.IsInf(m, 1)
}

// minSep is a minimum separation between two apex candidates with the
// coefficients (0.15, 1.2) of utilities.rs. Nothing calls it: the window
// scan uses scanMinSeparation (0.25, 1.5) in scanpeaks.go instead.
func minSep(xs []float64, windowSize int) float64 {
	avg := meanStep(xs)
	base, ok := minPositiveStep(xs)
	if !ok {
		base = avg
	}
	base = math.Max(base, 2.220446049250313e-16)
	byWindow := 0.15 * float64(windowSize) * avg
	floor := 1.2 * base
	return math.Max(byWindow, floor)
}

// quadPeak refines the vertex of a parabola through three consecutive
// (x, y) samples centered at i, returning the x of the vertex.
func quadPeak(xs []float64, ys []float64, i int) float64 {
	xm1, x0, xp1 := xs[i-1], xs[i], xs[i+1]
	ym1, y0, yp1 := ys[i-1], ys[i], ys[i+1]

	a0 := xm1 - x0
	a1 := xp1 - x0
	dy0 := ym1 - y0
	dy1 := yp1 - y0
	denom := a0 * a1 * (a0 - a1)
	if denom == 0 {
		return x0
	}
	a := (dy0*a1 - dy1*a0) / denom
	if a == 0 {
		return x0
	}
	b := (dy1*a0*a0 - dy0*a1*a1) / denom
	return x0 - b/(2*a)
}

// xyIntegration returns the trapezoidal area under y(x) and the maximum
// sample value, both as f64 accumulators to avoid cancellation.
func xyIntegration(x []float64, y []float64) (area float64, maxY float64) {
	n := len(x)
	if n == 0 || n != len(y) {
		return 0, math.Inf(-1)
	}
	if n == 1 {
		return 0, y[0]
	}
	s := 0.0
	m := y[0]
	for i := 0; i < n-1; i++ {
		dx := x[i+1] - x[i]
		s += dx * (y[i] + y[i+1]) * 0.5
		if y[i+1] > m {
			m = y[i+1]
		}
	}
	return s, m
}
