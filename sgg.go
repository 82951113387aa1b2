package msut

import "fmt"

// SggOptions configures a Savitzky-Golay convolution.
type SggOptions struct {
	WindowSize int // odd, >= 5
	Derivative int // 0..5
	Polynomial int // >= 1, < WindowSize
}

// DefaultSggOptions returns a 9-point cubic smoother (no derivative).
func DefaultSggOptions() SggOptions {
	return SggOptions{WindowSize: 9, Derivative: 0, Polynomial: 3}
}

// Sgg smooths or differentiates ys (sampled at xs) with a Savitzky-Golay
// filter. Every output index is defined: the first and last WindowSize/2
// samples use asymmetric (off-center) weight rows instead of being
// truncated. Panics with an error wrapping ErrInvalidArgs on a malformed
// window (the InvalidWindow failure of spec.md sec 4.3).
func Sgg(ys []float64, xs []float64, opts SggOptions) []float64 {
	w := opts.WindowSize
	d := opts.Derivative
	p := opts.Polynomial

	if w%2 == 0 || w < 5 {
		panic(fmt.Errorf("%w: window size must be odd and >= 5, got %d", ErrInvalidArgs, w))
	}
	if len(ys) == 0 || len(xs) == 0 {
		panic(fmt.Errorf("%w: x and y must be non-empty", ErrInvalidArgs))
	}
	if w > len(ys) {
		panic(fmt.Errorf("%w: window size %d exceeds data length %d", ErrInvalidArgs, w, len(ys)))
	}
	if p < 1 {
		panic(fmt.Errorf("%w: polynomial degree must be positive", ErrInvalidArgs))
	}

	half := w / 2
	n := len(ys)

	hs := sggSpacingPowers(xs, half, d)
	weights := sggFullWeights(w, p, d)

	out := make([]float64, n)

	for i := 0; i < half; i++ {
		wl := weights[half-i-1]
		wr := weights[half+i+1]

		var dl, dr float64
		for l := 0; l < w; l++ {
			dl += wl[l] * ys[l]
			dr += wr[l] * ys[n-w+l]
		}

		idxL := half - i - 1
		idxR := n - half + i
		out[idxL] = dl / hs[idxL]
		out[idxR] = dr / hs[idxR]
	}

	wc := weights[half]
	for i := w; i <= n; i++ {
		var acc float64
		for l := 0; l < w; l++ {
			acc += wc[l] * ys[l+i-w]
		}
		idx := i - half - 1
		out[idx] = acc / hs[idx]
	}

	return out
}

// sggSpacingPowers returns, per output index, the local mean spacing
// raised to the derivative order (the non-uniform-x denominator in
// spec.md sec 4.3), or 1 for a zeroth derivative.
func sggSpacingPowers(xs []float64, half int, derivative int) []float64 {
	n := len(xs)
	if derivative == 0 || n < 2 {
		hs := make([]float64, n)
		for i := range hs {
			hs[i] = 1
		}
		return hs
	}

	pref := make([]float64, n)
	for i := 0; i < n-1; i++ {
		pref[i+1] = pref[i] + (xs[i+1] - xs[i])
	}

	hs := make([]float64, n)
	for c := 0; c < n; c++ {
		start := 0
		if c >= half {
			start = c - half
		}
		endExcl := c + half
		if endExcl >= n-1 {
			endExcl = n - 1
		}
		count := 0
		if endExcl > start {
			count = endExcl - start
		}
		avg := 1.0
		if count > 0 {
			avg = (pref[endExcl] - pref[start]) / float64(count)
		}
		hs[c] = ipow(avg, derivative)
	}
	return hs
}

func ipow(x float64, n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= x
	}
	return r
}

// sggFullWeights builds the m-by-m table of convolution weights for every
// offset within the window, derived from Gram polynomials (spec.md sec 4.3).
func sggFullWeights(m, n, s int) [][]float64 {
	half := m / 2

	gi := make([][]float64, m)
	for idx := 0; idx < m; idx++ {
		iOff := idx - half
		tbl := gramTable(iOff, half, n, 0)
		row := make([]float64, n+1)
		for k := 0; k <= n; k++ {
			row[k] = tbl[k][0]
		}
		gi[idx] = row
	}

	gt := make([][]float64, m)
	for idx := 0; idx < m; idx++ {
		tOff := idx - half
		tbl := gramTable(tOff, half, n, s)
		row := make([]float64, n+1)
		for k := 0; k <= n; k++ {
			row[k] = tbl[k][s]
		}
		gt[idx] = row
	}

	twoM := 2 * half
	coef := make([]float64, n+1)
	for k := 0; k <= n; k++ {
		num := genFact(twoM, k)
		den := genFact(twoM+k+1, k+1)
		coef[k] = float64(2*k+1) * (num / den)
	}

	w := make([][]float64, m)
	for t := 0; t < m; t++ {
		w[t] = make([]float64, m)
		for j := 0; j < m; j++ {
			var sum float64
			for k := 0; k <= n; k++ {
				sum += coef[k] * gi[j][k] * gt[t][k]
			}
			w[t][j] = sum
		}
	}
	return w
}

// gramTable computes generalized Gram polynomials G[k][s] at offset i for
// all orders k in [0, nMax] and all derivative orders s in [0, sMax], via
// the standard three-term recurrence.
func gramTable(i, m, nMax, sMax int) [][]float64 {
	nm := nMax + 1
	sm := sMax + 1
	g := make([][]float64, nm)
	for k := range g {
		g[k] = make([]float64, sm)
	}
	g[0][0] = 1

	for k := 1; k <= nMax; k++ {
		kf := float64(k)
		denom := kf * float64(2*m-k+1)
		a := float64(4*k-2) / denom
		b := (float64(k-1) * float64(2*m+k)) / denom

		for s := 0; s <= sMax; s++ {
			term1 := float64(i) * g[k-1][s]
			var term2 float64
			if s > 0 {
				term2 = float64(s) * g[k-1][s-1]
			}
			var term3 float64
			if k >= 2 {
				term3 = g[k-2][s]
			}
			g[k][s] = a*(term1+term2) - b*term3
		}
	}
	return g
}

// genFact is the generalized falling-factorial-ratio term used by the
// Gram-polynomial weight normalization.
func genFact(a, b int) float64 {
	if a >= b {
		acc := 1.0
		for j := a - b + 1; j <= a; j++ {
			acc *= float64(j)
		}
		return acc
	}
	return 1
}
