package msut

import "math"

// ScanPeaksOptions configures a single-window candidate scan.
type ScanPeaksOptions struct {
	Epsilon    float64
	WindowSize int
}

// DefaultScanPeaksOptions matches the default epsilon and window used
// across the pipeline when the caller supplies none.
func DefaultScanPeaksOptions() ScanPeaksOptions {
	return ScanPeaksOptions{Epsilon: 1e-5, WindowSize: 11}
}

// defaultWindowSizes is the ladder of odd SG window sizes find_peaks scans
// across, per spec.md sec 4.4 step 2.
var defaultWindowSizes = []int{5, 7, 9, 11, 13, 15, 17, 19, 21, 23, 25, 27, 29, 31, 33}

// ScanForPeaks finds candidate apex positions in a single window-size pass:
// it smooths y and its first derivative with Sgg, collects derivative
// zero-crossings and flat-top plateaus as candidates, then merges
// candidates closer together than the window's minimum separation.
func ScanForPeaks(data DataXY, opts ScanPeaksOptions) []float64 {
	n := len(data.X)
	if n < 3 || n != len(data.Y) {
		return nil
	}
	ws := opts.WindowSize
	if ws < 3 {
		ws = 3
	}

	ysSm := Sgg(data.Y, data.X, SggOptions{WindowSize: ws, Derivative: 0, Polynomial: 3})
	dy := Sgg(data.Y, data.X, SggOptions{WindowSize: ws, Derivative: 1, Polynomial: 3})

	eps := opts.Epsilon
	allFlat := true
	for _, v := range dy {
		if math.Abs(v) > eps {
			allFlat = false
			break
		}
	}
	if allFlat {
		return nil
	}

	sep := scanMinSeparation(data.X, ws)

	type cand struct {
		x   float64
		y   float64
		idx int
	}
	var cands []cand

	for k := 0; k < n-1; k++ {
		a := signEps(dy[k], eps)
		b := signEps(dy[k+1], eps)
		if (a > 0 && b <= 0) || (a >= 0 && b < 0) {
			xp := refineZeroCross(data.X[k], data.X[k+1], dy[k], dy[k+1])
			i := k
			if math.Abs(xp-data.X[k]) > math.Abs(data.X[k+1]-xp) {
				i = k + 1
			}
			cands = append(cands, cand{xp, ysSm[i], i})
		}
	}

	i := 0
	for i < n {
		if math.Abs(dy[i]) <= eps {
			a := i
			for i+1 < n && math.Abs(dy[i+1]) <= eps {
				i++
			}
			b := i
			if !(a == 0 && b+1 >= n) {
				leftOK := a == 0 || ysSm[a] >= ysSm[a-1]
				rightOK := b+1 >= n || ysSm[b] >= ysSm[b+1]
				if leftOK && rightOK {
					im := a
					ym := ysSm[a]
					for j := a + 1; j <= b; j++ {
						if ysSm[j] > ym {
							ym = ysSm[j]
							im = j
						}
					}
					var xp float64
					if im > 0 && im+1 < n {
						xp = quadPeak(data.X, ysSm, im)
					} else {
						xp = data.X[im]
					}
					cands = append(cands, cand{xp, ym, im})
				}
			}
		}
		i++
	}

	if len(cands) == 0 {
		return nil
	}
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && cands[j].x < cands[j-1].x; j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}

	out := make([]float64, 0, len(cands))
	lastX := math.Inf(-1)
	lastIdx := -1
	lastY := math.Inf(-1)

	for _, c := range cands {
		if lastIdx == -1 || c.x-lastX >= sep {
			out = append(out, c.x)
			lastX, lastIdx, lastY = c.x, c.idx, c.y
			continue
		}
		l, r := lastIdx, c.idx
		if l > r {
			l, r = r, l
		}
		valley := math.Inf(1)
		for j := l; j <= r; j++ {
			if ysSm[j] < valley {
				valley = ysSm[j]
			}
		}
		separated := valley <= 0.8*math.Min(lastY, c.y)
		if separated {
			out = append(out, c.x)
			lastX, lastIdx, lastY = c.x, c.idx, c.y
		} else if c.y > lastY {
			out[len(out)-1] = c.x
			lastX, lastIdx, lastY = c.x, c.idx, c.y
		}
	}
	return out
}

// ScanForPeaksAcrossWindows runs ScanForPeaks over every usable odd window
// size in windowSizes (defaultWindowSizes if nil), merging the union of
// candidates across window sizes and deduping by the minimum separation
// for opts.WindowSize, per spec.md sec 4.4 step 2 ("scans across multiple
// window sizes, merging results").
func ScanForPeaksAcrossWindows(data DataXY, opts ScanPeaksOptions, windowSizes []int) []float64 {
	n := len(data.X)
	if n < 3 || n != len(data.Y) {
		return nil
	}
	if windowSizes == nil {
		windowSizes = defaultWindowSizes
	}

	seen := make(map[int]bool)
	var merged []float64
	for _, ws := range windowSizes {
		wsEff := ws
		if wsEff%2 == 0 {
			wsEff--
		}
		if wsEff < 3 || wsEff > n {
			continue
		}
		if seen[wsEff] {
			continue
		}
		seen[wsEff] = true

		o := opts
		o.WindowSize = wsEff
		positions := ScanForPeaks(data, o)
		merged = append(merged, positions...)
	}
	if len(merged) == 0 {
		return nil
	}

	for i := 1; i < len(merged); i++ {
		for j := i; j > 0 && merged[j] < merged[j-1]; j-- {
			merged[j], merged[j-1] = merged[j-1], merged[j]
		}
	}

	sep := scanMinSeparation(data.X, opts.WindowSize)
	out := make([]float64, 0, len(merged))
	lastX := math.Inf(-1)
	for _, x := range merged {
		if len(out) == 0 || x-lastX >= sep {
			out = append(out, x)
			lastX = x
		}
	}
	return out
}

func signEps(v, eps float64) int {
	switch {
	case v > eps:
		return 1
	case v < -eps:
		return -1
	default:
		return 0
	}
}

func refineZeroCross(x0, x1, d0, d1 float64) float64 {
	denom := d0 - d1
	if math.Abs(denom) > 1.1920929e-7 {
		return x0 + (x1-x0)*(d0/denom)
	}
	return 0.5 * (x0 + x1)
}

// scanMinSeparation is the minimum allowed gap between two candidate apex
// positions for a given window size.
func scanMinSeparation(x []float64, windowSize int) float64 {
	n := len(x)
	dxAvg := math.Abs(x[n-1]-x[0]) / (float64(n) - 1.0)
	dxMin := math.Inf(1)
	for i := 1; i < n; i++ {
		d := x[i] - x[i-1]
		if d > 0 && d < dxMin {
			dxMin = d
		}
	}
	if math.IsInf(dxMin, 1) {
		dxMin = math.Max(dxAvg, 2.220446049250313e-16)
	}
	sepWs := 0.25 * float64(windowSize) * dxAvg
	sepFloor := 1.5 * dxMin
	return math.Max(sepWs, sepFloor)
}
