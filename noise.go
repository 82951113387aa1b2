package msut

import (
	"math"
	"sort"

	"github.com/samber/lo"
)

// Noise estimation constants, named the way find_noise_level.rs names them.
const (
	noiseMinBins         = 256
	noiseMaxBins         = 16384
	noiseMinHistSamples  = 128
	noiseClusterGroups   = 2
	noiseValleySearchPad = 1
)

// FindNoiseLevel estimates the noise floor of a signal via a log-spaced
// histogram of its positive samples, split into a "noise" and "signal"
// cluster by 1-D k-means, with the split point refined to the nearest
// histogram valley. Returns +Inf if there are too few positive samples
// (< 128) to build a stable histogram; callers should fall back to
// NoiseLevelWindowed in that case, per spec.md sec 4.5's fallback mode.
func FindNoiseLevel(y []float64) float64 {
	positive := make([]float64, 0, len(y))
	for _, v := range y {
		if v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v) {
			positive = append(positive, v)
		}
	}
	if len(positive) < noiseMinHistSamples {
		return math.Inf(1)
	}

	logVals := make([]float64, len(positive))
	for i, v := range positive {
		logVals[i] = math.Log10(v)
	}
	sort.Float64s(logVals)

	lo_, hi_ := logVals[0], logVals[len(logVals)-1]
	if hi_ <= lo_ {
		return positive[0]
	}

	nBins := noiseChooseBins(len(logVals))
	binWidth := (hi_ - lo_) / float64(nBins)

	counts := make([]int, nBins)
	for _, v := range logVals {
		b := int((v - lo_) / binWidth)
		b = noiseClamp01Int(b, nBins-1)
		counts[b]++
	}

	centers := make([]float64, nBins)
	for i := range centers {
		centers[i] = noiseBinCenterLog(lo_, binWidth, i)
	}

	weighted := make([]kmeansPoint, 0, nBins)
	weightedIdx := make([]int, 0, nBins)
	for i, c := range counts {
		if c > 0 {
			weighted = append(weighted, kmeansPoint{centers[i]})
			weightedIdx = append(weightedIdx, i)
		}
	}
	if len(weighted) < noiseClusterGroups {
		return positive[0]
	}

	assign, centroids := kmeans(weighted, noiseClusterGroups)
	lowCluster := 0
	if centroids[1][0] < centroids[0][0] {
		lowCluster = 1
	}

	maxLowBin := -1
	for i, a := range assign {
		if a == lowCluster && weightedIdx[i] > maxLowBin {
			maxLowBin = weightedIdx[i]
		}
	}
	if maxLowBin < 0 {
		return positive[0]
	}

	valleyBin := noiseValleyBetween(counts, maxLowBin)
	thresholdLog := noiseBinCenterLog(lo_, binWidth, valleyBin)
	return math.Pow(10, thresholdLog)
}

// noiseChooseBins picks the histogram bin count as the next power of two at
// or above sqrt(n), clamped to [noiseMinBins, noiseMaxBins], per spec.md
// sec 4.5 step 1.
func noiseChooseBins(n int) int {
	b := nextPow2(int(math.Sqrt(float64(n))))
	if b < noiseMinBins {
		b = noiseMinBins
	}
	if b > noiseMaxBins {
		b = noiseMaxBins
	}
	return b
}

// nextPow2 returns the smallest power of two >= v (1 for v <= 1).
func nextPow2(v int) int {
	if v <= 1 {
		return 1
	}
	p := 1
	for p < v {
		p <<= 1
	}
	return p
}

func noiseClamp01Int(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func noiseBinCenterLog(lo_, width float64, bin int) float64 {
	return lo_ + width*(float64(bin)+0.5)
}

// noiseValleyBetween walks outward from maxLowBin looking for the local
// minimum count within the next few bins (the histogram valley separating
// the noise cluster from the signal cluster).
func noiseValleyBetween(counts []int, maxLowBin int) int {
	best := maxLowBin
	bestCount := counts[maxLowBin]
	for i := maxLowBin; i < len(counts) && i < maxLowBin+8; i++ {
		if counts[i] < bestCount {
			bestCount = counts[i]
			best = i
		}
		if i > maxLowBin && counts[i] > bestCount {
			break
		}
	}
	return best
}

// NoiseLevelWindowed is the fallback noise estimator for signals too short
// for a stable histogram: a sliding-window low quantile, per spec.md sec
// 4.5's "Fallback mode" paragraph. windowFrac is the window size as a
// fraction of len(y) (typically 0.1), quantile is in (0, 1) (typically 0.1).
func NoiseLevelWindowed(y []float64, windowFrac float64, quantile float64) float64 {
	n := len(y)
	if n == 0 {
		return 0
	}
	w := int(float64(n) * windowFrac)
	if w < 3 {
		w = 3
	}
	if w > n {
		w = n
	}

	mins := make([]float64, 0, n-w+1)
	for start := 0; start+w <= n; start++ {
		window := append([]float64(nil), y[start:start+w]...)
		sort.Float64s(window)
		q := noiseQuantile(window, quantile)
		mins = append(mins, q)
	}
	if len(mins) == 0 {
		return lo.Min(y)
	}
	return lo.Min(mins)
}

func noiseQuantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo_ := int(math.Floor(pos))
	hi_ := int(math.Ceil(pos))
	if lo_ == hi_ {
		return sorted[lo_]
	}
	frac := pos - float64(lo_)
	return sorted[lo_]*(1-frac) + sorted[hi_]*frac
}
