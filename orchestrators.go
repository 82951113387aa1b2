package msut

import (
	"math"
	"sort"
)

// Roi names a region of interest in rt-space: a center and a half-width.
type Roi struct {
	RT     float64
	Window float64
}

// GetPeak finds the single best peak near roi.RT by running FindPeaks
// across every usable window size in defaultWindowSizes and picking the
// result closest to roi.RT. bestClosestToRT narrows the candidates in turn
// to peaks whose rt lies inside their own [From, To], to those within 0.1
// of the smallest rt distance, to those within one MAD of the median rt,
// and to those whose width is within one standard deviation of the mean
// width (falling back to the full candidate list when none is), then
// returns the widest — grounded in get_peak_across_windows/best_closest_to_rt.
func GetPeak(data DataXY, roi Roi, opts FindPeaksOptions) (Peak, bool) {
	return getPeakAcrossWindows(data, roi, opts, defaultWindowSizes)
}

func getPeakAcrossWindows(data DataXY, roi Roi, opts FindPeaksOptions, windowSizes []int) (Peak, bool) {
	n := len(data.X)
	if len(data.Y) < n {
		n = len(data.Y)
	}
	if n < 3 {
		return Peak{}, false
	}

	var candidates []Peak
	for _, ws := range windowSizes {
		wsEff := oddAtMost(ws, n)
		if wsEff == 0 {
			continue
		}
		o := opts
		o.ScanPeaksOptions.WindowSize = wsEff

		peaks := findPeaksRecovered(data, o)
		if len(peaks) == 0 {
			continue
		}
		if best, ok := closestToRT(peaks, roi.RT); ok {
			candidates = append(candidates, best)
		}
	}
	if len(candidates) == 0 {
		return Peak{}, false
	}
	return bestClosestToRT(candidates, roi.RT)
}

func oddAtMost(ws, n int) int {
	if n < 3 || ws > n {
		return 0
	}
	w := ws
	if w%2 == 0 {
		w--
	}
	if w >= 3 {
		return w
	}
	return 0
}

func findPeaksRecovered(data DataXY, opts FindPeaksOptions) (peaks []Peak) {
	defer func() {
		if recover() != nil {
			peaks = nil
		}
	}()
	return FindPeaks(data, opts)
}

func closestToRT(peaks []Peak, rt float64) (Peak, bool) {
	if len(peaks) == 0 || math.IsNaN(rt) || math.IsInf(rt, 0) {
		return Peak{}, false
	}
	best := peaks[0]
	bestD := math.Abs(best.RT - rt)
	for _, p := range peaks[1:] {
		d := math.Abs(p.RT - rt)
		if d < bestD {
			best, bestD = p, d
		}
	}
	return best, true
}

func bestClosestToRT(list []Peak, rt float64) (Peak, bool) {
	if len(list) == 0 || math.IsNaN(rt) || math.IsInf(rt, 0) {
		return Peak{}, false
	}

	var inWindow []Peak
	for _, p := range list {
		a, b := math.Min(p.From, p.To), math.Max(p.From, p.To)
		if b-a > 0 && p.RT >= a && p.RT <= b {
			inWindow = append(inWindow, p)
		}
	}
	if len(inWindow) == 0 {
		return Peak{}, false
	}

	minDelta := math.Inf(1)
	for _, p := range inWindow {
		if d := math.Abs(p.RT - rt); d < minDelta {
			minDelta = d
		}
	}

	const eps = 0.1
	var tied []Peak
	for _, p := range inWindow {
		if math.Abs(math.Abs(p.RT-rt)-minDelta) <= eps {
			tied = append(tied, p)
		}
	}
	if len(tied) == 1 {
		return tied[0], true
	}

	rts := make([]float64, len(tied))
	for i, p := range tied {
		rts[i] = p.RT
	}
	rtMedian := median(rts)
	rtMAD := mad(rts, rtMedian)

	var rtBand []Peak
	if rtMAD > 0 && isFinite(rtMAD) {
		for _, p := range tied {
			if math.Abs(p.RT-rtMedian) <= rtMAD {
				rtBand = append(rtBand, p)
			}
		}
	} else {
		rtBand = tied
	}
	if len(rtBand) == 1 {
		return rtBand[0], true
	}

	basePool := rtBand
	if len(basePool) == 0 {
		basePool = list
	}

	widths := make([]float64, len(basePool))
	for i, p := range basePool {
		widths[i] = math.Abs(p.To - p.From)
	}
	wMean := mean(widths)
	wSD := stddev(widths)

	var widthBand []Peak
	if wSD > 0 && isFinite(wSD) {
		for _, p := range basePool {
			if math.Abs(math.Abs(p.To-p.From)-wMean) <= wSD {
				widthBand = append(widthBand, p)
			}
		}
	}

	finalPool := widthBand
	if len(finalPool) == 0 {
		finalPool = list
	}

	best := finalPool[0]
	bestWidth := math.Abs(best.To - best.From)
	for _, p := range finalPool[1:] {
		w := math.Abs(p.To - p.From)
		if w > bestWidth {
			best, bestWidth = p, w
		}
	}
	return best, true
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func stddev(v []float64) float64 {
	if len(v) < 2 {
		return 0
	}
	m := mean(v)
	var variance float64
	for _, x := range v {
		d := x - m
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(v)))
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func mad(v []float64, med float64) float64 {
	if len(v) == 0 {
		return 0
	}
	devs := make([]float64, len(v))
	for i, x := range v {
		devs[i] = math.Abs(x - med)
	}
	return median(devs)
}

// EicPeakResult is one row of GetPeaksFromEIC's output: the ROI identity
// echoed back alongside the peak found (zero-value Peak if none).
type EicPeakResult struct {
	ID   string
	RT   float64
	Mz   float64
	Peak Peak
}

// GetPeaksFromEIC computes an EIC per target and finds the best peak in
// each, fanning the work out across cores workers per spec.md sec 5.
func GetPeaksFromEIC(run *Run, window FromTo, items []EicRoi, opts FindPeaksOptions, cores int) []EicPeakResult {
	computeOne := func(roi EicRoi) EicPeakResult {
		l, r := roi.RT-window.From, roi.RT+window.To
		if l > r {
			l, r = r, l
		}
		eic := CalculateEIC(run, roi.Mz, FromTo{From: l, To: r}, DefaultEicOptions())
		if len(eic.X) < 3 || len(eic.X) != len(eic.Y) {
			return EicPeakResult{ID: roi.ID, RT: roi.RT, Mz: roi.Mz}
		}
		p, ok := GetPeak(DataXY{X: eic.X, Y: eic.Y}, Roi{RT: roi.RT, Window: roi.Window}, opts)
		if !ok {
			return EicPeakResult{ID: roi.ID, RT: roi.RT, Mz: roi.Mz}
		}
		return EicPeakResult{ID: roi.ID, RT: roi.RT, Mz: roi.Mz, Peak: p}
	}
	return parallelMap(items, cores, computeOne)
}

// ChromPeakResult is one row of GetPeaksFromChrom's output.
type ChromPeakResult struct {
	Index     int
	ID        string
	RequestRT float64
	RT        float64
	From      float64
	To        float64
	Intensity float64
	Integral  float64
}

// GetPeaksFromChrom finds the best peak within each requested chromatogram
// region of interest, against already-stored chromatogram traces rather
// than a computed EIC.
func GetPeaksFromChrom(run *Run, items []ChromRoi, opts FindPeaksOptions, cores int) []ChromPeakResult {
	chroms := run.Chromatograms
	computeOne := func(roi ChromRoi) ChromPeakResult {
		if roi.Window <= 0 || math.IsNaN(roi.RT) || math.IsInf(roi.RT, 0) {
			return ChromPeakResult{Index: roi.Idx, ID: roi.ID, RequestRT: roi.RT}
		}
		if roi.Idx < 0 || roi.Idx >= len(chroms) {
			return ChromPeakResult{Index: roi.Idx, ID: roi.ID, RequestRT: roi.RT}
		}
		ch := chroms[roi.Idx]
		if len(ch.TimeArray) < 3 || len(ch.TimeArray) != len(ch.IntensityArray) {
			return ChromPeakResult{Index: int(ch.Index), ID: ch.ID, RequestRT: roi.RT}
		}
		x := ch.TimeArray
		y := make([]float64, len(ch.IntensityArray))
		for i, v := range ch.IntensityArray {
			y[i] = float64(v)
		}
		p, ok := GetPeak(DataXY{X: x, Y: y}, Roi{RT: roi.RT, Window: roi.Window}, opts)
		if !ok {
			return ChromPeakResult{Index: int(ch.Index), ID: ch.ID, RequestRT: roi.RT}
		}
		return ChromPeakResult{
			Index: int(ch.Index), ID: ch.ID, RequestRT: roi.RT,
			RT: p.RT, From: p.From, To: p.To, Intensity: p.Intensity, Integral: p.Integral,
		}
	}
	return parallelMap(items, cores, computeOne)
}
