package msut

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/alitto/pond"
)

// MzScanGrid is the coarse m/z ladder find_features scans before refining.
type MzScanGrid struct {
	MzMin    float64
	MzMax    float64
	StepSize float64
}

// DefaultMzScanGrid matches the pipeline's stock 70-1000 Da, 5 mDa grid.
func DefaultMzScanGrid() MzScanGrid {
	return MzScanGrid{MzMin: 70.0, MzMax: 1000.0, StepSize: 0.005}
}

// FindFeaturesOptions bundles every knob of the 2-D feature detector.
type FindFeaturesOptions struct {
	ScanEicOptions      EicOptions
	EicOptions          EicOptions
	FindPeaks           FindPeaksOptions
	MzScanGrid          MzScanGrid
	ScanWidthThreshold  int
}

// DefaultFindFeaturesOptions mirrors find_features's defaults: a scan pass
// at 10 ppm / 0.003 Da and a full-pipeline refine pass at the wider
// DefaultEicOptions tolerances.
func DefaultFindFeaturesOptions() FindFeaturesOptions {
	return FindFeaturesOptions{
		ScanEicOptions:     EicOptions{PpmTolerance: 10.0, MzTolerance: 0.003},
		EicOptions:         DefaultEicOptions(),
		FindPeaks:          DefaultFindPeaksOptions(),
		MzScanGrid:         DefaultMzScanGrid(),
		ScanWidthThreshold: 5,
	}
}

// FindFeatures scans a coarse m/z grid, refines each grid point to the
// apex of the local intensity histogram within its tolerance window,
// dedups nearby refined masses, finds peaks on a full-resolution EIC at
// each remaining mass, and dedups rt/mz-overlapping features across
// masses, per spec.md sec 4.6.
func FindFeatures(run *Run, timeWindow FromTo, opts FindFeaturesOptions, cores int) []Feature {
	grid := opts.MzScanGrid
	if grid.StepSize <= 0 || math.IsNaN(grid.StepSize) {
		panic(fmt.Errorf("%w: step_size must be > 0 Da, got %g", ErrInvalidArgs, grid.StepSize))
	}
	mzGrid := buildMzGrid(grid.MzMin, grid.MzMax, grid.StepSize)
	if len(mzGrid) == 0 {
		panic(fmt.Errorf("%w: empty m/z grid", ErrInvalidArgs))
	}

	times, scans := CollectMS1Scans(run, timeWindow)
	if len(scans) == 0 {
		panic(fmt.Errorf("%w: no MS1 scans in time window", ErrNoData))
	}

	refineOne := func(m float64) float64 {
		y0 := ComputeEICForMz(scans, len(times), m, opts.ScanEicOptions)

		coarse := opts.FindPeaks
		coarse.FilterPeaksOptions.WidthThreshold = intPtr(opts.ScanWidthThreshold)
		peaks := FindPeaks(DataXY{X: times, Y: y0}, coarse)

		rtFrom, rtTo := timeWindow.From, timeWindow.To
		if len(peaks) > 0 {
			best := peaks[0]
			for _, p := range peaks[1:] {
				if p.Intensity > best.Intensity {
					best = p
				}
			}
			rtFrom, rtTo = best.From, best.To
		}
		return refineMzForPeak(scans, times, m, rtFrom, rtTo, opts.EicOptions)
	}

	masses := parallelMap(mzGrid, cores, refineOne)
	if len(masses) == 0 {
		panic(fmt.Errorf("%w: refine_mz_for_peak produced no masses", ErrInternal))
	}

	uniqueMasses := dedupMassesDynamic(masses, opts.EicOptions)

	featureOne := func(mz float64) []Feature {
		y := ComputeEICForMz(scans, len(times), mz, opts.EicOptions)
		data := DataXY{X: times, Y: y}
		peaks := FindPeaks(data, opts.FindPeaks)
		if len(peaks) == 0 {
			return nil
		}
		adjusted := make([]Peak, len(peaks))
		for i, p := range peaks {
			adjusted[i] = WithEicApexIntensity(data.X, data.Y, p)
		}
		sort.Slice(adjusted, func(i, j int) bool {
			if adjusted[i].Intensity != adjusted[j].Intensity {
				return adjusted[i].Intensity > adjusted[j].Intensity
			}
			return adjusted[i].Integral > adjusted[j].Integral
		})
		out := make([]Feature, len(adjusted))
		for i, p := range adjusted {
			out[i] = Feature{Mz: mz, RT: p.RT, Intensity: p.Intensity, From: p.From, To: p.To, NP: p.NP, Integral: p.Integral, Noise: p.Noise}
		}
		return out
	}

	nested := parallelMap(uniqueMasses, cores, featureOne)
	var featuresRaw []Feature
	for _, fs := range nested {
		featuresRaw = append(featuresRaw, fs...)
	}

	finalW := opts.ScanWidthThreshold
	if opts.FindPeaks.FilterPeaksOptions.WidthThreshold != nil {
		finalW = *opts.FindPeaks.FilterPeaksOptions.WidthThreshold
	}
	if finalW > 0 {
		kept := featuresRaw[:0]
		for _, f := range featuresRaw {
			if f.NP >= finalW {
				kept = append(kept, f)
			}
		}
		featuresRaw = kept
	}

	features := dedupFeaturesDynamicPPM(featuresRaw, opts.EicOptions, 0.80)

	sort.Slice(features, func(i, j int) bool {
		if features[i].RT != features[j].RT {
			return features[i].RT < features[j].RT
		}
		if features[i].Intensity != features[j].Intensity {
			return features[i].Intensity > features[j].Intensity
		}
		return features[i].Mz < features[j].Mz
	})
	return features
}

func intPtr(v int) *int { return &v }

// parallelMap applies f to every item, using a worker pool sized by cores
// when there is enough work to justify it (spec.md sec 5), preserving
// input order in the result.
func parallelMap[T any, R any](items []T, cores int, f func(T) R) []R {
	out := make([]R, len(items))
	if cores <= 1 || len(items) < 2 {
		for i, it := range items {
			out[i] = f(it)
		}
		return out
	}

	ctx := context.Background()
	pool := pond.New(cores, 0, pond.MinWorkers(cores), pond.Context(ctx))
	for i, it := range items {
		i, it := i, it
		pool.Submit(func() {
			out[i] = f(it)
		})
	}
	pool.StopAndWait()
	return out
}

func buildMzGrid(start, end, stepDa float64) []float64 {
	lo_, hi_ := start, end
	if lo_ > hi_ {
		lo_, hi_ = hi_, lo_
	}
	if math.IsNaN(lo_) || math.IsNaN(hi_) || hi_ <= lo_ {
		return nil
	}
	if stepDa <= 0 || math.IsNaN(stepDa) {
		return []float64{lo_, hi_}
	}
	var xs []float64
	m := lo_
	for m <= hi_ {
		xs = append(xs, m)
		m += stepDa
	}
	const eps = 1e-9
	if len(xs) == 0 {
		return []float64{hi_}
	}
	last := xs[len(xs)-1]
	if math.Abs(hi_-last) > eps {
		xs = append(xs, hi_)
	} else {
		xs[len(xs)-1] = hi_
	}
	return xs
}

func dedupMassesDynamic(ms []float64, opts EicOptions) []float64 {
	if len(ms) == 0 {
		return ms
	}
	sorted := append([]float64(nil), ms...)
	sort.Float64s(sorted)
	out := make([]float64, 0, len(sorted))
	last := sorted[0]
	out = append(out, last)
	for _, m := range sorted[1:] {
		if !massCloseDynamic(m, last, opts) {
			out = append(out, m)
			last = m
		}
	}
	return out
}

func massCloseDynamic(a, b float64, opts EicOptions) bool {
	d := math.Abs(a - b)
	c := 0.5 * math.Abs(a+b)
	tolPpm := 0.0
	if opts.PpmTolerance > 0 {
		tolPpm = (opts.PpmTolerance * 1e-6) * c
	}
	tol := math.Max(tolPpm, math.Max(opts.MzTolerance, 0))
	return d <= tol
}

func refineMzForPeak(scans []centroidScan, rt []float64, approx, rtFrom, rtTo float64, opts EicOptions) float64 {
	i0 := lowerBound(rt, rtFrom)
	i1 := upperBound(rt, rtTo)
	if i1 > len(scans) {
		i1 = len(scans)
	}
	if i0 >= i1 {
		return approx
	}

	tolPpm := 0.0
	if opts.PpmTolerance > 0 {
		tolPpm = (opts.PpmTolerance * 1e-6) * approx
	}
	tol := math.Max(tolPpm, math.Max(opts.MzTolerance, 0))
	if !isFinite(tol) || tol <= 0 {
		panic(fmt.Errorf("%w: invalid refine tolerance for m=%g", ErrInternal, approx))
	}

	lo_ := approx - tol
	hi_ := approx + tol
	span := hi_ - lo_
	if !isFinite(span) || span <= 0 {
		panic(fmt.Errorf("%w: invalid refine span for m=%g", ErrInternal, approx))
	}

	binDa := math.Max(span/400.0, 1e-9)
	nBins := int(math.Ceil(span/binDa)) + 1
	if nBins <= 0 {
		panic(fmt.Errorf("%w: zero bins for m=%g", ErrInternal, approx))
	}

	bins := make([]float64, nBins)
	for s := i0; s < i1; s++ {
		mzs := scans[s].mz
		ints := scans[s].intensity
		j := lowerBound(mzs, lo_)
		for j < len(mzs) {
			m := mzs[j]
			if m > hi_ {
				break
			}
			it := ints[j]
			if isFinite(it) && it > 0 && isFinite(m) {
				idxF := (m - lo_) / binDa
				if isFinite(idxF) {
					idx := int(math.Floor(idxF))
					if idx >= 0 && idx < nBins {
						bins[idx] += it
					}
				}
			}
			j++
		}
	}

	allZero := true
	for _, v := range bins {
		if v > 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return approx
	}

	wBins := int(math.Round(tol / binDa))
	if wBins < 1 {
		wBins = 1
	}

	ps := make([]float64, nBins+1)
	for i := 0; i < nBins; i++ {
		ps[i+1] = ps[i] + bins[i]
	}

	bestSum := -1.0
	bestI := 0
	if nBins >= wBins {
		for i := 0; i <= nBins-wBins; i++ {
			s := ps[i+wBins] - ps[i]
			if s > bestSum {
				bestSum = s
				bestI = i
			}
		}
	}

	start := bestI
	end := bestI + wBins
	if end > nBins {
		end = nBins
	}
	maxV := -1.0
	maxK := start
	for k := start; k < end; k++ {
		if bins[k] > maxV {
			maxV = bins[k]
			maxK = k
		}
	}

	mz := lo_ + (float64(maxK)+0.5)*binDa
	if !isFinite(mz) {
		return approx
	}
	return mz
}

func nearlyEq(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func massCloseForDedup(a, b float64, eic EicOptions) bool {
	c := 0.5 * math.Abs(a+b)
	tolPpm := 0.0
	if eic.PpmTolerance > 0 {
		tolPpm = (eic.PpmTolerance * 1e-6) * c
	}
	base := math.Max(tolPpm, math.Max(eic.MzTolerance, 0))
	tol := base * 1.2
	return math.Abs(a-b) <= tol
}

func rtOverlapFraction(aFrom, aTo, bFrom, bTo float64) float64 {
	l := math.Max(aFrom, bFrom)
	r := math.Min(aTo, bTo)
	overlap := math.Max(r-l, 0)
	wa := math.Max(aTo-aFrom, 0)
	wb := math.Max(bTo-bFrom, 0)
	base := math.Max(math.Max(wa, wb), 2.220446049250313e-16)
	return overlap / base
}

func rtOverlapFractionMin(aFrom, aTo, bFrom, bTo float64) float64 {
	l := math.Max(aFrom, bFrom)
	r := math.Min(aTo, bTo)
	overlap := math.Max(r-l, 0)
	wa := math.Max(aTo-aFrom, 0)
	wb := math.Max(bTo-bFrom, 0)
	base := math.Max(math.Min(wa, wb), 2.220446049250313e-16)
	return overlap / base
}

func betterFeature(a, b Feature) bool {
	if a.NP != b.NP {
		return a.NP > b.NP
	}
	if a.Intensity != b.Intensity {
		return a.Intensity > b.Intensity
	}
	wa := math.Abs(a.To - a.From)
	wb := math.Abs(b.To - b.From)
	if wa != wb {
		return wa < wb
	}
	return a.Mz <= b.Mz
}

// dedupFeaturesDynamicPPM collapses features that are either exactly the
// same rt window, or close in both m/z and rt-overlap, keeping the better
// one per spec.md sec 4.6's closing dedup pass.
func dedupFeaturesDynamicPPM(xs []Feature, eic EicOptions, minRtOverlap float64) []Feature {
	if len(xs) == 0 {
		return xs
	}
	sorted := append([]Feature(nil), xs...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.RT != b.RT {
			return a.RT < b.RT
		}
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Mz < b.Mz
	})

	const epsRT, epsW = 1e-6, 1e-6

	var out []Feature
	var cluster []Feature
	flush := func() {
		if len(cluster) == 0 {
			return
		}
		best := cluster[0]
		for _, f := range cluster[1:] {
			if betterFeature(f, best) {
				best = f
			}
		}
		out = append(out, best)
		cluster = cluster[:0]
	}

	for _, f := range sorted {
		if len(cluster) == 0 {
			cluster = append(cluster, f)
			continue
		}
		last := cluster[len(cluster)-1]
		sameWindow := nearlyEq(f.From, last.From, epsW) && nearlyEq(f.To, last.To, epsW) && nearlyEq(f.RT, last.RT, epsRT)
		ovlMax := rtOverlapFraction(last.From, last.To, f.From, f.To)
		ovlMin := rtOverlapFractionMin(last.From, last.To, f.From, f.To)
		massClose := massCloseForDedup(f.Mz, last.Mz, eic)
		sameApex := nearlyEq(f.RT, last.RT, epsRT)
		closeInMassAndTime := massClose && (sameApex || ovlMax >= minRtOverlap || ovlMin >= 0.95)

		if sameWindow || closeInMassAndTime {
			cluster = append(cluster, f)
		} else {
			flush()
			cluster = append(cluster, f)
		}
	}
	flush()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Mz != out[j].Mz {
			return out[i].Mz < out[j].Mz
		}
		return out[i].RT < out[j].RT
	})

	finalOut := make([]Feature, 0, len(out))
	for _, f := range out {
		if len(finalOut) > 0 {
			g := &finalOut[len(finalOut)-1]
			sameWindow := nearlyEq(f.From, g.From, epsW) && nearlyEq(f.To, g.To, epsW) && nearlyEq(f.RT, g.RT, epsRT)
			ovlMax := rtOverlapFraction(g.From, g.To, f.From, f.To)
			ovlMin := rtOverlapFractionMin(g.From, g.To, f.From, f.To)
			massClose := massCloseForDedup(f.Mz, g.Mz, eic)
			sameApex := nearlyEq(f.RT, g.RT, epsRT)
			closeInMassAndTime := massClose && (sameApex || ovlMax >= minRtOverlap || ovlMin >= 0.95)
			if sameWindow || closeInMassAndTime {
				if betterFeature(f, *g) {
					*g = f
				}
				continue
			}
		}
		finalOut = append(finalOut, f)
	}
	return finalOut
}
