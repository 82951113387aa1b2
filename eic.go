package msut

import (
	"context"
	"fmt"
	"sort"

	"github.com/alitto/pond"
	"github.com/samber/lo"
)

// EicOptions configures the m/z tolerance window used to sum intensities
// into an extracted-ion chromatogram.
type EicOptions struct {
	PpmTolerance float64
	MzTolerance  float64
}

// DefaultEicOptions matches the pipeline's stock 20 ppm / 5 mDa tolerance.
func DefaultEicOptions() EicOptions {
	return EicOptions{PpmTolerance: 20.0, MzTolerance: 0.005}
}

// Eic is a retention-time-ordered extracted-ion chromatogram.
type Eic struct {
	X []float64
	Y []float64
}

type centroidScan struct {
	rt        float64
	mz        []float64
	intensity []float64
}

// CollectMS1Scans gathers every MS1 centroid spectrum within timeWindow,
// sorted by ascending retention time, dropping non-finite (m/z, intensity)
// pairs.
func CollectMS1Scans(run *Run, timeWindow FromTo) ([]float64, []centroidScan) {
	var scans []centroidScan
	if run != nil {
		for _, s := range run.Spectra {
			isMS1 := s.MSLevel != nil && *s.MSLevel == 1
			okRT := s.RetentionTime != nil && *s.RetentionTime >= timeWindow.From && *s.RetentionTime <= timeWindow.To
			hasArrays := len(s.MzArray) > 0 && len(s.IntensityArray) > 0
			if !(isMS1 && okRT && hasArrays) {
				continue
			}
			n := len(s.MzArray)
			if len(s.IntensityArray) < n {
				n = len(s.IntensityArray)
			}
			mzs := make([]float64, 0, n)
			ints := make([]float64, 0, n)
			for i := 0; i < n; i++ {
				m := s.MzArray[i]
				it := float64(s.IntensityArray[i])
				if isFinite(m) && isFinite(it) {
					mzs = append(mzs, m)
					ints = append(ints, it)
				}
			}
			if len(mzs) > 0 {
				scans = append(scans, centroidScan{rt: *s.RetentionTime, mz: mzs, intensity: ints})
			}
		}
	}
	sort.Slice(scans, func(i, j int) bool { return scans[i].rt < scans[j].rt })
	rt := make([]float64, len(scans))
	for i, s := range scans {
		rt[i] = s.rt
	}
	return rt, scans
}

func isFinite(v float64) bool {
	return v == v && v < 1e308 && v > -1e308
}

const eicInnerLoopGuard = 5_000_000

// ComputeEICForMz sums, per scan, the intensities of centroid peaks whose
// m/z falls within the tolerance window around center, per spec.md sec
// 4.2's "sum intensities in window" reduction. Panics with
// ErrInvalidTolerance if the tolerance collapses to non-positive, and with
// ErrInternal if an inner scan's matching window is pathologically long.
func ComputeEICForMz(scans []centroidScan, rtLen int, center float64, opts EicOptions) []float64 {
	tolPpm := 0.0
	if opts.PpmTolerance > 0 {
		tolPpm = (opts.PpmTolerance * 1e-6) * center
	}
	tol := tolPpm
	if opts.MzTolerance > tol {
		tol = opts.MzTolerance
	}
	if tol <= 0 {
		panic(fmt.Errorf("%w: %s", ErrInvalidTolerance, fmt.Sprintf("center=%g", center)))
	}

	lo_ := center - tol
	hi_ := center + tol

	y := make([]float64, rtLen)
	for i, s := range scans {
		var acc float64
		j := lowerBound(s.mz, lo_)
		guard := 0
		for j < len(s.mz) {
			v := s.mz[j]
			if v > hi_ {
				break
			}
			acc += s.intensity[j]
			j++
			guard++
			if guard > eicInnerLoopGuard {
				panic(fmt.Errorf("%w: EIC inner loop exceeded bound at rt index %d", ErrInternal, i))
			}
		}
		y[i] = acc
	}
	return y
}

// CalculateEIC computes a single-target extracted-ion chromatogram over a
// parsed run.
func CalculateEIC(run *Run, targetMz float64, window FromTo, opts EicOptions) Eic {
	times, scans := CollectMS1Scans(run, window)
	if len(scans) == 0 || len(times) == 0 {
		return Eic{}
	}
	y := ComputeEICForMz(scans, len(times), targetMz, opts)
	return Eic{X: times, Y: y}
}

func maxInRange(rt, y []float64, fromRT, toRT float64) float64 {
	i0 := lowerBound(rt, fromRT)
	i1 := upperBound(rt, toRT)
	if i0 >= len(y) {
		return 0
	}
	if i1 > len(y) {
		i1 = len(y)
	}
	if i1 <= i0 {
		return 0
	}
	m := y[i0]
	for i := i0 + 1; i < i1; i++ {
		if y[i] > m {
			m = y[i]
		}
	}
	return m
}

// WithEicApexIntensity replaces p.Intensity with the true EIC-domain max
// over [p.From, p.To] when it is a positive finite value, correcting for
// the peak finder operating on a resampled/smoothed copy of the signal.
func WithEicApexIntensity(rt, y []float64, p Peak) Peak {
	a := maxInRange(rt, y, p.From, p.To)
	if isFinite(a) && a > 0 {
		p.Intensity = a
	}
	return p
}

// ComputeEICs computes one EIC per requested m/z target, fanning the work
// out across a worker pool sized by cores (spec.md sec 5's
// multi-target-parallelism rule: sequential when cores <= 1 or there are
// fewer than 2 targets).
func ComputeEICs(run *Run, window FromTo, targets []EicRoi, opts EicOptions, cores int) []Eic {
	compute := func(roi EicRoi) Eic {
		l, r := roi.RT-window.From, roi.RT+window.To
		if l > r {
			l, r = r, l
		}
		return CalculateEIC(run, roi.Mz, FromTo{From: l, To: r}, opts)
	}

	if cores <= 1 || len(targets) < 2 {
		return lo.Map(targets, func(roi EicRoi, _ int) Eic { return compute(roi) })
	}

	ctx := context.Background()
	pool := pond.New(cores, 0, pond.MinWorkers(cores), pond.Context(ctx))

	results := make([]Eic, len(targets))
	for i, roi := range targets {
		i, roi := i, roi
		pool.Submit(func() {
			results[i] = compute(roi)
		})
	}
	pool.StopAndWait()

	return results
}
