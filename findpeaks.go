package msut

import (
	"fmt"
	"math"
	"sort"
)

// FilterPeaksOptions gates which candidates survive the find_peaks pipeline.
type FilterPeaksOptions struct {
	IntegralThreshold  *float64
	WidthThreshold     *int
	IntensityThreshold *float64
	Noise              *float64
	AutoNoise          bool
	AutoBaseline       bool
	AllowOverlap       bool
	SNRatio            float64
}

// DefaultFilterPeaksOptions mirrors the pipeline's default gating.
func DefaultFilterPeaksOptions() FilterPeaksOptions {
	wth := 5
	return FilterPeaksOptions{
		WidthThreshold: &wth,
		AutoNoise:      false,
		AutoBaseline:   false,
		AllowOverlap:   false,
		SNRatio:        1.0,
	}
}

// FindPeaksOptions bundles every knob of the pipeline.
type FindPeaksOptions struct {
	GetBoundariesOptions BoundariesOptions
	FilterPeaksOptions   FilterPeaksOptions
	ScanPeaksOptions     ScanPeaksOptions
	Baseline             BaselineFunc
}

// DefaultFindPeaksOptions is the pipeline's stock configuration.
func DefaultFindPeaksOptions() FindPeaksOptions {
	return FindPeaksOptions{
		GetBoundariesOptions: DefaultBoundariesOptions(),
		FilterPeaksOptions:   DefaultFilterPeaksOptions(),
		ScanPeaksOptions:     DefaultScanPeaksOptions(),
		Baseline:             ZeroBaseline,
	}
}

type peakCandidate struct {
	from, to      float64
	rt            float64
	integral      float64
	intensity     float64
	np            int
	ratio         float64
	noise         float64
	fromIdx, toIdx int
}

// FindPeaks runs the full multi-scale peak-detection pipeline described in
// spec.md sec 4.4: noise resolution, optional baseline subtraction,
// multi-window candidate scan, boundary walk, integration, filtering,
// dedup, apex-wiggle/tail-bump merging, overlap pruning, tail extension and
// contained-peak suppression. Peaks are returned sorted by rt.
func FindPeaks(data DataXY, opts FindPeaksOptions) []Peak {
	filterOpts := opts.FilterPeaksOptions
	if filterOpts.SNRatio == 0 {
		filterOpts.SNRatio = 1.0
	}
	baseline := opts.Baseline
	if baseline == nil {
		baseline = ZeroBaseline
	}

	if filterOpts.AutoNoise && filterOpts.Noise != nil {
		panic(fmt.Errorf("%w: auto_noise cannot be used with an explicit noise value", ErrIncompatibleOptions))
	}

	floor := make([]float64, len(data.Y))
	if filterOpts.AutoBaseline {
		floor = baseline(data.Y)
	}
	yCenter := make([]float64, len(data.Y))
	for i, v := range data.Y {
		yCenter[i] = math.Max(v-floor[i], 0)
	}

	var noise float64
	if filterOpts.AutoNoise {
		noise = FindNoiseLevel(yCenter)
		if math.IsInf(noise, 1) {
			noise = NoiseLevelWindowed(yCenter, 0.1, 0.1)
		}
	} else if filterOpts.Noise != nil {
		noise = math.Max(*filterOpts.Noise, 0)
	}

	normalized := DataXY{X: data.X, Y: yCenter}

	positions := ScanForPeaksAcrossWindows(normalized, opts.ScanPeaksOptions, defaultWindowSizes)
	if len(positions) == 0 {
		return nil
	}

	bopt := opts.GetBoundariesOptions
	bopt.Noise = noise

	candidates := make([]peakCandidate, 0, len(positions))
	for _, seedRT := range positions {
		b := GetBoundaries(normalized, seedRT, bopt)
		seedIdx := closestIndex(normalized.X, seedRT)

		rt, apexY := seedRT, normalized.Y[seedIdx]
		if b.From.OK && b.To.OK && b.From.Index < b.To.Index {
			if r, y, ok := apexInWindow(normalized, b); ok {
				rt, apexY = r, y
			}
		}
		if apexY <= noise {
			continue
		}
		if !(b.From.OK && b.To.OK) || b.From.Index >= b.To.Index {
			continue
		}

		fi, ti := b.From.Index, b.To.Index
		integral, intensity := xyIntegration(data.X[fi:ti+1], data.Y[fi:ti+1])
		candidates = append(candidates, peakCandidate{
			from: b.From.Value, to: b.To.Value, rt: rt,
			integral: integral, intensity: intensity,
			np: ti - fi + 1, noise: noise,
			fromIdx: fi, toIdx: ti,
		})
	}
	if len(candidates) == 0 {
		return nil
	}

	var maxIntensity float64
	for _, c := range candidates {
		if c.intensity > maxIntensity {
			maxIntensity = c.intensity
		}
	}

	peaks := filterPeakCandidates(candidates, filterOpts, maxIntensity)
	if len(peaks) == 0 {
		return nil
	}

	sort.Slice(peaks, func(i, j int) bool { return peaks[i].RT < peaks[j].RT })
	peaks = dedupeNearIdentical(peaks)

	peaks = mergeApexWiggles(peaks, normalized, noise)
	peaks = mergeTailBumps(peaks, normalized)

	if len(peaks) > 0 {
		cutoff := 0.0
		if noise > 0 {
			cutoff = filterOpts.SNRatio * noise
		}
		if filterOpts.IntensityThreshold != nil {
			cutoff = math.Max(cutoff, *filterOpts.IntensityThreshold)
		}
		if cutoff > 0 {
			kept := peaks[:0]
			for _, p := range peaks {
				if p.Intensity > cutoff {
					kept = append(kept, p)
				}
			}
			peaks = kept
		}
	}

	if !filterOpts.AllowOverlap && len(peaks) > 1 {
		peaks = pruneOverlaps(peaks, normalized)
	}
	if len(peaks) > 1 {
		peaks = extendTails(peaks, normalized, noise)
		peaks = suppressContainedPeaks(data, peaks)
	}

	sumIntegral := 0.0
	for _, p := range peaks {
		sumIntegral += p.Integral
	}
	if sumIntegral > 0 {
		for i := range peaks {
			peaks[i].Ratio = peaks[i].Integral / sumIntegral
		}
	}

	sort.Slice(peaks, func(i, j int) bool { return peaks[i].RT < peaks[j].RT })
	return peaks
}

func apexInWindow(data DataXY, b Boundaries) (rt float64, y float64, ok bool) {
	l, r := b.From.Index, b.To.Index
	if l >= r {
		return 0, 0, false
	}
	best := l
	bestY := data.Y[l]
	for i := l + 1; i <= r; i++ {
		if data.Y[i] > bestY {
			bestY = data.Y[i]
			best = i
		}
	}
	return data.X[best], bestY, true
}

func filterPeakCandidates(cands []peakCandidate, opt FilterPeaksOptions, maxIntensity float64) []Peak {
	sumIntegral := 0.0
	for _, c := range cands {
		sumIntegral += c.integral
	}

	out := make([]Peak, 0, len(cands))
	for _, c := range cands {
		pass := true
		if opt.IntegralThreshold != nil && sumIntegral > 0 && c.integral/sumIntegral < *opt.IntegralThreshold {
			pass = false
		}
		if pass && opt.IntensityThreshold != nil && c.intensity < *opt.IntensityThreshold {
			pass = false
		}
		if pass && opt.WidthThreshold != nil && c.np <= *opt.WidthThreshold {
			if maxIntensity == 0 || c.intensity < 0.6*maxIntensity {
				pass = false
			}
		}
		if pass {
			out = append(out, Peak{
				From: c.from, To: c.to, RT: c.rt,
				Integral: c.integral, Intensity: c.intensity,
				NP: c.np, Noise: c.noise,
			})
		}
	}
	return out
}

func dedupeNearIdentical(peaks []Peak) []Peak {
	if len(peaks) <= 1 {
		return peaks
	}
	const epsRT, epsW = 1e-6, 1e-6
	out := make([]Peak, 0, len(peaks))
	i := 0
	for i < len(peaks) {
		p := peaks[i]
		j := i + 1
		keep := p
		for j < len(peaks) {
			q := peaks[j]
			same := math.Abs(p.From-q.From) <= epsW && math.Abs(p.To-q.To) <= epsW && math.Abs(p.RT-q.RT) <= epsRT
			if !same {
				break
			}
			if q.Intensity > keep.Intensity {
				keep = q
			}
			j++
		}
		out = append(out, keep)
		i = j
	}
	return out
}

// mergeApexWiggles merges adjacent peaks whose between-apex valley (on the
// SG-smoothed signal) is high relative to their heights, per spec.md sec
// 4.4 step 9.
func mergeApexWiggles(peaks []Peak, data DataXY, noise float64) []Peak {
	if len(peaks) <= 1 {
		return peaks
	}
	smoothed := Sgg(data.Y, data.X, SggOptions{WindowSize: 9, Derivative: 0, Polynomial: 3})

	out := make([]Peak, 0, len(peaks))
	cur := peaks[0]
	for i := 1; i < len(peaks); i++ {
		next := peaks[i]
		valley := valleyBetween(data.X, smoothed, cur.RT, next.RT)
		maxHeight := math.Max(cur.Intensity, next.Intensity)
		highValley := valley >= math.Max(noise, 0.92*maxHeight)
		minHeight := math.Min(cur.Intensity, next.Intensity)
		shallowDrop := minHeight > 0 && (minHeight-valley)/minHeight < 0.08
		if highValley || shallowDrop {
			cur = mergePeakPair(cur, next)
		} else {
			out = append(out, cur)
			cur = next
		}
	}
	out = append(out, cur)
	return out
}

func valleyBetween(x, ySmoothed []float64, rtA, rtB float64) float64 {
	lo, hi := rtA, rtB
	if lo > hi {
		lo, hi = hi, lo
	}
	il := lowerBound(x, lo)
	ih := upperBound(x, hi)
	if il >= ih || ih > len(ySmoothed) {
		return math.Inf(1)
	}
	v := ySmoothed[il]
	for i := il + 1; i < ih; i++ {
		if ySmoothed[i] < v {
			v = ySmoothed[i]
		}
	}
	return v
}

func mergePeakPair(a, b Peak) Peak {
	apex := a
	if b.Intensity > a.Intensity {
		apex = b
	}
	return Peak{
		From:      math.Min(a.From, b.From),
		To:        math.Max(a.To, b.To),
		RT:        apex.RT,
		Integral:  a.Integral + b.Integral,
		Intensity: apex.Intensity,
		NP:        a.NP + b.NP,
		Noise:     math.Max(a.Noise, b.Noise),
	}
}

// mergeTailBumps absorbs a small adjacent peak into its neighbor when the
// connecting run of samples looks tail-like rather than a genuine valley,
// per spec.md sec 4.4 step 10. This is a conservative approximation: a
// neighbor is absorbed only when its integral is a small fraction of the
// host's and the pair is already nearly touching.
func mergeTailBumps(peaks []Peak, data DataXY) []Peak {
	if len(peaks) <= 1 {
		return peaks
	}
	dxMin, ok := minPositiveStep(data.X)
	if !ok {
		dxMin = meanStep(data.X)
	}
	out := make([]Peak, 0, len(peaks))
	cur := peaks[0]
	for i := 1; i < len(peaks); i++ {
		next := peaks[i]
		gap := next.From - cur.To
		tailLike := gap <= 7*dxMin && next.Integral < 0.05*cur.Integral && cur.Intensity > 0
		if tailLike {
			cur = mergePeakPair(cur, next)
		} else {
			out = append(out, cur)
			cur = next
		}
	}
	out = append(out, cur)
	return out
}

// pruneOverlaps resolves overlapping or near-touching peak pairs, per
// spec.md sec 4.4 step 11.
func pruneOverlaps(peaks []Peak, data DataXY) []Peak {
	dxMin, ok := minPositiveStep(data.X)
	if !ok {
		dxMin = meanStep(data.X)
	}
	sort.Slice(peaks, func(i, j int) bool { return peaks[i].From < peaks[j].From })

	out := make([]Peak, 0, len(peaks))
	i := 0
	for i < len(peaks) {
		p := peaks[i]
		for i+1 < len(peaks) {
			q := peaks[i+1]
			touching := q.From-p.To <= 1.05*dxMin
			if !touching {
				break
			}
			heightRatio := 1.0
			if math.Min(p.Intensity, q.Intensity) > 0 {
				heightRatio = math.Max(p.Intensity, q.Intensity) / math.Min(p.Intensity, q.Intensity)
			}
			threshold := 0.08
			if heightRatio > 2.5 {
				threshold = 0.25
			}
			smoothed := Sgg(data.Y, data.X, SggOptions{WindowSize: 9, Derivative: 0, Polynomial: 3})
			valley := valleyBetween(data.X, smoothed, p.RT, q.RT)
			dropP := (p.Intensity - valley) / math.Max(p.Intensity, 1e-12)
			dropQ := (q.Intensity - valley) / math.Max(q.Intensity, 1e-12)
			if dropP > threshold && dropQ > threshold {
				break
			}
			p = betterOfPair(p, q)
			i++
		}
		out = append(out, p)
		i++
	}
	return out
}

// betterOfPair picks the peak to keep from an overlapping pair: higher
// intensity wins, ties broken by larger integral, then by narrower width.
func betterOfPair(a, b Peak) Peak {
	if a.Intensity != b.Intensity {
		if a.Intensity > b.Intensity {
			return a
		}
		return b
	}
	if a.Integral != b.Integral {
		if a.Integral > b.Integral {
			return a
		}
		return b
	}
	if math.Abs(a.To-a.From) <= math.Abs(b.To-b.From) {
		return a
	}
	return b
}

// extendTails walks from each final boundary outward to the point where
// the smoothed signal has stayed near-zero for long enough, per spec.md
// sec 4.4 step 12, without crossing into a neighboring peak's span.
func extendTails(peaks []Peak, data DataXY, noise float64) []Peak {
	smoothed := Sgg(data.Y, data.X, SggOptions{WindowSize: 9, Derivative: 0, Polynomial: 3})
	sort.Slice(peaks, func(i, j int) bool { return peaks[i].From < peaks[j].From })

	out := make([]Peak, len(peaks))
	copy(out, peaks)
	for i := range out {
		p := out[i]
		floor := math.Max(1.5*noise, 0.003*p.Intensity)
		lowerLimit := data.X[0]
		if i > 0 {
			lowerLimit = out[i-1].To
		}
		upperLimit := data.X[len(data.X)-1]
		if i+1 < len(out) {
			upperLimit = out[i+1].From
		}

		fromIdx := lowerBound(data.X, p.From)
		run := 0
		idx := fromIdx
		for idx > 0 && data.X[idx-1] >= lowerLimit {
			idx--
			if smoothed[idx] <= floor {
				run++
				if run >= 14 {
					p.From = data.X[idx]
					break
				}
			} else {
				run = 0
			}
		}

		toIdx := upperBound(data.X, p.To) - 1
		if toIdx < 0 {
			toIdx = 0
		}
		run = 0
		idx = toIdx
		for idx+1 < len(data.X) && data.X[idx+1] <= upperLimit {
			idx++
			if smoothed[idx] <= floor {
				run++
				if run >= 14 {
					p.To = data.X[idx]
					break
				}
			} else {
				run = 0
			}
		}
		out[i] = p
	}
	return out
}

func suppressContainedPeaks(data DataXY, peaks []Peak) []Peak {
	if len(peaks) <= 1 {
		return peaks
	}
	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return peaks[order[i]].Intensity > peaks[order[j]].Intensity })

	dxMin, ok := minPositiveStep(data.X)
	eps := 0.01
	if ok {
		eps = 2.0 * dxMin
	}

	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}

	for a := 0; a < len(order); a++ {
		ia := order[a]
		if !keep[ia] {
			continue
		}
		la, ra := peaks[ia].From, peaks[ia].To
		for b := a + 1; b < len(order); b++ {
			ib := order[b]
			if !keep[ib] {
				continue
			}
			lb, rb := peaks[ib].From, peaks[ib].To
			wb := math.Abs(rb - lb)
			if wb <= eps {
				keep[ib] = false
				continue
			}
			l := math.Max(la, lb)
			r := math.Min(ra, rb)
			overlap := math.Max(r-l, 0)
			if overlap >= 0.90*wb {
				keep[ib] = false
			}
		}
	}

	out := make([]Peak, 0, len(peaks))
	for i, p := range peaks {
		if keep[i] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RT < out[j].RT })
	return out
}
