package msut

import (
	"math"
	"testing"
)

func gaussian(xs []float64, center, height, width float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		d := (x - center) / width
		out[i] = height * math.Exp(-d*d/2)
	}
	return out
}

func addSignals(sigs ...[]float64) []float64 {
	out := make([]float64, len(sigs[0]))
	for _, s := range sigs {
		for i, v := range s {
			out[i] += v
		}
	}
	return out
}

func TestFindPeaksSingleGaussian(t *testing.T) {
	xs := linspace(0, 20, 401)
	ys := gaussian(xs, 10, 1000, 0.5)

	peaks := FindPeaks(DataXY{X: xs, Y: ys}, DefaultFindPeaksOptions())
	if len(peaks) != 1 {
		t.Fatalf("expected 1 peak, got %d: %+v", len(peaks), peaks)
	}
	if math.Abs(peaks[0].RT-10) > 0.2 {
		t.Fatalf("peak rt = %g, want near 10", peaks[0].RT)
	}
	if peaks[0].Intensity < 900 {
		t.Fatalf("peak intensity = %g, want near 1000", peaks[0].Intensity)
	}
	if peaks[0].Ratio != 1.0 {
		t.Fatalf("sole peak ratio = %g, want 1.0", peaks[0].Ratio)
	}
}

func TestFindPeaksTwoSeparatedGaussians(t *testing.T) {
	xs := linspace(0, 40, 801)
	ys := addSignals(
		gaussian(xs, 10, 800, 0.5),
		gaussian(xs, 30, 500, 0.5),
	)

	peaks := FindPeaks(DataXY{X: xs, Y: ys}, DefaultFindPeaksOptions())
	if len(peaks) != 2 {
		t.Fatalf("expected 2 peaks, got %d: %+v", len(peaks), peaks)
	}
	if math.Abs(peaks[0].RT-10) > 0.3 {
		t.Fatalf("first peak rt = %g, want near 10", peaks[0].RT)
	}
	if math.Abs(peaks[1].RT-30) > 0.3 {
		t.Fatalf("second peak rt = %g, want near 30", peaks[1].RT)
	}
	if peaks[0].Intensity <= peaks[1].Intensity*1.2 {
		t.Fatalf("expected first peak notably taller: %+v", peaks)
	}
}

func TestFindPeaksMergesNearDuplicates(t *testing.T) {
	xs := linspace(0, 20, 401)
	ys := addSignals(
		gaussian(xs, 10.0, 1000, 0.5),
		gaussian(xs, 10.05, 950, 0.5),
	)

	peaks := FindPeaks(DataXY{X: xs, Y: ys}, DefaultFindPeaksOptions())
	if len(peaks) != 1 {
		t.Fatalf("expected near-duplicate peaks to merge into 1, got %d: %+v", len(peaks), peaks)
	}
}

func TestFindPeaksNoiseFloorYieldsNoPeaks(t *testing.T) {
	xs := linspace(0, 20, 401)
	ys := make([]float64, len(xs))
	for i := range ys {
		ys[i] = 1.0
	}

	noise := 5.0
	opts := DefaultFindPeaksOptions()
	opts.FilterPeaksOptions.Noise = &noise

	peaks := FindPeaks(DataXY{X: xs, Y: ys}, opts)
	if len(peaks) != 0 {
		t.Fatalf("expected no peaks below the noise floor, got %d: %+v", len(peaks), peaks)
	}
}

func TestFindPeaksIncompatibleOptionsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for AutoNoise + explicit Noise")
		}
	}()
	xs := linspace(0, 10, 101)
	ys := gaussian(xs, 5, 100, 0.5)
	noise := 1.0
	opts := DefaultFindPeaksOptions()
	opts.FilterPeaksOptions.AutoNoise = true
	opts.FilterPeaksOptions.Noise = &noise
	FindPeaks(DataXY{X: xs, Y: ys}, opts)
}

func TestFindPeaksIntegralThresholdDiscardsMinorPeak(t *testing.T) {
	xs := linspace(0, 40, 801)
	ys := addSignals(
		gaussian(xs, 10, 1000, 0.5),
		gaussian(xs, 30, 5, 0.5),
	)

	thresh := 0.05
	opts := DefaultFindPeaksOptions()
	opts.FilterPeaksOptions.IntegralThreshold = &thresh

	peaks := FindPeaks(DataXY{X: xs, Y: ys}, opts)
	if len(peaks) != 1 {
		t.Fatalf("expected the minor peak to be discarded by the integral threshold, got %d: %+v", len(peaks), peaks)
	}
	if math.Abs(peaks[0].RT-10) > 0.3 {
		t.Fatalf("surviving peak rt = %g, want near 10", peaks[0].RT)
	}
}

func TestGetBoundariesWalksToBaseline(t *testing.T) {
	xs := linspace(0, 20, 401)
	ys := gaussian(xs, 10, 1000, 0.5)

	b := GetBoundaries(DataXY{X: xs, Y: ys}, 10, DefaultBoundariesOptions())
	if !b.From.OK || !b.To.OK {
		t.Fatalf("expected both boundaries to resolve: %+v", b)
	}
	if b.From.Value >= 10 || b.To.Value <= 10 {
		t.Fatalf("boundaries should straddle the apex: %+v", b)
	}
}
