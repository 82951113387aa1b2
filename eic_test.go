package msut

import (
	"math"
	"testing"
)

func u32p(v uint32) *uint32 { return &v }

func makeMS1Run() *Run {
	spectra := make([]Spectrum, 0, 20)
	for i := 0; i < 20; i++ {
		rt := float64(i) * 0.5
		ml := uint8(1)
		mz := []float64{100.0, 200.2500, 200.2505, 300.5}
		intens := []float32{10, 0, 0, 5}
		if i >= 8 && i <= 12 {
			bump := 100.0 * math.Exp(-math.Pow(float64(i-10)/1.5, 2)/2)
			intens[1] = float32(bump)
		}
		spectra = append(spectra, Spectrum{
			Index:          uint32(i),
			MSLevel:        &ml,
			RetentionTime:  &rt,
			MzArray:        mz,
			IntensityArray: intens,
		})
	}
	return &Run{Spectra: spectra}
}

func TestCalculateEICSumsWithinTolerance(t *testing.T) {
	run := makeMS1Run()
	eic := CalculateEIC(run, 200.25, FromTo{From: 0, To: 10}, DefaultEicOptions())
	if len(eic.X) != len(eic.Y) || len(eic.X) == 0 {
		t.Fatalf("expected non-empty aligned EIC, got x=%d y=%d", len(eic.X), len(eic.Y))
	}
	apexIdx := 0
	for i, v := range eic.Y {
		if v > eic.Y[apexIdx] {
			apexIdx = i
		}
	}
	if math.Abs(eic.X[apexIdx]-5.0) > 0.5 {
		t.Fatalf("EIC apex rt = %g, want near 5.0", eic.X[apexIdx])
	}
	// at the apex only 200.25 (100) and 200.2505 (0) fall in the window;
	// 100.0 and 300.5 must not be added in.
	if eic.Y[apexIdx] != 100 {
		t.Fatalf("EIC apex intensity = %g, want 100", eic.Y[apexIdx])
	}
}

func TestCalculateEICEmptyOutsideWindow(t *testing.T) {
	run := makeMS1Run()
	eic := CalculateEIC(run, 200.25, FromTo{From: 100, To: 200}, DefaultEicOptions())
	if len(eic.X) != 0 {
		t.Fatalf("expected empty EIC outside scan time window, got %d points", len(eic.X))
	}
}

func TestComputeEICForMzInvalidTolerancePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for non-positive tolerance")
		}
	}()
	_, scans := CollectMS1Scans(makeMS1Run(), FromTo{From: 0, To: 10})
	ComputeEICForMz(scans, 20, 200.25, EicOptions{PpmTolerance: 0, MzTolerance: 0})
}

func TestComputeEICsParallelMatchesSequential(t *testing.T) {
	run := makeMS1Run()
	targets := []EicRoi{
		{ID: "a", RT: 5, Mz: 200.25, Window: 5},
		{ID: "b", RT: 5, Mz: 100.0, Window: 5},
		{ID: "c", RT: 5, Mz: 300.5, Window: 5},
	}
	window := FromTo{From: 5, To: 5}

	seq := ComputeEICs(run, window, targets, DefaultEicOptions(), 1)
	par := ComputeEICs(run, window, targets, DefaultEicOptions(), 4)

	if len(seq) != len(par) {
		t.Fatalf("length mismatch: seq=%d par=%d", len(seq), len(par))
	}
	for i := range seq {
		if len(seq[i].Y) != len(par[i].Y) {
			t.Fatalf("target %d: length mismatch seq=%d par=%d", i, len(seq[i].Y), len(par[i].Y))
		}
		for j := range seq[i].Y {
			if seq[i].Y[j] != par[i].Y[j] {
				t.Fatalf("target %d sample %d: seq=%g par=%g", i, j, seq[i].Y[j], par[i].Y[j])
			}
		}
	}
}

func TestGetPeaksFromEIC(t *testing.T) {
	run := makeMS1Run()
	items := []EicRoi{{ID: "bump", RT: 5.0, Mz: 200.25, Window: 5}}
	results := GetPeaksFromEIC(run, FromTo{From: 5, To: 5}, items, DefaultFindPeaksOptions(), 1)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != "bump" {
		t.Fatalf("unexpected id %q", results[0].ID)
	}
}
