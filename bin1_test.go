package msut

import (
	"testing"
)

func f64p(v float64) *float64 { return &v }
func u8p(v uint8) *uint8      { return &v }

func TestEncodeDecodeBIN1RoundTrip(t *testing.T) {
	run := &Run{
		Spectra: []Spectrum{
			{
				Index:           0,
				ArrayLength:     4,
				MSLevel:         u8p(1),
				Polarity:        u8p(0),
				SpectrumType:    u8p(1),
				RetentionTime:   f64p(1.5),
				ScanWindowLower: f64p(70.0),
				ScanWindowUpper: f64p(1000.0),
				TotalIonCurrent: f64p(12345.0),
				BasePeakMz:      f64p(200.25),
				MzArray:         []float64{100.1, 100.2, 200.25, 300.3},
				IntensityArray:  []float32{10, 20, 30, 5},
			},
			{
				Index:        1,
				ArrayLength:  2,
				MSLevel:      u8p(2),
				RetentionTime: f64p(1.6),
				MzArray:      []float64{150.05, 150.06},
				IntensityArray: []float32{1, 2},
				Precursor: &Precursor{
					IsolationWindowTargetMz: f64p(200.25),
					SelectedIonMz:           f64p(200.2),
				},
			},
		},
		Chromatograms: []Chromatogram{
			{
				Index:          0,
				ArrayLength:    3,
				ID:             "TIC",
				TimeArray:      []float64{0.0, 0.5, 1.0},
				IntensityArray: []float32{100, 200, 150},
			},
		},
	}

	buf := EncodeBIN1(run)
	if len(buf) < bin1HeaderSize {
		t.Fatalf("encoded buffer too short: %d bytes", len(buf))
	}
	if string(buf[0:4]) != "BIN1" {
		t.Fatalf("bad magic: %q", buf[0:4])
	}

	got, err := DecodeBIN1(buf)
	if err != nil {
		t.Fatalf("DecodeBIN1: %v", err)
	}
	if len(got.Spectra) != 2 {
		t.Fatalf("got %d spectra, want 2", len(got.Spectra))
	}
	if len(got.Chromatograms) != 1 {
		t.Fatalf("got %d chromatograms, want 1", len(got.Chromatograms))
	}

	s0 := got.Spectra[0]
	if len(s0.MzArray) != 4 || s0.MzArray[2] != 200.25 {
		t.Fatalf("spectrum 0 mz array mismatch: %+v", s0.MzArray)
	}
	if len(s0.IntensityArray) != 4 || s0.IntensityArray[1] != 20 {
		t.Fatalf("spectrum 0 intensity array mismatch: %+v", s0.IntensityArray)
	}
	if s0.MSLevel == nil || *s0.MSLevel != 1 {
		t.Fatalf("spectrum 0 MSLevel mismatch: %+v", s0.MSLevel)
	}
	if s0.RetentionTime == nil || *s0.RetentionTime != 1.5 {
		t.Fatalf("spectrum 0 RetentionTime mismatch: %+v", s0.RetentionTime)
	}
	if s0.BasePeakIntensity != nil {
		t.Fatalf("spectrum 0 BasePeakIntensity should be absent, got %v", *s0.BasePeakIntensity)
	}

	s1 := got.Spectra[1]
	if s1.Precursor == nil {
		t.Fatalf("spectrum 1 precursor should be present")
	}
	if s1.Precursor.IsolationWindowTargetMz == nil || *s1.Precursor.IsolationWindowTargetMz != 200.25 {
		t.Fatalf("spectrum 1 precursor target mz mismatch: %+v", s1.Precursor)
	}
	if s1.Precursor.IsolationWindowLowerOffset != nil {
		t.Fatalf("spectrum 1 precursor lower offset should be absent")
	}

	c0 := got.Chromatograms[0]
	if c0.ID != "TIC" {
		t.Fatalf("chromatogram 0 id mismatch: %q", c0.ID)
	}
	if len(c0.TimeArray) != 3 || c0.TimeArray[1] != 0.5 {
		t.Fatalf("chromatogram 0 time array mismatch: %+v", c0.TimeArray)
	}
	if len(c0.IntensityArray) != 3 || c0.IntensityArray[2] != 150 {
		t.Fatalf("chromatogram 0 intensity array mismatch: %+v", c0.IntensityArray)
	}
}

func TestDecodeBIN1ShortHeader(t *testing.T) {
	_, err := DecodeBIN1(make([]byte, 10))
	if err == nil {
		t.Fatalf("expected error for short header")
	}
}

func TestDecodeBIN1BadMagic(t *testing.T) {
	buf := make([]byte, bin1HeaderSize)
	copy(buf[0:4], "XXXX")
	_, err := DecodeBIN1(buf)
	if err == nil {
		t.Fatalf("expected error for bad magic")
	}
}

func TestEncodeBIN1Empty(t *testing.T) {
	buf := EncodeBIN1(&Run{})
	got, err := DecodeBIN1(buf)
	if err != nil {
		t.Fatalf("DecodeBIN1 empty run: %v", err)
	}
	if len(got.Spectra) != 0 || len(got.Chromatograms) != 0 {
		t.Fatalf("expected empty run, got %+v", got)
	}
}

func TestDecodeBINSFormat(t *testing.T) {
	run := &Run{
		Spectra: []Spectrum{
			{MzArray: []float64{1.0, 2.0, 3.0}, IntensityArray: []float32{9, 8, 7}},
		},
		Chromatograms: []Chromatogram{
			{TimeArray: []float64{0.1, 0.2}, IntensityArray: []float32{11, 22}, ID: "ignored-in-bins"},
		},
	}
	bins := EncodeBINS(run)
	if string(bins[0:4]) != "BINS" {
		t.Fatalf("bad magic: %q", bins[0:4])
	}

	got, err := DecodeBIN1(bins)
	if err != nil {
		t.Fatalf("DecodeBIN1 BINS: %v", err)
	}
	if len(got.Spectra) != 1 || len(got.Spectra[0].MzArray) != 3 {
		t.Fatalf("BINS spectra mismatch: %+v", got.Spectra)
	}
	if got.Spectra[0].MSLevel != nil {
		t.Fatalf("BINS format should carry no metadata, got MSLevel=%v", got.Spectra[0].MSLevel)
	}
	if len(got.Chromatograms) != 1 || len(got.Chromatograms[0].TimeArray) != 2 {
		t.Fatalf("BINS chromatograms mismatch: %+v", got.Chromatograms)
	}
	if got.Chromatograms[0].ID != "" {
		t.Fatalf("BINS format should carry no chromatogram id, got %q", got.Chromatograms[0].ID)
	}
}
