// Package msut implements a mass-spectrometry signal-processing core: the
// BIN1 binary run container, the extracted-ion-chromatogram (EIC) engine,
// and the Savitzky-Golay-based peak-finding pipeline.
package msut

// Precursor mirrors the optional 4-float precursor block carried by a
// centroid MS2 spectrum. Any field may be absent (nil) independently.
type Precursor struct {
	IsolationWindowTargetMz     *float64
	IsolationWindowLowerOffset  *float64
	IsolationWindowUpperOffset  *float64
	SelectedIonMz               *float64
}

// Spectrum is one scan of a run. MzArray and IntensityArray are either both
// present and equal in length, or both absent.
type Spectrum struct {
	Index                  uint32
	ArrayLength             uint32
	MSLevel                 *uint8 // sentinel 255 in BIN1
	Polarity                *uint8 // 0 = positive, 1 = negative
	SpectrumType            *uint8 // 0 = profile, 1 = centroid
	RetentionTime           *float64 // minutes
	ScanWindowLower         *float64
	ScanWindowUpper         *float64
	TotalIonCurrent         *float64
	BasePeakIntensity       *float64
	BasePeakMz              *float64
	MzArray                 []float64 // sorted ascending
	IntensityArray          []float32 // same length as MzArray
	Precursor               *Precursor
}

// Chromatogram is one stored trace (e.g. TIC, SRM transition) of a run.
type Chromatogram struct {
	Index           uint32
	ArrayLength     uint32
	ID              string
	TimeArray       []float64 // non-decreasing
	IntensityArray  []float32
}

// Run is a single mzML run: its spectra and chromatograms, value-owned.
type Run struct {
	ID                           string
	StartTimestamp               string
	DefaultInstrumentRef         string
	Spectra                      []Spectrum
	Chromatograms                []Chromatogram
}

// ParsedRun is the value produced by the (out-of-scope) mzML parser and
// consumed by BIN1 encoding and by the EIC engine. It is a thin alias over
// Run: the parser's output shape and the decoder's output shape are the
// same value type, per spec.md's data-flow diagram.
type ParsedRun = Run

// FromTo is an inclusive retention-time (or generic x-axis) window.
type FromTo struct {
	From float64
	To   float64
}

// DataXY is a dense, ordered one-dimensional signal passed by reference
// into the peak-finding pipeline. X must be non-decreasing and at least
// 3 samples long for FindPeaks to produce anything.
type DataXY struct {
	X []float64
	Y []float64
}

// Peak is one detected chromatographic peak.
type Peak struct {
	From      float64
	To        float64
	RT        float64
	Integral  float64
	Intensity float64
	Ratio     float64
	NP        int
	Noise     float64
}

// Feature is a 2-D (m/z x rt) detection produced by FindFeatures.
type Feature struct {
	ID        string
	Mz        float64
	ORT       float64 // caller-supplied original rt, echoed back for JSON
	RT        float64
	From      float64
	To        float64
	Intensity float64
	Integral  float64
	Noise     float64
	NP        int
}

// EicRoi names a single-target EIC request.
type EicRoi struct {
	ID     string
	RT     float64
	Mz     float64
	Window float64 // half-width in rt-units, > 0
}

// ChromRoi names a region of interest within an already-stored chromatogram.
type ChromRoi struct {
	ID     string
	Idx    int
	RT     float64
	Window float64
}
