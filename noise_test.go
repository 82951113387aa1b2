package msut

import (
	"math"
	"math/rand"
	"testing"
)

func TestFindNoiseLevelTooFewSamples(t *testing.T) {
	y := []float64{1, 2, 3, 0, -1}
	if got := FindNoiseLevel(y); !math.IsInf(got, 1) {
		t.Fatalf("expected +Inf for too-few-samples signal, got %g", got)
	}
}

func TestFindNoiseLevelSeparatesNoiseFromSignal(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	y := make([]float64, 4000)
	for i := range y {
		y[i] = 1.0 + r.Float64()*2.0 // noise band ~[1,3]
	}
	for i := 1900; i < 2100; i++ {
		d := float64(i-2000) / 20.0
		y[i] += 500 * math.Exp(-d*d/2) // signal bump far above the noise band
	}

	level := FindNoiseLevel(y)
	if math.IsInf(level, 1) {
		t.Fatalf("expected a finite noise level")
	}
	if level <= 0.5 || level >= 50 {
		t.Fatalf("noise level %g outside expected separation band (0.5, 50)", level)
	}
}

func TestNoiseLevelWindowedFindsLowFloor(t *testing.T) {
	y := make([]float64, 200)
	for i := range y {
		y[i] = 2.0
	}
	for i := 90; i < 110; i++ {
		y[i] = 100.0
	}
	got := NoiseLevelWindowed(y, 0.1, 0.1)
	if got > 3.0 {
		t.Fatalf("expected windowed noise estimate near the 2.0 floor, got %g", got)
	}
}

func TestNoiseLevelWindowedEmpty(t *testing.T) {
	if got := NoiseLevelWindowed(nil, 0.1, 0.1); got != 0 {
		t.Fatalf("expected 0 for empty input, got %g", got)
	}
}
