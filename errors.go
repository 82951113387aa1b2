package msut

import (
	"errors"
)

// Error taxonomy, per spec.md section 7: kinds, not type names. Sgg,
// FindPeaks, ComputeEICForMz and FindFeatures panic with these on invalid
// input or a tripped guard (GetPeak recovers such a panic and skips that
// window size); DecodeBIN1 and the other fallible functions return them
// as error values.
var (
	ErrInvalidArgs         = errors.New("invalid arguments")
	ErrParse               = errors.New("parse error")
	ErrIncompatibleOptions = errors.New("incompatible options")
	ErrInternal            = errors.New("internal error")
	ErrNoData              = errors.New("no data")

	// BIN1-specific parse failures, wrapped together with ErrParse at the
	// call site so errors.Is matches both.
	ErrBadMagic          = errors.New("BIN1: bad magic")
	ErrShortHeader       = errors.New("BIN1: short header")
	ErrOffsetOutOfBounds = errors.New("BIN1: offset out of bounds")

	// EIC-specific invalid-argument failure.
	ErrInvalidTolerance = errors.New("EIC: tolerance must be > 0")
)
