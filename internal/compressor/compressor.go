package compressor

import (
	"context"
)

// SearchState tags the terminal condition of a size-targeting search.
type SearchState int

const (
	// StateConverged means an encode attempt met the target size.
	StateConverged SearchState = iota
	// StateFloorReached means the next shrink step would have crossed the
	// minimum-size floor; the last attempt above the floor was kept.
	StateFloorReached
	// StateExhausted means the iteration cap was spent; the smallest
	// attempt seen was kept.
	StateExhausted
)

func (s SearchState) String() string {
	switch s {
	case StateConverged:
		return "converged"
	case StateFloorReached:
		return "floor_reached"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// MetTarget reports whether the search ended with the target satisfied.
// The other two states deliver best-effort output at degraded quality.
func (s SearchState) MetTarget() bool { return s == StateConverged }

// Params carries raw caller input for one compression request. Pointer
// fields left nil fall back to the configured defaults.
type Params struct {
	TargetSizeKB      int
	MinSizePercentage *float64
	ScaleFactor       *float64
	SharpnessFactor   *float64
	ContrastFactor    *float64
	BlurRadius        *float64
	DPI               *int
}

// Request is the normalized, immutable form of Params. All values are
// inside their documented ranges once NormalizeParams has produced one.
type Request struct {
	TargetSizeBytes   int64
	MinSizePercentage float64
	ScaleFactor       float64
	SharpnessFactor   float64
	ContrastFactor    float64
	BlurRadius        float64
	DPI               int
}

// Attempt describes a single encode pass of the search loop. Attempts are
// transient: they are handed to the attempt hook and then discarded.
type Attempt struct {
	Iteration   int
	Scale       float64
	EncodedSize int64
	MetTarget   bool
}

// Result is the outcome of a completed search. Bytes are caller-owned.
type Result struct {
	Bytes        []byte
	AchievedSize int64
	OriginalSize int64
	Iterations   int
	FinalScale   float64
	State        SearchState
}

// AttemptHookFunc observes each encode attempt as it completes.
type AttemptHookFunc func(Attempt)

// Defaults supplies values for request parameters the caller omitted.
type Defaults struct {
	MinSizePercentage float64
	ScaleFactor       float64
	SharpnessFactor   float64
	ContrastFactor    float64
	BlurRadius        float64
	DPI               int
}

// Documented default values for omitted request parameters.
const (
	DefaultMinSizePercentage = 0.3
	DefaultScaleFactor       = 0.9
	DefaultSharpnessFactor   = 1.5
	DefaultContrastFactor    = 1.5
	DefaultBlurRadius        = 0.1
	DefaultDPI               = 300
)

// StandardDefaults returns the documented default parameter set.
func StandardDefaults() Defaults {
	return Defaults{
		MinSizePercentage: DefaultMinSizePercentage,
		ScaleFactor:       DefaultScaleFactor,
		SharpnessFactor:   DefaultSharpnessFactor,
		ContrastFactor:    DefaultContrastFactor,
		BlurRadius:        DefaultBlurRadius,
		DPI:               DefaultDPI,
	}
}

// Config carries search tuning and guard limits. Zero values fall back to
// the package defaults, so Config{} is usable.
type Config struct {
	Defaults      Defaults
	DecayRatio    float64
	MaxIterations int
	// MaxPixels refuses to decode images whose declared dimensions exceed
	// this many pixels. Zero disables the guard.
	MaxPixels int64
}

// Compressor defines the interface for size-targeted TIFF re-encoding.
type Compressor interface {
	// Compress re-encodes raw TIFF bytes so the output size approaches
	// params.TargetSizeKB. Floor-reached and exhausted outcomes are
	// successful results carrying a degraded-quality state, not errors.
	Compress(ctx context.Context, raw []byte, params Params) (*Result, error)
}
