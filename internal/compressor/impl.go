package compressor

import (
	"context"
	"fmt"
	"image"
)

// Search tuning fallbacks applied when Config carries zero values.
const (
	DefaultDecayRatio    = 0.9
	DefaultMaxIterations = 16
)

// DefaultCompressor is the default implementation of the Compressor
// interface. It is read-only after construction and safe for concurrent use.
type DefaultCompressor struct {
	cfg  Config
	hook AttemptHookFunc
}

// NewDefaultCompressor creates a new DefaultCompressor instance.
func NewDefaultCompressor(cfg Config) *DefaultCompressor {
	return &DefaultCompressor{cfg: cfg}
}

// NewDefaultCompressorWithAttemptHook creates a DefaultCompressor that
// reports every encode attempt to hook before deciding how to continue.
func NewDefaultCompressorWithAttemptHook(cfg Config, hook AttemptHookFunc) *DefaultCompressor {
	return &DefaultCompressor{cfg: cfg, hook: hook}
}

// Compress normalizes params, gates and decodes raw and runs the
// size-targeting search over it.
func (c *DefaultCompressor) Compress(ctx context.Context, raw []byte, params Params) (*Result, error) {
	req, err := NormalizeParams(params, c.cfg.Defaults)
	if err != nil {
		return nil, err
	}
	if err := sniffTIFF(raw, c.cfg.MaxPixels); err != nil {
		return nil, err
	}
	src, err := decodeTIFF(raw)
	if err != nil {
		return nil, err
	}
	return c.search(ctx, src, int64(len(raw)), req)
}

// search encodes at geometrically decaying scale factors until the target
// is met (converged), the next shrink would cross the minimum-size floor
// (floor reached) or the iteration cap is spent (exhausted). Every attempt
// re-derives its raster from src, so scale stays absolute and the floor can
// never be crossed by accumulated drift. The loop is synchronous and spawns
// nothing; ctx is consulted only between iterations.
func (c *DefaultCompressor) search(ctx context.Context, src *image.NRGBA, originalSize int64, req Request) (*Result, error) {
	decay := c.cfg.DecayRatio
	if decay <= 0 || decay >= 1 {
		decay = DefaultDecayRatio
	}
	maxIterations := c.cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	floor := req.MinSizePercentage * req.ScaleFactor

	scale := req.ScaleFactor
	var best Attempt
	var bestBytes []byte

	for iteration := 0; iteration < maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("search aborted: %w", err)
		}

		encoded, err := encodeTIFF(applyEnhancements(src, req, scale), req.DPI)
		if err != nil {
			return nil, err
		}
		attempt := Attempt{
			Iteration:   iteration,
			Scale:       scale,
			EncodedSize: int64(len(encoded)),
			MetTarget:   int64(len(encoded)) <= req.TargetSizeBytes,
		}
		if c.hook != nil {
			c.hook(attempt)
		}
		// Strict comparison keeps the earlier, larger-scale attempt on
		// equal sizes.
		if bestBytes == nil || attempt.EncodedSize < best.EncodedSize {
			best = attempt
			bestBytes = encoded
		}

		if attempt.MetTarget {
			return newResult(StateConverged, attempt, encoded, originalSize, iteration+1), nil
		}
		if scale*decay < floor {
			return newResult(StateFloorReached, attempt, encoded, originalSize, iteration+1), nil
		}
		scale *= decay
	}

	return newResult(StateExhausted, best, bestBytes, originalSize, maxIterations), nil
}

func newResult(state SearchState, a Attempt, data []byte, originalSize int64, performed int) *Result {
	return &Result{
		Bytes:        data,
		AchievedSize: a.EncodedSize,
		OriginalSize: originalSize,
		Iterations:   performed,
		FinalScale:   a.Scale,
		State:        state,
	}
}
