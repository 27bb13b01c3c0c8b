// Package service glues the inspector, the compressor and the bookkeeping
// together for a single request. Transport layers (HTTP, CLI) call it and
// stay free of compression semantics.
package service

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"tiffpress/internal/compressor"
	"tiffpress/internal/config"
	"tiffpress/internal/inspector"
	"tiffpress/internal/statistics"
)

// Input is one compression job as received from a transport layer.
type Input struct {
	Name   string
	Raw    []byte
	Params compressor.Params
}

// Outcome bundles the compression result with the source probe and timing.
type Outcome struct {
	Result   *compressor.Result
	Source   *inspector.SourceInfo
	Duration time.Duration
}

// CompressionService orchestrates probing, searching and bookkeeping for
// single requests. It is safe for concurrent use.
type CompressionService struct {
	config    *config.Config
	logger    *logrus.Logger
	stats     *statistics.Statistics
	inspector inspector.Inspector
}

// NewCompressionService creates a new CompressionService.
func NewCompressionService(cfg *config.Config, logger *logrus.Logger, stats *statistics.Statistics) *CompressionService {
	return &CompressionService{
		config:    cfg,
		logger:    logger,
		stats:     stats,
		inspector: inspector.NewDefaultInspector(logger),
	}
}

// Process runs one compression request end to end.
func (s *CompressionService) Process(ctx context.Context, in Input) (*Outcome, error) {
	return s.process(ctx, in, nil)
}

// ProcessWithAttemptHook runs one request and reports every encode attempt
// to hook, for example to push progress over a WebSocket.
func (s *CompressionService) ProcessWithAttemptHook(ctx context.Context, in Input, hook compressor.AttemptHookFunc) (*Outcome, error) {
	return s.process(ctx, in, hook)
}

func (s *CompressionService) process(ctx context.Context, in Input, hook compressor.AttemptHookFunc) (*Outcome, error) {
	start := time.Now()
	s.stats.IncrementRequests()
	s.stats.AddBytesIn(int64(len(in.Raw)))

	// The probe is informational; the compressor gate re-checks content on
	// its own.
	source, err := s.inspector.Probe(in.Raw)
	if err != nil {
		s.logger.Debugf("Source probe failed for %s: %v", in.Name, err)
	} else {
		s.logger.Infof("Processing %s: %s %dx%d (%.1f MP), %d bytes",
			in.Name, source.Format, source.Width, source.Height, source.Megapixels, source.SizeBytes)
	}

	comp := compressor.NewDefaultCompressorWithAttemptHook(s.compressorConfig(), hook)
	result, err := comp.Compress(ctx, in.Raw, in.Params)
	if err != nil {
		s.recordFailure(in.Name, err)
		return nil, err
	}

	duration := time.Since(start)
	s.recordResult(result, duration)

	s.logger.WithFields(logrus.Fields{
		"operation":     "compress",
		"file":          in.Name,
		"state":         result.State.String(),
		"iterations":    result.Iterations,
		"final_scale":   result.FinalScale,
		"original_size": result.OriginalSize,
		"achieved_size": result.AchievedSize,
		"duration_ms":   duration.Milliseconds(),
	}).Info("Compression finished")

	return &Outcome{Result: result, Source: source, Duration: duration}, nil
}

// compressorConfig converts the service configuration into core tuning.
func (s *CompressionService) compressorConfig() compressor.Config {
	return compressor.Config{
		Defaults: compressor.Defaults{
			MinSizePercentage: s.config.Defaults.MinSizePercentage,
			ScaleFactor:       s.config.Defaults.ScaleFactor,
			SharpnessFactor:   s.config.Defaults.SharpnessFactor,
			ContrastFactor:    s.config.Defaults.ContrastFactor,
			BlurRadius:        s.config.Defaults.BlurRadius,
			DPI:               s.config.Defaults.DPI,
		},
		DecayRatio:    s.config.Search.DecayRatio,
		MaxIterations: s.config.Search.MaxIterations,
		MaxPixels:     s.config.Limits.MaxPixels,
	}
}

func (s *CompressionService) recordResult(result *compressor.Result, d time.Duration) {
	switch result.State {
	case compressor.StateConverged:
		s.stats.IncrementConverged()
	case compressor.StateFloorReached:
		s.stats.IncrementFloorReached()
	case compressor.StateExhausted:
		s.stats.IncrementExhausted()
	}
	s.stats.AddBytesOut(result.AchievedSize)
	s.stats.AddEncodeAttempts(int64(result.Iterations))
	s.stats.AddLatency(d)
}

func (s *CompressionService) recordFailure(name string, err error) {
	var (
		verr *compressor.ValidationError
		ferr *compressor.UnsupportedFormatError
		derr *compressor.DecodeError
		eerr *compressor.EncodeError
	)
	switch {
	case errors.As(err, &verr):
		s.stats.IncrementValidationFailures()
	case errors.As(err, &ferr):
		s.stats.IncrementFormatFailures()
	case errors.As(err, &derr):
		s.stats.IncrementDecodeFailures()
	case errors.As(err, &eerr):
		s.stats.IncrementEncodeFailures()
	default:
		s.stats.IncrementOtherFailures()
	}
	s.stats.AddError(name, "compress", err.Error())
	s.logger.Errorf("Compression failed for %s: %v", name, err)
}

// OutputName returns the conventional download name for a compressed file.
func OutputName(input string) string {
	base := filepath.Base(input)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "image.tiff"
	}
	return "compressed_" + base
}
