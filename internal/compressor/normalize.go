package compressor

// Documented parameter ranges. Out-of-range values are clamped into these
// bounds rather than rejected.
const (
	MinSizePercentageMin = 0.1
	MinSizePercentageMax = 1.0
	ScaleFactorMin       = 0.1
	ScaleFactorMax       = 1.0
	EnhanceFactorMin     = 0.1
	EnhanceFactorMax     = 3.0
	BlurRadiusMin        = 0.0
	BlurRadiusMax        = 2.0
)

// NormalizeParams resolves omitted fields from d, clamps out-of-range values
// into their documented ranges and rejects structurally invalid input with a
// *ValidationError naming the offending field.
func NormalizeParams(p Params, d Defaults) (Request, error) {
	if p.TargetSizeKB <= 0 {
		return Request{}, &ValidationError{Field: "target_size_kb", Reason: "must be a positive integer"}
	}

	dpi := d.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if p.DPI != nil {
		if *p.DPI <= 0 {
			return Request{}, &ValidationError{Field: "dpi", Reason: "must be a positive integer"}
		}
		dpi = *p.DPI
	}

	return Request{
		TargetSizeBytes:   int64(p.TargetSizeKB) * 1024,
		MinSizePercentage: clamp(orDefault(p.MinSizePercentage, d.MinSizePercentage), MinSizePercentageMin, MinSizePercentageMax),
		ScaleFactor:       clamp(orDefault(p.ScaleFactor, d.ScaleFactor), ScaleFactorMin, ScaleFactorMax),
		SharpnessFactor:   clamp(orDefault(p.SharpnessFactor, d.SharpnessFactor), EnhanceFactorMin, EnhanceFactorMax),
		ContrastFactor:    clamp(orDefault(p.ContrastFactor, d.ContrastFactor), EnhanceFactorMin, EnhanceFactorMax),
		BlurRadius:        clamp(orDefault(p.BlurRadius, d.BlurRadius), BlurRadiusMin, BlurRadiusMax),
		DPI:               dpi,
	}, nil
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
