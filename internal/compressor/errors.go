package compressor

import "fmt"

// ValidationError reports a request parameter that failed validation.
// Clampable out-of-range values never produce one; only structurally
// invalid input does.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Reason)
}

// UnsupportedFormatError reports a payload whose content is not TIFF.
type UnsupportedFormatError struct {
	Detected string
}

func (e *UnsupportedFormatError) Error() string {
	if e.Detected == "" {
		return "only TIFF files are supported"
	}
	return fmt.Sprintf("only TIFF files are supported, got %s", e.Detected)
}

// DecodeError wraps a failure to read the source image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode tiff: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError wraps a failure to serialize a processed raster.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return fmt.Sprintf("encode tiff: %v", e.Err) }

func (e *EncodeError) Unwrap() error { return e.Err }
