package inspector

import (
	"bytes"
	"fmt"

	"github.com/fumiama/imgsz"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"

	"tiffpress/internal/tiffmeta"
)

// DefaultInspector probes payloads with magic-byte detection plus a header
// walk. It keeps no state between probes.
type DefaultInspector struct {
	logger *logrus.Logger
}

// NewDefaultInspector returns a new DefaultInspector.
func NewDefaultInspector(logger *logrus.Logger) *DefaultInspector {
	return &DefaultInspector{logger: logger}
}

// Probe returns metadata about raw. It understands every format the size
// sniffer knows, so callers can report what a rejected upload actually was.
func (i *DefaultInspector) Probe(raw []byte) (*SourceInfo, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	mt := mimetype.Detect(raw)
	sz, format, err := imgsz.DecodeSize(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read dimensions: %w", err)
	}

	return &SourceInfo{
		MIME:       mt.String(),
		Format:     format,
		Width:      sz.Width,
		Height:     sz.Height,
		Megapixels: float64(sz.Width) * float64(sz.Height) / 1e6,
		SizeBytes:  int64(len(raw)),
		DPI:        i.probeDPI(raw),
	}, nil
}

// probeDPI reads the declared X resolution. EXIF is consulted first; plain
// TIFFs without parseable EXIF fall back to the first-IFD resolution tags.
// A missing resolution is not an error, it simply reports zero.
func (i *DefaultInspector) probeDPI(raw []byte) float64 {
	if x, err := exif.Decode(bytes.NewReader(raw)); err == nil {
		if tag, err := x.Get(exif.XResolution); err == nil {
			if num, den, err := tag.Rat2(0); err == nil && den != 0 {
				return float64(num) / float64(den)
			}
		}
	}
	if xres, _, err := tiffmeta.Resolution(raw); err == nil {
		return xres
	}
	i.logger.Debugf("no resolution metadata in %d byte payload", len(raw))
	return 0
}
