package inspector

// Inspector is the interface for probing image payloads for cheap metadata
// without materializing a raster.
type Inspector interface {
	Probe(raw []byte) (*SourceInfo, error)
}

// SourceInfo describes an image payload.
type SourceInfo struct {
	MIME       string
	Format     string
	Width      int
	Height     int
	Megapixels float64
	SizeBytes  int64
	// DPI is the declared X resolution, 0 when the payload carries none.
	// Fractional rationals such as 601/2 are kept exact.
	DPI float64
}

// IsTIFF reports whether the payload was detected as TIFF content.
func (s *SourceInfo) IsTIFF() bool {
	return s.MIME == "image/tiff"
}
