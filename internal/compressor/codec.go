package compressor

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/fumiama/imgsz"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/tiff"

	"tiffpress/internal/tiffmeta"
)

const tiffMIME = "image/tiff"

// sniffTIFF gates the payload before any raster is materialized: content
// must be TIFF and, when maxPixels is set, the declared dimensions must not
// exceed it. The dimension check runs on the header alone, which keeps
// decompression bombs from ever allocating a raster.
func sniffTIFF(raw []byte, maxPixels int64) error {
	mt := mimetype.Detect(raw)
	if !mt.Is(tiffMIME) {
		return &UnsupportedFormatError{Detected: mt.String()}
	}
	sz, _, err := imgsz.DecodeSize(bytes.NewReader(raw))
	if err != nil {
		return &DecodeError{Err: fmt.Errorf("read dimensions: %w", err)}
	}
	if sz.Width <= 0 || sz.Height <= 0 {
		return &DecodeError{Err: fmt.Errorf("invalid dimensions %dx%d", sz.Width, sz.Height)}
	}
	if maxPixels > 0 && int64(sz.Width)*int64(sz.Height) > maxPixels {
		return &DecodeError{Err: fmt.Errorf("image is %dx%d px, above the %d px limit", sz.Width, sz.Height, maxPixels)}
	}
	return nil
}

// decodeTIFF materializes the source raster in NRGBA form.
func decodeTIFF(raw []byte) (*image.NRGBA, error) {
	img, err := tiff.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return imaging.Clone(img), nil
}

// encodeTIFF serializes a raster with the fixed Deflate-plus-predictor
// scheme and stamps the requested DPI into the resolution tags (the stock
// encoder hard-codes 72).
func encodeTIFF(img *image.NRGBA, dpi int) ([]byte, error) {
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		return nil, &EncodeError{Err: err}
	}
	out := buf.Bytes()
	if err := tiffmeta.SetResolution(out, uint32(dpi)); err != nil {
		return nil, &EncodeError{Err: fmt.Errorf("set resolution: %w", err)}
	}
	return out, nil
}
