package compressor

import (
	"image"

	"github.com/disintegration/imaging"
)

// applyEnhancements runs the fixed transform order on src: downscale,
// sharpen, contrast, blur. Blur runs last so it tempers sharpening and
// contrast artifacts. Stages sitting at their neutral value are skipped
// entirely, so a fully neutral request returns src unchanged.
//
// scale is absolute with respect to src, never relative to a previous pass,
// which keeps repeated invocations deterministic for the same inputs.
func applyEnhancements(src *image.NRGBA, req Request, scale float64) *image.NRGBA {
	img := src

	if scale < 1.0 {
		b := img.Bounds()
		w := max(1, int(float64(b.Dx())*scale))
		h := max(1, int(float64(b.Dy())*scale))
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	// Sharpness follows the 1.0-neutral factor convention: above 1.0
	// sharpens, below 1.0 softens.
	switch {
	case req.SharpnessFactor > 1.0:
		img = imaging.Sharpen(img, req.SharpnessFactor-1.0)
	case req.SharpnessFactor < 1.0:
		img = imaging.Blur(img, 1.0-req.SharpnessFactor)
	}

	if req.ContrastFactor != 1.0 {
		img = imaging.AdjustContrast(img, clamp((req.ContrastFactor-1.0)*100, -100, 100))
	}

	if req.BlurRadius > 0 {
		img = imaging.Blur(img, req.BlurRadius)
	}

	return img
}
