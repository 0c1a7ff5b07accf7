package utils

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// FitSize returns the dimensions of a w×h image scaled so that its longer
// side is at most maxSide. Images already small enough keep their size.
func FitSize(w, h, maxSide int) (int, int) {
	if w <= 0 || h <= 0 || maxSide <= 0 || max(w, h) <= maxSide {
		return w, h
	}
	scale := float64(max(w, h)) / float64(maxSide)
	return max(1, int(float64(w)/scale+0.5)), max(1, int(float64(h)/scale+0.5))
}

// ResampleInto draws src into dst, scaling with bilinear interpolation when
// the sizes differ.
func ResampleInto(dst *image.NRGBA, src image.Image) error {
	if src == nil || dst == nil {
		return &ImageProcessingError{Operation: "resample", Err: errors.New("nil image")}
	}
	sb, db := src.Bounds(), dst.Bounds()
	if sb.Empty() || db.Empty() {
		return &ImageProcessingError{Operation: "resample", Err: fmt.Errorf("invalid dimensions %dx%d -> %dx%d",
			sb.Dx(), sb.Dy(), db.Dx(), db.Dy())}
	}
	if sb.Dx() == db.Dx() && sb.Dy() == db.Dy() {
		draw.Draw(dst, db, src, sb.Min, draw.Src)
		return nil
	}
	draw.BiLinear.Scale(dst, db, src, sb, draw.Src, nil)
	return nil
}
