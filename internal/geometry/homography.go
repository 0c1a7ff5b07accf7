package geometry

import (
	"math"

	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/utils"
)

// Homography is a row-major 3×3 projective transform with h[8] == 1.
type Homography [9]float64

// ComputeHomography solves for the transform mapping src[i] onto dst[i].
// It reports false when the correspondences are degenerate.
func ComputeHomography(src, dst [4]utils.Point) (Homography, bool) {
	var a [8][8]float64
	var b [8]float64
	for i := range 4 {
		X, Y := src[i].X, src[i].Y
		x, y := dst[i].X, dst[i].Y
		r := 2 * i
		a[r] = [8]float64{X, Y, 1, 0, 0, 0, -X * x, -Y * x}
		b[r] = x
		a[r+1] = [8]float64{0, 0, 0, X, Y, 1, -X * y, -Y * y}
		b[r+1] = y
	}

	h, ok := solve8x8(a, b)
	if !ok {
		return Homography{}, false
	}
	return Homography{h[0], h[1], h[2], h[3], h[4], h[5], h[6], h[7], 1}, true
}

// solve8x8 runs Gauss–Jordan elimination with partial pivoting.
func solve8x8(a [8][8]float64, b [8]float64) ([8]float64, bool) {
	for col := range 8 {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return [8]float64{}, false
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		div := a[col][col]
		for c := col; c < 8; c++ {
			a[col][c] /= div
		}
		b[col] /= div

		for r := range 8 {
			if r == col || a[r][col] == 0 {
				continue
			}
			f := a[r][col]
			for c := col; c < 8; c++ {
				a[r][c] -= f * a[col][c]
			}
			b[r] -= f * b[col]
		}
	}
	return b, true
}

// Apply maps (x, y) through h. ok is false when the point maps to infinity.
func (h Homography) Apply(x, y float64) (float64, float64, bool) {
	w := h[6]*x + h[7]*y + h[8]
	if w == 0 {
		return 0, 0, false
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w, true
}

// RectToQuad returns the transform taking the outer corners of a w×h output
// raster, (0,0) to (w,h), onto q. Pixel centres sit at half-integer
// coordinates on both sides. Used for inverse-mapping warps.
func RectToQuad(w, h int, q Quad) (Homography, error) {
	if w <= 0 || h <= 0 {
		return Homography{}, apperrors.NewInvalidGeometry("output size %dx%d", w, h)
	}
	if err := q.Validate(); err != nil {
		return Homography{}, err
	}
	fw, fh := float64(w), float64(h)
	rect := [4]utils.Point{{X: 0, Y: 0}, {X: fw, Y: 0}, {X: fw, Y: fh}, {X: 0, Y: fh}}
	H, ok := ComputeHomography(rect, q)
	if !ok {
		return Homography{}, apperrors.NewInvalidGeometry("degenerate correspondence")
	}
	return H, nil
}
