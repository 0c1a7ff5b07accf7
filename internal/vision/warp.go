package vision

import (
	"image"
	"math"

	"github.com/MeKo-Tech/idscan/internal/geometry"
)

// warpPerspective fills dst by inverse-mapping every output pixel centre
// through the homography from the dst rectangle onto q in src, sampling
// bilinearly.
// Samples more than half a pixel outside src are opaque black.
func warpPerspective(dst, src *image.NRGBA, q geometry.Quad) error {
	dw, dh := dst.Rect.Dx(), dst.Rect.Dy()
	H, err := geometry.RectToQuad(dw, dh, q)
	if err != nil {
		return err
	}
	for y := range dh {
		row := dst.Pix[y*dst.Stride:]
		for x := range dw {
			sx, sy, ok := H.Apply(float64(x)+0.5, float64(y)+0.5)
			px := row[4*x : 4*x+4]
			if !ok {
				px[0], px[1], px[2], px[3] = 0, 0, 0, 255
				continue
			}
			bilinearNRGBA(src, sx-0.5, sy-0.5, px)
		}
	}
	return nil
}

// bilinearNRGBA samples src at (x, y), relative to src.Rect.Min, into out.
func bilinearNRGBA(src *image.NRGBA, x, y float64, out []uint8) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if math.IsNaN(x) || math.IsNaN(y) || x < -0.5 || y < -0.5 || x > float64(w)-0.5 || y > float64(h)-0.5 {
		out[0], out[1], out[2], out[3] = 0, 0, 0, 255
		return
	}
	x = min(max(x, 0), float64(w-1))
	y = min(max(y, 0), float64(h-1))
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	fx, fy := x-float64(x0), y-float64(y0)

	i00 := y0*src.Stride + 4*x0
	i10 := y0*src.Stride + 4*x1
	i01 := y1*src.Stride + 4*x0
	i11 := y1*src.Stride + 4*x1
	for c := range 4 {
		top := lerp(float64(src.Pix[i00+c]), float64(src.Pix[i10+c]), fx)
		bot := lerp(float64(src.Pix[i01+c]), float64(src.Pix[i11+c]), fx)
		out[c] = uint8(lerp(top, bot, fy) + 0.5)
	}
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }
