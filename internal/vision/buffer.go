package vision

import (
	"image"
	"sync/atomic"

	"github.com/MeKo-Tech/idscan/internal/mempool"
)

// Buffer is an engine-owned image. The full-resolution pixels, the
// downscaled analysis copy and its luminance plane all come from mempool
// and go back on Release. A released buffer must not be used again.
type Buffer struct {
	img      *image.NRGBA
	analysis *image.NRGBA
	gray     []uint8
	scale    float64

	pooled   [][]uint8
	released atomic.Bool
}

func newPooledNRGBA(w, h int) (*image.NRGBA, []uint8) {
	pix := mempool.GetUint8(4 * w * h)
	return &image.NRGBA{Pix: pix, Stride: 4 * w, Rect: image.Rect(0, 0, w, h)}, pix
}

// Width returns the full-resolution width.
func (b *Buffer) Width() int { return b.img.Rect.Dx() }

// Height returns the full-resolution height.
func (b *Buffer) Height() int { return b.img.Rect.Dy() }

// Image returns the full-resolution pixels.
func (b *Buffer) Image() *image.NRGBA { return b.img }

// Analysis returns the downscaled copy used for detection. It is the full
// image when no downscaling was needed or for crop outputs.
func (b *Buffer) Analysis() *image.NRGBA {
	if b.analysis != nil {
		return b.analysis
	}
	return b.img
}

// Gray returns the luminance plane of Analysis with its dimensions.
// Crop outputs have no luminance plane.
func (b *Buffer) Gray() ([]uint8, int, int) {
	a := b.Analysis()
	return b.gray, a.Rect.Dx(), a.Rect.Dy()
}

// Scale maps analysis coordinates to full-resolution coordinates.
func (b *Buffer) Scale() float64 {
	if b.scale <= 0 {
		return 1
	}
	return b.scale
}

// Release returns pooled memory. It is safe to call more than once.
func (b *Buffer) Release() {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}
	for _, p := range b.pooled {
		mempool.PutUint8(p)
	}
	b.pooled = nil
	b.img, b.analysis, b.gray = nil, nil, nil
}

// Released reports whether Release has been called.
func (b *Buffer) Released() bool { return b.released.Load() }

func fillGray(dst []uint8, src *image.NRGBA) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := range h {
		row := src.Pix[y*src.Stride : y*src.Stride+4*w]
		out := dst[y*w : (y+1)*w]
		for x := range w {
			r, g, bl := uint32(row[4*x]), uint32(row[4*x+1]), uint32(row[4*x+2])
			out[x] = uint8((299*r + 587*g + 114*bl + 500) / 1000)
		}
	}
}
