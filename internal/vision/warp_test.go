package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idscan/internal/geometry"
)

func TestWarpPerspective_Identity(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := range 4 {
		for x := range 4 {
			src.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 60), G: uint8(y * 60), A: 255})
		}
	}
	dst := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	q := geometry.FullFrame(4, 4)
	require.NoError(t, warpPerspective(dst, src, q))
	assert.Equal(t, src.Pix, dst.Pix)
}

func TestWarpPerspective_OutsideIsBlack(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	for i := range src.Pix {
		src.Pix[i] = 255
	}
	dst := image.NewNRGBA(image.Rect(0, 0, 5, 5))
	q := geometry.Quad{{X: 20, Y: 20}, {X: 30, Y: 20}, {X: 30, Y: 30}, {X: 20, Y: 30}}
	require.NoError(t, warpPerspective(dst, src, q))
	assert.Equal(t, color.NRGBA{A: 255}, dst.NRGBAAt(2, 2))
}
