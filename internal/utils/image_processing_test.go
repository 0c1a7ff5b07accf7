package utils

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitSize(t *testing.T) {
	w, h := FitSize(1600, 1000, 800)
	assert.Equal(t, 800, w)
	assert.Equal(t, 500, h)

	w, h = FitSize(1000, 2000, 640)
	assert.Equal(t, 320, w)
	assert.Equal(t, 640, h)

	w, h = FitSize(300, 200, 640)
	assert.Equal(t, 300, w)
	assert.Equal(t, 200, h)
}

func TestResampleInto(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 110, 60))
	draw.Draw(src, src.Bounds(), image.NewUniform(color.RGBA{20, 40, 60, 255}), image.Point{}, draw.Src)
	src.Set(10, 10, color.RGBA{200, 0, 0, 255})

	same := image.NewNRGBA(image.Rect(0, 0, 100, 50))
	require.NoError(t, ResampleInto(same, src))
	assert.Equal(t, uint8(200), same.NRGBAAt(0, 0).R)

	half := image.NewNRGBA(image.Rect(0, 0, 50, 25))
	require.NoError(t, ResampleInto(half, src))
	px := half.NRGBAAt(30, 20)
	assert.Equal(t, uint8(255), px.A)
	assert.InDelta(t, 40, int(px.G), 2)
}

func TestResampleInto_Errors(t *testing.T) {
	err := ResampleInto(image.NewNRGBA(image.Rect(0, 0, 4, 4)), nil)
	var ipe *ImageProcessingError
	require.True(t, errors.As(err, &ipe))
	assert.Equal(t, "resample", ipe.Operation)

	err = ResampleInto(image.NewNRGBA(image.Rect(0, 0, 4, 4)), image.NewRGBA(image.Rect(0, 0, 0, 5)))
	assert.Error(t, err)
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "card.png")
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 5))))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	img, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())

	_, err = LoadImage(filepath.Join(dir, "card.gif"))
	assert.Error(t, err)
	_, err = LoadImage("")
	assert.Error(t, err)
}

func TestDecodeImage_Garbage(t *testing.T) {
	_, err := DecodeImage([]byte("not an image"))
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "decode", ipe.Operation)

	_, err = DecodeImage(nil)
	assert.Error(t, err)
}
