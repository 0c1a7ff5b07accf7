package testutil

import (
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProjectRoot(t *testing.T) {
	root, err := GetProjectRoot()
	require.NoError(t, err)
	assert.True(t, FileExists(filepath.Join(root, "go.mod")))
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))
	assert.True(t, DirExists(dir))
	assert.False(t, FileExists(filepath.Join(dir, "missing")))
}

func TestGenerateCard_Geometry(t *testing.T) {
	cfg := DefaultCardConfig()
	img, corners := GenerateCard(cfg)
	require.Equal(t, cfg.FrameWidth, img.Bounds().Dx())
	require.Equal(t, cfg.FrameHeight, img.Bounds().Dy())

	w := math.Hypot(corners[1].X-corners[0].X, corners[1].Y-corners[0].Y)
	h := math.Hypot(corners[3].X-corners[0].X, corners[3].Y-corners[0].Y)
	assert.InDelta(t, 85.6/54, w/h, 0.01)

	// Centre is card, corner is background.
	c := img.NRGBAAt(cfg.FrameWidth/2, cfg.FrameHeight/2+60)
	assert.Equal(t, cfg.Card, color.Color(c))
	assert.Equal(t, cfg.Background, color.Color(img.NRGBAAt(2, 2)))
}

func TestGenerateCard_Rotation(t *testing.T) {
	cfg := DefaultCardConfig()
	cfg.Rotation = 90
	corners := CardCorners(cfg)
	// A quarter turn swaps the card's extents.
	assert.InDelta(t, corners[0].X, corners[1].X, 1e-6)
}

func TestWriteCardFrames(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultCardConfig()
	cfg.FrameWidth, cfg.FrameHeight, cfg.CardWidth = 320, 200, 200
	paths := WriteCardFrames(t, dir, 3, cfg)
	require.Len(t, paths, 3)
	for _, p := range paths {
		assert.True(t, FileExists(p))
	}
}
