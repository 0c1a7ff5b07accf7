package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idscan/internal/testutil"
	"github.com/MeKo-Tech/idscan/internal/utils"
)

func TestWriteStillsAndFixtures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeStills(dir))
	require.NoError(t, writeFixtures(dir))

	for _, s := range stills() {
		assert.FileExists(t, filepath.Join(dir, "images", s.name+".png"))

		data, err := os.ReadFile(filepath.Join(dir, "fixtures", s.name+".json"))
		require.NoError(t, err)
		var fx testutil.Fixture
		require.NoError(t, json.Unmarshal(data, &fx))
		assert.Equal(t, "images/"+s.name+".png", fx.InputFile)

		img, err := utils.LoadImage(filepath.Join(dir, filepath.FromSlash(fx.InputFile)))
		require.NoError(t, err)
		assert.Equal(t, s.cfg.FrameWidth, img.Bounds().Dx())

		switch s.name {
		case "empty":
			assert.False(t, fx.Detected)
			assert.Empty(t, fx.Corners)
		case "blurry":
			assert.False(t, fx.Detected)
			assert.Len(t, fx.Corners, 4)
		default:
			assert.True(t, fx.Detected, s.name)
			assert.Len(t, fx.Corners, 4)
		}
	}
}

func TestWriteFrames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFrames(dir, 3))

	for _, side := range []string{"front", "back"} {
		entries, err := os.ReadDir(filepath.Join(dir, "frames", side))
		require.NoError(t, err)
		assert.Len(t, entries, 3, side)
	}

	require.Error(t, writeFrames(dir, 0))
}
