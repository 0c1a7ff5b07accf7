// Package testutil provides synthetic ID-card frames and filesystem helpers
// for tests.
package testutil

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/idscan/internal/utils"
)

// GetProjectRoot returns the project root directory by finding go.mod.
func GetProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	dir := filepath.Dir(filename)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("could not find go.mod file starting from %s", filepath.Dir(filename))
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o750)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// DirExists checks if a directory exists.
func DirExists(path string) bool {
	info, err := os.Stat(path)
	return !os.IsNotExist(err) && info.IsDir()
}

// Fixture records what a generated still frame contains.
type Fixture struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	InputFile   string        `json:"input_file"`
	Detected    bool          `json:"detected"`
	Corners     []utils.Point `json:"corners,omitempty"`
}

// WriteImage writes img as PNG, creating parent directories.
func WriteImage(img image.Image, path string) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	file, err := os.Create(path) //nolint:gosec // G304: controlled path
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// SaveImage writes img as PNG, creating parent directories.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()
	require.NoError(t, WriteImage(img, path), "Failed to save image %s", path)
}

// RenderCardFrames renders n card frames into dir as PNG files named
// frame_000.png onward and returns their paths.
func RenderCardFrames(dir string, n int, cfg CardConfig) ([]string, error) {
	paths := make([]string, 0, n)
	for i := range n {
		img, _ := GenerateCard(cfg)
		p := filepath.Join(dir, fmt.Sprintf("frame_%03d.png", i))
		if err := WriteImage(img, p); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", p, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// WriteCardFrames is RenderCardFrames for tests.
func WriteCardFrames(t *testing.T, dir string, n int, cfg CardConfig) []string {
	t.Helper()
	paths, err := RenderCardFrames(dir, n, cfg)
	require.NoError(t, err)
	return paths
}
