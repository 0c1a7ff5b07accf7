package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"sync"

	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/media"
	"github.com/MeKo-Tech/idscan/internal/utils"
)

// ReplaySource plays back the image files of a directory in name order.
// Without looping the last frame is held once the files run out.
type ReplaySource struct {
	dir  string
	loop bool

	mu      sync.Mutex
	paths   []string
	index   int
	last    image.Image
	running bool
}

// NewReplaySource returns a source over the supported images in dir.
func NewReplaySource(dir string, loop bool) *ReplaySource {
	return &ReplaySource{dir: dir, loop: loop}
}

func (r *ReplaySource) Open(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return unavailable(apperrors.ReasonPermission, err)
		}
		return unavailable(apperrors.ReasonNoDevice, err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && utils.IsSupportedImage(e.Name()) {
			paths = append(paths, filepath.Join(r.dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return unavailable(apperrors.ReasonNoDevice, fmt.Errorf("no images in %s", r.dir))
	}
	slices.Sort(paths)

	r.paths = paths
	r.index = 0
	r.last = nil
	r.running = true
	return nil
}

func (r *ReplaySource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.last = nil
	return nil
}

func (r *ReplaySource) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return Frame{}, ErrNotOpen
	}

	if r.index >= len(r.paths) {
		if !r.loop {
			return NewFrame(r.last), nil
		}
		r.index = 0
	}
	img, err := utils.LoadImage(r.paths[r.index])
	if err != nil {
		return Frame{}, &apperrors.CaptureError{Op: "read_frame", Cause: err}
	}
	r.index++
	r.last = img
	return NewFrame(img), nil
}

// Snapshot is not supported; stills come from the analysed frame.
func (r *ReplaySource) Snapshot(_ context.Context) (media.EncodedImage, bool, error) {
	return media.EncodedImage{}, false, nil
}

func (r *ReplaySource) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Len returns the number of frames found by Open.
func (r *ReplaySource) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}
