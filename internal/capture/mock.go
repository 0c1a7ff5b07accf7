package capture

import (
	"context"
	"image"
	"sync"

	"github.com/MeKo-Tech/idscan/internal/media"
)

// MockSource plays back in-memory frames for tests. A nil entry yields an
// empty frame, as a camera that is still warming up would.
type MockSource struct {
	frames   []image.Image
	loop     bool
	openErr  error
	snapshot media.EncodedImage

	mu      sync.Mutex
	index   int
	reads   int
	opens   int
	running bool
}

// MockOption customizes a MockSource.
type MockOption func(*MockSource)

// WithOpenError makes Open fail with err.
func WithOpenError(err error) MockOption {
	return func(m *MockSource) { m.openErr = err }
}

// WithSnapshot makes Snapshot return img.
func WithSnapshot(img media.EncodedImage) MockOption {
	return func(m *MockSource) { m.snapshot = img }
}

// NewMockSource returns a source over frames. Without looping the last
// frame is repeated.
func NewMockSource(frames []image.Image, loop bool, opts ...MockOption) *MockSource {
	m := &MockSource{frames: frames, loop: loop}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *MockSource) Open(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.openErr != nil {
		return m.openErr
	}
	m.running = true
	m.index = 0
	return nil
}

func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

func (m *MockSource) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return Frame{}, ErrNotOpen
	}
	m.reads++
	if len(m.frames) == 0 {
		return Frame{}, nil
	}
	if m.index >= len(m.frames) {
		if m.loop {
			m.index = 0
		} else {
			m.index = len(m.frames) - 1
		}
	}
	img := m.frames[m.index]
	m.index++
	return NewFrame(img), nil
}

func (m *MockSource) Snapshot(_ context.Context) (media.EncodedImage, bool, error) {
	if m.snapshot.Empty() {
		return media.EncodedImage{}, false, nil
	}
	return m.snapshot, true, nil
}

func (m *MockSource) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Reads returns how many frames have been read.
func (m *MockSource) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Opens returns how many times Open was called.
func (m *MockSource) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}
