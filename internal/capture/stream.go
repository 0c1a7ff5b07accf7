package capture

import (
	"context"
	"image"
	"net/http"
	"sync"

	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/media"
	"github.com/MeKo-Tech/idscan/internal/utils"
)

// StreamSource holds the most recent frame pushed by a remote client. Reads
// never block: until the first push they return an empty frame. Frames that
// arrive faster than they are read replace each other.
type StreamSource struct {
	mu      sync.RWMutex
	latest  Frame
	pushed  int
	running bool
}

// NewStreamSource returns a closed stream source.
func NewStreamSource() *StreamSource { return &StreamSource{} }

func (s *StreamSource) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	return nil
}

func (s *StreamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

// PushEncoded decodes a JPEG, PNG, BMP or WebP frame and makes it current.
// JPEG and PNG payloads are kept on the frame as its raw encoding.
func (s *StreamSource) PushEncoded(data []byte) error {
	img, err := utils.DecodeImage(data)
	if err != nil {
		return &apperrors.CaptureError{Op: "push_frame", Cause: err}
	}
	raw := media.EncodedImage{}
	switch mime := http.DetectContentType(data); mime {
	case media.MIMEJPEG, media.MIMEPNG:
		raw = media.EncodedImage{MIMEType: mime, Data: data}
	}
	f := NewFrame(img)
	f.Raw = raw
	s.push(f)
	return nil
}

// Push makes img the current frame.
func (s *StreamSource) Push(img image.Image) {
	s.push(NewFrame(img))
}

func (s *StreamSource) push(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = f
	s.pushed++
}

func (s *StreamSource) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return Frame{}, ErrNotOpen
	}
	return s.latest, nil
}

// Snapshot returns the client's own encoding of the current frame.
func (s *StreamSource) Snapshot(_ context.Context) (media.EncodedImage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest.Raw.Empty() {
		return media.EncodedImage{}, false, nil
	}
	return s.latest.Raw, true, nil
}

func (s *StreamSource) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Pushed returns the number of frames received.
func (s *StreamSource) Pushed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pushed
}
