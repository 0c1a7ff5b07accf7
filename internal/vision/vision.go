// Package vision is the image-analysis engine behind document detection.
//
// An Engine is created once per process through a Loader and exposes four
// primitives over scoped Buffers: FrameToBuffer, DetectQuadrilateral,
// PerspectiveCrop and Encode. Buffers are backed by pooled memory and must be
// released by whoever acquired them.
package vision

import (
	"fmt"
	"image"
	"slices"
	"sync"

	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/geometry"
	"github.com/MeKo-Tech/idscan/internal/media"
)

// Backend names.
const (
	BackendContour = "contour"
	BackendONNX    = "onnx"
	BackendGoCV    = "gocv"
)

// Config controls engine construction and detection heuristics.
type Config struct {
	Backend       string
	ModelPath     string
	LibraryPath   string
	MaxDetectSize int
	NumThreads    int
	JPEGQuality   int
	GPU           GPUConfig

	// Candidate filtering, shared by every backend.
	MinAreaRatio  float64
	MinAspect     float64
	MaxAspect     float64
	ApproxEpsilon float64
	MaskThreshold float64
}

// DefaultConfig returns the pure-Go contour engine tuned for ID-1 cards.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendContour,
		MaxDetectSize: 640,
		JPEGQuality:   90,
		MinAreaRatio:  0.15,
		MinAspect:     1.2,
		MaxAspect:     2.2,
		ApproxEpsilon: 0.02,
		MaskThreshold: 0.5,
		GPU:           DefaultGPUConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.MaxDetectSize <= 0 {
		c.MaxDetectSize = d.MaxDetectSize
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = d.JPEGQuality
	}
	if c.MinAreaRatio <= 0 {
		c.MinAreaRatio = d.MinAreaRatio
	}
	if c.MinAspect <= 0 {
		c.MinAspect = d.MinAspect
	}
	if c.MaxAspect <= 0 {
		c.MaxAspect = d.MaxAspect
	}
	if c.ApproxEpsilon <= 0 {
		c.ApproxEpsilon = d.ApproxEpsilon
	}
	if c.MaskThreshold <= 0 {
		c.MaskThreshold = d.MaskThreshold
	}
	return c
}

// Engine is the loaded vision engine.
type Engine interface {
	// Backend returns the name of the active backend.
	Backend() string
	// FrameToBuffer copies img into a pooled buffer ready for analysis.
	FrameToBuffer(img image.Image) (*Buffer, error)
	// DetectQuadrilateral finds the most plausible document outline in buf,
	// in frame coordinates, together with a sharpness score. Finding nothing
	// is not an error.
	DetectQuadrilateral(buf *Buffer) (geometry.Quad, float64, bool, error)
	// PerspectiveCrop rectifies quad from buf into a new outW×outH buffer.
	PerspectiveCrop(buf *Buffer, quad geometry.Quad, outW, outH int) (*Buffer, error)
	// Encode serializes buf as image/jpeg or image/png.
	Encode(buf *Buffer, mime string) (media.EncodedImage, error)
	// Close releases backend resources.
	Close() error
}

// quadFinder is implemented by each backend. Quads are returned in the
// coordinates of buf.Analysis().
type quadFinder interface {
	FindQuad(buf *Buffer) (geometry.Quad, bool, error)
	Close() error
}

// quadWarper is implemented by backends with a native perspective warp.
type quadWarper interface {
	WarpInto(dst, src *image.NRGBA, q geometry.Quad) error
}

// blurScorer is implemented by backends with a native sharpness measure.
type blurScorer interface {
	BlurScore(buf *Buffer, region image.Rectangle) (float64, error)
}

type finderFactory func(cfg Config) (quadFinder, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]finderFactory{}
)

func registerBackend(name string, f finderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Backends lists the backends compiled into this binary.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// New builds an engine for cfg.Backend. Failures are EngineLoadErrors.
func New(cfg Config) (Engine, error) {
	cfg = cfg.withDefaults()
	registryMu.RLock()
	factory, ok := registry[cfg.Backend]
	registryMu.RUnlock()
	if !ok {
		return nil, &apperrors.EngineLoadError{
			Backend: cfg.Backend,
			Cause:   fmt.Errorf("backend not compiled in (available: %v)", Backends()),
		}
	}
	finder, err := factory(cfg)
	if err != nil {
		return nil, &apperrors.EngineLoadError{Backend: cfg.Backend, Cause: err}
	}
	return &engine{cfg: cfg, finder: finder}, nil
}
