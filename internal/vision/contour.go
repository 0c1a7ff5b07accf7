package vision

import (
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/idscan/internal/geometry"
	"github.com/MeKo-Tech/idscan/internal/mempool"
	"github.com/MeKo-Tech/idscan/internal/utils"
)

const (
	contourBlurSigma   = 1.2
	contourCloseKernel = 3
	maxApproxEpsilon   = 0.1
)

func init() {
	registerBackend(BackendContour, func(cfg Config) (quadFinder, error) {
		return &contourFinder{cfg: cfg}, nil
	})
}

// contourFinder locates the card as the largest card-shaped closed edge
// contour: blur, Sobel, hysteresis, closing, components, boundary trace and
// polygon approximation.
type contourFinder struct {
	cfg Config
}

func (f *contourFinder) Close() error { return nil }

func (f *contourFinder) FindQuad(buf *Buffer) (geometry.Quad, bool, error) {
	a := buf.Analysis()
	w, h := a.Rect.Dx(), a.Rect.Dy()
	if w < 8 || h < 8 {
		return geometry.Quad{}, false, nil
	}

	smooth := imaging.Blur(imaging.Grayscale(a), contourBlurSigma)
	lum := mempool.GetFloat32(w * h)
	defer mempool.PutFloat32(lum)
	for y := range h {
		row := smooth.Pix[y*smooth.Stride:]
		for x := range w {
			lum[y*w+x] = float32(row[4*x])
		}
	}

	mag := mempool.GetFloat32(w * h)
	defer mempool.PutFloat32(mag)
	lo, hi, ok := edgeThresholds(sobelMagnitude(lum, w, h, mag))
	if !ok {
		return geometry.Quad{}, false, nil
	}

	edges := hysteresis(mag, w, h, lo, hi)
	closed := closeMask(edges, w, h, contourCloseKernel)
	mempool.PutBool(edges)
	defer mempool.PutBool(closed)

	comps, labels := connectedComponents(closed, w, h)
	minArea := f.cfg.MinAreaRatio * float64(w*h)

	var best geometry.Quad
	bestArea := 0.0
	for i, c := range comps {
		if float64(c.width()*c.height()) < minArea {
			continue
		}
		contour := traceContourMoore(labels, w, h, i+1, c)
		if len(contour) < 4 {
			continue
		}
		q, ok := approxQuad(utils.ConvexHull(contour), f.cfg.ApproxEpsilon)
		if !ok || !acceptQuad(f.cfg, q, minArea) {
			continue
		}
		if area := q.Area(); area > bestArea {
			best, bestArea = q, area
		}
	}
	return best, bestArea > 0, nil
}

// acceptQuad applies the card-shape filters shared by every backend.
func acceptQuad(cfg Config, q geometry.Quad, minArea float64) bool {
	if !q.Valid() || !q.Convex() || q.Area() < minArea {
		return false
	}
	ar := q.AspectRatio()
	return ar >= cfg.MinAspect && ar <= cfg.MaxAspect
}

// approxQuad reduces a convex hull to four corners. The tolerance starts at
// eps times the perimeter and grows until four vertices remain; hulls that
// never reduce cleanly fall back to their minimum-area rectangle.
func approxQuad(hull []utils.Point, eps float64) (geometry.Quad, bool) {
	if len(hull) < 4 {
		return geometry.Quad{}, false
	}
	peri := utils.Perimeter(hull)
	ring := rotateToFarthest(hull)
	ring = append(ring, ring[0])

	for e := eps; e <= maxApproxEpsilon; e *= 1.5 {
		simplified := utils.SimplifyPolygon(ring, e*peri)
		simplified = simplified[:len(simplified)-1]
		if len(simplified) == 4 {
			q, err := geometry.NewQuad(simplified)
			return q, err == nil
		}
		if len(simplified) < 4 {
			break
		}
	}

	rect := utils.MinimumAreaRectangle(hull)
	if len(rect) != 4 {
		return geometry.Quad{}, false
	}
	q, err := geometry.NewQuad(rect)
	return q, err == nil
}

// rotateToFarthest reorders a closed polygon to start at the vertex farthest
// from its centroid, which for a rectangle-like outline is a corner.
func rotateToFarthest(pts []utils.Point) []utils.Point {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(pts))
	cy /= float64(len(pts))

	far, farD := 0, -1.0
	for i, p := range pts {
		if d := math.Hypot(p.X-cx, p.Y-cy); d > farD {
			far, farD = i, d
		}
	}
	out := make([]utils.Point, 0, len(pts)+1)
	out = append(out, pts[far:]...)
	return append(out, pts[:far]...)
}
