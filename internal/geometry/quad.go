// Package geometry holds the document quadrilateral and the projective
// transform used to rectify it.
package geometry

import (
	"math"
	"slices"
	"strconv"
	"strings"

	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/utils"
)

// MinArea is the smallest enclosed area, in square pixels, of a usable quad.
const MinArea = 1.0

// Quad is a document outline ordered clockwise from the top-left corner:
// TL, TR, BR, BL in image coordinates.
type Quad [4]utils.Point

// NewQuad orders pts clockwise from the top-left corner and validates the result.
func NewQuad(pts []utils.Point) (Quad, error) {
	if len(pts) != 4 {
		return Quad{}, apperrors.NewInvalidGeometry("expected 4 points, got %d", len(pts))
	}
	q := OrderCorners([4]utils.Point(pts))
	if err := q.Validate(); err != nil {
		return Quad{}, err
	}
	return q, nil
}

// FullFrame returns the quad covering a w×h frame.
func FullFrame(w, h int) Quad {
	fw, fh := float64(w), float64(h)
	return Quad{{X: 0, Y: 0}, {X: fw, Y: 0}, {X: fw, Y: fh}, {X: 0, Y: fh}}
}

// OrderCorners sorts four points clockwise around their centroid and rotates
// the result so that the corner closest to the origin (smallest x+y) comes first.
func OrderCorners(pts [4]utils.Point) Quad {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X / 4
		cy += p.Y / 4
	}
	s := pts[:]
	slices.SortStableFunc(s, func(a, b utils.Point) int {
		// atan2 grows clockwise on screen because y points down.
		aa := math.Atan2(a.Y-cy, a.X-cx)
		ab := math.Atan2(b.Y-cy, b.X-cx)
		switch {
		case aa < ab:
			return -1
		case aa > ab:
			return 1
		}
		return 0
	})

	start := 0
	for i := 1; i < 4; i++ {
		if s[i].X+s[i].Y < s[start].X+s[start].Y {
			start = i
		}
	}
	var q Quad
	for i := range 4 {
		q[i] = s[(start+i)%4]
	}
	return q
}

// Points returns the corners as a slice.
func (q Quad) Points() []utils.Point { return q[:] }

// Area returns the absolute shoelace area.
func (q Quad) Area() float64 { return math.Abs(utils.PolygonArea(q[:])) }

// Validate reports an InvalidGeometryError for non-finite corners or an
// enclosed area below MinArea.
func (q Quad) Validate() error {
	for i, p := range q {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return apperrors.NewInvalidGeometry("corner %d is not finite", i)
		}
	}
	if a := q.Area(); a < MinArea {
		return apperrors.NewInvalidGeometry("enclosed area %.3f below %.1f", a, MinArea)
	}
	return nil
}

// Valid reports whether Validate succeeds.
func (q Quad) Valid() bool { return q.Validate() == nil }

// Convex reports whether the corners form a convex polygon.
func (q Quad) Convex() bool {
	sign := 0.0
	for i := range 4 {
		a, b, c := q[i], q[(i+1)%4], q[(i+2)%4]
		z := (b.X-a.X)*(c.Y-b.Y) - (b.Y-a.Y)*(c.X-b.X)
		if z == 0 {
			continue
		}
		if sign == 0 {
			sign = z
		} else if (z > 0) != (sign > 0) {
			return false
		}
	}
	return sign != 0
}

// Width is the mean length of the top and bottom edges.
func (q Quad) Width() float64 { return (dist(q[0], q[1]) + dist(q[3], q[2])) / 2 }

// Height is the mean length of the left and right edges.
func (q Quad) Height() float64 { return (dist(q[0], q[3]) + dist(q[1], q[2])) / 2 }

// AspectRatio returns long side over short side, so portrait and landscape
// cards compare equal. Degenerate quads yield 0.
func (q Quad) AspectRatio() float64 {
	w, h := q.Width(), q.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return math.Max(w, h) / math.Min(w, h)
}

// FitOrientation matches q to the orientation of a w×h output. A portrait
// quad rectified into a landscape output (or the reverse) has its corner
// order rotated by one to start at its bottom-left corner, which turns the
// document a quarter clockwise instead of stretching it.
func (q Quad) FitOrientation(w, h int) Quad {
	if w == h || (w > h) == (q.Width() >= q.Height()) {
		return q
	}
	return Quad{q[3], q[0], q[1], q[2]}
}

// Scale multiplies every coordinate by s.
func (q Quad) Scale(s float64) Quad {
	return Quad([4]utils.Point(utils.ScalePoints(q[:], s, s)))
}

// Clamp limits every corner to the [0,w]×[0,h] frame.
func (q Quad) Clamp(w, h int) Quad {
	var out Quad
	for i, p := range q {
		out[i] = utils.Point{
			X: math.Min(math.Max(p.X, 0), float64(w)),
			Y: math.Min(math.Max(p.Y, 0), float64(h)),
		}
	}
	return out
}

// String renders the quad as "x1,y1,x2,y2,x3,y3,x4,y4".
func (q Quad) String() string {
	parts := make([]string, 0, 8)
	for _, p := range q {
		parts = append(parts,
			strconv.FormatFloat(p.X, 'f', -1, 64),
			strconv.FormatFloat(p.Y, 'f', -1, 64))
	}
	return strings.Join(parts, ",")
}

// ParseQuad parses eight comma-separated numbers into an ordered, validated quad.
func ParseQuad(s string) (Quad, error) {
	fields := strings.Split(strings.TrimSpace(s), ",")
	if len(fields) != 8 {
		return Quad{}, apperrors.NewInvalidGeometry("expected 8 coordinates, got %d", len(fields))
	}
	pts := make([]utils.Point, 4)
	for i := range 4 {
		x, err := strconv.ParseFloat(strings.TrimSpace(fields[2*i]), 64)
		if err != nil {
			return Quad{}, apperrors.NewInvalidGeometry("coordinate %d: %v", 2*i, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(fields[2*i+1]), 64)
		if err != nil {
			return Quad{}, apperrors.NewInvalidGeometry("coordinate %d: %v", 2*i+1, err)
		}
		pts[i] = utils.Point{X: x, Y: y}
	}
	return NewQuad(pts)
}

func dist(a, b utils.Point) float64 { return math.Hypot(b.X-a.X, b.Y-a.Y) }
