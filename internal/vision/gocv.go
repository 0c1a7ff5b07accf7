//go:build gocv

package vision

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"gocv.io/x/gocv"

	"github.com/MeKo-Tech/idscan/internal/geometry"
	"github.com/MeKo-Tech/idscan/internal/utils"
)

func init() {
	registerBackend(BackendGoCV, func(cfg Config) (quadFinder, error) {
		return &gocvFinder{cfg: cfg}, nil
	})
}

// gocvFinder uses OpenCV for edge detection, contour approximation,
// perspective warping and sharpness.
type gocvFinder struct {
	cfg Config
}

func (f *gocvFinder) Close() error { return nil }

func (f *gocvFinder) FindQuad(buf *Buffer) (geometry.Quad, bool, error) {
	a := buf.Analysis()
	src, err := gocv.ImageToMatRGB(a)
	if err != nil {
		return geometry.Quad{}, false, fmt.Errorf("to mat: %w", err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorRGBToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, 50, 150)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	closed := gocv.NewMat()
	defer closed.Close()
	gocv.Dilate(edges, &closed, kernel)

	contours := gocv.FindContours(closed, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	minArea := f.cfg.MinAreaRatio * float64(a.Rect.Dx()*a.Rect.Dy())
	var best geometry.Quad
	bestArea := 0.0
	for i := range contours.Size() {
		contour := contours.At(i)
		if gocv.ContourArea(contour) < minArea {
			continue
		}
		peri := gocv.ArcLength(contour, true)
		approx := gocv.ApproxPolyDP(contour, f.cfg.ApproxEpsilon*peri, true)
		pts := approx.ToPoints()
		approx.Close()

		var q geometry.Quad
		ok := false
		if len(pts) == 4 {
			q, err = geometry.NewQuad(toUtilsPoints(pts))
			ok = err == nil
		} else {
			q, ok = approxQuad(utils.ConvexHull(toUtilsPoints(contour.ToPoints())), f.cfg.ApproxEpsilon)
		}
		if !ok || !acceptQuad(f.cfg, q, minArea) {
			continue
		}
		if area := q.Area(); area > bestArea {
			best, bestArea = q, area
		}
	}
	return best, bestArea > 0, nil
}

func (f *gocvFinder) WarpInto(dst, src *image.NRGBA, q geometry.Quad) error {
	in, err := gocv.ImageToMatRGBA(src)
	if err != nil {
		return fmt.Errorf("to mat: %w", err)
	}
	defer in.Close()

	w, h := dst.Rect.Dx(), dst.Rect.Dy()
	from := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: float32(q[0].X), Y: float32(q[0].Y)},
		{X: float32(q[1].X), Y: float32(q[1].Y)},
		{X: float32(q[2].X), Y: float32(q[2].Y)},
		{X: float32(q[3].X), Y: float32(q[3].Y)},
	})
	defer from.Close()
	to := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: 0, Y: 0},
		{X: float32(w), Y: 0},
		{X: float32(w), Y: float32(h)},
		{X: 0, Y: float32(h)},
	})
	defer to.Close()

	m := gocv.GetPerspectiveTransform2f(from, to)
	defer m.Close()
	if m.Empty() {
		return errors.New("degenerate perspective transform")
	}

	out := gocv.NewMat()
	defer out.Close()
	gocv.WarpPerspective(in, &out, m, image.Pt(w, h))
	img, err := out.ToImage()
	if err != nil {
		return fmt.Errorf("from mat: %w", err)
	}
	draw.Draw(dst, dst.Rect, img, img.Bounds().Min, draw.Src)
	return nil
}

func (f *gocvFinder) BlurScore(buf *Buffer, region image.Rectangle) (float64, error) {
	gray, w, h := buf.Gray()
	region = region.Intersect(image.Rect(0, 0, w, h))
	if region.Dx() < 3 || region.Dy() < 3 {
		return 0, nil
	}
	m, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC1, gray[:w*h])
	if err != nil {
		return 0, fmt.Errorf("to mat: %w", err)
	}
	defer m.Close()
	roi := m.Region(region)
	defer roi.Close()

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(roi, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean, stddev := gocv.NewMat(), gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(lap, &mean, &stddev)
	sd := stddev.GetDoubleAt(0, 0)
	return sd * sd, nil
}

func toUtilsPoints(pts []image.Point) []utils.Point {
	out := make([]utils.Point, len(pts))
	for i, p := range pts {
		out[i] = utils.Point{X: float64(p.X), Y: float64(p.Y)}
	}
	return out
}
