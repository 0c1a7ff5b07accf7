package testutil

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/MeKo-Tech/idscan/internal/utils"
)

// CardConfig describes a synthetic frame containing one ID-1 card.
type CardConfig struct {
	FrameWidth  int
	FrameHeight int
	// CardWidth is the card's long side in pixels. Height follows the ID-1
	// ratio of 85.6 by 54 mm.
	CardWidth int
	// Rotation in degrees around the card centre.
	Rotation float64
	// Skew shifts the top edge horizontally, in pixels, to mimic perspective.
	Skew       float64
	Background color.Color
	Card       color.Color
	// BlurSigma applies a Gaussian blur to the whole frame when > 0.
	BlurSigma float64
	Text      []string
}

// DefaultCardConfig is a 1280x720 frame with a light card on a dark desk.
func DefaultCardConfig() CardConfig {
	return CardConfig{
		FrameWidth:  1280,
		FrameHeight: 720,
		CardWidth:   760,
		Background:  color.NRGBA{R: 40, G: 42, B: 48, A: 255},
		Card:        color.NRGBA{R: 226, G: 230, B: 222, A: 255},
		Text:        []string{"IDENTITY CARD", "ID 784-1990-1234567-1", "NAME SAMPLE HOLDER"},
	}
}

// CardCorners returns the card outline for cfg as TL, TR, BR, BL.
func CardCorners(cfg CardConfig) [4]utils.Point {
	w := float64(cfg.CardWidth)
	h := w * 54 / 85.6
	cx, cy := float64(cfg.FrameWidth)/2, float64(cfg.FrameHeight)/2
	local := [4]utils.Point{
		{X: -w/2 + cfg.Skew, Y: -h / 2},
		{X: w/2 + cfg.Skew, Y: -h / 2},
		{X: w / 2, Y: h / 2},
		{X: -w / 2, Y: h / 2},
	}
	s, c := math.Sincos(cfg.Rotation * math.Pi / 180)
	var out [4]utils.Point
	for i, p := range local {
		out[i] = utils.Point{X: cx + p.X*c - p.Y*s, Y: cy + p.X*s + p.Y*c}
	}
	return out
}

// GenerateCard renders cfg and returns the frame with the card corners.
func GenerateCard(cfg CardConfig) (*image.NRGBA, [4]utils.Point) {
	img := image.NewNRGBA(image.Rect(0, 0, cfg.FrameWidth, cfg.FrameHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: cfg.Background}, image.Point{}, draw.Src)

	corners := CardCorners(cfg)
	fillConvex(img, corners[:], cfg.Card)
	drawCardText(img, corners, cfg.Text)

	if cfg.BlurSigma > 0 {
		img = imaging.Blur(img, cfg.BlurSigma)
	}
	return img, corners
}

// BlankFrame returns a uniform frame with no document in it.
func BlankFrame(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// fillConvex paints every pixel centre inside the convex polygon pts.
func fillConvex(img *image.NRGBA, pts []utils.Point, c color.Color) {
	bb := utils.BoundingBox(pts).ToRect(img.Rect)
	for y := bb.Min.Y; y < bb.Max.Y; y++ {
		for x := bb.Min.X; x < bb.Max.X; x++ {
			if insideConvex(pts, float64(x)+0.5, float64(y)+0.5) {
				img.Set(x, y, c)
			}
		}
	}
}

func insideConvex(pts []utils.Point, x, y float64) bool {
	sign := 0
	for i, a := range pts {
		b := pts[(i+1)%len(pts)]
		cr := (b.X-a.X)*(y-a.Y) - (b.Y-a.Y)*(x-a.X)
		switch {
		case cr > 0:
			if sign < 0 {
				return false
			}
			sign = 1
		case cr < 0:
			if sign > 0 {
				return false
			}
			sign = -1
		}
	}
	return true
}

// drawCardText writes lines near the card's top-left corner, axis aligned.
func drawCardText(img *image.NRGBA, corners [4]utils.Point, lines []string) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(color.NRGBA{R: 30, G: 30, B: 60, A: 255}), Face: face}
	tl, br := corners[0], corners[2]
	x := int(tl.X + (br.X-tl.X)*0.1)
	y := int(tl.Y + (br.Y-tl.Y)*0.2)
	lh := face.Metrics().Height.Ceil() + 6
	for i, line := range lines {
		d.Dot = fixed.P(x, y+i*lh)
		d.DrawString(line)
	}
}
