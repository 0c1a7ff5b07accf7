package vision

import (
	"image"

	"gonum.org/v1/gonum/stat"
)

// LaplacianVariance measures sharpness as the variance of the 4-neighbour
// Laplacian of gray (row stride w) inside region. Higher is sharper.
// Regions without interior pixels score 0.
func LaplacianVariance(gray []uint8, w int, region image.Rectangle) float64 {
	if w <= 0 || len(gray) < w {
		return 0
	}
	h := len(gray) / w
	region = region.Intersect(image.Rect(0, 0, w, h)).Inset(1)
	if region.Dx() < 1 || region.Dy() < 1 {
		return 0
	}

	data := make([]float64, 0, region.Dx()*region.Dy())
	for y := region.Min.Y; y < region.Max.Y; y++ {
		row := y * w
		for x := region.Min.X; x < region.Max.X; x++ {
			l := int(gray[row+x-1]) + int(gray[row+x+1]) + int(gray[row-w+x]) + int(gray[row+w+x]) - 4*int(gray[row+x])
			data = append(data, float64(l))
		}
	}
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}
