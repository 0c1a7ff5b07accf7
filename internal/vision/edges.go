package vision

import (
	"math"

	"github.com/MeKo-Tech/idscan/internal/mempool"
)

// minEdgeMagnitude keeps sensor noise on flat frames from becoming edges.
const minEdgeMagnitude = 24

// sobelMagnitude writes the L1 Sobel gradient magnitude of lum into mag and
// returns the maximum. Border pixels are zero.
func sobelMagnitude(lum []float32, w, h int, mag []float32) float32 {
	var peak float32
	clear(mag)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			tl, t, tr := lum[i-w-1], lum[i-w], lum[i-w+1]
			l, r := lum[i-1], lum[i+1]
			bl, b, br := lum[i+w-1], lum[i+w], lum[i+w+1]
			gx := (tr + 2*r + br) - (tl + 2*l + bl)
			gy := (bl + 2*b + br) - (tl + 2*t + tr)
			m := float32(math.Abs(float64(gx)) + math.Abs(float64(gy)))
			mag[i] = m
			if m > peak {
				peak = m
			}
		}
	}
	return peak
}

// hysteresis marks strong pixels (>= hi) and every weak pixel (>= lo)
// 8-connected to a strong one. The returned mask is pooled; release it with
// mempool.PutBool.
func hysteresis(mag []float32, w, h int, lo, hi float32) []bool {
	mask := mempool.GetBool(w * h)
	stack := make([]int, 0, 1024)
	for i, m := range mag {
		if m >= hi && !mask[i] {
			mask[i] = true
			stack = append(stack, i)
		}
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cx, cy := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := cx+dx, cy+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if !mask[j] && mag[j] >= lo {
					mask[j] = true
					stack = append(stack, j)
				}
			}
		}
	}
	return mask
}

// edgeThresholds derives hysteresis thresholds from the frame's peak gradient.
// ok is false when the frame has no meaningful edges.
func edgeThresholds(peak float32) (lo, hi float32, ok bool) {
	if peak < minEdgeMagnitude {
		return 0, 0, false
	}
	hi = max(peak*0.25, minEdgeMagnitude)
	lo = max(peak*0.1, minEdgeMagnitude/2)
	return lo, hi, true
}
