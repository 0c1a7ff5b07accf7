package vision

import "github.com/MeKo-Tech/idscan/internal/mempool"

// closeMask applies a morphological closing (dilate then erode) with a square
// kernel of the given size. The result is pooled; the input is left intact.
func closeMask(mask []bool, w, h, kernel int) []bool {
	if kernel <= 1 {
		out := mempool.GetBool(w * h)
		copy(out, mask)
		return out
	}
	dilated := morph(mask, w, h, kernel, true)
	closed := morph(dilated, w, h, kernel, false)
	mempool.PutBool(dilated)
	return closed
}

// morph dilates (grow=true) or erodes a binary mask. Pixels outside the frame
// count as background for dilation and foreground for erosion, so closing
// does not eat into shapes touching the border.
func morph(mask []bool, w, h, kernel int, grow bool) []bool {
	out := mempool.GetBool(w * h)
	half := kernel / 2
	for y := range h {
		for x := range w {
			v := !grow
			for ky := -half; ky <= half && v != grow; ky++ {
				for kx := -half; kx <= half; kx++ {
					nx, ny := x+kx, y+ky
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					if mask[ny*w+nx] == grow {
						v = grow
						break
					}
				}
			}
			out[y*w+x] = v
		}
	}
	return out
}
