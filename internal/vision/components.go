package vision

import "github.com/MeKo-Tech/idscan/internal/utils"

// compStats holds the size and bounding box of a connected component.
type compStats struct {
	count      int
	minX, minY int
	maxX, maxY int
}

func (c compStats) width() int  { return c.maxX - c.minX + 1 }
func (c compStats) height() int { return c.maxY - c.minY + 1 }

// connectedComponents labels the 8-connected foreground regions of mask.
// Label i+1 in the returned slice corresponds to comps[i].
func connectedComponents(mask []bool, w, h int) ([]compStats, []int) {
	labels := make([]int, w*h)
	var comps []compStats
	queue := make([]int, 0, 1024)
	label := 1

	for y := range h {
		for x := range w {
			idx := y*w + x
			if !mask[idx] || labels[idx] != 0 {
				continue
			}
			st := compStats{minX: x, minY: y, maxX: x, maxY: y}
			labels[idx] = label
			queue = append(queue[:0], idx)
			for len(queue) > 0 {
				ci := queue[0]
				queue = queue[1:]
				cx, cy := ci%w, ci/w
				st.count++
				st.minX, st.maxX = min(st.minX, cx), max(st.maxX, cx)
				st.minY, st.maxY = min(st.minY, cy), max(st.maxY, cy)
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := cx+dx, cy+dy
						if nx < 0 || ny < 0 || nx >= w || ny >= h {
							continue
						}
						ni := ny*w + nx
						if mask[ni] && labels[ni] == 0 {
							labels[ni] = label
							queue = append(queue, ni)
						}
					}
				}
			}
			comps = append(comps, st)
			label++
		}
	}
	return comps, labels
}

// 8-neighbourhood in clockwise order: E, SE, S, SW, W, NW, N, NE.
var (
	mooreDX = [8]int{1, 1, 0, -1, -1, -1, 0, 1}
	mooreDY = [8]int{0, 1, 1, 1, 0, -1, -1, -1}
)

// traceContourMoore returns the outer boundary of a labeled component using
// Moore-neighbour tracing. Collinear runs are collapsed to their endpoints.
func traceContourMoore(labels []int, w, h, label int, st compStats) []utils.Point {
	isLabel := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < w && y < h && labels[y*w+x] == label
	}

	// The first labeled pixel in raster order is always on the outer boundary.
	sx, sy := -1, -1
	for y := st.minY; y <= st.maxY && sx < 0; y++ {
		for x := st.minX; x <= st.maxX; x++ {
			if isLabel(x, y) {
				sx, sy = x, y
				break
			}
		}
	}
	if sx < 0 {
		return nil
	}

	pts := make([]utils.Point, 0, 64)
	add := func(x, y int) {
		p := utils.Point{X: float64(x), Y: float64(y)}
		if n := len(pts); n >= 2 {
			a, b := pts[n-2], pts[n-1]
			if (b.X-a.X)*(p.Y-b.Y)-(b.Y-a.Y)*(p.X-b.X) == 0 {
				pts = pts[:n-1]
			}
		}
		pts = append(pts, p)
	}
	add(sx, sy)

	cx, cy := sx, sy
	bx, by := sx-1, sy
	startBx, startBy := bx, by
	for steps := 0; steps < 4*st.count+8; steps++ {
		start := (dirIndex(bx-cx, by-cy) + 1) % 8
		found := false
		for k := range 8 {
			i := (start + k) % 8
			tx, ty := cx+mooreDX[i], cy+mooreDY[i]
			if isLabel(tx, ty) {
				cx, cy = tx, ty
				found = true
				break
			}
			bx, by = tx, ty
		}
		if !found {
			break // isolated pixel
		}
		if cx == sx && cy == sy && bx == startBx && by == startBy {
			break
		}
		if last := pts[len(pts)-1]; last.X != float64(cx) || last.Y != float64(cy) {
			add(cx, cy)
		}
	}

	if n := len(pts); n >= 2 && pts[0] == pts[n-1] {
		pts = pts[:n-1]
	}
	return pts
}

func dirIndex(dx, dy int) int {
	for i := range 8 {
		if mooreDX[i] == dx && mooreDY[i] == dy {
			return i
		}
	}
	return 0
}
