package detector

import (
	"encoding/json"
	"time"

	"github.com/MeKo-Tech/idscan/internal/geometry"
)

// DetectionResult is the verdict for one frame. It is created fresh on each
// call and never modified afterwards.
type DetectionResult struct {
	Detected    bool           `json:"detected"`
	Points      *geometry.Quad `json:"points"`
	BlurScore   float64        `json:"blur_score"`
	FrameWidth  int            `json:"frame_width"`
	FrameHeight int            `json:"frame_height"`
	Disabled    bool           `json:"disabled,omitempty"`
	Duration    time.Duration  `json:"-"`
}

// MarshalJSON adds the detection duration in milliseconds.
func (r DetectionResult) MarshalJSON() ([]byte, error) {
	type plain DetectionResult
	return json.Marshal(struct {
		plain
		DurationMS float64 `json:"duration_ms"`
	}{plain: plain(r), DurationMS: float64(r.Duration.Microseconds()) / 1000})
}
