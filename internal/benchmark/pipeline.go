package benchmark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MeKo-Tech/idscan/internal/capture"
	"github.com/MeKo-Tech/idscan/internal/scan"
)

// Frame is one named still frame to benchmark.
type Frame struct {
	Name  string
	Frame capture.Frame
}

// ErrNoDocument is returned by a crop benchmark when its frame yields no
// quad to crop.
var ErrNoDocument = errors.New("no document found in frame")

// AddPipeline registers a detect benchmark for every frame, and a crop
// benchmark for every frame in which a document is found. Detection runs
// once per frame up front to obtain the crop quad.
func AddPipeline(ctx context.Context, s *Suite, det scan.FrameDetector, crop scan.Capturer,
	budget time.Duration, frames []Frame,
) error {
	for _, f := range frames {
		frame := f.Frame
		s.Add("detect/"+f.Name, budget, func(ctx context.Context) error {
			_, err := det.DetectInFrame(ctx, frame)
			return err
		})

		if crop == nil {
			continue
		}
		res, err := det.DetectInFrame(ctx, frame)
		if err != nil {
			return fmt.Errorf("detect %s: %w", f.Name, err)
		}
		name := "crop/" + f.Name
		if res == nil || res.Points == nil {
			s.Add(name, 0, func(context.Context) error { return ErrNoDocument })
			continue
		}
		quad := *res.Points
		s.Add(name, 0, func(ctx context.Context) error {
			_, err := crop.Crop(ctx, frame, quad, nil)
			return err
		})
	}
	return nil
}
