package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/idscan/internal/media"
	"github.com/MeKo-Tech/idscan/internal/scan"
)

// DirSink writes <session>_<side>_{display,crop}.<ext> files into a directory.
type DirSink struct {
	dir string
}

// NewDirSink returns a sink writing into dir, created on first export.
func NewDirSink(dir string) *DirSink { return &DirSink{dir: dir} }

// Name implements Sink.
func (d *DirSink) Name() string { return "dir" }

// Export implements Sink.
func (d *DirSink) Export(ctx context.Context, sessionID string, images []scan.CapturedImage) error {
	_, err := d.write(ctx, sessionID, images, true)
	return err
}

// write stores the images and returns the crop paths in side order.
func (d *DirSink) write(ctx context.Context, sessionID string, images []scan.CapturedImage, display bool) ([]string, error) {
	if err := checkImages(images); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(d.dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	crops := make([]string, 0, len(images))
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := d.writeOne(sessionID, img.Side, "crop", img.CroppedImage)
		if err != nil {
			return nil, err
		}
		crops = append(crops, p)
		if display && !img.DisplayImage.Empty() {
			if _, err := d.writeOne(sessionID, img.Side, "display", img.DisplayImage); err != nil {
				return nil, err
			}
		}
	}
	return crops, nil
}

func (d *DirSink) writeOne(sessionID string, side scan.Side, kind string, enc media.EncodedImage) (string, error) {
	path := filepath.Join(d.dir, baseName(sessionID, side, kind)+enc.Extension())
	if err := os.WriteFile(path, enc.Data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
