package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/geometry"
	"github.com/MeKo-Tech/idscan/internal/media"
	"github.com/MeKo-Tech/idscan/internal/mempool"
	"github.com/MeKo-Tech/idscan/internal/utils"
)

type engine struct {
	cfg    Config
	finder quadFinder
}

func (e *engine) Backend() string { return e.cfg.Backend }

func (e *engine) Close() error {
	if e.finder == nil {
		return nil
	}
	return e.finder.Close()
}

func (e *engine) FrameToBuffer(img image.Image) (*Buffer, error) {
	if img == nil {
		return nil, &apperrors.CaptureError{Op: "frame", Cause: errors.New("no image")}
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, &apperrors.CaptureError{Op: "frame", Cause: fmt.Errorf("frame has zero dimensions %dx%d", w, h)}
	}

	buf := &Buffer{scale: 1}
	full, pix := newPooledNRGBA(w, h)
	buf.img = full
	buf.pooled = append(buf.pooled, pix)
	if err := utils.ResampleInto(full, img); err != nil {
		buf.Release()
		return nil, &apperrors.CaptureError{Op: "frame", Cause: err}
	}

	aw, ah := utils.FitSize(w, h, e.cfg.MaxDetectSize)
	if aw != w || ah != h {
		small, spix := newPooledNRGBA(aw, ah)
		buf.pooled = append(buf.pooled, spix)
		if err := utils.ResampleInto(small, full); err != nil {
			buf.Release()
			return nil, &apperrors.CaptureError{Op: "frame", Cause: err}
		}
		buf.analysis = small
		buf.scale = float64(w) / float64(aw)
	}

	gray := mempool.GetUint8(aw * ah)
	buf.pooled = append(buf.pooled, gray)
	fillGray(gray, buf.Analysis())
	buf.gray = gray
	return buf, nil
}

func (e *engine) DetectQuadrilateral(buf *Buffer) (geometry.Quad, float64, bool, error) {
	if buf == nil || buf.Released() {
		return geometry.Quad{}, 0, false, &apperrors.CaptureError{Op: "detect", Cause: errors.New("buffer released")}
	}
	a := buf.Analysis()
	aq, found, err := e.finder.FindQuad(buf)
	if err != nil {
		return geometry.Quad{}, 0, false, fmt.Errorf("%s backend: %w", e.cfg.Backend, err)
	}

	region := a.Rect
	if found {
		region = utils.BoundingBox(aq.Points()).ToRect(a.Rect)
	}
	var blur float64
	if bs, ok := e.finder.(blurScorer); ok {
		blur, err = bs.BlurScore(buf, region)
		if err != nil {
			return geometry.Quad{}, 0, false, fmt.Errorf("%s backend: %w", e.cfg.Backend, err)
		}
	} else {
		gray, gw, _ := buf.Gray()
		blur = LaplacianVariance(gray, gw, region)
	}

	if !found {
		return geometry.Quad{}, blur, false, nil
	}
	q := aq.Scale(buf.Scale()).Clamp(buf.Width(), buf.Height())
	return q, blur, true, nil
}

func (e *engine) PerspectiveCrop(buf *Buffer, quad geometry.Quad, outW, outH int) (*Buffer, error) {
	if buf == nil || buf.Released() {
		return nil, &apperrors.CaptureError{Op: "crop", Cause: errors.New("buffer released")}
	}
	if outW <= 0 || outH <= 0 {
		return nil, apperrors.NewInvalidGeometry("output size %dx%d", outW, outH)
	}
	if err := quad.Validate(); err != nil {
		return nil, err
	}

	dst, pix := newPooledNRGBA(outW, outH)
	out := &Buffer{img: dst, pooled: [][]uint8{pix}, scale: 1}
	var err error
	if w, ok := e.finder.(quadWarper); ok {
		err = w.WarpInto(dst, buf.Image(), quad)
	} else {
		err = warpPerspective(dst, buf.Image(), quad)
	}
	if err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

func (e *engine) Encode(buf *Buffer, mime string) (media.EncodedImage, error) {
	if buf == nil || buf.Released() {
		return media.EncodedImage{}, &apperrors.CaptureError{Op: "encode", Cause: errors.New("buffer released")}
	}
	return EncodeImage(buf.Image(), mime, e.cfg.JPEGQuality)
}

// EncodeImage encodes img with imaging. quality applies to JPEG only.
func EncodeImage(img image.Image, mime string, quality int) (media.EncodedImage, error) {
	var format imaging.Format
	switch mime {
	case media.MIMEJPEG:
		format = imaging.JPEG
	case media.MIMEPNG:
		format = imaging.PNG
	default:
		return media.EncodedImage{}, &apperrors.CaptureError{Op: "encode", Cause: fmt.Errorf("unsupported mime type %q", mime)}
	}
	var out bytes.Buffer
	if err := imaging.Encode(&out, img, format, imaging.JPEGQuality(quality)); err != nil {
		return media.EncodedImage{}, &apperrors.CaptureError{Op: "encode", Cause: err}
	}
	return media.EncodedImage{MIMEType: mime, Data: out.Bytes()}, nil
}
