package vision

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	onnxrt "github.com/yalue/onnxruntime_go"

	"github.com/MeKo-Tech/idscan/internal/geometry"
	"github.com/MeKo-Tech/idscan/internal/mempool"
	"github.com/MeKo-Tech/idscan/internal/utils"
)

// Default segmentation input when the model declares dynamic dimensions.
const (
	onnxDefaultWidth  = 488
	onnxDefaultHeight = 712
	minMaskCoverage   = 0.1
	minMaskPoints     = 100
)

var onnxEnvMu sync.Mutex

func init() {
	registerBackend(BackendONNX, newONNXFinder)
}

// onnxFinder runs a document segmentation model and fits the minimum-area
// rectangle around the mask. The mask is the last channel of a single
// [1, C, H, W] output.
type onnxFinder struct {
	cfg     Config
	session *onnxrt.DynamicAdvancedSession
	inW     int
	inH     int
}

func newONNXFinder(cfg Config) (quadFinder, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx backend requires a model path")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("segmentation model not found: %s", cfg.ModelPath)
	}

	onnxEnvMu.Lock()
	defer onnxEnvMu.Unlock()
	if !onnxrt.IsInitialized() {
		lib, err := resolveONNXLibrary(cfg.LibraryPath)
		if err != nil {
			return nil, err
		}
		onnxrt.SetSharedLibraryPath(lib)
		if err := onnxrt.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("init onnx: %w", err)
		}
	}

	inputs, outputs, err := onnxrt.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("io info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("unexpected io (in:%d out:%d)", len(inputs), len(outputs))
	}

	opts, err := onnxrt.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session opts: %w", err)
	}
	defer func() { _ = opts.Destroy() }()
	if cfg.NumThreads > 0 {
		_ = opts.SetIntraOpNumThreads(cfg.NumThreads)
	}
	if err := configureGPU(opts, cfg.GPU); err != nil {
		slog.Warn("GPU unavailable, using CPU", "device_id", cfg.GPU.DeviceID, "error", err)
	}

	sess, err := onnxrt.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	f := &onnxFinder{cfg: cfg, session: sess, inW: onnxDefaultWidth, inH: onnxDefaultHeight}
	if dims := inputs[0].Dimensions; len(dims) == 4 && dims[2] > 0 && dims[3] > 0 {
		f.inH, f.inW = int(dims[2]), int(dims[3])
	}
	return f, nil
}

func (f *onnxFinder) Close() error {
	if f.session == nil {
		return nil
	}
	err := f.session.Destroy()
	f.session = nil
	return err
}

func (f *onnxFinder) FindQuad(buf *Buffer) (geometry.Quad, bool, error) {
	if f.session == nil {
		return geometry.Quad{}, false, errors.New("session closed")
	}
	a := buf.Analysis()
	aw, ah := a.Rect.Dx(), a.Rect.Dy()
	resized := imaging.Resize(a, f.inW, f.inH, imaging.Linear)

	plane := f.inW * f.inH
	data := mempool.GetFloat32(3 * plane)
	defer mempool.PutFloat32(data)
	for y := range f.inH {
		row := resized.Pix[y*resized.Stride:]
		for x := range f.inW {
			i := y*f.inW + x
			data[i] = float32(row[4*x]) / 255
			data[plane+i] = float32(row[4*x+1]) / 255
			data[2*plane+i] = float32(row[4*x+2]) / 255
		}
	}

	input, err := onnxrt.NewTensor(onnxrt.NewShape(1, 3, int64(f.inH), int64(f.inW)), data)
	if err != nil {
		return geometry.Quad{}, false, fmt.Errorf("input tensor: %w", err)
	}
	defer func() { _ = input.Destroy() }()

	outs := []onnxrt.Value{nil}
	if err := f.session.Run([]onnxrt.Value{input}, outs); err != nil {
		return geometry.Quad{}, false, fmt.Errorf("run: %w", err)
	}
	if outs[0] == nil {
		return geometry.Quad{}, false, errors.New("no output from model")
	}
	defer func() { _ = outs[0].Destroy() }()

	t, ok := outs[0].(*onnxrt.Tensor[float32])
	if !ok {
		return geometry.Quad{}, false, errors.New("invalid output tensor type")
	}
	shape := t.GetShape()
	if len(shape) != 4 || shape[1] < 1 {
		return geometry.Quad{}, false, fmt.Errorf("unexpected output shape %v", shape)
	}
	c, oh, ow := int(shape[1]), int(shape[2]), int(shape[3])
	out := t.GetData()
	mask := out[(c-1)*oh*ow : c*oh*ow]

	q, found := quadFromMask(mask, ow, oh, f.cfg.MaskThreshold)
	if !found {
		return geometry.Quad{}, false, nil
	}
	sx, sy := float64(aw)/float64(ow), float64(ah)/float64(oh)
	for i := range q {
		q[i] = utils.Point{X: q[i].X * sx, Y: q[i].Y * sy}
	}
	if !acceptQuad(f.cfg, q, f.cfg.MinAreaRatio*float64(aw*ah)) {
		return geometry.Quad{}, false, nil
	}
	return q, true, nil
}

// quadFromMask fits the minimum-area rectangle around mask pixels >= thr.
func quadFromMask(mask []float32, w, h int, thr float64) (geometry.Quad, bool) {
	pts := make([]utils.Point, 0, len(mask)/8)
	for y := range h {
		row := mask[y*w : (y+1)*w]
		for x, v := range row {
			if float64(v) >= thr {
				pts = append(pts, utils.Point{X: float64(x), Y: float64(y)})
			}
		}
	}
	if len(pts) < minMaskPoints || float64(len(pts))/float64(w*h) < minMaskCoverage {
		return geometry.Quad{}, false
	}
	rect := utils.MinimumAreaRectangle(pts)
	q, err := geometry.NewQuad(rect)
	return q, err == nil
}

// resolveONNXLibrary prefers an explicit path, then system locations, then a
// project-local onnxruntime/lib directory.
func resolveONNXLibrary(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("onnxruntime library not found at %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range []string{
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	} {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	var name string
	switch runtime.GOOS {
	case "linux":
		name = "libonnxruntime.so"
	case "darwin":
		name = "libonnxruntime.dylib"
	case "windows":
		name = "onnxruntime.dll"
	default:
		return "", fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		p := filepath.Join(dir, "onnxruntime", "lib", name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("onnxruntime library not found; set vision.library_path")
		}
		dir = parent
	}
}
