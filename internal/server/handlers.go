package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/idscan/internal/capture"
	"github.com/MeKo-Tech/idscan/internal/detector"
	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/geometry"
	"github.com/MeKo-Tech/idscan/internal/guidance"
	"github.com/MeKo-Tech/idscan/internal/media"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/store"
	"github.com/MeKo-Tech/idscan/internal/utils"
	"github.com/MeKo-Tech/idscan/internal/version"
	"github.com/MeKo-Tech/idscan/internal/vision"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

var overlayColor = color.RGBA{R: 0, G: 200, B: 80, A: 255}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// EngineResponse is returned by /v1/engine.
type EngineResponse struct {
	Backend string       `json:"backend"`
	State   vision.State `json:"state"`
	Error   string       `json:"error,omitempty"`
}

// DetectResponse is returned by /v1/detect.
type DetectResponse struct {
	Result   *detector.DetectionResult `json:"result"`
	Guidance string                    `json:"guidance,omitempty"`
	Overlay  string                    `json:"overlay,omitempty"`
}

// CropResponse is returned by /v1/crop. Images are data URIs.
type CropResponse struct {
	Image   *scan.CapturedImage `json:"image"`
	Cropped string              `json:"cropped"`
	Display string              `json:"display,omitempty"`
}

// SessionsResponse is returned by /v1/sessions.
type SessionsResponse struct {
	Sessions []store.Record `json:"sessions"`
	Stats    store.Stats    `json:"stats"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error    string         `json:"error"`
	Kind     apperrors.Kind `json:"kind,omitempty"`
	Guidance string         `json:"guidance,omitempty"`
}

// requestError is a client mistake that never reaches the pipeline.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	v, _, _ := version.Info()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: v,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) engineHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		writeJSON(w, http.StatusOK, EngineResponse{State: vision.StatePending})
		return
	}
	resp := EngineResponse{Backend: s.engine.Backend(), State: s.engine.State()}
	if err := s.engine.Err(); err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) detectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	img, _, err := s.readUpload(w, r)
	if err != nil {
		operationsTotal.WithLabelValues("detect", "bad_request").Inc()
		s.writeError(w, r, err)
		return
	}

	wantOverlay := r.FormValue("overlay") == "true" || r.FormValue("overlay") == "1"
	if wantOverlay && !s.cfg.OverlayEnabled {
		operationsTotal.WithLabelValues("detect", "forbidden").Inc()
		s.writeError(w, r, &requestError{status: http.StatusForbidden, msg: "overlay output disabled"})
		return
	}

	res, err := s.det.DetectInFrame(r.Context(), capture.NewFrame(img))
	if err != nil {
		operationsTotal.WithLabelValues("detect", string(apperrors.KindOf(err))).Inc()
		s.writeError(w, r, err)
		return
	}
	operationsTotal.WithLabelValues("detect", "success").Inc()
	operationDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	guide := guidance.For(r.Header.Get("Accept-Language"))
	resp := DetectResponse{Result: res, Guidance: guide.Prompt(sideParam(r))}
	if res.Detected {
		resp.Guidance = guide.HoldSteady()
	}
	if wantOverlay && res.Points != nil {
		ov := utils.DrawOverlay(img, res.Points.Points(), overlayColor, 4)
		enc, err := vision.EncodeImage(ov, media.MIMEPNG, 0)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Overlay = enc.DataURI()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cropHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	img, raw, err := s.readUpload(w, r)
	if err != nil {
		operationsTotal.WithLabelValues("crop", "bad_request").Inc()
		s.writeError(w, r, err)
		return
	}
	side, err := scan.ParseSide(sideParam(r))
	if err != nil {
		operationsTotal.WithLabelValues("crop", "bad_request").Inc()
		s.writeError(w, r, &requestError{status: http.StatusBadRequest, msg: err.Error()})
		return
	}

	quad, err := geometry.ParseQuad(r.FormValue("quad"))
	if err != nil {
		operationsTotal.WithLabelValues("crop", string(apperrors.KindOf(err))).Inc()
		s.writeError(w, r, err)
		return
	}

	frame := capture.NewFrame(img)
	frame.Raw = raw
	out, err := s.crop.Crop(r.Context(), frame, quad, nil)
	if err != nil {
		operationsTotal.WithLabelValues("crop", string(apperrors.KindOf(err))).Inc()
		s.writeError(w, r, err)
		return
	}
	out.Side = side
	operationsTotal.WithLabelValues("crop", "success").Inc()
	operationDuration.WithLabelValues("crop").Observe(time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, CropResponse{
		Image:   &out,
		Cropped: out.CroppedImage.DataURI(),
		Display: out.DisplayImage.DataURI(),
	})
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		s.writeError(w, r, &requestError{status: http.StatusServiceUnavailable, msg: "session history is disabled"})
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, r, &requestError{status: http.StatusBadRequest, msg: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.history.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: records, Stats: stats})
}

// readUpload reads the multipart "image" field. The raw bytes are returned
// as an encoded image when they are JPEG or PNG.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (image.Image, media.EncodedImage, error) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, media.EncodedImage{}, &requestError{status: http.StatusRequestEntityTooLarge, msg: "File too large"}
		}
		return nil, media.EncodedImage{}, &requestError{status: http.StatusBadRequest, msg: "Failed to parse form data"}
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, media.EncodedImage{}, &requestError{status: http.StatusBadRequest, msg: "No image file provided"}
	}
	defer func() { _ = file.Close() }()
	uploadSizeBytes.Observe(float64(header.Size))

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, media.EncodedImage{}, &requestError{status: http.StatusBadRequest, msg: "Failed to read image data"}
	}
	img, err := utils.DecodeImage(data)
	if err != nil {
		return nil, media.EncodedImage{}, &requestError{status: http.StatusBadRequest, msg: "Invalid image format"}
	}

	raw := media.EncodedImage{}
	switch mime := http.DetectContentType(data); mime {
	case media.MIMEJPEG, media.MIMEPNG:
		raw = media.EncodedImage{MIMEType: mime, Data: data}
	}
	return img, raw, nil
}

func sideParam(r *http.Request) string {
	if side := r.FormValue("side"); side != "" {
		return side
	}
	return string(scan.SideFront)
}

// writeError maps err to a status code and writes it with a localized hint.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		writeJSON(w, reqErr.status, ErrorResponse{Error: reqErr.msg})
		return
	}
	status := apperrors.StatusCode(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "error", err)
	}
	guide := guidance.For(r.Header.Get("Accept-Language"))
	writeJSON(w, status, ErrorResponse{
		Error:    err.Error(),
		Kind:     apperrors.KindOf(err),
		Guidance: guide.ForError(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err, "type", fmt.Sprintf("%T", v))
	}
}
