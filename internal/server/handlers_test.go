package server

import (
	"bytes"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/geometry"
	"github.com/MeKo-Tech/idscan/internal/media"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/store"
	"github.com/MeKo-Tech/idscan/internal/testutil"
	"github.com/MeKo-Tech/idscan/internal/vision"
)

func TestNewServer_RequiresPipeline(t *testing.T) {
	_, err := NewServer(Config{}, Deps{})
	require.Error(t, err)
}

func TestNewServer_Defaults(t *testing.T) {
	s := newTestServer(t, Config{}, Deps{})
	assert.Equal(t, int64(20), s.maxUploadMB)
	assert.Equal(t, "*", s.corsOrigin)
	assert.Equal(t, scan.DocumentEmiratesID, s.cfg.Scan.Document)
	assert.Nil(t, s.rateLimiter)
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t, Config{}, Deps{})
	tests := []struct {
		method string
		status int
	}{
		{http.MethodGet, http.StatusOK},
		{http.MethodPost, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(tt.method, "/health", nil))
			require.Equal(t, tt.status, w.Code)
			if tt.status != http.StatusOK {
				return
			}
			var resp HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "healthy", resp.Status)
			assert.NotEmpty(t, resp.Time)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestEngineHandler(t *testing.T) {
	tests := []struct {
		name   string
		engine EngineStatus
		want   EngineResponse
	}{
		{name: "no engine", engine: nil, want: EngineResponse{State: vision.StatePending}},
		{name: "ready", engine: fakeEngine{backend: "contour", state: vision.StateReady}, want: EngineResponse{Backend: "contour", State: vision.StateReady}},
		{
			name:   "failed",
			engine: fakeEngine{backend: "onnx", state: vision.StateFailed, err: &apperrors.EngineLoadError{Backend: "onnx"}},
			want:   EngineResponse{Backend: "onnx", State: vision.StateFailed, Error: `vision engine "onnx" failed to load`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, Config{}, Deps{Engine: tt.engine})
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/engine", nil))
			require.Equal(t, http.StatusOK, w.Code)

			var got EngineResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectHandler(t *testing.T) {
	img, quad := cardQuad()
	data := encodePNG(t, img)

	t.Run("detected", func(t *testing.T) {
		s := newTestServer(t, Config{}, Deps{Detector: &fakeDetector{quad: &quad, blur: 55}})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, multipartRequest(t, "/v1/detect", data, nil))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp DetectResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Result)
		assert.True(t, resp.Result.Detected)
		assert.Equal(t, 1280, resp.Result.FrameWidth)
		assert.Equal(t, 720, resp.Result.FrameHeight)
		require.NotNil(t, resp.Result.Points)
		assert.Equal(t, quad, *resp.Result.Points)
		assert.NotEmpty(t, resp.Guidance)
		assert.Empty(t, resp.Overlay)
	})

	t.Run("nothing found prompts for the side", func(t *testing.T) {
		s := newTestServer(t, Config{}, Deps{Detector: &fakeDetector{}})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, multipartRequest(t, "/v1/detect", data, map[string]string{"side": "back"}))
		require.Equal(t, http.StatusOK, w.Code)

		var resp DetectResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Result.Detected)
		assert.Nil(t, resp.Result.Points)
		assert.Contains(t, strings.ToLower(resp.Guidance), "back")
	})

	t.Run("overlay", func(t *testing.T) {
		s := newTestServer(t, Config{OverlayEnabled: true}, Deps{Detector: &fakeDetector{quad: &quad, blur: 55}})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, multipartRequest(t, "/v1/detect", data, map[string]string{"overlay": "true"}))
		require.Equal(t, http.StatusOK, w.Code)

		var resp DetectResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.True(t, strings.HasPrefix(resp.Overlay, "data:image/png;base64,"))
		ov, err := media.ParseDataURI(resp.Overlay)
		require.NoError(t, err)
		decoded, err := ov.Decode()
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 1280, 720), decoded.Bounds())
	})

	t.Run("overlay disabled", func(t *testing.T) {
		s := newTestServer(t, Config{}, Deps{Detector: &fakeDetector{quad: &quad}})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, multipartRequest(t, "/v1/detect", data, map[string]string{"overlay": "1"}))
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("detector failure", func(t *testing.T) {
		det := &fakeDetector{err: &apperrors.CaptureError{Op: "detect", Cause: errBoom}}
		s := newTestServer(t, Config{}, Deps{Detector: det})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, multipartRequest(t, "/v1/detect", data, nil))
		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, apperrors.KindCapture, resp.Kind)
		assert.NotEmpty(t, resp.Guidance)
	})

	t.Run("method not allowed", func(t *testing.T) {
		s := newTestServer(t, Config{}, Deps{})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/detect", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestUploadErrors(t *testing.T) {
	s := newTestServer(t, Config{MaxUploadMB: 1}, Deps{})

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{
			name: "no image",
			req: func() *http.Request {
				return multipartRequest(t, "/v1/detect", nil, map[string]string{"side": "front"})
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "not an image",
			req:    func() *http.Request { return multipartRequest(t, "/v1/detect", []byte("definitely not pixels"), nil) },
			status: http.StatusBadRequest,
		},
		{
			name: "not multipart",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/v1/detect", strings.NewReader("{}"))
			},
			status: http.StatusBadRequest,
		},
		{
			name: "too large",
			req: func() *http.Request {
				return multipartRequest(t, "/v1/detect", bytes.Repeat([]byte{0xAB}, 2*1024*1024), nil)
			},
			status: http.StatusRequestEntityTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, tt.req())
			assert.Equal(t, tt.status, w.Code, w.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestCropHandler(t *testing.T) {
	img, quad := cardQuad()
	data := encodePNG(t, img)

	t.Run("crops to the output size", func(t *testing.T) {
		s := newTestServer(t, Config{}, Deps{})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, multipartRequest(t, "/v1/crop", data, map[string]string{
			"quad": quad.String(),
			"side": "back",
		}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp CropResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Image)
		assert.Equal(t, scan.SideBack, resp.Image.Side)
		assert.False(t, resp.Image.Forced)

		cropped, err := media.ParseDataURI(resp.Cropped)
		require.NoError(t, err)
		assert.Equal(t, media.MIMEJPEG, cropped.MIMEType)
		out, err := cropped.Decode()
		require.NoError(t, err)
		assert.Equal(t, 800, out.Bounds().Dx())
		assert.Equal(t, 500, out.Bounds().Dy())

		// the uploaded PNG is kept as the display image
		display, err := media.ParseDataURI(resp.Display)
		require.NoError(t, err)
		assert.Equal(t, data, display.Data)
	})

	t.Run("zero area quad", func(t *testing.T) {
		s := newTestServer(t, Config{}, Deps{})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, multipartRequest(t, "/v1/crop", data, map[string]string{
			"quad": "10,10,10,10,10,10,10,10",
		}))
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, apperrors.KindInvalidGeometry, resp.Kind)
	})

	t.Run("malformed quad", func(t *testing.T) {
		s := newTestServer(t, Config{}, Deps{})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, multipartRequest(t, "/v1/crop", data, map[string]string{"quad": "1,2,3"}))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("unknown side", func(t *testing.T) {
		s := newTestServer(t, Config{}, Deps{})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, multipartRequest(t, "/v1/crop", data, map[string]string{
			"quad": quad.String(),
			"side": "top",
		}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("crop of a blank frame still produces an image", func(t *testing.T) {
		blank := encodePNG(t, testutil.BlankFrame(640, 480, image.White))
		s := newTestServer(t, Config{}, Deps{})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, multipartRequest(t, "/v1/crop", blank, map[string]string{
			"quad": geometry.FullFrame(640, 480).String(),
		}))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestSessionsHandler(t *testing.T) {
	history := &fakeHistory{
		records: []store.Record{
			{ID: "a", Document: scan.DocumentPassport, Side: scan.SideFront, Outcome: store.OutcomeCaptured},
			{ID: "b", Document: scan.DocumentPassport, Side: scan.SideFront, Outcome: store.OutcomeFailed, ErrorKind: apperrors.KindCancelled},
		},
		stats: store.Stats{Total: 2, Captured: 1, Failed: 1},
	}

	t.Run("list", func(t *testing.T) {
		s := newTestServer(t, Config{}, Deps{History: history})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions?limit=1", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp SessionsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Sessions, 1)
		assert.Equal(t, "a", resp.Sessions[0].ID)
		assert.Equal(t, 2, resp.Stats.Total)
		assert.Equal(t, 1, history.limit)
	})

	t.Run("limit is capped", func(t *testing.T) {
		s := newTestServer(t, Config{}, Deps{History: history})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions?limit=100000", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, maxHistoryLimit, history.limit)
	})

	t.Run("bad limit", func(t *testing.T) {
		s := newTestServer(t, Config{}, Deps{History: history})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions?limit=zero", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		s := newTestServer(t, Config{}, Deps{History: &fakeHistory{err: errBoom}})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t, Config{}, Deps{})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("with a real store", func(t *testing.T) {
		st, err := store.New(":memory:")
		require.NoError(t, err)
		defer func() { _ = st.Close() }()
		require.NoError(t, st.RecordOutcome(t.Context(), scan.Outcome{
			SessionID: "real", Document: scan.DocumentEmiratesID, Side: scan.SideFront,
			Image: &scan.CapturedImage{Quad: geometry.FullFrame(10, 10)},
		}))

		s := newTestServer(t, Config{}, Deps{History: st})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp SessionsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Sessions, 1)
		assert.Equal(t, store.OutcomeCaptured, resp.Sessions[0].Outcome)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, Config{}, Deps{})
	// touch a handler so the request counters have samples
	s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "idscan_http_requests_total")
}
