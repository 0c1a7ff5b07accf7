// Package server exposes detection, cropping and live scanning over HTTP and
// WebSocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/store"
	"github.com/MeKo-Tech/idscan/internal/vision"
)

// EngineStatus reports the state of the shared vision engine.
type EngineStatus interface {
	Backend() string
	State() vision.State
	Err() error
}

// History is the read side of the session store.
type History interface {
	List(ctx context.Context, limit int) ([]store.Record, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Config holds server configuration.
type Config struct {
	Host           string
	Port           int
	CORSOrigin     string
	MaxUploadMB    int64
	TimeoutSec     int
	OverlayEnabled bool
	RateLimit      RateLimitConfig
	Scan           scan.ControllerConfig
}

// Deps are the pipeline components the handlers call into. Detector and
// Cropper are required.
type Deps struct {
	Engine   EngineStatus
	Detector scan.FrameDetector
	Cropper  scan.Capturer
	History  History
	// OnOutcome is called for every outcome of a live scan.
	OnOutcome func(context.Context, scan.Outcome)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	cfg         Config
	engine      EngineStatus
	det         scan.FrameDetector
	crop        scan.Capturer
	history     History
	onOutcome   func(context.Context, scan.Outcome)
	rateLimiter *RateLimiter
	corsOrigin  string
	maxUploadMB int64
	upgrader    websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewServer creates a server around deps.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Detector == nil || deps.Cropper == nil {
		return nil, errors.New("server needs a detector and a cropper")
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 20
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	if cfg.Scan.Document == "" {
		cfg.Scan = scan.DefaultControllerConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:         cfg,
		engine:      deps.Engine,
		det:         deps.Detector,
		crop:        deps.Cropper,
		history:     deps.History,
		onOutcome:   deps.OnOutcome,
		corsOrigin:  cfg.CORSOrigin,
		maxUploadMB: cfg.MaxUploadMB,
		ctx:         ctx,
		cancel:      cancel,
		conns:       make(map[*websocket.Conn]struct{}),
	}
	if cfg.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(cfg.RateLimit)
		go s.forgetIdleClients(10 * time.Minute)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/engine", s.corsMiddleware(s.engineHandler))
	mux.HandleFunc("/v1/detect", s.corsMiddleware(s.rateLimitMiddleware(s.detectHandler)))
	mux.HandleFunc("/v1/crop", s.corsMiddleware(s.rateLimitMiddleware(s.cropHandler)))
	mux.HandleFunc("/v1/sessions", s.corsMiddleware(s.sessionsHandler))
	// the upgrade needs the raw ResponseWriter, so no CORS wrapper here
	mux.HandleFunc("/v1/scan/ws", s.rateLimitMiddleware(s.scanWebSocketHandler))
}

// Handler returns a mux with all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

// Close ends all live scans and waits for their connections to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Server) track(c *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) forgetIdleClients(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.rateLimiter.Forget(24 * time.Hour); n > 0 {
				slog.Debug("Dropped idle rate limit clients", "count", n)
			}
		}
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.corsOrigin == "*" || origin == s.corsOrigin
}
