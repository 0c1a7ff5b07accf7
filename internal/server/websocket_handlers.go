package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/idscan/internal/capture"
	"github.com/MeKo-Tech/idscan/internal/detector"
	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/guidance"
	"github.com/MeKo-Tech/idscan/internal/media"
	"github.com/MeKo-Tech/idscan/internal/scan"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// Client message types.
const (
	msgFrame  = "frame"
	msgStart  = "start"
	msgRetake = "retake"
	msgCancel = "cancel"
	msgStatus = "status"
)

// Server message types.
const (
	msgDetection = "detection"
	msgCaptured  = "captured"
	msgComplete  = "complete"
	msgError     = "error"
	msgStarted   = "started"
)

// ClientMessage is a JSON message sent by a live-scan client. Frames may
// also be sent as binary messages holding the encoded image.
type ClientMessage struct {
	Type string `json:"type"`
	// Image is base64 or a data URI.
	Image string `json:"image,omitempty"`
	Side  string `json:"side,omitempty"`
}

// ServerMessage is a JSON message sent to a live-scan client.
type ServerMessage struct {
	Type      string                    `json:"type"`
	SessionID string                    `json:"session_id,omitempty"`
	Side      scan.Side                 `json:"side,omitempty"`
	Detection *detector.DetectionResult `json:"detection,omitempty"`
	Image     *scan.CapturedImage       `json:"image,omitempty"`
	Cropped   string                    `json:"cropped,omitempty"`
	Display   string                    `json:"display,omitempty"`
	Status    *scan.Status              `json:"status,omitempty"`
	Kind      apperrors.Kind            `json:"kind,omitempty"`
	Message   string                    `json:"message,omitempty"`
	Guidance  string                    `json:"guidance,omitempty"`
}

// messageWriter is the subset of *websocket.Conn used to send messages.
type messageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// liveScan is one WebSocket client driving a controller with its frames.
type liveScan struct {
	srv    *Server
	client string
	guide  *guidance.Guide
	source *capture.StreamSource
	ctrl   *scan.Controller

	writeMu sync.Mutex
	conn    messageWriter
}

// scanWebSocketHandler upgrades to a live scan of
// ?document=<type>&side=<side>.
func (s *Server) scanWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Scan
	if d := r.URL.Query().Get("document"); d != "" {
		doc, err := scan.ParseDocumentType(d)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cfg.Document = doc
	}
	side := cfg.Document.Sides()[0]
	if v := r.URL.Query().Get("side"); v != "" {
		sd, err := scan.ParseSide(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		side = sd
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	if !s.track(conn) {
		_ = conn.Close()
		return
	}
	defer s.untrack(conn)
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	slog.Info("Live scan connected", "remote_addr", r.RemoteAddr, "document", cfg.Document, "side", side)

	ls := s.newLiveScan(cfg, conn, clientIP(r), guidance.For(r.Header.Get("Accept-Language")))
	ls.run(s.ctx, conn, side)
}

func (s *Server) newLiveScan(cfg scan.ControllerConfig, conn messageWriter, client string, guide *guidance.Guide) *liveScan {
	ls := &liveScan{
		srv:    s,
		client: client,
		guide:  guide,
		source: capture.NewStreamSource(),
		conn:   conn,
	}
	opts := []scan.Option{scan.WithDetectionListener(ls.onDetection)}
	if s.onOutcome != nil {
		opts = append(opts, scan.WithOnComplete(func(o scan.Outcome) { s.onOutcome(s.ctx, o) }))
	}
	ls.ctrl = scan.NewController(cfg, ls.source, s.det, s.crop, opts...)
	return ls
}

func (ls *liveScan) run(ctx context.Context, conn *websocket.Conn, side scan.Side) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, unsubscribe := ls.ctrl.Results()
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for out := range results {
			ls.sendOutcome(out)
		}
	}()
	defer func() {
		unsubscribe()
		_ = ls.ctrl.Close()
		<-forwarded
	}()

	conn.SetReadLimit(ls.srv.maxUploadMB * 1024 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	go ls.keepAlive(ctx, conn)

	ls.start(ctx, side)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Live scan connection error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		websocketMessagesTotal.WithLabelValues("received").Inc()

		switch messageType {
		case websocket.BinaryMessage:
			ls.pushFrame(data)
		case websocket.TextMessage:
			ls.handleMessage(ctx, data)
		}
	}
}

func (ls *liveScan) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ls.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			ls.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (ls *liveScan) handleMessage(ctx context.Context, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		ls.sendRequestError("invalid message: " + err.Error())
		return
	}

	switch msg.Type {
	case msgFrame:
		raw, err := decodeFramePayload(msg.Image)
		if err != nil {
			websocketFramesTotal.WithLabelValues("invalid").Inc()
			ls.sendRequestError(err.Error())
			return
		}
		ls.pushFrame(raw)
	case msgStart, msgRetake:
		side, err := scan.ParseSide(msg.Side)
		if err != nil {
			ls.sendRequestError(err.Error())
			return
		}
		if msg.Type == msgRetake {
			ls.ctrl.Retake(side)
		}
		ls.start(ctx, side)
	case msgCancel:
		ls.ctrl.Cancel()
	case msgStatus:
		st := ls.ctrl.Snapshot()
		ls.send(ServerMessage{Type: msgStatus, Status: &st})
	default:
		ls.sendRequestError("unsupported message type: " + msg.Type)
	}
}

func (ls *liveScan) start(ctx context.Context, side scan.Side) {
	id, err := ls.ctrl.StartScan(ctx, side)
	if err != nil {
		// camera failures arrive as outcomes
		if apperrors.KindOf(err) != apperrors.KindCameraUnavailable {
			ls.sendRequestError(err.Error())
		}
		return
	}
	ls.send(ServerMessage{Type: msgStarted, SessionID: id, Side: side, Guidance: ls.guide.Prompt(string(side))})
}

func (ls *liveScan) pushFrame(data []byte) {
	if rl := ls.srv.rateLimiter; rl != nil {
		if err := rl.ChargeData(ls.client, int64(len(data))); err != nil {
			websocketFramesTotal.WithLabelValues("throttled").Inc()
			var q *QuotaExceededError
			if errors.As(err, &q) {
				rateLimitHits.WithLabelValues(q.Type).Inc()
			}
			ls.send(ServerMessage{Type: msgError, Kind: "rate_limited", Message: err.Error()})
			return
		}
	}
	if err := ls.source.PushEncoded(data); err != nil {
		websocketFramesTotal.WithLabelValues("invalid").Inc()
		ls.sendError(err)
		return
	}
	websocketFramesTotal.WithLabelValues("accepted").Inc()
}

func (ls *liveScan) onDetection(side scan.Side, res *detector.DetectionResult) {
	msg := ServerMessage{Type: msgDetection, Side: side, Detection: res}
	if res.Detected {
		msg.Guidance = ls.guide.HoldSteady()
	}
	ls.send(msg)
}

func (ls *liveScan) sendOutcome(out scan.Outcome) {
	if out.Err != nil {
		msg := ServerMessage{
			Type:      msgError,
			SessionID: out.SessionID,
			Side:      out.Side,
			Kind:      apperrors.KindOf(out.Err),
			Message:   out.Err.Error(),
			Guidance:  ls.guide.ForError(out.Err),
		}
		ls.send(msg)
		return
	}
	if out.Image == nil {
		return
	}
	ls.send(ServerMessage{
		Type:      msgCaptured,
		SessionID: out.SessionID,
		Side:      out.Side,
		Image:     out.Image,
		Cropped:   out.Image.CroppedImage.DataURI(),
		Display:   out.Image.DisplayImage.DataURI(),
		Guidance:  ls.guide.Captured(string(out.Side), out.Image.Forced),
	})
	if ls.ctrl.Complete() {
		st := ls.ctrl.Snapshot()
		ls.send(ServerMessage{Type: msgComplete, Status: &st})
	}
}

func (ls *liveScan) sendError(err error) {
	ls.send(ServerMessage{
		Type:     msgError,
		Kind:     apperrors.KindOf(err),
		Message:  err.Error(),
		Guidance: ls.guide.ForError(err),
	})
}

func (ls *liveScan) sendRequestError(msg string) {
	ls.send(ServerMessage{Type: msgError, Kind: "invalid_request", Message: msg})
}

func (ls *liveScan) send(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal WebSocket message", "error", err)
		return
	}
	ls.writeMu.Lock()
	defer ls.writeMu.Unlock()
	if err := ls.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("Failed to send WebSocket message", "type", msg.Type, "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// decodeFramePayload accepts a data URI or bare base64.
func decodeFramePayload(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("frame message without image")
	}
	if strings.HasPrefix(s, "data:") {
		img, err := media.ParseDataURI(s)
		if err != nil {
			return nil, err
		}
		return img.Data, nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New("frame image is not valid base64")
	}
	return data, nil
}
