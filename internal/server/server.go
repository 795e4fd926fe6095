// Package server exposes the beatify control API over HTTP.
//
// Routes:
//
//	POST /api/session/start        start recording
//	POST /api/session/stop         stop and recognize
//	GET  /api/session              state, last result, last error
//	PUT  /api/session/record-type  select audio or humming
//	POST /api/share                text a recognized track by SMS
//	GET  /ws/visual                websocket feed of the render state
//	GET  /metrics                  Prometheus metrics
//	GET  /healthz, /readyz         probes
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/beatify/internal/capture"
	"github.com/MrWong99/beatify/internal/health"
	"github.com/MrWong99/beatify/internal/observe"
	"github.com/MrWong99/beatify/internal/render"
	"github.com/MrWong99/beatify/pkg/recognize"
	"github.com/MrWong99/beatify/pkg/share"
)

const (
	// DefaultFeedInterval paces the visual feed at about 15 Hz.
	DefaultFeedInterval = time.Second / 15

	feedWriteTimeout  = time.Second
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
	maxBodyBytes      = 64 << 10
)

// Capture is the part of *capture.Controller the API drives.
type Capture interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Session() capture.SessionInfo
	SetRecordType(rt recognize.RecordType) error
	LastResult() *recognize.Result
	LastError() error
}

// Sharer sends a track by SMS. *share.Client implements it.
type Sharer interface {
	Share(ctx context.Context, phoneNumber string, t recognize.Track) error
}

// StateSource reports the current render state. *render.Engine implements it.
type StateSource interface {
	State() render.VisualState
}

// Config holds the dependencies of a [Server].
type Config struct {
	Capture Capture
	Visual  StateSource

	// Sharer is optional; /api/share answers 501 without it.
	Sharer Sharer

	// Health registers /healthz and /readyz when set.
	Health *health.Handler

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// FeedInterval defaults to [DefaultFeedInterval].
	FeedInterval time.Duration
}

// Server is the HTTP control surface.
type Server struct {
	capture      Capture
	visual       StateSource
	sharer       Sharer
	metrics      *observe.Metrics
	feedInterval time.Duration
	handler      http.Handler
}

// New builds the route table.
func New(cfg Config) *Server {
	s := &Server{
		capture:      cfg.Capture,
		visual:       cfg.Visual,
		sharer:       cfg.Sharer,
		metrics:      cfg.Metrics,
		feedInterval: cfg.FeedInterval,
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.feedInterval <= 0 {
		s.feedInterval = DefaultFeedInterval
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("POST /api/session/stop", s.handleStop)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("PUT /api/session/record-type", s.handleRecordType)
	mux.HandleFunc("POST /api/share", s.handleShare)
	mux.HandleFunc("GET /ws/visual", s.handleVisualFeed)
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}
	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the instrumented route table.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is [Server.ListenAndServe] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("control server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	slog.Info("control server stopped")
	return nil
}

// ─── views ───────────────────────────────────────────────────────────────────

type trackView struct {
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Album      string `json:"album,omitempty"`
	Score      int    `json:"score"`
	SpotifyURL string `json:"spotify_url,omitempty"`
}

type sessionView struct {
	Session capture.SessionInfo `json:"session"`
	Tracks  []trackView         `json:"tracks,omitempty"`
	Message string              `json:"message,omitempty"`
	Error   string              `json:"error,omitempty"`
}

type errorView struct {
	Error string `json:"error"`
}

func (s *Server) view() sessionView {
	v := sessionView{Session: s.capture.Session()}
	if res := s.capture.LastResult(); res != nil {
		for _, t := range res.Tracks {
			v.Tracks = append(v.Tracks, trackView{
				Title:      t.Title,
				Artist:     t.DisplayArtist(),
				Album:      t.Album,
				Score:      t.RoundedScore(),
				SpotifyURL: t.SpotifyURL(),
			})
		}
		if len(res.Tracks) == 0 {
			v.Message = recognize.NoMatchMessage
		}
	}
	if err := s.capture.LastError(); err != nil {
		v.Error = userMessage(err)
	}
	return v
}

// userMessage returns the text shown to the user for err.
func userMessage(err error) string {
	var re *recognize.RecognitionError
	if errors.As(err, &re) {
		return re.Message
	}
	var se *share.ShareError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}

// ─── handlers ────────────────────────────────────────────────────────────────

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.capture.Start(r.Context())
	var de *capture.DeviceError
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, s.view())
	case errors.Is(err, capture.ErrSessionActive):
		writeJSON(w, http.StatusConflict, errorView{Error: err.Error()})
	case errors.As(err, &de):
		status := http.StatusServiceUnavailable
		if de.PermissionDenied() {
			status = http.StatusForbidden
		}
		writeJSON(w, status, errorView{Error: err.Error()})
	default:
		observe.Logger(r.Context()).Error("server: start capture", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorView{Error: err.Error()})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.capture.Stop(r.Context()); err != nil {
		// Recognition still runs; the failure only concerns teardown.
		observe.Logger(r.Context()).Warn("server: stop capture", "err", err)
	}
	writeJSON(w, http.StatusAccepted, s.view())
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.view())
}

type recordTypeRequest struct {
	RecordType recognize.RecordType `json:"record_type"`
}

func (s *Server) handleRecordType(w http.ResponseWriter, r *http.Request) {
	var req recordTypeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorView{Error: err.Error()})
		return
	}
	if err := s.capture.SetRecordType(req.RecordType); err != nil {
		writeJSON(w, http.StatusBadRequest, errorView{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.view())
}

type shareRequest struct {
	PhoneNumber string `json:"phone_number"`
	// Track indexes the tracks of the last result.
	Track int `json:"track"`
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.sharer == nil {
		writeJSON(w, http.StatusNotImplemented, errorView{Error: "sharing is not configured"})
		return
	}
	var req shareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorView{Error: err.Error()})
		return
	}

	res := s.capture.LastResult()
	if res == nil || req.Track < 0 || req.Track >= len(res.Tracks) {
		writeJSON(w, http.StatusConflict, errorView{Error: "no recognized track to share"})
		return
	}

	err := s.sharer.Share(ctx, req.PhoneNumber, res.Tracks[req.Track])
	switch {
	case err == nil:
		s.metrics.RecordShare(ctx, "ok")
		writeJSON(w, http.StatusOK, map[string]string{"message": "SMS sent"})
	case errors.Is(err, share.ErrMissingNumber):
		s.metrics.RecordShare(ctx, "invalid")
		writeJSON(w, http.StatusBadRequest, errorView{Error: userMessage(err)})
	case errors.Is(err, share.ErrRateLimited):
		s.metrics.RecordShare(ctx, "rate_limited")
		writeJSON(w, http.StatusTooManyRequests, errorView{Error: userMessage(err)})
	default:
		s.metrics.RecordShare(ctx, "error")
		observe.Logger(ctx).Warn("server: share failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorView{Error: userMessage(err)})
	}
}

func (s *Server) handleVisualFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Debug("server: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(s.feedInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
			wctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
			err := wsjson.Write(wctx, conn, s.visual.State())
			cancel()
			if err != nil {
				slog.Debug("server: visual feed closed", "err", err)
				return
			}
		}
	}
}

// decodeJSON reads a bounded JSON body that may not carry unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
