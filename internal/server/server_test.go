package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/beatify/pkg/audio"
	"github.com/MrWong99/beatify/internal/capture"
	"github.com/MrWong99/beatify/internal/health"
	"github.com/MrWong99/beatify/internal/observe"
	"github.com/MrWong99/beatify/internal/render"
	"github.com/MrWong99/beatify/internal/server"
	"github.com/MrWong99/beatify/pkg/recognize"
	"github.com/MrWong99/beatify/pkg/share"
)

// ─── fakes ───────────────────────────────────────────────────────────────────

type fakeCapture struct {
	mu         sync.Mutex
	startErr   error
	stopErr    error
	info       capture.SessionInfo
	result     *recognize.Result
	lastErr    error
	starts     int
	stops      int
	recordType recognize.RecordType
}

func (f *fakeCapture) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr == nil {
		f.info.State = capture.StateRecording
	}
	return f.startErr
}

func (f *fakeCapture) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.info.State = capture.StateFinalizing
	return f.stopErr
}

func (f *fakeCapture) Session() capture.SessionInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info
}

func (f *fakeCapture) SetRecordType(rt recognize.RecordType) error {
	if !rt.IsValid() {
		return errors.New("capture: invalid record type")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordType = rt
	f.info.RecordType = rt
	return nil
}

func (f *fakeCapture) LastResult() *recognize.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

func (f *fakeCapture) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

type fakeSharer struct {
	mu     sync.Mutex
	err    error
	phone  string
	tracks []recognize.Track
}

func (f *fakeSharer) Share(_ context.Context, phone string, t recognize.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phone = phone
	f.tracks = append(f.tracks, t)
	return f.err
}

type fakeVisual struct {
	state render.VisualState
}

func (f *fakeVisual) State() render.VisualState { return f.state }

func newMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newServer(t *testing.T, c *fakeCapture, sh server.Sharer) http.Handler {
	t.Helper()
	return server.New(server.Config{
		Capture: c,
		Sharer:  sh,
		Visual:  &fakeVisual{},
		Metrics: newMetrics(t),
	}).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type sessionBody struct {
	Session struct {
		State      string `json:"state"`
		RecordType string `json:"record_type"`
	} `json:"session"`
	Tracks []struct {
		Title      string `json:"title"`
		Artist     string `json:"artist"`
		Score      int    `json:"score"`
		SpotifyURL string `json:"spotify_url"`
	} `json:"tracks"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestStart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "ok", wantStatus: http.StatusAccepted},
		{name: "already active", err: capture.ErrSessionActive, wantStatus: http.StatusConflict},
		{name: "device unavailable", err: &capture.DeviceError{Err: audio.ErrDeviceUnavailable}, wantStatus: http.StatusServiceUnavailable},
		{name: "permission denied", err: &capture.DeviceError{Err: audio.ErrPermissionDenied}, wantStatus: http.StatusForbidden},
		{name: "other", err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &fakeCapture{startErr: tt.err}
			rec := do(t, newServer(t, c, nil), http.MethodPost, "/api/session/start", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if c.starts != 1 {
				t.Errorf("starts = %d, want 1", c.starts)
			}
			if tt.err == nil {
				body := decode[sessionBody](t, rec)
				if body.Session.State != "recording" {
					t.Errorf("state = %q, want recording", body.Session.State)
				}
			}
		})
	}
}

func TestStop(t *testing.T) {
	t.Parallel()

	c := &fakeCapture{stopErr: errors.New("close stream")}
	rec := do(t, newServer(t, c, nil), http.MethodPost, "/api/session/stop", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if c.stops != 1 {
		t.Errorf("stops = %d, want 1", c.stops)
	}
	if got := decode[sessionBody](t, rec).Session.State; got != "finalizing" {
		t.Errorf("state = %q, want finalizing", got)
	}
}

func TestSession_Result(t *testing.T) {
	t.Parallel()

	c := &fakeCapture{result: &recognize.Result{Tracks: []recognize.Track{
		{Title: "Song", Artist: "", Score: 87.6, SpotifyID: "abc"},
	}}}
	rec := do(t, newServer(t, c, nil), http.MethodGet, "/api/session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[sessionBody](t, rec)
	if len(body.Tracks) != 1 {
		t.Fatalf("tracks = %d, want 1", len(body.Tracks))
	}
	tr := body.Tracks[0]
	if tr.Artist != recognize.UnknownArtist {
		t.Errorf("artist = %q, want %q", tr.Artist, recognize.UnknownArtist)
	}
	if tr.Score != 88 {
		t.Errorf("score = %d, want 88", tr.Score)
	}
	if tr.SpotifyURL != "https://open.spotify.com/track/abc" {
		t.Errorf("spotify_url = %q", tr.SpotifyURL)
	}
	if body.Message != "" {
		t.Errorf("message = %q, want empty", body.Message)
	}
}

func TestSession_NoMatchAndError(t *testing.T) {
	t.Parallel()

	c := &fakeCapture{
		result:  &recognize.Result{},
		lastErr: &recognize.RecognitionError{Message: "Service busy", StatusCode: 503},
	}
	body := decode[sessionBody](t, do(t, newServer(t, c, nil), http.MethodGet, "/api/session", ""))
	if body.Message != recognize.NoMatchMessage {
		t.Errorf("message = %q, want %q", body.Message, recognize.NoMatchMessage)
	}
	if body.Error != "Service busy" {
		t.Errorf("error = %q, want %q", body.Error, "Service busy")
	}
}

func TestRecordType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "humming", body: `{"record_type":"humming"}`, wantStatus: http.StatusOK},
		{name: "invalid", body: `{"record_type":"whistle"}`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"mode":"audio"}`, wantStatus: http.StatusBadRequest},
		{name: "malformed", body: `{`, wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &fakeCapture{}
			rec := do(t, newServer(t, c, nil), http.MethodPut, "/api/session/record-type", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK && c.recordType != recognize.RecordHumming {
				t.Errorf("record type = %q, want humming", c.recordType)
			}
		})
	}
}

func TestShare(t *testing.T) {
	t.Parallel()

	result := &recognize.Result{Tracks: []recognize.Track{{Title: "A"}, {Title: "B"}}}
	tests := []struct {
		name       string
		result     *recognize.Result
		shareErr   error
		body       string
		wantStatus int
		wantTitle  string
	}{
		{name: "ok", result: result, body: `{"phone_number":"+15551234","track":1}`, wantStatus: http.StatusOK, wantTitle: "B"},
		{name: "no result", body: `{"phone_number":"+15551234"}`, wantStatus: http.StatusConflict},
		{name: "track out of range", result: result, body: `{"phone_number":"+1","track":5}`, wantStatus: http.StatusConflict},
		{
			name: "missing number", result: result, body: `{"phone_number":""}`,
			shareErr:   &share.ShareError{Message: share.MissingNumberMessage, Err: share.ErrMissingNumber},
			wantStatus: http.StatusBadRequest, wantTitle: "A",
		},
		{
			name: "rate limited", result: result, body: `{"phone_number":"+1"}`,
			shareErr:   &share.ShareError{Message: "slow down", Err: share.ErrRateLimited},
			wantStatus: http.StatusTooManyRequests, wantTitle: "A",
		},
		{
			name: "upstream failure", result: result, body: `{"phone_number":"+1"}`,
			shareErr:   &share.ShareError{Message: share.DefaultFailureMessage, StatusCode: 500},
			wantStatus: http.StatusBadGateway, wantTitle: "A",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sh := &fakeSharer{err: tt.shareErr}
			c := &fakeCapture{result: tt.result}
			rec := do(t, newServer(t, c, sh), http.MethodPost, "/api/share", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantTitle == "" {
				if len(sh.tracks) != 0 {
					t.Errorf("sharer called %d times, want 0", len(sh.tracks))
				}
				return
			}
			if len(sh.tracks) != 1 || sh.tracks[0].Title != tt.wantTitle {
				t.Errorf("shared tracks = %+v, want [%s]", sh.tracks, tt.wantTitle)
			}
		})
	}
}

func TestShare_NotConfigured(t *testing.T) {
	t.Parallel()

	rec := do(t, newServer(t, &fakeCapture{}, nil), http.MethodPost, "/api/share", `{}`)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}

func TestOptionalRoutes(t *testing.T) {
	t.Parallel()

	h := server.New(server.Config{
		Capture: &fakeCapture{},
		Visual:  &fakeVisual{},
		Health:  health.New(),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("metrics"))
		}),
		Metrics: newMetrics(t),
	}).Handler()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		if rec := do(t, h, http.MethodGet, path, ""); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestVisualFeed(t *testing.T) {
	t.Parallel()

	vis := &fakeVisual{state: render.VisualState{Frequency: 230.4, Intensity: 0.5, Driven: true, Frame: 7}}
	srv := httptest.NewServer(server.New(server.Config{
		Capture:      &fakeCapture{},
		Visual:       vis,
		Metrics:      newMetrics(t),
		FeedInterval: 5 * time.Millisecond,
	}).Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/visual", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	for range 2 {
		var got render.VisualState
		if err := wsjson.Read(ctx, conn, &got); err != nil {
			t.Fatalf("Read: %v", err)
		}
		if got.Frame != 7 || !got.Driven || got.Frequency != 230.4 {
			t.Errorf("state = %+v, want %+v", got, vis.state)
		}
	}
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.Logf("Close: %v", err)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s := server.New(server.Config{Capture: &fakeCapture{}, Visual: &fakeVisual{}, Metrics: newMetrics(t)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/session")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
