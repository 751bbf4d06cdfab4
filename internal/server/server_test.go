package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/bridge"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/config"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.SampleRate = 100
	cfg.BlockSize = 10
	cfg.MinSpeechFrames = 2
	cfg.MinSilenceFrames = 2
	cfg.MaxConnsPerIP = 1
	return cfg
}

func constFactory(p float32) bridge.ScorerFactory {
	return func(context.Context, string, int) (vad.Scorer, error) {
		return vad.ScorerFunc(func(context.Context, vad.Frame) (float32, error) { return p, nil }), nil
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Test OPTIONS request
	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, OPTIONS" {
		t.Errorf("CORS methods = %q, want %q", v, "GET, OPTIONS")
	}

	// Test regular request
	req = httptest.NewRequest("GET", "/test", http.NoBody)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		check      HealthFunc
		wantCode   int
		wantStatus string
	}{
		{"no probe", nil, http.StatusOK, "ok"},
		{"healthy", func(context.Context) error { return nil }, http.StatusOK, "ok"},
		{"unavailable", func(context.Context) error { return errors.New("breaker open") }, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(testConfig(), constFactory(0), WithHealthCheck(tt.check))
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", http.NoBody))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.wantStatus || resp.Scorer != "grpc" {
				t.Errorf("response = %+v", resp)
			}
			if rec.Header().Get("X-Trace-ID") == "" {
				t.Error("trace header missing")
			}
		})
	}
}

func TestScrapeHandler(t *testing.T) {
	scrape := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	s := New(testConfig(), constFactory(0), WithScrapeHandler(scrape))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", http.NoBody))
	if rec.Body.String() != "# metrics" {
		t.Errorf("/metrics body = %q", rec.Body.String())
	}
}

func TestConnLimiter(t *testing.T) {
	l := newConnLimiter(2)
	if !l.acquire("10.0.0.1") || !l.acquire("10.0.0.1") {
		t.Fatal("first two acquires should succeed")
	}
	if l.acquire("10.0.0.1") {
		t.Error("third acquire should fail")
	}
	if !l.acquire("10.0.0.2") {
		t.Error("other IPs are limited separately")
	}
	l.release("10.0.0.1")
	if got := l.active("10.0.0.1"); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}
	if !l.acquire("10.0.0.1") {
		t.Error("acquire after release should succeed")
	}

	unlimited := newConnLimiter(0)
	for range 10 {
		if !unlimited.acquire("x") {
			t.Fatal("limit 0 should not reject")
		}
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", http.NoBody)
	r.RemoteAddr = "192.0.2.7:5123"
	if got := clientIP(r); got != "192.0.2.7" {
		t.Errorf("clientIP = %q", got)
	}
	r.RemoteAddr = "pipe"
	if got := clientIP(r); got != "pipe" {
		t.Errorf("clientIP = %q", got)
	}
}

func TestStreamRegistersSessionAndLimitsIP(t *testing.T) {
	s := New(testConfig(), constFactory(0.9))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + StreamPath

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	if err := conn.Write(ctx, websocket.MessageBinary, vad.Float32ToBytes(make([]float32, 10))); err != nil {
		t.Fatal(err)
	}
	var ev bridge.EventMessage
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "frame" {
		t.Errorf("event type = %q, want frame", ev.Type)
	}

	sessions := s.Sessions()
	if len(sessions) != 1 || sessions[0].Submitted != 1 {
		t.Errorf("Sessions() = %+v, want one session with one frame", sessions)
	}

	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("second stream from the same IP should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second dial response = %v, want 429", resp)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
	deadline := time.Now().Add(2 * time.Second)
	for len(s.Sessions()) != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(s.Sessions()); n != 0 {
		t.Errorf("sessions after close = %d, want 0", n)
	}
}
