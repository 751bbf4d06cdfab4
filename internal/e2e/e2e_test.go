// Package tests provides end-to-end tests for the streaming stack: a gRPC
// model server, the VAD HTTP server and a WebSocket client, all in process.
package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"google.golang.org/grpc"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/bridge"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/config"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/grpcclient"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/observe"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/scorer"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/server"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/trace"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

const testTimeout = 10 * time.Second

var (
	model      *grpcclient.ModelServer
	grpcServer *grpc.Server
	backend    *scorer.Backend
	httpServer *httptest.Server
)

// TestMain starts the model server and the VAD server once for all tests.
func TestMain(m *testing.M) {
	if err := setup(); err != nil {
		fmt.Printf("Failed to start test stack: %v\n", err)
		teardown()
		os.Exit(1)
	}

	code := m.Run()

	teardown()
	os.Exit(code)
}

func setup() error {
	ctx := context.Background()
	if _, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "vadstream-e2e"}); err != nil {
		return err
	}

	factory, err := scorer.Local{Kind: scorer.KindEnergy, EnergyFloorDB: -60, EnergyCeilDB: -20}.Factory()
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	model = grpcclient.NewModelServer(factory)
	grpcServer = grpc.NewServer(grpc.UnaryInterceptor(trace.UnaryServerInterceptor()))
	grpcclient.RegisterVADServer(grpcServer, model)
	go func() { _ = grpcServer.Serve(lis) }()

	cfg := config.Default()
	cfg.Scorer = scorer.KindGRPC
	cfg.InferenceAddr = lis.Addr().String()
	cfg.MaxConnsPerIP = 0
	if err := cfg.Validate(); err != nil {
		return err
	}

	metrics := observe.DefaultMetrics()
	backend, err = cfg.Backend(metrics)
	if err != nil {
		return err
	}
	srv := server.New(cfg, backend.Scorer,
		server.WithMetrics(metrics),
		server.WithHealthCheck(backend.Health),
		server.WithScrapeHandler(observe.Handler()),
	)
	httpServer = httptest.NewServer(srv.Handler())
	return nil
}

func teardown() {
	if httpServer != nil {
		httpServer.Close()
	}
	if backend != nil {
		_ = backend.Close()
	}
	if grpcServer != nil {
		grpcServer.Stop()
	}
}

// tone returns one default-size block of a 440 Hz tone at amplitude amp,
// starting at sample offset.
func tone(amp float64, offset int) []float32 {
	out := make([]float32, vad.DefaultBlockSize)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*440*float64(offset+i)/vad.DefaultSampleRate))
	}
	return out
}

func dialStream(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + server.StreamPath
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

// streamUtterance sends silence, speech, then silence and collects events
// until speech_end.
func streamUtterance(t *testing.T, ctx context.Context, conn *websocket.Conn, speechFrames int) []bridge.EventMessage {
	t.Helper()
	var plan [][]float32
	for range 4 {
		plan = append(plan, make([]float32, vad.DefaultBlockSize))
	}
	for i := range speechFrames {
		plan = append(plan, tone(0.5, i*vad.DefaultBlockSize))
	}
	for range vad.DefaultMinSilenceFrames + 2 {
		plan = append(plan, make([]float32, vad.DefaultBlockSize))
	}

	go func() {
		for _, b := range plan {
			if err := conn.Write(ctx, websocket.MessageBinary, vad.Float32ToBytes(b)); err != nil {
				return
			}
		}
	}()

	var events []bridge.EventMessage
	for {
		var ev bridge.EventMessage
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read after %d events: %v", len(events), err)
		}
		events = append(events, ev)
		if ev.Type == "speech_end" {
			return events
		}
	}
}

func TestStreamThroughRemoteModel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	conn := dialStream(t, ctx)

	events := streamUtterance(t, ctx, conn, 10)

	var start, end *bridge.EventMessage
	frames := 0
	for i := range events {
		switch events[i].Type {
		case "frame":
			frames++
		case "speech_start":
			start = &events[i]
		case "speech_end":
			end = &events[i]
		}
	}
	if start == nil || end == nil {
		t.Fatalf("missing boundaries in %+v", events)
	}
	blockDur := float64(vad.DefaultBlockSize) / vad.DefaultSampleRate
	wantStart := float64(4+vad.DefaultMinSpeechFrames-1) * blockDur
	wantEnd := float64(4+10+vad.DefaultMinSilenceFrames-1) * blockDur
	if math.Abs(start.TS-wantStart) > 1e-9 || math.Abs(end.TS-wantEnd) > 1e-9 {
		t.Errorf("segment = [%v, %v], want [%v, %v]", start.TS, end.TS, wantStart, wantEnd)
	}
	if frames != 4+10+vad.DefaultMinSilenceFrames {
		t.Errorf("frame events before speech_end = %d, want %d", frames, 4+10+vad.DefaultMinSilenceFrames)
	}
	if model.Sessions() == 0 {
		t.Error("model server saw no session")
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func TestConcurrentStreamsAreIndependent(t *testing.T) {
	blockDur := float64(vad.DefaultBlockSize) / vad.DefaultSampleRate
	t.Run("streams", func(t *testing.T) {
		for i := range 3 {
			t.Run(fmt.Sprintf("stream-%d", i), func(t *testing.T) {
				t.Parallel()
				ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
				defer cancel()
				conn := dialStream(t, ctx)

				speech := 5 + 2*i
				evs := streamUtterance(t, ctx, conn, speech)
				end := evs[len(evs)-1]
				want := float64(4+speech+vad.DefaultMinSilenceFrames-1) * blockDur
				if math.Abs(end.TS-want) > 1e-9 {
					t.Errorf("speech_end = %v, want %v", end.TS, want)
				}
				_ = conn.Close(websocket.StatusNormalClosure, "")
			})
		}
	})
}

func TestHealthz(t *testing.T) {
	resp, err := http.Get(httpServer.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var health server.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.Scorer != scorer.KindGRPC {
		t.Errorf("health = %+v", health)
	}
}

func TestMetricsExposed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	conn := dialStream(t, ctx)
	streamUtterance(t, ctx, conn, 4)
	_ = conn.Close(websocket.StatusNormalClosure, "")

	resp, err := http.Get(httpServer.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"vadstream_frames_processed", "vadstream_events", "vadstream_score_duration"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("/metrics missing %s", name)
		}
	}
}
