package scorer

import (
	"context"
	"testing"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

func TestFactoryEnergy(t *testing.T) {
	f, err := Local{Kind: KindEnergy, EnergyFloorDB: -60, EnergyCeilDB: -20}.Factory()
	if err != nil {
		t.Fatalf("Factory() = %v", err)
	}
	a, _ := f(16000)
	b, _ := f(16000)
	if a == b {
		t.Error("factory should build a fresh scorer per call")
	}
	p, err := a.Score(context.Background(), vad.Frame{Samples: make([]float32, 512)})
	if err != nil || p != 0 {
		t.Errorf("Score(silence) = %v, %v", p, err)
	}
}

func TestFactoryRejects(t *testing.T) {
	if _, err := (Local{Kind: KindGRPC}).Factory(); err == nil {
		t.Error("grpc is not a local scorer")
	}
	if _, err := (Local{Kind: KindEnergy, EnergyFloorDB: 0, EnergyCeilDB: -10}).Factory(); err == nil {
		t.Error("expected error for inverted energy range")
	}
}

func TestOpenLocalBackend(t *testing.T) {
	b, err := Open(Local{Kind: KindEnergy, EnergyFloorDB: -60, EnergyCeilDB: -20}, Remote{})
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	defer b.Close()

	if b.Kind() != KindEnergy || b.Client() != nil {
		t.Errorf("backend = %s/%v, want local energy", b.Kind(), b.Client())
	}
	if err := b.Health(context.Background()); err != nil {
		t.Errorf("Health() = %v", err)
	}
	sc, err := b.Scorer(context.Background(), "s1", 16000)
	if err != nil || sc == nil {
		t.Errorf("Scorer() = %v, %v", sc, err)
	}
}

func TestOpenRemoteBackendUnreachable(t *testing.T) {
	b, err := Open(Local{Kind: KindGRPC}, Remote{Addr: "127.0.0.1:1"})
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := b.Scorer(ctx, "s1", 16000); err == nil {
		t.Error("expected unreachable inference server to fail")
	}
}
