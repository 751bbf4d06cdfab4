package audiofile

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeWAV(t *testing.T, rate, channels int, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadKeepsFirstChannel(t *testing.T) {
	// Interleaved stereo: left carries the signal, right is inverted.
	data := []int{16384, -16384, -16384, 16384, 0, 32767, 8192, 0}
	path := writeWAV(t, 16000, 2, data)

	a, err := Load(path, 16000)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if a.Channels != 2 || a.SampleRate != 16000 {
		t.Errorf("format = %d ch @ %d Hz, want 2 @ 16000", a.Channels, a.SampleRate)
	}
	want := []float32{0.5, -0.5, 0, 0.25}
	if len(a.Samples) != len(want) {
		t.Fatalf("len(Samples) = %d, want %d", len(a.Samples), len(want))
	}
	for i := range want {
		if a.Samples[i] != want[i] {
			t.Errorf("Samples[%d] = %v, want %v", i, a.Samples[i], want[i])
		}
	}
}

func TestLoadResamples(t *testing.T) {
	const inRate, outRate = 8000, 16000
	data := make([]int, inRate)
	for i := range data {
		data[i] = int(8000 * math.Sin(2*math.Pi*440*float64(i)/inRate))
	}
	path := writeWAV(t, inRate, 1, data)

	a, err := Load(path, outRate)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if a.SampleRate != outRate {
		t.Errorf("SampleRate = %d, want %d", a.SampleRate, outRate)
	}
	if len(a.Samples) != outRate {
		t.Errorf("len(Samples) = %d, want %d", len(a.Samples), outRate)
	}
	if d := a.Duration(); d != 1 {
		t.Errorf("Duration() = %v, want 1", d)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("definitely not riff data")))
	if !errors.Is(err, ErrInvalidWAV) {
		t.Errorf("Decode() error = %v, want ErrInvalidWAV", err)
	}
}

func TestResample(t *testing.T) {
	t.Run("same rate copies", func(t *testing.T) {
		in := []float32{0.1, 0.2}
		out, err := Resample(in, 16000, 16000)
		if err != nil {
			t.Fatal(err)
		}
		out[0] = 9
		if in[0] != 0.1 {
			t.Error("Resample aliased its input")
		}
	})
	t.Run("invalid rate", func(t *testing.T) {
		if _, err := Resample([]float32{1}, 0, 16000); err == nil {
			t.Error("expected error for zero rate")
		}
	})
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		v, depth int
		want     float32
	}{
		{16384, 16, 0.5},
		{-32768, 16, -1},
		{128, 8, 0},
		{0, 8, -1},
		{1 << 22, 24, 0.5},
	}
	for _, tt := range tests {
		if got := normalize(tt.v, tt.depth); got != tt.want {
			t.Errorf("normalize(%d, %d) = %v, want %v", tt.v, tt.depth, got, tt.want)
		}
	}
}

func TestSourceEmitsBlocksAndSilence(t *testing.T) {
	samples := []float32{1, 1, 1, 1, 1}
	src := NewSource("clip", samples, 2, WithTrailingSilence(2))
	if src.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", src.Len())
	}
	if err := src.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer src.Stop()

	var got [][]float32
	for b := range src.Output() {
		if b.Source != "clip" {
			t.Errorf("Source = %q, want clip", b.Source)
		}
		got = append(got, b.Samples)
	}
	want := [][]float32{{1, 1}, {1, 1}, {1, 0}, {0, 0}, {0, 0}}
	if len(got) != len(want) {
		t.Fatalf("got %d blocks, want %d", len(got), len(want))
	}
	for i := range want {
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Errorf("block %d = %v, want %v", i, got[i], want[i])
				break
			}
		}
	}
}

func TestSourceStopEndsEarly(t *testing.T) {
	src := NewSource("clip", make([]float32, 100), 10)
	_ = src.Start(context.Background())
	<-src.Output()
	src.Stop()
	for range src.Output() {
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "utt.wav")
	in := []float32{0, 0.5, -0.5, 1, -1, 2}
	if err := Save(path, in, 16000); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	a, err := Load(path, 16000)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(a.Samples) != len(in) {
		t.Fatalf("len = %d, want %d", len(a.Samples), len(in))
	}
	for i, want := range []float32{0, 0.5, -0.5, 1, -1, 1} {
		if d := math.Abs(float64(a.Samples[i] - want)); d > 1e-4 {
			t.Errorf("Samples[%d] = %v, want %v", i, a.Samples[i], want)
		}
	}
}
