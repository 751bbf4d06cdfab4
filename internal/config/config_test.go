package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

var envKeys = []string{
	"HTTP_ADDR", "INFERENCE_ADDR", "VAD_SCORER", "LOG_LEVEL", "SAMPLE_RATE", "BLOCK_SIZE",
	"VAD_THRESHOLD", "MIN_SPEECH_FRAMES", "MIN_SILENCE_FRAMES", "QUEUE_SIZE", "BACKPRESSURE",
	"STOP_TIMEOUT", "MALFORMED_POLICY", "MAX_CONNS_PER_IP", "WEBRTC_MODE", "ENERGY_FLOOR_DB",
	"ENERGY_CEIL_DB", "SCORE_TIMEOUT", "BREAKER_THRESHOLD", "BREAKER_RESET_TIMEOUT",
}

// clearEnv unsets every config variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Chdir(t.TempDir())
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.HTTPAddr != ":8000" || cfg.InferenceAddr != "localhost:50051" || cfg.Scorer != "grpc" {
		t.Errorf("addresses = %q %q %q", cfg.HTTPAddr, cfg.InferenceAddr, cfg.Scorer)
	}
	if got := cfg.VAD(); got != vad.DefaultConfig() {
		t.Errorf("VAD() = %+v, want %+v", got, vad.DefaultConfig())
	}
	if cfg.StopTimeout != 2*time.Second || cfg.QueueSize != 256 || cfg.MalformedPolicy != MalformedDrop {
		t.Errorf("stream defaults = %s %d %s", cfg.StopTimeout, cfg.QueueSize, cfg.MalformedPolicy)
	}
	if cfg.Level() != slog.LevelInfo {
		t.Errorf("Level() = %v", cfg.Level())
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "vad.yaml", `
scorer: energy
log_level: debug
vad_threshold: 0.6
min_speech_frames: 2
stop_timeout: 500ms
backpressure: reject
`)
	t.Setenv("MIN_SPEECH_FRAMES", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Scorer != "energy" || cfg.VADThreshold != 0.6 || cfg.StopTimeout != 500*time.Millisecond {
		t.Errorf("yaml not applied: %+v", cfg)
	}
	if cfg.MinSpeechFrames != 5 {
		t.Errorf("MinSpeechFrames = %d, env should win over yaml", cfg.MinSpeechFrames)
	}
	if cfg.MinSilenceFrames != vad.DefaultMinSilenceFrames {
		t.Errorf("unset yaml key should keep default, got %d", cfg.MinSilenceFrames)
	}
	if cfg.Level() != slog.LevelDebug {
		t.Errorf("Level() = %v", cfg.Level())
	}
	if len(cfg.SessionOptions()) != 3 {
		t.Error("SessionOptions() should carry queue, backpressure and stop timeout")
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	if err := os.WriteFile(EnvFile, []byte("VAD_THRESHOLD=0.8\nVAD_SCORER=webrtc\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("VAD_THRESHOLD")
		os.Unsetenv("VAD_SCORER")
	})

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.VADThreshold != 0.8 || cfg.Scorer != "webrtc" {
		t.Errorf(".env not applied: threshold=%v scorer=%q", cfg.VADThreshold, cfg.Scorer)
	}
}

func TestLoadRejectsUnknownYAMLKey(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("vad_treshold: 0.4\n"))
	if err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestLoadFromReaderEmpty(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader(empty) = %v", err)
	}
	if cfg.BlockSize != vad.DefaultBlockSize {
		t.Errorf("BlockSize = %d", cfg.BlockSize)
	}
}

func TestInvalidEnvNumberKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("QUEUE_SIZE", "lots")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.QueueSize != vad.DefaultQueueSize {
		t.Errorf("QueueSize = %d", cfg.QueueSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold", func(c *Config) { c.VADThreshold = 1.5 }, "threshold"},
		{"scorer", func(c *Config) { c.Scorer = "silero" }, "scorer"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"backpressure", func(c *Config) { c.Backpressure = "drop" }, "backpressure"},
		{"malformed", func(c *Config) { c.MalformedPolicy = "ignore" }, "malformed_policy"},
		{"stop timeout", func(c *Config) { c.StopTimeout = 0 }, "stop_timeout"},
		{"webrtc mode", func(c *Config) { c.Scorer = "webrtc"; c.WebRTCMode = 7 }, "webrtc_mode"},
		{"energy range", func(c *Config) { c.Scorer = "energy"; c.EnergyFloorDB = -10 }, "energy_floor_db"},
		{"inference addr", func(c *Config) { c.InferenceAddr = "" }, "inference_addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.QueueSize = 0
	cfg.MaxConnsPerIP = -1
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "queue_size") || !strings.Contains(err.Error(), "max_conns_per_ip") {
		t.Errorf("Validate() = %v, want both problems", err)
	}
}

func TestBreakerAndLocal(t *testing.T) {
	cfg := Default()
	cfg.BreakerThreshold = 9
	if b := cfg.Breaker(); b.Threshold != 9 || b.Name != "scorer" {
		t.Errorf("Breaker() = %+v", b)
	}
	cfg.Scorer = "energy"
	if l := cfg.Local(); l.Kind != "energy" || l.EnergyFloorDB != cfg.EnergyFloorDB {
		t.Errorf("Local() = %+v", l)
	}
}
