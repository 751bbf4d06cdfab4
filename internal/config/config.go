// Package config loads service settings from defaults, an optional .env
// file, an optional YAML file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/bridge"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/grpcclient"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/observe"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/resilience"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/scorer"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/scorer/energy"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

// EnvFile is read from the working directory when present.
const EnvFile = ".env"

// Malformed frame policies.
const (
	MalformedDrop   = bridge.MalformedDrop
	MalformedReject = bridge.MalformedReject
)

type Config struct {
	HTTPAddr      string `yaml:"http_addr"`
	InferenceAddr string `yaml:"inference_addr"`
	Scorer        string `yaml:"scorer"`
	LogLevel      string `yaml:"log_level"`

	SampleRate       int     `yaml:"sample_rate"`
	BlockSize        int     `yaml:"block_size"`
	VADThreshold     float64 `yaml:"vad_threshold"`
	MinSpeechFrames  int     `yaml:"min_speech_frames"`
	MinSilenceFrames int     `yaml:"min_silence_frames"`

	QueueSize       int           `yaml:"queue_size"`
	Backpressure    string        `yaml:"backpressure"`
	StopTimeout     time.Duration `yaml:"stop_timeout"`
	MalformedPolicy string        `yaml:"malformed_policy"`
	MaxConnsPerIP   int           `yaml:"max_conns_per_ip"`

	WebRTCMode    int     `yaml:"webrtc_mode"`
	EnergyFloorDB float64 `yaml:"energy_floor_db"`
	EnergyCeilDB  float64 `yaml:"energy_ceil_db"`

	ScoreTimeout        time.Duration `yaml:"score_timeout"`
	BreakerThreshold    int           `yaml:"breaker_threshold"`
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		HTTPAddr:      ":8000",
		InferenceAddr: "localhost:50051",
		Scorer:        scorer.KindGRPC,
		LogLevel:      "info",

		SampleRate:       vad.DefaultSampleRate,
		BlockSize:        vad.DefaultBlockSize,
		VADThreshold:     vad.DefaultThreshold,
		MinSpeechFrames:  vad.DefaultMinSpeechFrames,
		MinSilenceFrames: vad.DefaultMinSilenceFrames,

		QueueSize:       vad.DefaultQueueSize,
		Backpressure:    vad.Block.String(),
		StopTimeout:     vad.DefaultStopTimeout,
		MalformedPolicy: MalformedDrop,
		MaxConnsPerIP:   4,

		WebRTCMode:    2,
		EnergyFloorDB: energy.DefaultFloorDB,
		EnergyCeilDB:  energy.DefaultCeilDB,

		ScoreTimeout:        grpcclient.DefaultScoreTimeout,
		BreakerThreshold:    resilience.ScorerThreshold,
		BreakerResetTimeout: resilience.ScorerResetTimeout,
	}
}

// Load builds the configuration. path names an optional YAML file; an empty
// path skips it.
func Load(path string) (*Config, error) {
	if err := loadEnvFile(EnvFile); err != nil {
		return nil, err
	}
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeYAML(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults, without .env or
// environment overrides.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile(name string) error {
	if _, err := os.Stat(name); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(name); err != nil {
		return fmt.Errorf("config: load %s: %w", name, err)
	}
	slog.Debug("loaded environment file", "path", name)
	return nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.InferenceAddr = getEnv("INFERENCE_ADDR", c.InferenceAddr)
	c.Scorer = getEnv("VAD_SCORER", c.Scorer)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.SampleRate = getEnvInt("SAMPLE_RATE", c.SampleRate)
	c.BlockSize = getEnvInt("BLOCK_SIZE", c.BlockSize)
	c.VADThreshold = getEnvFloat("VAD_THRESHOLD", c.VADThreshold)
	c.MinSpeechFrames = getEnvInt("MIN_SPEECH_FRAMES", c.MinSpeechFrames)
	c.MinSilenceFrames = getEnvInt("MIN_SILENCE_FRAMES", c.MinSilenceFrames)

	c.QueueSize = getEnvInt("QUEUE_SIZE", c.QueueSize)
	c.Backpressure = getEnv("BACKPRESSURE", c.Backpressure)
	c.StopTimeout = getEnvDuration("STOP_TIMEOUT", c.StopTimeout)
	c.MalformedPolicy = getEnv("MALFORMED_POLICY", c.MalformedPolicy)
	c.MaxConnsPerIP = getEnvInt("MAX_CONNS_PER_IP", c.MaxConnsPerIP)

	c.WebRTCMode = getEnvInt("WEBRTC_MODE", c.WebRTCMode)
	c.EnergyFloorDB = getEnvFloat("ENERGY_FLOOR_DB", c.EnergyFloorDB)
	c.EnergyCeilDB = getEnvFloat("ENERGY_CEIL_DB", c.EnergyCeilDB)

	c.ScoreTimeout = getEnvDuration("SCORE_TIMEOUT", c.ScoreTimeout)
	c.BreakerThreshold = getEnvInt("BREAKER_THRESHOLD", c.BreakerThreshold)
	c.BreakerResetTimeout = getEnvDuration("BREAKER_RESET_TIMEOUT", c.BreakerResetTimeout)
}

// Validate checks every field and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	if err := c.VAD().Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Scorer {
	case scorer.KindGRPC:
		if c.InferenceAddr == "" {
			errs = append(errs, errors.New("inference_addr is required for the grpc scorer"))
		}
	case scorer.KindEnergy:
		if !(c.EnergyFloorDB < c.EnergyCeilDB) {
			errs = append(errs, fmt.Errorf("energy_floor_db %.1f must be below energy_ceil_db %.1f", c.EnergyFloorDB, c.EnergyCeilDB))
		}
	case scorer.KindWebRTC:
		if c.WebRTCMode < 0 || c.WebRTCMode > 3 {
			errs = append(errs, fmt.Errorf("webrtc_mode must be 0..3, got %d", c.WebRTCMode))
		}
	default:
		errs = append(errs, fmt.Errorf("scorer %q is invalid; valid values: grpc, energy, webrtc", c.Scorer))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue_size must be positive, got %d", c.QueueSize))
	}
	if _, err := vad.ParseBackpressure(c.Backpressure); err != nil {
		errs = append(errs, err)
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop_timeout must be positive, got %s", c.StopTimeout))
	}
	if c.MalformedPolicy != MalformedDrop && c.MalformedPolicy != MalformedReject {
		errs = append(errs, fmt.Errorf("malformed_policy %q is invalid; valid values: drop, reject", c.MalformedPolicy))
	}
	if c.MaxConnsPerIP < 0 {
		errs = append(errs, fmt.Errorf("max_conns_per_ip must not be negative, got %d", c.MaxConnsPerIP))
	}
	if c.ScoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("score_timeout must be positive, got %s", c.ScoreTimeout))
	}
	return errors.Join(errs...)
}

// VAD returns the classifier settings.
func (c *Config) VAD() vad.Config {
	return vad.Config{
		SampleRate:       c.SampleRate,
		BlockSize:        c.BlockSize,
		Threshold:        c.VADThreshold,
		MinSpeechFrames:  c.MinSpeechFrames,
		MinSilenceFrames: c.MinSilenceFrames,
	}
}

// SessionOptions returns the engine options derived from the config.
func (c *Config) SessionOptions() []vad.Option {
	bp, _ := vad.ParseBackpressure(c.Backpressure)
	return []vad.Option{
		vad.WithQueueSize(c.QueueSize),
		vad.WithBackpressure(bp),
		vad.WithStopTimeout(c.StopTimeout),
	}
}

// Bridge returns the per-connection settings for /vad-stream.
func (c *Config) Bridge() bridge.Config {
	return bridge.Config{VAD: c.VAD(), Malformed: c.MalformedPolicy, Session: c.SessionOptions()}
}

// Local returns the in-process scorer settings.
func (c *Config) Local() scorer.Local {
	return scorer.Local{
		Kind:          c.Scorer,
		WebRTCMode:    c.WebRTCMode,
		EnergyFloorDB: c.EnergyFloorDB,
		EnergyCeilDB:  c.EnergyCeilDB,
	}
}

// Backend opens the scorer backend selected by Scorer.
func (c *Config) Backend(m *observe.Metrics) (*scorer.Backend, error) {
	return scorer.Open(c.Local(), scorer.Remote{
		Addr: c.InferenceAddr,
		Options: []grpcclient.Option{
			grpcclient.WithMetrics(m),
			grpcclient.WithBreaker(c.Breaker()),
			grpcclient.WithScoreTimeout(c.ScoreTimeout),
		},
	})
}

// Breaker returns the remote scorer breaker settings.
func (c *Config) Breaker() resilience.Config {
	cfg := resilience.ScorerConfig()
	cfg.Threshold = c.BreakerThreshold
	cfg.ResetTimeout = c.BreakerResetTimeout
	return cfg
}

// Level returns the slog level for LogLevel.
func (c *Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", s)
	}
	return l, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		slog.Warn("ignoring invalid integer env", "key", key, "value", v)
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		slog.Warn("ignoring invalid float env", "key", key, "value", v)
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
		slog.Warn("ignoring invalid duration env", "key", key, "value", v)
	}
	return def
}
