package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/config"
)

// commandContext carries global flags and the lazily loaded config.
type commandContext struct {
	configPath       string
	scorer           string
	logLevel         string
	threshold        float64
	minSpeechFrames  int
	minSilenceFrames int

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "vadctl",
		Short:         "Streaming voice activity detection tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig(cmd)
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&ctx.configPath, "config", "c", "", "Configuration file path")
	flags.StringVar(&ctx.scorer, "scorer", "", "Scorer backend: grpc, energy or webrtc")
	flags.StringVar(&ctx.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.Float64Var(&ctx.threshold, "threshold", 0, "Speech probability threshold")
	flags.IntVar(&ctx.minSpeechFrames, "min-speech-frames", 0, "Consecutive speech frames to start a segment")
	flags.IntVar(&ctx.minSilenceFrames, "min-silence-frames", 0, "Consecutive silence frames to end a segment")

	rootCmd.AddCommand(newDetectCommand(ctx))
	rootCmd.AddCommand(newListenCommand(ctx))
	rootCmd.AddCommand(newModelCommand(ctx))

	return rootCmd
}

// ensureConfig loads the config once and applies flag overrides.
func (c *commandContext) ensureConfig(cmd *cobra.Command) (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("scorer") {
		cfg.Scorer = c.scorer
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}
	if flags.Changed("threshold") {
		cfg.VADThreshold = c.threshold
	}
	if flags.Changed("min-speech-frames") {
		cfg.MinSpeechFrames = c.minSpeechFrames
	}
	if flags.Changed("min-silence-frames") {
		cfg.MinSilenceFrames = c.minSilenceFrames
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.Level()})
	slog.SetDefault(slog.New(handler))

	c.cfg = cfg
	return cfg, nil
}
