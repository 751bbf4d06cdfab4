package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/audio"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/audiofile"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/observe"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/orchestrator"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

// captureBufferBlocks is the microphone output buffer, about two seconds at
// the default block size.
const captureBufferBlocks = 64

func newListenCommand(ctx *commandContext) *cobra.Command {
	var (
		frames   bool
		saveDir  string
		excluded []string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stream the default microphone through VAD until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd)
			if err != nil {
				return err
			}
			vcfg := cfg.VAD()

			backend, err := cfg.Backend(observe.Noop())
			if err != nil {
				return err
			}
			defer func() { _ = backend.Close() }()

			id := uuid.NewString()
			scorer, err := backend.Scorer(cmd.Context(), id, vcfg.SampleRate)
			if err != nil {
				return fmt.Errorf("scorer %s unavailable: %w", backend.Kind(), err)
			}

			capturer, err := audio.NewCapturer(vcfg.SampleRate, vcfg.BlockSize, captureBufferBlocks, excluded)
			if err != nil {
				return fmt.Errorf("open audio: %w", err)
			}

			out := cmd.OutOrStdout()
			opts := []orchestrator.Option{
				orchestrator.WithHandler(newEventPrinter(out, vcfg, frames)),
				orchestrator.WithSessionOptions(append(cfg.SessionOptions(), vad.WithSessionID(id))...),
			}
			if saveDir != "" {
				if err := os.MkdirAll(saveDir, 0o755); err != nil {
					return err
				}
				opts = append(opts, orchestrator.WithHandler(
					orchestrator.NewUtteranceCollector(vcfg, utteranceWriter(saveDir, vcfg.SampleRate))))
			}

			fmt.Fprintln(cmd.ErrOrStderr(), "listening, press Ctrl-C to stop")
			res, err := orchestrator.New(capturer, scorer, vcfg, opts...).Run(cmd.Context())
			if err != nil {
				return err
			}
			if dropped := capturer.Dropped(); dropped > 0 {
				slog.Warn("audio blocks dropped while the scorer was busy", "dropped", dropped)
			}

			fmt.Fprintf(out, "\n=== Detected Segments (%d frames) ===\n", res.Frames)
			if len(res.Segments) == 0 {
				fmt.Fprintln(out, "no speech detected")
				return nil
			}
			fmt.Fprintln(out, renderSegments(res.Segments, isTerminal(out)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&frames, "frames", false, "Print every frame, not only speech boundaries")
	cmd.Flags().StringVar(&saveDir, "save-dir", "", "Write each detected utterance to this directory as WAV")
	cmd.Flags().StringSliceVar(&excluded, "exclude-device", nil, "Substrings of input device names to skip")
	return cmd
}

// utteranceWriter saves each utterance as <dir>/utt-<start_ms>.wav.
func utteranceWriter(dir string, sampleRate int) orchestrator.SpeechHandler {
	return func(ctx context.Context, samples []float32, seg vad.Segment) {
		path := filepath.Join(dir, fmt.Sprintf("utt-%08d.wav", int64(seg.StartS*1000)))
		if err := audiofile.Save(path, samples, sampleRate); err != nil {
			slog.ErrorContext(ctx, "failed to save utterance", "path", path, "error", err)
			return
		}
		slog.Info("saved utterance", "path", path, "duration", seg.Duration())
	}
}
