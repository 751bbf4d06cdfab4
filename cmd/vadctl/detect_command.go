package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/audiofile"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/observe"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/orchestrator"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

func newDetectCommand(ctx *commandContext) *cobra.Command {
	var realtime, quiet bool

	cmd := &cobra.Command{
		Use:   "detect <wav>",
		Short: "Print frame-level VAD decisions and speech segments for a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd)
			if err != nil {
				return err
			}
			vcfg := cfg.VAD()

			clip, err := audiofile.Load(args[0], vcfg.SampleRate)
			if err != nil {
				return err
			}

			// Trailing silence lets a segment still open at the end of the file close.
			srcOpts := []audiofile.SourceOption{audiofile.WithTrailingSilence(vcfg.MinSilenceFrames)}
			if realtime {
				srcOpts = append(srcOpts, audiofile.WithRealtime(time.Duration(vcfg.BlockDuration()*float64(time.Second))))
			}
			src := audiofile.NewSource(args[0], clip.Samples, vcfg.BlockSize, srcOpts...)

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

			out := cmd.OutOrStdout()
			sessOpts := append(cfg.SessionOptions(), vad.WithSessionID(id), vad.WithBackpressure(vad.Block))
			p := orchestrator.New(src, scorer, vcfg,
				orchestrator.WithHandler(newEventPrinter(out, vcfg, !quiet)),
				orchestrator.WithSessionOptions(sessOpts...),
			)
			res, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "\n=== Detected Segments (%s, %.2fs, %d frames) ===\n", args[0], clip.Duration(), res.Frames)
			if len(res.Segments) == 0 {
				fmt.Fprintln(out, "no speech detected")
				return nil
			}
			fmt.Fprintln(out, renderSegments(res.Segments, isTerminal(out)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&realtime, "realtime", false, "Pace frames at real time")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print speech boundaries and segments")
	return cmd
}
