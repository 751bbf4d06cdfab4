package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/grpcclient"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/scorer"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/trace"
)

func newModelCommand(ctx *commandContext) *cobra.Command {
	var (
		addr    string
		idle    time.Duration
		evictAt time.Duration
	)

	cmd := &cobra.Command{
		Use:   "model",
		Short: "Serve a local scorer as the gRPC VAD inference service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Scorer == scorer.KindGRPC {
				return errors.New("model needs a local scorer: pass --scorer energy or --scorer webrtc")
			}
			factory, err := cfg.Local().Factory()
			if err != nil {
				return err
			}

			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}

			model := grpcclient.NewModelServer(factory)
			srv := grpc.NewServer(grpc.UnaryInterceptor(trace.UnaryServerInterceptor()))
			grpcclient.RegisterVADServer(srv, model)

			go func() {
				ticker := time.NewTicker(evictAt)
				defer ticker.Stop()
				for {
					select {
					case <-cmd.Context().Done():
						srv.GracefulStop()
						return
					case <-ticker.C:
						model.Evict(idle)
					}
				}
			}()

			slog.Info("vad model server starting", "addr", lis.Addr().String(), "scorer", cfg.Scorer)
			if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			slog.Info("vad model server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":50051", "gRPC listen address")
	cmd.Flags().DurationVar(&idle, "session-idle", grpcclient.DefaultSessionIdle, "Drop model state for sessions idle this long")
	cmd.Flags().DurationVar(&evictAt, "evict-interval", time.Minute, "How often to look for idle sessions")
	return cmd
}
