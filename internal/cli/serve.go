package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/uhmm/internal/logger"
	"github.com/ppiankov/uhmm/internal/server"
	"github.com/ppiankov/uhmm/internal/source"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fact-check server",
	Long: `Serve starts the live fact-check pipeline:
- Accept viewers on the WebSocket endpoint (/ws)
- Consume transcript fragments from NATS when nats.enabled is set
- Accept manual transcripts on POST /test/transcript
- Expose Prometheus metrics on /metrics

Example:
  uhmm serve
  uhmm serve --addr :9000 --nats nats://127.0.0.1:4222
  UHMM_SEARCH_PROVIDER=brave uhmm serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default :8765)")
	serveCmd.Flags().String("nats", "", "NATS url; enables the NATS transcript source")

	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	if url, _ := cmd.Flags().GetString("nats"); url != "" {
		cfg.NATS.Enabled = true
		cfg.NATS.URL = url
	}
	log := logger.Named("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	var bus *source.NATS
	if cfg.NATS.Enabled {
		bus, err = source.ConnectNATS(cfg.NATS)
		if err != nil {
			return err
		}
	}

	srv := server.New(cfg.Server, server.Deps{
		Broadcaster: a.broadcaster,
		Ingester:    a.pipeline,
		Cache:       a.verdicts,
		Metrics:     a.telemetry.Handler,
		Stats:       func() any { return a.pipeline.Stats() },
		Ready: func() error {
			if bus != nil && !bus.Healthy() {
				return errors.New("nats disconnected")
			}
			return nil
		},
	})

	a.pipeline.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if bus != nil {
		g.Go(func() error { return bus.Run(gctx, a.pipeline) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), a.shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
