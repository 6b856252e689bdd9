package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/aggregation/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the session scheduler",
	Long: `Serves the session API and ticks every open session on a schedule so
stale codes are evicted and checks fire when no frames arrive.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	deps, err := initDeps(cfg, cfg.Scan)
	if err != nil {
		return err
	}
	defer deps.Close()

	restored, err := deps.sessions.Restore(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to restore sessions")
	}
	log.Info().Int("sessions", restored).Msg("Sessions restored")

	server := api.NewServer(cfg.Server, deps.db, deps.sessions)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("Shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Scheduler.TickInterval),
			gocron.NewTask(func() {
				for _, outcome := range deps.sessions.Tick(ctx) {
					log.Debug().
						Str("session_id", outcome.SessionID).
						Str("trigger", string(outcome.Trigger)).
						Bool("success", outcome.Result.Success).
						Msg("Scheduled check ran")
				}
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}

		log.Info().Dur("interval", cfg.Scheduler.TickInterval).Msg("Starting session scheduler")
		scheduler.Start()

		<-ctx.Done()
		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}
