package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/telhawk-intake/internal/pipeline"
	"github.com/telhawk-systems/telhawk-intake/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the intake service",
	Long: `Starts the periodic drop-directory scanner and the admin HTTP
server (health, metrics, manual ingestion trigger).`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	sched := pipeline.NewScheduler(a.pipeline, a.cfg.Ingestion.PollInterval, a.log)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      server.NewRouter(a.pipeline, a.log),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		a.log.Info("intake service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.WriteTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	a.log.Info("stopped gracefully")
	return nil
}
