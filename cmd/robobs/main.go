package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/robobs/internal/config"
	"github.com/friendsincode/robobs/internal/db"
	"github.com/friendsincode/robobs/internal/logbuffer"
	"github.com/friendsincode/robobs/internal/logging"
	"github.com/friendsincode/robobs/internal/server"
	"github.com/friendsincode/robobs/internal/telemetry"
	"github.com/friendsincode/robobs/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "robobs",
	Short:   "robobs - robotic observation supervisor",
	Long:    "robobs decides, night after night, which observing program the telescope runs next and hands it to the instrument sequencer.",
	Version: version.String(),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the controller and its control API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	// keep recent lines for GET /api/v1/debug/log
	logBuf := logbuffer.New(logbuffer.DefaultCapacity)
	logger = logging.Setup(cfg, logbuffer.NewWriter(logBuf, nil))

	logger.Info().Str("version", version.String()).Msg("robobs starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "robobs",
		ServiceVersion: version.Version,
		InstanceID:     cfg.InstanceID,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	srv, err := server.New(cfg, logBuf, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listeners := []*http.Server{srv.HTTPServer()}
	if m := srv.MetricsServer(); m != nil {
		listeners = append(listeners, m)
	}
	serveErr := make(chan error, len(listeners))
	for _, l := range listeners {
		go func(l *http.Server) {
			logger.Info().Str("addr", l.Addr).Msg("listening")
			if err := l.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("serve %s: %w", l.Addr, err)
			}
		}(l)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("signal received, shutting down")
	case runErr = <-serveErr:
		logger.Error().Err(runErr).Msg("listener failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, l := range listeners {
		if err := l.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("addr", l.Addr).Msg("graceful shutdown failed")
		}
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("robobs stopped")
	return runErr
}

// initDatabase connects and migrates the program store for one-shot commands.
func initDatabase() (*gorm.DB, error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		_ = db.Close(database)
		return nil, err
	}
	return database, nil
}
