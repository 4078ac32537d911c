package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/CanvasCamera/internal/app"
	"github.com/bryanchriswhite/CanvasCamera/internal/camera"
	"github.com/bryanchriswhite/CanvasCamera/internal/config"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
)

var serveAutostart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the CanvasCamera server",
	Long: `Start the CanvasCamera HTTP server.

The server exposes the capture commands as a REST API and over a WebSocket,
streams the live preview as MJPEG and serves a small viewer page.`,
	Example: `  # Start server on default port (8080)
  canvascam serve

  # Start on a custom port and begin streaming immediately
  canvascam serve --port 9090 --start

  # Use real cameras
  canvascam serve --backend v4l2

  # Start with debug logging
  canvascam serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveAutostart, "start", false, "start the capture session on launch")
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel, viper.GetBool("pretty"))
	log := logger.WithComponent("serve")

	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("backend", cfg.Capture.Backend).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize camera service: %w", err)
	}
	defer a.Close()

	if err := a.Start(); err != nil {
		return fmt.Errorf("failed to start outputs: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configMgr.Watch(func(next *config.Config) {
		applyOverrides(next)
		if err := a.ApplyConfig(ctx, next); err != nil {
			log.Warn().Err(err).Msg("Failed to apply reloaded configuration")
		}
	})

	if serveAutostart {
		if err := a.Session.Start(ctx); err != nil {
			log.Error().Err(err).Str("code", camera.Code(err)).Msg("Failed to start capture session")
		}
	}

	server := a.Server(configMgr)
	errc := make(chan error, 1)
	go func() {
		errc <- server.Start(cfg.ServerPort)
	}()

	log.Info().
		Int("port", cfg.ServerPort).
		Msgf("CanvasCamera is running: viewer http://localhost:%d, API http://localhost:%d/api", cfg.ServerPort, cfg.ServerPort)

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down gracefully...")

	// Stop the session first so streaming handlers see their outputs close
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Session.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to stop capture session")
	}
	if err := a.Outputs.Stop(); err != nil {
		log.Warn().Err(err).Msg("Failed to stop outputs")
	}
	return server.Shutdown(shutdownCtx)
}
