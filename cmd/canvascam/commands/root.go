package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/CanvasCamera/internal/config"
	"github.com/bryanchriswhite/CanvasCamera/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "canvascam",
		Short: "CanvasCamera - camera capture service for canvas-based clients",
		Long: `CanvasCamera drives a front or back camera and delivers upright JPEG
frames and still images to a drawing surface over HTTP and WebSocket.

Features:
  • Live preview as MJPEG or pushed WebSocket frames
  • Still capture with flash (off, on, auto) and thumbnails
  • Front/back switching without restarting the stream
  • Frames rotated for the device orientation
  • Synthetic or V4L2 camera backends
  • Persistent configuration`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := viper.GetString("log_level")
			if level == "" {
				level = "info"
			}
			logger.Init(level, viper.GetBool("pretty"))
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/canvascam/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("backend", "", "camera backend (synthetic or v4l2)")
	rootCmd.PersistentFlags().Bool("pretty", true, "human-readable console logs")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("capture.backend", rootCmd.PersistentFlags().Lookup("backend"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig opens the config manager and returns it together with a copy
// of the config with command-line overrides applied. Overrides are not
// saved.
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()
	applyOverrides(cfg)
	return configMgr, cfg, nil
}

func applyOverrides(cfg *config.Config) {
	if port := viper.GetInt("server_port"); port > 0 {
		cfg.ServerPort = port
	}
	if level := viper.GetString("log_level"); level != "" {
		cfg.LogLevel = level
	}
	if backend := viper.GetString("capture.backend"); backend != "" {
		cfg.Capture.Backend = backend
	}
}
