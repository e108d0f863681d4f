package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mcpbridge-go/internal/config"
	"mcpbridge-go/internal/logs"
	"mcpbridge-go/internal/server"
)

var (
	configFile string
	dataDir    string
	listen     string
	basePort   int
	logLevel   string
	logToFile  bool
	logDir     string

	version = "v0.1.0" // This will be injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "mcpbridge",
		Short:   "OpenAPI-MCP bridge registry - discovers OpenAPI services, runs translation bridges and routes calls between REST services and MCP tool agents",
		Version: version,
		RunE:    runServer,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.mcpbridge)")
	rootCmd.PersistentFlags().StringVarP(&listen, "listen", "l", "", "Listen address for the HTTP API")
	rootCmd.PersistentFlags().IntVar(&basePort, "base-port", 0, "First port handed out to translation bridges")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", false, "Enable logging to a rotated file in the data directory")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if basePort != 0 {
		cfg.BasePort = basePort
	}

	if cfg.Logging == nil {
		cfg.Logging = logs.DefaultLogConfig()
	}
	cfg.Logging.Level = logLevel
	cfg.Logging.EnableFile = logToFile
	if logDir != "" {
		cfg.Logging.LogDir = logDir
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting mcpbridge",
		zap.String("version", version),
		zap.String("listen", cfg.Listen),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("base_port", cfg.BasePort),
		zap.Int("configured_agents", len(cfg.ToolAgents)))

	srv, err := server.New(cfg, version, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	return srv.Run(ctx)
}
