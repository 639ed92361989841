package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/mcpserver"
	"github.com/cadencehq/cadence/internal/publisher/linkedin"
	"github.com/cadencehq/cadence/internal/server"
	"github.com/cadencehq/cadence/internal/service"
	"github.com/cadencehq/cadence/internal/store"
	"github.com/cadencehq/cadence/pkg/logger"
)

var (
	configPath string
	version    = "0.1.0"
	gitCommit  = "unknown"
	buildTime  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "Cadence - Scheduled social post queue",
	Long:  `Cadence stores scheduled social posts in a durable queue and publishes them at the right time, with an HTTP API and an MCP tool surface for managing the queue.`,
	RunE:  runServer,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run only the publisher daemon",
	Long:  `Runs the publisher daemon without the HTTP API, for deployments where the command surface and the publisher are separate processes sharing one database.`,
	RunE:  runDaemon,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the queue commands as MCP tools on stdio",
	RunE:  runMCP,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Cadence %s\n", version)
		fmt.Printf("Git commit: %s\n", gitCommit)
		fmt.Printf("Build time: %s\n", buildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/server.yaml", "config file path")
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, appLogger, nil
}

func runServer(*cobra.Command, []string) error {
	cfg, appLogger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Cadence server", zap.String("version", version))

	// Create server
	srv, err := server.NewServer(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Start server
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Start(ctx); err != nil {
			appLogger.Error("Server failed to start", zap.Error(err))
			cancel()
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down server...")
	case <-ctx.Done():
		appLogger.Info("Server context cancelled")
	}

	// Graceful shutdown
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	appLogger.Info("Server exited")
	return nil
}

func runDaemon(*cobra.Command, []string) error {
	cfg, appLogger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Cadence publisher daemon", zap.String("version", version))

	db, err := store.NewDatabase(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// The standalone daemon always polls, regardless of the embedded-daemon
	// toggle used by the combined server.
	cfg.Daemon.Enabled = true

	st := store.NewStore(db)
	client := linkedin.NewClient(&cfg.LinkedIn, appLogger)
	daemon, err := service.NewDaemon(&cfg.Daemon, appLogger, st, client)
	if err != nil {
		return fmt.Errorf("failed to create publisher daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := daemon.Start(ctx); err != nil {
		return fmt.Errorf("failed to start publisher daemon: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down publisher daemon...")
	daemon.Stop()
	appLogger.Info("Publisher daemon exited")
	return nil
}

func runMCP(*cobra.Command, []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// stdout belongs to the MCP protocol here; logs go to stderr.
	cfg.Logger.Output = "stderr"
	appLogger, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Sync()

	db, err := store.NewDatabase(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	queue := service.NewQueueService(store.NewStore(db), appLogger)
	return mcpserver.NewServer(queue, appLogger, version).ServeStdio()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
