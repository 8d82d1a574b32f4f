package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nupi-ai/edbridge/internal/config"
	"github.com/nupi-ai/edbridge/internal/daemon"
	"github.com/nupi-ai/edbridge/internal/version"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "edbridged",
		Short:         "edbridge daemon - hosts the embedded editor for websocket and IPC peers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	rootCmd.Version = version.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.Flags().String("instance", config.DefaultInstance, "Instance name under the edbridge home")
	rootCmd.Flags().String("config", "", "Configuration file (YAML or TOML); defaults to the instance config")
	rootCmd.Flags().String("listen", "", "Websocket listen address (overrides config and "+config.EnvListen+")")
	rootCmd.Flags().Bool("no-color", false, "Disable colored console output")
	return rootCmd
}

func loadConfig(cmd *cobra.Command, paths config.InstancePaths) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err = config.LoadFile(config.ExpandPath(path), paths)
	} else {
		cfg, err = config.Load(paths)
	}
	if err != nil {
		return config.Config{}, err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Listen = listen
	}
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	instance, _ := cmd.Flags().GetString("instance")
	paths, err := config.EnsureInstanceDirs(instance)
	if err != nil {
		return fmt.Errorf("failed to prepare instance directories: %w", err)
	}
	if err := setupLogging(paths); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	}

	cfg, err := loadConfig(cmd, paths)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if daemon.IsRunning(cfg.Socket) {
		return fmt.Errorf("daemon is already running on %s", cfg.Socket)
	}
	if cfg.Path != "" {
		log.Printf("Configuration: %s", cfg.Path)
	}

	noColor, _ := cmd.Flags().GetBool("no-color")
	d, err := daemon.New(context.Background(), daemon.Options{
		Config:  cfg,
		Logger:  log.Default(),
		Colored: !noColor && !color.NoColor,
	})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		log.Printf("Received signal %s, shutting down...", sig)
		d.Shutdown()
	}()

	log.Printf("edbridge daemon started (PID: %d)", os.Getpid())
	if err := d.Run(context.Background()); err != nil {
		log.Printf("Daemon error: %v", err)
		return err
	}
	log.Println("Daemon stopped")
	return nil
}

func setupLogging(paths config.InstancePaths) error {
	if err := os.MkdirAll(paths.Logs, 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}

	logPath := filepath.Join(paths.Logs, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	log.Printf("=== edbridge daemon starting (PID: %d) ===", os.Getpid())
	log.Printf("Log file: %s", logPath)
	return nil
}
