package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	clientcmd "github.com/rzbill/strata/internal/cmd/client"
	serverrun "github.com/rzbill/strata/internal/cmd/server"
	cfgpkg "github.com/rzbill/strata/internal/config"
	logpkg "github.com/rzbill/strata/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	// Respect STRATA_LOG_LEVEL for both CLI and server start output.
	level := os.Getenv("STRATA_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger.
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "strata",
		Short: "Strata storage engine CLI",
		Long:  "Strata is a log-structured sharded key-value engine. This CLI manages the server and basic operations.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the strata server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			configPath, _ := cmd.Flags().GetString("config")
			force, _ := cmd.Flags().GetBool("force")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			if logLevel != "" {
				_ = os.Setenv("STRATA_LOG_LEVEL", logLevel)
			}
			if logFormat != "" {
				_ = os.Setenv("STRATA_LOG_FORMAT", logFormat)
			}

			cfg := cfgpkg.Default()
			if configPath != "" {
				loaded, err := cfgpkg.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:    dataDir,
				HTTPAddr:   httpAddr,
				ConfigPath: configPath,
				Force:      force,
				Config:     cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("data-dir", "", "Data directory (defaults to an OS-specific application data directory)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (default from config, :8460)")
	serverStartCmd.Flags().String("config", "", "Config file (JSON/HuJSON), polled for topology changes")
	serverStartCmd.Flags().Bool("force", false, "Open past a halted topology migration checkpoint")
	serverStartCmd.Flags().String("log-level", os.Getenv("STRATA_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("STRATA_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	rootCmd.AddCommand(clientcmd.NewKvCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewAdminCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewReplCommand(apiURL))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("STRATA_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8460"
}
