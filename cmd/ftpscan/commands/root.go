package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gjvnq/ftp-scan/pkg/config"
)

const cliExecutable = "ftpscan"

// NewCommand constructs the top-level ftpscan CLI command, wiring global
// flags, configuration loading, and log setup shared by all subcommands.
func NewCommand() *cobra.Command {
	var (
		configFile     string
		verbosityCount int
		verbose        bool
	)

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "Ftpscan is a concurrent FTP banner scanner and classifier",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Only the root persistent flags participate in config loading.
			// Subcommand flag names (--ping, --catalog) shadow config
			// sections and are bound separately by each command.
			manager := config.NewManager()
			if err := manager.Load(cmd.Root().PersistentFlags(), configFile); err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			cfg := manager.Get()

			if err := setupLogging(cfg.Log); err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}

			// Configure global log level based on verbosity flags
			// If explicit --verbose or the --debug override is set, show debug and above
			// Else use -v count: 0=>Error, 1=>Info, 2+=>Debug
			if verbose || cfg.Log.Level == "debug" {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				switch {
				case verbosityCount <= 0:
					zerolog.SetGlobalLevel(zerolog.ErrorLevel)
				case verbosityCount == 1:
					zerolog.SetGlobalLevel(zerolog.InfoLevel)
				default:
					zerolog.SetGlobalLevel(zerolog.DebugLevel)
				}
			}

			if cfg.Telemetry.Path != "" {
				log.Info().Str("telemetry_path", cfg.Telemetry.Path).Msg("telemetry enabled")
			}

			ctx := context.WithValue(cmd.Context(), config.ManagerKey, manager)
			cmd.SetContext(ctx)
			if root := cmd.Root(); root != nil && root != cmd {
				root.SetContext(ctx)
			}
			return nil
		},
	}

	cmd.SilenceUsage = true

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	cmd.PersistentFlags().CountVarP(&verbosityCount, "verbosity", "v", "Increase logging verbosity (repeatable)")
	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging (shows service layer logs)")

	config.BindFlags(cmd.PersistentFlags())

	cmd.AddGroup(&cobra.Group{ID: "scan", Title: "Scan Commands"})
	cmd.AddGroup(&cobra.Group{ID: "core", Title: "Core Commands"})

	cmd.AddCommand(ScanCmd)
	cmd.AddCommand(NewCatalogCommand())
	cmd.AddCommand(NewVersionCommand(cliExecutable))

	return cmd
}

// setupLogging points the global logger at the configured sink. A "text"
// format wraps the sink in a ConsoleWriter for human-readable output.
func setupLogging(cfg config.LogConfig) error {
	var sink io.Writer = os.Stderr
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		sink = f
	}
	if cfg.Format != "json" {
		sink = zerolog.ConsoleWriter{Out: sink}
	}
	log.Logger = log.Output(sink)
	return nil
}
