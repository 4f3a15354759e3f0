package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/inboxresponder/internal/config"
	"github.com/teemow/inboxresponder/internal/logging"
)

// rootCmd represents the base command for the inboxresponder application
var rootCmd = newRootCmd()

// version will be set by main
var version = "dev"

// Global flags shared by every command.
var (
	configFile string
	debug      bool
)

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "inboxresponder version %s\n" .Version}}`)

	// Without a subcommand the pipeline runs.
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "run")
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "inboxresponder",
		Short: "Classifies incoming Gmail messages and answers them",
		Long: `inboxresponder watches a Gmail inbox, classifies every new message with a
generative model and replies to the ones that express interest or ask for
more information. Handled messages are labeled so they are never answered
twice.

Messages are handed from the poller to the worker through a durable job
queue (SQLite by default, Valkey optionally), so restarts lose no work.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default: ./inboxresponder.yaml or the user config directory)")
	pf.BoolVar(&debug, "debug", false, "Shorthand for --log-level=debug")
	pf.String("log-level", "info", "Log level: debug, info, warn or error")
	pf.String("log-format", "text", "Log format: text or json")
	pf.String("queue-backend", config.BackendSQLite, "Job queue backend: sqlite or valkey")
	pf.String("queue-sqlite-path", "", "SQLite queue database (default: queue.db in the user cache directory)")
	pf.String("valkey-address", "localhost:6379", "Valkey address for the valkey backend")
	pf.String("credentials", "credentials.json", "Google OAuth client secret file")
	pf.String("token", "", "Google OAuth token file (default: google-token.json in the user cache directory)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newAuthCmd())
	root.AddCommand(newQueueCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// loadConfig resolves the configuration for cmd and installs the logger as
// the slog default.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(config.Options{
		ConfigFile: configFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, nil, err
	}
	if debug {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.NewLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}
