package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	dbconnector "project-echo"
	"project-echo/internal/config"
	"project-echo/internal/connections"
	"project-echo/internal/logging"
)

var Version = "0.1.0"

// app carries what PersistentPreRunE prepared for the subcommands.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

func (a *app) openRegistry() (*connections.Registry, error) {
	return connections.Open(connections.Options{
		Path:          a.cfg.RegistryPath(),
		StorageDir:    a.cfg.StoragePath,
		EncryptionKey: a.cfg.EncryptionKey,
		Detector:      a.detector(),
		Logger:        a.logger,
	})
}

func (a *app) detector() *dbconnector.Detector {
	return dbconnector.NewDetector(a.cfg.DetectTimeout, a.logger)
}

func (a *app) connectorOptions() []dbconnector.Option {
	return []dbconnector.Option{
		dbconnector.WithReadOnly(a.cfg.ReadOnly),
		dbconnector.WithPageLimits(a.pageLimits()),
		dbconnector.WithLogger(a.logger),
	}
}

func (a *app) pageLimits() dbconnector.PageLimits {
	return dbconnector.PageLimits{Default: a.cfg.DefaultPageSize, Max: a.cfg.MaxPageSize}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:     "project-echo",
		Short:   "Browse and query SQLite, MySQL, PostgreSQL and SQL Server databases",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			cfg, err := config.Load(a.cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			if cfg.ConfigFileUsed != "" {
				logger.Debug("using config file", slog.String("path", cfg.ConfigFileUsed))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: ./"+config.DefaultConfigFile+")")
	flags.Int("port", 8080, "HTTP port for serve")
	flags.String("storage-path", "", "directory for the registry and copied database files")
	flags.String("connections-file", "", "registry file name, relative to storage-path")
	flags.String("encryption-key", "", "32 byte key (raw or base64) to encrypt stored connection strings")
	flags.Bool("read-only", false, "refuse write statements")
	flags.Duration("query-timeout", 0, "per request query timeout")
	flags.Duration("detect-timeout", 0, "per engine timeout while detecting a connection type")
	flags.Int("default-page-size", 0, "page size when a request gives none")
	flags.Int("max-page-size", 0, "largest page size a request may ask for")
	flags.Bool("watch", true, "reload the registry when its file changes")
	flags.String("log-level", "", "debug|info|warn|error")
	flags.String("log-format", "", "json|text")

	rootCmd.AddCommand(newServeCommand(a))
	rootCmd.AddCommand(newDetectCommand(a))
	rootCmd.AddCommand(newTablesCommand(a))
	rootCmd.AddCommand(newQueryCommand(a))
	rootCmd.AddCommand(newBrowseCommand(a))
	rootCmd.AddCommand(newConnectionsCommand(a))
	return rootCmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
