package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gnemet/mssqlgrid"
	"github.com/gnemet/mssqlgrid/database/connpool"
	"github.com/gnemet/mssqlgrid/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile        string
	connectionFlag string
	verbose        bool

	cfg    *config.Config
	logger *slog.Logger
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mssqlgrid",
		Short: "Browse SQL Server tables and views as paginated, searchable grids",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file")
	rootCmd.PersistentFlags().StringVarP(&connectionFlag, "connection", "c", "", "configured database name (default: the default entry)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newBrowseCmd())
	rootCmd.AddCommand(newObjectsCmd())
	rootCmd.AddCommand(newDefinitionCmd())
	rootCmd.AddCommand(newSavedCmd())
	rootCmd.AddCommand(newCheckCmd())

	return rootCmd
}

// openConnection connects to the --connection entry.
func openConnection(ctx context.Context) (*connpool.Pool, error) {
	d, err := cfg.Lookup(connectionFlag)
	if err != nil {
		return nil, err
	}
	return connpool.Open(ctx, d.Name, d.ConnString(), cfg.Tuning(), logger)
}

// parseRef splits "database.schema.object".
func parseRef(s string) (mssqlgrid.TableRef, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return mssqlgrid.TableRef{}, fmt.Errorf("expected database.schema.object, got %q", s)
	}
	return mssqlgrid.TableRef{Database: parts[0], Schema: parts[1], Object: parts[2]}, nil
}
