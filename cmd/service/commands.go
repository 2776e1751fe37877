package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	dbconnector "project-echo"
	"project-echo/internal/connections"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := a.openRegistry()
			if err != nil {
				return err
			}
			h := NewHandler(registry, dbconnector.NewConnector, a.detector().DetectKind, a.logger)
			h.ReadOnly = a.cfg.ReadOnly
			h.Limits = a.pageLimits()
			h.QueryTimeout = a.cfg.QueryTimeout

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			requestTimeout := a.cfg.QueryTimeout
			if requestTimeout > 0 {
				requestTimeout += a.cfg.DetectTimeout
			}
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return runServer(gctx, a.logger, a.cfg.Port, newRouter(h, requestTimeout), 0)
			})
			if a.cfg.Watch {
				g.Go(func() error {
					return registry.Watch(gctx)
				})
			}
			return g.Wait()
		},
	}
}

func newDetectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "detect <connection-string>",
		Short: "Work out which engine a connection string points at",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := a.detector().DetectKind(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), kind.DisplayName())
			return err
		},
	}
}

// withConnector resolves a registered connection and runs fn with a
// connector scoped to the command.
func (a *app) withConnector(ctx context.Context, id string, fn func(context.Context, dbconnector.DbConnector) error) error {
	registry, err := a.openRegistry()
	if err != nil {
		return err
	}
	cfg, err := registry.ResolveByRef(ctx, id)
	if err != nil {
		return err
	}
	conn, err := dbconnector.NewConnector(cfg, a.connectorOptions()...)
	if err != nil {
		return err
	}
	defer conn.Close()
	if a.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.QueryTimeout)
		defer cancel()
	}
	return fn(ctx, conn)
}

func newTablesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tables <connection-id> [table]",
		Short: "List tables, or describe one table",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withConnector(cmd.Context(), args[0], func(ctx context.Context, conn dbconnector.DbConnector) error {
				if len(args) == 2 {
					schema, err := conn.DescribeTable(ctx, args[1])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), schema)
				}
				tables, err := conn.ListTables(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), tables)
			})
		},
	}
}

func newQueryCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "query <connection-id> <sql>",
		Short: "Run a SQL statement as written",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withConnector(cmd.Context(), args[0], func(ctx context.Context, conn dbconnector.DbConnector) error {
				result, err := conn.RawQuery(ctx, args[1])
				if err != nil {
					return err
				}
				if result.Analysis != nil && result.Analysis.WriteWithoutWhere() {
					a.logger.Warn("statement modifies rows without a WHERE clause")
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func newBrowseCommand(a *app) *cobra.Command {
	var req dbconnector.QueryRequest
	cmd := &cobra.Command{
		Use:   "browse <connection-id> <table>",
		Short: "Page through a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ConnectionID = args[0]
			req.Table = args[1]
			return a.withConnector(cmd.Context(), args[0], func(ctx context.Context, conn dbconnector.DbConnector) error {
				result, err := conn.QueryTable(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().IntVar(&req.Page, "page", 1, "page number, starting at 1")
	cmd.Flags().IntVar(&req.PageSize, "page-size", 0, "rows per page")
	cmd.Flags().StringVar(&req.Where, "where", "", "single condition, e.g. \"age >= 30\"")
	cmd.Flags().StringVar(&req.OrderBy, "order-by", "", "columns to sort by, e.g. \"name DESC\"")
	return cmd
}

func newConnectionsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Manage registered connections",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := a.openRegistry()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), registry.List())
		},
	})

	var name, kind, connStr, file string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a connection string or copy in a database file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (connStr == "") == (file == "") {
				return fmt.Errorf("exactly one of --connection-string or --file is required: %w", connections.ErrInvalidInput)
			}
			registry, err := a.openRegistry()
			if err != nil {
				return err
			}
			var conn connections.Connection
			if file != "" {
				conn, err = registry.AddFilePath(cmd.Context(), name, kind, file)
			} else {
				conn, err = registry.AddConnectionString(cmd.Context(), name, kind, connStr)
			}
			if err != nil {
				return err
			}
			a.logger.Info("connection registered", slog.String("id", conn.ID))
			return printJSON(cmd.OutOrStdout(), conn)
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&kind, "type", "", "sqlite|mysql|postgres|sqlserver|oracle (detected when empty)")
	add.Flags().StringVar(&connStr, "connection-string", "", "server connection string")
	add.Flags().StringVar(&file, "file", "", "database file to copy into storage")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <connection-id>",
		Short: "Forget a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.openRegistry()
			if err != nil {
				return err
			}
			return registry.Remove(args[0])
		},
	})
	return cmd
}
