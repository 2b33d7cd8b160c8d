package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gnemet/mssqlgrid"
	"github.com/gnemet/mssqlgrid/database/connpool"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

const versionQuery = "SELECT CAST(SERVERPROPERTY('ProductVersion') AS nvarchar(128)), CAST(SERVERPROPERTY('Edition') AS nvarchar(128))"

func newCheckCmd() *cobra.Command {
	var object string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Connect to every configured database and report the server version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var ref *mssqlgrid.TableRef
			if object != "" {
				r, err := parseRef(object)
				if err != nil {
					return err
				}
				ref = &r
			}
			return check(cmd.Context(), cmd, ref)
		},
	}
	cmd.Flags().StringVar(&object, "object", "", "also load the columns of database.schema.object")
	return cmd
}

func check(ctx context.Context, cmd *cobra.Command, ref *mssqlgrid.TableRef) error {
	if len(cfg.Database) == 0 {
		return fmt.Errorf("no database configured in %s", cfgFile)
	}

	t := newTable(cmd.OutOrStdout())
	header := table.Row{"connection", "status", "version", "edition", "ping"}
	if ref != nil {
		header = append(header, "columns")
	}
	t.AppendHeader(header)

	failed := 0
	for _, d := range cfg.Database {
		row, err := checkOne(ctx, d.Name, d.ConnString(), ref)
		if err != nil {
			failed++
			logger.Warn("connection check failed", "connection", d.Name, "error", err)
		}
		if ref == nil {
			row = row[:len(row)-1]
		}
		t.AppendRow(row)
	}
	t.Render()

	if failed > 0 {
		return fmt.Errorf("%d of %d connections failed", failed, len(cfg.Database))
	}
	return nil
}

func checkOne(ctx context.Context, name, dsn string, ref *mssqlgrid.TableRef) (table.Row, error) {
	start := time.Now()
	p, err := connpool.Open(ctx, name, dsn, cfg.Tuning(), logger)
	if err != nil {
		return table.Row{name, "unreachable", "", "", "", ""}, err
	}
	defer p.Close()
	elapsed := time.Since(start).Round(time.Millisecond)

	rs, err := p.Query(ctx, versionQuery)
	if err != nil || rs.Len() == 0 {
		return table.Row{name, "no version", "", "", elapsed, ""}, err
	}
	row := table.Row{name, "ok", mssqlgrid.FormatValue(rs.Rows[0][0]), mssqlgrid.FormatValue(rs.Rows[0][1]), elapsed, ""}

	if ref != nil {
		cols, err := mssqlgrid.LoadColumns(ctx, p, *ref)
		if err != nil {
			row[1] = "no columns"
			return row, err
		}
		row[5] = len(cols)
	}
	return row, nil
}
