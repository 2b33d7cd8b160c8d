package main

import (
	"fmt"

	"github.com/gnemet/mssqlgrid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newObjectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "objects [database [schema]]",
		Short: "List databases, schemas of a database, or objects of a schema",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openConnection(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			w := cmd.OutOrStdout()
			t := newTable(w)
			switch len(args) {
			case 0:
				dbs, err := mssqlgrid.ListDatabases(ctx, pool)
				if err != nil {
					return err
				}
				t.AppendHeader(table.Row{"database"})
				for _, d := range dbs {
					t.AppendRow(table.Row{d})
				}
			case 1:
				schemas, err := mssqlgrid.ListSchemas(ctx, pool, args[0])
				if err != nil {
					return err
				}
				t.AppendHeader(table.Row{"schema"})
				for _, s := range schemas {
					t.AppendRow(table.Row{s})
				}
			default:
				objs, err := mssqlgrid.ListObjects(ctx, pool, args[0], args[1])
				if err != nil {
					return err
				}
				t.AppendHeader(table.Row{"type", "name"})
				for _, o := range objs {
					t.AppendRow(table.Row{o.Type, o.Name})
				}
			}
			t.Render()
			_, _ = fmt.Fprintf(w, "(%d rows)\n", t.Length())
			return nil
		},
	}
}

func newDefinitionCmd() *cobra.Command {
	var typ string

	cmd := &cobra.Command{
		Use:   "definition database.schema.object",
		Short: "Print the DDL of a table or the source of a view, procedure, function or trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openConnection(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			in, err := mssqlgrid.NewIntrospector(cfg.Definitions.CacheSize, cfg.Definitions.CacheTTL, logger)
			if err != nil {
				return err
			}
			defer in.Close()

			def, err := in.Definition(ctx, pool, ref.Database, ref.Schema, ref.Object, mssqlgrid.ObjectType(typ))
			if err != nil {
				return err
			}
			if def == "" {
				return fmt.Errorf("no definition found for %s", ref)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), def)
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", string(mssqlgrid.TypeTable), "object type: TABLE, VIEW, PROC, FUNC or TRIGGER")
	return cmd
}
