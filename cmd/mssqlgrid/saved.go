package main

import (
	"fmt"

	"github.com/gnemet/mssqlgrid"
	"github.com/gnemet/mssqlgrid/database/savedquery"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newSavedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saved",
		Short: "Manage bookmarked queries",
	}
	cmd.AddCommand(newSavedAddCmd(), newSavedListCmd(), newSavedDeleteCmd(), newSavedRunCmd())
	return cmd
}

func openStore() (*savedquery.Store, error) {
	return savedquery.Open(cfg.SavedQueries.Path, logger)
}

func newSavedAddCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "add name query",
		Short: "Bookmark a query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			q, err := store.Add(args[0], args[1], description)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s)\n", q.Name, q.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "what the query is for")
	return cmd
}

func newSavedListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bookmarked queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"id", "name", "description", "last used"})
			for _, q := range store.All() {
				used := ""
				if q.LastUsed != nil {
					used = q.LastUsed.Local().Format("2006-01-02 15:04")
				}
				t.AppendRow(table.Row{q.ID, q.Name, q.Description, used})
			}
			t.Render()
			return nil
		},
	}
}

func newSavedDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete id",
		Short: "Remove a bookmarked query",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			return store.Delete(args[0])
		},
	}
}

func newSavedRunCmd() *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "run id",
		Short: "Run a bookmarked query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := openConnection(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			q, ex, err := store.Run(ctx, pool, args[0], offset, limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "%s (%d ms)\n", q.Name, ex.DurationMS())
			renderRows(w, ex.Rows)
			if verbose {
				_, _ = fmt.Fprintln(w, ex.SQL)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().IntVar(&limit, "limit", mssqlgrid.DefaultPageSize, "rows to fetch")
	return cmd
}
