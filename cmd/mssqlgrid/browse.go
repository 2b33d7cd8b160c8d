package main

import (
	"strings"

	"github.com/gnemet/mssqlgrid"
	"github.com/spf13/cobra"
)

type browseOptions struct {
	view     bool
	page     int
	pageSize int
	search   string
	sort     string
	desc     bool
	columns  string
}

func newBrowseCmd() *cobra.Command {
	opts := &browseOptions{}

	cmd := &cobra.Command{
		Use:   "browse database.schema.object",
		Short: "Print one page of a table or view",
		Example: `  mssqlgrid browse testdb.dbo.Customers --page 2 --page-size 50
  mssqlgrid browse testdb.dbo.Customers --search "o'brien" --sort Name --desc`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBrowse(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.view, "view", false, "the object is a view")
	cmd.Flags().IntVar(&opts.page, "page", 1, "page number")
	cmd.Flags().IntVar(&opts.pageSize, "page-size", 0, "rows per page: 50, 100, 200 or 500 (default: grid.page_size)")
	cmd.Flags().StringVar(&opts.search, "search", "", "search term")
	cmd.Flags().StringVar(&opts.sort, "sort", "", "column to sort by")
	cmd.Flags().BoolVar(&opts.desc, "desc", false, "sort descending")
	cmd.Flags().StringVar(&opts.columns, "columns", "", "comma-separated columns to show")

	return cmd
}

func runBrowse(cmd *cobra.Command, target string, opts *browseOptions) error {
	ref, err := parseRef(target)
	if err != nil {
		return err
	}
	if opts.view {
		ref.Kind = mssqlgrid.KindView
	}

	ctx := cmd.Context()
	pool, err := openConnection(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	panelCfg := cfg.PanelConfig()
	panelCfg.Logger = logger
	reg := mssqlgrid.NewRegistry(panelCfg)
	defer reg.Close()

	o := mssqlgrid.Options{PageSize: opts.pageSize, SearchTerm: opts.search}
	if opts.columns != "" {
		for _, c := range strings.Split(opts.columns, ",") {
			if c = strings.TrimSpace(c); c != "" {
				o.SelectedColumns = append(o.SelectedColumns, c)
			}
		}
	}
	if opts.sort != "" {
		dir := mssqlgrid.Asc
		if opts.desc {
			dir = mssqlgrid.Desc
		}
		o.OrderBy = &mssqlgrid.OrderBy{Column: opts.sort, Direction: dir}
	}

	ctrl, p, err := reg.Open(ctx, pool, ref, o)
	if err != nil {
		return err
	}
	if opts.page > 1 {
		if p, err = ctrl.SetPage(ctx, opts.page); err != nil {
			return err
		}
	}
	renderPanel(cmd.OutOrStdout(), p)
	return nil
}
