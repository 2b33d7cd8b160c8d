package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gnemet/mssqlgrid"
	"github.com/gnemet/mssqlgrid/database/connpool"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve grid panels over HTTP",
		Example: `  # Serve on the configured port
  mssqlgrid serve

  # Open a panel
  curl -X POST localhost:8080/panels -d '{"database":"testdb","schema":"dbo","object":"Customers"}'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port == "" {
				port = cfg.Server.Port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, port)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "port to listen on (default: server.port)")
	return cmd
}

func serve(ctx context.Context, port string) error {
	manager := connpool.NewManager(logger)
	defer manager.Close()

	for _, d := range cfg.Database {
		p, err := connpool.Open(ctx, d.Name, d.ConnString(), cfg.Tuning(), logger)
		if err != nil {
			logger.Error("skipping database", "name", d.Name, "error", err)
			continue
		}
		manager.Add(p)
	}
	if len(manager.Names()) == 0 {
		return errors.New("no database could be reached")
	}
	if d, ok := cfg.DefaultDatabase(); ok {
		_ = manager.SetActive(d.Name)
	}
	manager.StartHealthCheck(cfg.Pool.HealthInterval)

	panelCfg := cfg.PanelConfig()
	panelCfg.Logger = logger
	registry := mssqlgrid.NewRegistry(panelCfg)
	defer registry.Close()

	introspector, err := mssqlgrid.NewIntrospector(cfg.Definitions.CacheSize, cfg.Definitions.CacheTTL, logger)
	if err != nil {
		return err
	}
	defer introspector.Close()

	handler, err := mssqlgrid.NewHandler(registry, introspector, manager.Conns(), manager.ActiveName(), logger)
	if err != nil {
		return err
	}
	handler.Timeout = cfg.Grid.QueryTimeout + 5*time.Second

	r := chi.NewMux()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler.Routes(r)

	eg, egctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		logger.Info("serving panels", "addr", "http://localhost:"+port, "connections", manager.Names())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
