package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the Stripe webhook endpoint and the background sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, bus, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a := newApp(ctx, cfg, bus, connect(ctx, cfg.Database), nil)
			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           a.routes(),
				ReadHeaderTimeout: 2 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       120 * time.Second,
				MaxHeaderBytes:    1 << 20,
			}
			go a.runSweeper(ctx)

			errCh := make(chan error, 1)
			go func() {
				slog.Info("marketplace listening", "addr", cfg.Server.Addr, "mode", db.Mode(a.db))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			err = srv.Shutdown(shutdownCtx)
			a.close(shutdownCtx)
			slog.Info("marketplace stopped")
			return err
		},
	}
}
