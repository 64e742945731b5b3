package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mminte/internal/api"
	"mminte/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline over HTTP",
		Long: `Starts the HTTP service. POST /api/v1/runs submits a pair list,
GET /api/v1/runs/:id reads a run back from the result store, /metrics
exposes the Prometheus registry and /health reports liveness. Pair paths in
requests are resolved inside paths.models_dir and diet paths inside the
working directory; neither may leave it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.ValidateServe(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if addr == "" {
				addr = c.cfg.Server.Addr
			}
			d, err := c.evalDiet("")
			if err != nil {
				return err
			}
			a, err := c.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			if !c.verbose {
				gin.SetMode(gin.ReleaseMode)
			}
			logger := c.logger.Get(logging.CategoryAPI)
			srv := api.New(api.Deps{
				Pipeline: a.pipeline(d, nil),
				Store:    a.store,
				Metrics:  a.metrics,
				Logger:   logger,
			})
			defer srv.Close()

			hs := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() { errc <- hs.ListenAndServe() }()
			logger.Info("listening", zap.String("addr", addr))

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
			}
			logger.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
			defer cancel()
			if err := hs.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default server.addr)")
	return cmd
}
