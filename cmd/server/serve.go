package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/coverage-engine/api"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		repo, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer repo.Close()

		logger := zap.L()
		handler := api.NewHandler(repo, api.HandlerOptions{
			Logger:   logger,
			Scale:    cfg.Coverage.CurrencyScale,
			ClaimTTL: cfg.Idempotency.ClaimTTL,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      api.NewRouter(handler, cfg.Server),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		sweeper := api.NewClaimSweeper(repo, cfg.Idempotency.SweepInterval, cfg.Idempotency.ClaimTTL, logger)

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			logger.Info("starting server", zap.Int("port", port), zap.String("store", cfg.Store.Driver))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		g.Go(func() error {
			sweeper.Start()
			<-gctx.Done()
			sweeper.Stop()
			return nil
		})

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return eris.Wrap(err, "server shutdown")
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			return err
		}
		logger.Info("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
