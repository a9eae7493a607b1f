package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blndgs/aawallet/api"
	"github.com/blndgs/aawallet/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the account and consolidation API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.API.Listen = listen
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return withApp(ctx, cfg, func(a *app) error {
			return serve(ctx, a)
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "Override the configured listen address")
}

func serve(ctx context.Context, a *app) error {
	if err := a.bundler.CheckEntryPoint(ctx); err != nil {
		return err
	}
	if err := config.RegisterBindingValidators(); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(ctx, a.registry, a.consolidation)
	srv := &http.Server{
		Addr:              a.cfg.API.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("api server listening on %v", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if a.consolidation.Running() {
		logrus.Warn("shutting down while a consolidation is running; submitted operations are not recalled")
	}
	return nil
}
