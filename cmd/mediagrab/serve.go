package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/datallboy/mediagrab/internal/api"
	"github.com/datallboy/mediagrab/internal/app"
	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the job API and Prometheus metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.Close()

			// Nobody can answer a prompt here, resume only when configured to
			autoResume := a.Config.Download.AutoResume
			if err := a.Build(cmd.Context(), app.BuildOptions{
				Confirm: func(string) bool { return autoResume },
			}); err != nil {
				return err
			}

			ctx := cmd.Context()
			go a.Jobs.Start(ctx)

			e := echo.New()
			api.RegisterRoutes(e, a)

			srv := &http.Server{
				Addr:              ":" + a.Config.Port,
				Handler:           e,
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			a.Logger.Info("API listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}
