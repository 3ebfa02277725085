package api

import (
	"net/http"

	"github.com/datallboy/mediagrab/internal/api/controllers"
	"github.com/datallboy/mediagrab/internal/app"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

func RegisterRoutes(e *echo.Echo, app *app.Context) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	jobsCtrl := &controllers.JobsController{App: app}

	e.GET("/api/jobs", jobsCtrl.HandleList)
	e.POST("/api/jobs", jobsCtrl.HandleCreate)
	e.GET("/api/jobs/active", jobsCtrl.HandleActive)
	e.GET("/api/jobs/:id", jobsCtrl.HandleGet)
	e.DELETE("/api/jobs/:id", jobsCtrl.HandleCancel)

	// Prometheus scrape endpoint
	metricsHandler := app.Metrics.Handler()
	e.GET("/metrics", func(c *echo.Context) error {
		metricsHandler.ServeHTTP(c.Response(), c.Request())
		return nil
	})

	e.GET("/healthz", func(c *echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}
