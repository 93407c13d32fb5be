package api

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/datallboy/serenity/internal/api/controllers"
	"github.com/datallboy/serenity/internal/app"
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

	sounds := &controllers.SoundsController{App: app}

	e.GET("/api/sounds", sounds.ListSounds)
	e.GET("/api/sounds/:filename/ready", sounds.Ready)
	e.POST("/api/sounds/:filename/download", sounds.Download)
	e.GET("/api/progress", sounds.Progress)
	e.POST("/api/sync", sounds.Sync)

	e.GET("/api/selected", sounds.GetSelected)
	e.PUT("/api/selected", sounds.PutSelected)

	e.GET("/api/tasks", sounds.ListTasks)
}

// NewHandler mounts the progress websocket beside the echo routes.
// The stream is served outside echo so the upgrade sees the raw ResponseWriter.
func NewHandler(app *app.Context) http.Handler {
	e := echo.New()
	RegisterRoutes(e, app)

	mux := http.NewServeMux()
	mux.Handle("/ws/progress", NewProgressStream(app.Progress, app.Logger))
	mux.Handle("/", e)
	return mux
}
