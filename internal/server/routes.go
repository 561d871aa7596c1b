package server

import (
	"github.com/ocr-dimt/ocrdemo/internal/api"
	"github.com/ocr-dimt/ocrdemo/internal/app"
	"github.com/ocr-dimt/ocrdemo/internal/ui"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
)

// SetupModelRoutes mounts the model server endpoints.
func (s *Server) SetupModelRoutes(app *app.App) {
	s.ginEngine.GET("/", handlerWrapper(app, api.ModelHealth))
	s.ginEngine.POST("/infer", handlerWrapper(app, api.Infer))
}

// SetupProxyRoutes mounts the backend proxy endpoints.
func (s *Server) SetupProxyRoutes(app *app.App) {
	s.ginEngine.GET("/", handlerWrapper(app, api.ProxyHealth))
	s.ginEngine.POST("/frontend_infer", handlerWrapper(app, api.FrontendInfer))
}

// SetupUIRoutes serves the upload page and its submit action.
func (s *Server) SetupUIRoutes(app *app.App) {
	s.ginEngine.Use(static.Serve("/", ui.Assets()))
	s.ginEngine.POST("/submit", handlerWrapper(app, api.Submit))
}

func handlerWrapper(app *app.App, f func(c *gin.Context)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Set("app", app)
		f(ctx)
	}
}
