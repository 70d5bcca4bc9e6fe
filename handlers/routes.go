package handlers

import (
	"github.com/labstack/echo/v4"

	mw "github.com/padraicbc/racedata/middleware"
)

// Register mounts the API routes on e.
func (h *Handler) Register(e *echo.Echo) {
	// Public
	e.POST("/api/signin", h.Signin)

	// Protected – require valid JWT in Authorization header
	api := e.Group("/api", mw.JWT(h.JWTKey))
	api.POST("/users", h.RegisterUser)

	api.GET("/events", h.Events)
	api.POST("/events", h.CreateEvent)
	api.POST("/events/:id/ingest", h.IngestEvent)
	api.GET("/events/:id/status", h.EventStatus)
	api.POST("/events/:id/reconcile", h.ReconcileEvent)
	api.GET("/events/:id/links", h.EventLinks)
	api.GET("/events/:id/drivers/:driverID/transponder", h.ResolveTransponder)

	api.GET("/events/:id/overrides", h.Overrides)
	api.POST("/events/:id/overrides", h.CreateOverride)
	api.PUT("/overrides/:id", h.UpdateOverride)
	api.DELETE("/overrides/:id", h.DeleteOverride)

	api.POST("/links/:id/confirm", h.ConfirmLink)
	api.POST("/links/:id/reject", h.RejectLink)
}
