package router

import (
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	apiHandler "github.com/fastygo/journal/api/handler"
	"github.com/fastygo/journal/internal/middleware"
)

type Handlers struct {
	Journal  *apiHandler.JournalHandler
	Record   *apiHandler.RecordHandler
	Checksum *apiHandler.ChecksumHandler
	Admin    *apiHandler.AdminHandler
	Health   *apiHandler.HealthHandler
}

// New registers the API routes. metricsHandler is mounted at /metrics when non-nil.
func New(handlers Handlers, authMiddleware func(fasthttp.RequestHandler) fasthttp.RequestHandler, metricsHandler fasthttp.RequestHandler) *router.Router {
	r := router.New()

	r.GET("/health", handlers.Health.Check)
	if metricsHandler != nil {
		r.GET("/metrics", metricsHandler)
	}

	// Read routes
	r.GET("/api/v1/journals/{kind}/{id}", authMiddleware(handlers.Journal.List))
	r.GET("/api/v1/checksums/{kind}", authMiddleware(handlers.Checksum.Get))

	// Write routes; the actor comes from the token
	r.POST("/api/v1/journals/{kind}/{id}", authMiddleware(handlers.Record.Record))
	r.DELETE("/api/v1/journals/{kind}/{id}", authMiddleware(handlers.Record.Deleted))

	// Admin routes
	admin := func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return authMiddleware(middleware.RequireAdmin(next))
	}
	r.POST("/api/v1/journals/{kind}/{id}/verify", admin(handlers.Admin.Verify))
	r.POST("/api/v1/journals/{kind}/{id}/recreate-initial", admin(handlers.Admin.RecreateInitial))
	r.DELETE("/api/v1/actors/{id}", admin(handlers.Admin.DeleteActor))

	return r
}
