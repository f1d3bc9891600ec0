package http

import (
	"net/http"

	"github.com/JulianoL13/doc-queue/internal/common/logs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler, logger logs.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(RequestLoggerMiddleware(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)

	r.Post("/messages", h.Publish)
	r.Post("/messages/batch", h.PublishBatch)
	r.Get("/messages/stream", h.Stream)

	return r
}
