package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/trunov/captionhub/internal/metrics"
	"github.com/trunov/captionhub/internal/transport/handler"
)

func NewRouter(h *handler.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(handler.Recover)
	r.Use(metrics.Middleware("api"))

	r.Get("/", h.ListRecords)
	r.Post("/create", h.CreateRecord)
	r.Get("/update/{id}", h.ToggleDone)
	r.Post("/update/{id}", h.ToggleDone)
	r.Get("/delete/{id}", h.DeleteRecord)
	r.Post("/delete/{id}", h.DeleteRecord)

	r.Route("/api", func(r chi.Router) {
		r.Get("/records", h.ListRecords)
		r.Get("/records/{id}", h.GetRecord)
		r.Post("/upload", h.LoadTestUpload)
	})

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", metrics.Handler())

	return r
}

// NewCipherRouter serves the crypto round-trip service.
func NewCipherRouter(h *handler.CipherHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(handler.Recover)
	r.Use(metrics.Middleware("cipher"))

	r.Post("/", h.Transform)
	r.Handle("/metrics", metrics.Handler())

	return r
}
