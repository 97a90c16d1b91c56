package delivery

import (
	"net/http"
	"time"

	"github.com/Vovarama1992/go-utils/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// RegisterRoutes mounts the service endpoints. ratePerMinute <= 0 disables
// the per-IP limit on /process.
func RegisterRoutes(r chi.Router, h *Handler, ratePerMinute int) {
	r.With(httputil.RecoverMiddleware).Get("/health", h.Health)
	r.With(httputil.RecoverMiddleware).Get("/ready", h.Ready)

	middlewares := []func(http.Handler) http.Handler{httputil.RecoverMiddleware}
	if ratePerMinute > 0 {
		middlewares = append(middlewares, httprate.LimitByIP(ratePerMinute, time.Minute))
	}
	r.With(middlewares...).Post("/process", h.Process)
}
