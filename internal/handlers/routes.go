package handlers

import (
	"io/fs"
	"net/http"

	veowebui "github.com/MegaGrindStone/veo-web-ui"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes returns the router serving the landing page, the chat sessions, the staged image previews,
// the embedded static assets and the operational endpoints.
func (m Main) Routes() (http.Handler, error) {
	staticFS, err := fs.Sub(veowebui.StaticFS, "static")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(m.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	r.Get("/healthz", m.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", m.HandleHome)
	r.Get("/chat", m.HandleChat)
	r.Get("/previews/{previewID}", m.HandlePreview)

	r.Route("/chat/{sessionID}", func(r chi.Router) {
		r.Use(m.withSession)

		r.With(httprate.LimitByIP(m.cfg.SubmitRateLimit, m.cfg.SubmitRateWindow)).
			Post("/messages", m.HandleSubmit)
		r.Post("/image", m.HandleStageImage)
		r.Delete("/image", m.HandleClearImage)
		r.Get("/view", m.HandleView)
		r.Get("/events", m.HandleEvents)

		r.With(cors.Handler(cors.Options{
			AllowedOrigins:   m.cfg.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
			AllowCredentials: true,
			MaxAge:           300,
		})).Get("/state", m.HandleState)
	})

	return r, nil
}
