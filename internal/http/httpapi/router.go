package httpapi

import (
	"net/http"
	"time"

	"server/internal/http/handlers"
	appmw "server/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		appmw.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		appmw.Logger(app.Logger),
		appmw.CORS(app.Config.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(appmw.RateLimit(app.Config.RateLimitPerMin, time.Minute))
			r.Post("/analyze-face", app.AnalyzeFace)
			r.Post("/analyze-face-tracked", app.AnalyzeFaceTracked)
		})
		r.Get("/analyze-result/{progress_id}", app.AnalyzeResult)
		r.Get("/analyze-progress/{progress_id}", app.AnalyzeProgress)
		r.Route("/sessions/{session_id}", func(r chi.Router) {
			r.Get("/status", app.SessionStatus)
			r.Get("/archive", app.SessionArchive)
		})
	})

	fs := http.StripPrefix("/static/", http.FileServer(http.Dir(app.Config.StoragePath)))
	r.Get("/static/*", fs.ServeHTTP)

	return r
}
