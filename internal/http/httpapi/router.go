package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"genstudio/internal/http/handlers"
	"genstudio/internal/middleware"
)

// Options carries the cross-cutting settings the router applies.
type Options struct {
	JWTSecret       string
	AllowedOrigins  []string
	RateLimitPerMin int
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	// Realtime serves GET /ws when set.
	Realtime http.Handler
	// StaticDir serves stored images under /static when set.
	StaticDir string
	Logger    zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)

	// Health
	r.Get("/v1/healthz", app.Health)

	if opts.Realtime != nil {
		r.Method(http.MethodGet, "/ws", opts.Realtime)
	}
	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
			r.Post("/generate-image", app.GenerateImage)
			r.Post("/remix-image", app.RemixImage)
		})

		r.Get("/jobs/user/{userId}", app.ListJobsForUser)
		r.Get("/jobs/{jobId}", app.GetJob)
		r.Delete("/jobs/{jobId}", app.DeleteJob)
		r.Get("/queue/stats", app.QueueStats)
	})

	return r
}
