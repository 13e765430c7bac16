package httpapi

import (
	stdhttp "net/http"
	"time"

	"server/internal/http/handlers"
	"server/internal/infra"
	mw "server/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Options carries router-level configuration that is not part of the
// handler application itself.
type Options struct {
	JWTSecret       string
	AllowedOrigins  []string
	RateLimitPerMin int
	GeoLookup       mw.CountryLookup
	Logger          infra.Logger
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(mw.Logger(opts.Logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(mw.CORS(opts.AllowedOrigins))
	}
	r.Use(mw.I18N("en", opts.GeoLookup))

	// Health
	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/videos", func(r chi.Router) {
		r.Use(mw.AuthSession(opts.JWTSecret))
		if opts.RateLimitPerMin > 0 {
			r.Use(mw.RateLimit(opts.RateLimitPerMin, time.Minute))
		}
		r.Post("/", app.VideosGenerate)
		r.Get("/{id}", app.VideoStatus)
		r.Post("/{id}/publish", app.VideoPublish)
		r.Get("/{id}/media", app.VideoMedia)
		r.Get("/{id}/export", app.VideoExport)
	})

	return r
}
