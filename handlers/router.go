package handlers

import (
	"log/slog"
	"net/http"

	"link-redirect-service/links"
	"link-redirect-service/middleware"
	"link-redirect-service/resolver"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouterDeps is everything the HTTP surface needs. Limiters may be nil.
type RouterDeps struct {
	Resolver *resolver.Resolver
	Gate     *resolver.PasswordGate
	Links    *links.Service
	Cache    CacheDeleter

	// TrackHook mounts the edge mirror endpoint. Leave nil when clicks come
	// from the access log reconciler.
	TrackHook *TrackHookDeps

	PasswordLimiter *middleware.RateLimiter
	APILimiter      *middleware.RateLimiter

	Ready   map[string]Pinger
	Stats   *ServerStats
	Metrics MetricsSources

	BaseURL     string
	FrontendURL string
	Production  bool
	Logger      *slog.Logger
}

type TrackHookDeps struct {
	IDs    LinkIDResolver
	Clicks ClickSink
}

func NewRouter(d RouterDeps) http.Handler {
	stats := d.Stats
	if stats == nil {
		stats = NewServerStats()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger(d.Logger))
	r.Use(stats.Middleware)

	r.Get("/health", Health())
	r.Get("/ready", Readiness(d.Ready))
	r.Get("/metrics", Metrics(stats, d.Metrics))

	r.Get("/s/{shortCode}", Redirect(d.Resolver, d.Logger))

	r.Group(func(r chi.Router) {
		r.Use(middleware.LoopbackOnly)
		r.Get("/purge/s/{shortCode}", PurgeCache(d.Cache, d.Logger))
		if d.TrackHook != nil {
			r.Get("/api/internal/track/s/{shortCode}", TrackHit(d.TrackHook.IDs, d.TrackHook.Clicks, d.Logger))
		}
	})

	r.Route("/api/urls", func(r chi.Router) {
		r.Use(middleware.CORS(d.FrontendURL, d.Production))

		r.With(limit(d.PasswordLimiter)).Post("/{shortCode}/verify-password", VerifyPassword(d.Gate, d.Logger))

		r.Group(func(r chi.Router) {
			r.Use(limit(d.APILimiter))
			r.Post("/", CreateLink(d.Links, d.BaseURL, d.Logger))
			r.Get("/{shortCode}", GetLink(d.Links, d.BaseURL, d.Logger))
			r.Patch("/{shortCode}", UpdateLink(d.Links, d.BaseURL, d.Logger))
			r.Put("/{shortCode}/qr-options", SetQROptions(d.Links, d.Logger))
			r.Delete("/{shortCode}", DeleteLink(d.Links, d.Logger))
		})
	})

	return r
}

func limit(rl *middleware.RateLimiter) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return rl.Middleware
}
