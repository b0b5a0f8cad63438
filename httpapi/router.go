package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/MrEthical07/goSentinel/middleware"
)

// Options configures NewRouter. The zero value is usable.
type Options struct {
	Logger *slog.Logger
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool
	// RequestTimeout bounds every handler. Zero means 30s.
	RequestTimeout time.Duration
	// Metrics, when set, is mounted at GET /metrics.
	Metrics http.Handler
}

// NewRouter returns the HTTP surface of engine.
func NewRouter(engine *goSentinel.Engine, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	h := &handler{engine: engine, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))
	r.Use(middleware.RequestMeta(opts.TrustProxy))

	r.Get("/healthz", h.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Post("/login", h.login)
	r.Post("/refresh", h.refresh)
	r.Post("/logout", h.logout)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Guard(engine, middleware.WithErrorWriter(h.renderError)))

		r.Get("/whoami", h.whoami)
		r.Get("/sessions", h.sessions)
		r.Route("/mfa", func(r chi.Router) {
			r.Post("/setup", h.mfaSetup)
			r.Post("/enable", h.mfaEnable)
			r.Post("/verify", h.mfaVerify)
			r.Post("/disable", h.mfaDisable)
		})
	})

	return r
}
