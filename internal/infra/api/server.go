package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Checkout CheckoutService
	Episodes EpisodeService
	Webhook  WebhookProcessor

	Identity *IdentityVerifier
	// AppCheck is nil when app attestation is not enforced.
	AppCheck *AppCheckVerifier

	Throttler      Throttler
	ThrottleLimit  int
	ThrottleWindow time.Duration

	Health         map[string]HealthCheck
	RequestTimeout time.Duration
	Logger         *zerolog.Logger
}

// Server is the HTTP surface: callables, the Stripe webhook, health and metrics.
type Server struct {
	checkout  CheckoutService
	episodes  EpisodeService
	webhook   WebhookProcessor
	appCheck  *AppCheckVerifier
	functions map[string]callable
	health    map[string]HealthCheck
	deps      Deps
	log       *zerolog.Logger
}

func NewServer(d Deps) *Server {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}
	l := d.Logger.With().Str("component", "API").Logger()
	s := &Server{
		checkout: d.Checkout,
		episodes: d.Episodes,
		webhook:  d.Webhook,
		appCheck: d.AppCheck,
		health:   d.Health,
		deps:     d,
		log:      &l,
	}
	s.functions = s.callables()
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		TraceID(),
		Recover(s.log),
		RequestLog(s.log),
		Timeout(s.deps.RequestTimeout),
	)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/webhooks/stripe", s.handleStripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(
			Authenticate(s.deps.Identity, s.log),
			Throttle(s.deps.Throttler, s.deps.ThrottleLimit, s.deps.ThrottleWindow, s.log),
		)
		r.Post("/v1/{name}", s.handleCallable)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	out := make(map[string]string, len(s.health))
	for name, check := range s.health {
		if err := check(ctx); err != nil {
			s.log.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			out[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		out[name] = "ok"
	}
	writeJSON(w, status, out)
}

// ListenAndServe serves until ctx is cancelled, then drains for up to grace.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, grace time.Duration, logger *zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	logger.Info().Msg("HTTP server shutting down")
	return srv.Shutdown(sctx)
}
