package http

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-petition/internal/config"
	"github.com/go-petition/internal/transport/http/handler"
	appmiddleware "github.com/go-petition/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, svcs *Services) (http.Handler, error) {
	trusted, err := appmiddleware.ParseProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(appmiddleware.ClientIPResolver(trusted))
	if cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10. The named per-email and per-ip
	// limits are applied by the services.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	healthH := handler.NewHealthHandler()
	otpH := handler.NewOTPHandler(svcs.OTP)
	sigH := handler.NewSignatureHandler(svcs.Signature, handler.BodyLimit(cfg.MaxSignatureImageBytes))
	auditH := handler.NewAuditHandler(svcs.Audit)
	petitionH := handler.NewPetitionHandler(svcs.Petition, cfg.SeedPetitionSlug)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)

		r.With(sensitiveRL.Limit).Post("/otp/request", otpH.Request)
		r.With(sensitiveRL.Limit).Post("/otp/verify", otpH.Verify)
		r.With(sensitiveRL.Limit).Post("/signatures", sigH.Submit)

		r.Get("/verify", auditH.Verify)
		r.Get("/petition", petitionH.Get)
		r.Get("/stats", petitionH.Stats)
		r.Get("/receipts/{id}", sigH.Receipt)
	})

	return r, nil
}
