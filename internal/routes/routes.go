package routes

import (
	"net/http"

	"github.com/carebridge/accountsec/internal/handlers"
	"github.com/carebridge/accountsec/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// Authenticator wraps handlers that require a live session. Middleware
// counts the request as activity; Passive does not.
type Authenticator interface {
	Middleware(next http.Handler) http.Handler
	Passive(next http.Handler) http.Handler
}

// Handlers groups everything the router mounts
type Handlers struct {
	Auth              *handlers.AuthHandler
	TwoFactor         *handlers.TwoFactorHandler
	Phone             *handlers.PhoneHandler
	SecurityQuestions *handlers.SecurityQuestionHandler
	Sessions          *handlers.SessionHandler
	SecurityEvents    *handlers.SecurityEventHandler
	Health            *handlers.HealthHandler
}

type Limits struct {
	Login     middleware.RateLimitConfig
	PhoneSend middleware.RateLimitConfig
	// StepUp is one budget shared by every route that checks a code,
	// password or security answer.
	StepUp middleware.RateLimitConfig
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, h Handlers, authn Authenticator, limits Limits) {
	router.Get("/health", h.Health.Health)

	// Public routes - no authentication required
	router.With(middleware.RateLimitByIP(limits.Login)).Post("/auth/login", h.Auth.Login)

	// Polling the timeout must not keep the session alive.
	router.With(authn.Passive).Get("/sessions/current/timeout", h.Sessions.Timeout)

	// Protected routes - every request is session activity
	router.Group(func(r chi.Router) {
		r.Use(authn.Middleware)
		stepUp := middleware.RateLimitByUser(limits.StepUp)

		r.Post("/auth/logout", h.Auth.Logout)

		r.Post("/2fa/setup", h.TwoFactor.Setup)
		r.With(stepUp).Post("/2fa/verify", h.TwoFactor.Verify)
		r.With(stepUp).Post("/2fa/disable", h.TwoFactor.Disable)
		r.Get("/2fa/status", h.TwoFactor.Status)
		r.With(stepUp).Post("/2fa/backup-codes", h.TwoFactor.RegenerateBackupCodes)

		r.With(middleware.RateLimitByUser(limits.PhoneSend)).Post("/phone/send-code", h.Phone.SendCode)
		r.Post("/phone/verify-code", h.Phone.VerifyCode)

		r.Get("/security-questions", h.SecurityQuestions.Get)
		r.Post("/security-questions/save", h.SecurityQuestions.Save)
		r.With(stepUp).Post("/security-questions/verify", h.SecurityQuestions.Verify)

		r.Get("/sessions", h.Sessions.List)
		r.Post("/sessions/terminate-others", h.Sessions.TerminateOthers)
		r.Post("/sessions/current/extend", h.Sessions.Extend)
		r.Delete("/sessions/{id}", h.Sessions.Terminate)

		r.Get("/security-events", h.SecurityEvents.List)
	})
}
