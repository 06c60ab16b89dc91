package middleware

import (
	"net/http"
	"time"

	"github.com/carebridge/accountsec/internal/auth"
	pkghttp "github.com/carebridge/accountsec/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig is a request budget per window
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// DefaultLoginRateLimit caps login requests from one address. The lockout
// guard handles per-account brute force; this only blunts floods.
func DefaultLoginRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 20, Window: time.Minute}
}

// DefaultPhoneSendRateLimit caps SMS sends per user
func DefaultPhoneSendRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 5, Window: time.Hour}
}

// DefaultStepUpRateLimit caps re-authentication requests (codes, passwords,
// security answers) per user on top of the per-credential lockout.
func DefaultStepUpRateLimit() RateLimitConfig {
	return RateLimitConfig{Requests: 30, Window: time.Hour}
}

// RateLimitByIP limits requests per client address
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByUser limits requests per authenticated user and falls back to
// the client address when no claims are present. It must run after the
// authenticator.
func RateLimitByUser(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.Requests,
		config.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.GetUserFromContext(r); claims != nil {
				return "user:" + claims.UserID, nil
			}
			return httprate.KeyByRealIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Rate limit exceeded. Please slow down.")
}
