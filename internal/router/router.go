// Package router mounts the HTTP surface on the standard library's
// http.ServeMux and layers the cross-cutting middleware.
package router

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dkostenko/carnet/internal/authz"
	"github.com/dkostenko/carnet/internal/contact"
	"github.com/dkostenko/carnet/internal/user"
	"github.com/dkostenko/carnet/internal/user/entity"
)

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
			// ensure status is set
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(dur.Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
// It is intentionally simple and conservative so it works with most setups.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prevent MIME sniffing
			w.Header().Set("X-Content-Type-Options", "nosniff")

			// Clickjacking protection
			w.Header().Set("X-Frame-Options", "DENY")

			// Referrer policy
			w.Header().Set("Referrer-Policy", "no-referrer-when-downgrade")

			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}

			// HSTS only applies over TLS
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Config carries the wired handlers and middleware for route registration.
type Config struct {
	Users         *user.Handler
	Contacts      *contact.Handler
	Auth          *authz.Middleware
	Limiter       *RateLimiter
	AllowedOrigin string
	Registry      *prometheus.Registry
	Logger        *zap.SugaredLogger
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(cfg Config) http.Handler {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	// account routes
	mux.HandleFunc("POST /user/signup", cfg.Users.Signup)
	mux.HandleFunc("POST /user/login", cfg.Users.Login)
	mux.HandleFunc("GET /user/verify-email", cfg.Users.VerifyEmail)
	mux.HandleFunc("POST /user/request-password-reset", cfg.Users.RequestPasswordReset)
	mux.HandleFunc("POST /user/reset-password", cfg.Users.ResetPassword)

	authed := cfg.Auth.Authenticate
	mux.Handle("GET /user/me", authed(cfg.Limiter.Middleware(http.HandlerFunc(cfg.Users.Me))))
	mux.Handle("POST /user/avatar", authed(http.HandlerFunc(cfg.Users.UploadAvatar)))
	mux.Handle("PATCH /user/role", authed(authz.RequireRole(entity.RoleAdmin)(http.HandlerFunc(cfg.Users.SetRole))))

	// contact routes, all authenticated
	mux.Handle("POST /contacts/{$}", authed(http.HandlerFunc(cfg.Contacts.Create)))
	mux.Handle("GET /contacts/{$}", authed(http.HandlerFunc(cfg.Contacts.List)))
	mux.Handle("GET /contacts/upcoming-birthdays/{$}", authed(http.HandlerFunc(cfg.Contacts.UpcomingBirthdays)))
	mux.Handle("GET /contacts/{id}", authed(http.HandlerFunc(cfg.Contacts.Get)))
	mux.Handle("PUT /contacts/{id}", authed(http.HandlerFunc(cfg.Contacts.Update)))
	mux.Handle("DELETE /contacts/{id}", authed(http.HandlerFunc(cfg.Contacts.Delete)))

	// wrap with security headers middleware then logging middleware
	var handler http.Handler = SecurityHeadersMiddleware()(mux)
	if cfg.AllowedOrigin != "" {
		handler = CORSMiddleware(cfg.AllowedOrigin)(handler)
	}
	handler = LoggingMiddleware(cfg.Logger)(handler)
	return handler
}
