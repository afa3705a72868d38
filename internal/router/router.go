package router

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/middleware"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/verification"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/apierror"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

type Config struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:*"`
	APIPrefix      string   `env:"API_PREFIX" envDefault:"/api/v1"`
	Environment    string   `env:"APP_ENV" envDefault:"development"`
}

func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := utilities.ParseEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("router config: %w", err)
	}
	cfg.APIPrefix = "/" + strings.Trim(cfg.APIPrefix, "/")
	if cfg.APIPrefix == "/" {
		cfg.APIPrefix = ""
	}
	return cfg, nil
}

// Deps are the handlers mounted by RegisterRoutes.
type Deps struct {
	Auth         *user.Handler
	Verification *verification.Handler
	Tokens       middleware.TokenParser
}

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

// LoggingMiddleware logs every request at debug level.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// RecoverMiddleware turns a handler panic into a logged 500 SERVER_ERROR.
func RecoverMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Errorw("panic in handler", "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
					apierror.Internal(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			// JSON API: nothing should ever be rendered or framed
			if h.Get("Content-Security-Policy") == "" {
				h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none';")
			}
			// only meaningful over TLS
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=15552000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

type healthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Environment string    `json:"environment"`
}

// RegisterRoutes mounts the API on a standard library http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, cfg Config, d Deps) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.RequireAuth(d.Tokens)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		apierror.WriteJSON(w, http.StatusOK, healthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Environment: cfg.Environment,
		})
	})

	p := cfg.APIPrefix
	mux.HandleFunc("POST "+p+"/auth/login", d.Auth.Login)
	mux.HandleFunc("POST "+p+"/auth/login/google", d.Auth.LoginGoogle)
	mux.HandleFunc("POST "+p+"/auth/register", d.Auth.Register)
	mux.HandleFunc("POST "+p+"/auth/refresh", d.Auth.Refresh)
	mux.HandleFunc("POST "+p+"/auth/logout", d.Auth.Logout)
	mux.HandleFunc("POST "+p+"/auth/forgot-password", d.Auth.ForgotPassword)
	mux.Handle("GET "+p+"/auth/me", auth(http.HandlerFunc(d.Auth.Me)))
	mux.Handle("POST "+p+"/auth/complete-profile", auth(http.HandlerFunc(d.Auth.CompleteProfile)))

	mux.Handle("POST "+p+"/verification/send", auth(http.HandlerFunc(d.Verification.Send)))
	mux.Handle("POST "+p+"/verification/resend", auth(http.HandlerFunc(d.Verification.Resend)))
	mux.Handle("POST "+p+"/verification/verify", auth(http.HandlerFunc(d.Verification.Verify)))
	mux.Handle("GET "+p+"/verification/status", auth(http.HandlerFunc(d.Verification.Status)))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		apierror.Write(w, http.StatusNotFound, apierror.NotFound, "Endpoint not found")
	})

	cors := middleware.CORS(cfg.AllowedOrigins)
	return RecoverMiddleware(logger)(LoggingMiddleware(logger)(SecurityHeadersMiddleware()(cors(mux))))
}
