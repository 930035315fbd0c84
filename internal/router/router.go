package router

import (
	"net/http"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/claudiohpo/Relatorio-KM/internal/account"
	"github.com/claudiohpo/Relatorio-KM/internal/config"
	"github.com/claudiohpo/Relatorio-KM/internal/notify"
	"github.com/claudiohpo/Relatorio-KM/internal/report"
	"github.com/claudiohpo/Relatorio-KM/internal/trip"
	"github.com/claudiohpo/Relatorio-KM/pkg/utilities"
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

// RequestIDMiddleware assigns each request a snowflake correlation id,
// echoed back as X-Request-Id.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = utilities.NewSnowflakeID()
			}
			w.Header().Set("X-Request-Id", id)
			next.ServeHTTP(w, r)
		})
	}
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			dur := time.Since(start)
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
				"request_id", lrw.Header().Get("X-Request-Id"),
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

			// Permissions policy - tighten common features
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")

			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self';")
			}

			// HSTS only makes sense over TLS
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

var maintenanceAllowlist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^/maintenance\.html$`),
	regexp.MustCompile(`(?i)^/css/maintenance\.css$`),
	regexp.MustCompile(`(?i)^/images/`),
	regexp.MustCompile(`(?i)^/site\.webmanifest$`),
	regexp.MustCompile(`(?i)^/favicon\.ico$`),
}

// MaintenanceMiddleware redirects all traffic to the maintenance page
// while MAINTENANCE_MODE is active, except the static assets the page
// itself needs.
func MaintenanceMiddleware(enabled func() bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled() {
				next.ServeHTTP(w, r)
				return
			}
			for _, pattern := range maintenanceAllowlist {
				if pattern.MatchString(r.URL.Path) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Redirect(w, r, "/maintenance.html", http.StatusTemporaryRedirect)
		})
	}
}

// RegisterRoutes mounts HTTP handlers using the standard library's http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, db *sqlx.DB, cfg config.Config, notifier notify.Notifier) http.Handler {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// account routes: a single action endpoint plus per-action aliases
	accountHandler := account.NewHandler(db, notifier, logger, cfg.BaseURL)
	mux.HandleFunc("POST /api/users", accountHandler.Actions)
	for _, action := range []string{"register", "login", "recover",
		"verify-reset-token", "reset-password", "change-password"} {
		mux.HandleFunc("POST /api/users/"+action, accountHandler.Action(action))
	}

	// trip record routes
	tripHandler := trip.NewHandler(db, logger)
	mux.HandleFunc("GET /api/km", tripHandler.Get)
	mux.HandleFunc("POST /api/km", tripHandler.Post)
	mux.HandleFunc("PUT /api/km", tripHandler.Put)
	mux.HandleFunc("DELETE /api/km", tripHandler.Delete)

	// report route
	reportHandler := report.NewHandler(db, logger)
	mux.HandleFunc("GET /api/report", reportHandler.Get)

	handler := SecurityHeadersMiddleware()(mux)
	handler = LoggingMiddleware(logger)(handler)
	handler = MaintenanceMiddleware(cfg.MaintenanceEnabled)(handler)
	handler = RequestIDMiddleware()(handler)
	return handler
}
