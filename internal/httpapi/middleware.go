package httpapi

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aegis-gate/aegisgate-go/internal/config"
	"github.com/aegis-gate/aegisgate-go/internal/reqcontext"
)

// RequestIDMiddleware extracts or generates a request ID for each request.
// If the client provides a valid X-Request-Id header, it is used.
// Otherwise, a new UUID v4 is generated.
// The request ID is:
// - Added to the request context
// - Set in the response header (before calling next handler)
// - Available for logging via reqcontext.GetRequestID(ctx)
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		providedID := r.Header.Get(reqcontext.RequestIDHeader)
		requestID := reqcontext.GetOrGenerateRequestID(providedID)

		// Set response header BEFORE calling next handler so the ID is
		// present even if the handler panics.
		w.Header().Set(reqcontext.RequestIDHeader, requestID)

		ctx := reqcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// correlationMiddleware injects correlation ID and request source into context.
func (s *Server) correlationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = reqcontext.GenerateCorrelationID()
			}

			ctx := reqcontext.WithCorrelationID(r.Context(), correlationID)
			ctx = reqcontext.WithRequestSource(ctx, reqcontext.SourceRESTAPI)

			// Echo the correlation ID back so clients can track their calls.
			w.Header().Set("X-Correlation-ID", correlationID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// probePaths are polled by orchestrators and scrapers; logging every hit
// at Info would drown out the real traffic.
var probePaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// requestLoggingMiddleware logs each request with its status and duration.
func (s *Server) requestLoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			fields := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
				"request_id", reqcontext.GetRequestID(r.Context()),
			}
			if probePaths[r.URL.Path] {
				s.logger.Debugw("HTTP request", fields...)
				return
			}
			s.logger.Infow("HTTP request", fields...)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher by delegating to the underlying ResponseWriter
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// authMiddleware guards /api/v1 according to the configured auth mode.
//
// With no auth section (or mode "none") only loopback connections are
// accepted; exposing the admin API beyond localhost requires opting in
// to apikey or jwt auth. API keys are checked via the X-API-Key header
// or an apikey query parameter (the query form exists for EventSource
// clients that cannot set headers). JWT mode accepts a bearer token or
// a token query parameter and verifies an HS256 signature.
func (s *Server) authMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := s.deps.Auth
			if auth == nil || auth.AuthMode == config.AuthModeNone {
				if !isLoopbackAddr(r.RemoteAddr) {
					s.logger.Warnw("Rejected non-loopback request without authentication configured",
						"path", r.URL.Path,
						"remote_addr", r.RemoteAddr)
					s.writeError(w, http.StatusForbidden, "remote access requires apikey or jwt authentication")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			switch auth.AuthMode {
			case config.AuthModeAPIKey:
				if !validateAPIKey(r, auth.APIKey) {
					s.logger.Warnw("Rejected request with invalid API key",
						"path", r.URL.Path,
						"remote_addr", r.RemoteAddr)
					s.writeError(w, http.StatusUnauthorized, "invalid or missing API key")
					return
				}
			case config.AuthModeJWT:
				if err := validateJWT(r, auth.JWTSecret); err != nil {
					s.logger.Warnw("Rejected request with invalid JWT",
						"path", r.URL.Path,
						"remote_addr", r.RemoteAddr,
						"error", err)
					s.writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
					return
				}
			default:
				// Config validation rejects unknown modes at startup, but a
				// hand-built Deps could still carry one. Fail closed.
				s.writeError(w, http.StatusForbidden, "unsupported auth mode")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isLoopbackAddr(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// validateAPIKey checks the X-API-Key header, then the apikey query
// parameter. Comparison is constant time.
func validateAPIKey(r *http.Request, expectedKey string) bool {
	if expectedKey == "" {
		return false
	}
	key := r.Header.Get("X-API-Key")
	if key == "" {
		key = r.URL.Query().Get("apikey")
	}
	if key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(expectedKey)) == 1
}

func validateJWT(r *http.Request, secret string) error {
	raw := ""
	if header := r.Header.Get("Authorization"); header != "" {
		raw = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return jwt.ErrTokenMalformed
	}

	_, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err
}
