package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fulfillment-backend-trusted/internal/config"
	"fulfillment-backend-trusted/internal/logger"
	"fulfillment-backend-trusted/internal/metrics"
	"fulfillment-backend-trusted/internal/security"

	"github.com/gorilla/mux"
)

type contextKey string

const operatorKey contextKey = "operator"

// OperatorFromContext returns the claims attached by the auth middleware.
func OperatorFromContext(ctx context.Context) (*security.OperatorClaims, bool) {
	claims, ok := ctx.Value(operatorKey).(*security.OperatorClaims)
	return claims, ok
}

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if name := route.GetName(); name != "" {
			return name
		}
	}
	return "unknown"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeName(r)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		logger.DebugContext(r.Context(), "HTTP request", "route", route, "method", r.Method, "status", rec.status, "duration", elapsed)
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				logger.ErrorContext(r.Context(), "HTTP handler panicked", "route", routeName(r), "panic", p)
				respondError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// newAuthMiddleware enforces bearer tokens on operator routes. Signed routes
// verify their HMAC in the handler, since it covers the raw body.
func newAuthMiddleware(tokens security.TokenManager) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.GetRouteSecurityLevel(routeName(r)) != config.SecurityOperator {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if len(authHeader) <= 7 || !strings.EqualFold(authHeader[:7], "Bearer ") {
				respondError(w, http.StatusUnauthorized, "authorization token is not provided")
				return
			}

			claims, err := tokens.ValidateToken(authHeader[7:])
			if err != nil {
				respondError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
