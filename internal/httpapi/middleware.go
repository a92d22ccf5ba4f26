package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/gateway/internal/domain"
)

const serviceName = "swarmguard-gateway"

// responseWriter captures the status code for the logging middleware,
// same shape as api-gateway's gateway_v2.go.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware wraps every request with a trace span, a request id,
// and a structured completion log line plus request-count/latency metrics.
func loggingMiddleware(reqCounter metric.Int64Counter, latencyHist metric.Float64Histogram, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := otel.Tracer(serviceName).Start(r.Context(), r.URL.Path)
		defer span.End()

		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = fmt.Sprintf("%d-%d", time.Now().UnixNano(), os.Getpid())
		}
		w.Header().Set("X-Request-ID", reqID)

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next(rw, r.WithContext(ctx))

		duration := float64(time.Since(start).Milliseconds())
		reqCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("path", r.URL.Path),
			attribute.Int("status", rw.status),
		))
		latencyHist.Record(ctx, duration, metric.WithAttributes(attribute.String("path", r.URL.Path)))

		slog.InfoContext(ctx, "request completed",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", duration,
		)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorBody is the {error, details?} shape spec section 6 mandates for
// every non-2xx ingress response.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: kind, Details: message})
}

// kindToStatus maps the error taxonomy of spec section 7 to an HTTP status,
// as a small lookup table rather than a type switch.
var kindToStatus = map[domain.ErrorKind]int{
	domain.KindValidation:        http.StatusBadRequest,
	domain.KindNotFound:          http.StatusNotFound,
	domain.KindAuth:              http.StatusUnauthorized,
	domain.KindNoAvailableServers: http.StatusConflict,
	domain.KindServerUnavailable:  http.StatusConflict,
	domain.KindAtCapacity:         http.StatusConflict,
	domain.KindBackendError:       http.StatusBadGateway,
	domain.KindIllegalTransition:  http.StatusConflict,
	domain.KindInternal:           http.StatusInternalServerError,
}

// writeDomainError renders err (expected to be a *domain.Error, but handled
// safely otherwise) as a sanitized client response: kind and message only,
// never internal details.
func writeDomainError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	status, ok := kindToStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeError(w, status, string(kind), err.Error())
}
