// Package httpapi is the ingress collaborator: JWT-authenticated HTTP/JSON
// handlers delegating to the actor system, matching the endpoint table and
// error-status mapping of spec section 6/7. Grounded on api-gateway's
// gateway_v2.go for middleware shape (logging/tracing wrapper, request-id
// propagation, metric instruments) and request_validator.go for body
// validation.
package httpapi

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/gateway/internal/actor"
	"github.com/swarmguard/gateway/internal/config"
)

// API holds the collaborators every handler needs.
type API struct {
	sys        *actor.System
	validator  *Validator
	reloadable *config.Reloadable
	jwtSecret  string

	reqCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewAPI builds the handler set and returns the mux ready to serve.
func NewAPI(sys *actor.System, reloadable *config.Reloadable, jwtSecret string) http.Handler {
	meter := otel.GetMeterProvider().Meter(serviceName)
	reqCounter, _ := meter.Int64Counter("gateway_http_requests_total")
	latencyHist, _ := meter.Float64Histogram("gateway_http_latency_ms")

	a := &API{
		sys:         sys,
		validator:   NewValidator(),
		reloadable:  reloadable,
		jwtSecret:   jwtSecret,
		reqCounter:  reqCounter,
		latencyHist: latencyHist,
	}
	return a.routes()
}

func (a *API) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	auth := func(h http.HandlerFunc) http.HandlerFunc { return authMiddleware(a.jwtSecret, h) }
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			adminMiddleware(a.jwtSecret, a.reloadable.AdminRoleClaim.Load().(string), h)(w, r)
		}
	}
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return loggingMiddleware(a.reqCounter, a.latencyHist, h)
	}

	mux.HandleFunc("POST /api/task", wrap(auth(a.handleCreateTask)))
	mux.HandleFunc("GET /api/task/{id}", wrap(auth(func(w http.ResponseWriter, r *http.Request) {
		a.handleGetTask(w, r, r.PathValue("id"))
	})))
	mux.HandleFunc("PUT /api/task/{id}", wrap(auth(func(w http.ResponseWriter, r *http.Request) {
		a.handleUpdateTask(w, r, r.PathValue("id"))
	})))
	mux.HandleFunc("POST /api/task/{id}/retry", wrap(auth(func(w http.ResponseWriter, r *http.Request) {
		a.handleRetryTask(w, r, r.PathValue("id"))
	})))
	mux.HandleFunc("POST /api/task/{id}/cancel", wrap(auth(func(w http.ResponseWriter, r *http.Request) {
		a.handleCancelTask(w, r, r.PathValue("id"))
	})))

	mux.HandleFunc("POST /api/servers", wrap(admin(a.handleRegisterServer)))
	mux.HandleFunc("GET /api/servers", wrap(auth(a.handleListServers)))
	mux.HandleFunc("POST /api/servers/{id}/heartbeat", wrap(auth(func(w http.ResponseWriter, r *http.Request) {
		a.handleHeartbeat(w, r, r.PathValue("id"))
	})))
	mux.HandleFunc("DELETE /api/servers/{id}", wrap(admin(func(w http.ResponseWriter, r *http.Request) {
		a.handleUnregisterServer(w, r, r.PathValue("id"))
	})))
	mux.HandleFunc("PUT /api/servers/{id}/maintenance", wrap(admin(func(w http.ResponseWriter, r *http.Request) {
		a.handleMaintenance(w, r, r.PathValue("id"))
	})))
	mux.HandleFunc("GET /api/servers/{id}/metrics", wrap(auth(func(w http.ResponseWriter, r *http.Request) {
		a.handleServerMetrics(w, r, r.PathValue("id"))
	})))

	mux.HandleFunc("GET /api/stats", wrap(auth(a.handleStats)))
	mux.HandleFunc("GET /api/stats/hourly", wrap(auth(a.handleHourlyStats)))
	mux.HandleFunc("GET /api/stats/server/{id}", wrap(auth(func(w http.ResponseWriter, r *http.Request) {
		a.handleServerStats(w, r, r.PathValue("id"))
	})))

	mux.HandleFunc("GET /api/loadbalancer/status", wrap(auth(a.handleLoadBalancerStatus)))
	mux.HandleFunc("PUT /api/loadbalancer/algorithm", wrap(admin(a.handleSetAlgorithm)))

	return mux
}
