// Package backend implements the egress HTTP client ServerInstance uses to
// talk to backend workers: POST {predict} and GET {health}. It consolidates
// what the teacher carried as two near-duplicate implementations
// (task_executor.go's HTTPTaskExecutor and plugins.go's HTTPPlugin) into one
// client type.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/swarmguard/gateway/internal/resilience"
)

const (
	predictTimeout    = 30 * time.Second
	healthTimeout     = 5 * time.Second
	maxResponseBytes  = 10 << 20
)

// Client is the shared HTTP client ServerInstance uses for both the
// predict and health calls, connection-pooled per orchestrator's
// task_executor.go.
type Client struct {
	http *http.Client
}

// NewClient builds a connection-pooled client.
func NewClient() *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// PredictRequest is the JSON body POSTed to endpoints.predict.
type PredictRequest struct {
	TaskID      string          `json:"task_id"`
	Request     json.RawMessage `json:"request"`
	CallbackURL string          `json:"callback_url"`
}

// PredictResult is the synchronous 2xx JSON response in Result, or Async
// set with an empty Result when the worker replied 202 (async path, result
// delivered later via callback).
type PredictResult struct {
	Async  bool
	Result json.RawMessage
}

// headerCarrier adapts http.Header to OTel's TextMapCarrier, consolidating
// the copy of this type that appeared separately in task_executor.go,
// plugins.go, and gateway_v2.go in the teacher.
type headerCarrier http.Header

func (c headerCarrier) Get(key string) string   { return http.Header(c).Get(key) }
func (c headerCarrier) Set(key, val string)     { http.Header(c).Set(key, val) }
func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Predict POSTs a task to endpoints.predict with the 30s timeout spec
// section 4.2/6 mandates, retrying transient network failures via
// internal/resilience.Retry. A non-2xx response is a BackendError and is
// not retried here — that distinction belongs to TaskInstance/ServerInstance,
// not to this transport-level client.
func (c *Client) Predict(ctx context.Context, predictURL, apiKey string, req PredictRequest) (PredictResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return PredictResult{}, fmt.Errorf("marshal predict request: %w", err)
	}

	var statusErr error
	result, err := resilience.Retry(ctx, 2, 200*time.Millisecond, func() (PredictResult, error) {
		reqCtx, cancel := context.WithTimeout(ctx, predictTimeout)
		defer cancel()

		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, predictURL, bytes.NewReader(body))
		if err != nil {
			return PredictResult{}, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Task-ID", req.TaskID)
		if apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+apiKey)
		}
		otel.GetTextMapPropagator().Inject(reqCtx, headerCarrier(httpReq.Header))

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return PredictResult{}, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return PredictResult{}, err
		}

		if resp.StatusCode == http.StatusAccepted {
			return PredictResult{Async: true}, nil
		}
		if resp.StatusCode >= 400 {
			// Reported after Retry returns, so the attempt loop stops here.
			statusErr = fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(data))
			return PredictResult{}, nil
		}
		return PredictResult{Result: json.RawMessage(data)}, nil
	})
	if err != nil {
		return PredictResult{}, err
	}
	if statusErr != nil {
		return PredictResult{}, statusErr
	}
	return result, nil
}

// healthBody is the minimal shape of a 2xx /health response the identity
// check in spec section 4.2 needs.
type healthBody struct {
	ServerID string `json:"serverId"`
}

// HealthCheck GETs endpoints.health with the 5s timeout from spec section
// 4.2/6 and verifies the responder's reported id matches expectedID — a
// mismatch counts as a health failure since the peer is not the one
// registered.
func (c *Client) HealthCheck(ctx context.Context, healthURL, expectedID string) error {
	reqCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, healthURL, nil)
	if err != nil {
		return err
	}
	otel.GetTextMapPropagator().Inject(reqCtx, headerCarrier(httpReq.Header))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var body healthBody
	if err := json.Unmarshal(data, &body); err != nil {
		return fmt.Errorf("health check response not JSON: %w", err)
	}
	if body.ServerID != expectedID {
		return fmt.Errorf("health check identity mismatch: expected %q got %q", expectedID, body.ServerID)
	}
	return nil
}

// Propagator is the TraceContext propagator that this package's init
// installs as the global text-map propagator.
var Propagator = propagation.TraceContext{}

func init() {
	otel.SetTextMapPropagator(Propagator)
}
