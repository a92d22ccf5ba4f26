package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/swarmguard/gateway/internal/actor"
	"github.com/swarmguard/gateway/internal/domain"
	"github.com/swarmguard/gateway/internal/ids"
)

const maxBodyBytes = 2 << 20

type createTaskBody struct {
	Type         string          `json:"type"`
	Priority     int             `json:"priority,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	Capabilities []string        `json:"capabilities,omitempty"`
	Async        bool            `json:"async,omitempty"`
}

// handleCreateTask implements POST /api/task.
func (a *API) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		return
	}
	if err := a.validator.ValidateJSON("create_task", body); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", err.Error())
		return
	}
	var in createTaskBody
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid json")
		return
	}

	id := ids.NewTaskID()
	ctx, cancel := context.WithTimeout(r.Context(), 65*time.Second)
	defer cancel()

	task, err := a.sys.TaskInstanceFor(id).CreateTask(ctx, domain.TaskRequest{
		Type:                 in.Type,
		Priority:             in.Priority,
		Payload:              in.Payload,
		RequiredCapabilities: in.Capabilities,
		Async:                in.Async,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleGetTask implements GET /api/task/{id}.
func (a *API) handleGetTask(w http.ResponseWriter, r *http.Request, id string) {
	task := a.sys.TaskInstanceFor(id).GetStatus()
	if task.ID == "" {
		writeError(w, http.StatusNotFound, "NotFound", "no such task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type updateTaskBody struct {
	Status   domain.TaskStatus `json:"status"`
	Result   json.RawMessage   `json:"result,omitempty"`
	Progress *int              `json:"progress,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// handleUpdateTask implements PUT /api/task/{id}, the backend worker's
// callback delivery for the async predict path.
func (a *API) handleUpdateTask(w http.ResponseWriter, r *http.Request, id string) {
	body, err := readBody(w, r)
	if err != nil {
		return
	}
	if err := a.validator.ValidateJSON("update_task", body); err != nil && len(body) > 0 {
		// progress-only pings omit "status"; only reject malformed bodies
		var probe map[string]any
		if json.Unmarshal(body, &probe) != nil {
			writeError(w, http.StatusBadRequest, "ValidationError", err.Error())
			return
		}
	}
	var in updateTaskBody
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid json")
		return
	}

	task, err := a.sys.TaskInstanceFor(id).ApplyCallback(actor.CallbackUpdate{
		Status:   in.Status,
		Result:   in.Result,
		Progress: in.Progress,
		Error:    in.Error,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleRetryTask implements POST /api/task/{id}/retry.
func (a *API) handleRetryTask(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.sys.TaskInstanceFor(id).Retry(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "retry scheduled"})
}

// handleCancelTask implements POST /api/task/{id}/cancel.
func (a *API) handleCancelTask(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.sys.TaskInstanceFor(id).Cancel(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "task cancelled"})
}

type registerServerBody struct {
	ID             string          `json:"id,omitempty"`
	Name           string          `json:"name"`
	Endpoints      domain.Endpoints `json:"endpoints"`
	APIKey         string          `json:"apiKey,omitempty"`
	MaxConcurrency int             `json:"maxConcurrency"`
	Capabilities   map[string]bool `json:"capabilities,omitempty"`
	Groups         map[string]bool `json:"groups,omitempty"`
	Priority       int             `json:"priority,omitempty"`
}

// handleRegisterServer implements POST /api/servers (admin).
func (a *API) handleRegisterServer(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		return
	}
	if err := a.validator.ValidateJSON("register_server", body); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", err.Error())
		return
	}
	var in registerServerBody
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid json")
		return
	}

	id, err := a.sys.Registry().RegisterServer(domain.ServerConfig{
		ID:             in.ID,
		Name:           in.Name,
		Endpoints:      in.Endpoints,
		APIKey:         in.APIKey,
		MaxConcurrency: in.MaxConcurrency,
		Capabilities:   in.Capabilities,
		Groups:         in.Groups,
		Priority:       in.Priority,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"serverId": id, "message": "registered"})
}

// handleListServers implements GET /api/servers.
func (a *API) handleListServers(w http.ResponseWriter, r *http.Request) {
	filter := actor.ServerFilter{
		Status: r.URL.Query().Get("status"),
		Group:  r.URL.Query().Get("group"),
	}
	servers := a.sys.Registry().GetAvailableServers(filter)
	writeJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

// handleHeartbeat implements POST /api/servers/{id}/heartbeat.
func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.sys.Registry().UpdateHeartbeat(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleUnregisterServer implements DELETE /api/servers/{id}.
func (a *API) handleUnregisterServer(w http.ResponseWriter, r *http.Request, id string) {
	a.sys.Registry().UnregisterServer(id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type maintenanceBody struct {
	Enabled bool `json:"enabled"`
}

// handleMaintenance implements PUT /api/servers/{id}/maintenance.
func (a *API) handleMaintenance(w http.ResponseWriter, r *http.Request, id string) {
	body, err := readBody(w, r)
	if err != nil {
		return
	}
	var in maintenanceBody
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid json")
		return
	}
	a.sys.ServerInstanceFor(id).SetMaintenanceMode(in.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleServerMetrics implements GET /api/servers/{id}/metrics.
func (a *API) handleServerMetrics(w http.ResponseWriter, r *http.Request, id string) {
	writeJSON(w, http.StatusOK, a.sys.ServerInstanceFor(id).GetMetrics())
}

// handleStats implements GET /api/stats.
func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	sa := a.aggregatorForQuery(r)
	sa.Flush()
	writeJSON(w, http.StatusOK, sa.GetStats())
}

// handleHourlyStats implements GET /api/stats/hourly.
func (a *API) handleHourlyStats(w http.ResponseWriter, r *http.Request) {
	sa := a.aggregatorForQuery(r)
	sa.Flush()
	buckets := sa.GetHourlyReport()

	type hourlyReport struct {
		Period     string `json:"period"`
		Tasks      int64  `json:"tasks"`
		Successes  int64  `json:"successes"`
		Failures   int64  `json:"failures"`
	}
	out := make([]hourlyReport, 24)
	for h := 0; h < 24; h++ {
		out[h] = hourlyReport{
			Period:    strconv.Itoa(h) + ":00-" + strconv.Itoa(h) + ":59",
			Tasks:     buckets[h].Tasks,
			Successes: buckets[h].Successes,
			Failures:  buckets[h].Failures,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleServerStats implements GET /api/stats/server/{id}.
func (a *API) handleServerStats(w http.ResponseWriter, r *http.Request, id string) {
	sa := a.aggregatorForQuery(r)
	sa.Flush()
	stats, _ := sa.GetServerStats(id) // a zero-value ServerStats is a valid empty record, per spec section 4.5
	writeJSON(w, http.StatusOK, stats)
}

// handleLoadBalancerStatus implements GET /api/loadbalancer/status.
func (a *API) handleLoadBalancerStatus(w http.ResponseWriter, r *http.Request) {
	snap := a.sys.LoadBalancer().Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"algorithm":      snap.Algorithm,
		"healthyServers": snap.HealthyServers,
		"totalServers":   snap.TotalServers,
		"serverLoads":    snap.Loads,
	})
}

type setAlgorithmBody struct {
	Algorithm domain.LBAlgorithm `json:"algorithm"`
}

// handleSetAlgorithm implements PUT /api/loadbalancer/algorithm.
func (a *API) handleSetAlgorithm(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		return
	}
	var in setAlgorithmBody
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "invalid json")
		return
	}
	if err := a.sys.LoadBalancer().SetAlgorithm(in.Algorithm); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) aggregatorForQuery(r *http.Request) *actor.StatsAggregator {
	date := r.URL.Query().Get("date")
	if date == "" {
		return a.sys.StatsAggregatorForNow()
	}
	return a.sys.StatsAggregatorFor(date)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "ValidationError", "failed to read body")
		return nil, err
	}
	return body, nil
}

