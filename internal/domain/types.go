// Package domain holds the data model shared by every actor and the HTTP
// layer: ServerConfig, ServerInfo, Task, and the statistics shapes from
// spec section 3. Types here are plain data — no actor owns another
// actor's struct, only copies of it.
package domain

import (
	"encoding/json"
	"time"
)

// ServerStatus is the status enum shared by ServerInfo and
// ServerRuntimeState.
type ServerStatus string

const (
	ServerInitializing ServerStatus = "initializing"
	ServerOnline        ServerStatus = "online"
	ServerDegraded      ServerStatus = "degraded"
	ServerOffline        ServerStatus = "offline"
	ServerMaintenance    ServerStatus = "maintenance"
)

// Endpoints is the set of URLs a backend worker exposes.
type Endpoints struct {
	Predict string `json:"predict"`
	Health  string `json:"health"`
	Metrics string `json:"metrics,omitempty"`
}

// ServerConfig is immutable after registration.
type ServerConfig struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Endpoints      Endpoints         `json:"endpoints"`
	APIKey         string            `json:"apiKey,omitempty"`
	MaxConcurrency int               `json:"maxConcurrency"`
	Capabilities   map[string]bool   `json:"capabilities"`
	Groups         map[string]bool   `json:"groups"`
	Priority       int               `json:"priority"`
}

// HasCapability reports whether the config declares cap.
func (c ServerConfig) HasCapability(cap string) bool {
	return c.Capabilities[cap]
}

// HasAllCapabilities reports whether every entry in required is declared.
func (c ServerConfig) HasAllCapabilities(required []string) bool {
	for _, r := range required {
		if !c.Capabilities[r] {
			return false
		}
	}
	return true
}

// ServerInfo is ServerRegistry's view of a fleet member.
type ServerInfo struct {
	Config          ServerConfig `json:"config"`
	Status          ServerStatus `json:"status"`
	RegisteredAt    time.Time    `json:"registeredAt"`
	LastHeartbeat   time.Time    `json:"lastHeartbeat"`
}

// Uptime and TimeSinceLastHeartbeat are derived fields computed at read
// time, not stored.
func (s ServerInfo) Uptime(now time.Time) time.Duration {
	return now.Sub(s.RegisteredAt)
}

func (s ServerInfo) TimeSinceLastHeartbeat(now time.Time) time.Duration {
	return now.Sub(s.LastHeartbeat)
}

// ServerMetricsSnapshot is the cumulative-metrics portion of
// ServerRuntimeState, also what LoadBalancer caches per server.
type ServerMetricsSnapshot struct {
	TasksProcessed      int64   `json:"tasksProcessed"`
	Successes           int64   `json:"successes"`
	Failures            int64   `json:"failures"`
	TotalDurationMs     int64   `json:"totalDurationMs"`
	SuccessRate         float64 `json:"successRate"`
	AverageResponseMs   float64 `json:"averageResponseMs"`
	LastUpdate          time.Time `json:"lastUpdate"`
}

// ServerRuntimeSnapshot is what ServerInstance.getMetrics returns.
type ServerRuntimeSnapshot struct {
	ServerID        string                `json:"serverId"`
	Status          ServerStatus          `json:"status"`
	HealthScore     int                   `json:"healthScore"`
	ActiveTasks     int                   `json:"activeTasks"`
	MaxConcurrency  int                   `json:"maxConcurrency"`
	Healthy         bool                  `json:"healthy"`
	Capabilities    map[string]bool       `json:"capabilities"`
	Metrics         ServerMetricsSnapshot `json:"metrics"`
}

// TaskStatus is the task lifecycle enum of spec section 3.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskTimeout    TaskStatus = "TIMEOUT"
	TaskCancelled  TaskStatus = "CANCELLED"
)

// IsTerminal reports whether status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskTimeout, TaskCancelled:
		return true
	default:
		return false
	}
}

// TaskRequest is the opaque-payload request body accepted by createTask.
type TaskRequest struct {
	Type                 string          `json:"type"`
	Priority             int             `json:"priority,omitempty"`
	Payload              json.RawMessage `json:"payload"`
	RequiredCapabilities []string        `json:"capabilities,omitempty"`
	Async                bool            `json:"async,omitempty"`
}

// Attempt is one entry in a task's attempt history.
type Attempt struct {
	Number        int        `json:"number"`
	StartedAt     time.Time  `json:"startedAt"`
	PreviousStatus TaskStatus `json:"previousStatus"`
	PreviousError  string     `json:"previousError,omitempty"`
}

// Task is the full lifecycle record owned by one TaskInstance.
type Task struct {
	ID             string          `json:"id"`
	Status         TaskStatus      `json:"status"`
	Request        TaskRequest     `json:"request"`
	AssignedServer string          `json:"serverId,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	Progress       int             `json:"progress"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	Attempts       []Attempt       `json:"attempts"`
	RetryCount     int             `json:"retryCount"`
}

// LBAlgorithm is the tagged variant LoadBalancer dispatches on — a
// string-enum switched over, never an interface table, per spec section 9.
type LBAlgorithm string

const (
	AlgoRoundRobin         LBAlgorithm = "round-robin"
	AlgoWeightedRoundRobin LBAlgorithm = "weighted-round-robin"
	AlgoLeastConnections   LBAlgorithm = "least-connections"
	AlgoResponseTime       LBAlgorithm = "response-time"
	AlgoRandom             LBAlgorithm = "random"
)

// ValidAlgorithm reports whether a is one of the five known variants.
func ValidAlgorithm(a LBAlgorithm) bool {
	switch a {
	case AlgoRoundRobin, AlgoWeightedRoundRobin, AlgoLeastConnections, AlgoResponseTime, AlgoRandom:
		return true
	default:
		return false
	}
}

// SelectionCriteria is what TaskInstance hands to LoadBalancer.selectServer.
type SelectionCriteria struct {
	TaskType             string
	Priority             int
	RequiredCapabilities []string
}

// ServerStats is StatsAggregator's per-server counter record.
type ServerStats struct {
	ServerID        string    `json:"serverId"`
	TasksProcessed  int64     `json:"tasksProcessed"`
	Successes       int64     `json:"successes"`
	Failures        int64     `json:"failures"`
	TotalDurationMs int64     `json:"totalDurationMs"`
	LastActive      time.Time `json:"lastActive"`
}

// SuccessRate and AverageResponseMs are derived, not stored.
func (s ServerStats) SuccessRate() float64 {
	if s.TasksProcessed == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.TasksProcessed)
}

func (s ServerStats) AverageResponseMs() float64 {
	if s.TasksProcessed == 0 {
		return 0
	}
	return float64(s.TotalDurationMs) / float64(s.TasksProcessed)
}

// HourlyBucket is one of the 24 per-hour counters.
type HourlyBucket struct {
	Hour       int   `json:"hour"`
	Tasks      int64 `json:"tasks"`
	Successes  int64 `json:"successes"`
	Failures   int64 `json:"failures"`
}

// Statistics is the aggregate view returned by getStats.
type Statistics struct {
	Date                string         `json:"date"`
	Total               int64          `json:"total"`
	Pending             int64          `json:"pending"`
	Successful          int64          `json:"successful"`
	Failed              int64          `json:"failed"`
	Retried             int64          `json:"retried"`
	TotalSuccessDuration int64         `json:"totalSuccessDurationMs"`
	AverageProcessingMs float64        `json:"averageProcessingMs"`
	TopServers          []ServerStats  `json:"topServers"`
	HourlyTrend         []HourlyBucket `json:"hourlyTrend"`
}
