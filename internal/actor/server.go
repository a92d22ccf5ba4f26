package actor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/swarmguard/gateway/internal/backend"
	"github.com/swarmguard/gateway/internal/domain"
	"github.com/swarmguard/gateway/internal/resilience"
	"github.com/swarmguard/gateway/internal/store"
)

const maxIdle = 3_600_000 * time.Millisecond // MAX_IDLE, spec section 4.2

// ServerInstance owns one backend worker's runtime state and health-check
// loop. There is exactly one instance per server id, addressed through
// System.ServerInstanceFor.
type ServerInstance struct {
	mb  *mailbox
	sys *System

	id     string
	config domain.ServerConfig
	health *resilience.HealthTracker

	activeTasks  map[string]struct{}
	lastActivity time.Time
	metrics      domain.ServerMetricsSnapshot

	timer *time.Timer
}

func newServerInstance(sys *System, id string) *ServerInstance {
	return &ServerInstance{
		mb:          newMailbox(),
		sys:         sys,
		id:          id,
		activeTasks: make(map[string]struct{}),
	}
}

// Initialize stores config, marks the server online, schedules the first
// health check, and registers its capabilities with LoadBalancer.
func (s *ServerInstance) Initialize(config domain.ServerConfig) error {
	var retErr error
	s.mb.call(func() {
		s.config = config
		s.health = resilience.NewHealthTracker(s.id, s.sys.Config.MinHealthCheckIntervalMs, s.sys.Config.MaxHealthCheckIntervalMs)
		s.health.MarkOnline()
		s.lastActivity = time.Now()

		s.sys.Audit.Record("ServerInstance", s.id, "initialize", "", string(domain.ServerOnline))
		s.persistLocked()

		s.sys.LoadBalancer().registerServerMetricsAsync(s.id, s.config, s.metrics, true)
		s.scheduleNextCheckLocked()
	})
	return retErr
}

// ExecuteTask dispatches to the backend worker. Preconditions: status
// online, active-task count below max concurrency.
func (s *ServerInstance) ExecuteTask(ctx context.Context, taskID string, request json.RawMessage, callbackURL string) (backendResult, error) {
	var result backendResult
	var retErr error

	s.mb.call(func() {
		if s.health.Status() != resilience.StatusOnline {
			retErr = domain.NewError(domain.KindServerUnavailable, "server %s is %s", s.id, s.health.Status())
			return
		}
		if len(s.activeTasks) >= s.config.MaxConcurrency {
			retErr = domain.NewError(domain.KindAtCapacity, "server %s at max concurrency %d", s.id, s.config.MaxConcurrency)
			return
		}
		s.activeTasks[taskID] = struct{}{}
		s.lastActivity = time.Now()
	})
	if retErr != nil {
		return result, retErr
	}

	start := time.Now()
	predictResult, err := s.sys.Backend.Predict(ctx, s.config.Endpoints.Predict, s.config.APIKey, backend.PredictRequest{
		TaskID:      taskID,
		Request:     request,
		CallbackURL: callbackURL,
	})
	duration := time.Since(start)

	s.mb.call(func() {
		delete(s.activeTasks, taskID)
		s.lastActivity = time.Now()

		success := err == nil
		s.recordOutcomeLocked(success, duration)
		s.persistLocked()
		s.sys.LoadBalancer().updateServerMetricsAsync(s.id, s.metrics, success, true)

		if err != nil {
			retErr = domain.NewError(domain.KindBackendError, "backend call failed: %v", err)
			return
		}
		result = backendResult{Async: predictResult.Async, Result: predictResult.Result}
	})
	return result, retErr
}

type backendResult struct {
	Async  bool
	Result json.RawMessage
}

// PerformHealthCheck runs one GET against endpoints.health and applies the
// adaptive transition rules from spec section 4.2.
func (s *ServerInstance) PerformHealthCheck(ctx context.Context) resilience.HealthStatus {
	err := s.sys.Backend.HealthCheck(ctx, s.config.Endpoints.Health, s.id)

	var status resilience.HealthStatus
	var interval int64
	s.mb.call(func() {
		from := s.health.Status()
		if err == nil {
			status, interval = s.health.RecordSuccess()
			s.sys.Registry().updateHeartbeatAsync(s.id)
		} else {
			status, interval = s.health.RecordFailure()
		}
		if string(from) != string(status) {
			s.sys.Audit.Record("ServerInstance", s.id, "health_transition", string(from), string(status))
		}
		s.persistLocked()
		s.sys.LoadBalancer().updateServerMetricsAsync(s.id, s.metrics, err == nil, false)
		s.scheduleNextCheckIn(interval)
	})
	return status
}

// GetMetrics returns a snapshot for getMetrics / GET /api/servers/{id}/metrics.
// A server id with no Initialize call yet (never registered, or registered
// and since removed) has a nil health tracker; GetMetrics reports it as an
// empty, not-healthy snapshot rather than panicking.
func (s *ServerInstance) GetMetrics() domain.ServerRuntimeSnapshot {
	var snap domain.ServerRuntimeSnapshot
	s.mb.call(func() {
		if s.health == nil {
			snap = domain.ServerRuntimeSnapshot{ServerID: s.id}
			return
		}
		snap = domain.ServerRuntimeSnapshot{
			ServerID:       s.id,
			Status:         domain.ServerStatus(s.health.Status()),
			HealthScore:    s.health.Score(),
			ActiveTasks:    len(s.activeTasks),
			MaxConcurrency: s.config.MaxConcurrency,
			Healthy:        s.health.Status() == resilience.StatusOnline,
			Capabilities:   s.config.Capabilities,
			Metrics:        s.metrics,
		}
	})
	return snap
}

// SetMaintenanceMode toggles maintenance/online and notifies LoadBalancer.
// No-ops against a server id that was never registered.
func (s *ServerInstance) SetMaintenanceMode(enabled bool) {
	s.mb.call(func() {
		if s.health == nil {
			return
		}
		from := s.health.Status()
		if enabled {
			s.health.SetMaintenance()
			s.sys.LoadBalancer().markUnhealthyAsync(s.id)
		} else {
			s.health.ClearMaintenance()
			s.sys.LoadBalancer().updateServerMetricsAsync(s.id, s.metrics, true, false)
		}
		s.sys.Audit.Record("ServerInstance", s.id, "set_maintenance", string(from), string(s.health.Status()))
		s.persistLocked()
	})
}

// Shutdown marks offline, drains active tasks up to 30s, notifies
// LoadBalancer, and clears storage.
func (s *ServerInstance) Shutdown() {
	deadline := time.Now().Add(30 * time.Second)
	for {
		drained := false
		s.mb.call(func() {
			if s.timer != nil {
				s.timer.Stop()
			}
			s.health.SetOffline()
			drained = len(s.activeTasks) == 0
		})
		if drained || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Second)
	}

	s.mb.call(func() {
		s.sys.Audit.Record("ServerInstance", s.id, "shutdown", "", string(domain.ServerOffline))
		s.sys.LoadBalancer().markUnhealthyAsync(s.id)
		_ = s.sys.Store.ClearRuntimeState(s.id)
	})
	s.sys.RemoveServerInstance(s.id)
}

// --- internal, must run on the mailbox goroutine --------------------------

func (s *ServerInstance) recordOutcomeLocked(success bool, d time.Duration) {
	s.metrics.TasksProcessed++
	if success {
		s.metrics.Successes++
	} else {
		s.metrics.Failures++
	}
	s.metrics.TotalDurationMs += d.Milliseconds()
	if s.metrics.TasksProcessed > 0 {
		s.metrics.SuccessRate = float64(s.metrics.Successes) / float64(s.metrics.TasksProcessed)
		s.metrics.AverageResponseMs = float64(s.metrics.TotalDurationMs) / float64(s.metrics.TasksProcessed)
	}
	s.metrics.LastUpdate = time.Now()
}

func (s *ServerInstance) persistLocked() {
	active := make([]string, 0, len(s.activeTasks))
	for id := range s.activeTasks {
		active = append(active, id)
	}
	_ = s.sys.Store.PutRuntimeState(s.id, store.RuntimeState{
		Status:          domain.ServerStatus(s.health.Status()),
		HealthScore:     s.health.Score(),
		CheckIntervalMs: s.health.Interval(),
		LastActivity:    s.lastActivity,
		ActiveTasks:     active,
		Metrics:         s.metrics,
	})
}

func (s *ServerInstance) scheduleNextCheckLocked() {
	s.scheduleNextCheckIn(s.health.Interval())
}

func (s *ServerInstance) scheduleNextCheckIn(ms int64) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(time.Duration(ms)*time.Millisecond, func() {
		s.mb.cast(func() {
			s.onTimerFired()
		})
	})
}

// onTimerFired runs as a regular queued mailbox operation per spec section
// 5 ("timer handlers run as a regular actor operation"). It decides
// between the idle-shutdown path and a regular health check.
func (s *ServerInstance) onTimerFired() {
	if time.Since(s.lastActivity) > maxIdle && len(s.activeTasks) == 0 {
		s.sys.Audit.Record("ServerInstance", s.id, "idle_shutdown", string(s.health.Status()), string(domain.ServerOffline))
		go s.Shutdown()
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.PerformHealthCheck(ctx)
	}()
}
