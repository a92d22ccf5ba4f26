package actor

import (
	"sync"
	"time"

	"github.com/swarmguard/gateway/internal/audit"
	"github.com/swarmguard/gateway/internal/backend"
	"github.com/swarmguard/gateway/internal/config"
	"github.com/swarmguard/gateway/internal/store"
)

// System is the "actor name -> handle" registry spec section 9 calls for:
// implementers provide a lookup(kind, name) that yields an existing actor
// or creates one on demand. It owns no business state of its own, only the
// maps of live actor handles plus the shared collaborators (storage,
// backend client, config, audit log) that every actor is constructed with.
type System struct {
	Store       *store.BoltStore
	StatsStore  *store.StatsStore
	Backend     *backend.Client
	Config      config.Config
	Audit       *audit.Log
	BaseURL     string

	registry     *ServerRegistry
	loadBalancer *LoadBalancer

	mu               sync.Mutex
	servers          map[string]*ServerInstance
	tasks            map[string]*TaskInstance
	statsAggregators map[string]*StatsAggregator
}

// NewSystem wires the two well-known singleton actors ("global" ServerRegistry
// and "global" LoadBalancer) and prepares the on-demand maps for the
// per-id actors (ServerInstance, TaskInstance, StatsAggregator).
func NewSystem(st *store.BoltStore, statsStore *store.StatsStore, be *backend.Client, cfg config.Config, auditLog *audit.Log) *System {
	sys := &System{
		Store:            st,
		StatsStore:       statsStore,
		Backend:          be,
		Config:           cfg,
		Audit:            auditLog,
		BaseURL:          cfg.WorkerURL,
		servers:          make(map[string]*ServerInstance),
		tasks:            make(map[string]*TaskInstance),
		statsAggregators: make(map[string]*StatsAggregator),
	}
	sys.registry = newServerRegistry(sys)
	sys.loadBalancer = newLoadBalancer(sys)
	return sys
}

// Registry returns the well-known-name "global" ServerRegistry handle.
func (s *System) Registry() *ServerRegistry { return s.registry }

// LoadBalancer returns the well-known-name "global" LoadBalancer handle.
func (s *System) LoadBalancer() *LoadBalancer { return s.loadBalancer }

// ServerInstanceFor looks up or lazily creates the ServerInstance for id.
func (s *System) ServerInstanceFor(id string) *ServerInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if si, ok := s.servers[id]; ok {
		return si
	}
	si := newServerInstance(s, id)
	s.servers[id] = si
	return si
}

// RemoveServerInstance drops the handle after shutdown.
func (s *System) RemoveServerInstance(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servers, id)
}

// TaskInstanceFor looks up or lazily creates the TaskInstance for id. One
// actor instance per task id, per spec section 4.4.
func (s *System) TaskInstanceFor(id string) *TaskInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ti, ok := s.tasks[id]; ok {
		return ti
	}
	ti := newTaskInstance(s, id)
	s.tasks[id] = ti
	return ti
}

// RemoveTaskInstance drops the handle after the cleanup timer purges it.
func (s *System) RemoveTaskInstance(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// StatsAggregatorFor looks up or lazily creates the StatsAggregator for the
// given ISO calendar date, e.g. "2024-01-06".
func (s *System) StatsAggregatorFor(date string) *StatsAggregator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sa, ok := s.statsAggregators[date]; ok {
		return sa
	}
	sa := newStatsAggregator(s, date)
	s.statsAggregators[date] = sa
	return sa
}

// StatsAggregatorForNow returns today's StatsAggregator.
func (s *System) StatsAggregatorForNow() *StatsAggregator {
	return s.StatsAggregatorFor(time.Now().UTC().Format("2006-01-02"))
}
