// Package store implements the persistence layer: a bbolt-backed store
// shared by ServerRegistry, ServerInstance, TaskInstance, and LoadBalancer (one bucket
// per concern, an in-memory read cache, versioned overwrites — the pattern
// orchestrator's persistence.go uses for workflows), plus a badger-backed
// store dedicated to StatsAggregator.
package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/swarmguard/gateway/internal/domain"
)

var (
	bucketServers  = []byte("servers")
	bucketRuntime  = []byte("runtime")
	bucketTasks    = []byte("tasks")
	bucketLB       = []byte("loadbalancer")
	bucketVersions = []byte("versions")
)

// BoltStore is the shared persistence handle for ServerRegistry,
// ServerInstance, TaskInstance and LoadBalancer. Each actor only ever touches the keys
// within its own namespace (a key prefix), honoring spec section 5's
// "persistent storage is partitioned per actor" rule even though they all
// share one underlying bbolt.DB handle for operational simplicity.
type BoltStore struct {
	db *bbolt.DB

	mu           sync.RWMutex
	serverCache  map[string]domain.ServerInfo
}

// Open creates (if needed) and opens the bbolt database at path, with all
// required buckets, and warms the server-info read cache.
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout:      time.Second,
		NoSync:       false,
		FreelistType: bbolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketServers, bucketRuntime, bucketTasks, bucketLB, bucketVersions} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	s := &BoltStore{db: db, serverCache: make(map[string]domain.ServerInfo)}
	if err := s.warmServerCache(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) warmServerCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketServers)
		return b.ForEach(func(k, v []byte) error {
			var info domain.ServerInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return nil // skip corrupt record rather than fail startup
			}
			s.serverCache[string(k)] = info
			return nil
		})
	})
}

// --- ServerRegistry namespace --------------------------------------------

// PutServer writes (or overwrites) a ServerInfo, archiving any previous
// value into bucketVersions first, matching orchestrator's
// archive-before-overwrite discipline.
func (s *BoltStore) PutServer(info domain.ServerInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal server info: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		servers := tx.Bucket(bucketServers)
		if existing := servers.Get([]byte(info.Config.ID)); existing != nil {
			versions := tx.Bucket(bucketVersions)
			key := fmt.Sprintf("%s:%d", info.Config.ID, time.Now().UnixNano())
			if err := versions.Put([]byte(key), existing); err != nil {
				return err
			}
		}
		return servers.Put([]byte(info.Config.ID), data)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.serverCache[info.Config.ID] = info
	s.mu.Unlock()
	return nil
}

// GetServer returns a cached copy, falling back to bbolt on a cache miss.
func (s *BoltStore) GetServer(id string) (domain.ServerInfo, bool) {
	s.mu.RLock()
	info, ok := s.serverCache[id]
	s.mu.RUnlock()
	if ok {
		return info, true
	}

	var found domain.ServerInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketServers).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("not found")
		}
		return json.Unmarshal(v, &found)
	})
	if err != nil {
		return domain.ServerInfo{}, false
	}

	s.mu.Lock()
	s.serverCache[id] = found
	s.mu.Unlock()
	return found, true
}

// ListServers returns every cached ServerInfo.
func (s *BoltStore) ListServers() []domain.ServerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ServerInfo, 0, len(s.serverCache))
	for _, v := range s.serverCache {
		out = append(out, v)
	}
	return out
}

// DeleteServer removes a fleet member from both the cache and bbolt.
func (s *BoltStore) DeleteServer(id string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketServers).Delete([]byte(id))
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.serverCache, id)
	s.mu.Unlock()
	return nil
}

// --- ServerInstance runtime namespace -------------------------------------

// RuntimeState is the persisted slice of ServerRuntimeState, re-hydrated on
// process restart.
type RuntimeState struct {
	Status           domain.ServerStatus          `json:"status"`
	HealthScore      int                           `json:"healthScore"`
	CheckIntervalMs  int64                         `json:"checkIntervalMs"`
	LastActivity     time.Time                     `json:"lastActivity"`
	ActiveTasks      []string                      `json:"activeTasks"`
	Metrics          domain.ServerMetricsSnapshot  `json:"metrics"`
}

func runtimeKey(serverID string) []byte { return []byte("runtime:" + serverID) }

// PutRuntimeState persists the full ServerInstance snapshot in a single
// write, matching spec section 9's "single-writer storage per actor,
// multi-key writes batched in one transaction" guidance.
func (s *BoltStore) PutRuntimeState(serverID string, st RuntimeState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuntime).Put(runtimeKey(serverID), data)
	})
}

// GetRuntimeState reads back a ServerInstance's last persisted snapshot.
func (s *BoltStore) GetRuntimeState(serverID string) (RuntimeState, bool) {
	var st RuntimeState
	found := false
	_ = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketRuntime).Get(runtimeKey(serverID))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &st); err == nil {
			found = true
		}
		return nil
	})
	return st, found
}

// ClearRuntimeState wipes a ServerInstance's storage, called from shutdown.
func (s *BoltStore) ClearRuntimeState(serverID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuntime).Delete(runtimeKey(serverID))
	})
}

// --- TaskInstance namespace ------------------------------------------------

// PutTask writes the full Task record under its own key.
func (s *BoltStore) PutTask(t domain.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTasks).Put([]byte(t.ID), data)
	})
}

// GetTask reads a Task by id.
func (s *BoltStore) GetTask(id string) (domain.Task, bool) {
	var t domain.Task
	found := false
	_ = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketTasks).Get([]byte(id))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &t); err == nil {
			found = true
		}
		return nil
	})
	return t, found
}

// DeleteTask purges a task's storage after CLEANUP_DELAY, per spec
// section 3's Task lifecycle.
func (s *BoltStore) DeleteTask(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete([]byte(id))
	})
}

// --- LoadBalancer namespace -------------------------------------------------

// LBState is the persisted slice of LoadBalancerState.
type LBState struct {
	Algorithm      domain.LBAlgorithm                      `json:"algorithm"`
	Weights        map[string]int                          `json:"weights"`
	Loads          map[string]int                          `json:"loads"`
	Metrics        map[string]domain.ServerMetricsSnapshot  `json:"metrics"`
	HealthyServers map[string]bool                          `json:"healthyServers"`
	Cursor         int                                      `json:"cursor"`
}

var lbKey = []byte("state")

// PutLBState persists the LoadBalancer's full state in one write.
// LoadBalancer.SelectServer queues it as a separate mailbox message after
// selection (fire-and-forget), per spec section 4.3, so it never blocks the
// caller.
func (s *BoltStore) PutLBState(st LBState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLB).Put(lbKey, data)
	})
}

// GetLBState reads back the last persisted LoadBalancer state.
func (s *BoltStore) GetLBState() (LBState, bool) {
	var st LBState
	found := false
	_ = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketLB).Get(lbKey)
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &st); err == nil {
			found = true
		}
		return nil
	})
	return st, found
}
