package actor

import (
	"time"

	"github.com/swarmguard/gateway/internal/domain"
	"github.com/swarmguard/gateway/internal/ids"
)

// ServerRegistry is the single well-known-name "global" actor that is the
// source of truth for fleet membership.
type ServerRegistry struct {
	mb  *mailbox
	sys *System

	groups map[string]map[string]bool // group name -> set of server ids
}

func newServerRegistry(sys *System) *ServerRegistry {
	r := &ServerRegistry{
		mb:     newMailbox(),
		sys:    sys,
		groups: make(map[string]map[string]bool),
	}
	r.scheduleCleanup()
	return r
}

// RegisterServer generates an id if missing, initializes the corresponding
// ServerInstance, records ServerInfo, updates group indexes, and requests a
// LoadBalancer rebalance. Idempotent on repeated registration with the same
// id — it re-runs initialize.
func (r *ServerRegistry) RegisterServer(config domain.ServerConfig) (string, error) {
	var id string
	var resolved domain.ServerConfig
	var retErr error

	r.mb.call(func() {
		if config.ID == "" {
			config.ID = ids.NewServerID()
		}
		id = config.ID
		resolved = config

		now := time.Now()
		info := domain.ServerInfo{
			Config:        config,
			Status:        domain.ServerOnline,
			RegisteredAt:  now,
			LastHeartbeat: now,
		}

		if err := r.sys.Store.PutServer(info); err != nil {
			retErr = domain.NewError(domain.KindInternal, "persist server: %v", err)
			return
		}
		for g := range config.Groups {
			if r.groups[g] == nil {
				r.groups[g] = make(map[string]bool)
			}
			r.groups[g][id] = true
		}
		r.sys.Audit.Record("ServerRegistry", id, "register", "", string(domain.ServerOnline))
	})
	if retErr != nil {
		return "", retErr
	}

	// ServerInstance.Initialize happens outside the registry's own mailbox
	// call so a slow initialize does not stall other registry operations;
	// the spec only requires registerServer to propagate initialize's
	// error, not to serialize with it under the registry's own lock.
	si := r.sys.ServerInstanceFor(id)
	if err := si.Initialize(resolved); err != nil {
		return "", err
	}

	r.sys.LoadBalancer().rebalanceAsync()
	return id, nil
}

// UnregisterServer is idempotent: an unknown id is a no-op, shutdown errors
// are swallowed, and fleet membership is removed regardless.
func (r *ServerRegistry) UnregisterServer(id string) {
	found := false
	r.mb.call(func() {
		info, ok := r.sys.Store.GetServer(id)
		if !ok {
			return
		}
		found = true
		for g := range info.Config.Groups {
			delete(r.groups[g], id)
		}
		_ = r.sys.Store.DeleteServer(id)
		r.sys.Audit.Record("ServerRegistry", id, "unregister", string(info.Status), "")
	})
	if !found {
		return
	}

	r.sys.ServerInstanceFor(id).Shutdown()
	r.sys.LoadBalancer().rebalanceAsync()
}

// ServerFilter is the optional filter getAvailableServers accepts.
type ServerFilter struct {
	Status string
	Group  string
	MaxAge time.Duration
}

// GetAvailableServers reclassifies stale servers to offline before
// returning the records that pass filter. The records carry no derived
// uptime or time-since-last-heartbeat values; ServerInfo.Uptime and
// ServerInfo.TimeSinceLastHeartbeat compute them on demand.
func (r *ServerRegistry) GetAvailableServers(filter ServerFilter) []domain.ServerInfo {
	var out []domain.ServerInfo
	r.mb.call(func() {
		now := time.Now()
		staleThreshold := time.Duration(r.sys.Config.ServerStaleThresholdMs) * time.Millisecond

		for _, info := range r.sys.Store.ListServers() {
			if now.Sub(info.LastHeartbeat) > staleThreshold && info.Status != domain.ServerOffline {
				info.Status = domain.ServerOffline
				_ = r.sys.Store.PutServer(info)
			}

			if filter.Status != "" && string(info.Status) != filter.Status {
				continue
			}
			if filter.Group != "" && !info.Config.Groups[filter.Group] {
				continue
			}
			if filter.MaxAge > 0 && now.Sub(info.LastHeartbeat) > filter.MaxAge {
				continue
			}
			out = append(out, info)
		}
	})
	return out
}

// UpdateHeartbeat bumps last-heartbeat to now; if the server was offline it
// flips back to online and a rebalance is requested.
func (r *ServerRegistry) UpdateHeartbeat(id string) error {
	var retErr error
	flipped := false
	r.mb.call(func() {
		info, ok := r.sys.Store.GetServer(id)
		if !ok {
			retErr = domain.NewError(domain.KindNotFound, "server %s not registered", id)
			return
		}
		info.LastHeartbeat = time.Now()
		if info.Status == domain.ServerOffline {
			info.Status = domain.ServerOnline
			flipped = true
		}
		_ = r.sys.Store.PutServer(info)
	})
	if retErr != nil {
		return retErr
	}
	if flipped {
		r.sys.LoadBalancer().rebalanceAsync()
	}
	return nil
}

// updateHeartbeatAsync is the fire-and-forget form ServerInstance's health
// loop uses, per spec section 9's cyclic-reference guidance.
func (r *ServerRegistry) updateHeartbeatAsync(id string) {
	go func() { _ = r.UpdateHeartbeat(id) }()
}

// CleanupStaleServers removes every server whose heartbeat exceeded the
// stale threshold and returns the removed ids.
func (r *ServerRegistry) CleanupStaleServers() []string {
	var removed []string
	r.mb.call(func() {
		removed = r.cleanupStaleLocked()
	})
	if len(removed) > 0 {
		r.sys.LoadBalancer().rebalanceAsync()
	}
	return removed
}

// cleanupStaleLocked must run on the mailbox goroutine.
func (r *ServerRegistry) cleanupStaleLocked() []string {
	var removed []string
	now := time.Now()
	staleThreshold := time.Duration(r.sys.Config.ServerStaleThresholdMs) * time.Millisecond
	for _, info := range r.sys.Store.ListServers() {
		if now.Sub(info.LastHeartbeat) > staleThreshold {
			_ = r.sys.Store.DeleteServer(info.Config.ID)
			for g := range info.Config.Groups {
				delete(r.groups[g], info.Config.ID)
			}
			removed = append(removed, info.Config.ID)
			r.sys.Audit.Record("ServerRegistry", info.Config.ID, "cleanup_stale", string(info.Status), "removed")
		}
	}
	return removed
}

// scheduleCleanup casts cleanupStaleLocked directly onto the mailbox, the
// same shape LoadBalancer.scheduleRebalance uses for rebalanceLocked:
// CleanupStaleServers calls mb.call and must never be invoked from inside a
// cast running on this same mailbox goroutine, or the call would block
// waiting for a goroutine that is itself blocked on it.
func (r *ServerRegistry) scheduleCleanup() {
	interval := time.Duration(r.sys.Config.ServerCleanupIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 60 * time.Second
	}
	var tick func()
	tick = func() {
		time.AfterFunc(interval, func() {
			r.mb.cast(func() {
				removed := r.cleanupStaleLocked()
				if len(removed) > 0 {
					r.sys.LoadBalancer().rebalanceAsync()
				}
			})
			tick()
		})
	}
	tick()
}

