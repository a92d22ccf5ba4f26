package actor

import (
	"path/filepath"
	"testing"

	"github.com/swarmguard/gateway/internal/audit"
	"github.com/swarmguard/gateway/internal/backend"
	"github.com/swarmguard/gateway/internal/config"
	"github.com/swarmguard/gateway/internal/store"
)

// newTestSystem builds a System backed by temp-dir bbolt/badger stores, with
// every background-timer interval set far outside a test's runtime so
// cleanup/rebalance/health-check loops never fire mid-assertion.
func newTestSystem(t *testing.T, workerURL string) *System {
	t.Helper()

	boltStore, err := store.Open(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open bbolt store: %v", err)
	}
	t.Cleanup(func() { boltStore.Close() })

	statsStore, err := store.OpenStats(filepath.Join(t.TempDir(), "stats"))
	if err != nil {
		t.Fatalf("open stats store: %v", err)
	}
	t.Cleanup(func() { statsStore.Close() })

	cfg := config.Config{
		WorkerURL:                workerURL,
		JWTSecret:                "test-secret",
		ServerStaleThresholdMs:   3_600_000,
		ServerCleanupIntervalMs:  3_600_000,
		MinHealthCheckIntervalMs: 3_600_000,
		MaxHealthCheckIntervalMs: 3_600_000,
		TaskTimeoutMs:            60_000,
		CleanupDelayMs:           60_000,
		MaxRetries:               2,
	}

	return NewSystem(boltStore, statsStore, backend.NewClient(), cfg, audit.NewLog())
}
