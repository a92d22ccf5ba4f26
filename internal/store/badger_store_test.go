package store

import (
	"path/filepath"
	"testing"

	"github.com/swarmguard/gateway/internal/domain"
)

func openTestStatsStore(t *testing.T) *StatsStore {
	t.Helper()
	s, err := OpenStats(filepath.Join(t.TempDir(), "stats"))
	if err != nil {
		t.Fatalf("open badger stats store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStatsStoreDayRoundTrip(t *testing.T) {
	s := openTestStatsStore(t)

	if _, ok := s.GetDay("2024-01-06"); ok {
		t.Fatalf("expected no day before first write")
	}

	day := PersistedDay{
		Stats:       domain.Statistics{Date: "2024-01-06", Total: 10, Successful: 9, Failed: 1},
		ServerStats: map[string]domain.ServerStats{"srv-1": {ServerID: "srv-1", TasksProcessed: 10}},
	}
	if err := s.PutDay("2024-01-06", day); err != nil {
		t.Fatalf("put day: %v", err)
	}

	got, ok := s.GetDay("2024-01-06")
	if !ok {
		t.Fatalf("expected day to be found")
	}
	if got.Stats.Total != 10 || got.ServerStats["srv-1"].TasksProcessed != 10 {
		t.Fatalf("unexpected persisted day: %+v", got)
	}
}

func TestStatsStoreEventsAreWriteOnly(t *testing.T) {
	s := openTestStatsStore(t)
	if err := s.PutEvents("2024-01-06", 1700000000000, []byte(`[{"serverId":"srv-1"}]`)); err != nil {
		t.Fatalf("put events: %v", err)
	}
	// no GetEvents exists by design — the archive is for external audit only.
}

func TestStatsStoreDistinctDatesDoNotCollide(t *testing.T) {
	s := openTestStatsStore(t)
	_ = s.PutDay("2024-01-06", PersistedDay{Stats: domain.Statistics{Total: 1}})
	_ = s.PutDay("2024-01-07", PersistedDay{Stats: domain.Statistics{Total: 2}})

	d1, _ := s.GetDay("2024-01-06")
	d2, _ := s.GetDay("2024-01-07")
	if d1.Stats.Total != 1 || d2.Stats.Total != 2 {
		t.Fatalf("expected distinct per-day totals, got %d and %d", d1.Stats.Total, d2.Stats.Total)
	}
}
