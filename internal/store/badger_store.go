package store

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/swarmguard/gateway/internal/domain"
)

// StatsStore is StatsAggregator's dedicated storage engine. Unlike the
// shared BoltStore, StatsAggregator gets its own embedded store: its
// workload (frequent small writes flushed in batches, reads mostly by date
// key) fits badger's LSM-tree write path, and keeping it physically
// separate is a direct expression of spec section 3's per-actor storage
// ownership at the engine level, not just the bucket level. Grounded on
// services/blockchain's dependency on dgraph-io/badger/v4 in the teacher
// pack — no blockchain-specific code is reused, only the dependency.
type StatsStore struct {
	db *badger.DB
}

// OpenStats opens (creating if needed) a badger database at dir.
func OpenStats(dir string) (*StatsStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger stats store: %w", err)
	}
	return &StatsStore{db: db}, nil
}

func (s *StatsStore) Close() error { return s.db.Close() }

// PersistedDay is what StatsAggregator.Flush writes in one transaction:
// the aggregate counters, per-server counters and hourly buckets —
// re-persisted on every flush in full, per the Open Question resolution in
// SPEC_FULL.md section 6 (counters must survive a crash between flushes).
// The buffered events are not part of it; PutEvents writes them in a
// separate transaction.
type PersistedDay struct {
	Stats       domain.Statistics             `json:"stats"`
	ServerStats map[string]domain.ServerStats `json:"serverStats"`
	Hourly      [24]domain.HourlyBucket       `json:"hourly"`
}

func dayKey(date string) []byte { return []byte("day:" + date) }

// PutDay writes the full per-day snapshot in a single badger transaction.
func (s *StatsStore) PutDay(date string, day PersistedDay) error {
	data, err := json.Marshal(day)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dayKey(date), data)
	})
}

// GetDay reads back a day's persisted snapshot, if any.
func (s *StatsStore) GetDay(date string) (PersistedDay, bool) {
	var day PersistedDay
	found := false
	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dayKey(date))
		if err != nil {
			return nil
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &day); err == nil {
				found = true
			}
			return nil
		})
	})
	return day, found
}

func eventsKey(date string, flushTS int64) []byte {
	return []byte(fmt.Sprintf("events:%s:%d", date, flushTS))
}

// PutEvents archives the buffered events flushed at flushTS, for external
// audit only — the core never reads its own event archive back.
func (s *StatsStore) PutEvents(date string, flushTS int64, events []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventsKey(date, flushTS), events)
	})
}
