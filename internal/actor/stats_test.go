package actor

import (
	"testing"
)

func TestRecordTaskStartIncrementsTotalAndPending(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	sa := sys.StatsAggregatorFor("2024-01-06")
	t.Cleanup(sa.Close)

	sa.RecordTaskStart()
	sa.RecordTaskStart()

	got := sa.GetStats()
	if got.Total != 2 || got.Pending != 2 {
		t.Fatalf("expected total=2 pending=2, got %+v", got)
	}
}

func TestRecordTaskCompleteUpdatesAggregateAndServerBreakdown(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	sa := sys.StatsAggregatorFor("2024-01-06")
	t.Cleanup(sa.Close)

	sa.RecordTaskStart()
	sa.RecordTaskComplete("srv-1", true, 100, false)

	got := sa.GetStats()
	if got.Pending != 0 || got.Successful != 1 || got.Failed != 0 {
		t.Fatalf("unexpected aggregate: %+v", got)
	}
	if got.AverageProcessingMs != 100 {
		t.Fatalf("expected average 100, got %f", got.AverageProcessingMs)
	}

	ss, ok := sa.GetServerStats("srv-1")
	if !ok {
		t.Fatalf("expected server stats to exist for srv-1")
	}
	if ss.TasksProcessed != 1 || ss.Successes != 1 {
		t.Fatalf("unexpected server stats: %+v", ss)
	}
}

func TestRecordTaskCompleteTracksFailuresAndRetries(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	sa := sys.StatsAggregatorFor("2024-01-06")
	t.Cleanup(sa.Close)

	sa.RecordTaskStart()
	sa.RecordTaskComplete("srv-1", false, 50, true)

	got := sa.GetStats()
	if got.Failed != 1 || got.Retried != 1 {
		t.Fatalf("expected failed=1 retried=1, got %+v", got)
	}
}

func TestGetStatsTopServersRankedByTasksProcessedDescending(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	sa := sys.StatsAggregatorFor("2024-01-06")
	t.Cleanup(sa.Close)

	sa.RecordTaskComplete("quiet", true, 10, false)
	sa.RecordTaskComplete("busy", true, 10, false)
	sa.RecordTaskComplete("busy", true, 10, false)

	top := sa.GetStats().TopServers
	if len(top) != 2 || top[0].ServerID != "busy" || top[0].TasksProcessed != 2 {
		t.Fatalf("expected busy ranked first with 2 tasks, got %+v", top)
	}
}

func TestGetStatsTopServersCappedAtFive(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	sa := sys.StatsAggregatorFor("2024-01-06")
	t.Cleanup(sa.Close)

	for i := 0; i < 7; i++ {
		sa.RecordTaskComplete(string(rune('a'+i)), true, 10, false)
	}

	top := sa.GetStats().TopServers
	if len(top) != 5 {
		t.Fatalf("expected top servers capped at 5, got %d", len(top))
	}
}

func TestRecordTaskCompleteEagerlyFlushesAtThousandEvents(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	sa := sys.StatsAggregatorFor("2024-01-06")
	t.Cleanup(sa.Close)

	for i := 0; i < 1000; i++ {
		sa.RecordTaskComplete("srv-1", true, 1, false)
	}

	day, ok := sys.StatsStore.GetDay("2024-01-06")
	if !ok {
		t.Fatalf("expected the day to already be persisted by the eager flush")
	}
	if day.Stats.Successful != 1000 {
		t.Fatalf("expected 1000 successful tasks persisted, got %+v", day.Stats)
	}

	sa.mb.call(func() {
		if len(sa.eventLog) != 0 {
			t.Fatalf("expected the event buffer to be drained by the eager flush, got %d entries", len(sa.eventLog))
		}
	})
}

func TestGetHourlyReportRecordsCurrentHourBucket(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	sa := sys.StatsAggregatorFor("2024-01-06")
	t.Cleanup(sa.Close)

	sa.RecordTaskComplete("srv-1", true, 10, false)

	hourly := sa.GetHourlyReport()
	var total int
	for _, b := range hourly {
		total += b.Tasks
	}
	if total != 1 {
		t.Fatalf("expected exactly one task recorded across the 24 buckets, got %d", total)
	}
}

func TestGetServerStatsUnknownServerReturnsFalse(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	sa := sys.StatsAggregatorFor("2024-01-06")
	t.Cleanup(sa.Close)

	if _, ok := sa.GetServerStats("never-ran"); ok {
		t.Fatalf("expected no stats for a server that never processed a task")
	}
}

func TestFlushPersistsFullAggregateSurvivingReconstruction(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	sa := sys.StatsAggregatorFor("2024-01-06")
	sa.RecordTaskStart()
	sa.RecordTaskComplete("srv-1", true, 250, false)
	sa.Flush()
	sa.Close()

	day, ok := sys.StatsStore.GetDay("2024-01-06")
	if !ok {
		t.Fatalf("expected the day to be persisted after Flush")
	}
	if day.Stats.Successful != 1 {
		t.Fatalf("expected 1 successful task in the persisted snapshot, got %+v", day.Stats)
	}
	if day.ServerStats["srv-1"].TasksProcessed != 1 {
		t.Fatalf("expected persisted per-server breakdown, got %+v", day.ServerStats)
	}

	// a fresh aggregator for the same date reloads from the store rather
	// than starting from zero.
	reloaded := newStatsAggregator(sys, "2024-01-06")
	t.Cleanup(reloaded.Close)
	if got := reloaded.GetStats(); got.Successful != 1 {
		t.Fatalf("expected reloaded aggregator to see the persisted successful count, got %+v", got)
	}
}

func TestFlushWithNoEventsStillPersistsTheDay(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	sa := sys.StatsAggregatorFor("2024-01-06")
	t.Cleanup(sa.Close)

	sa.Flush() // no RecordTaskComplete calls yet, so eventLog is empty

	day, ok := sys.StatsStore.GetDay("2024-01-06")
	if !ok {
		t.Fatalf("expected an empty day to still be persisted")
	}
	if day.Stats.Total != 0 {
		t.Fatalf("expected a zero-value day, got %+v", day)
	}
}
