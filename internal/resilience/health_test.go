package resilience

import "testing"

func TestHealthTrackerRecordSuccessRaisesScoreAndInterval(t *testing.T) {
	h := NewHealthTracker("s1", 1000, 60000)
	h.MarkOnline()

	status, interval := h.RecordSuccess()
	if status != StatusOnline {
		t.Fatalf("expected online after a success from online, got %s", status)
	}
	if interval != 1200 {
		t.Fatalf("expected interval scaled by 1.2 to 1200, got %d", interval)
	}
	if h.Score() != 100 {
		t.Fatalf("expected score clamped at 100, got %d", h.Score())
	}
}

func TestHealthTrackerDegradesAfterOneFailure(t *testing.T) {
	h := NewHealthTracker("s1", 1000, 60000)
	h.MarkOnline()

	status, interval := h.RecordFailure()
	if status != StatusDegraded {
		t.Fatalf("expected degraded after first failure, got %s", status)
	}
	if interval != 1000 {
		t.Fatalf("expected interval 1000/1.5=666 clamped up to the 1000 floor, got %d", interval)
	}
	if h.Score() != 90 {
		t.Fatalf("expected score 90 after one -10 loss, got %d", h.Score())
	}
}

func TestHealthTrackerGoesOfflineAfterThreeConsecutiveFailures(t *testing.T) {
	h := NewHealthTracker("s1", 1000, 60000)
	h.MarkOnline()

	var status HealthStatus
	for i := 0; i < 3; i++ {
		status, _ = h.RecordFailure()
	}
	if status != StatusOffline {
		t.Fatalf("expected offline after 3 consecutive failures, got %s", status)
	}
	if h.Score() != 70 {
		t.Fatalf("expected score 100-30=70, got %d", h.Score())
	}
}

func TestHealthTrackerRecoversAfterThreeConsecutiveSuccesses(t *testing.T) {
	h := NewHealthTracker("s1", 1000, 60000)
	h.MarkOnline()
	h.RecordFailure() // -> degraded

	var status HealthStatus
	for i := 0; i < 3; i++ {
		status, _ = h.RecordSuccess()
	}
	if status != StatusOnline {
		t.Fatalf("expected online after 3 consecutive successes from degraded, got %s", status)
	}
}

func TestHealthTrackerIntervalClampedToBounds(t *testing.T) {
	h := NewHealthTracker("s1", 1000, 1400)
	h.MarkOnline()

	_, interval := h.RecordSuccess()
	if interval != 1200 {
		t.Fatalf("expected 1200 before hitting the ceiling, got %d", interval)
	}
	_, interval = h.RecordSuccess()
	if interval != 1400 {
		t.Fatalf("expected interval clamped at max 1400, got %d", interval)
	}
}

func TestHealthTrackerScoreNeverGoesNegative(t *testing.T) {
	h := NewHealthTracker("s1", 1000, 60000)
	h.MarkOnline()
	for i := 0; i < 20; i++ {
		h.RecordFailure()
	}
	if h.Score() != 0 {
		t.Fatalf("expected score clamped at 0, got %d", h.Score())
	}
}

func TestHealthTrackerMaintenanceToggleIndependentOfCounters(t *testing.T) {
	h := NewHealthTracker("s1", 1000, 60000)
	h.MarkOnline()
	h.RecordFailure()

	h.SetMaintenance()
	if h.Status() != StatusMaintenance {
		t.Fatalf("expected maintenance, got %s", h.Status())
	}
	h.ClearMaintenance()
	if h.Status() != StatusOnline {
		t.Fatalf("expected clearing maintenance to restore online, got %s", h.Status())
	}
}

func TestHealthTrackerClearMaintenanceNoopWhenNotInMaintenance(t *testing.T) {
	h := NewHealthTracker("s1", 1000, 60000)
	h.MarkOnline()
	h.RecordFailure() // -> degraded

	h.ClearMaintenance()
	if h.Status() != StatusDegraded {
		t.Fatalf("expected clearing maintenance to be a no-op outside maintenance, got %s", h.Status())
	}
}
