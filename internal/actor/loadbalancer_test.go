package actor

import (
	"testing"

	"github.com/swarmguard/gateway/internal/domain"
)

func TestComputeWeightClampedToMinimumOne(t *testing.T) {
	// successRate=0, avg=20000ms -> round((0 + 0) / 2) = 0, clamped up to 1
	w := computeWeight(domain.ServerMetricsSnapshot{SuccessRate: 0, AverageResponseMs: 20000})
	if w != 1 {
		t.Fatalf("expected a server with no successes and a 20s response time to be clamped to weight 1, got %d", w)
	}
}

func TestComputeWeightFormula(t *testing.T) {
	// successRate=1.0, averageResponseMs=0 -> (1*10 + 10)/2 = 10
	w := computeWeight(domain.ServerMetricsSnapshot{SuccessRate: 1.0, AverageResponseMs: 0})
	if w != 10 {
		t.Fatalf("expected weight 10 for a perfect fast server, got %d", w)
	}
	// successRate=0.5, averageResponseMs=2000 -> (0.5*10 + 8)/2 = 6.5 -> rounds to 7
	w = computeWeight(domain.ServerMetricsSnapshot{SuccessRate: 0.5, AverageResponseMs: 2000})
	if w != 7 {
		t.Fatalf("expected weight 7, got %d", w)
	}
	// averageResponseMs beyond 10000 floors the response component at 0
	w = computeWeight(domain.ServerMetricsSnapshot{SuccessRate: 1.0, AverageResponseMs: 20000})
	if w != 5 {
		t.Fatalf("expected weight 5 for a slow-but-reliable server, got %d", w)
	}
}

// registerLBTestServer registers a server through ServerRegistry, the same
// path production traffic takes, so it shows up in the registry's online
// set that SelectServer now cross-checks before trusting its own cache.
func registerLBTestServer(t *testing.T, sys *System, id string, cfg domain.ServerConfig) {
	t.Helper()
	cfg.ID = id
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.Endpoints == (domain.Endpoints{}) {
		cfg.Endpoints = domain.Endpoints{Predict: "http://unused/predict", Health: "http://unused/health"}
	}
	if _, err := sys.Registry().RegisterServer(cfg); err != nil {
		t.Fatalf("register server %s: %v", id, err)
	}
}

func TestSelectServerReturnsEmptyWithNoEligibleServers(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	if got := sys.LoadBalancer().SelectServer(domain.SelectionCriteria{}); got != "" {
		t.Fatalf("expected no server selected, got %q", got)
	}
}

func TestSelectServerFiltersByCapability(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	registerLBTestServer(t, sys, "a", domain.ServerConfig{Capabilities: map[string]bool{"gpu": true}})
	registerLBTestServer(t, sys, "b", domain.ServerConfig{})

	got := sys.LoadBalancer().SelectServer(domain.SelectionCriteria{RequiredCapabilities: []string{"gpu"}})
	if got != "a" {
		t.Fatalf("expected server a (the only one with gpu), got %q", got)
	}
}

func TestSelectServerSkipsUnhealthy(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	registerLBTestServer(t, sys, "a", domain.ServerConfig{})
	registerLBTestServer(t, sys, "b", domain.ServerConfig{})
	sys.LoadBalancer().MarkServerUnhealthy("a")

	got := sys.LoadBalancer().SelectServer(domain.SelectionCriteria{})
	if got != "b" {
		t.Fatalf("expected the only healthy server b, got %q", got)
	}
}

func TestSelectServerExcludesServersAtMaxConcurrency(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	registerLBTestServer(t, sys, "a", domain.ServerConfig{MaxConcurrency: 1})
	registerLBTestServer(t, sys, "b", domain.ServerConfig{MaxConcurrency: 1})

	first := sys.LoadBalancer().SelectServer(domain.SelectionCriteria{})
	if first == "" {
		t.Fatalf("expected a server to be selected")
	}
	second := sys.LoadBalancer().SelectServer(domain.SelectionCriteria{})
	if second == "" || second == first {
		t.Fatalf("expected the other server once the first hit MaxConcurrency, got %q then %q", first, second)
	}
	third := sys.LoadBalancer().SelectServer(domain.SelectionCriteria{})
	if third != "" {
		t.Fatalf("expected no eligible server once both are at MaxConcurrency, got %q", third)
	}
}

func TestSelectServerIgnoresServerUnregisteredFromRegistry(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	registerLBTestServer(t, sys, "a", domain.ServerConfig{})

	sys.Registry().UnregisterServer("a")

	got := sys.LoadBalancer().SelectServer(domain.SelectionCriteria{})
	if got != "" {
		t.Fatalf("expected no eligible server once the registry no longer knows it, got %q", got)
	}
}

func TestSelectServerRoundRobinCyclesThroughCandidates(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	registerLBTestServer(t, sys, "a", domain.ServerConfig{})
	registerLBTestServer(t, sys, "b", domain.ServerConfig{})

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		seen[sys.LoadBalancer().SelectServer(domain.SelectionCriteria{})]++
	}
	if seen["a"] != 2 || seen["b"] != 2 {
		t.Fatalf("expected round robin to split evenly, got %+v", seen)
	}
}

func TestSelectServerLeastConnectionsPicksLowestLoad(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	if err := sys.LoadBalancer().SetAlgorithm(domain.AlgoLeastConnections); err != nil {
		t.Fatalf("set algorithm: %v", err)
	}
	registerLBTestServer(t, sys, "a", domain.ServerConfig{})
	registerLBTestServer(t, sys, "b", domain.ServerConfig{})

	// first pick bumps whichever server it lands on (alphabetically "a" or
	// "b" — both start at load 0, map iteration order within eligibleLocked
	// is sorted, so "a" wins the tie).
	first := sys.LoadBalancer().SelectServer(domain.SelectionCriteria{})
	if first != "a" {
		t.Fatalf("expected first pick to be server a (lowest id on a load tie), got %q", first)
	}
	second := sys.LoadBalancer().SelectServer(domain.SelectionCriteria{})
	if second != "b" {
		t.Fatalf("expected second pick to move to the now-lower-load server b, got %q", second)
	}
}

func TestSelectServerResponseTimePicksFastest(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	if err := sys.LoadBalancer().SetAlgorithm(domain.AlgoResponseTime); err != nil {
		t.Fatalf("set algorithm: %v", err)
	}
	registerLBTestServer(t, sys, "slow", domain.ServerConfig{})
	registerLBTestServer(t, sys, "fast", domain.ServerConfig{})
	sys.LoadBalancer().UpdateServerMetrics("slow", domain.ServerMetricsSnapshot{AverageResponseMs: 500}, true, false)
	sys.LoadBalancer().UpdateServerMetrics("fast", domain.ServerMetricsSnapshot{AverageResponseMs: 50}, true, false)

	got := sys.LoadBalancer().SelectServer(domain.SelectionCriteria{})
	if got != "fast" {
		t.Fatalf("expected the fast server, got %q", got)
	}
}

func TestSetAlgorithmRejectsUnknownValue(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	err := sys.LoadBalancer().SetAlgorithm(domain.LBAlgorithm("not-a-real-algorithm"))
	if err == nil {
		t.Fatalf("expected a validation error")
	}
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected ValidationError, got %s", domain.KindOf(err))
	}
}

func TestMarkServerUnhealthyEvictsFromSelection(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	registerLBTestServer(t, sys, "a", domain.ServerConfig{})

	sys.LoadBalancer().MarkServerUnhealthy("a")
	if got := sys.LoadBalancer().SelectServer(domain.SelectionCriteria{}); got != "" {
		t.Fatalf("expected no eligible server after eviction, got %q", got)
	}
}

func TestLoadBalancerStatusReflectsCachedState(t *testing.T) {
	sys := newTestSystem(t, "http://unused")
	registerLBTestServer(t, sys, "a", domain.ServerConfig{})
	registerLBTestServer(t, sys, "b", domain.ServerConfig{})
	sys.LoadBalancer().MarkServerUnhealthy("b")

	snap := sys.LoadBalancer().Status()
	if snap.TotalServers != 2 || snap.HealthyServers != 1 {
		t.Fatalf("expected 2 total / 1 healthy, got %+v", snap)
	}
}
