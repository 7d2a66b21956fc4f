package upstream

import "testing"

func TestPassiveQuarantine(t *testing.T) {
	s := NewServer("10.0.0.1:8080", false, 1)
	for i := 0; i < 2; i++ {
		s.RecordFailure(3)
	}
	if !s.Healthy() {
		t.Fatalf("server should still be healthy before threshold")
	}
	s.RecordFailure(3)
	if s.Healthy() {
		t.Fatalf("server should be quarantined after 3 consecutive failures")
	}
	s.RecordSuccess()
	if s.ConsecutiveFailures() != 0 {
		t.Fatalf("RecordSuccess should reset the streak")
	}
}

func TestBeginEndRequestTracksConnections(t *testing.T) {
	s := NewServer("10.0.0.1:8080", false, 1)
	s.BeginRequest()
	s.BeginRequest()
	if got := s.ActiveConnections(); got != 2 {
		t.Fatalf("ActiveConnections: got %d, want 2", got)
	}
	s.EndRequest()
	if got := s.ActiveConnections(); got != 1 {
		t.Fatalf("ActiveConnections: got %d, want 1", got)
	}
}

func TestPoolHealthyPreservesOrder(t *testing.T) {
	a := NewServer("a:1", false, 1)
	b := NewServer("b:1", false, 1)
	c := NewServer("c:1", false, 1)
	b.SetHealthy(false)
	pool := NewPool("p", []*Server{a, b, c}, RoundRobin, ActiveCheck{})

	healthy := pool.Healthy()
	if len(healthy) != 2 || healthy[0] != a || healthy[1] != c {
		t.Fatalf("expected [a, c] in order, got %+v", healthy)
	}
}
