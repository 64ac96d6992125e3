package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	fcerrors "github.com/ringlogic/fightcore/internal/errors"
	"github.com/ringlogic/fightcore/internal/resilience"
)

type stubTransport struct {
	sendErr error
	sent    int
}

func (s *stubTransport) Send(ctx context.Context, payload []byte) error {
	s.sent++
	return s.sendErr
}

func (s *stubTransport) Close() error { return nil }

func TestRoute_NoWorkerAvailable(t *testing.T) {
	m := New(nil)
	_, err := m.Route(context.Background(), "feed-1", []byte("x"))
	if err == nil {
		t.Fatal("expected no-worker error")
	}
	se := fcerrors.As(err)
	if se == nil || se.Code != fcerrors.ErrCodeNoWorkerAvailable {
		t.Fatalf("expected ErrCodeNoWorkerAvailable, got %+v", se)
	}
}

func TestRoute_PrefersLowerLoadScore(t *testing.T) {
	m := New(nil)
	tLow := &stubTransport{}
	tHigh := &stubTransport{}

	idLow := m.RegisterWorker("low", tLow)
	idHigh := m.RegisterWorker("high", tHigh)

	m.Heartbeat(idLow, 10, 0, false)
	m.Heartbeat(idHigh, 500, 50, false)

	chosen, err := m.Route(context.Background(), "feed-1", []byte("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chosen != idLow {
		t.Errorf("expected lowest-load worker %s to be chosen, got %s", idLow, chosen)
	}
	if tLow.sent != 1 || tHigh.sent != 0 {
		t.Errorf("expected only the chosen worker to receive the payload")
	}
}

func TestRoute_FallsBackToDegraded(t *testing.T) {
	m := New(nil)
	tr := &stubTransport{}
	id := m.RegisterWorker("w1", tr)

	m.mu.Lock()
	m.workers[id].status = StatusDegraded
	m.mu.Unlock()

	chosen, err := m.Route(context.Background(), "feed-1", []byte("x"))
	if err != nil {
		t.Fatalf("expected degraded worker to still be selectable, got %v", err)
	}
	if chosen != id {
		t.Errorf("expected degraded worker to be chosen, got %s", chosen)
	}
}

func TestRoute_WorkerRPCFailureWrapped(t *testing.T) {
	m := New(nil)
	tr := &stubTransport{sendErr: errors.New("boom")}
	id := m.RegisterWorker("w1", tr)
	m.Heartbeat(id, 5, 0, false)

	_, err := m.Route(context.Background(), "feed-1", []byte("x"))
	se := fcerrors.As(err)
	if se == nil || se.Code != fcerrors.ErrCodeWorkerRPC {
		t.Fatalf("expected ErrCodeWorkerRPC, got %+v", se)
	}
}

func TestRoute_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	m := New(nil)
	tr := &stubTransport{sendErr: errors.New("boom")}
	id := m.RegisterWorker("w1", tr)
	m.Heartbeat(id, 5, 0, false)

	maxFailures := resilience.DefaultConfig().MaxFailures
	var lastErr error
	for i := 0; i < maxFailures+1; i++ {
		_, lastErr = m.Route(context.Background(), "feed-1", []byte("x"))
	}

	se := fcerrors.As(lastErr)
	if se == nil || se.Code != fcerrors.ErrCodeCircuitOpen {
		t.Fatalf("expected circuit to open after repeated failures, got %+v", se)
	}
	sentBeforeOpen := tr.sent
	m.Route(context.Background(), "feed-1", []byte("x"))
	if tr.sent != sentBeforeOpen {
		t.Errorf("expected open circuit to short-circuit without calling transport, sent grew from %d to %d", sentBeforeOpen, tr.sent)
	}
}

func TestDecisions_BoundedToMax(t *testing.T) {
	m := New(nil)
	tr := &stubTransport{}
	id := m.RegisterWorker("w1", tr)
	m.Heartbeat(id, 5, 0, false)

	for i := 0; i < maxDecisionLog+10; i++ {
		_, _ = m.Route(context.Background(), "feed-1", []byte("x"))
	}

	if got := len(m.Decisions()); got != maxDecisionLog {
		t.Errorf("expected decision log bounded at %d, got %d", maxDecisionLog, got)
	}
}

func TestSweepHealth_OfflineAfterStaleHeartbeat(t *testing.T) {
	m := New(nil)
	tr := &stubTransport{}
	id := m.RegisterWorker("w1", tr)

	m.mu.RLock()
	w := m.workers[id]
	m.mu.RUnlock()

	w.mu.Lock()
	w.lastHeartbeat = time.Now().Add(-40 * time.Second)
	w.mu.Unlock()

	m.sweepHealth()

	status, ok := m.Status(id)
	if !ok {
		t.Fatal("expected worker to exist")
	}
	if status != StatusOffline {
		t.Errorf("expected StatusOffline, got %v", status)
	}
}

func TestSweepHealth_DegradedOnHighLatency(t *testing.T) {
	m := New(nil)
	tr := &stubTransport{}
	id := m.RegisterWorker("w1", tr)
	m.Heartbeat(id, 900, 0, false)

	m.sweepHealth()

	status, _ := m.Status(id)
	if status != StatusDegraded {
		t.Errorf("expected StatusDegraded on high latency, got %v", status)
	}
}

func TestSweepHealth_UnhealthyOnErrorRate(t *testing.T) {
	m := New(nil)
	tr := &stubTransport{}
	id := m.RegisterWorker("w1", tr)

	for i := 0; i < 8; i++ {
		m.Heartbeat(id, 5, 0, false)
	}
	for i := 0; i < 2; i++ {
		m.Heartbeat(id, 5, 0, true)
	}

	m.sweepHealth()

	status, _ := m.Status(id)
	if status != StatusUnhealthy {
		t.Errorf("expected StatusUnhealthy at 20%% error rate, got %v", status)
	}
}

func TestDeregisterWorker_RemovesFromPool(t *testing.T) {
	m := New(nil)
	tr := &stubTransport{}
	id := m.RegisterWorker("w1", tr)
	if m.PoolSize() != 1 {
		t.Fatalf("expected pool size 1")
	}
	m.DeregisterWorker(id)
	if m.PoolSize() != 0 {
		t.Errorf("expected pool size 0 after deregister")
	}
}
