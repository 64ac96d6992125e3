// Package worker implements the Worker Manager: a pool of CV worker
// connections selected by load score, with heartbeat-driven health
// transitions and a bounded log of routing decisions.
package worker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"

	core "github.com/ringlogic/fightcore/internal/core/service"
	fcerrors "github.com/ringlogic/fightcore/internal/errors"
	"github.com/ringlogic/fightcore/internal/resilience"
	"github.com/ringlogic/fightcore/pkg/logger"
	"github.com/ringlogic/fightcore/pkg/metrics"
)

// Status is a worker's current health classification.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusOffline   Status = "offline"
)

const (
	heartbeatOfflineAge  = 30 * time.Second
	heartbeatDegradedAge = 15 * time.Second
	degradedLatencyMS    = 200.0
	unhealthyErrorRate   = 0.10
	latencyEMAAlpha      = 0.3
	maxDecisionLog       = 1000
	healthCheckSpec      = "*/10 * * * * *" // every 10s, seconds-resolution cron
)

// Transport abstracts the RPC connection to one CV worker process. The
// production implementation wraps a gorilla/websocket connection; tests
// substitute a stub.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// wsTransport is the production Transport backed by a websocket connection.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, payload []byte) error {
	if t.conn == nil {
		return fcerrors.TransportFailure("websocket", fcerrors.New(fcerrors.ErrCodeTransportFailure, "no connection"))
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fcerrors.TransportFailure("websocket", err)
	}
	return nil
}

func (t *wsTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// NewWebSocketTransport wraps an already-dialed websocket connection.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

// workerState is a worker's mutable bookkeeping, serialized per-worker
// via its own mutex so concurrent reads of the pool never block.
type workerState struct {
	mu sync.RWMutex

	id              string
	endpoint        string
	transport       Transport
	breaker         *resilience.CircuitBreaker
	status          Status
	avgLatencyMS    float64
	queueDepth      int
	processedFrames uint64
	errorCount      uint64
	totalCount      uint64
	lastHeartbeat   time.Time
}

func (w *workerState) loadScore() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return 0.6*w.avgLatencyMS + 0.4*float64(w.queueDepth)*10
}

func (w *workerState) snapshotStatus() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// RoutingDecision records the outcome of one frame-routing attempt.
type RoutingDecision struct {
	FeedID    string
	WorkerID  string
	Outcome   string // "routed", "no-worker", "dropped"
	Timestamp time.Time
}

// Manager owns the worker pool and routes frames to the
// lowest-load-score healthy (falling back to degraded) worker.
type Manager struct {
	mu      sync.RWMutex
	workers map[string]*workerState

	decisionsMu sync.Mutex
	decisions   []RoutingDecision

	log     *logger.Logger
	cronRun *cron.Cron
	cronID  cron.EntryID
}

// New builds an empty Manager.
func New(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("ingest.worker")
	}
	return &Manager{
		workers: make(map[string]*workerState),
		log:     log,
	}
}

// Descriptor advertises this component's placement.
func (m *Manager) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "worker-manager",
		Domain: "ingest",
		Layer:  core.LayerIngest,
	}.WithCapabilities("worker-routing", "health-supervision")
}

// Name satisfies system.Service.
func (m *Manager) Name() string { return "worker-manager" }

// Start begins the 10-second cron-scheduled health sweep.
func (m *Manager) Start(ctx context.Context) error {
	m.cronRun = cron.New(cron.WithSeconds())
	id, err := m.cronRun.AddFunc(healthCheckSpec, m.sweepHealth)
	if err != nil {
		return fcerrors.Wrap(fcerrors.ErrCodeConfigInvalid, "registering health check schedule", err)
	}
	m.cronID = id
	m.cronRun.Start()
	return nil
}

// Stop halts the health sweep and closes every worker transport.
func (m *Manager) Stop(ctx context.Context) error {
	if m.cronRun != nil {
		stopCtx := m.cronRun.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.workers {
		if w.transport != nil {
			_ = w.transport.Close()
		}
	}
	return nil
}

// RegisterWorker adds a worker to the pool, returning its opaque id.
func (m *Manager) RegisterWorker(endpoint string, transport Transport) string {
	id := uuid.NewString()
	breakerCfg := resilience.DefaultConfig()
	breakerCfg.Name = "worker:" + id
	w := &workerState{
		id:            id,
		endpoint:      endpoint,
		transport:     transport,
		breaker:       resilience.New(breakerCfg),
		status:        StatusHealthy,
		lastHeartbeat: time.Now(),
	}

	m.mu.Lock()
	m.workers[id] = w
	m.mu.Unlock()

	metrics.RecordWorkerHealthTransition(id, "", string(StatusHealthy))
	return id
}

// DeregisterWorker removes a worker from the pool and closes its transport.
func (m *Manager) DeregisterWorker(id string) {
	m.mu.Lock()
	w, ok := m.workers[id]
	if ok {
		delete(m.workers, id)
	}
	m.mu.Unlock()

	if ok && w.transport != nil {
		_ = w.transport.Close()
	}
}

// Heartbeat records a liveness/latency/queue-depth update from a worker.
func (m *Manager) Heartbeat(id string, latencyMS float64, queueDepth int, errored bool) {
	m.mu.RLock()
	w, ok := m.workers[id]
	m.mu.RUnlock()
	if !ok {
		return
	}

	w.mu.Lock()
	w.lastHeartbeat = time.Now()
	w.avgLatencyMS = latencyEMAAlpha*latencyMS + (1-latencyEMAAlpha)*w.avgLatencyMS
	w.queueDepth = queueDepth
	w.totalCount++
	if errored {
		w.errorCount++
	} else {
		w.processedFrames++
	}
	w.mu.Unlock()

	metrics.RecordWorkerLoadScore(id, w.loadScore())
}

// Route selects the lowest-load-score healthy worker (falling back to
// degraded workers when no healthy one exists) for feedID and routes
// the payload, recording the outcome in the bounded decision log.
func (m *Manager) Route(ctx context.Context, feedID string, payload []byte) (string, error) {
	candidate := m.selectWorker()
	if candidate == nil {
		m.recordDecision(feedID, "", "no-worker")
		metrics.RecordRoutingDecision("no-worker")
		return "", fcerrors.NoWorkerAvailable(feedID)
	}

	err := candidate.breaker.Execute(ctx, func() error {
		return candidate.transport.Send(ctx, payload)
	})
	if err != nil {
		m.recordDecision(feedID, candidate.id, "dropped")
		metrics.RecordRoutingDecision("dropped")
		if se := fcerrors.As(err); se != nil && se.Code == fcerrors.ErrCodeCircuitOpen {
			return candidate.id, se
		}
		return candidate.id, fcerrors.WorkerRPC(candidate.id, err)
	}

	m.recordDecision(feedID, candidate.id, "routed")
	metrics.RecordRoutingDecision("routed")
	return candidate.id, nil
}

func (m *Manager) selectWorker() *workerState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var healthy, degraded []*workerState
	for _, w := range m.workers {
		switch w.snapshotStatus() {
		case StatusHealthy:
			healthy = append(healthy, w)
		case StatusDegraded:
			degraded = append(degraded, w)
		}
	}

	pool := healthy
	if len(pool) == 0 {
		pool = degraded
	}
	if len(pool) == 0 {
		return nil
	}

	sort.Slice(pool, func(i, j int) bool { return pool[i].loadScore() < pool[j].loadScore() })
	return pool[0]
}

func (m *Manager) recordDecision(feedID, workerID, outcome string) {
	m.decisionsMu.Lock()
	defer m.decisionsMu.Unlock()

	m.decisions = append(m.decisions, RoutingDecision{
		FeedID:    feedID,
		WorkerID:  workerID,
		Outcome:   outcome,
		Timestamp: time.Now(),
	})
	if len(m.decisions) > maxDecisionLog {
		m.decisions = m.decisions[len(m.decisions)-maxDecisionLog:]
	}
}

// Decisions returns a copy of the bounded routing-decision log.
func (m *Manager) Decisions() []RoutingDecision {
	m.decisionsMu.Lock()
	defer m.decisionsMu.Unlock()
	out := make([]RoutingDecision, len(m.decisions))
	copy(out, m.decisions)
	return out
}

// sweepHealth re-derives every worker's status from its current
// heartbeat age, latency, and error rate, per §4.2's transition rules.
func (m *Manager) sweepHealth() {
	m.mu.RLock()
	workers := make([]*workerState, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.RUnlock()

	now := time.Now()
	for _, w := range workers {
		w.mu.Lock()
		age := now.Sub(w.lastHeartbeat)
		errorRate := 0.0
		if w.totalCount > 0 {
			errorRate = float64(w.errorCount) / float64(w.totalCount)
		}
		prev := w.status

		var next Status
		switch {
		case age > heartbeatOfflineAge:
			next = StatusOffline
		case age > heartbeatDegradedAge:
			next = StatusDegraded
		case w.avgLatencyMS > degradedLatencyMS:
			next = StatusDegraded
		case errorRate > unhealthyErrorRate:
			next = StatusUnhealthy
		default:
			next = StatusHealthy
		}
		w.status = next
		id := w.id
		w.mu.Unlock()

		if next != prev {
			metrics.RecordWorkerHealthTransition(id, string(prev), string(next))
			m.log.WithField("worker_id", id).WithField("from", prev).WithField("to", next).Info("worker health transition")
		}
	}
}

// Status returns a worker's current health classification.
func (m *Manager) Status(id string) (Status, bool) {
	m.mu.RLock()
	w, ok := m.workers[id]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	return w.snapshotStatus(), true
}

// QueueDepth returns a worker's most recently heartbeated queue depth,
// for collaborators (e.g. the durable worker registration mirror) that
// need a point-in-time snapshot without holding a reference to the
// live workerState.
func (m *Manager) QueueDepth(id string) (int, bool) {
	m.mu.RLock()
	w, ok := m.workers[id]
	m.mu.RUnlock()
	if !ok {
		return 0, false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.queueDepth, true
}

// PoolSize returns the number of registered workers.
func (m *Manager) PoolSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// IDs returns a snapshot of every currently registered worker id, for
// collaborators (e.g. the durable worker registration mirror) that need
// to enumerate the pool without holding a reference to workerState.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.workers))
	for id := range m.workers {
		out = append(out, id)
	}
	return out
}
