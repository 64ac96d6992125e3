package storage

import (
	"context"
	"sync"

	fcerrors "github.com/ringlogic/fightcore/internal/errors"
	"github.com/ringlogic/fightcore/internal/model"
)

// Memory is a thread-safe in-memory implementation of every store
// interface in this package. It is intended as the composition root's
// default collaborator and for tests; it deliberately keeps the
// implementation simple.
type Memory struct {
	mu sync.RWMutex

	events   map[string]map[int][]model.CombatEvent
	verdicts map[string]map[int]model.RoundVerdict
	records  map[string][]model.AuditRecord
	workers  map[string]WorkerRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events:   make(map[string]map[int][]model.CombatEvent),
		verdicts: make(map[string]map[int]model.RoundVerdict),
		records:  make(map[string][]model.AuditRecord),
		workers:  make(map[string]WorkerRecord),
	}
}

// EventStore implementation ---------------------------------------------

func (m *Memory) AppendEvent(_ context.Context, event model.CombatEvent) (model.CombatEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rounds, ok := m.events[event.BoutID]
	if !ok {
		rounds = make(map[int][]model.CombatEvent)
		m.events[event.BoutID] = rounds
	}
	rounds[event.Round] = append(rounds[event.Round], cloneEvent(event))
	return cloneEvent(event), nil
}

func (m *Memory) ListEvents(_ context.Context, boutID string, round int) ([]model.CombatEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rounds, ok := m.events[boutID]
	if !ok {
		return nil, nil
	}
	stored := rounds[round]
	out := make([]model.CombatEvent, len(stored))
	for i, ev := range stored {
		out[i] = cloneEvent(ev)
	}
	return out, nil
}

// VerdictStore implementation -------------------------------------------

func (m *Memory) SaveVerdict(_ context.Context, verdict model.RoundVerdict) (model.RoundVerdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rounds, ok := m.verdicts[verdict.BoutID]
	if !ok {
		rounds = make(map[int]model.RoundVerdict)
		m.verdicts[verdict.BoutID] = rounds
	}
	rounds[verdict.Round] = cloneVerdict(verdict)
	return cloneVerdict(verdict), nil
}

func (m *Memory) GetVerdict(_ context.Context, boutID string, round int) (model.RoundVerdict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rounds, ok := m.verdicts[boutID]
	if !ok {
		return model.RoundVerdict{}, fcerrors.NotFound("verdict", boutID)
	}
	verdict, ok := rounds[round]
	if !ok {
		return model.RoundVerdict{}, fcerrors.NotFound("verdict", boutID)
	}
	return cloneVerdict(verdict), nil
}

func (m *Memory) ListVerdicts(_ context.Context, boutID string) ([]model.RoundVerdict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rounds, ok := m.verdicts[boutID]
	if !ok {
		return nil, nil
	}
	out := make([]model.RoundVerdict, 0, len(rounds))
	for _, verdict := range rounds {
		out = append(out, cloneVerdict(verdict))
	}
	return out, nil
}

// AuditStore implementation ----------------------------------------------

func (m *Memory) AppendRecord(_ context.Context, record model.AuditRecord) (model.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[record.BoutID] = append(m.records[record.BoutID], record)
	return record, nil
}

func (m *Memory) ListRecords(_ context.Context, boutID string) ([]model.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.records[boutID]
	out := make([]model.AuditRecord, len(stored))
	copy(out, stored)
	return out, nil
}

// WorkerStore implementation ---------------------------------------------

func (m *Memory) UpsertWorker(_ context.Context, rec WorkerRecord) (WorkerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers[rec.ID] = rec
	return rec, nil
}

func (m *Memory) GetWorker(_ context.Context, id string) (WorkerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.workers[id]
	if !ok {
		return WorkerRecord{}, fcerrors.NotFound("worker", id)
	}
	return rec, nil
}

func (m *Memory) ListWorkers(_ context.Context) ([]WorkerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]WorkerRecord, 0, len(m.workers))
	for _, rec := range m.workers {
		out = append(out, rec)
	}
	return out, nil
}

func (m *Memory) RemoveWorker(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workers[id]; !ok {
		return fcerrors.NotFound("worker", id)
	}
	delete(m.workers, id)
	return nil
}

// cloneEvent returns a copy of ev with its own Extension map, so that
// mutating the caller's copy (or a stored copy) can never alias the other.
func cloneEvent(ev model.CombatEvent) model.CombatEvent {
	if ev.Extension == nil {
		return ev
	}
	clone := ev
	clone.Extension = make(map[string]interface{}, len(ev.Extension))
	for k, v := range ev.Extension {
		clone.Extension[k] = v
	}
	return clone
}

// cloneVerdict returns a copy of v with its own maps, for the same reason.
func cloneVerdict(v model.RoundVerdict) model.RoundVerdict {
	clone := v

	clone.RawPoints = cloneFloatMap(v.RawPoints)
	clone.SharePct = cloneFloatMap(v.SharePct)

	if v.ImpactFlags != nil {
		clone.ImpactFlags = make(map[model.Fighter][]model.ImpactFlag, len(v.ImpactFlags))
		for fighter, flags := range v.ImpactFlags {
			cp := make([]model.ImpactFlag, len(flags))
			copy(cp, flags)
			clone.ImpactFlags[fighter] = cp
		}
	}

	if v.Breakdown != nil {
		clone.Breakdown = make(map[model.Fighter]map[model.EventKind]float64, len(v.Breakdown))
		for fighter, byKind := range v.Breakdown {
			clone.Breakdown[fighter] = cloneEventKindMap(byKind)
		}
	}

	return clone
}

func cloneFloatMap(in map[model.Fighter]float64) map[model.Fighter]float64 {
	if in == nil {
		return nil
	}
	out := make(map[model.Fighter]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneEventKindMap(in map[model.EventKind]float64) map[model.EventKind]float64 {
	if in == nil {
		return nil
	}
	out := make(map[model.EventKind]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
