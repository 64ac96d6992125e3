// Package storage defines the document-store collaborator interfaces the
// pipeline depends on, plus an in-memory reference implementation. No
// concrete Postgres/Mongo adapter is built here — persistent storage is an
// external collaborator per the system's scoping, and the in-memory
// implementation is what the composition root wires by default.
package storage

import (
	"context"

	"github.com/ringlogic/fightcore/internal/model"
)

// EventStore persists the canonical combat events that have passed through
// the ingest pipeline.
type EventStore interface {
	AppendEvent(ctx context.Context, event model.CombatEvent) (model.CombatEvent, error)
	ListEvents(ctx context.Context, boutID string, round int) ([]model.CombatEvent, error)
}

// VerdictStore persists the round verdicts produced by the scoring engine.
type VerdictStore interface {
	SaveVerdict(ctx context.Context, verdict model.RoundVerdict) (model.RoundVerdict, error)
	GetVerdict(ctx context.Context, boutID string, round int) (model.RoundVerdict, error)
	ListVerdicts(ctx context.Context, boutID string) ([]model.RoundVerdict, error)
}

// AuditStore persists audit records for query outside the in-process
// hash-chain held by internal/audit.Log — it is the store-side half of that
// package's optional Sink mirror, giving callers a way to list a bout's
// trail without holding a reference to the live Log.
type AuditStore interface {
	AppendRecord(ctx context.Context, record model.AuditRecord) (model.AuditRecord, error)
	ListRecords(ctx context.Context, boutID string) ([]model.AuditRecord, error)
}

// WorkerRecord is the persisted view of a registered scoring worker,
// distinct from the live transport handle internal/ingest/worker.Manager
// holds in memory for routing — this is the durable registration record an
// operator surface would list.
type WorkerRecord struct {
	ID         string
	Capacity   int
	QueueDepth int
	Healthy    bool
	LastSeenMS int64
}

// WorkerStore persists worker registration and heartbeat records.
type WorkerStore interface {
	UpsertWorker(ctx context.Context, rec WorkerRecord) (WorkerRecord, error)
	GetWorker(ctx context.Context, id string) (WorkerRecord, error)
	ListWorkers(ctx context.Context) ([]WorkerRecord, error)
	RemoveWorker(ctx context.Context, id string) error
}
