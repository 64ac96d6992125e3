// Package audit implements the Audit Log: one append-only, hash-chained
// record per bout covering every decision worth auditing.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	core "github.com/ringlogic/fightcore/internal/core/service"
	fcerrors "github.com/ringlogic/fightcore/internal/errors"
	"github.com/ringlogic/fightcore/internal/model"
	"github.com/ringlogic/fightcore/pkg/logger"
	"github.com/ringlogic/fightcore/pkg/metrics"
)

// GenesisHash seeds the first record of every bout's chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000"

// Record kinds worth auditing, per §4.10.
const (
	KindEventAccepted    = "event-accepted"
	KindEventHarmonised  = "event-harmonised"
	KindVerdictComputed  = "round-verdict-computed"
	KindManualEdit       = "manual-edit"
)

// Sink optionally mirrors appended records to an external collaborator
// (a document store, in production). Failures are logged but never
// roll back the in-memory append, since the in-memory chain is the
// source of truth for verification.
type Sink interface {
	Write(record model.AuditRecord) error
}

// NoopSink discards every record. It is the default when no mirror is configured.
type NoopSink struct{}

// Write implements Sink.
func (NoopSink) Write(model.AuditRecord) error { return nil }

// RecordingSink collects every written record in memory, for tests and
// for composition roots that want an in-process secondary copy.
type RecordingSink struct {
	mu      sync.Mutex
	records []model.AuditRecord
}

// Write implements Sink.
func (s *RecordingSink) Write(record model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of every record written to the sink.
func (s *RecordingSink) Records() []model.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}

// boutChain is one bout's hash-chained record sequence.
type boutChain struct {
	mu      sync.Mutex
	records []model.AuditRecord
}

// Log owns one hash-chain per bout.
type Log struct {
	mu     sync.RWMutex
	chains map[string]*boutChain
	sink   Sink
	log    *logger.Logger
}

// New builds a Log. A nil sink defaults to NoopSink.
func New(sink Sink, log *logger.Logger) *Log {
	if sink == nil {
		sink = NoopSink{}
	}
	if log == nil {
		log = logger.NewDefault("audit")
	}
	return &Log{chains: make(map[string]*boutChain), sink: sink, log: log}
}

// Descriptor advertises this component's placement.
func (l *Log) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "audit-log",
		Domain: "audit",
		Layer:  core.LayerAudit,
	}.WithCapabilities("hash-chain", "verification")
}

// Append adds one entry to boutID's chain, computing its hash from the
// previous record's hash (or the genesis hash for the first record).
func (l *Log) Append(boutID, kind, actor string, payload interface{}, meta model.AuditMetadata, timestampMS int64) (model.AuditRecord, error) {
	chain := l.chainFor(boutID)

	chain.mu.Lock()
	defer chain.mu.Unlock()

	prevHash := GenesisHash
	if n := len(chain.records); n > 0 {
		prevHash = chain.records[n-1].Hash
	}

	record := model.AuditRecord{
		BoutID:       boutID,
		Sequence:     uint64(len(chain.records)),
		PreviousHash: prevHash,
		Kind:         kind,
		Actor:        actor,
		Payload:      payload,
		Metadata:     meta,
		TimestampMS:  timestampMS,
	}

	hash, err := hashRecord(record)
	if err != nil {
		return model.AuditRecord{}, fcerrors.AuditAppend(err)
	}
	record.Hash = hash

	chain.records = append(chain.records, record)
	metrics.SetAuditChainLength(boutID, len(chain.records))

	if err := l.sink.Write(record); err != nil {
		l.log.WithField("bout_id", boutID).WithError(err).Warn("audit sink mirror failed")
	}

	return record, nil
}

// Records returns a copy of boutID's chain in sequence order.
func (l *Log) Records(boutID string) []model.AuditRecord {
	chain := l.chainFor(boutID)
	chain.mu.Lock()
	defer chain.mu.Unlock()
	out := make([]model.AuditRecord, len(chain.records))
	copy(out, chain.records)
	return out
}

// Verify re-hashes boutID's chain from the genesis hash and reports the
// first sequence number whose recomputed hash diverges from the stored
// hash, or (0, true, nil) when the whole chain validates.
func (l *Log) Verify(boutID string) (badSequence uint64, valid bool, err error) {
	chain := l.chainFor(boutID)
	chain.mu.Lock()
	defer chain.mu.Unlock()

	prevHash := GenesisHash
	for _, record := range chain.records {
		check := record
		check.Hash = ""
		expected, hashErr := hashRecord(model.AuditRecord{
			BoutID:       record.BoutID,
			Sequence:     record.Sequence,
			PreviousHash: prevHash,
			Kind:         record.Kind,
			Actor:        record.Actor,
			Payload:      record.Payload,
			Metadata:     record.Metadata,
			TimestampMS:  record.TimestampMS,
		})
		if hashErr != nil {
			return record.Sequence, false, hashErr
		}
		if expected != record.Hash || record.PreviousHash != prevHash {
			return record.Sequence, false, fcerrors.AuditChainBroken(record.Sequence, expected, record.Hash)
		}
		prevHash = record.Hash
	}
	return 0, true, nil
}

func (l *Log) chainFor(boutID string) *boutChain {
	l.mu.RLock()
	c, ok := l.chains[boutID]
	l.mu.RUnlock()
	if ok {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.chains[boutID]; ok {
		return c
	}
	c = &boutChain{}
	l.chains[boutID] = c
	return c
}

// hashRecord computes the SHA-256 hex digest of a record's
// deterministic JSON serialisation (Hash itself excluded). Go's
// encoding/json marshals struct fields in declaration order, which is
// stable across calls, so no extra canonicalisation step is needed.
func hashRecord(record model.AuditRecord) (string, error) {
	record.Hash = ""
	b, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
