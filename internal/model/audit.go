package model

// AuditMetadata carries optional provenance detail for an audit record.
type AuditMetadata struct {
	CVModelVersion     string `json:"cv_model_version,omitempty"`
	JudgeDeviceID      string `json:"judge_device_id,omitempty"`
	ScoringEngineVersion string `json:"scoring_engine_version,omitempty"`
}

// AuditRecord is one ordered, hash-chained entry in a bout's audit log.
type AuditRecord struct {
	BoutID       string        `json:"bout_id"`
	Sequence     uint64        `json:"sequence"`
	PreviousHash string        `json:"previous_hash"`
	Kind         string        `json:"kind"`
	Actor        string        `json:"actor"`
	Payload      interface{}   `json:"payload"`
	Metadata     AuditMetadata `json:"metadata,omitempty"`
	TimestampMS  int64         `json:"timestamp_ms"`

	// Hash is the SHA-256 over the deterministically serialised record
	// (every field above, excluding Hash itself). Populated by the
	// audit log on append; never set by callers.
	Hash string `json:"hash"`
}
