package audit

import (
	"testing"

	"github.com/ringlogic/fightcore/internal/model"
)

func TestAppend_FirstRecordChainsFromGenesis(t *testing.T) {
	l := New(nil, nil)
	record, err := l.Append("bout-1", KindEventAccepted, "cv-system", nil, model.AuditMetadata{}, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.PreviousHash != GenesisHash {
		t.Errorf("expected first record to chain from genesis, got %q", record.PreviousHash)
	}
	if record.Sequence != 0 {
		t.Errorf("expected sequence 0, got %d", record.Sequence)
	}
}

func TestAppend_ChainsFromPreviousHash(t *testing.T) {
	l := New(nil, nil)
	first, _ := l.Append("bout-1", KindEventAccepted, "cv-system", "p1", model.AuditMetadata{}, 1000)
	second, _ := l.Append("bout-1", KindEventAccepted, "cv-system", "p2", model.AuditMetadata{}, 1100)

	if second.PreviousHash != first.Hash {
		t.Errorf("expected second record's previous hash to equal first's hash")
	}
	if second.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", second.Sequence)
	}
}

func TestVerify_ValidChain(t *testing.T) {
	l := New(nil, nil)
	for i := 0; i < 5; i++ {
		l.Append("bout-1", KindEventAccepted, "cv-system", i, model.AuditMetadata{}, int64(1000+i*100))
	}
	_, valid, err := l.Verify("bout-1")
	if err != nil || !valid {
		t.Fatalf("expected valid chain, got valid=%v err=%v", valid, err)
	}
}

func TestVerify_DetectsTamperedRecord(t *testing.T) {
	l := New(nil, nil)
	for i := 0; i < 5; i++ {
		l.Append("bout-1", KindEventAccepted, "cv-system", i, model.AuditMetadata{}, int64(1000+i*100))
	}

	chain := l.chainFor("bout-1")
	chain.mu.Lock()
	chain.records[2].Actor = "tampered"
	chain.mu.Unlock()

	badSeq, valid, err := l.Verify("bout-1")
	if valid || err == nil {
		t.Fatal("expected tampering to be detected")
	}
	if badSeq != 2 {
		t.Errorf("expected first divergent sequence 2, got %d", badSeq)
	}
}

func TestVerify_EmptyChainIsValid(t *testing.T) {
	l := New(nil, nil)
	_, valid, err := l.Verify("unknown-bout")
	if err != nil || !valid {
		t.Fatalf("expected empty chain to be valid, got valid=%v err=%v", valid, err)
	}
}

func TestAppend_MirrorsToSink(t *testing.T) {
	sink := &RecordingSink{}
	l := New(sink, nil)
	l.Append("bout-1", KindEventAccepted, "cv-system", nil, model.AuditMetadata{}, 1000)
	l.Append("bout-1", KindVerdictComputed, "scoring-engine", nil, model.AuditMetadata{}, 2000)

	if got := len(sink.Records()); got != 2 {
		t.Errorf("expected 2 mirrored records, got %d", got)
	}
}

func TestRecords_IsolatedPerBout(t *testing.T) {
	l := New(nil, nil)
	l.Append("bout-1", KindEventAccepted, "cv-system", nil, model.AuditMetadata{}, 1000)
	l.Append("bout-2", KindEventAccepted, "cv-system", nil, model.AuditMetadata{}, 1000)

	if len(l.Records("bout-1")) != 1 || len(l.Records("bout-2")) != 1 {
		t.Error("expected each bout to have its own independent chain")
	}
}
