package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFrameIngested(t *testing.T) {
	RecordFrameIngested("feed-01")
	if got := testutil.ToFloat64(framesIngested.WithLabelValues("feed-01")); got < 1 {
		t.Errorf("framesIngested = %v, want >= 1", got)
	}
}

func TestRecordFrameDropped(t *testing.T) {
	RecordFrameDropped("feed-02")
	if got := testutil.ToFloat64(framesDropped.WithLabelValues("feed-02")); got < 1 {
		t.Errorf("framesDropped = %v, want >= 1", got)
	}
}

func TestRecordWorkerLoadScore(t *testing.T) {
	RecordWorkerLoadScore("worker-1", 0.42)
	if got := testutil.ToFloat64(routerLoadScore.WithLabelValues("worker-1")); got != 0.42 {
		t.Errorf("routerLoadScore = %v, want 0.42", got)
	}
}

func TestRecordWorkerHealthTransition(t *testing.T) {
	RecordWorkerHealthTransition("worker-2", "healthy", "degraded")
	if got := testutil.ToFloat64(workerHealthTransitions.WithLabelValues("worker-2", "healthy", "degraded")); got < 1 {
		t.Errorf("workerHealthTransitions = %v, want >= 1", got)
	}
}

func TestRecordDedupOutcome(t *testing.T) {
	RecordDedupOutcome("duplicate")
	if got := testutil.ToFloat64(dedupOutcomes.WithLabelValues("duplicate")); got < 1 {
		t.Errorf("dedupOutcomes = %v, want >= 1", got)
	}
}

func TestRecordScoringInvariantViolation(t *testing.T) {
	RecordScoringInvariantViolation("bout-99")
	if got := testutil.ToFloat64(scoringInvariantViolations.WithLabelValues("bout-99")); got < 1 {
		t.Errorf("scoringInvariantViolations = %v, want >= 1", got)
	}
}

func TestSetAuditChainLength(t *testing.T) {
	SetAuditChainLength("bout-1", 17)
	if got := testutil.ToFloat64(auditChainLength.WithLabelValues("bout-1")); got != 17 {
		t.Errorf("auditChainLength = %v, want 17", got)
	}
}

func TestObservationHooks_StartAndComplete(t *testing.T) {
	hooks := ObservationHooks("fightcore_test", "widget", "process")

	done := hooks.OnStart
	if done == nil {
		t.Fatal("expected OnStart to be set")
	}
	meta := map[string]string{"worker_id": "worker-5"}
	hooks.OnStart(context.Background(), meta)
	time.Sleep(time.Millisecond)
	hooks.OnComplete(context.Background(), meta, nil, time.Millisecond)
}

func TestMetaLabel(t *testing.T) {
	cases := []struct {
		meta map[string]string
		want string
	}{
		{nil, "unknown"},
		{map[string]string{}, "unknown"},
		{map[string]string{"worker_id": "w-1"}, "w-1"},
		{map[string]string{"feed_id": "f-1", "worker_id": "w-1"}, "f-1"},
	}
	for _, tc := range cases {
		if got := metaLabel(tc.meta); got != tc.want {
			t.Errorf("metaLabel(%v) = %v, want %v", tc.meta, got, tc.want)
		}
	}
}
