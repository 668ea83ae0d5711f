package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPipelineMetricsObserve(t *testing.T) {
	m := NewPipelineMetrics(prometheus.NewRegistry())
	m.ObserveMessage("ok")
	m.ObserveStage("classify")
	m.ObserveClassifier("found", 1500*time.Millisecond)
	m.ObserveInbound("whatsapp", "enqueued")
	m.ObserveOutbound("text", errors.New("boom"))
}

func TestPipelineMetricsNilSafe(t *testing.T) {
	var m *PipelineMetrics
	m.ObserveMessage("ok")
	m.ObserveStage("intake")
	m.ObserveClassifier("error", time.Second)
	m.ObserveInbound("whatsapp", "rejected")
	m.ObserveOutbound("options", nil)
}

func TestTakeSnapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)
	m.ObserveMessage("ok")
	m.ObserveMessage("ok")
	m.ObserveMessage("duplicate")
	m.ObserveStage("classify")
	for i := 0; i < 19; i++ {
		m.ObserveClassifier("found", 400*time.Millisecond)
	}
	m.ObserveClassifier("found", 4*time.Second)

	snap := TakeSnapshot(reg)
	if snap.Messages["ok"] != 2 || snap.Messages["duplicate"] != 1 {
		t.Fatalf("unexpected message counts: %#v", snap.Messages)
	}
	if snap.Stages["classify"] != 1 {
		t.Fatalf("unexpected stage counts: %#v", snap.Stages)
	}
	if snap.ClassifierCalls != 20 {
		t.Fatalf("expected 20 classifier calls, got %d", snap.ClassifierCalls)
	}
	if got := snap.ClassifierP95Ms["found"]; got != 500 {
		t.Fatalf("expected p95 of 500ms, got %v", got)
	}
}

type failingGatherer struct{}

func (failingGatherer) Gather() ([]*dto.MetricFamily, error) {
	return nil, errors.New("gather failed")
}

func TestTakeSnapshotGatherError(t *testing.T) {
	snap := TakeSnapshot(failingGatherer{})
	if len(snap.Messages) != 0 || snap.ClassifierCalls != 0 {
		t.Fatalf("expected empty snapshot, got %#v", snap)
	}
}
