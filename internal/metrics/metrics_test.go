package metrics

import (
	"testing"
	"time"

	"github.com/afikmenashe/security-alerting/pkg/metrics"
)

func TestNoOp_AllMethodsWork(t *testing.T) {
	noop := NewNoOp()

	// All these should not panic
	noop.RecordReceived()
	noop.RecordSuppressed()
	noop.RecordDispatched(time.Second)
	noop.RecordDelivered()
	noop.RecordFailed()
	noop.RecordReplayed()
	noop.RecordError()
}

func TestCollectorAdapter(t *testing.T) {
	collector := metrics.NewCollector("security-alerts", nil)
	a := NewCollectorAdapter(collector)

	a.RecordReceived()
	a.RecordSuppressed()
	a.RecordDispatched(time.Millisecond)
	a.RecordDelivered()
	a.RecordFailed()
	a.RecordReplayed()
	a.RecordReplayed()
	a.RecordError()

	snap := collector.GetSnapshot()
	if snap.AlertsReceived != 1 || snap.AlertsDispatched != 1 || snap.AlertsDelivered != 1 || snap.DispatchErrors != 1 {
		t.Errorf("snapshot counters = %+v", snap)
	}
	want := map[string]uint64{CounterSuppressed: 1, CounterFailed: 1, CounterReplayed: 2}
	for name, n := range want {
		if snap.CustomCounters[name] != n {
			t.Errorf("CustomCounters[%s] = %d, want %d", name, snap.CustomCounters[name], n)
		}
	}
}
