package metrics

import (
	"time"

	"github.com/afikmenashe/security-alerting/pkg/metrics"
)

// Custom counter names reported by the collector.
const (
	CounterSuppressed = "alerts_suppressed"
	CounterFailed     = "alerts_failed"
	CounterReplayed   = "alerts_replayed"
)

// CollectorAdapter adapts pkg/metrics.Collector to the Recorder interface.
type CollectorAdapter struct {
	collector *metrics.Collector
}

// NewCollectorAdapter wraps a metrics.Collector to implement Recorder.
func NewCollectorAdapter(collector *metrics.Collector) *CollectorAdapter {
	return &CollectorAdapter{collector: collector}
}

func (a *CollectorAdapter) RecordReceived() {
	a.collector.RecordReceived()
}

func (a *CollectorAdapter) RecordSuppressed() {
	a.collector.IncrementCustom(CounterSuppressed)
}

func (a *CollectorAdapter) RecordDispatched(latency time.Duration) {
	a.collector.RecordDispatched(latency)
}

func (a *CollectorAdapter) RecordDelivered() {
	a.collector.RecordDelivered()
}

func (a *CollectorAdapter) RecordFailed() {
	a.collector.IncrementCustom(CounterFailed)
}

func (a *CollectorAdapter) RecordReplayed() {
	a.collector.IncrementCustom(CounterReplayed)
}

func (a *CollectorAdapter) RecordError() {
	a.collector.RecordError()
}

// Ensure CollectorAdapter implements Recorder
var _ Recorder = (*CollectorAdapter)(nil)
