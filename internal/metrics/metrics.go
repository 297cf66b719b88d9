// Package metrics provides metrics recording interfaces for the alert dispatcher.
// It uses the null object pattern to avoid nil checks throughout the codebase.
package metrics

import "time"

// Recorder defines the interface for recording dispatcher metrics.
type Recorder interface {
	// RecordReceived increments the count of alerts taken off the queue.
	RecordReceived()

	// RecordSuppressed increments the count of alarms dropped by the cooldown gate.
	RecordSuppressed()

	// RecordDispatched records a finished broadcast with its latency.
	RecordDispatched(latency time.Duration)

	// RecordDelivered increments the count of alerts that reached at least one recipient.
	RecordDelivered()

	// RecordFailed increments the count of alerts no recipient received.
	RecordFailed()

	// RecordReplayed increments the count of alerts recovered from the pending store.
	RecordReplayed()

	// RecordError increments the error counter.
	RecordError()
}

// NoOp is a no-op implementation of Recorder that discards all metrics.
// Use this when metrics collection is not configured.
type NoOp struct{}

// NewNoOp creates a new no-op metrics recorder.
func NewNoOp() *NoOp {
	return &NoOp{}
}

func (n *NoOp) RecordReceived()                  {}
func (n *NoOp) RecordSuppressed()                {}
func (n *NoOp) RecordDispatched(_ time.Duration) {}
func (n *NoOp) RecordDelivered()                 {}
func (n *NoOp) RecordFailed()                    {}
func (n *NoOp) RecordReplayed()                  {}
func (n *NoOp) RecordError()                     {}

// Ensure NoOp implements Recorder
var _ Recorder = (*NoOp)(nil)
