// Package dispatcher drains submitted alerts and drives each one through the
// communication registry.
//
// A single loop takes alerts off the queue in FIFO order, applies the alarm
// cooldown gate, persists the alert when a pending store is configured and
// hands it to its own goroutine. Non-alarm dispatches share a bounded permit
// pool; alarms never wait for a permit.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/afikmenashe/security-alerting/internal/alert"
	"github.com/afikmenashe/security-alerting/internal/communication"
	"github.com/afikmenashe/security-alerting/internal/metrics"
	"github.com/afikmenashe/security-alerting/internal/pending"
)

const (
	// DefaultConcurrencyLimit is the number of simultaneous non-alarm dispatches.
	DefaultConcurrencyLimit = 3
	// DefaultQueueSize is the capacity of the ingestion buffer.
	DefaultQueueSize = 256
	// DefaultCooldown is the minimum time between two dispatched alarms.
	DefaultCooldown = 5 * time.Minute

	// stashTimeout bounds persisting the unadmitted backlog on shutdown.
	stashTimeout = 5 * time.Second
)

var (
	// ErrQueueClosed is returned by Submit once the dispatcher has shut down.
	ErrQueueClosed = errors.New("alert queue closed")

	// ErrStopped is returned by Run when the dispatcher was closed.
	// No further alerts can be delivered after this.
	ErrStopped = errors.New("alert dispatcher stopped")
)

// Broadcaster delivers one alert across every configured provider.
// *communication.Registry implements it.
type Broadcaster interface {
	Broadcast(ctx context.Context, event alert.Event) communication.Outcome
}

// Options configures a Dispatcher.
type Options struct {
	Cooldown         time.Duration // zero disables the alarm gate
	ConcurrencyLimit int
	QueueSize        int
	Store            pending.Store // nil disables crash recovery
	Metrics          metrics.Recorder
	Logger           *slog.Logger
	Now              func() time.Time
}

// Dispatcher owns the alert queue and every in-flight dispatch.
type Dispatcher struct {
	registry Broadcaster
	store    pending.Store
	metrics  metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time

	queue     chan alert.Event
	done      chan struct{}
	closeOnce sync.Once

	cooldown *cooldown
	permits  *semaphore.Weighted
	nextID   atomic.Uint64
	running  atomic.Bool
	wg       sync.WaitGroup
}

// New creates a dispatcher. Zero option values take the package defaults,
// except Cooldown where zero means no gate.
func New(registry Broadcaster, opts Options) (*Dispatcher, error) {
	if registry == nil {
		return nil, errors.New("registry cannot be nil")
	}
	if opts.ConcurrencyLimit <= 0 {
		opts.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoOp()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "dispatcher")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Dispatcher{
		registry: registry,
		store:    opts.Store,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Now,
		queue:    make(chan alert.Event, opts.QueueSize),
		done:     make(chan struct{}),
		cooldown: newCooldown(opts.Cooldown),
		permits:  semaphore.NewWeighted(int64(opts.ConcurrencyLimit)),
	}, nil
}

// Sender returns a submit handle for producers.
func (d *Dispatcher) Sender() *Sender {
	return &Sender{queue: d.queue, done: d.done}
}

// Close stops accepting alerts. Alerts already queued are still dispatched,
// after which Run returns ErrStopped. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

// Run replays pending records, then drains the queue until ctx is cancelled
// or Close is called. It waits for in-flight dispatches before returning.
// Once Run returns, Submit fails with ErrQueueClosed.
//
// On cancellation, alerts still buffered are written to the pending store
// without being dispatched, so the next start replays them.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("dispatcher is already running")
	}
	defer d.Close()

	if err := d.replay(ctx); err != nil {
		return err
	}

	d.logger.Info("Alert dispatcher started")
	for {
		if ctx.Err() != nil {
			return d.shutdown(ctx)
		}
		select {
		case <-ctx.Done():
			return d.shutdown(ctx)
		case <-d.done:
			d.drain(ctx)
			d.wg.Wait()
			d.logger.Warn("Alert dispatcher stopped")
			return ErrStopped
		case ev := <-d.queue:
			d.admit(ctx, ev)
		}
	}
}

// shutdown stops intake, stashes the backlog and waits for in-flight dispatches.
func (d *Dispatcher) shutdown(ctx context.Context) error {
	d.Close()
	d.logger.Info("Alert dispatcher shutting down, waiting for in-flight dispatches")
	d.stash(ctx)
	d.wg.Wait()
	return ctx.Err()
}

// stash persists every buffered alert without dispatching it.
func (d *Dispatcher) stash(ctx context.Context) {
	if len(d.queue) == 0 {
		return
	}
	if d.store == nil {
		d.logger.Warn("Dropping buffered alerts on shutdown, no pending store configured",
			"count", len(d.queue))
		return
	}

	stashCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stashTimeout)
	defer cancel()

	stashed := 0
	for {
		select {
		case ev := <-d.queue:
			id := d.nextID.Add(1) - 1
			if err := d.store.Put(stashCtx, id, ev); err != nil {
				d.metrics.RecordError()
				d.logger.Error("Failed to stash buffered alert",
					"pending_id", id,
					"source", ev.Source,
					"error", err,
				)
				continue
			}
			stashed++
		default:
			d.logger.Info("Stashed buffered alerts for replay", "count", stashed)
			return
		}
	}
}

// drain admits whatever is still buffered after Close.
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case ev := <-d.queue:
			d.admit(ctx, ev)
		default:
			return
		}
	}
}

// replay resubmits every record left in the pending store and moves the id
// counter past the highest id seen.
func (d *Dispatcher) replay(ctx context.Context) error {
	if d.store == nil {
		return nil
	}

	records, err := d.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending alerts: %w", err)
	}
	if highest, ok := pending.MaxID(records); ok {
		d.nextID.Store(highest + 1)
	}
	if len(records) == 0 {
		return nil
	}

	d.logger.Info("Replaying pending alerts", "count", len(records), "next_id", d.nextID.Load())
	for _, rec := range records {
		if rec.Err != nil {
			d.logger.Error("Discarding corrupt pending alert", "pending_id", rec.ID, "error", rec.Err)
			d.metrics.RecordError()
			if err := d.store.Delete(ctx, rec.ID); err != nil {
				d.logger.Error("Failed to delete corrupt pending alert", "pending_id", rec.ID, "error", err)
			}
			continue
		}
		d.metrics.RecordReplayed()
		d.metrics.RecordReceived()
		if rec.Event.IsAlarm() {
			// Replayed alarms bypass the gate but still open a new window.
			d.cooldown.Allow(d.now())
		}
		d.spawn(ctx, rec.ID, rec.Event, true)
	}
	return nil
}

// admit runs the cooldown gate and persistence for a freshly queued alert.
func (d *Dispatcher) admit(ctx context.Context, ev alert.Event) {
	d.metrics.RecordReceived()

	if ev.IsAlarm() && !d.cooldown.Allow(d.now()) {
		d.metrics.RecordSuppressed()
		d.logger.Warn("Alarm suppressed by cooldown",
			"source", ev.Source,
			"remaining", d.cooldown.Remaining(d.now()),
		)
		return
	}

	id := d.nextID.Add(1) - 1
	persisted := false
	if d.store != nil {
		if err := d.store.Put(ctx, id, ev); err != nil {
			d.metrics.RecordError()
			d.logger.Error("Failed to persist pending alert, dispatching anyway",
				"pending_id", id,
				"source", ev.Source,
				"error", err,
			)
		} else {
			persisted = true
		}
	}

	d.spawn(ctx, id, ev, persisted)
}

func (d *Dispatcher) spawn(ctx context.Context, id uint64, ev alert.Event, persisted bool) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.dispatch(ctx, id, ev, persisted)
	}()
}

// dispatch broadcasts one alert and clears its pending record.
func (d *Dispatcher) dispatch(ctx context.Context, id uint64, ev alert.Event, persisted bool) {
	logger := d.logger.With(
		"dispatch_id", uuid.NewString(),
		"pending_id", id,
		"source", ev.Source,
		"severity", ev.Severity.String(),
	)

	if !ev.IsAlarm() {
		if err := d.permits.Acquire(ctx, 1); err != nil {
			logger.Info("Dispatch abandoned before start", "error", err)
			return
		}
		defer d.permits.Release(1)
	}

	start := time.Now()
	outcome := d.registry.Broadcast(ctx, ev)
	d.metrics.RecordDispatched(time.Since(start))

	switch {
	case outcome.Failed():
		d.metrics.RecordFailed()
		logger.Error("Alert not delivered by any provider", "unsent", outcome.Unsent())
	case !outcome.Attempted():
		logger.Info("No provider has recipients for alert severity")
	default:
		d.metrics.RecordDelivered()
		logger.Info("Successfully dispatched alert",
			"delivered", outcome.Delivered(),
			"unsent", outcome.Unsent(),
		)
	}

	if !persisted {
		return
	}
	if ctx.Err() != nil {
		logger.Info("Dispatch interrupted by shutdown, keeping pending record")
		return
	}
	if err := d.store.Delete(ctx, id); err != nil {
		d.metrics.RecordError()
		logger.Error("Failed to delete pending alert", "error", err)
	}
}
