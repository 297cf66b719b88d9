// Package metrics provides the periodic metrics reporter of the alerting service.
// Counters are kept in memory and written to Redis as a JSON snapshot.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// MetricsKeyPrefix is the Redis key prefix for service metrics.
	MetricsKeyPrefix = "metrics:"
	// MetricsTTL is how long metrics stay in Redis if not refreshed.
	MetricsTTL = 2 * time.Minute
	// DefaultReportInterval is the default interval for writing metrics to Redis.
	DefaultReportInterval = 30 * time.Second
)

// ServiceMetrics is one snapshot of the service counters.
type ServiceMetrics struct {
	ServiceName string    `json:"service_name"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      string    `json:"status"` // "healthy" or "unhealthy"

	// Counters (monotonically increasing since start)
	AlertsReceived   uint64 `json:"alerts_received"`
	AlertsDispatched uint64 `json:"alerts_dispatched"`
	AlertsDelivered  uint64 `json:"alerts_delivered"`
	DispatchErrors   uint64 `json:"dispatch_errors"`

	// Rates (per report interval)
	DispatchesPerSecond float64 `json:"dispatches_per_second"`

	// Average broadcast latency in nanoseconds
	AvgDispatchLatencyNs float64 `json:"avg_dispatch_latency_ns"`

	CustomCounters map[string]uint64 `json:"custom_counters,omitempty"`
}

// Collector collects and reports metrics for the service.
type Collector struct {
	serviceName    string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	alertsReceived   atomic.Uint64
	alertsDispatched atomic.Uint64
	alertsDelivered  atomic.Uint64
	dispatchErrors   atomic.Uint64

	reportMu            sync.Mutex
	lastReportTime      time.Time
	lastDispatchedCount uint64

	totalLatencyNs atomic.Uint64
	latencyCount   atomic.Uint64

	customMu       sync.RWMutex
	customCounters map[string]*atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a collector. A nil Redis client keeps counters in memory only.
func NewCollector(serviceName string, redisClient *redis.Client) *Collector {
	now := time.Now().UTC()
	return &Collector{
		serviceName:    serviceName,
		redis:          redisClient,
		startedAt:      now,
		reportInterval: DefaultReportInterval,
		lastReportTime: now,
		customCounters: make(map[string]*atomic.Uint64),
		stopCh:         make(chan struct{}),
	}
}

// SetReportInterval sets the interval for writing metrics to Redis.
func (c *Collector) SetReportInterval(interval time.Duration) {
	c.reportInterval = interval
}

// Start begins the periodic metrics reporting to Redis.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.writeMetrics(context.Background()) // final write
				return
			case <-c.stopCh:
				c.writeMetrics(context.Background()) // final write
				return
			case <-ticker.C:
				c.writeMetrics(ctx)
			}
		}
	}()
}

// Stop stops the metrics reporting. It is safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// RecordReceived increments the alerts received counter.
func (c *Collector) RecordReceived() {
	c.alertsReceived.Add(1)
}

// RecordDispatched counts a finished broadcast and its latency.
func (c *Collector) RecordDispatched(latency time.Duration) {
	c.alertsDispatched.Add(1)
	c.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	c.latencyCount.Add(1)
}

// RecordDelivered increments the delivered alerts counter.
func (c *Collector) RecordDelivered() {
	c.alertsDelivered.Add(1)
}

// RecordError increments the dispatch errors counter.
func (c *Collector) RecordError() {
	c.dispatchErrors.Add(1)
}

// IncrementCustom increments a custom counter by name.
func (c *Collector) IncrementCustom(name string) {
	c.AddCustom(name, 1)
}

// AddCustom adds a value to a custom counter.
func (c *Collector) AddCustom(name string, value uint64) {
	c.customMu.RLock()
	counter, exists := c.customCounters[name]
	c.customMu.RUnlock()

	if !exists {
		c.customMu.Lock()
		// Double-check after acquiring write lock
		if counter, exists = c.customCounters[name]; !exists {
			counter = &atomic.Uint64{}
			c.customCounters[name] = counter
		}
		c.customMu.Unlock()
	}
	counter.Add(value)
}

// GetSnapshot returns current metrics without writing to Redis.
func (c *Collector) GetSnapshot() *ServiceMetrics {
	c.reportMu.Lock()
	since, sinceCount := c.lastReportTime, c.lastDispatchedCount
	c.reportMu.Unlock()
	return c.snapshot(time.Now().UTC(), since, sinceCount)
}

func (c *Collector) snapshot(now, since time.Time, sinceCount uint64) *ServiceMetrics {
	dispatched := c.alertsDispatched.Load()

	var rate float64
	if elapsed := now.Sub(since).Seconds(); elapsed > 0 {
		rate = float64(dispatched-sinceCount) / elapsed
	}

	var avgLatencyNs float64
	if n := c.latencyCount.Load(); n > 0 {
		avgLatencyNs = float64(c.totalLatencyNs.Load()) / float64(n)
	}

	c.customMu.RLock()
	customCounters := make(map[string]uint64, len(c.customCounters))
	for name, counter := range c.customCounters {
		customCounters[name] = counter.Load()
	}
	c.customMu.RUnlock()

	return &ServiceMetrics{
		ServiceName:          c.serviceName,
		StartedAt:            c.startedAt,
		LastUpdated:          now,
		Status:               "healthy",
		AlertsReceived:       c.alertsReceived.Load(),
		AlertsDispatched:     dispatched,
		AlertsDelivered:      c.alertsDelivered.Load(),
		DispatchErrors:       c.dispatchErrors.Load(),
		DispatchesPerSecond:  rate,
		AvgDispatchLatencyNs: avgLatencyNs,
		CustomCounters:       customCounters,
	}
}

// writeMetrics writes current metrics to Redis.
func (c *Collector) writeMetrics(ctx context.Context) {
	if c.redis == nil {
		return
	}

	metrics := c.GetSnapshot()
	c.reportMu.Lock()
	c.lastReportTime = metrics.LastUpdated
	c.lastDispatchedCount = metrics.AlertsDispatched
	c.reportMu.Unlock()

	data, err := json.Marshal(metrics)
	if err != nil {
		slog.Error("Failed to marshal metrics", "service", c.serviceName, "error", err)
		return
	}

	key := MetricsKeyPrefix + c.serviceName
	if err := c.redis.Set(ctx, key, data, MetricsTTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "service", c.serviceName, "error", err)
		return
	}

	slog.Debug("Metrics written to Redis", "service", c.serviceName, "key", key)
}
