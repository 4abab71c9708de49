package status

import (
	"context"
	"sync"
	"time"

	"tradegate/internal/collab"
	"tradegate/internal/logging"
	"tradegate/internal/monitoring"
)

// Snapshot is one point-in-time view of the host and the trading processes.
// It is the payload of GET /remote/status and of WebSocket status broadcasts.
type Snapshot struct {
	CPUUsage      float64   `json:"cpu_usage"`
	MemoryUsage   float64   `json:"memory_usage"`
	DiskUsage     float64   `json:"disk_usage"`
	TradingStatus string    `json:"trading_status"`
	APIStatus     string    `json:"api_status"`
	Timestamp     time.Time `json:"timestamp"`
}

// Resources holds host resource usage percentages.
type Resources struct {
	CPU    float64
	Memory float64
	Disk   float64
}

// ResourceProber reads host resource usage. Implementations are platform
// specific.
type ResourceProber interface {
	Probe(ctx context.Context) (*Resources, error)
}

// Collector builds status snapshots and caches them for a short TTL so that
// polling dashboards and the broadcast loop do not hammer the collaborator
// probes. A snapshot is shared by every caller inside the TTL window.
type Collector struct {
	process      collab.ProcessController
	prober       ResourceProber
	ttl          time.Duration
	probeTimeout time.Duration
	metrics      *monitoring.Metrics

	mu        sync.Mutex
	cached    *Snapshot
	fetchedAt time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithMetrics records refresh counts and durations.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

// NewCollector creates a collector. ttl bounds snapshot staleness and
// probeTimeout bounds each individual probe.
func NewCollector(process collab.ProcessController, prober ResourceProber, ttl, probeTimeout time.Duration, opts ...Option) *Collector {
	c := &Collector{
		process:      process,
		prober:       prober,
		ttl:          ttl,
		probeTimeout: probeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the cached snapshot, refreshing it when the TTL has
// expired. Callers inside the TTL window receive the identical snapshot.
// Collection never fails; unreachable collaborators degrade their fields
// to Down and resource probe failures leave usage at zero.
func (c *Collector) Snapshot(ctx context.Context) *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.cached
	}

	start := time.Now()
	snap := c.collect(ctx)
	c.cached = snap
	c.fetchedAt = time.Now()

	if c.metrics != nil {
		c.metrics.ObserveSnapshotRefresh(time.Since(start))
	}
	return snap
}

// Invalidate discards the cached snapshot so the next read reflects a state
// change immediately instead of waiting out the TTL.
func (c *Collector) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// collect probes everything in parallel. Each probe gets its own deadline so
// one stuck collaborator cannot stall the whole snapshot.
func (c *Collector) collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{
		TradingStatus: collab.StateUnknown,
		APIStatus:     collab.StateUnknown,
		Timestamp:     time.Now().UTC(),
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		pctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
		defer cancel()
		state, err := c.process.TradingStatus(pctx)
		if err != nil {
			logging.WithError(err).Warn("trading status probe failed")
			snap.TradingStatus = collab.StateDown
			return
		}
		snap.TradingStatus = state
	}()

	go func() {
		defer wg.Done()
		pctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
		defer cancel()
		state, err := c.process.APIStatus(pctx)
		if err != nil {
			logging.WithError(err).Warn("api status probe failed")
			snap.APIStatus = collab.StateDown
			return
		}
		snap.APIStatus = state
	}()

	go func() {
		defer wg.Done()
		pctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
		defer cancel()
		res, err := c.prober.Probe(pctx)
		if err != nil {
			logging.WithError(err).Warn("resource probe failed")
			return
		}
		snap.CPUUsage = res.CPU
		snap.MemoryUsage = res.Memory
		snap.DiskUsage = res.Disk
	}()

	wg.Wait()
	return snap
}
