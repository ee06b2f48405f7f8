// Package gate provides bounded-admission primitives. A run uses two: the
// items gate bounds how many work items are processed end to end, the calls
// gate bounds generation calls in flight across all items.
package gate

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Prometheus metrics for gate admission.
var (
	gateInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "descgen_gate_in_flight",
		Help: "Slots currently held per gate",
	}, []string{"gate"})

	gateWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "descgen_gate_wait_seconds",
		Help:    "Time spent waiting for a gate slot",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	}, []string{"gate"})
)

// Gate names used by the pipeline.
const (
	ItemsGate = "items"
	CallsGate = "calls"
)

// Gate is a counting semaphore with observable occupancy.
type Gate struct {
	name     string
	capacity int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	logger   zerolog.Logger
}

// New creates a gate admitting capacity concurrent holders.
func New(name string, capacity int, logger zerolog.Logger) (*Gate, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("gate %s: capacity must be > 0 (got %d)", name, capacity)
	}
	return &Gate{
		name:     name,
		capacity: int64(capacity),
		sem:      semaphore.NewWeighted(int64(capacity)),
		logger:   logger,
	}, nil
}

// Acquire blocks until a slot is free or ctx ends.
func (g *Gate) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire %s slot: %w", g.name, err)
	}
	g.held(time.Since(start))
	return nil
}

// TryAcquire takes a slot without blocking and reports whether it did.
func (g *Gate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.held(0)
	return true
}

// Release returns a slot taken by Acquire or TryAcquire.
func (g *Gate) Release() {
	g.inFlight.Add(-1)
	gateInFlight.WithLabelValues(g.name).Dec()
	g.sem.Release(1)
}

// Do runs fn while holding a slot. The slot is released on every exit path,
// including a panic in fn, which is re-raised after release.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn(ctx)
}

// InFlight returns the number of slots currently held.
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Capacity returns the total number of slots.
func (g *Gate) Capacity() int {
	return int(g.capacity)
}

// Name returns the gate name used in logs and metrics.
func (g *Gate) Name() string {
	return g.name
}

func (g *Gate) held(waited time.Duration) {
	n := g.inFlight.Add(1)
	gateInFlight.WithLabelValues(g.name).Inc()
	gateWaitSeconds.WithLabelValues(g.name).Observe(waited.Seconds())
	if waited > 100*time.Millisecond {
		g.logger.Debug().
			Str("gate", g.name).
			Dur("duration", waited).
			Int64("in_flight", n).
			Msg("Gate slot acquired after wait")
	}
}

// Gates pairs the item gate with the call gate. The two are independent:
// holding an item slot never counts against the call gate.
type Gates struct {
	Items *Gate
	Calls *Gate
}

// NewGates creates the item and call gates.
func NewGates(items, calls int, logger zerolog.Logger) (*Gates, error) {
	ig, err := New(ItemsGate, items, logger)
	if err != nil {
		return nil, err
	}
	cg, err := New(CallsGate, calls, logger)
	if err != nil {
		return nil, err
	}
	return &Gates{Items: ig, Calls: cg}, nil
}

// AcquireItem takes an item slot.
func (g *Gates) AcquireItem(ctx context.Context) error { return g.Items.Acquire(ctx) }

// ReleaseItem returns an item slot.
func (g *Gates) ReleaseItem() { g.Items.Release() }

// AcquireCall takes a call slot.
func (g *Gates) AcquireCall(ctx context.Context) error { return g.Calls.Acquire(ctx) }

// ReleaseCall returns a call slot.
func (g *Gates) ReleaseCall() { g.Calls.Release() }
