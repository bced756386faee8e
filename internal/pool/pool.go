// Package pool implements the connection pool (spec.md §4.C): one logical,
// lazily-created connection per instrument_id, shared across concurrent
// sessions via a lease that serializes operations per instrument and
// guarantees release on every exit path.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mfgtest/orchestrator/internal/driver"
	"github.com/mfgtest/orchestrator/internal/transport"
)

// Sentinel errors, mirroring the teacher's storage-package convention of
// package-level errors.New vars checked with errors.Is.
var (
	// ErrInstrumentNotFound is returned when no configuration is registered
	// for the requested instrument_id.
	ErrInstrumentNotFound = errors.New("pool: instrument not found")

	// ErrTransportOpen wraps a failure to open the underlying transport on
	// first lease. The pool is not marked permanently broken: a later
	// lease attempt retries (spec.md §4.C).
	ErrTransportOpen = errors.New("pool: transport open failed")
)

// Factory constructs the transport and driver pair for one instrument_id
// from its configuration. Supplied by the process wiring layer (cmd), kept
// out of this package so pool stays free of the InstrumentConfig tagged
// variant's concrete decoding.
type Factory func(ctx context.Context, instrumentID string, simulated bool) (transport.Transport, driver.Driver, error)

type entry struct {
	mu        sync.Mutex
	transport transport.Transport
	driver    driver.Driver
	opened    bool
}

// Pool is process-wide and shared across all running sessions. It owns
// transports; drivers are only ever handed out wrapped in a Lease.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	factory Factory
	logger  *slog.Logger
}

// New builds a Pool that lazily constructs connections via factory.
func New(factory Factory, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		entries: make(map[string]*entry),
		factory: factory,
		logger:  logger,
	}
}

// Lease is a scoped acquisition of one instrument's transport/driver pair.
// Release must be called exactly once, typically via defer at the
// acquisition call site, so the per-instrument mutex is always freed even
// on a panicking or erroring caller.
type Lease struct {
	Driver driver.Driver

	pool     *Pool
	instID   string
	entry    *entry
	released bool
	waitedMs int64
}

// Release unlocks the instrument's serialization mutex. Safe to call more
// than once; only the first call has effect.
func (l *Lease) Release() {
	if l.released {
		return
	}

	l.released = true
	l.entry.mu.Unlock()
}

// WaitedMillis reports how long Get blocked waiting for a concurrently
// held lease on the same instrument, for telemetry (spec.md §4.C).
func (l *Lease) WaitedMillis() int64 {
	return l.waitedMs
}

// Get acquires a Lease for instrumentID, creating the connection lazily on
// first use. Two sessions requesting the same instrument serialize on the
// entry's mutex (spec.md §4.C "Isolation"); acquisition does not time out
// by default, per spec.
func (p *Pool) Get(ctx context.Context, instrumentID string, simulated bool) (*Lease, error) {
	p.mu.Lock()
	e, ok := p.entries[instrumentID]

	if !ok {
		e = &entry{}
		p.entries[instrumentID] = e
	}
	p.mu.Unlock()

	start := time.Now()
	e.mu.Lock()
	waited := time.Since(start).Milliseconds()

	if !e.opened {
		tr, drv, err := p.factory(ctx, instrumentID, simulated)
		if err != nil {
			e.mu.Unlock()

			return nil, fmt.Errorf("%w: %s: %w", ErrTransportOpen, instrumentID, err)
		}

		if err := drv.Initialize(ctx); err != nil {
			e.mu.Unlock()

			return nil, fmt.Errorf("%w: %s: initialize: %w", ErrTransportOpen, instrumentID, err)
		}

		e.transport = tr
		e.driver = drv
		e.opened = true

		p.logger.Info("pool: connection opened", slog.String("instrument_id", instrumentID))
	}

	return &Lease{
		Driver:   e.driver,
		pool:     p,
		instID:   instrumentID,
		entry:    e,
		waitedMs: waited,
	}, nil
}

// Shutdown closes every opened connection. Called once at process
// shutdown; not safe to call while leases may still be acquired.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error

	for id, e := range p.entries {
		if !e.opened {
			continue
		}

		if err := e.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("pool: close %s: %w", id, err))
		}
	}

	return errors.Join(errs...)
}
