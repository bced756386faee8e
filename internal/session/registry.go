package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mfgtest/orchestrator/internal/canonicalization"
	"github.com/mfgtest/orchestrator/internal/dispatch"
	"github.com/mfgtest/orchestrator/internal/report"
	"github.com/mfgtest/orchestrator/internal/storage"
	"github.com/mfgtest/orchestrator/internal/telemetry"
)

// idempotencyWindow bounds how long a retried StartSession request (same
// DUT, station, plan, and RequestedAt) collapses onto the session already
// created for it, rather than opening a second run against the same unit
// (spec.md §9).
const idempotencyWindow = 60 * time.Second

type idempotencyEntry struct {
	engine    *Engine
	expiresAt time.Time
}

// Registry owns every running Engine and arbitrates Start/Stop/Status/
// Subscribe under one mutex (spec.md §9's "EngineRegistry", replacing the
// distilled spec's process-wide session dictionary).
type Registry struct {
	mu         sync.Mutex
	engines    map[string]*Engine
	repo       storage.Repository
	dispatcher *dispatch.Dispatcher
	reportW    *report.Writer
	logger     *telemetry.Logger
	baseCtx    context.Context

	idempotent map[string]idempotencyEntry
}

// NewRegistry builds a Registry. baseCtx should carry the process-wide
// shutdown signal; it is the parent of every Engine's run context.
func NewRegistry(baseCtx context.Context, repo storage.Repository, d *dispatch.Dispatcher, w *report.Writer, logger *telemetry.Logger) *Registry {
	if logger == nil {
		logger = telemetry.NewLogger(slog.Default())
	}

	if baseCtx == nil {
		baseCtx = context.Background()
	}

	return &Registry{
		engines:    make(map[string]*Engine),
		repo:       repo,
		dispatcher: d,
		reportW:    w,
		logger:     logger,
		baseCtx:    baseCtx,
		idempotent: make(map[string]idempotencyEntry),
	}
}

// Start creates a session row, loads its test plan, and launches the
// engine's run loop in a new goroutine (spec.md §6.4 start, §4.G.1
// Created→Running).
func (r *Registry) Start(ctx context.Context, req StartRequest) (*Engine, error) {
	var key string

	if req.RequestedAt != "" {
		key = canonicalization.GenerateSessionIdempotencyKey(
			req.SerialNumber, req.StationID, req.ProjectID, req.PlanName, req.RequestedAt)

		if e, ok := r.lookupIdempotent(key); ok {
			return e, nil
		}
	}

	items, err := r.repo.LoadTestPlan(ctx, req.ProjectID, req.StationID, req.PlanName)
	if err != nil {
		return nil, fmt.Errorf("session: load test plan: %w", err)
	}

	sess, err := r.repo.CreateSession(ctx, storage.Session{
		ID:           newSessionID(),
		SerialNumber: req.SerialNumber,
		StationID:    req.StationID,
		ProjectID:    req.ProjectID,
		OperatorID:   req.OperatorID,
		PlanName:     req.PlanName,
	})
	if err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}

	stopOnFail := req.StopOnFail

	e := newEngine(sess.ID, r.repo, r.dispatcher, r.reportW, r.logger, stopOnFail)

	r.mu.Lock()
	r.engines[sess.ID] = e
	if key != "" {
		r.idempotent[key] = idempotencyEntry{engine: e, expiresAt: time.Now().Add(idempotencyWindow)}
	}
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(r.baseCtx)

	go func() {
		defer cancel()
		e.run(runCtx, items, sess)
	}()

	return e, nil
}

// lookupIdempotent returns the engine already created for key, if the entry
// hasn't expired, pruning it (and any other stale entries) as a side effect.
func (r *Registry) lookupIdempotent(key string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	for k, entry := range r.idempotent {
		if now.After(entry.expiresAt) {
			delete(r.idempotent, k)
		}
	}

	entry, ok := r.idempotent[key]
	if !ok {
		return nil, false
	}

	return entry.engine, true
}

// Stop requests cancellation of a running session (spec.md §6.4 stop).
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	e, ok := r.engines[id]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	switch e.Status() {
	case StatusCompleted, StatusFailed, StatusAborted, StatusErrored:
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}

	e.Stop()

	return nil
}

// Status returns the live engine for id, if the session is still tracked
// in memory (running or recently terminated). Callers fall back to
// storage.Repository.GetSession for sessions the process has forgotten
// (e.g. after a restart).
func (r *Registry) Status(id string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.engines[id]

	return e, ok
}

// Subscribe returns the progress stream for a tracked session.
func (r *Registry) Subscribe(id string) (<-chan Snapshot, error) {
	r.mu.Lock()
	e, ok := r.engines[id]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return e.Subscribe(), nil
}

// Forget removes a terminated engine from the registry, called by the
// caller once a session's final snapshot has been observed. Safe on an id
// the registry no longer tracks.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.engines, id)
}
