// Package session implements the scheduler (spec.md §4.G): an Engine
// drives one test session through its ordered plan items, enforces
// stop-on-fail, reacts to cancellation, and finalizes the session's
// aggregate result and CSV report. Registry arbitrates concurrent
// start/stop/status/subscribe calls against a single map of running
// engines, the same single-mutex-guarded-state idiom the teacher's
// storage package uses for its job run state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mfgtest/orchestrator/internal/dispatch"
	"github.com/mfgtest/orchestrator/internal/limits"
	"github.com/mfgtest/orchestrator/internal/report"
	"github.com/mfgtest/orchestrator/internal/storage"
	"github.com/mfgtest/orchestrator/internal/telemetry"
	"github.com/mfgtest/orchestrator/internal/testplan"
)

// Status is an alias of storage.SessionStatus; the constants below re-export
// its values under this package's names.
type Status = storage.SessionStatus

const (
	StatusCreated   = storage.StatusCreated
	StatusRunning   = storage.StatusRunning
	StatusCompleted = storage.StatusCompleted
	StatusFailed    = storage.StatusFailed
	StatusAborted   = storage.StatusAborted
	StatusErrored   = storage.StatusErrored
)

// Sentinel errors for the scheduler (spec.md §7, §9).
var (
	ErrNotFound      = errors.New("session: not found")
	ErrAlreadyRunning = errors.New("session: already running")
	ErrNotRunning    = errors.New("session: not running")
	ErrCanceled      = errors.New("session: canceled")
)

// StartRequest is everything the registry needs to create and run a new
// session (spec.md §3.1, §6.4 start).
type StartRequest struct {
	SerialNumber string
	StationID    string
	ProjectID    string
	OperatorID   string
	PlanName     string
	StopOnFail   bool

	// RequestedAt is the RFC3339Nano timestamp the caller attached to this
	// request. A station controller retrying after a network blip resends
	// the same RequestedAt, letting Registry.Start collapse the retry onto
	// the session already created for it (spec.md §9).
	RequestedAt string
}

// Snapshot is the read-only status view exposed to callers (spec.md §6.4
// status: session status, counters, and current item_no).
type Snapshot = telemetry.Snapshot

// Engine drives exactly one session from Created to a terminal state.
type Engine struct {
	id         string
	repo       storage.Repository
	dispatcher *dispatch.Dispatcher
	reportW    *report.Writer
	logger     *telemetry.Logger
	progress   *telemetry.Progress

	stopOnFail bool
	stopCh     chan struct{}
	stopOnce   sync.Once

	status atomic.Value // storage.SessionStatus
	done   chan struct{}
}

func newEngine(id string, repo storage.Repository, d *dispatch.Dispatcher, w *report.Writer, logger *telemetry.Logger, stopOnFail bool) *Engine {
	e := &Engine{
		id:         id,
		repo:       repo,
		dispatcher: d,
		reportW:    w,
		logger:     logger,
		progress:   telemetry.NewProgress(),
		stopOnFail: stopOnFail,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	e.status.Store(StatusCreated)

	return e
}

// ID returns the session's identifier.
func (e *Engine) ID() string { return e.id }

// Status returns the engine's current lifecycle state.
func (e *Engine) Status() storage.SessionStatus {
	return e.status.Load().(storage.SessionStatus)
}

// Subscribe returns a channel of progress snapshots (spec.md §6.4
// subscribe), capacity-1024 drop-oldest per telemetry.Progress.
func (e *Engine) Subscribe() <-chan Snapshot {
	return e.progress.Subscribe()
}

// Stop requests cancellation (spec.md §4.G.1 Running→Aborted on explicit
// Stop). Safe to call more than once or after the session has finished.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Wait blocks until the session reaches a terminal state.
func (e *Engine) Wait() {
	<-e.done
}

// run executes the full scheduler loop (spec.md §4.G.2) and finalizes the
// session (§4.G.3). Intended to be launched in its own goroutine by the
// registry; ctx carries the process-wide shutdown signal.
func (e *Engine) run(ctx context.Context, items []testplan.Item, sess storage.Session) {
	defer close(e.done)
	defer e.progress.Close()

	e.status.Store(StatusRunning)

	points, err := testplan.NewPointMap(items)
	if err != nil {
		e.finalize(ctx, sess, nil, StatusErrored, time.Now())
		e.logger.Error(ctx, e.id, 0, "session: invalid test plan", "error", err)

		return
	}

	start := time.Now()

	var (
		results            []storage.Result
		passN, failN, errN int
		elapsedMs          int64
		terminal           = StatusCompleted
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-e.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

loop:
	for _, item := range items {
		select {
		case <-e.stopCh:
			terminal = StatusAborted
			break loop
		case <-ctx.Done():
			terminal = StatusAborted
			break loop
		default:
		}

		if !item.Enabled {
			continue
		}

		itemStart := time.Now()
		out := e.dispatcher.Execute(runCtx, item, points)
		duration := time.Since(itemStart)
		elapsedMs += duration.Milliseconds()

		result := resultRow(sess.ID, item, out, itemStart, duration)
		results = append(results, result)

		if appendErr := e.repo.AppendResult(ctx, result); appendErr != nil {
			e.logger.Error(ctx, e.id, item.ItemNo, "session: append result failed", "error", appendErr)
		}

		switch {
		case out.Err != nil:
			errN++
			points.Update(item.ItemKey, false, "")
			e.logger.Error(ctx, e.id, item.ItemNo, "session: item error", "error", out.Err)
		case out.Verdict == limits.Fail:
			failN++
			points.Update(item.ItemKey, false, out.MeasuredValue)
		default:
			passN++
			points.Update(item.ItemKey, true, out.MeasuredValue)
		}

		e.progress.Publish(Snapshot{
			SessionID:      e.id,
			CurrentItem:    item.ItemNo,
			TotalItems:     len(items),
			Pass:           passN,
			Fail:           failN,
			Error:          errN,
			PartialElapsed: elapsedMs,
		})

		if out.Verdict == limits.Fail && e.stopOnFail {
			terminal = StatusFailed
			break loop
		}
	}

	if terminal == StatusCompleted && (failN > 0 || errN > 0) {
		terminal = StatusFailed
	}

	e.finalize(ctx, sess, results, terminal, start)
}

// finalize implements spec.md §4.G.3: compute aggregates, persist, write
// the CSV report (failure logged, never downgrades the terminal status),
// and publish the terminal snapshot.
func (e *Engine) finalize(ctx context.Context, sess storage.Session, results []storage.Result, terminal storage.SessionStatus, start time.Time) {
	e.status.Store(terminal)

	agg := storage.SessionAggregates{
		Status:      terminal,
		TotalItems:  len(results),
		DurationMs:  time.Since(start).Milliseconds(),
		EndedAt:     time.Now(),
		FinalResult: finalResult(terminal, results),
	}

	var elapsedMs int64

	for _, r := range results {
		elapsedMs += r.ExecutionDurationMs

		switch r.Result {
		case "PASS":
			agg.PassItems++
		case "FAIL":
			agg.FailItems++
		case "ERROR":
			agg.ErrorItems++
		}
	}

	if e.reportW != nil {
		path, err := e.reportW.Write(report.Session{
			ID:           sess.ID,
			SerialNumber: sess.SerialNumber,
			ProjectName:  sess.ProjectID,
			StationName:  sess.StationID,
			EndedAt:      agg.EndedAt,
		}, reportResults(results))
		if err != nil {
			e.logger.Error(ctx, e.id, 0, "session: report write failed", "error", err)
		} else {
			agg.ReportPath = path
		}
	}

	if err := e.repo.FinalizeSession(ctx, sess.ID, agg); err != nil {
		e.logger.Error(ctx, e.id, 0, "session: finalize failed", "error", err)
	}

	e.progress.Publish(Snapshot{
		SessionID:      e.id,
		TotalItems:     agg.TotalItems,
		Pass:           agg.PassItems,
		Fail:           agg.FailItems,
		Error:          agg.ErrorItems,
		PartialElapsed: elapsedMs,
		Done:           true,
		TerminalStatus: string(terminal),
	})
}

// finalResult implements spec.md §8's determination rule: any ERROR ⇒ not
// PASS; any FAIL ⇒ FAIL (unless Aborted); all non-SKIP PASS ⇒ PASS.
func finalResult(terminal storage.SessionStatus, results []storage.Result) storage.FinalResult {
	if terminal == StatusAborted {
		return storage.ResultAbort
	}

	var anyError, anyFail bool

	for _, r := range results {
		switch r.Result {
		case "ERROR":
			anyError = true
		case "FAIL":
			anyFail = true
		}
	}

	switch {
	case anyError:
		return storage.ResultError
	case anyFail:
		return storage.ResultFail
	default:
		return storage.ResultPass
	}
}

func resultRow(sessionID string, item testplan.Item, out dispatch.Outcome, started time.Time, duration time.Duration) storage.Result {
	r := storage.Result{
		SessionID:           sessionID,
		ItemNo:              item.ItemNo,
		ItemName:            item.ItemName,
		LowerLimit:          item.LowerLimit,
		UpperLimit:          item.UpperLimit,
		Unit:                item.Unit,
		ExecutionDurationMs: duration.Milliseconds(),
		StartedAt:           started,
	}

	switch {
	case out.Err != nil:
		r.Result = "ERROR"
		r.ErrorMessage = out.Err.Error()
	case out.Verdict == limits.Pass:
		r.Result = "PASS"
		r.MeasuredValue = out.MeasuredValue
	default:
		r.Result = "FAIL"
		r.MeasuredValue = out.MeasuredValue
	}

	return r
}

func reportResults(results []storage.Result) []report.Result {
	out := make([]report.Result, len(results))
	for i, r := range results {
		out[i] = report.Result{
			ItemNo:              r.ItemNo,
			ItemName:            r.ItemName,
			Result:              r.Result,
			MeasuredValue:       r.MeasuredValue,
			LowerLimit:          r.LowerLimit,
			UpperLimit:          r.UpperLimit,
			ErrorMessage:        r.ErrorMessage,
			ExecutionDurationMs: r.ExecutionDurationMs,
			StartedAt:           r.StartedAt,
		}
	}

	return out
}

// newSessionID generates a session identifier (spec.md's expansion notes:
// github.com/google/uuid for session IDs, same as the teacher's
// ingestion event IDs).
func newSessionID() string {
	return fmt.Sprintf("sess_%s", uuid.NewString())
}
