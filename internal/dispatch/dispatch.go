// Package dispatch implements the measurement dispatcher (spec.md §4.D):
// given a test-plan item and the session's point map, it resolves which
// command actually runs, substitutes any use_result dependency, leases the
// right instrument connection, invokes the driver under a deadline, and
// hands the raw reading to the limit evaluator.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mfgtest/orchestrator/internal/canonicalization"
	"github.com/mfgtest/orchestrator/internal/driver"
	"github.com/mfgtest/orchestrator/internal/limits"
	"github.com/mfgtest/orchestrator/internal/pool"
	"github.com/mfgtest/orchestrator/internal/testplan"
)

// Sentinel errors, checked with errors.Is by the session engine to decide
// result classification (spec.md §7).
var (
	// ErrDependencyUnsatisfied is returned when use_result names an item
	// that has not executed, or did not PASS (spec.md §4.D step 2).
	ErrDependencyUnsatisfied = errors.New("dispatch: use_result dependency unsatisfied")

	// ErrSchemaViolation wraps driver.ErrMissingParams with the item
	// context (spec.md §4.D step 3).
	ErrSchemaViolation = errors.New("dispatch: schema violation")

	// ErrInstrumentField is returned when the raw response contains one of
	// the coerced-to-ERROR substrings (spec.md §4.D.1).
	ErrInstrumentField = errors.New("dispatch: instrument reported an error")
)

// specialSwitchModes take precedence over Command when set (spec.md §9
// Open Question, resolved). aliasing.NormalizeItem has already folded any
// legacy spelling (case_type, etc.) into SwitchMode by the time an Item
// reaches the dispatcher.
var specialSwitchModes = map[string]bool{
	"wait":             true,
	"relay":            true,
	"chassis_rotation": true,
	"console":          true,
	"comport":          true,
	"tcpip":            true,
}

// errorSubstrings are coerced to a hard ERROR irrespective of limit_type
// (spec.md §4.D.1).
var errorSubstrings = []string{"No instrument found", "Error:"}

// Dispatcher resolves and executes one measurement per call.
type Dispatcher struct {
	registry        *driver.Registry
	pool            *pool.Pool
	defaultTimeout  time.Duration
	retrySafe       func(command string) bool
	isTransientErr  func(err error) bool
}

// New builds a Dispatcher. retrySafe reports whether a given driver/command
// is declared retry-safe (spec.md §4.D step 5); isTransientErr classifies
// an error as one of FrameCrcError/TransportTimeout/ConnectFailed.
func New(registry *driver.Registry, p *pool.Pool, defaultTimeout time.Duration, retrySafe func(string) bool, isTransientErr func(error) bool) *Dispatcher {
	if retrySafe == nil {
		retrySafe = func(string) bool { return false }
	}

	if isTransientErr == nil {
		isTransientErr = func(error) bool { return false }
	}

	return &Dispatcher{
		registry:       registry,
		pool:           p,
		defaultTimeout: defaultTimeout,
		retrySafe:      retrySafe,
		isTransientErr: isTransientErr,
	}
}

// resolveCommand implements spec.md §4.D step 1.
func resolveCommand(item testplan.Item) string {
	if specialSwitchModes[item.SwitchMode] {
		return item.SwitchMode
	}

	return item.Command
}

// Outcome is everything the session engine needs to assemble a TestResult
// (spec.md §4.D step 8) without dispatch importing the session package.
type Outcome struct {
	MeasuredValue string
	Verdict       limits.Verdict // empty when Err is non-nil
	Err           error          // non-nil => ERROR result; error_message = Err.Error()
}

// Execute runs exactly one measurement for item, resolving use_result
// against points, leasing the instrument named in item.Parameters["instrument"],
// and evaluating limits on success.
func (d *Dispatcher) Execute(ctx context.Context, item testplan.Item, points *testplan.PointMap) Outcome {
	params, err := d.resolveUseResult(item, points)
	if err != nil {
		return Outcome{Err: err}
	}

	command := resolveCommand(item)

	instrumentID, _ := params["instrument"].(string)
	if instrumentID == "" {
		instrumentID = item.ItemKey
	}
	instrumentID = canonicalization.NormalizeInstrumentID(instrumentID)

	drv, ok := d.registry.Lookup(instrumentID)
	if !ok {
		return Outcome{Err: fmt.Errorf("dispatch: no driver registered for instrument %q", instrumentID)}
	}

	schema, hasSchema := drv.Schema(command)
	if hasSchema {
		if err := driver.ValidateParams(schema, params); err != nil {
			return Outcome{Err: fmt.Errorf("%w: %w", ErrSchemaViolation, err)}
		}
	}

	lease, err := d.pool.Get(ctx, instrumentID, false)
	if err != nil {
		return Outcome{Err: err}
	}
	defer lease.Release()

	deadline := d.itemDeadline(item)
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	raw, err := lease.Driver.Execute(runCtx, command, params)
	if err != nil && d.isTransientErr(err) && d.retrySafe(command) {
		raw, err = lease.Driver.Execute(runCtx, command, params)
	}

	if err != nil {
		return Outcome{Err: err}
	}

	for _, sub := range errorSubstrings {
		if strings.Contains(raw, sub) {
			return Outcome{Err: fmt.Errorf("%w: %s", ErrInstrumentField, raw)}
		}
	}

	value, verdict, err := limits.Evaluate(raw, item)
	if err != nil {
		return Outcome{Err: err}
	}

	return Outcome{MeasuredValue: fmt.Sprint(value), Verdict: verdict}
}

// itemDeadline applies spec.md §4.D step 4: min(item.timeout_ms, global default).
func (d *Dispatcher) itemDeadline(item testplan.Item) time.Duration {
	if item.TimeoutMs == nil {
		return d.defaultTimeout
	}

	itemTimeout := time.Duration(*item.TimeoutMs) * time.Millisecond
	if itemTimeout < d.defaultTimeout {
		return itemTimeout
	}

	return d.defaultTimeout
}

// resolveUseResult implements spec.md §4.D step 2, returning a shallow copy
// of item.Parameters with the referenced value substituted under the
// "use_result" key when set.
func (d *Dispatcher) resolveUseResult(item testplan.Item, points *testplan.PointMap) (map[string]any, error) {
	params := make(map[string]any, len(item.Parameters)+1)
	for k, v := range item.Parameters {
		params[k] = v
	}

	if item.UseResult == "" {
		return params, nil
	}

	ref, ok := points.Lookup(item.UseResult)
	if !ok || !ref.Executed || !ref.Passed {
		return nil, fmt.Errorf("%w: %s", ErrDependencyUnsatisfied, item.UseResult)
	}

	params["use_result"] = ref.Value

	return params, nil
}
