// Package driver implements the uniform instrument contract (spec.md §4.B):
// one Driver per instrument family, each validating its own parameters and
// producing a raw string reading for the limit evaluator to coerce.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Driver is the contract every instrument family implements. Execute is the
// dispatcher-facing entry point; Initialize/Reset support the connection
// pool's lifecycle hooks (lease acquisition and release).
type Driver interface {
	// Initialize resets the instrument to a known state. Idempotent.
	Initialize(ctx context.Context) error

	// Reset restores the instrument to idle/output-off.
	Reset(ctx context.Context) error

	// Execute runs one command against params, returning the raw
	// (unparsed) measurement string.
	Execute(ctx context.Context, command string, params map[string]any) (string, error)

	// Schema returns the declarative parameter contract for command, used
	// for both dispatcher pre-flight validation and the driver's own
	// defense against direct callers.
	Schema(command string) (Schema, bool)
}

// Schema declares which keys Execute requires and accepts for one command.
type Schema struct {
	Required []string
	Optional []string
	Example  map[string]any
}

// ErrMissingParams is wrapped with the offending keys when required
// parameters are absent from the call.
var ErrMissingParams = errors.New("driver: missing required parameters")

// ErrUnknownCommand is returned by Execute for a command a driver does not
// implement; Schema reports such a command with a false second result.
var ErrUnknownCommand = errors.New("driver: unknown command")

// ValidateParams enforces schema's required keys against params, returning
// ErrMissingParams naming every absent key so the caller's error message
// enumerates them (spec.md §4.B: "never silently default safety-critical
// values").
func ValidateParams(schema Schema, params map[string]any) error {
	var missing []string

	for _, key := range schema.Required {
		if _, ok := params[key]; !ok {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %v", ErrMissingParams, missing)
	}

	return nil
}

// Registry holds one Driver instance per configured instrument_id.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Register associates instrumentID with a Driver instance.
func (r *Registry) Register(instrumentID string, d Driver) {
	r.drivers[instrumentID] = d
}

// Lookup returns the Driver registered for instrumentID.
func (r *Registry) Lookup(instrumentID string) (Driver, bool) {
	d, ok := r.drivers[instrumentID]
	return d, ok
}
