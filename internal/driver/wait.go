package driver

import (
	"context"
	"fmt"
	"time"
)

const maxWaitMs = 3_600_000

// Wait sleeps for wait_ms and reports elapsed time (spec.md §4.B table
// "Wait" row).
type Wait struct{}

func NewWait() *Wait { return &Wait{} }

func (w *Wait) Initialize(context.Context) error { return nil }
func (w *Wait) Reset(context.Context) error      { return nil }

func (w *Wait) Schema(command string) (Schema, bool) {
	if command != "Wait" {
		return Schema{}, false
	}

	return Schema{Required: []string{"wait_ms"}, Example: map[string]any{"wait_ms": 500}}, true
}

func (w *Wait) Execute(ctx context.Context, command string, params map[string]any) (string, error) {
	schema, ok := w.Schema(command)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	if err := ValidateParams(schema, params); err != nil {
		return "", err
	}

	waitMs, err := paramInt(params, "wait_ms")
	if err != nil {
		return "", err
	}

	if waitMs < 0 || waitMs > maxWaitMs {
		return "", fmt.Errorf("driver: wait_ms %d out of range [0, %d]", waitMs, maxWaitMs)
	}

	start := time.Now()

	select {
	case <-time.After(time.Duration(waitMs) * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return fmt.Sprintf("%d", time.Since(start).Milliseconds()), nil
}
