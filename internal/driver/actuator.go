package driver

import (
	"context"
	"fmt"
	"time"
)

// Relay drives an actuator's relay channel open/close (spec.md §4.B table
// "Relay / Chassis-rotate" row).
type Relay struct {
	Exchanger Exchanger
	Simulated bool
}

func NewRelay(ex Exchanger, simulated bool) *Relay {
	return &Relay{Exchanger: ex, Simulated: simulated}
}

func (r *Relay) Initialize(context.Context) error { return nil }
func (r *Relay) Reset(context.Context) error      { return nil }

func (r *Relay) Schema(command string) (Schema, bool) {
	if command != "Relay" {
		return Schema{}, false
	}

	return Schema{Required: []string{"channel", "on"}}, true
}

func (r *Relay) Execute(ctx context.Context, command string, params map[string]any) (string, error) {
	schema, ok := r.Schema(command)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	if err := ValidateParams(schema, params); err != nil {
		return "", err
	}

	channel, err := paramInt(params, "channel")
	if err != nil {
		return "", err
	}

	on, err := paramBool(params, "on")
	if err != nil {
		return "", err
	}

	if r.Simulated {
		return boolState(on), nil
	}

	state := "OFF"
	if on {
		state = "ON"
	}

	if err := r.Exchanger.Write(ctx, fmt.Sprintf("RELAY %d %s", channel, state)); err != nil {
		return "", err
	}

	return boolState(on), nil
}

func boolState(on bool) string {
	if on {
		return "ON"
	}

	return "OFF"
}

// ChassisRotate drives the turntable's CW/CCW rotation for a duration.
type ChassisRotate struct {
	Exchanger Exchanger
	Simulated bool
}

func NewChassisRotate(ex Exchanger, simulated bool) *ChassisRotate {
	return &ChassisRotate{Exchanger: ex, Simulated: simulated}
}

func (c *ChassisRotate) Initialize(context.Context) error { return nil }
func (c *ChassisRotate) Reset(context.Context) error      { return nil }

func (c *ChassisRotate) Schema(command string) (Schema, bool) {
	if command != "ChassisRotate" {
		return Schema{}, false
	}

	return Schema{Required: []string{"direction", "duration_ms"}}, true
}

func (c *ChassisRotate) Execute(ctx context.Context, command string, params map[string]any) (string, error) {
	schema, ok := c.Schema(command)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	if err := ValidateParams(schema, params); err != nil {
		return "", err
	}

	direction, err := paramString(params, "direction")
	if err != nil {
		return "", err
	}

	if direction != "CW" && direction != "CCW" {
		return "", fmt.Errorf("driver: chassis_rotate direction must be CW or CCW, got %q", direction)
	}

	durationMs, err := paramInt(params, "duration_ms")
	if err != nil {
		return "", err
	}

	if c.Simulated {
		return "DONE", nil
	}

	if err := c.Exchanger.Write(ctx, fmt.Sprintf("ROTATE %s %d", direction, durationMs)); err != nil {
		return "", err
	}

	select {
	case <-time.After(time.Duration(durationMs) * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	return "DONE", nil
}
