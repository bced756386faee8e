package driver

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

// ErrSetMismatch's text is surfaced in an "Error:" measured_value when a
// power supply's read-back voltage doesn't match the commanded value
// (spec.md §4.B table row 2).
var ErrSetMismatch = fmt.Errorf("driver: set/read-back voltage mismatch")

// PowerSupply drives the programmable power supply family (Model 2303,
// 2306, 2260B, IT6723C, PSW3072). Every SetVoltage is followed by a
// read-back measurement rounded to 2 decimals; a mismatch is reported as an
// "Error:" reading carrying ErrSetMismatch's text, never a silently
// accepted value.
type PowerSupply struct {
	Model     string
	Exchanger Exchanger
	Simulated bool

	lastSet float64
}

func NewPowerSupply(model string, ex Exchanger, simulated bool) *PowerSupply {
	return &PowerSupply{Model: model, Exchanger: ex, Simulated: simulated}
}

func (p *PowerSupply) Initialize(ctx context.Context) error {
	if p.Simulated {
		return nil
	}

	return p.Exchanger.Write(ctx, "*RST")
}

func (p *PowerSupply) Reset(ctx context.Context) error {
	if p.Simulated {
		return nil
	}

	return p.Exchanger.Write(ctx, "OUTP OFF")
}

func (p *PowerSupply) Schema(command string) (Schema, bool) {
	switch command {
	case "PowerSet":
		return Schema{Required: []string{"voltage"}, Example: map[string]any{"voltage": 5.0}}, true
	case "PowerRead":
		return Schema{}, true
	default:
		return Schema{}, false
	}
}

func (p *PowerSupply) Execute(ctx context.Context, command string, params map[string]any) (string, error) {
	schema, ok := p.Schema(command)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	if err := ValidateParams(schema, params); err != nil {
		return "", err
	}

	switch command {
	case "PowerSet":
		voltage, err := paramFloat(params, "voltage")
		if err != nil {
			return "", err
		}

		return p.setVoltage(ctx, voltage)
	case "PowerRead":
		return p.measureVoltage(ctx)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

// setVoltage commands voltage, then reads it back and compares rounded to 2
// decimals; a mismatch returns ErrSetMismatch's text as the raw reading so
// the dispatcher's "Error:" substring coercion (§4.D.1) catches it.
func (p *PowerSupply) setVoltage(ctx context.Context, voltage float64) (string, error) {
	p.lastSet = voltage

	if !p.Simulated {
		if err := p.Exchanger.Write(ctx, fmt.Sprintf("VOLT %.4f", voltage)); err != nil {
			return "", err
		}
	}

	readback, err := p.measureVoltage(ctx)
	if err != nil {
		return "", err
	}

	measured, err := strconv.ParseFloat(readback, 64)
	if err != nil {
		return "", fmt.Errorf("driver: parse read-back voltage %q: %w", readback, err)
	}

	if round2(measured) != round2(voltage) {
		return fmt.Sprintf("Error: %v set %.2fV, read back %.2fV", ErrSetMismatch, voltage, measured), nil
	}

	return readback, nil
}

func (p *PowerSupply) measureVoltage(ctx context.Context) (string, error) {
	if p.Simulated {
		noise := (rand.Float64() - 0.5) * 0.01
		return fmt.Sprintf("%.4f", p.lastSet+noise), nil
	}

	resp, err := p.Exchanger.Query(ctx, "MEAS:VOLT?", 3*time.Second)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(resp), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
