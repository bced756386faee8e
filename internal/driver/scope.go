package driver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const (
	scopeBusyPollInterval = 200 * time.Millisecond
	scopeAutoSetupCeiling = 10 * time.Second
)

// Scope drives the MDO34 oscilloscope: auto_setup polls BUSY? to 0 with a
// 10s ceiling, and a measurement-type change polls TYPE? for confirmation
// (spec.md §4.B table row 4).
type Scope struct {
	Exchanger Exchanger
	Simulated bool
}

func NewScope(ex Exchanger, simulated bool) *Scope {
	return &Scope{Exchanger: ex, Simulated: simulated}
}

func (s *Scope) Initialize(ctx context.Context) error {
	if s.Simulated {
		return nil
	}

	return s.Exchanger.Write(ctx, "*RST")
}

func (s *Scope) Reset(ctx context.Context) error {
	return s.Initialize(ctx)
}

func (s *Scope) Schema(command string) (Schema, bool) {
	switch command {
	case "AutoSetup":
		return Schema{}, true
	case "MeasureType":
		return Schema{Required: []string{"type"}}, true
	default:
		return Schema{}, false
	}
}

func (s *Scope) Execute(ctx context.Context, command string, params map[string]any) (string, error) {
	schema, ok := s.Schema(command)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	if err := ValidateParams(schema, params); err != nil {
		return "", err
	}

	switch command {
	case "AutoSetup":
		return s.autoSetup(ctx)
	case "MeasureType":
		typ, err := paramString(params, "type")
		if err != nil {
			return "", err
		}

		return s.measureType(ctx, typ)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

func (s *Scope) autoSetup(ctx context.Context) (string, error) {
	if s.Simulated {
		return "DONE", nil
	}

	if err := s.Exchanger.Write(ctx, "AUTOSET EXEC"); err != nil {
		return "", err
	}

	deadline := time.Now().Add(scopeAutoSetupCeiling)

	for time.Now().Before(deadline) {
		resp, err := s.Exchanger.Query(ctx, "BUSY?", 2*time.Second)
		if err != nil {
			return "", err
		}

		if strings.TrimSpace(resp) == "0" {
			return "DONE", nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(scopeBusyPollInterval):
		}
	}

	return "", fmt.Errorf("driver: auto_setup did not complete within %s", scopeAutoSetupCeiling)
}

func (s *Scope) measureType(ctx context.Context, typ string) (string, error) {
	if s.Simulated {
		return fmt.Sprintf("%.4f", 1.0+rand.Float64()*0.05), nil
	}

	if err := s.Exchanger.Write(ctx, fmt.Sprintf("MEASU:MEAS1:TYPE %s", typ)); err != nil {
		return "", err
	}

	deadline := time.Now().Add(scopeAutoSetupCeiling)

	for time.Now().Before(deadline) {
		resp, err := s.Exchanger.Query(ctx, "MEASU:MEAS1:TYPE?", 2*time.Second)
		if err != nil {
			return "", err
		}

		if strings.EqualFold(strings.TrimSpace(resp), typ) {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(scopeBusyPollInterval):
		}
	}

	value, err := s.Exchanger.Query(ctx, "MEASU:MEAS1:VAL?", 3*time.Second)
	if err != nil {
		return "", err
	}

	if _, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err != nil {
		return "", fmt.Errorf("driver: scope returned non-numeric measurement %q: %w", value, err)
	}

	return strings.TrimSpace(value), nil
}
