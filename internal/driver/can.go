package driver

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mfgtest/orchestrator/internal/transport"
)

// PeakCAN drives a CAN/CAN-FD interface: read/write/write-then-read with an
// optional ID filter, 11-bit or 29-bit arbitration IDs (spec.md §4.B table
// "Peak CAN" row).
type PeakCAN struct {
	Transport *transport.CANTransport
	Simulated bool
}

func NewPeakCAN(t *transport.CANTransport, simulated bool) *PeakCAN {
	return &PeakCAN{Transport: t, Simulated: simulated}
}

func (p *PeakCAN) Initialize(ctx context.Context) error {
	if p.Simulated || p.Transport == nil {
		return nil
	}

	return p.Transport.Open(ctx)
}

func (p *PeakCAN) Reset(context.Context) error { return nil }

func (p *PeakCAN) Schema(command string) (Schema, bool) {
	switch command {
	case "CANWrite":
		return Schema{Required: []string{"id", "data"}, Optional: []string{"extended"}}, true
	case "CANRead":
		return Schema{Optional: []string{"id_filter", "timeout_ms"}}, true
	case "CANWriteRead":
		return Schema{Required: []string{"id", "data"}, Optional: []string{"extended", "id_filter", "timeout_ms"}}, true
	default:
		return Schema{}, false
	}
}

func (p *PeakCAN) Execute(ctx context.Context, command string, params map[string]any) (string, error) {
	schema, ok := p.Schema(command)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	if err := ValidateParams(schema, params); err != nil {
		return "", err
	}

	switch command {
	case "CANWrite":
		return p.write(ctx, params)
	case "CANRead":
		return p.read(ctx, params)
	case "CANWriteRead":
		if _, err := p.write(ctx, params); err != nil {
			return "", err
		}

		return p.read(ctx, params)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

func (p *PeakCAN) write(ctx context.Context, params map[string]any) (string, error) {
	id, err := paramInt(params, "id")
	if err != nil {
		return "", err
	}

	dataStr, err := paramString(params, "data")
	if err != nil {
		return "", err
	}

	data, err := hex.DecodeString(dataStr)
	if err != nil {
		return "", fmt.Errorf("driver: CAN data %q is not hex: %w", dataStr, err)
	}

	extended, _ := paramBool(params, "extended")

	if p.Simulated {
		return "OK", nil
	}

	if err := p.Transport.SendFrame(ctx, uint32(id), extended, data); err != nil { //nolint:gosec // bounded by 29-bit ID domain
		return "", err
	}

	return "OK", nil
}

func (p *PeakCAN) read(ctx context.Context, params map[string]any) (string, error) {
	timeoutMs, _ := paramInt(params, "timeout_ms")
	if timeoutMs <= 0 {
		timeoutMs = 1000
	}

	var filter *uint32

	if idFilter, err := paramInt(params, "id_filter"); err == nil {
		f := uint32(idFilter) //nolint:gosec // bounded by 29-bit ID domain
		filter = &f
	}

	if p.Simulated {
		return "DE AD BE EF", nil
	}

	frame, err := p.Transport.RecvFrame(ctx, time.Duration(timeoutMs)*time.Millisecond, filter)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("% X", frame.Data[:frame.Length]), nil
}
