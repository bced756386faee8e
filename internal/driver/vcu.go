package driver

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/mfgtest/orchestrator/internal/transport"
)

const vcuMsgTelemetry uint16 = 0x0020

// VCU drives a vehicle control unit's telemetry over the UDP transport that
// performs the "connect" handshake before any test traffic (spec.md
// §4.A.4, §4.B table "LS safety, VCU" row).
type VCU struct {
	ConnectAddr string
	TestAddr    string
	Simulated   bool

	transport *transport.UDPTransport
}

func NewVCU(connectAddr, testAddr string, simulated bool) *VCU {
	return &VCU{ConnectAddr: connectAddr, TestAddr: testAddr, Simulated: simulated}
}

func (v *VCU) Initialize(ctx context.Context) error {
	if v.Simulated {
		return nil
	}

	t, err := transport.VCUConnect(ctx, v.ConnectAddr, v.TestAddr)
	if err != nil {
		return err
	}

	v.transport = t

	return nil
}

func (v *VCU) Reset(context.Context) error { return nil }

func (v *VCU) Schema(command string) (Schema, bool) {
	if command != "VCUTelemetry" {
		return Schema{}, false
	}

	return Schema{Required: []string{"signal"}}, true
}

func (v *VCU) Execute(ctx context.Context, command string, params map[string]any) (string, error) {
	schema, ok := v.Schema(command)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	if err := ValidateParams(schema, params); err != nil {
		return "", err
	}

	signal, err := paramInt(params, "signal")
	if err != nil {
		return "", err
	}

	if v.Simulated {
		return fmt.Sprintf("%.2f", float64(rand.IntN(1000))/10), nil
	}

	if v.transport == nil {
		return "", transport.ErrNotOpen
	}

	body := make([]byte, 2)
	binary.LittleEndian.PutUint16(body, uint16(signal)) //nolint:gosec // signal IDs are small protocol constants

	if err := v.transport.Send(ctx, transport.Frame{MsgType: vcuMsgTelemetry, Body: body}); err != nil {
		return "", err
	}

	resp, err := v.transport.Recv(ctx, 2*time.Second)
	if err != nil {
		return "", err
	}

	if len(resp.Body) < 4 {
		return "", fmt.Errorf("driver: VCU telemetry response too short (%d bytes)", len(resp.Body))
	}

	raw := binary.LittleEndian.Uint32(resp.Body[:4])

	return fmt.Sprintf("%.2f", float64(raw)/100), nil
}
