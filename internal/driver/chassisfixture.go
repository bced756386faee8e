package driver

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/mfgtest/orchestrator/internal/transport"
)

// Chassis fixture message types, matching the wire protocol's msg_type
// field (spec.md §4.A.2, original chassis_msgs.py).
const (
	chassisMsgRotate  uint16 = 0x0001
	chassisMsgEncoder uint16 = 0x0002
	chassisMsgDoor    uint16 = 0x0003
)

// ChassisFixture drives the turntable + cliff-sensor doors + encoders over
// the framed chassis transport (spec.md §4.B table "Chassis fixture" row).
type ChassisFixture struct {
	Transport transport.Transport
	Simulated bool
}

func NewChassisFixture(t transport.Transport, simulated bool) *ChassisFixture {
	return &ChassisFixture{Transport: t, Simulated: simulated}
}

func (c *ChassisFixture) Initialize(ctx context.Context) error {
	if c.Simulated || c.Transport == nil {
		return nil
	}

	return c.Transport.Open(ctx)
}

func (c *ChassisFixture) Reset(context.Context) error { return nil }

func (c *ChassisFixture) Schema(command string) (Schema, bool) {
	switch command {
	case "ChassisRotation":
		return Schema{Required: []string{"direction", "duration_ms"}}, true
	case "ChassisEncoder":
		return Schema{}, true
	case "ChassisDoor":
		return Schema{Required: []string{"open"}}, true
	default:
		return Schema{}, false
	}
}

func (c *ChassisFixture) Execute(ctx context.Context, command string, params map[string]any) (string, error) {
	schema, ok := c.Schema(command)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	if err := ValidateParams(schema, params); err != nil {
		return "", err
	}

	switch command {
	case "ChassisRotation":
		return c.rotate(ctx, params)
	case "ChassisEncoder":
		return c.encoder(ctx)
	case "ChassisDoor":
		return c.door(ctx, params)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

func (c *ChassisFixture) rotate(ctx context.Context, params map[string]any) (string, error) {
	direction, err := paramString(params, "direction")
	if err != nil {
		return "", err
	}

	durationMs, err := paramInt(params, "duration_ms")
	if err != nil {
		return "", err
	}

	if c.Simulated {
		return "DONE", nil
	}

	dir := byte(0)
	if direction == "CCW" {
		dir = 1
	}

	body := make([]byte, 5)
	body[0] = dir
	binary.BigEndian.PutUint32(body[1:], uint32(durationMs)) //nolint:gosec // bounded by driver-level wait_ms validation upstream

	if err := c.Transport.Send(ctx, transport.Frame{MsgType: chassisMsgRotate, Body: body}); err != nil {
		return "", err
	}

	resp, err := c.Transport.Recv(ctx, time.Duration(durationMs)*time.Millisecond+2*time.Second)
	if err != nil {
		return "", err
	}

	if len(resp.Body) > 0 && resp.Body[0] != 0 {
		return "", fmt.Errorf("driver: chassis rotate returned error code %d", resp.Body[0])
	}

	return "DONE", nil
}

func (c *ChassisFixture) encoder(ctx context.Context) (string, error) {
	if c.Simulated {
		return fmt.Sprintf("%d", rand.IntN(360)), nil
	}

	if err := c.Transport.Send(ctx, transport.Frame{MsgType: chassisMsgEncoder}); err != nil {
		return "", err
	}

	resp, err := c.Transport.Recv(ctx, 2*time.Second)
	if err != nil {
		return "", err
	}

	if len(resp.Body) < 4 {
		return "", fmt.Errorf("driver: chassis encoder response too short (%d bytes)", len(resp.Body))
	}

	return fmt.Sprintf("%d", binary.BigEndian.Uint32(resp.Body[:4])), nil
}

func (c *ChassisFixture) door(ctx context.Context, params map[string]any) (string, error) {
	open, err := paramBool(params, "open")
	if err != nil {
		return "", err
	}

	if c.Simulated {
		return boolState(open), nil
	}

	body := []byte{0}
	if open {
		body[0] = 1
	}

	if err := c.Transport.Send(ctx, transport.Frame{MsgType: chassisMsgDoor, Body: body}); err != nil {
		return "", err
	}

	resp, err := c.Transport.Recv(ctx, 5*time.Second)
	if err != nil {
		return "", err
	}

	if len(resp.Body) > 0 && resp.Body[0] != 0 {
		return "", fmt.Errorf("driver: chassis door (cliff-sensor interlock) returned error code %d", resp.Body[0])
	}

	return boolState(open), nil
}
