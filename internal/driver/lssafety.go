package driver

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/mfgtest/orchestrator/internal/transport"
)

const lsSafetyMsgQuery uint16 = 0x0010

// LSSafety drives DUT safety telemetry over the LS safety UDP protocol
// (spec.md §4.A.3, §4.B table "LS safety, VCU" row).
type LSSafety struct {
	Transport transport.Transport
	Simulated bool
}

func NewLSSafety(t transport.Transport, simulated bool) *LSSafety {
	return &LSSafety{Transport: t, Simulated: simulated}
}

func (l *LSSafety) Initialize(ctx context.Context) error {
	if l.Simulated || l.Transport == nil {
		return nil
	}

	return l.Transport.Open(ctx)
}

func (l *LSSafety) Reset(context.Context) error { return nil }

func (l *LSSafety) Schema(command string) (Schema, bool) {
	if command != "LSSafetyQuery" {
		return Schema{}, false
	}

	return Schema{Required: []string{"register"}}, true
}

func (l *LSSafety) Execute(ctx context.Context, command string, params map[string]any) (string, error) {
	schema, ok := l.Schema(command)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	if err := ValidateParams(schema, params); err != nil {
		return "", err
	}

	register, err := paramInt(params, "register")
	if err != nil {
		return "", err
	}

	if l.Simulated {
		return fmt.Sprintf("%d", rand.IntN(2)), nil
	}

	body := make([]byte, 2)
	binary.LittleEndian.PutUint16(body, uint16(register)) //nolint:gosec // register IDs are small protocol constants

	if err := l.Transport.Send(ctx, transport.Frame{MsgType: lsSafetyMsgQuery, Body: body}); err != nil {
		return "", err
	}

	resp, err := l.Transport.Recv(ctx, 2*time.Second)
	if err != nil {
		return "", err
	}

	if len(resp.Body) < 4 {
		return "", fmt.Errorf("driver: LS safety response too short (%d bytes)", len(resp.Body))
	}

	return fmt.Sprintf("%d", binary.LittleEndian.Uint32(resp.Body[:4])), nil
}
