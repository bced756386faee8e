package driver

import (
	"context"
	"time"

	"github.com/mfgtest/orchestrator/internal/transport"
)

// Exchanger is the minimal request/response primitive SCPI-style drivers
// need: write a command, optionally read back a reply. It is satisfied by
// any transport.Transport (framed or line-delimited) so a driver family
// doesn't care whether its instrument sits behind serial, TCP, or SSH.
type Exchanger interface {
	Write(ctx context.Context, cmd string) error
	Query(ctx context.Context, cmd string, timeout time.Duration) (string, error)
}

// TransportExchanger adapts a transport.Transport into an Exchanger using
// LineCodec-shaped frames (command/response text, one per Send/Recv).
type TransportExchanger struct {
	T transport.Transport
}

func (e TransportExchanger) Write(ctx context.Context, cmd string) error {
	return e.T.Send(ctx, transport.Frame{Body: []byte(cmd)})
}

func (e TransportExchanger) Query(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	if err := e.T.Send(ctx, transport.Frame{Body: []byte(cmd)}); err != nil {
		return "", err
	}

	frame, err := e.T.Recv(ctx, timeout)
	if err != nil {
		return "", err
	}

	return string(frame.Body), nil
}
