package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// CANTransport wraps a SocketCAN interface for the Peak CAN driver family
// (spec.md §4.B): 11-bit or 29-bit arbitration IDs, payload up to 8 bytes
// (classic) or 64 (FD). Arbitration IDs don't fit the generic 16-bit
// Frame.MsgType used by the framed serial/UDP protocols, so CANTransport
// exposes its own SendFrame/RecvFrame pair rather than implementing Codec.
type CANTransport struct {
	iface string
	fd    bool

	sem    chan struct{} // capacity-1 buffered semaphore; a cancelable mutex
	opMu   sync.Mutex
	closed bool

	conn net.Conn
	tx   *socketcan.Transmitter
	rx   *socketcan.Receiver
}

// NewCANTransport constructs a CANTransport for the named SocketCAN
// interface (e.g. "can0", "vcan0"). fd selects CAN-FD framing.
func NewCANTransport(iface string, fd bool) *CANTransport {
	sem := make(chan struct{}, 1)
	sem <- struct{}{}

	return &CANTransport{iface: iface, fd: fd, sem: sem}
}

func (t *CANTransport) Open(ctx context.Context) error {
	conn, err := socketcan.DialContext(ctx, "can", t.iface)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnectFailed, t.iface, err)
	}

	t.conn = conn
	t.tx = socketcan.NewTransmitter(conn)
	t.rx = socketcan.NewReceiver(conn)

	return nil
}

func (t *CANTransport) Close() error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true

	if t.conn != nil {
		return t.conn.Close()
	}

	return nil
}

// Acquire serializes operations on this CAN interface, matching the
// connection pool's one-outstanding-operation-per-instrument rule.
func (t *CANTransport) Acquire(ctx context.Context) (func(), error) {
	select {
	case <-t.sem:
		return func() { t.sem <- struct{}{} }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	}
}

// SendFrame transmits data under arbitration id. extended selects a 29-bit
// ID; data must be ≤8 bytes for classic CAN or ≤64 for CAN-FD.
func (t *CANTransport) SendFrame(ctx context.Context, id uint32, extended bool, data []byte) error {
	maxLen := 8
	if t.fd {
		maxLen = 64
	}

	if len(data) > maxLen {
		return fmt.Errorf("transport: CAN payload %d bytes exceeds %d-byte limit", len(data), maxLen)
	}

	frame := can.Frame{
		ID:         id,
		Length:     uint8(len(data)), //nolint:gosec // bounded by maxLen check above
		IsExtended: extended,
	}
	copy(frame.Data[:], data)

	if err := t.tx.TransmitFrame(ctx, frame); err != nil {
		return fmt.Errorf("can transmit: %w", err)
	}

	return nil
}

// RecvFrame waits up to timeout for the next frame; when filterID is
// non-nil, frames with a different arbitration ID are discarded.
func (t *CANTransport) RecvFrame(ctx context.Context, timeout time.Duration, filterID *uint32) (can.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		frame can.Frame
		err   error
	}

	out := make(chan result, 1)

	go func() {
		for t.rx.Receive() {
			frame := t.rx.Frame()
			if filterID != nil && frame.ID != *filterID {
				continue
			}

			out <- result{frame: frame}

			return
		}

		out <- result{err: t.rx.Err()}
	}()

	select {
	case r := <-out:
		if r.err != nil {
			return can.Frame{}, fmt.Errorf("can receive: %w", r.err)
		}

		return r.frame, nil
	case <-ctx.Done():
		return can.Frame{}, fmt.Errorf("%w: can receive", ErrTransportTimeout)
	}
}
