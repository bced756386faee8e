package transport

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialConfig names a serial port and its line parameters (spec.md §3.1
// InstrumentConfig Serial{port, baud, parity, stopbits, timeout}).
type SerialConfig struct {
	Port     string
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
	Timeout  time.Duration
}

// SerialTransport frames messages over a serial port using go.bug.st/serial,
// the chassis fixture's native transport (spec.md §4.A.2).
type SerialTransport struct {
	baseTransport

	cfg  SerialConfig
	port serial.Port
}

// NewSerialTransport constructs a SerialTransport bound to codec for framing.
func NewSerialTransport(cfg SerialConfig, codec Codec) *SerialTransport {
	return &SerialTransport{baseTransport: newBaseTransport(codec), cfg: cfg}
}

func (t *SerialTransport) Open(_ context.Context) error {
	mode := &serial.Mode{
		BaudRate: t.cfg.BaudRate,
		DataBits: t.cfg.DataBits,
		Parity:   t.cfg.Parity,
		StopBits: t.cfg.StopBits,
	}

	port, err := serial.Open(t.cfg.Port, mode)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrConnectFailed, t.cfg.Port, err)
	}

	t.port = port

	return nil
}

func (t *SerialTransport) Close() error {
	if !t.markClosed() || t.port == nil {
		return nil
	}

	return t.port.Close()
}

func (t *SerialTransport) Send(_ context.Context, frame Frame) error {
	if t.isClosed() {
		return ErrNotOpen
	}

	wire := t.codec.Encode(frame)
	if _, err := t.port.Write(wire); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}

	return nil
}

func (t *SerialTransport) Recv(_ context.Context, timeout time.Duration) (Frame, error) {
	if t.isClosed() {
		return Frame{}, ErrNotOpen
	}

	if err := t.port.SetReadTimeout(timeout); err != nil {
		return Frame{}, fmt.Errorf("set read timeout: %w", err)
	}

	r := bufio.NewReader(&timeoutZeroReader{r: t.port})

	frame, err := t.codec.Decode(r)
	if err != nil {
		return Frame{}, err
	}

	return frame, nil
}

// timeoutZeroReader adapts go.bug.st/serial's "zero bytes, nil error" read
// timeout convention into the ErrTransportTimeout a caller can match on with
// errors.Is, keeping the sliding-window detector's error handling uniform
// across transports.
type timeoutZeroReader struct {
	r interface{ Read([]byte) (int, error) }
}

func (z *timeoutZeroReader) Read(p []byte) (int, error) {
	n, err := z.r.Read(p)
	if n == 0 && err == nil {
		return 0, ErrTransportTimeout
	}

	return n, err
}
