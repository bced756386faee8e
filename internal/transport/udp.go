package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	vcuHandshakeRetries  = 15
	vcuHandshakeInterval = 100 * time.Millisecond
	vcuHandshakeTimeout  = 200 * time.Millisecond
	vcuHandshakePayload  = "connect"
)

// UDPTransport frames messages over a datagram socket, used by the LS
// safety and VCU telemetry protocols (spec.md §4.A.3-4.A.4).
type UDPTransport struct {
	baseTransport

	addr string
	conn *net.UDPConn
}

// NewUDPTransport constructs a UDPTransport bound to codec for framing. addr
// is the device's test endpoint, already past any connect handshake.
func NewUDPTransport(addr string, codec Codec) *UDPTransport {
	return &UDPTransport{baseTransport: newBaseTransport(codec), addr: addr}
}

func (t *UDPTransport) Open(ctx context.Context) error {
	raddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %w", ErrConnectFailed, t.addr, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrConnectFailed, t.addr, err)
	}

	t.conn = conn

	return nil
}

func (t *UDPTransport) Close() error {
	if !t.markClosed() || t.conn == nil {
		return nil
	}

	return t.conn.Close()
}

// Send flushes any stale datagram left in the receive buffer from a prior
// exchange, then writes the framed request. The flush guards against a
// response the caller never collected racing with the next request's reply.
func (t *UDPTransport) Send(_ context.Context, frame Frame) error {
	if t.isClosed() {
		return ErrNotOpen
	}

	t.flushStale()

	wire := t.codec.Encode(frame)
	if _, err := t.conn.Write(wire); err != nil {
		return fmt.Errorf("udp write: %w", err)
	}

	return nil
}

func (t *UDPTransport) flushStale() {
	_ = t.conn.SetReadDeadline(time.Now())

	buf := make([]byte, 65535)
	for {
		if _, err := t.conn.Read(buf); err != nil {
			break
		}
	}

	_ = t.conn.SetReadDeadline(time.Time{})
}

func (t *UDPTransport) Recv(_ context.Context, timeout time.Duration) (Frame, error) {
	if t.isClosed() {
		return Frame{}, ErrNotOpen
	}

	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Frame{}, err
	}
	defer func() { _ = t.conn.SetReadDeadline(time.Time{}) }()

	buf := make([]byte, 65535)

	n, err := t.conn.Read(buf)
	if err != nil {
		return Frame{}, mapReadErr(err)
	}

	return t.codec.Decode(bufio.NewReader(bytes.NewReader(buf[:n])))
}

// VCUConnect performs the device's connect-port handshake (send the literal
// string "connect", require an exact echo, retrying up to
// vcuHandshakeRetries times at vcuHandshakeInterval) and, once it succeeds,
// opens and returns a UDPTransport bound to the test endpoint.
func VCUConnect(ctx context.Context, connectAddr, testAddr string) (*UDPTransport, error) {
	raddr, err := net.ResolveUDPAddr("udp", connectAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %w", ErrConnectFailed, connectAddr, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectFailed, connectAddr, err)
	}
	defer conn.Close()

	var lastErr error

	for attempt := 0; attempt < vcuHandshakeRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnectFailed, ctx.Err())
		}

		if echoed, err := tryHandshake(conn); err != nil {
			lastErr = err
		} else if echoed {
			transport := NewUDPTransport(testAddr, VCUCodec)
			if err := transport.Open(ctx); err != nil {
				return nil, err
			}

			return transport, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrConnectFailed, ctx.Err())
		case <-time.After(vcuHandshakeInterval):
		}
	}

	return nil, fmt.Errorf("%w: no echo after %d attempts: %v", ErrConnectFailed, vcuHandshakeRetries, lastErr)
}

func tryHandshake(conn *net.UDPConn) (bool, error) {
	if _, err := conn.Write([]byte(vcuHandshakePayload)); err != nil {
		return false, err
	}

	if err := conn.SetReadDeadline(time.Now().Add(vcuHandshakeTimeout)); err != nil {
		return false, err
	}

	buf := make([]byte, len(vcuHandshakePayload))

	n, err := conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return false, nil
		}

		return false, err
	}

	return string(buf[:n]) == vcuHandshakePayload, nil
}
