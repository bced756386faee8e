package transport

import (
	"bufio"
	"context"
	"sync"
	"time"
)

// Transport is the common contract every link (serial, TCP, UDP, SSH, CAN)
// implements. All I/O is non-blocking from the caller's perspective: a
// timeout passed to Recv bounds every suspension point inside it.
type Transport interface {
	// Open establishes the underlying link. Idempotent.
	Open(ctx context.Context) error

	// Close releases the underlying link. Safe to call more than once.
	Close() error

	// Send writes one encoded frame.
	Send(ctx context.Context, frame Frame) error

	// Recv reads and decodes one frame, failing with ErrTransportTimeout if
	// no complete frame arrives before timeout elapses.
	Recv(ctx context.Context, timeout time.Duration) (Frame, error)

	// Acquire serializes mutually exclusive use of this transport and
	// returns a release function that must run on every exit path. Only one
	// caller may hold the lease at a time; others block until released.
	Acquire(ctx context.Context) (release func(), err error)
}

// baseTransport centralizes the per-instrument serialization mutex and
// open/closed bookkeeping shared by every concrete Transport below, mirroring
// the connection pool's "one outstanding operation per instrument_id" rule
// (spec.md §4.C) at the transport level so a driver can hold a transport
// directly in tests without going through the pool.
type baseTransport struct {
	codec Codec

	sem    chan struct{} // capacity-1 buffered semaphore; a cancelable mutex
	opMu   sync.Mutex    // guards Close bookkeeping
	closed bool
}

func newBaseTransport(codec Codec) baseTransport {
	sem := make(chan struct{}, 1)
	sem <- struct{}{}

	return baseTransport{codec: codec, sem: sem}
}

// Acquire serializes mutually exclusive use of the transport. Unlike a plain
// sync.Mutex, waiting on the channel token lets a canceled ctx abandon the
// wait without leaking a goroutine that would otherwise acquire the lock
// after the caller has already given up and never release it.
func (b *baseTransport) Acquire(ctx context.Context) (func(), error) {
	select {
	case <-b.sem:
		return func() { b.sem <- struct{}{} }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	}
}

func (b *baseTransport) markClosed() bool {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	if b.closed {
		return false
	}

	b.closed = true

	return true
}

func (b *baseTransport) isClosed() bool {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	return b.closed
}

// decodeWithDeadline sets conn's read deadline (if it supports one) before
// running the codec's sliding-window detector, so a stalled peer surfaces as
// ErrTransportTimeout instead of hanging the session's cooperative worker.
func decodeWithDeadline(codec Codec, r *bufio.Reader, setDeadline func(time.Time) error, timeout time.Duration) (Frame, error) {
	if setDeadline != nil {
		if err := setDeadline(time.Now().Add(timeout)); err != nil {
			return Frame{}, err
		}

		defer func() { _ = setDeadline(time.Time{}) }()
	}

	return codec.Decode(r)
}
