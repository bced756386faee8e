package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfgtest/orchestrator/internal/driver"
	"github.com/mfgtest/orchestrator/internal/transport"
)

type fakeTransport struct{ closed atomic.Bool }

func (f *fakeTransport) Open(context.Context) error { return nil }
func (f *fakeTransport) Close() error                { f.closed.Store(true); return nil }
func (f *fakeTransport) Send(context.Context, transport.Frame) error {
	return nil
}
func (f *fakeTransport) Recv(context.Context, time.Duration) (transport.Frame, error) {
	return transport.Frame{}, nil
}
func (f *fakeTransport) Acquire(context.Context) (func(), error) {
	return func() {}, nil
}

type fakeDriver struct {
	mu       sync.Mutex
	inFlight bool
	overlaps int
}

func (d *fakeDriver) Initialize(context.Context) error { return nil }
func (d *fakeDriver) Reset(context.Context) error      { return nil }
func (d *fakeDriver) Schema(string) (driver.Schema, bool) {
	return driver.Schema{}, false
}

func (d *fakeDriver) Execute(ctx context.Context, _ string, _ map[string]any) (string, error) {
	d.mu.Lock()
	if d.inFlight {
		d.overlaps++
	}
	d.inFlight = true
	d.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	d.mu.Lock()
	d.inFlight = false
	d.mu.Unlock()

	return "1.0", nil
}

func TestPoolLazyCreatesOncePerInstrument(t *testing.T) {
	var opens atomic.Int32

	drv := &fakeDriver{}
	factory := func(context.Context, string, bool) (transport.Transport, driver.Driver, error) {
		opens.Add(1)
		return &fakeTransport{}, drv, nil
	}

	p := New(factory, nil)

	for i := 0; i < 3; i++ {
		l, err := p.Get(context.Background(), "DAQ973A_1", false)
		require.NoError(t, err)
		l.Release()
	}

	assert.Equal(t, int32(1), opens.Load())
}

func TestPoolSerializesConcurrentLeases(t *testing.T) {
	drv := &fakeDriver{}
	factory := func(context.Context, string, bool) (transport.Transport, driver.Driver, error) {
		return &fakeTransport{}, drv, nil
	}

	p := New(factory, nil)

	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			l, err := p.Get(context.Background(), "DAQ973A_1", false)
			require.NoError(t, err)
			defer l.Release()

			_, _ = l.Driver.Execute(context.Background(), "PowerRead", nil)
		}()
	}

	wg.Wait()

	assert.Equal(t, 0, drv.overlaps, "concurrent leases must never overlap send/recv on the same instrument")
}

func TestPoolMissingFactoryErrorWraps(t *testing.T) {
	factory := func(context.Context, string, bool) (transport.Transport, driver.Driver, error) {
		return nil, nil, assert.AnError
	}

	p := New(factory, nil)

	_, err := p.Get(context.Background(), "missing", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransportOpen)
}
