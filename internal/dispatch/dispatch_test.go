package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfgtest/orchestrator/internal/driver"
	"github.com/mfgtest/orchestrator/internal/limits"
	"github.com/mfgtest/orchestrator/internal/pool"
	"github.com/mfgtest/orchestrator/internal/testplan"
	"github.com/mfgtest/orchestrator/internal/transport"
)

type stubDriver struct {
	response string
	err      error
	schema   map[string]driver.Schema
}

func (s *stubDriver) Initialize(context.Context) error { return nil }
func (s *stubDriver) Reset(context.Context) error       { return nil }

func (s *stubDriver) Execute(context.Context, string, map[string]any) (string, error) {
	return s.response, s.err
}

func (s *stubDriver) Schema(command string) (driver.Schema, bool) {
	sch, ok := s.schema[command]
	return sch, ok
}

type stubTransport struct{}

func (stubTransport) Open(context.Context) error { return nil }
func (stubTransport) Close() error                { return nil }
func (stubTransport) Send(context.Context, transport.Frame) error {
	return nil
}
func (stubTransport) Recv(context.Context, time.Duration) (transport.Frame, error) {
	return transport.Frame{}, nil
}
func (stubTransport) Acquire(context.Context) (func(), error) {
	return func() {}, nil
}

func newTestDispatcher(t *testing.T, instrumentID string, d driver.Driver) *Dispatcher {
	t.Helper()

	reg := driver.NewRegistry()
	reg.Register(instrumentID, d)

	p := pool.New(func(context.Context, string, bool) (transport.Transport, driver.Driver, error) {
		return stubTransport{}, d, nil
	}, nil)

	return New(reg, p, 30*time.Second, nil, nil)
}

func baseItem() testplan.Item {
	return testplan.Item{
		ItemNo:     1,
		ItemName:   "PowerRead",
		ItemKey:    "power_read",
		Command:    "PowerRead",
		ValueType:  testplan.ValueFloat,
		LimitType:  testplan.LimitBoth,
		LowerLimit: floatPtr(4.9),
		UpperLimit: floatPtr(5.1),
		Enabled:    true,
		Parameters: map[string]any{"instrument": "power_read"},
	}
}

func floatPtr(f float64) *float64 { return &f }

func TestDispatchExecutePass(t *testing.T) {
	d := newTestDispatcher(t, "power_read", &stubDriver{response: "5.00"})

	points, err := testplan.NewPointMap([]testplan.Item{baseItem()})
	require.NoError(t, err)

	out := d.Execute(context.Background(), baseItem(), points)
	require.NoError(t, out.Err)
	assert.Equal(t, limits.Pass, out.Verdict)
}

func TestDispatchInstrumentErrorSubstringCoercesToError(t *testing.T) {
	d := newTestDispatcher(t, "power_read", &stubDriver{response: "Error: overrange"})

	points, err := testplan.NewPointMap([]testplan.Item{baseItem()})
	require.NoError(t, err)

	out := d.Execute(context.Background(), baseItem(), points)
	require.Error(t, out.Err)
	assert.ErrorIs(t, out.Err, ErrInstrumentField)
}

func TestDispatchUseResultDependencyUnsatisfied(t *testing.T) {
	dependent := baseItem()
	dependent.ItemNo = 2
	dependent.ItemKey = "dependent"
	dependent.UseResult = "power_read"

	d := newTestDispatcher(t, "power_read", &stubDriver{response: "5.00"})

	items := []testplan.Item{baseItem(), dependent}
	points, err := testplan.NewPointMap(items)
	require.NoError(t, err)
	// power_read has not executed yet.

	out := d.Execute(context.Background(), dependent, points)
	require.Error(t, out.Err)
	assert.ErrorIs(t, out.Err, ErrDependencyUnsatisfied)
}

func TestDispatchUseResultSubstitutesValue(t *testing.T) {
	dependent := baseItem()
	dependent.ItemNo = 2
	dependent.ItemKey = "dependent"
	dependent.UseResult = "power_read"
	dependent.ValueType = testplan.ValueString
	dependent.LimitType = testplan.LimitNone
	dependent.Parameters = map[string]any{"instrument": "dependent"}

	items := []testplan.Item{baseItem(), dependent}
	points, err := testplan.NewPointMap(items)
	require.NoError(t, err)
	points.Update("power_read", true, "12.03")

	var seenParams map[string]any

	capturing := &captureDriver{response: "ok"}
	capturing.onExecute = func(params map[string]any) { seenParams = params }

	reg := driver.NewRegistry()
	reg.Register("dependent", capturing)

	p := pool.New(func(context.Context, string, bool) (transport.Transport, driver.Driver, error) {
		return stubTransport{}, capturing, nil
	}, nil)

	d := New(reg, p, 30*time.Second, nil, nil)

	out := d.Execute(context.Background(), dependent, points)
	require.NoError(t, out.Err)
	require.Equal(t, "12.03", seenParams["use_result"])
}

type captureDriver struct {
	response  string
	onExecute func(map[string]any)
}

func (c *captureDriver) Initialize(context.Context) error { return nil }
func (c *captureDriver) Reset(context.Context) error       { return nil }
func (c *captureDriver) Schema(string) (driver.Schema, bool) {
	return driver.Schema{}, false
}

func (c *captureDriver) Execute(_ context.Context, _ string, params map[string]any) (string, error) {
	if c.onExecute != nil {
		c.onExecute(params)
	}

	return c.response, nil
}
