package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfgtest/orchestrator/internal/dispatch"
	"github.com/mfgtest/orchestrator/internal/driver"
	"github.com/mfgtest/orchestrator/internal/pool"
	"github.com/mfgtest/orchestrator/internal/storage"
	"github.com/mfgtest/orchestrator/internal/telemetry"
	"github.com/mfgtest/orchestrator/internal/testplan"
	"github.com/mfgtest/orchestrator/internal/transport"
)

type fakeRepo struct {
	plan    []testplan.Item
	results []storage.Result
	final   storage.SessionAggregates
}

func (f *fakeRepo) LoadTestPlan(context.Context, string, string, string) ([]testplan.Item, error) {
	return f.plan, nil
}

func (f *fakeRepo) CreateSession(_ context.Context, sess storage.Session) (storage.Session, error) {
	sess.ID = "sess_test"
	return sess, nil
}

func (f *fakeRepo) AppendResult(_ context.Context, r storage.Result) error {
	f.results = append(f.results, r)
	return nil
}

func (f *fakeRepo) FinalizeSession(_ context.Context, _ string, agg storage.SessionAggregates) error {
	f.final = agg
	return nil
}

func (f *fakeRepo) GetSession(context.Context, string) (storage.Session, error) { return storage.Session{}, nil }
func (f *fakeRepo) ListSessions(context.Context, storage.SessionFilter) ([]storage.Session, error) {
	return nil, nil
}
func (f *fakeRepo) ListResults(context.Context, string) ([]storage.Result, error) { return f.results, nil }
func (f *fakeRepo) ListInstruments(context.Context) ([]storage.InstrumentConfig, error) {
	return nil, nil
}

func (f *fakeRepo) DeleteSessionsBefore(context.Context, time.Time, bool) (int, error) {
	return 0, nil
}

type fakeDriver struct{ response string }

func (f *fakeDriver) Initialize(context.Context) error { return nil }
func (f *fakeDriver) Reset(context.Context) error       { return nil }
func (f *fakeDriver) Execute(context.Context, string, map[string]any) (string, error) {
	return f.response, nil
}
func (f *fakeDriver) Schema(string) (driver.Schema, bool) { return driver.Schema{}, false }

type fakeTransport struct{}

func (fakeTransport) Open(context.Context) error { return nil }
func (fakeTransport) Close() error                { return nil }
func (fakeTransport) Send(context.Context, transport.Frame) error {
	return nil
}
func (fakeTransport) Recv(context.Context, time.Duration) (transport.Frame, error) {
	return transport.Frame{}, nil
}
func (fakeTransport) Acquire(context.Context) (func(), error) {
	return func() {}, nil
}

func twoItemPlan() []testplan.Item {
	lower, upper := 4.9, 5.1
	return []testplan.Item{
		{
			ItemNo: 1, ItemName: "PowerSet", ItemKey: "power_set", Command: "PowerSet",
			ValueType: testplan.ValueString, LimitType: testplan.LimitNone, Enabled: true,
			Parameters: map[string]any{"instrument": "psu"},
		},
		{
			ItemNo: 2, ItemName: "PowerRead", ItemKey: "power_read", Command: "PowerRead",
			ValueType: testplan.ValueFloat, LimitType: testplan.LimitBoth, Enabled: true,
			LowerLimit: &lower, UpperLimit: &upper,
			Parameters: map[string]any{"instrument": "psu"},
		},
	}
}

func newTestRegistry(t *testing.T, repo *fakeRepo, response string) *Registry {
	t.Helper()

	reg := driver.NewRegistry()
	d := &fakeDriver{response: response}
	reg.Register("psu", d)

	p := pool.New(func(context.Context, string, bool) (transport.Transport, driver.Driver, error) {
		return fakeTransport{}, d, nil
	}, nil)

	disp := dispatch.New(reg, p, 2*time.Second, nil, nil)
	logger := telemetry.NewLogger(nil)

	return NewRegistry(context.Background(), repo, disp, nil, logger)
}

func TestEngineHappyPathCompletes(t *testing.T) {
	repo := &fakeRepo{plan: twoItemPlan()}
	reg := newTestRegistry(t, repo, "5.00")

	e, err := reg.Start(context.Background(), StartRequest{SerialNumber: "SN1", StopOnFail: true})
	require.NoError(t, err)

	e.Wait()

	assert.Equal(t, StatusCompleted, e.Status())
	assert.Equal(t, storage.ResultPass, repo.final.FinalResult)
	assert.Len(t, repo.results, 2)
}

func TestEngineStopOnFailBreaksLoop(t *testing.T) {
	lower, upper := 10.0, 20.0
	plan := twoItemPlan()
	plan[1].LowerLimit = &lower
	plan[1].UpperLimit = &upper

	repo := &fakeRepo{plan: plan}
	reg := newTestRegistry(t, repo, "5.00")

	e, err := reg.Start(context.Background(), StartRequest{SerialNumber: "SN1", StopOnFail: true})
	require.NoError(t, err)

	e.Wait()

	assert.Equal(t, StatusFailed, e.Status())
}

func TestEngineStopCancelsRun(t *testing.T) {
	repo := &fakeRepo{plan: twoItemPlan()}
	reg := newTestRegistry(t, repo, "5.00")

	e, err := reg.Start(context.Background(), StartRequest{SerialNumber: "SN1"})
	require.NoError(t, err)

	require.NoError(t, reg.Stop(e.ID()))
	e.Wait()

	assert.Equal(t, StatusAborted, e.Status())
}

func TestRegistryStartCollapsesRetriedRequest(t *testing.T) {
	repo := &fakeRepo{plan: twoItemPlan()}
	reg := newTestRegistry(t, repo, "5.00")

	req := StartRequest{
		SerialNumber: "SN1", StationID: "STATION-1", ProjectID: "proj-a",
		PlanName: "final-test", StopOnFail: true, RequestedAt: "2026-07-30T10:00:00.000000000Z",
	}

	e1, err := reg.Start(context.Background(), req)
	require.NoError(t, err)

	e2, err := reg.Start(context.Background(), req)
	require.NoError(t, err)

	assert.Same(t, e1, e2)

	e1.Wait()
}

func TestRegistryStartWithoutRequestedAtAlwaysCreatesNewSession(t *testing.T) {
	repo := &fakeRepo{plan: twoItemPlan()}
	reg := newTestRegistry(t, repo, "5.00")

	req := StartRequest{SerialNumber: "SN1", StopOnFail: true}

	e1, err := reg.Start(context.Background(), req)
	require.NoError(t, err)

	e2, err := reg.Start(context.Background(), req)
	require.NoError(t, err)

	assert.NotSame(t, e1, e2)

	e1.Wait()
	e2.Wait()
}

func TestRegistryStopUnknownSessionErrors(t *testing.T) {
	repo := &fakeRepo{plan: twoItemPlan()}
	reg := newTestRegistry(t, repo, "5.00")

	err := reg.Stop("does-not-exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}
