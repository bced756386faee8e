package driver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

const wirelessPollInterval = 500 * time.Millisecond

// Terminal status strings a wireless tester's status register reports,
// distinguished per spec.md §4.B table row 5: sync loss is not the same
// failure as a timeout.
const (
	wirelessStatusOK       = "READY"
	wirelessStatusSyncLost = "SYNC_LOST"
	wirelessStatusTimeout  = "TIMEOUT"
)

// ErrSyncLost and ErrMeasurementTimeout distinguish the two long-measurement
// failure modes the dispatcher (and test report) need to tell apart.
var (
	ErrSyncLost          = errors.New("driver: wireless tester lost sync with DUT")
	ErrMeasurementTimeout = errors.New("driver: wireless tester measurement timed out")
)

// WirelessTester drives the CMW100/MT8872A family: long measurements poll a
// status register until a terminal state is reached.
type WirelessTester struct {
	Model     string
	Exchanger Exchanger
	Simulated bool
}

func NewWirelessTester(model string, ex Exchanger, simulated bool) *WirelessTester {
	return &WirelessTester{Model: model, Exchanger: ex, Simulated: simulated}
}

func (w *WirelessTester) Initialize(ctx context.Context) error {
	if w.Simulated {
		return nil
	}

	return w.Exchanger.Write(ctx, "*RST")
}

func (w *WirelessTester) Reset(ctx context.Context) error {
	return w.Initialize(ctx)
}

func (w *WirelessTester) Schema(command string) (Schema, bool) {
	switch command {
	case "RF_LTE_TX", "RF_NR_TX", "OPjudge":
		return Schema{Required: []string{"test_mode"}, Optional: []string{"timeout_ms"}}, true
	default:
		return Schema{}, false
	}
}

func (w *WirelessTester) Execute(ctx context.Context, command string, params map[string]any) (string, error) {
	schema, ok := w.Schema(command)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	if err := ValidateParams(schema, params); err != nil {
		return "", err
	}

	mode, err := paramString(params, "test_mode")
	if err != nil {
		return "", err
	}

	timeoutMs, _ := paramInt(params, "timeout_ms")
	if timeoutMs <= 0 {
		timeoutMs = 30_000
	}

	if w.Simulated {
		return fmt.Sprintf("%.2f", 20.0+rand.Float64()*2), nil
	}

	if err := w.Exchanger.Write(ctx, fmt.Sprintf("INIT:%s", mode)); err != nil {
		return "", err
	}

	return w.pollUntilTerminal(ctx, time.Duration(timeoutMs)*time.Millisecond)
}

func (w *WirelessTester) pollUntilTerminal(ctx context.Context, budget time.Duration) (string, error) {
	deadline := time.Now().Add(budget)

	for time.Now().Before(deadline) {
		status, err := w.Exchanger.Query(ctx, "STAT?", 2*time.Second)
		if err != nil {
			return "", err
		}

		switch strings.TrimSpace(status) {
		case wirelessStatusOK:
			return w.Exchanger.Query(ctx, "FETCH?", 2*time.Second)
		case wirelessStatusSyncLost:
			return "", ErrSyncLost
		case wirelessStatusTimeout:
			return "", ErrMeasurementTimeout
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wirelessPollInterval):
		}
	}

	return "", ErrMeasurementTimeout
}
