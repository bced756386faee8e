package driver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// currentCapableChannels enumerates, per DAQ family, which channels may be
// asked for a current measurement. A request on any other channel is a
// domain error (spec.md §4.B table row 1), never silently redirected.
var currentCapableChannels = map[string]map[int]bool{
	"DAQ973A": {121: true, 122: true},
	"34970A":  {121: true, 122: true},
	"APS7050": {101: true, 102: true, 103: true},
	"DAQ6510": {121: true, 122: true},
}

// ErrChannelNotCurrentCapable is returned when a current measurement is
// requested on a channel outside the family's fixed current-capable subset.
var ErrChannelNotCurrentCapable = fmt.Errorf("driver: channel not current-capable")

// DAQ drives a channel-switched DMM/DAQ (DAQ973A, 34970A, APS7050, DAQ6510).
type DAQ struct {
	Model     string
	Exchanger Exchanger
	Simulated bool
	rng       *rand.Rand
}

// NewDAQ constructs a DAQ driver for model, talking over ex unless
// simulated is true.
func NewDAQ(model string, ex Exchanger, simulated bool) *DAQ {
	return &DAQ{Model: model, Exchanger: ex, Simulated: simulated, rng: rand.New(rand.NewPCG(1, uint64(len(model))))}
}

func (d *DAQ) Initialize(ctx context.Context) error {
	if d.Simulated {
		return nil
	}

	return d.Exchanger.Write(ctx, "*RST")
}

func (d *DAQ) Reset(ctx context.Context) error {
	return d.Initialize(ctx)
}

func (d *DAQ) Schema(command string) (Schema, bool) {
	switch command {
	case "MeasureVoltage", "MeasureCurrent", "MeasureResistance":
		return Schema{Required: []string{"channel"}, Example: map[string]any{"channel": 121}}, true
	default:
		return Schema{}, false
	}
}

func (d *DAQ) Execute(ctx context.Context, command string, params map[string]any) (string, error) {
	schema, ok := d.Schema(command)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	if err := ValidateParams(schema, params); err != nil {
		return "", err
	}

	channel, err := paramInt(params, "channel")
	if err != nil {
		return "", err
	}

	switch command {
	case "MeasureCurrent":
		if !currentCapableChannels[d.Model][channel] {
			return "", fmt.Errorf("%w: %s channel %d", ErrChannelNotCurrentCapable, d.Model, channel)
		}

		return d.measure(ctx, channel, "CURR")
	case "MeasureVoltage":
		return d.measure(ctx, channel, "VOLT")
	case "MeasureResistance":
		return d.measure(ctx, channel, "RES")
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

func (d *DAQ) measure(ctx context.Context, channel int, function string) (string, error) {
	if d.Simulated {
		nominal := map[string]float64{"VOLT": 3.3, "CURR": 0.5, "RES": 100.0}[function]
		return fmt.Sprintf("%.4f", nominal+(d.rng.Float64()-0.5)*0.02), nil
	}

	cmd := fmt.Sprintf("MEAS:%s? (@%d)", function, channel)

	return d.Exchanger.Query(ctx, cmd, 5*time.Second)
}
