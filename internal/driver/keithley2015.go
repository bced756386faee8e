package driver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Keithley2015State is the THD/SINAD meter's three-state machine
// (spec.md §4.B table row 3).
type Keithley2015State int

const (
	StateReset Keithley2015State = iota
	StateMeasurement
	StateSignalGenerator
)

// Keithley2015 drives the THD/SINAD meter.
type Keithley2015 struct {
	Exchanger Exchanger
	Simulated bool

	state Keithley2015State
}

func NewKeithley2015(ex Exchanger, simulated bool) *Keithley2015 {
	return &Keithley2015{Exchanger: ex, Simulated: simulated, state: StateReset}
}

func (k *Keithley2015) Initialize(ctx context.Context) error {
	if k.Simulated {
		k.state = StateReset
		return nil
	}

	if err := k.Exchanger.Write(ctx, "*RST"); err != nil {
		return err
	}

	k.state = StateReset

	return nil
}

func (k *Keithley2015) Reset(ctx context.Context) error {
	return k.Initialize(ctx)
}

func (k *Keithley2015) Schema(command string) (Schema, bool) {
	switch command {
	case "Measurement":
		return Schema{Required: []string{"mode", "type", "freq"}}, true
	case "SignalGenerator":
		return Schema{Required: []string{"ampl", "imped", "shape"}}, true
	default:
		return Schema{}, false
	}
}

func (k *Keithley2015) Execute(ctx context.Context, command string, params map[string]any) (string, error) {
	schema, ok := k.Schema(command)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	if err := ValidateParams(schema, params); err != nil {
		return "", err
	}

	switch command {
	case "Measurement":
		return k.measurement(ctx, params)
	case "SignalGenerator":
		return k.signalGenerator(ctx, params)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

func (k *Keithley2015) measurement(ctx context.Context, params map[string]any) (string, error) {
	mode, err := paramString(params, "mode")
	if err != nil {
		return "", err
	}

	typ, err := paramString(params, "type")
	if err != nil {
		return "", err
	}

	freq, err := paramFloat(params, "freq")
	if err != nil {
		return "", err
	}

	k.state = StateMeasurement

	if k.Simulated {
		return fmt.Sprintf("%.4f", 0.01+rand.Float64()*0.002), nil
	}

	cmd := fmt.Sprintf("CONF:%s %s,%gHZ", mode, typ, freq)
	if err := k.Exchanger.Write(ctx, cmd); err != nil {
		return "", err
	}

	return k.Exchanger.Query(ctx, "READ?", 5*time.Second)
}

func (k *Keithley2015) signalGenerator(ctx context.Context, params map[string]any) (string, error) {
	ampl, err := paramFloat(params, "ampl")
	if err != nil {
		return "", err
	}

	imped, err := paramFloat(params, "imped")
	if err != nil {
		return "", err
	}

	shape, err := paramString(params, "shape")
	if err != nil {
		return "", err
	}

	k.state = StateSignalGenerator

	if k.Simulated {
		return "OK", nil
	}

	cmd := fmt.Sprintf("SOUR:FUNC %s;VOLT %g;OUTP:IMP %g", shape, ampl, imped)

	return "OK", k.Exchanger.Write(ctx, cmd)
}
