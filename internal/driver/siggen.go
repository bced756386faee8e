package driver

import (
	"context"
	"fmt"
)

// SigGenMode is the SMCV100B's mode selector (spec.md §4.B table "SMCV100B"
// row): each mode requires its own parameter set.
type SigGenMode string

const (
	SigGenReset SigGenMode = "RESET"
	SigGenDAB   SigGenMode = "DAB"
	SigGenAM    SigGenMode = "AM"
	SigGenFM    SigGenMode = "FM"
	SigGenIQ    SigGenMode = "IQ"
	SigGenRF    SigGenMode = "RF"
)

var sigGenModeParams = map[SigGenMode][]string{
	SigGenReset: nil,
	SigGenDAB:   {"ensemble", "service_id"},
	SigGenAM:    {"freq", "depth"},
	SigGenFM:    {"freq", "deviation"},
	SigGenIQ:    {"freq", "iq_file"},
	SigGenRF:    {"freq", "power"},
}

// SigGen drives the SMCV100B signal generator.
type SigGen struct {
	Exchanger Exchanger
	Simulated bool
}

func NewSigGen(ex Exchanger, simulated bool) *SigGen {
	return &SigGen{Exchanger: ex, Simulated: simulated}
}

func (s *SigGen) Initialize(ctx context.Context) error {
	if s.Simulated {
		return nil
	}

	return s.Exchanger.Write(ctx, "*RST")
}

func (s *SigGen) Reset(ctx context.Context) error {
	return s.Initialize(ctx)
}

func (s *SigGen) Schema(command string) (Schema, bool) {
	mode := SigGenMode(command)

	required, known := sigGenModeParams[mode]
	if !known {
		return Schema{}, false
	}

	return Schema{Required: required}, true
}

func (s *SigGen) Execute(ctx context.Context, command string, params map[string]any) (string, error) {
	schema, ok := s.Schema(command)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	if err := ValidateParams(schema, params); err != nil {
		return "", err
	}

	mode := SigGenMode(command)

	if mode == SigGenReset {
		if s.Simulated {
			return "OK", nil
		}

		return "OK", s.Exchanger.Write(ctx, "*RST")
	}

	if s.Simulated {
		return "OK", nil
	}

	cmd, err := sigGenCommand(mode, params)
	if err != nil {
		return "", err
	}

	return "OK", s.Exchanger.Write(ctx, cmd)
}

func sigGenCommand(mode SigGenMode, params map[string]any) (string, error) {
	switch mode {
	case SigGenAM:
		freq, err := paramFloat(params, "freq")
		if err != nil {
			return "", err
		}

		depth, err := paramFloat(params, "depth")
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("SOUR:FREQ %g;AM:DEPT %g;AM:STAT ON", freq, depth), nil
	case SigGenFM:
		freq, err := paramFloat(params, "freq")
		if err != nil {
			return "", err
		}

		dev, err := paramFloat(params, "deviation")
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("SOUR:FREQ %g;FM:DEV %g;FM:STAT ON", freq, dev), nil
	case SigGenRF:
		freq, err := paramFloat(params, "freq")
		if err != nil {
			return "", err
		}

		power, err := paramFloat(params, "power")
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("SOUR:FREQ %g;SOUR:POW %g;OUTP ON", freq, power), nil
	case SigGenDAB:
		ensemble, err := paramString(params, "ensemble")
		if err != nil {
			return "", err
		}

		serviceID, err := paramString(params, "service_id")
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("SOUR:DAB:ENS %s;SOUR:DAB:SID %s", ensemble, serviceID), nil
	case SigGenIQ:
		freq, err := paramFloat(params, "freq")
		if err != nil {
			return "", err
		}

		iqFile, err := paramString(params, "iq_file")
		if err != nil {
			return "", err
		}

		return fmt.Sprintf("SOUR:FREQ %g;SOUR:BB:ARB:WAV:SEL %q;SOUR:BB:ARB:STAT ON", freq, iqFile), nil
	default:
		return "", fmt.Errorf("driver: unhandled siggen mode %s", mode)
	}
}
