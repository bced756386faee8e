package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/mfgtest/orchestrator/internal/driver"
	"github.com/mfgtest/orchestrator/internal/storage"
	"github.com/mfgtest/orchestrator/internal/transport"
)

// ErrUnknownConnectionKind is returned when an InstrumentConfig.Connection's
// "kind" tag doesn't match a supported transport (spec.md §3.1).
var ErrUnknownConnectionKind = errors.New("orchestrator: unknown connection kind")

// ErrUnknownDriverType is returned when an InstrumentConfig.Type doesn't
// match a registered driver family.
var ErrUnknownDriverType = errors.New("orchestrator: unknown driver type")

// connectionTag is the discriminator every InstrumentConfig.Connection
// tagged variant carries (spec.md §3.1: Serial/TcpSocket/VISA/SSH/
// SerialPlusSSH/CAN/Simulated).
type connectionTag struct {
	Kind string `json:"kind"`

	Port     string `json:"port"`
	Baud     int    `json:"baud"`
	Parity   string `json:"parity"`
	StopBits int    `json:"stopbits"`
	Timeout  string `json:"timeout"`

	Host string `json:"host"`

	User     string `json:"user"`
	Secret   string `json:"secret"`

	Channel   string `json:"channel"`
	Interface string `json:"interface"`
	Bitrate   int    `json:"bitrate"`
	FD        bool   `json:"fd"`

	Model string `json:"model"`
}

// buildTransport opens the wire-level transport.Transport a connection tag
// names. Simulated connections have no transport object (spec.md §4.F
// "Simulation mode").
func buildTransport(tag connectionTag, codec transport.Codec) (transport.Transport, error) {
	timeout := parseDuration(tag.Timeout, 2*time.Second)

	switch tag.Kind {
	case "serial":
		return transport.NewSerialTransport(transport.SerialConfig{
			Port:     tag.Port,
			BaudRate: tag.Baud,
			DataBits: 8,
			Parity:   parseParity(tag.Parity),
			StopBits: parseStopBits(tag.StopBits),
			Timeout:  timeout,
		}, codec), nil
	case "tcp_socket", "tcpip":
		return transport.NewTCPTransport(tag.Host, codec), nil
	case "ssh", "serial_plus_ssh":
		return transport.NewSSHTransport(transport.SSHConfig{
			Host:    tag.Host,
			Port:    tag.Baud,
			User:    tag.User,
			Secret:  tag.Secret,
			Timeout: timeout,
		}), nil
	case "can":
		return transport.NewCANTransport(tag.Interface, tag.FD), nil
	case "simulated", "visa":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnectionKind, tag.Kind)
	}
}

func parseParity(p string) serial.Parity {
	switch p {
	case "odd":
		return serial.OddParity
	case "even":
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

func parseStopBits(n int) serial.StopBits {
	switch n {
	case 2:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}

	return d
}

// buildDriver constructs the (transport, driver) pair for one
// InstrumentConfig, dispatching on its declared Type (spec.md §3.1).
// Simulated instruments get a nil transport; every driver family
// tolerates this via its own `simulated` flag.
func buildDriver(ic storage.InstrumentConfig) (transport.Transport, driver.Driver, error) {
	var tag connectionTag
	if len(ic.Connection) > 0 {
		if err := json.Unmarshal(ic.Connection, &tag); err != nil {
			return nil, nil, fmt.Errorf("orchestrator: decode connection for %s: %w", ic.ID, err)
		}
	}

	simulated := tag.Kind == "simulated" || !ic.Enabled

	switch ic.Type {
	case "power_supply":
		tr, err := buildTransport(tag, transport.LineCodec)
		if err != nil {
			return nil, nil, err
		}

		ex := exchanger(tr)

		return tr, driver.NewPowerSupply(tag.Model, ex, simulated), nil

	case "keithley2015":
		tr, err := buildTransport(tag, transport.LineCodec)
		if err != nil {
			return nil, nil, err
		}

		return tr, driver.NewKeithley2015(exchanger(tr), simulated), nil

	case "daq":
		tr, err := buildTransport(tag, transport.LineCodec)
		if err != nil {
			return nil, nil, err
		}

		return tr, driver.NewDAQ(tag.Model, exchanger(tr), simulated), nil

	case "scope":
		tr, err := buildTransport(tag, transport.LineCodec)
		if err != nil {
			return nil, nil, err
		}

		return tr, driver.NewScope(exchanger(tr), simulated), nil

	case "siggen":
		tr, err := buildTransport(tag, transport.LineCodec)
		if err != nil {
			return nil, nil, err
		}

		return tr, driver.NewSigGen(exchanger(tr), simulated), nil

	case "relay":
		tr, err := buildTransport(tag, transport.LineCodec)
		if err != nil {
			return nil, nil, err
		}

		return tr, driver.NewRelay(exchanger(tr), simulated), nil

	case "chassis_rotation":
		tr, err := buildTransport(tag, transport.LineCodec)
		if err != nil {
			return nil, nil, err
		}

		return tr, driver.NewChassisRotate(exchanger(tr), simulated), nil

	case "generic_channel":
		tr, err := buildTransport(tag, transport.LineCodec)
		if err != nil {
			return nil, nil, err
		}

		return tr, driver.NewGenericChannel(exchanger(tr), simulated), nil

	case "wireless_tester":
		tr, err := buildTransport(tag, transport.LineCodec)
		if err != nil {
			return nil, nil, err
		}

		return tr, driver.NewWirelessTester(tag.Model, exchanger(tr), simulated), nil

	case "chassis_fixture":
		tr, err := buildTransport(tag, transport.NewCodec(transport.ChassisSpec))
		if err != nil {
			return nil, nil, err
		}

		return tr, driver.NewChassisFixture(tr, simulated), nil

	case "ls_safety":
		tr, err := buildTransport(tag, transport.NewCodec(transport.LSSpec))
		if err != nil {
			return nil, nil, err
		}

		return tr, driver.NewLSSafety(tr, simulated), nil

	case "vcu":
		return nil, driver.NewVCU(tag.Host, tag.Port, simulated), nil

	case "can_peak":
		canTr := transport.NewCANTransport(tag.Interface, tag.FD)

		return canTr, driver.NewPeakCAN(canTr, simulated), nil

	case "analog_discovery2":
		return nil, driver.NewAnalogDiscovery2(), nil

	case "wait":
		return nil, driver.NewWait(), nil

	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownDriverType, ic.Type)
	}
}

func exchanger(tr transport.Transport) driver.Exchanger {
	if tr == nil {
		return driver.TransportExchanger{}
	}

	return driver.TransportExchanger{T: tr}
}
