package transport_test

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfgtest/orchestrator/internal/transport"
)

func TestChassisCodecRoundTrip(t *testing.T) {
	t.Parallel()

	frame := transport.Frame{MsgType: 0x0102, Body: []byte("rotate-cw-90")}

	wire := transport.ChassisCodec.Encode(frame)

	got, err := transport.ChassisCodec.Decode(bufio.NewReader(bytes.NewReader(wire)))
	require.NoError(t, err)
	assert.Equal(t, frame.MsgType, got.MsgType)
	assert.Equal(t, frame.Body, got.Body)
}

func TestChassisCodecSkipsGarbagePrefix(t *testing.T) {
	t.Parallel()

	frame := transport.Frame{MsgType: 1, Body: []byte("ping")}
	wire := transport.ChassisCodec.Encode(frame)

	withNoise := append([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00}, wire...)

	got, err := transport.ChassisCodec.Decode(bufio.NewReader(bytes.NewReader(withNoise)))
	require.NoError(t, err)
	assert.Equal(t, frame.Body, got.Body)
}

func TestChassisCodecBitFlipIsCrcError(t *testing.T) {
	t.Parallel()

	frame := transport.Frame{MsgType: 1, Body: []byte("ping")}
	wire := transport.ChassisCodec.Encode(frame)
	wire[len(wire)-3] ^= 0x01 // flip a body byte, leave the CRC footer untouched

	_, err := transport.ChassisCodec.Decode(bufio.NewReader(bytes.NewReader(wire)))
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrFrameCrcError)
}

func TestChassisCodecTruncatedStreamIsTruncatedError(t *testing.T) {
	t.Parallel()

	frame := transport.Frame{MsgType: 1, Body: []byte("0123456789")}
	wire := transport.ChassisCodec.Encode(frame)

	_, err := transport.ChassisCodec.Decode(bufio.NewReader(bytes.NewReader(wire[:len(wire)-4])))
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrFrameTruncated)
}

func TestChassisCodecNoSyncWordIsSyncLost(t *testing.T) {
	t.Parallel()

	_, err := transport.ChassisCodec.Decode(bufio.NewReader(bytes.NewReader(bytes.Repeat([]byte{0x00}, 8192))))
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrFrameSyncLost)
}

func TestLSCodecRoundTrip(t *testing.T) {
	t.Parallel()

	frame := transport.Frame{MsgType: 7, Body: []byte{0x01, 0x02, 0x03, 0x04, 0x05}}
	wire := transport.LSCodec.Encode(frame)

	got, err := transport.LSCodec.Decode(bufio.NewReader(bytes.NewReader(wire)))
	require.NoError(t, err)
	assert.Equal(t, frame.MsgType, got.MsgType)
	assert.Equal(t, frame.Body, got.Body)
}

func TestLSCodecBitFlipIsCrcError(t *testing.T) {
	t.Parallel()

	frame := transport.Frame{MsgType: 7, Body: []byte{0x01, 0x02, 0x03}}
	wire := transport.LSCodec.Encode(frame)
	wire[len(wire)-1] ^= 0x10

	_, err := transport.LSCodec.Decode(bufio.NewReader(bytes.NewReader(wire)))
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrFrameCrcError)
}

func TestVCUCodecSharesLSFraming(t *testing.T) {
	t.Parallel()

	frame := transport.Frame{MsgType: 2, Body: []byte("telemetry")}
	wire := transport.VCUCodec.Encode(frame)

	got, err := transport.LSCodec.Decode(bufio.NewReader(bytes.NewReader(wire)))
	require.NoError(t, err)
	assert.Equal(t, frame.Body, got.Body)
}
