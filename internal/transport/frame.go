package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

// maxSyncScan bounds how many bytes the detector will discard while hunting
// for a sync word before giving up. A healthy link finds sync within a few
// header lengths; anything beyond this is a dead or misconfigured link.
const maxSyncScan = 4096

// Frame is a decoded application-level message: a type tag plus body bytes,
// independent of which wire framing produced it.
type Frame struct {
	MsgType uint16
	Body    []byte
}

// FrameSpec describes one wire framing convention so the sliding-window
// detector below can be shared across protocols that differ only in header
// shape, byte order, CRC width, and where the checksum lives.
//
// Two CRC placements are supported: a trailing footer (chassis fixture,
// §4.A.2) or a field embedded within the header itself (LS safety / VCU,
// §4.A.3-4.A.4).
type FrameSpec struct {
	Order      binary.ByteOrder
	SyncWord   uint32
	SyncSize   int // bytes occupied by the sync word: 2 or 4
	HeaderSize int // total header bytes, sync word through the last header field
	LengthAt   int // offset of the u16 length field within the header
	MsgTypeAt  int // offset of the u16 msg-type/format field within the header, or -1
	Overhead   int // non-body bytes counted in length: header (+ footer, if any)

	FooterCRC bool // true: CRC trails the body (chassis); false: CRC lives in the header (LS/VCU)
	CRCSize   int  // 2 or 4
	CRCAt     int  // when !FooterCRC, offset of the CRC field within the header
	CRCFrom   int  // offset (within header) where the CRC'd span begins; runs through end of body

	CRC16 func([]byte) uint16 // set when CRCSize == 2
	CRC32 func([]byte) uint32 // set when CRCSize == 4
}

// ChassisSpec frames the turntable/cliff-sensor/encoder chassis fixture
// protocol: [sync:u32][length:u16][msg_type:u16][body…][crc16_kermit:u16].
var ChassisSpec = FrameSpec{
	Order:      binary.BigEndian,
	SyncWord:   0xA5FF00CC,
	SyncSize:   4,
	HeaderSize: 8,
	LengthAt:   4,
	MsgTypeAt:  6,
	Overhead:   10, // 8-byte header + 2-byte footer
	FooterCRC:  true,
	CRCSize:    2,
	CRCFrom:    0,
	CRC16:      Kermit16,
}

// LSSpec frames the LS safety telemetry protocol:
// [sync:u16][length:u16][crc:u32][msg_format:u16][reserved:u16][body…].
var LSSpec = FrameSpec{
	Order:      binary.LittleEndian,
	SyncWord:   0xCAFE,
	SyncSize:   2,
	HeaderSize: 12,
	LengthAt:   2,
	MsgTypeAt:  8,
	Overhead:   12, // entire header; no separate footer
	FooterCRC:  false,
	CRCSize:    4,
	CRCAt:      4,
	CRCFrom:    8, // CRC covers msg_format + reserved + body
	CRC32:      ISOHDLC32,
}

// VCUSpec shares the LS header shape but travels over UDP datagrams.
var VCUSpec = LSSpec

// Codec encodes and decodes Frames for one wire framing convention.
type Codec interface {
	Encode(f Frame) []byte
	Decode(r *bufio.Reader) (Frame, error)
}

// specCodec adapts a FrameSpec into a Codec.
type specCodec struct {
	spec FrameSpec
}

// NewCodec builds a Codec from a FrameSpec.
func NewCodec(spec FrameSpec) Codec {
	return specCodec{spec: spec}
}

// ChassisCodec, LSCodec, and VCUCodec are the three protocol configurations
// named in the component design; each is a thin wrapper over the shared
// sliding-window detector parameterized by its FrameSpec.
var (
	ChassisCodec = NewCodec(ChassisSpec)
	LSCodec      = NewCodec(LSSpec)
	VCUCodec     = NewCodec(VCUSpec)
)

// Encode serializes f per the codec's FrameSpec.
func (c specCodec) Encode(f Frame) []byte {
	s := c.spec
	out := make([]byte, s.HeaderSize+len(f.Body)+crcFooterLen(s))

	if s.SyncSize == 4 {
		s.Order.PutUint32(out[0:4], s.SyncWord)
	} else {
		s.Order.PutUint16(out[0:2], uint16(s.SyncWord)) //nolint:gosec // 16-bit sync words fit
	}

	length := s.Overhead + len(f.Body)
	s.Order.PutUint16(out[s.LengthAt:s.LengthAt+2], uint16(length)) //nolint:gosec // bounded by protocol

	if s.MsgTypeAt >= 0 {
		s.Order.PutUint16(out[s.MsgTypeAt:s.MsgTypeAt+2], f.MsgType)
	}

	copy(out[s.HeaderSize:], f.Body)

	span := out[s.CRCFrom : s.HeaderSize+len(f.Body)]

	switch {
	case s.FooterCRC && s.CRCSize == 2:
		crc := s.CRC16(span)
		s.Order.PutUint16(out[s.HeaderSize+len(f.Body):], crc)
	case s.FooterCRC && s.CRCSize == 4:
		crc := s.CRC32(span)
		s.Order.PutUint32(out[s.HeaderSize+len(f.Body):], crc)
	case !s.FooterCRC && s.CRCSize == 4:
		crc := s.CRC32(span)
		s.Order.PutUint32(out[s.CRCAt:s.CRCAt+4], crc)
	case !s.FooterCRC && s.CRCSize == 2:
		crc := s.CRC16(span)
		s.Order.PutUint16(out[s.CRCAt:s.CRCAt+2], crc)
	}

	return out
}

func crcFooterLen(s FrameSpec) int {
	if s.FooterCRC {
		return s.CRCSize
	}

	return 0
}

// Decode runs the three-step sliding-window detector: scan for sync, read
// the declared body length, then read (or re-locate) and verify the CRC.
func (c specCodec) Decode(r *bufio.Reader) (Frame, error) {
	s := c.spec

	header, err := c.scanForSync(r)
	if err != nil {
		return Frame{}, err
	}

	length := int(s.Order.Uint16(header[s.LengthAt : s.LengthAt+2]))

	bodyLen := length - s.Overhead
	if bodyLen < 0 {
		return Frame{}, fmt.Errorf("%w: declared length %d shorter than overhead %d", ErrFrameTruncated, length, s.Overhead)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, mapReadErr(err)
	}

	span := append(append([]byte{}, header[s.CRCFrom:]...), body...)

	var gotCRC, wantCRC uint64

	switch {
	case s.FooterCRC && s.CRCSize == 2:
		footer := make([]byte, 2)
		if _, err := io.ReadFull(r, footer); err != nil {
			return Frame{}, mapReadErr(err)
		}

		gotCRC = uint64(s.Order.Uint16(footer))
		wantCRC = uint64(s.CRC16(span))
	case s.FooterCRC && s.CRCSize == 4:
		footer := make([]byte, 4)
		if _, err := io.ReadFull(r, footer); err != nil {
			return Frame{}, mapReadErr(err)
		}

		gotCRC = uint64(s.Order.Uint32(footer))
		wantCRC = uint64(s.CRC32(span))
	case !s.FooterCRC && s.CRCSize == 4:
		gotCRC = uint64(s.Order.Uint32(header[s.CRCAt : s.CRCAt+4]))
		wantCRC = uint64(s.CRC32(span))
	default:
		gotCRC = uint64(s.Order.Uint16(header[s.CRCAt : s.CRCAt+2]))
		wantCRC = uint64(s.CRC16(span))
	}

	if gotCRC != wantCRC {
		return Frame{}, fmt.Errorf("%w: got %#x want %#x", ErrFrameCrcError, gotCRC, wantCRC)
	}

	var msgType uint16
	if s.MsgTypeAt >= 0 {
		msgType = s.Order.Uint16(header[s.MsgTypeAt : s.MsgTypeAt+2])
	}

	return Frame{MsgType: msgType, Body: body}, nil
}

// scanForSync implements step 1: slide a SyncSize-wide window over the
// stream, byte at a time, until it matches the sync word, then reads the
// rest of the header in one shot.
func (c specCodec) scanForSync(r *bufio.Reader) ([]byte, error) {
	s := c.spec

	window := make([]byte, 0, s.SyncSize)

	for scanned := 0; scanned < maxSyncScan; scanned++ {
		b, err := r.ReadByte()
		if err != nil {
			return nil, mapReadErr(err)
		}

		if len(window) == s.SyncSize {
			copy(window, window[1:])
			window = window[:s.SyncSize-1]
		}

		window = append(window, b)

		if len(window) < s.SyncSize {
			continue
		}

		var candidate uint32
		if s.SyncSize == 4 {
			candidate = s.Order.Uint32(window)
		} else {
			candidate = uint32(s.Order.Uint16(window))
		}

		if candidate == s.SyncWord {
			header := make([]byte, s.HeaderSize)
			copy(header, window)

			if _, err := io.ReadFull(r, header[s.SyncSize:]); err != nil {
				return nil, mapReadErr(err)
			}

			return header, nil
		}
	}

	return nil, ErrFrameSyncLost
}

// mapReadErr translates stdlib I/O and net timeout errors into the typed
// transport failures the dispatcher understands.
func mapReadErr(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTransportTimeout, err)
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrFrameTruncated, err)
	}

	return err
}
