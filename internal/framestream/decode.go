// Package framestream subscribes to the receiver's frame stream and
// decodes header+payload messages into typed image buffers.
package framestream

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrUnsupportedBitDepth is returned for a bit depth outside the width table.
	ErrUnsupportedBitDepth = errors.New("unsupported bit depth")

	// ErrPayloadSize is returned when the payload length does not match the header shape.
	ErrPayloadSize = errors.New("payload size mismatch")

	// ErrMalformedHeader is returned when the header cannot be parsed.
	ErrMalformedHeader = errors.New("malformed frame header")
)

// elementWidth maps bit depth to buffer element width in bytes. 4-bit
// frames arrive packed two pixels per byte and are kept packed.
var elementWidth = map[int]int{
	4:  1,
	8:  1,
	16: 2,
	32: 4,
}

// ElementWidth returns the element width in bytes for a bit depth.
func ElementWidth(bitDepth int) (int, error) {
	w, ok := elementWidth[bitDepth]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}
	return w, nil
}

// Header is the JSON part of a stream message.
type Header struct {
	BitDepth int
	Rows     int
	Cols     int
	Index    uint64
	FileName string
	// EndOfAcquisition is set on the dummy header the receiver sends
	// after the last frame of a run. It has no payload.
	EndOfAcquisition bool
}

// wireHeader mirrors the receiver's JSON. bitmode is sent as either a
// string or a number depending on the receiver version.
type wireHeader struct {
	BitMode     json.RawMessage `json:"bitmode"`
	Shape       []int           `json:"shape"`
	FrameIndex  *uint64         `json:"frameIndex"`
	FrameNumber *uint64         `json:"frameNumber"`
	FileName    string          `json:"fname"`
	Data        *int            `json:"data"`
}

// ParseHeader parses the JSON header part of a message.
func ParseHeader(raw []byte) (Header, error) {
	var w wireHeader
	if err := json.Unmarshal(raw, &w); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	h := Header{FileName: w.FileName}
	if w.Data != nil && *w.Data == 0 {
		h.EndOfAcquisition = true
		return h, nil
	}

	depth, err := parseBitMode(w.BitMode)
	if err != nil {
		return Header{}, err
	}
	h.BitDepth = depth

	if len(w.Shape) != 2 || w.Shape[0] < 0 || w.Shape[1] < 0 {
		return Header{}, fmt.Errorf("%w: shape must be two non-negative integers, got %v", ErrMalformedHeader, w.Shape)
	}
	h.Rows, h.Cols = w.Shape[0], w.Shape[1]

	switch {
	case w.FrameIndex != nil:
		h.Index = *w.FrameIndex
	case w.FrameNumber != nil:
		h.Index = *w.FrameNumber
	}
	return h, nil
}

func parseBitMode(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: missing bitmode", ErrMalformedHeader)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: bitmode: %v", ErrMalformedHeader, err)
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%w: bitmode %q", ErrMalformedHeader, s)
		}
		return n, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: bitmode: %v", ErrMalformedHeader, err)
	}
	return n, nil
}

// Buffer is a fixed-width pixel buffer. Exactly one of U8, U16 or U32 is
// populated, selected by Width.
type Buffer struct {
	Width int // bytes per element
	U8    []uint8
	U16   []uint16
	U32   []uint32
}

// Len returns the number of elements.
func (b Buffer) Len() int {
	switch b.Width {
	case 1:
		return len(b.U8)
	case 2:
		return len(b.U16)
	case 4:
		return len(b.U32)
	}
	return 0
}

// At returns element i widened to uint32.
func (b Buffer) At(i int) uint32 {
	switch b.Width {
	case 1:
		return uint32(b.U8[i])
	case 2:
		return uint32(b.U16[i])
	default:
		return b.U32[i]
	}
}

// Frame is one decoded image. Frames are not retained by the receiver.
type Frame struct {
	Header   Header
	Buffer   Buffer
	Payload  []byte
	Received time.Time
}

// Decode builds a Frame from the two message parts. The payload must be
// exactly rows*cols*width bytes, little-endian.
func Decode(rawHeader, payload []byte) (Frame, error) {
	h, err := ParseHeader(rawHeader)
	if err != nil {
		return Frame{}, err
	}
	if h.EndOfAcquisition {
		return Frame{Header: h}, nil
	}
	buf, err := DecodePayload(h, payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Header: h, Buffer: buf, Payload: payload}, nil
}

// shapeFits reports whether rows*cols == n without overflowing.
func shapeFits(rows, cols, n int) bool {
	if rows < 0 || cols < 0 {
		return false
	}
	if rows == 0 || cols == 0 {
		return n == 0
	}
	return n%cols == 0 && n/cols == rows
}

// DecodePayload converts payload into a typed buffer for h.
func DecodePayload(h Header, payload []byte) (Buffer, error) {
	width, err := ElementWidth(h.BitDepth)
	if err != nil {
		return Buffer{}, err
	}

	// rows*cols from the wire can overflow; compare by division.
	n := len(payload) / width
	if !shapeFits(h.Rows, h.Cols, n) || n*width != len(payload) {
		return Buffer{}, fmt.Errorf("%w: %dx%d at %d bytes per element, got %d bytes",
			ErrPayloadSize, h.Rows, h.Cols, width, len(payload))
	}

	buf := Buffer{Width: width}
	switch width {
	case 1:
		buf.U8 = make([]uint8, n)
		copy(buf.U8, payload)
	case 2:
		buf.U16 = make([]uint16, n)
		for i := range buf.U16 {
			buf.U16[i] = binary.LittleEndian.Uint16(payload[2*i:])
		}
	case 4:
		buf.U32 = make([]uint32, n)
		for i := range buf.U32 {
			buf.U32[i] = binary.LittleEndian.Uint32(payload[4*i:])
		}
	}
	return buf, nil
}

// Endpoint formats a TCP endpoint for the stream publisher.
func Endpoint(ip string, port int) string {
	return fmt.Sprintf("tcp://%s:%d", ip, port)
}
