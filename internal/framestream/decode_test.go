package framestream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
)

func header(bitmode string, rows, cols int) []byte {
	return []byte(fmt.Sprintf(`{"jsonversion":4,"bitmode":%s,"shape":[%d,%d],"frameIndex":7,"fname":"run"}`, bitmode, rows, cols))
}

func TestDecode_BitDepths(t *testing.T) {
	tests := []struct {
		name    string
		bitmode string
		width   int
	}{
		{"int 8", "8", 1},
		{"int 16", "16", 2},
		{"int 32", "32", 4},
		{"string 16", `"16"`, 2},
		{"packed 4", "4", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const rows, cols = 3, 5
			payload := make([]byte, rows*cols*tt.width)
			for i := range payload {
				payload[i] = byte(i)
			}

			f, err := Decode(header(tt.bitmode, rows, cols), payload)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if f.Buffer.Width != tt.width {
				t.Errorf("Width = %d, want %d", f.Buffer.Width, tt.width)
			}
			if f.Buffer.Len() != rows*cols {
				t.Errorf("Len = %d, want %d", f.Buffer.Len(), rows*cols)
			}
			if f.Header.Rows != rows || f.Header.Cols != cols || f.Header.Index != 7 {
				t.Errorf("Header = %+v", f.Header)
			}
		})
	}
}

func TestDecode_LittleEndianValues(t *testing.T) {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint16(payload[0:], 1)
	binary.LittleEndian.PutUint16(payload[2:], 0x0102)
	binary.LittleEndian.PutUint16(payload[4:], 65535)
	binary.LittleEndian.PutUint16(payload[6:], 400)

	f, err := Decode(header("16", 2, 2), payload)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint32{1, 0x0102, 65535, 400}
	for i, w := range want {
		if got := f.Buffer.At(i); got != w {
			t.Errorf("At(%d) = %d, want %d", i, got, w)
		}
	}

	payload32 := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload32, 0xDEADBEEF)
	f, err = Decode(header("32", 1, 1), payload32)
	if err != nil || f.Buffer.U32[0] != 0xDEADBEEF {
		t.Errorf("32-bit decode = %v, %v", f.Buffer.U32, err)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		header  []byte
		payload []byte
		want    error
	}{
		{"bit depth 12", header("12", 1, 1), []byte{0, 0}, ErrUnsupportedBitDepth},
		{"bit depth 24", header(`"24"`, 1, 1), []byte{0, 0, 0}, ErrUnsupportedBitDepth},
		{"short payload", header("16", 2, 2), make([]byte, 7), ErrPayloadSize},
		{"long payload", header("8", 2, 2), make([]byte, 5), ErrPayloadSize},
		{"shape overflows to payload size", header("32", 5, 922337203685477581), make([]byte, 4), ErrPayloadSize},
		{"shape overflows to zero", header("16", 1<<32, 1<<31), nil, ErrPayloadSize},
		{"zero rows with payload", header("8", 0, 4), make([]byte, 4), ErrPayloadSize},
		{"odd payload for 16-bit", header("16", 1, 1), make([]byte, 3), ErrPayloadSize},
		{"not json", []byte("frame"), nil, ErrMalformedHeader},
		{"missing bitmode", []byte(`{"shape":[1,1]}`), []byte{0}, ErrMalformedHeader},
		{"bad bitmode string", []byte(`{"bitmode":"sixteen","shape":[1,1]}`), []byte{0}, ErrMalformedHeader},
		{"one-element shape", []byte(`{"bitmode":8,"shape":[4]}`), make([]byte, 4), ErrMalformedHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.header, tt.payload)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecode_EndOfAcquisition(t *testing.T) {
	f, err := Decode([]byte(`{"jsonversion":4,"data":0}`), nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !f.Header.EndOfAcquisition {
		t.Error("expected end-of-acquisition header")
	}
}

func TestParseHeader_FrameNumberFallback(t *testing.T) {
	h, err := ParseHeader([]byte(`{"bitmode":16,"shape":[400,400],"frameNumber":12}`))
	if err != nil {
		t.Fatal(err)
	}
	if h.Index != 12 || h.Rows != 400 || h.Cols != 400 || h.BitDepth != 16 {
		t.Errorf("Header = %+v", h)
	}
}

func TestElementWidth(t *testing.T) {
	for depth, want := range map[int]int{4: 1, 8: 1, 16: 2, 32: 4} {
		if got, err := ElementWidth(depth); err != nil || got != want {
			t.Errorf("ElementWidth(%d) = %d, %v; want %d", depth, got, err, want)
		}
	}
	for _, depth := range []int{0, 1, 12, 24, 64, -8} {
		if _, err := ElementWidth(depth); !errors.Is(err, ErrUnsupportedBitDepth) {
			t.Errorf("ElementWidth(%d) err = %v", depth, err)
		}
	}
}

func TestEndpoint(t *testing.T) {
	if got := Endpoint("192.168.1.118", 50001); got != "tcp://192.168.1.118:50001" {
		t.Errorf("Endpoint = %q", got)
	}
}
