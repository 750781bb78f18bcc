package protocol

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestVLQRoundTrip(t *testing.T) {
	values := []int32{
		0, 1, -1,
		// One-byte boundaries
		-32, 95, -33, 96,
		127, -127, 128, -128, 255, -255,
		1000, -1000, 65535, -65535, 1000000, -1000000,
		// Group boundaries
		3<<12 - 1, 3 << 12, -(1 << 12), -(1 << 12) - 1,
		3<<19 - 1, 3 << 19, 3<<26 - 1, 3 << 26,
		math.MaxInt32, math.MinInt32,
	}
	for _, want := range values {
		output := NewScratchOutput()
		EncodeVLQInt(output, want)
		encoded := append([]byte(nil), output.Result()...)

		data := encoded
		got, err := DecodeVLQInt(&data)
		if err != nil {
			t.Errorf("Decode of %d (% x) failed: %v", want, encoded, err)
			continue
		}
		if got != want {
			t.Errorf("VLQ mismatch: want %d, got %d (encoded as % x)", want, got, encoded)
		}
		if len(data) != 0 {
			t.Errorf("Decode of %d left %d bytes", want, len(data))
		}
		if !bytes.Equal(AppendVLQ(nil, want), encoded) {
			t.Errorf("AppendVLQ and EncodeVLQInt disagree for %d", want)
		}
	}
}

func TestVLQEncodedLength(t *testing.T) {
	tests := []struct {
		v    int32
		want int
	}{
		{0, 1},
		{95, 1},
		{96, 2},
		{-32, 1},
		{-33, 2},
		{12287, 2},
		{12288, 3},
		{math.MaxUint16, 3},
		{math.MaxInt32, 5},
		{-1 << 31, 5},
	}
	for _, tt := range tests {
		if got := len(AppendVLQ(nil, tt.v)); got != tt.want {
			t.Errorf("len(AppendVLQ(%d)) = %d, want %d", tt.v, got, tt.want)
		}
	}
}

func TestVLQUint(t *testing.T) {
	for _, want := range []uint32{0, 127, 128, 65535, 1000000, math.MaxUint32} {
		data := AppendVLQ(nil, int32(want))
		got, err := DecodeVLQUint(&data)
		if err != nil || got != want {
			t.Errorf("DecodeVLQUint = %d, %v; want %d", got, err, want)
		}
	}
}

func TestVLQBytesAndString(t *testing.T) {
	blobs := [][]byte{{}, {0x01}, {0xFF, 0xFE, 0xFD}, make([]byte, 200)}
	for i, want := range blobs {
		output := NewScratchOutput()
		EncodeVLQBytes(output, want)
		data := output.Result()
		got, err := DecodeVLQBytes(&data)
		if err != nil || !bytes.Equal(got, want) {
			t.Errorf("Case %d: got %v, %v", i, got, err)
		}
	}

	for _, want := range []string{"", "raw", "in_voltage0_raw", "neg10v_to_10v"} {
		output := NewScratchOutput()
		EncodeVLQString(output, want)
		data := output.Result()
		if got, err := DecodeVLQString(&data); err != nil || got != want {
			t.Errorf("String round trip: got %q, %v; want %q", got, err, want)
		}
	}
}

func TestVLQMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrBufferTooSmall},
		{"truncated", []byte{0x80}, ErrBufferTooSmall},
		{"too long", []byte{0x81, 0x81, 0x81, 0x81, 0x81, 0x01}, ErrInvalidVLQ},
		{"short bytes", []byte{0x05, 'a', 'b'}, ErrBufferTooSmall},
		{"short bytes long prefix", []byte{0x81, 0x00, 'a'}, ErrBufferTooSmall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.data
			var err error
			if strings.HasPrefix(tt.name, "short bytes") {
				_, err = DecodeVLQBytes(&data)
			} else {
				_, err = DecodeVLQInt(&data)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if len(data) != len(tt.data) {
				t.Error("Failed decode consumed input")
			}
		})
	}
}

func TestDecoder(t *testing.T) {
	data := AppendVLQ(nil, 3)
	data = AppendVLQ(data, 255)
	data = AppendVLQBytes(data, []byte("scale"))
	data = AppendVLQ(data, -22)

	dec := NewDecoder(&data)
	dev := dec.Byte()
	ch := dec.Byte()
	attr := dec.String()
	status := dec.Int()
	if err := dec.Err(); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if dev != 3 || ch != 255 || attr != "scale" || status != -22 {
		t.Errorf("Decoded %d %d %q %d", dev, ch, attr, status)
	}

	// Reading past the end sticks
	if dec.Uint() != 0 || !errors.Is(dec.Err(), ErrBufferTooSmall) {
		t.Errorf("Expected sticky ErrBufferTooSmall, got %v", dec.Err())
	}
	if dec.String() != "" {
		t.Error("Read after error returned data")
	}
}
