package capture

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/astrogo/fitsio"

	"iioboard/iio"
)

var testChannels = []Channel{
	{Name: "voltage0", Index: 0, ScanType: iio.ScanType{Sign: 'u', RealBits: 16, StorageBits: 16}, Scale: 0.5},
	{Name: "voltage1", Index: 1, ScanType: iio.ScanType{Sign: 's', RealBits: 12, StorageBits: 16, BigEndian: true}, Scale: 1, Offset: 10},
	{Name: "temp", Index: 2, ScanType: iio.ScanType{Sign: 'u', RealBits: 8, StorageBits: 8}, Scale: 2},
}

func TestNewLayout(t *testing.T) {
	l, err := NewLayout("dev", testChannels, iio.ScanMask(0x5))
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Channels) != 2 || l.Channels[0].Name != "voltage0" || l.Channels[1].Name != "temp" {
		t.Errorf("Channels = %+v", l.Channels)
	}
	if l.ScanBytes() != 3 {
		t.Errorf("ScanBytes = %d, want 3", l.ScanBytes())
	}
	if l.Scans(10) != 3 {
		t.Errorf("Scans(10) = %d", l.Scans(10))
	}

	if _, err := NewLayout("dev", testChannels, iio.ScanMask(0x8)); !errors.Is(err, iio.ErrInvalid) {
		t.Errorf("Expected ErrInvalid for an unknown channel, got %v", err)
	}
	if _, err := NewLayout("dev", testChannels, 0); !errors.Is(err, ErrEmptyLayout) {
		t.Errorf("Expected ErrEmptyLayout, got %v", err)
	}
}

func TestDecode(t *testing.T) {
	l, err := NewLayout("dev", testChannels, iio.ScanMask(0x3))
	if err != nil {
		t.Fatal(err)
	}
	// Two scans: LE 0x1234, BE 0x0FFF (-1 in 12 bits); LE 0x0001, BE 0x0800
	data := []byte{0x34, 0x12, 0x0F, 0xFF, 0x01, 0x00, 0x08, 0x00}
	codes, err := Decode(l, data)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]int32{{0x1234, 1}, {-1, -2048}}
	for i := range want {
		for j := range want[i] {
			if codes[i][j] != want[i][j] {
				t.Errorf("codes[%d][%d] = %d, want %d", i, j, codes[i][j], want[i][j])
			}
		}
	}

	phys := Physical(l, codes)
	if phys[0][0] != 0x1234*0.5 || phys[1][0] != 9 {
		t.Errorf("Physical = %v", phys)
	}

	if _, err := Decode(l, data[:5]); !errors.Is(err, ErrPartialScan) {
		t.Errorf("Expected ErrPartialScan, got %v", err)
	}
}

func TestEncode(t *testing.T) {
	l, err := NewLayout("dev", testChannels, iio.ScanMask(0x3))
	if err != nil {
		t.Fatal(err)
	}
	data, err := Encode(l, [][]int32{{0x1234, 1}, {-1, -2048}})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x34, 0x12, 0x0F, 0xFF, 0x01, 0x00, 0x08, 0x00}
	if !bytes.Equal(data, want) {
		t.Errorf("Encode = %#v, want %#v", data, want)
	}

	tests := []struct {
		name  string
		codes [][]int32
		want  error
	}{
		{"missing column", [][]int32{{1}}, iio.ErrInvalid},
		{"ragged columns", [][]int32{{1, 2}, {3}}, ErrPartialScan},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(l, tt.codes); !errors.Is(err, tt.want) {
				t.Errorf("Encode = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWriteFITS(t *testing.T) {
	l, err := NewLayout("ad469x", testChannels, iio.ScanMask(0x3))
	if err != nil {
		t.Fatal(err)
	}
	codes := [][]int32{{1, 2, 3}, {-4, -5, -6}}

	var buf bytes.Buffer
	if err := WriteFITS(&buf, l, Meta{Mode: "burst", Scans: 3}, codes); err != nil {
		t.Fatalf("WriteFITS failed: %v", err)
	}
	if buf.Len()%2880 != 0 {
		t.Errorf("FITS size %d is not a multiple of the 2880-byte block", buf.Len())
	}

	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		t.Fatal("Primary HDU is not an image")
	}
	hdr := img.Header()
	if axes := hdr.Axes(); len(axes) != 2 || axes[0] != 3 || axes[1] != 2 {
		t.Errorf("Axes = %v, want [3 2]", axes)
	}
	if c := hdr.Get("DEVICE"); c == nil || c.Value != "ad469x" {
		t.Errorf("DEVICE card = %+v", c)
	}
	if c := hdr.Get("CHNAME2"); c == nil || c.Value != "voltage1" {
		t.Errorf("CHNAME2 card = %+v", c)
	}
	if c := hdr.Get("CHSCAL1"); c == nil {
		t.Error("CHSCAL1 missing")
	} else if v, ok := c.Value.(float64); !ok || math.Abs(v-0.5) > 1e-12 {
		t.Errorf("CHSCAL1 = %v", c.Value)
	}

	// Read fills a slice sized to the image
	got := make([]int32, 6)
	if err := img.Read(&got); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := []int32{1, 2, 3, -4, -5, -6}
	if len(got) != len(want) {
		t.Fatalf("Read %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pixel %d = %d, want %d", i, got[i], want[i])
		}
	}
}
