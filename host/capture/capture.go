// Package capture turns raw buffer bytes into per-channel samples and
// writes them out as FITS.
package capture

import (
	"errors"
	"fmt"

	"iioboard/iio"
)

var (
	// ErrPartialScan is returned when data does not hold whole scans
	ErrPartialScan = errors.New("data is not a whole number of scans")
	// ErrEmptyLayout is returned for a mask selecting no known channel
	ErrEmptyLayout = errors.New("no channels selected")
)

// Channel is one capture channel as described by the device
type Channel struct {
	Name     string
	Index    int
	ScanType iio.ScanType
	Scale    float64
	Offset   float64
}

// Layout is the ordered channel set of one capture
type Layout struct {
	Device   string
	Mask     iio.ScanMask
	Channels []Channel
}

// NewLayout selects the channels of mask, in ascending index order as they
// appear within each scan
func NewLayout(device string, channels []Channel, mask iio.ScanMask) (Layout, error) {
	l := Layout{Device: device, Mask: mask}
	for _, idx := range mask.Channels() {
		found := false
		for _, ch := range channels {
			if ch.Index == idx {
				l.Channels = append(l.Channels, ch)
				found = true
				break
			}
		}
		if !found {
			return Layout{}, fmt.Errorf("%s: channel %d: %w", device, idx, iio.ErrInvalid)
		}
	}
	if len(l.Channels) == 0 {
		return Layout{}, ErrEmptyLayout
	}
	return l, nil
}

// ScanBytes is the size of one scan
func (l Layout) ScanBytes() int {
	n := 0
	for _, ch := range l.Channels {
		n += ch.ScanType.Bytes()
	}
	return n
}

// Scans returns the number of whole scans in n bytes
func (l Layout) Scans(n int) int {
	sb := l.ScanBytes()
	if sb == 0 {
		return 0
	}
	return n / sb
}

// Decode splits data into one code slice per channel
func Decode(l Layout, data []byte) ([][]int32, error) {
	sb := l.ScanBytes()
	if sb == 0 {
		return nil, ErrEmptyLayout
	}
	if len(data)%sb != 0 {
		return nil, fmt.Errorf("%d bytes, scan of %d: %w", len(data), sb, ErrPartialScan)
	}
	scans := len(data) / sb
	out := make([][]int32, len(l.Channels))
	for i := range out {
		out[i] = make([]int32, scans)
	}
	pos := 0
	for s := 0; s < scans; s++ {
		for i, ch := range l.Channels {
			out[i][s] = ch.ScanType.Decode(data[pos:])
			pos += ch.ScanType.Bytes()
		}
	}
	return out, nil
}

// Encode lays out one code slice per channel as scans, the inverse of
// Decode. Every slice must have the same length.
func Encode(l Layout, codes [][]int32) ([]byte, error) {
	sb := l.ScanBytes()
	if sb == 0 {
		return nil, ErrEmptyLayout
	}
	if len(codes) != len(l.Channels) {
		return nil, fmt.Errorf("%d code columns for %d channels: %w", len(codes), len(l.Channels), iio.ErrInvalid)
	}
	scans := len(codes[0])
	for i, col := range codes {
		if len(col) != scans {
			return nil, fmt.Errorf("channel %s has %d codes, want %d: %w", l.Channels[i].Name, len(col), scans, ErrPartialScan)
		}
	}
	out := make([]byte, scans*sb)
	pos := 0
	for s := 0; s < scans; s++ {
		for i, ch := range l.Channels {
			ch.ScanType.Encode(out[pos:], codes[i][s])
			pos += ch.ScanType.Bytes()
		}
	}
	return out, nil
}

// Physical converts codes with each channel's offset and scale, the IIO
// (raw + offset) * scale rule
func Physical(l Layout, codes [][]int32) [][]float64 {
	out := make([][]float64, len(codes))
	for i, col := range codes {
		ch := l.Channels[i]
		out[i] = make([]float64, len(col))
		for j, raw := range col {
			out[i][j] = (float64(raw) + ch.Offset) * ch.Scale
		}
	}
	return out
}
