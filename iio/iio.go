// Package iio describes data converters in terms of the Industrial I/O model:
// devices expose channels, channels carry a scan type and named attributes,
// and captured samples are staged in a fixed ring buffer before being
// streamed to the host.
package iio

// Direction of a channel relative to the board
type Direction uint8

const (
	Input  Direction = 0
	Output Direction = 1
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// ScanType describes how one sample of a channel is laid out in the buffer
type ScanType struct {
	Sign        byte // 's' or 'u'
	RealBits    uint8
	StorageBits uint8
	Shift       uint8
	BigEndian   bool
}

// Bytes returns the number of storage bytes per sample
func (s ScanType) Bytes() int {
	return int(s.StorageBits+7) / 8
}

// Decode converts one stored sample into its signed code value.
// p must hold at least Bytes() bytes.
func (s ScanType) Decode(p []byte) int32 {
	n := s.Bytes()
	var v uint32
	if s.BigEndian {
		for i := 0; i < n; i++ {
			v = v<<8 | uint32(p[i])
		}
	} else {
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | uint32(p[i])
		}
	}
	v >>= s.Shift
	if s.RealBits < 32 {
		v &= (1 << s.RealBits) - 1
	}
	if s.Sign == 's' && s.RealBits > 0 && s.RealBits < 32 && v&(1<<(s.RealBits-1)) != 0 {
		v |= ^uint32(0) << s.RealBits
	}
	return int32(v)
}

// Encode stores code v into p, the inverse of Decode for codes that fit
// RealBits. p must hold at least Bytes() bytes.
func (s ScanType) Encode(p []byte, v int32) {
	u := uint32(v)
	if s.RealBits < 32 {
		u &= (1 << s.RealBits) - 1
	}
	u <<= s.Shift
	n := s.Bytes()
	for i := 0; i < n; i++ {
		b := byte(u >> (8 * uint(i)))
		if s.BigEndian {
			p[n-1-i] = b
		} else {
			p[i] = b
		}
	}
}

// Channel is one input or output of a device.
// Index is both the position in Device.Channels and the scan mask bit.
type Channel struct {
	Name      string
	Index     int
	Direction Direction
	ScanType  ScanType

	// Default conversion: physical = (raw + Offset) * Scale
	Scale  float64
	Offset int64

	// Attrs overrides the device's shared channel attribute list when set
	Attrs []Attr
}

// Physical applies the channel's default conversion to a raw code
func (c *Channel) Physical(raw int32) float64 {
	return (float64(raw) + float64(c.Offset)) * c.Scale
}
