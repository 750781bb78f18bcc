package protocol

import "errors"

var (
	ErrInvalidVLQ     = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("buffer too small for VLQ")
)

// vlqMaxBytes is the longest encoding of a 32-bit value
const vlqMaxBytes = 5

// AppendVLQ appends v to dst, most significant group first. Values in
// [-32, 96) take one byte.
func AppendVLQ(dst []byte, v int32) []byte {
	if v < -(1<<26) || v >= 3<<26 {
		dst = append(dst, byte((v>>28)&0x7F)|0x80)
	}
	if v < -(1<<19) || v >= 3<<19 {
		dst = append(dst, byte((v>>21)&0x7F)|0x80)
	}
	if v < -(1<<12) || v >= 3<<12 {
		dst = append(dst, byte((v>>14)&0x7F)|0x80)
	}
	if v < -(1<<5) || v >= 3<<5 {
		dst = append(dst, byte((v>>7)&0x7F)|0x80)
	}
	return append(dst, byte(v&0x7F))
}

// AppendVLQBytes appends a length-prefixed byte string
func AppendVLQBytes(dst, data []byte) []byte {
	dst = AppendVLQ(dst, int32(len(data)))
	return append(dst, data...)
}

// EncodeVLQInt writes a signed VLQ
func EncodeVLQInt(output OutputBuffer, v int32) {
	var tmp [vlqMaxBytes]byte
	output.Output(AppendVLQ(tmp[:0], v))
}

// EncodeVLQUint writes an unsigned VLQ; the wire form is the same
func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// EncodeVLQBytes writes a length-prefixed byte string
func EncodeVLQBytes(output OutputBuffer, data []byte) {
	EncodeVLQUint(output, uint32(len(data)))
	output.Output(data)
}

// EncodeVLQString writes a length-prefixed string
func EncodeVLQString(output OutputBuffer, s string) {
	EncodeVLQUint(output, uint32(len(s)))
	output.Output([]byte(s))
}

// DecodeVLQInt consumes one signed VLQ from the front of data
func DecodeVLQInt(data *[]byte) (int32, error) {
	d := *data
	if len(d) == 0 {
		return 0, ErrBufferTooSmall
	}
	c := uint32(d[0])
	v := c & 0x7F
	// 0x60 in the first group marks a negative value
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F)
	}
	i := 1
	for c&0x80 != 0 {
		if i == vlqMaxBytes {
			return 0, ErrInvalidVLQ
		}
		if i == len(d) {
			return 0, ErrBufferTooSmall
		}
		c = uint32(d[i])
		i++
		v = v<<7 | c&0x7F
	}
	*data = d[i:]
	return int32(v), nil
}

// DecodeVLQUint consumes one unsigned VLQ
func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// DecodeVLQBytes consumes a length-prefixed byte string. The result aliases
// data.
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	start := *data
	n, err := DecodeVLQUint(data)
	if err != nil {
		*data = start
		return nil, err
	}
	if uint32(len(*data)) < n {
		*data = start
		return nil, ErrBufferTooSmall
	}
	b := (*data)[:n]
	*data = (*data)[n:]
	return b, nil
}

// DecodeVLQString consumes a length-prefixed string
func DecodeVLQString(data *[]byte) (string, error) {
	b, err := DecodeVLQBytes(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decoder reads the arguments of one message. The first error sticks and
// every later read returns zero values.
type Decoder struct {
	data *[]byte
	err  error
}

// NewDecoder decodes from data, advancing it as arguments are read
func NewDecoder(data *[]byte) *Decoder {
	return &Decoder{data: data}
}

func (d *Decoder) Int() int32 {
	if d.err != nil {
		return 0
	}
	v, err := DecodeVLQInt(d.data)
	d.err = err
	return v
}

func (d *Decoder) Uint() uint32 {
	return uint32(d.Int())
}

// Byte reads a %c argument
func (d *Decoder) Byte() uint8 {
	return uint8(d.Int())
}

func (d *Decoder) Bytes() []byte {
	if d.err != nil {
		return nil
	}
	b, err := DecodeVLQBytes(d.data)
	d.err = err
	return b
}

func (d *Decoder) String() string {
	return string(d.Bytes())
}

// Err returns the first decode error
func (d *Decoder) Err() error {
	return d.err
}
