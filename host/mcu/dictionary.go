package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"iioboard/host/capture"
	"iioboard/iio"
)

// Dictionary is the parsed self-description served by identify
type Dictionary struct {
	Version       string            `json:"version"`
	BuildVersions string            `json:"build_versions"`
	Config        map[string]string `json:"config"`
	Commands      map[string]int    `json:"commands"`
	Responses     map[string]int    `json:"responses"`
	Devices       []DeviceInfo      `json:"devices"`
}

// DeviceInfo describes one bound device
type DeviceInfo struct {
	Name         string        `json:"name"`
	Index        int           `json:"index"`
	RegisterMax  *uint32       `json:"register_max,omitempty"`
	Buffer       *BufferInfo   `json:"buffer,omitempty"`
	Attrs        []string      `json:"attrs"`
	ChannelAttrs []string      `json:"channel_attrs"`
	Channels     []ChannelInfo `json:"channels"`
}

// BufferInfo is present for devices that can capture or play samples
type BufferInfo struct {
	Capacity    int  `json:"capacity"`
	SampleBytes int  `json:"sample_bytes"`
	Continuous  bool `json:"continuous"`
	// Output buffers are written by the host and played by the device
	Output bool `json:"output"`
}

// ChannelInfo describes one channel of a device
type ChannelInfo struct {
	Name      string       `json:"name"`
	Index     int          `json:"index"`
	Direction string       `json:"direction"`
	ScanType  ScanTypeInfo `json:"scan_type"`
	Attrs     []string     `json:"attrs,omitempty"`
}

// ScanTypeInfo is the sample layout of a channel
type ScanTypeInfo struct {
	Sign        string `json:"sign"`
	RealBits    uint8  `json:"real_bits"`
	StorageBits uint8  `json:"storage_bits"`
	Shift       uint8  `json:"shift"`
	BigEndian   bool   `json:"big_endian"`
}

// ScanType converts to the iio form
func (s ScanTypeInfo) ScanType() iio.ScanType {
	st := iio.ScanType{
		Sign:        'u',
		RealBits:    s.RealBits,
		StorageBits: s.StorageBits,
		Shift:       s.Shift,
		BigEndian:   s.BigEndian,
	}
	if s.Sign == "s" {
		st.Sign = 's'
	}
	return st
}

// ChannelAttrList returns the attributes of channel ch
func (d *DeviceInfo) ChannelAttrList(ch int) ([]string, error) {
	for _, c := range d.Channels {
		if c.Index == ch {
			if c.Attrs != nil {
				return c.Attrs, nil
			}
			return d.ChannelAttrs, nil
		}
	}
	return nil, fmt.Errorf("%s: channel %d: %w", d.Name, ch, iio.ErrInvalid)
}

// Channel finds a channel by name
func (d *DeviceInfo) Channel(name string) (ChannelInfo, bool) {
	for _, c := range d.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return ChannelInfo{}, false
}

// CaptureChannels lists the channels with their scan types; scale and
// offset are left for the caller to fill
func (d *DeviceInfo) CaptureChannels() []capture.Channel {
	out := make([]capture.Channel, 0, len(d.Channels))
	for _, c := range d.Channels {
		out = append(out, capture.Channel{
			Name:     c.Name,
			Index:    c.Index,
			ScanType: c.ScanType.ScanType(),
			Scale:    1,
		})
	}
	return out
}

// Format is a message signature split into its fields
type Format struct {
	ID     uint16
	Name   string
	Fields []Field
}

// Field is one name=%x argument
type Field struct {
	Name string
	Type string
}

// parseFormat splits "name a=%c b=%*s"
func parseFormat(sig string, id int) (*Format, error) {
	parts := strings.Fields(sig)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty message signature")
	}
	f := &Format{ID: uint16(id), Name: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 || !strings.HasPrefix(kv[1], "%") {
			return nil, fmt.Errorf("%s: bad field %q", f.Name, p)
		}
		f.Fields = append(f.Fields, Field{Name: kv[0], Type: kv[1]})
	}
	return f, nil
}

func (f *Format) isBytes(i int) bool {
	return f.Fields[i].Type == "%*s" || f.Fields[i].Type == "%.*s"
}

// inflate undoes the zlib framing of a compressed dictionary
func inflate(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x78 {
		return data, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("dictionary: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("dictionary: %w", err)
	}
	return out, nil
}

func parseDictionary(raw []byte) (*Dictionary, map[string]*Format, map[uint16]*Format, error) {
	data, err := inflate(raw)
	if err != nil {
		return nil, nil, nil, err
	}
	dict := &Dictionary{}
	if err := json.Unmarshal(data, dict); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to unmarshal dictionary: %w", err)
	}
	commands := make(map[string]*Format, len(dict.Commands))
	for sig, id := range dict.Commands {
		f, err := parseFormat(sig, id)
		if err != nil {
			return nil, nil, nil, err
		}
		commands[f.Name] = f
	}
	responses := make(map[uint16]*Format, len(dict.Responses))
	for sig, id := range dict.Responses {
		f, err := parseFormat(sig, id)
		if err != nil {
			return nil, nil, nil, err
		}
		responses[f.ID] = f
	}
	sort.Slice(dict.Devices, func(i, j int) bool { return dict.Devices[i].Index < dict.Devices[j].Index })
	return dict, commands, responses, nil
}
