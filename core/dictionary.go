package core

import (
	"sort"
	"sync"

	"iioboard/iio"
	"iioboard/tinycompress"
)

// Dictionary is the self-description served to the host by identify: the
// message formats with their IDs, firmware constants and every bound
// device with its channels and attribute names.
type Dictionary struct {
	mu            sync.RWMutex
	constants     map[string]interface{}
	commandReg    *CommandRegistry
	bindings      []*Binding
	version       string
	buildVersions string
	compress      bool
	cached        []byte
}

func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:     make(map[string]interface{}),
		commandReg:    cmdReg,
		version:       "iioboard",
		buildVersions: "go",
		compress:      true,
	}
}

// AddConstant exposes a named value in the config section
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = value
	d.cached = nil
}

func (d *Dictionary) addBinding(b *Binding) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings = append(d.bindings, b)
	d.cached = nil
}

func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.cached = nil
}

func (d *Dictionary) SetBuildVersions(versions string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildVersions = versions
	d.cached = nil
}

// SetCompression selects zlib framing of the served document
func (d *Dictionary) SetCompression(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.compress = on
	d.cached = nil
}

// Build renders and caches the served document
func (d *Dictionary) Build() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached == nil {
		doc := d.buildJSONLocked()
		if d.compress {
			doc = tinycompress.Compress(doc)
		}
		d.cached = doc
	}
	return d.cached
}

// JSON renders the uncompressed document
func (d *Dictionary) JSON() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.buildJSONLocked()
}

// GetChunk returns up to count bytes of the served document from offset
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Build()
	if offset >= uint32(len(data)) {
		return nil
	}
	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	return data[offset:end]
}

func (d *Dictionary) buildJSONLocked() []byte {
	out := make([]byte, 0, 2048)
	out = append(out, '{')
	out = appendJSONKey(out, "version")
	out = appendJSONString(out, d.version)
	out = append(out, ',')
	out = appendJSONKey(out, "build_versions")
	out = appendJSONString(out, d.buildVersions)

	out = append(out, ',')
	out = appendJSONKey(out, "config")
	out = append(out, '{')
	names := make([]string, 0, len(d.constants))
	for name := range d.constants {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendJSONKey(out, name)
		out = appendJSONString(out, valueToString(d.constants[name]))
	}
	out = append(out, '}')

	out = d.appendMessages(out, "commands", true)
	out = d.appendMessages(out, "responses", false)

	out = append(out, ',')
	out = appendJSONKey(out, "devices")
	out = append(out, '[')
	for i, b := range d.bindings {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendDevice(out, i, b)
	}
	out = append(out, ']', '}')
	return out
}

func (d *Dictionary) appendMessages(out []byte, key string, commands bool) []byte {
	out = append(out, ',')
	out = appendJSONKey(out, key)
	out = append(out, '{')
	first := true
	d.commandReg.Each(func(c *Command) {
		if (c.Handler != nil) != commands {
			return
		}
		if !first {
			out = append(out, ',')
		}
		first = false
		out = appendJSONKey(out, c.Signature())
		out = append(out, itoa(int(c.ID))...)
	})
	return append(out, '}')
}

func appendNames(out []byte, key string, attrs []iio.Attr) []byte {
	out = appendJSONKey(out, key)
	out = append(out, '[')
	for i, a := range attrs {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendJSONString(out, a.Name)
	}
	return append(out, ']')
}

func appendBool(out []byte, v bool) []byte {
	if v {
		return append(out, "true"...)
	}
	return append(out, "false"...)
}

func appendDevice(out []byte, index int, b *Binding) []byte {
	dev := b.Device
	out = append(out, '{')
	out = appendJSONKey(out, "name")
	out = appendJSONString(out, dev.Name)
	out = append(out, ',')
	out = appendJSONKey(out, "index")
	out = append(out, itoa(index)...)
	if dev.Registers != nil {
		out = append(out, ',')
		out = appendJSONKey(out, "register_max")
		out = append(out, utoa(dev.RegisterMax)...)
	}
	if b.Source != nil || b.Sink != nil {
		out = append(out, ',')
		out = appendJSONKey(out, "buffer")
		out = append(out, '{')
		out = appendJSONKey(out, "capacity")
		out = append(out, itoa(b.Buffer.Cap())...)
		out = append(out, ',')
		out = appendJSONKey(out, "sample_bytes")
		out = append(out, itoa(b.Config.SampleBytes)...)
		out = append(out, ',')
		out = appendJSONKey(out, "continuous")
		out = appendBool(out, b.Trigger != nil)
		out = append(out, ',')
		out = appendJSONKey(out, "output")
		out = appendBool(out, b.Sink != nil)
		out = append(out, '}')
	}
	out = append(out, ',')
	out = appendNames(out, "attrs", dev.Attrs)
	out = append(out, ',')
	out = appendNames(out, "channel_attrs", dev.ChannelAttrs)
	out = append(out, ',')
	out = appendJSONKey(out, "channels")
	out = append(out, '[')
	for i := range dev.Channels {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendChannel(out, &dev.Channels[i])
	}
	return append(out, ']', '}')
}

func appendChannel(out []byte, ch *iio.Channel) []byte {
	st := ch.ScanType
	out = append(out, '{')
	out = appendJSONKey(out, "name")
	out = appendJSONString(out, ch.Name)
	out = append(out, ',')
	out = appendJSONKey(out, "index")
	out = append(out, itoa(ch.Index)...)
	out = append(out, ',')
	out = appendJSONKey(out, "direction")
	out = appendJSONString(out, ch.Direction.String())
	out = append(out, ',')
	out = appendJSONKey(out, "scan_type")
	out = append(out, '{')
	out = appendJSONKey(out, "sign")
	out = appendJSONString(out, string(rune(st.Sign)))
	out = append(out, ',')
	out = appendJSONKey(out, "real_bits")
	out = append(out, itoa(int(st.RealBits))...)
	out = append(out, ',')
	out = appendJSONKey(out, "storage_bits")
	out = append(out, itoa(int(st.StorageBits))...)
	out = append(out, ',')
	out = appendJSONKey(out, "shift")
	out = append(out, itoa(int(st.Shift))...)
	out = append(out, ',')
	out = appendJSONKey(out, "big_endian")
	out = appendBool(out, st.BigEndian)
	out = append(out, '}')
	if ch.Attrs != nil {
		out = append(out, ',')
		out = appendNames(out, "attrs", ch.Attrs)
	}
	return append(out, '}')
}
