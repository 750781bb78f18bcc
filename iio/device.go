package iio

import "strings"

// GlobalChannel selects a device's global attribute list
const GlobalChannel = -1

// RegisterAccess is the debug register interface of a chip
type RegisterAccess interface {
	ReadRegister(addr uint32) (uint32, error)
	WriteRegister(addr, val uint32) error
}

// Device is the descriptor a chip driver hands to the streaming backend
type Device struct {
	Name     string
	Channels []Channel

	// Attrs are the global attributes, ChannelAttrs are shared by every
	// channel that does not carry its own list.
	Attrs        []Attr
	ChannelAttrs []Attr

	Handler AttrHandler

	// Registers is nil when the chip has no debug register access
	Registers   RegisterAccess
	RegisterMax uint32
}

// Channel returns the channel at index i
func (d *Device) Channel(i int) (*Channel, bool) {
	if i < 0 || i >= len(d.Channels) {
		return nil, false
	}
	return &d.Channels[i], true
}

// ChannelByName looks a channel up by its name
func (d *Device) ChannelByName(name string) (*Channel, bool) {
	for i := range d.Channels {
		if d.Channels[i].Name == name {
			return &d.Channels[i], true
		}
	}
	return nil, false
}

// AttrList returns the attributes visible on a channel, or the global list
// for GlobalChannel
func (d *Device) AttrList(channel int) ([]Attr, error) {
	if channel == GlobalChannel {
		return d.Attrs, nil
	}
	ch, ok := d.Channel(channel)
	if !ok {
		return nil, ErrInvalid
	}
	if ch.Attrs != nil {
		return ch.Attrs, nil
	}
	return d.ChannelAttrs, nil
}

func (d *Device) lookup(channel int, name string) (Attr, *Channel, error) {
	list, err := d.AttrList(channel)
	if err != nil {
		return Attr{}, nil, err
	}
	var ch *Channel
	if channel != GlobalChannel {
		ch = &d.Channels[channel]
	}
	for _, a := range list {
		if a.Name == name {
			return a, ch, nil
		}
	}
	return Attr{}, nil, ErrInvalid
}

// ReadAttr reads a named attribute
func (d *Device) ReadAttr(channel int, name string) (string, error) {
	if d.Handler == nil {
		return "", ErrNotSupported
	}
	a, ch, err := d.lookup(channel, name)
	if err != nil {
		return "", err
	}
	return d.Handler.ReadAttr(a.ID, ch)
}

// WriteAttr writes a named attribute. Trailing newlines and NULs from
// text clients are stripped before dispatch.
func (d *Device) WriteAttr(channel int, name, value string) error {
	if d.Handler == nil {
		return ErrNotSupported
	}
	a, ch, err := d.lookup(channel, name)
	if err != nil {
		return err
	}
	return d.Handler.WriteAttr(a.ID, ch, strings.TrimRight(value, "\r\n\x00"))
}

// ReadRegister reads a debug register
func (d *Device) ReadRegister(addr uint32) (uint32, error) {
	if d.Registers == nil {
		return 0, ErrNotSupported
	}
	if addr > d.RegisterMax {
		return 0, ErrInvalid
	}
	return d.Registers.ReadRegister(addr)
}

// WriteRegister writes a debug register
func (d *Device) WriteRegister(addr, val uint32) error {
	if d.Registers == nil {
		return ErrNotSupported
	}
	if addr > d.RegisterMax {
		return ErrInvalid
	}
	return d.Registers.WriteRegister(addr, val)
}

// ScanBytes returns the size of one scan for the channels in mask
func (d *Device) ScanBytes(mask ScanMask) int {
	n := 0
	for i := range d.Channels {
		if mask.Has(i) {
			n += d.Channels[i].ScanType.Bytes()
		}
	}
	return n
}

// Validate checks the descriptor for duplicate names and index mismatches
func (d *Device) Validate() error {
	if len(d.Channels) > MaxChannels {
		return ErrInvalid
	}
	for i := range d.Channels {
		if d.Channels[i].Index != i {
			return ErrInvalid
		}
		for j := i + 1; j < len(d.Channels); j++ {
			if d.Channels[i].Name == d.Channels[j].Name {
				return ErrInvalid
			}
		}
	}
	if dupAttr(d.Attrs) || dupAttr(d.ChannelAttrs) {
		return ErrInvalid
	}
	return nil
}

func dupAttr(list []Attr) bool {
	for i := range list {
		for j := i + 1; j < len(list); j++ {
			if list[i].Name == list[j].Name {
				return true
			}
		}
	}
	return false
}
