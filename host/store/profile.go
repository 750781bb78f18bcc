package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"iioboard/host/log"
	"iioboard/host/mcu"
	"iioboard/iio"
)

// Board is the part of mcu.MCU a profile needs
type Board interface {
	Device(name string) (*mcu.DeviceInfo, error)
	ReadAttr(ctx context.Context, dev string, ch int, attr string) (string, error)
	WriteAttr(ctx context.Context, dev string, ch int, attr, value string) error
}

// derived attributes follow from the settable ones and are not saved
var derived = map[string]bool{"scale": true, "offset": true}

func settable(attr string, input bool) bool {
	if strings.HasSuffix(attr, "_available") || derived[attr] {
		return false
	}
	// Writing an action attribute fires it
	if strings.HasSuffix(attr, "_trigger") || strings.HasSuffix(attr, "_clear") {
		return false
	}
	// Reading an input's raw value runs a conversion
	return !(input && attr == "raw")
}

// Snapshot reads every settable attribute of device into a profile.
// Attributes that fail to read are skipped.
func Snapshot(ctx context.Context, b Board, device, name string) (Profile, error) {
	d, err := b.Device(device)
	if err != nil {
		return Profile{}, err
	}
	p := Profile{Device: device, Name: name}
	read := func(ch int, attr string) error {
		v, err := b.ReadAttr(ctx, device, ch, attr)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug("snapshot %s: skipping %s: %v", device, attr, err)
			return nil
		}
		p.Attrs = append(p.Attrs, AttrValue{Channel: ch, Attr: attr, Value: v})
		return nil
	}
	for _, c := range d.Channels {
		attrs, err := d.ChannelAttrList(c.Index)
		if err != nil {
			return Profile{}, err
		}
		for _, a := range attrs {
			if !settable(a, c.Direction != "output") {
				continue
			}
			if err := read(c.Index, a); err != nil {
				return Profile{}, err
			}
		}
	}
	for _, a := range d.Attrs {
		if !settable(a, false) {
			continue
		}
		if err := read(iio.GlobalChannel, a); err != nil {
			return Profile{}, err
		}
	}
	return p, nil
}

// Apply writes a profile to the board in its stored order. Read-only
// attributes are skipped; other failures are collected and returned
// together once every attribute has been tried.
func Apply(ctx context.Context, b Board, p Profile) error {
	var errs []error
	for _, a := range p.Attrs {
		err := b.WriteAttr(ctx, p.Device, a.Channel, a.Attr, a.Value)
		switch {
		case err == nil:
		case errors.Is(err, iio.ErrNotSupported):
			log.Debug("apply %s: %s is read-only", p.Name, a.Key())
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			errs = append(errs, fmt.Errorf("%s: %w", a.Key(), err))
		}
	}
	return errors.Join(errs...)
}
