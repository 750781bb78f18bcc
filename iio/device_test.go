package iio

import (
	"errors"
	"testing"
)

const (
	attrRaw AttrID = iota
	attrRate
)

type fakeHandler struct {
	lastID    AttrID
	lastCh    *Channel
	lastValue string
}

func (f *fakeHandler) ReadAttr(id AttrID, ch *Channel) (string, error) {
	f.lastID, f.lastCh = id, ch
	if ch == nil {
		return "global", nil
	}
	return ch.Name, nil
}

func (f *fakeHandler) WriteAttr(id AttrID, ch *Channel, value string) error {
	f.lastID, f.lastCh, f.lastValue = id, ch, value
	return nil
}

type fakeRegs map[uint32]uint32

func (r fakeRegs) ReadRegister(addr uint32) (uint32, error) { return r[addr], nil }
func (r fakeRegs) WriteRegister(addr, val uint32) error     { r[addr] = val; return nil }

func newTestDevice(h AttrHandler) *Device {
	st := ScanType{Sign: 'u', RealBits: 16, StorageBits: 16}
	return &Device{
		Name: "test",
		Channels: []Channel{
			{Name: "voltage0", Index: 0, ScanType: st},
			{Name: "voltage1", Index: 1, ScanType: st},
		},
		Attrs:        []Attr{{Name: "sampling_frequency", ID: attrRate}},
		ChannelAttrs: []Attr{{Name: "raw", ID: attrRaw}},
		Handler:      h,
		Registers:    fakeRegs{},
		RegisterMax:  0xFF,
	}
}

func TestDeviceAttrDispatch(t *testing.T) {
	h := &fakeHandler{}
	d := newTestDevice(h)

	if err := d.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	v, err := d.ReadAttr(1, "raw")
	if err != nil || v != "voltage1" {
		t.Errorf("ReadAttr(1, raw) = %q, %v", v, err)
	}
	if h.lastID != attrRaw || h.lastCh != &d.Channels[1] {
		t.Error("Channel attribute dispatched with wrong id or channel")
	}

	v, err = d.ReadAttr(GlobalChannel, "sampling_frequency")
	if err != nil || v != "global" || h.lastCh != nil {
		t.Errorf("Global read = %q, %v (channel %v)", v, err, h.lastCh)
	}

	if err := d.WriteAttr(0, "raw", "123\n"); err != nil {
		t.Fatalf("WriteAttr failed: %v", err)
	}
	if h.lastValue != "123" {
		t.Errorf("Trailing newline not stripped: %q", h.lastValue)
	}

	if _, err := d.ReadAttr(0, "sampling_frequency"); !errors.Is(err, ErrInvalid) {
		t.Errorf("Global attribute must not resolve on a channel, got %v", err)
	}
	if _, err := d.ReadAttr(5, "raw"); !errors.Is(err, ErrInvalid) {
		t.Errorf("Out of range channel should fail, got %v", err)
	}
}

func TestDeviceRegisters(t *testing.T) {
	d := newTestDevice(&fakeHandler{})

	if err := d.WriteRegister(0x10, 0xAB); err != nil {
		t.Fatalf("WriteRegister failed: %v", err)
	}
	if v, err := d.ReadRegister(0x10); err != nil || v != 0xAB {
		t.Errorf("ReadRegister = %#x, %v", v, err)
	}
	if _, err := d.ReadRegister(0x100); !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected ErrInvalid past RegisterMax, got %v", err)
	}

	d.Registers = nil
	if _, err := d.ReadRegister(0); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Expected ErrNotSupported, got %v", err)
	}
}

func TestDeviceScanBytes(t *testing.T) {
	d := newTestDevice(&fakeHandler{})

	if n := d.ScanBytes(0b11); n != 4 {
		t.Errorf("Expected 4 bytes per scan, got %d", n)
	}
	if n := d.ScanBytes(0b10); n != 2 {
		t.Errorf("Expected 2 bytes per scan, got %d", n)
	}
}

func TestDeviceValidateDuplicates(t *testing.T) {
	d := newTestDevice(&fakeHandler{})
	d.Channels[1].Name = "voltage0"

	if err := d.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Expected duplicate channel names to fail, got %v", err)
	}
}
