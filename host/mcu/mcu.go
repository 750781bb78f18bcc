// Package mcu is the host client of the firmware: it retrieves the
// dictionary and exposes attribute, register and buffer access by device
// name.
package mcu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"iioboard/host/log"
	"iioboard/host/serial"
	"iioboard/iio"
	"iioboard/protocol"
)

var (
	// ErrNoDictionary is returned by calls made before RetrieveDictionary
	ErrNoDictionary = errors.New("dictionary not loaded")
	// ErrUnknownDevice is returned for a device name the board does not have
	ErrUnknownDevice = errors.New("unknown device")
	// ErrUnknownMessage is returned for a message missing from the dictionary
	ErrUnknownMessage = errors.New("unknown message")
)

// Bootstrap message IDs, fixed before the dictionary is known
const (
	identifyResponseID = 0
	identifyID         = 1
	identifyChunk      = 40
	maxIdentifyChunks  = 4096
	globalChannelWire  = 255
)

// DefaultTimeout bounds a single request when the caller's context has no
// deadline
const DefaultTimeout = 2 * time.Second

// MCU is a connection to one firmware instance. Requests are serialized;
// one is outstanding at a time.
type MCU struct {
	transport *protocol.HostTransport

	mu        sync.Mutex
	raw       []byte
	dict      *Dictionary
	commands  map[string]*Format
	responses map[uint16]*Format

	// PollInterval paces empty reads during a continuous capture
	PollInterval time.Duration
}

// New starts a client on an open link
func New(port io.ReadWriteCloser) *MCU {
	return &MCU{
		transport:    protocol.NewHostTransport(port),
		PollInterval: 5 * time.Millisecond,
	}
}

// Connect opens the serial port, retrying while it appears, and loads the
// dictionary
func Connect(ctx context.Context, cfg *serial.Config) (*MCU, error) {
	port, err := serial.OpenRetry(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := port.Flush(); err != nil {
		log.Debug("flush %s: %v", cfg.Device, err)
	}
	m := New(port)
	if err := m.RetrieveDictionary(ctx); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

// Close shuts the link down
func (m *MCU) Close() error {
	err := m.transport.Close()
	if errors.Is(err, protocol.ErrClosed) {
		return nil
	}
	return err
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}

// RetrieveDictionary reads the dictionary in chunks, inflates and parses it
func (m *MCU) RetrieveDictionary(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf bytes.Buffer
	for i := 0; i < maxIdentifyChunks; i++ {
		chunk, err := m.identify(ctx, uint32(buf.Len()))
		if err != nil {
			return fmt.Errorf("dictionary chunk at offset %d: %w", buf.Len(), err)
		}
		if len(chunk) == 0 {
			break
		}
		buf.Write(chunk)
	}
	dict, commands, responses, err := parseDictionary(buf.Bytes())
	if err != nil {
		return err
	}
	m.raw = buf.Bytes()
	m.dict = dict
	m.commands = commands
	m.responses = responses
	log.Debug("dictionary %s: %d bytes, %d devices", dict.Version, len(m.raw), len(dict.Devices))
	return nil
}

func (m *MCU) identify(ctx context.Context, offset uint32) ([]byte, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	err := m.transport.SendCommand(ctx, identifyID, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQUint(out, identifyChunk)
	})
	if err != nil {
		return nil, err
	}
	for {
		msg, err := m.transport.ReceiveResponse(ctx)
		if err != nil {
			return nil, err
		}
		payload := msg.Payload
		d := protocol.NewDecoder(&payload)
		if id := d.Uint(); id != identifyResponseID {
			continue
		}
		got := d.Uint()
		data := d.Bytes()
		if err := d.Err(); err != nil {
			return nil, err
		}
		if got != offset {
			return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, got)
		}
		return data, nil
	}
}

// Dictionary returns the parsed dictionary, nil before retrieval
func (m *MCU) Dictionary() *Dictionary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dict
}

// RawDictionary returns the dictionary as served
func (m *MCU) RawDictionary() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw
}

// Devices lists the bound devices in wire order
func (m *MCU) Devices() []DeviceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dict == nil {
		return nil
	}
	return m.dict.Devices
}

// Device looks a device up by name
func (m *MCU) Device(name string) (*DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device(name)
}

func (m *MCU) device(name string) (*DeviceInfo, error) {
	if m.dict == nil {
		return nil, ErrNoDictionary
	}
	for i := range m.dict.Devices {
		if m.dict.Devices[i].Name == name {
			return &m.dict.Devices[i], nil
		}
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnknownDevice)
}

// Response is one decoded message from the firmware
type Response struct {
	Name  string
	ints  map[string]int32
	bytes map[string][]byte
}

// Int returns an integer field
func (r *Response) Int(name string) int32 {
	return r.ints[name]
}

// Uint returns an integer field as unsigned
func (r *Response) Uint(name string) uint32 {
	return uint32(r.ints[name])
}

// Bytes returns a byte-string field
func (r *Response) Bytes(name string) []byte {
	return r.bytes[name]
}

// Status converts the status field to an error
func (r *Response) Status() error {
	return iio.FromCode(r.ints["status"])
}

func (m *MCU) decode(payload []byte) (*Response, error) {
	d := protocol.NewDecoder(&payload)
	id := uint16(d.Uint())
	if err := d.Err(); err != nil {
		return nil, err
	}
	f, ok := m.responses[id]
	if !ok {
		return nil, fmt.Errorf("response id %d: %w", id, ErrUnknownMessage)
	}
	r := &Response{Name: f.Name, ints: map[string]int32{}, bytes: map[string][]byte{}}
	for i, field := range f.Fields {
		if f.isBytes(i) {
			r.bytes[field.Name] = d.Bytes()
		} else {
			r.ints[field.Name] = d.Int()
		}
	}
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	return r, nil
}

func (m *MCU) encode(name string, args []interface{}) (*Format, []byte, error) {
	f, ok := m.commands[name]
	if !ok {
		return nil, nil, fmt.Errorf("%q: %w", name, ErrUnknownMessage)
	}
	if len(args) != len(f.Fields) {
		return nil, nil, fmt.Errorf("%s: %d arguments, want %d", name, len(args), len(f.Fields))
	}
	payload := protocol.AppendVLQ(nil, int32(f.ID))
	for i, a := range args {
		if f.isBytes(i) {
			switch v := a.(type) {
			case string:
				payload = protocol.AppendVLQBytes(payload, []byte(v))
			case []byte:
				payload = protocol.AppendVLQBytes(payload, v)
			default:
				return nil, nil, fmt.Errorf("%s %s: %T is not a byte string", name, f.Fields[i].Name, a)
			}
			continue
		}
		var v int32
		switch n := a.(type) {
		case int:
			v = int32(n)
		case int32:
			v = n
		case uint8:
			v = int32(n)
		case uint32:
			v = int32(n)
		default:
			return nil, nil, fmt.Errorf("%s %s: %T is not an integer", name, f.Fields[i].Name, a)
		}
		payload = protocol.AppendVLQ(payload, v)
	}
	return f, payload, nil
}

// Send issues a command without waiting for a response
func (m *MCU) Send(ctx context.Context, name string, args ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dict == nil {
		return ErrNoDictionary
	}
	_, payload, err := m.encode(name, args)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return m.transport.Send(ctx, payload)
}

// Call issues a command and waits for the named response whose dev field
// matches dev. Other responses are logged and dropped.
func (m *MCU) Call(ctx context.Context, reply string, dev int, name string, args ...interface{}) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.call(ctx, reply, dev, name, args...)
}

func (m *MCU) call(ctx context.Context, reply string, dev int, name string, args ...interface{}) (*Response, error) {
	if m.dict == nil {
		return nil, ErrNoDictionary
	}
	_, payload, err := m.encode(name, args)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if err := m.transport.Send(ctx, payload); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	for {
		msg, err := m.transport.ReceiveResponse(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: waiting for %s: %w", name, reply, err)
		}
		r, err := m.decode(msg.Payload)
		if err != nil {
			log.Warning("dropping response: %v", err)
			continue
		}
		if r.Name != reply || (dev >= 0 && int(r.Uint("dev")) != dev) {
			log.Debug("dropping stale %s", r.Name)
			continue
		}
		return r, nil
	}
}

func wireChannel(ch int) int {
	if ch == iio.GlobalChannel {
		return globalChannelWire
	}
	return ch
}

// ReadAttr reads an attribute; ch is iio.GlobalChannel for device
// attributes
func (m *MCU) ReadAttr(ctx context.Context, dev string, ch int, attr string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.device(dev)
	if err != nil {
		return "", err
	}
	r, err := m.call(ctx, "iio_attr_value", d.Index, "iio_attr_read", d.Index, wireChannel(ch), attr)
	if err != nil {
		return "", err
	}
	if err := r.Status(); err != nil {
		return "", fmt.Errorf("%s %s: %w", dev, attrName(ch, attr), err)
	}
	return string(r.Bytes("value")), nil
}

// WriteAttr writes an attribute
func (m *MCU) WriteAttr(ctx context.Context, dev string, ch int, attr, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.device(dev)
	if err != nil {
		return err
	}
	r, err := m.call(ctx, "iio_attr_status", d.Index, "iio_attr_write", d.Index, wireChannel(ch), attr, value)
	if err != nil {
		return err
	}
	if err := r.Status(); err != nil {
		return fmt.Errorf("%s %s=%q: %w", dev, attrName(ch, attr), value, err)
	}
	return nil
}

func attrName(ch int, attr string) string {
	if ch == iio.GlobalChannel {
		return attr
	}
	return fmt.Sprintf("ch%d/%s", ch, attr)
}

// ReadReg reads a debug register
func (m *MCU) ReadReg(ctx context.Context, dev string, addr uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.device(dev)
	if err != nil {
		return 0, err
	}
	r, err := m.call(ctx, "iio_reg_value", d.Index, "iio_reg_read", d.Index, addr)
	if err != nil {
		return 0, err
	}
	if err := r.Status(); err != nil {
		return 0, fmt.Errorf("%s reg %#x: %w", dev, addr, err)
	}
	return r.Uint("value"), nil
}

// WriteReg writes a debug register
func (m *MCU) WriteReg(ctx context.Context, dev string, addr, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.device(dev)
	if err != nil {
		return err
	}
	r, err := m.call(ctx, "iio_reg_status", d.Index, "iio_reg_write", d.Index, addr, value)
	if err != nil {
		return err
	}
	if err := r.Status(); err != nil {
		return fmt.Errorf("%s reg %#x: %w", dev, addr, err)
	}
	return nil
}

// Uptime returns the firmware's time since boot
func (m *MCU) Uptime(ctx context.Context) (time.Duration, error) {
	r, err := m.Call(ctx, "uptime", -1, "get_uptime")
	if err != nil {
		return 0, err
	}
	us := uint64(r.Uint("high"))<<32 | uint64(r.Uint("clock"))
	return time.Duration(us) * time.Microsecond, nil
}

// Status is the firmware state reported by get_config
type Status struct {
	Devices  int
	Shutdown bool
}

// Status queries get_config
func (m *MCU) Status(ctx context.Context) (Status, error) {
	r, err := m.Call(ctx, "config", -1, "get_config")
	if err != nil {
		return Status{}, err
	}
	return Status{Devices: int(r.Int("devices")), Shutdown: r.Int("is_shutdown") != 0}, nil
}

// EmergencyStop halts every capture; the firmware refuses new ones until
// the link is restarted
func (m *MCU) EmergencyStop(ctx context.Context) error {
	return m.Send(ctx, "emergency_stop")
}

// Restart resets the link sequence, which clears an emergency stop
func (m *MCU) Restart() {
	m.transport.Reset()
}
