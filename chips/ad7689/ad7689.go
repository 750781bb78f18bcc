// Package ad7689 drives the AD7689/AD7682/AD7699 8-channel 16-bit PulSAR
// ADC. The chip has no register map: each 16-bit frame shifts out a result
// while shifting in the configuration for the conversion two steps ahead.
package ad7689

import (
	"strconv"
	"sync/atomic"
	"time"

	"iioboard/acquire"
	"iioboard/hal"
	"iioboard/iio"

	"tinygo.org/x/drivers"
)

// CFG word fields, 14 bits sent left-aligned in a 16-bit frame
const (
	cfgOverwrite  = 1 << 13
	cfgInccShift  = 10
	cfgInxShift   = 7
	cfgFullBW     = 1 << 6
	cfgRefShift   = 3
	cfgNoReadback = 1 << 0
	cfgFrameShift = 2

	inccBipolarCOM  = 0x2
	inccTemperature = 0x3
	inccUnipolarGND = 0x7
)

// Reference is the REF field of the CFG word
type Reference uint8

const (
	RefInternal2V5   Reference = 0x0
	RefInternal4V096 Reference = 0x1
	RefExternalTemp  Reference = 0x2
	RefExternal      Reference = 0x6
)

// Polarity of the analog inputs
type Polarity uint8

const (
	Unipolar Polarity = iota
	Bipolar
)

const (
	NumInputs   = 8
	TempChannel = NumInputs
	SampleRate  = 62500

	maxCountUnipolar = 65535
	maxCountBipolar  = 32768
	bytesPerSample   = 2

	// Conversion time including acquisition margin
	tConv = 4 * time.Microsecond

	tempSensitivity = 0.283
	roomTemperature = 25.0
)

// Config selects input type and reference
type Config struct {
	Polarity  Polarity
	Reference Reference
	// Vref in volts; derived from Reference for the internal references
	Vref float64

	Timeout time.Duration
}

// Device is one AD7689 and its CNV line
type Device struct {
	bus hal.SPI
	cnv hal.OutputPin
	cfg Config

	scale     float64
	tempScale float64

	order []int
	pos   int

	// Set by Pulse, polled by Ready
	pulsedAt time.Time

	last [NumInputs + 1]int32

	converting uint32 // atomic bool

	tx  [bytesPerSample]byte
	dev iio.Device
}

// New binds a converter to its bus and CNV pin
func New(bus hal.SPI, cnv hal.OutputPin) *Device {
	d := &Device{bus: bus, cnv: cnv, order: make([]int, 0, NumInputs+1)}
	d.dev = iio.Device{
		Name:         "ad7689",
		Channels:     channels(),
		Attrs:        globalAttrs,
		ChannelAttrs: channelAttrs,
		Handler:      d,
	}
	return d
}

// Configure applies cfg and derives the channel scales
func (d *Device) Configure(cfg Config) error {
	switch cfg.Reference {
	case RefInternal2V5:
		cfg.Vref = 2.5
	case RefInternal4V096:
		cfg.Vref = 4.096
	case RefExternal, RefExternalTemp:
		if cfg.Vref <= 0 {
			return iio.ErrInvalid
		}
	default:
		return iio.ErrInvalid
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = acquire.DefaultTimeout
	}
	d.cfg = cfg

	if cfg.Polarity == Bipolar {
		d.scale = cfg.Vref / 2 / maxCountBipolar * 1000
	} else {
		d.scale = cfg.Vref / maxCountUnipolar * 1000
	}
	// The temperature sensor reads against the internal 4.096V reference
	d.tempScale = roomTemperature / tempSensitivity * (4.096 / maxCountUnipolar * 1000)

	for i := range d.dev.Channels {
		d.dev.Channels[i].Scale = d.scale
	}
	d.dev.Channels[TempChannel].Scale = d.tempScale
	return nil
}

// IIODevice returns the descriptor served to the host
func (d *Device) IIODevice() *iio.Device {
	return &d.dev
}

// CaptureConfig returns the sample layout. Results are big-endian on the
// wire and kept that way.
func (d *Device) CaptureConfig() acquire.Config {
	return acquire.Config{
		SampleBytes: bytesPerSample,
		Timeout:     d.cfg.Timeout,
	}
}

// Pulser starts a conversion and records when it began
func (d *Device) Pulser() acquire.Pulser {
	return convStart{d}
}

// Ready reports the end of the conversion time, there is no busy line
func (d *Device) Ready() acquire.Ready {
	return convDone{d}
}

type convStart struct{ d *Device }

func (c convStart) Pulse() error {
	if err := (hal.PulsePin{Pin: c.d.cnv}).Pulse(); err != nil {
		return err
	}
	c.d.pulsedAt = time.Now()
	return nil
}

type convDone struct{ d *Device }

func (c convDone) Ready() (bool, error) {
	return time.Since(c.d.pulsedAt) >= tConv, nil
}

// Converting reports whether a capture owns the converter
func (d *Device) Converting() bool {
	return atomic.LoadUint32(&d.converting) != 0
}

// cfgWord builds the configuration that converts ch
func (d *Device) cfgWord(ch int) uint16 {
	incc := uint16(inccUnipolarGND)
	ref := uint16(d.cfg.Reference)
	inx := uint16(ch)
	switch {
	case ch == TempChannel:
		incc = inccTemperature
		ref = uint16(RefInternal4V096)
		inx = 0
	case d.cfg.Polarity == Bipolar:
		incc = inccBipolarCOM
	}
	return cfgOverwrite | incc<<cfgInccShift | inx<<cfgInxShift |
		cfgFullBW | ref<<cfgRefShift | cfgNoReadback
}

// frame shifts the result of the last conversion into p and cfg into the chip
func (d *Device) frame(cfg uint16, p []byte) error {
	w := cfg << cfgFrameShift
	d.tx[0] = byte(w >> 8)
	d.tx[1] = byte(w)
	return d.bus.Tx(d.tx[:], p)
}

// PrepareScan sets the channel order and runs the two priming conversions
// of the n+2 pipeline, so the first captured sample is the lowest channel
func (d *Device) PrepareScan(mask iio.ScanMask) error {
	if mask == 0 || !mask.Valid(len(d.dev.Channels)) {
		return iio.ErrInvalid
	}
	d.order = append(d.order[:0], mask.Channels()...)
	d.pos = 0

	var discard [bytesPerSample]byte
	for i := 0; i < 2; i++ {
		if err := d.convertAndWait(); err != nil {
			return err
		}
		if err := d.frame(d.cfgWord(d.order[i%len(d.order)]), discard[:]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) convertAndWait() error {
	if err := d.Pulser().Pulse(); err != nil {
		return err
	}
	deadline := d.pulsedAt.Add(d.cfg.Timeout)
	ready := d.Ready()
	for {
		ok, err := ready.Ready()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return iio.ErrTimeout
		}
	}
}

// EnterConversion marks the converter as owned by a capture
func (d *Device) EnterConversion() error {
	atomic.StoreUint32(&d.converting, 1)
	return nil
}

// ExitConversion releases the converter
func (d *Device) ExitConversion() error {
	atomic.StoreUint32(&d.converting, 0)
	return nil
}

// ReadSample shifts out the current result and queues the channel two
// positions ahead in the scan
func (d *Device) ReadSample(p []byte) error {
	if len(p) != bytesPerSample || len(d.order) == 0 {
		return iio.ErrInvalid
	}
	next := d.order[(d.pos+2)%len(d.order)]
	if err := d.frame(d.cfgWord(next), p); err != nil {
		return err
	}
	d.pos = (d.pos + 1) % len(d.order)
	return nil
}

// SingleConversion primes the pipeline with ch and reads one result
func (d *Device) SingleConversion(ch int) (uint16, error) {
	if ch < 0 || ch >= len(d.dev.Channels) {
		return 0, iio.ErrInvalid
	}
	if d.Converting() {
		return 0, iio.ErrBusy
	}
	if err := d.PrepareScan(iio.ScanMask(1) << uint(ch)); err != nil {
		return 0, err
	}
	if err := d.convertAndWait(); err != nil {
		return 0, err
	}
	var buf [bytesPerSample]byte
	if err := d.ReadSample(buf[:]); err != nil {
		return 0, err
	}
	code := uint16(buf[0])<<8 | uint16(buf[1])
	d.last[ch] = int32(code)
	return code, nil
}

// Update implements drivers.Sensor for voltage and temperature
func (d *Device) Update(which drivers.Measurement) error {
	if which&drivers.Voltage != 0 {
		for ch := 0; ch < NumInputs; ch++ {
			if _, err := d.SingleConversion(ch); err != nil {
				return err
			}
		}
	}
	if which&drivers.Temperature != 0 {
		if _, err := d.SingleConversion(TempChannel); err != nil {
			return err
		}
	}
	return nil
}

// Voltage returns the last converted value of an input in microvolts
func (d *Device) Voltage(ch int) int32 {
	if ch < 0 || ch >= NumInputs {
		return 0
	}
	raw := int64(d.last[ch]) + d.offsetFor(ch)
	return int32(float64(raw) * d.scale * 1000)
}

// Temperature returns the last sensor reading in milli-degrees Celsius
func (d *Device) Temperature() int32 {
	return int32(float64(d.last[TempChannel]) * d.tempScale)
}

func (d *Device) offsetFor(ch int) int64 {
	if ch == TempChannel || d.cfg.Polarity != Bipolar {
		return 0
	}
	if d.last[ch] >= maxCountBipolar {
		return -maxCountUnipolar
	}
	return 0
}

// Attribute IDs
const (
	attrRaw iio.AttrID = iota
	attrScale
	attrOffset
	attrSamplingFrequency
)

var channelAttrs = []iio.Attr{
	{Name: "raw", ID: attrRaw},
	{Name: "scale", ID: attrScale},
	{Name: "offset", ID: attrOffset},
}

var globalAttrs = []iio.Attr{
	{Name: "sampling_frequency", ID: attrSamplingFrequency},
}

var channelNames = [NumInputs + 1]string{
	"voltage0", "voltage1", "voltage2", "voltage3",
	"voltage4", "voltage5", "voltage6", "voltage7",
	"temp",
}

func channels() []iio.Channel {
	chs := make([]iio.Channel, NumInputs+1)
	for i := range chs {
		chs[i] = iio.Channel{
			Name:      channelNames[i],
			Index:     i,
			Direction: iio.Input,
			ScanType: iio.ScanType{
				Sign:        'u',
				RealBits:    16,
				StorageBits: 16,
				BigEndian:   true,
			},
		}
	}
	return chs
}

// ReadAttr implements iio.AttrHandler
func (d *Device) ReadAttr(id iio.AttrID, ch *iio.Channel) (string, error) {
	if id == attrSamplingFrequency {
		return strconv.Itoa(SampleRate), nil
	}
	if ch == nil {
		return "", iio.ErrInvalid
	}
	switch id {
	case attrRaw:
		code, err := d.SingleConversion(ch.Index)
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(uint64(code), 10), nil
	case attrScale:
		s := d.scale
		if ch.Index == TempChannel {
			s = d.tempScale
		}
		return strconv.FormatFloat(s, 'g', -1, 64), nil
	case attrOffset:
		return strconv.FormatInt(d.offsetFor(ch.Index), 10), nil
	}
	return "", iio.ErrInvalid
}

// WriteAttr implements iio.AttrHandler. Every attribute is read-only and
// writes are accepted without effect.
func (d *Device) WriteAttr(id iio.AttrID, ch *iio.Channel, value string) error {
	return nil
}

var _ drivers.Sensor = (*Device)(nil)
var _ acquire.Source = (*Device)(nil)
