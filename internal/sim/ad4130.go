package sim

import "sync"

// AD4130 register addresses the model gives meaning to
const (
	ad4130RegStatus   = 0x00
	ad4130RegControl  = 0x01
	ad4130RegData     = 0x02
	ad4130RegID       = 0x05
	ad4130RegChannel0 = 0x09
	ad4130RegConfig0  = 0x19
	ad4130RegFilter0  = 0x21
	ad4130RegOffset0  = 0x29
	ad4130RegGain0    = 0x31
	ad4130RegMisc     = 0x39
	ad4130RegFIFOData = 0x3D
	ad4130Channels    = 16
	ad4130Setups      = 8
	ad4130Enable      = 1 << 23
	ad4130ModeMask    = 0xF << 2
	ad4130GainReset   = 0x555555
)

// AD4130 operating modes
const (
	ad4130Continuous = iota
	ad4130Single
	ad4130Standby
	ad4130PowerDown
	ad4130Idle
	ad4130IntOffsetCal
	ad4130IntGainCal
	ad4130SysOffsetCal
	ad4130SysGainCal
)

func ad4130RegSize(addr int) int {
	switch {
	case addr == ad4130RegStatus || addr == ad4130RegID || addr == 0x08 || addr == 0x3B:
		return 1
	case addr >= ad4130RegChannel0 && addr < ad4130RegConfig0:
		return 3
	case addr >= ad4130RegConfig0 && addr < ad4130RegFilter0:
		return 2
	case addr >= ad4130RegFilter0 && addr < ad4130RegMisc:
		return 3
	case addr == ad4130RegData || addr == 0x3A || addr == 0x3C || addr == ad4130RegFIFOData:
		return 3
	case addr <= ad4130RegMisc:
		return 2
	}
	return 0
}

// AD4130 models an AD4130-8 behind its SPI communications register.
// Continuous mode converts the enabled channels lowest first and always has
// the next result ready once DATA is read. Calibration modes load the
// coefficient fields below into the setup of the lowest enabled channel and
// drop to idle.
type AD4130 struct {
	mu      sync.Mutex
	regs    [ad4130RegFIFOData + 1]uint32
	pending bool
	active  int
	seqPos  int
	result  uint32

	// Inputs are the codes each channel converts to
	Inputs [ad4130Channels]uint32
	// Coefficients that calibration settles on
	IntOffset, IntGain uint32
	SysOffset, SysGain uint32
	// FailCalibration leaves the coefficients untouched
	FailCalibration bool
	// Stuck never signals a finished conversion
	Stuck bool

	Frames      int
	Conversions []int
}

// NewAD4130 returns a model at its reset state
func NewAD4130() *AD4130 {
	m := &AD4130{
		IntOffset: 0x800010,
		IntGain:   0x555400,
		SysOffset: 0x7FFFF0,
		SysGain:   0x555800,
	}
	m.regs[ad4130RegStatus] = 0x80
	m.regs[ad4130RegID] = 0x04
	m.regs[ad4130RegControl] = ad4130Standby << 2
	m.regs[ad4130RegChannel0] = ad4130Enable
	for s := 0; s < ad4130Setups; s++ {
		m.regs[ad4130RegFilter0+s] = 0x30
		m.regs[ad4130RegOffset0+s] = 0x800000
		m.regs[ad4130RegGain0+s] = ad4130GainReset
	}
	return m
}

// Tx implements drivers.SPI. The first byte is the communications
// register, the rest is the register value MSB first.
func (m *AD4130) Tx(w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Frames++
	if len(w) == 0 || w[0]&0x80 != 0 {
		return nil
	}
	addr := int(w[0] & 0x3F)
	n := ad4130RegSize(addr)
	if n == 0 || len(w) < 1+n {
		return nil
	}
	if w[0]&0x40 != 0 {
		v := m.read(addr)
		for i := 0; i < n && 1+i < len(r); i++ {
			r[1+i] = byte(v >> (8 * uint(n-1-i)))
		}
		return nil
	}
	var v uint32
	for i := 0; i < n; i++ {
		v = v<<8 | uint32(w[1+i])
	}
	m.write(addr, v)
	return nil
}

// Transfer implements drivers.SPI
func (m *AD4130) Transfer(b byte) (byte, error) {
	return 0, nil
}

func (m *AD4130) read(addr int) uint32 {
	switch addr {
	case ad4130RegStatus:
		v := uint32(m.active)
		if !m.pending {
			v |= 0x80
		}
		return v
	case ad4130RegData:
		v := m.result
		m.pending = false
		if m.mode() == ad4130Continuous {
			m.convert()
		}
		return v
	}
	return m.regs[addr]
}

func (m *AD4130) write(addr int, v uint32) {
	switch addr {
	case ad4130RegStatus, ad4130RegData, ad4130RegID:
		return
	}
	m.regs[addr] = v
	if addr != ad4130RegControl {
		return
	}
	switch m.mode() {
	case ad4130Continuous:
		m.seqPos = 0
		m.convert()
	case ad4130Single:
		m.seqPos = 0
		m.convert()
		m.setMode(ad4130Standby)
	case ad4130IntOffsetCal, ad4130IntGainCal, ad4130SysOffsetCal, ad4130SysGainCal:
		m.calibrate(m.mode())
		m.setMode(ad4130Idle)
	default:
		m.pending = false
	}
}

func (m *AD4130) mode() int {
	return int(m.regs[ad4130RegControl]&ad4130ModeMask) >> 2
}

func (m *AD4130) setMode(mode int) {
	m.regs[ad4130RegControl] = m.regs[ad4130RegControl]&^ad4130ModeMask | uint32(mode)<<2
}

// convert takes the next enabled channel from the sequencer position
func (m *AD4130) convert() {
	if m.Stuck {
		return
	}
	for i := 0; i < ad4130Channels; i++ {
		ch := (m.seqPos + i) % ad4130Channels
		if m.regs[ad4130RegChannel0+ch]&ad4130Enable != 0 {
			m.result = m.Inputs[ch]
			m.active = ch
			m.pending = true
			m.seqPos = (ch + 1) % ad4130Channels
			m.Conversions = append(m.Conversions, ch)
			return
		}
	}
}

func (m *AD4130) calibrate(mode int) {
	if m.FailCalibration {
		return
	}
	setup := -1
	for ch := 0; ch < ad4130Channels; ch++ {
		if reg := m.regs[ad4130RegChannel0+ch]; reg&ad4130Enable != 0 {
			setup = int(reg>>20) & 0x7
			break
		}
	}
	if setup < 0 {
		return
	}
	switch mode {
	case ad4130IntOffsetCal:
		m.regs[ad4130RegOffset0+setup] = m.IntOffset
	case ad4130IntGainCal:
		m.regs[ad4130RegGain0+setup] = m.IntGain
	case ad4130SysOffsetCal:
		m.regs[ad4130RegOffset0+setup] = m.SysOffset
	case ad4130SysGainCal:
		m.regs[ad4130RegGain0+setup] = m.SysGain
	}
}

// Register returns a register value as the chip holds it
func (m *AD4130) Register(addr int) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[addr]
}

// SetInput sets the code a channel converts to
func (m *AD4130) SetInput(ch int, code uint32) {
	m.mu.Lock()
	m.Inputs[ch] = code & 0xFFFFFF
	m.mu.Unlock()
}

// ConversionLog returns a copy of the conversion channel list
func (m *AD4130) ConversionLog() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.Conversions...)
}
