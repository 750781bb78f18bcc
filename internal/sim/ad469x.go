package sim

import "sync"

// AD469x register addresses the model gives meaning to
const (
	ad469xRegDeviceType = 0x003
	ad469xRegScratch    = 0x00A
	ad469xRegVendorL    = 0x00C
	ad469xRegVendorH    = 0x00D
	ad469xRegSetup      = 0x020
	ad469xRegRefCtrl    = 0x021
	ad469xRegSeqCtrl    = 0x022
	ad469xRegSeqLB      = 0x024
	ad469xRegSeqUB      = 0x025
	ad469xRegGainIn0    = 0x0C0
	ad469xRegMax        = 0x17F
	ad469xChannels      = 16
	ad469xConvModeBit   = 1 << 2
	ad469xExitCmd       = 0xA0
)

// AD469x models an AD4696 in register and conversion mode. CNV rising edges
// convert the next channel of the standard sequencer.
type AD469x struct {
	mu         sync.Mutex
	regs       [ad469xRegMax + 1]byte
	converting bool
	seqPos     int
	result     uint16

	// Inputs are the codes each channel converts to
	Inputs [ad469xChannels]uint16
	// StuckBusy holds BUSY high forever
	StuckBusy bool
	// StallAfter, if set, holds BUSY high once that many conversions ran
	StallAfter int

	// Frames counts every SPI frame, Writes only register writes
	Frames int
	Writes int
	// Conversions lists the channel of every conversion
	Conversions []int
}

// NewAD469x returns a model at its reset state
func NewAD469x() *AD469x {
	m := &AD469x{}
	m.regs[ad469xRegDeviceType] = 0x07
	m.regs[ad469xRegVendorL] = 0x56
	m.regs[ad469xRegVendorH] = 0x04
	m.regs[ad469xRegRefCtrl] = 4 << 2
	m.regs[ad469xRegSeqCtrl] = 0x80
	m.regs[ad469xRegSeqLB] = 0xFF
	m.regs[ad469xRegSeqUB] = 0xFF
	for ch := 0; ch < ad469xChannels; ch++ {
		m.regs[ad469xRegGainIn0+2*ch+1] = 0x80
	}
	return m
}

// Tx implements drivers.SPI. Three-byte frames access registers in register
// mode. In conversion mode every frame shifts out the last result and the
// exit command returns the chip to register mode.
func (m *AD469x) Tx(w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Frames++
	if m.converting {
		if len(r) >= 2 {
			r[0] = byte(m.result >> 8)
			r[1] = byte(m.result)
		}
		if len(w) >= 1 && w[0]&0xF8 == ad469xExitCmd {
			m.converting = false
		}
		return nil
	}

	if len(w) != 3 {
		return nil
	}
	addr := int(w[0]&0x7F)<<8 | int(w[1])
	if addr > ad469xRegMax {
		return nil
	}
	if w[0]&0x80 != 0 {
		if len(r) >= 3 {
			r[2] = m.regs[addr]
		}
		return nil
	}
	m.Writes++
	switch addr {
	case ad469xRegDeviceType, ad469xRegVendorL, ad469xRegVendorH:
		// read-only
	default:
		m.regs[addr] = w[2]
	}
	if addr == ad469xRegSetup && w[2]&ad469xConvModeBit != 0 {
		m.converting = true
		m.seqPos = 0
		// The mode bit self-clears
		m.regs[addr] &^= ad469xConvModeBit
	}
	return nil
}

// Transfer implements drivers.SPI
func (m *AD469x) Transfer(b byte) (byte, error) {
	r := []byte{0}
	return r[0], m.Tx([]byte{b}, r)
}

// Convert is the CNV rising edge
func (m *AD469x) Convert() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.converting {
		return
	}
	seq := int(m.regs[ad469xRegSeqUB])<<8 | int(m.regs[ad469xRegSeqLB])
	if seq == 0 {
		seq = 1
	}
	for i := 0; i < ad469xChannels; i++ {
		ch := (m.seqPos + i) % ad469xChannels
		if seq&(1<<uint(ch)) != 0 {
			m.result = m.Inputs[ch]
			m.Conversions = append(m.Conversions, ch)
			m.seqPos = ch + 1
			break
		}
	}
	// Wrap to the lowest channel once the highest is done
	if m.seqPos >= ad469xChannels || seq>>uint(m.seqPos) == 0 {
		m.seqPos = 0
	}
}

// Busy is the BUSY line level
func (m *AD469x) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StuckBusy || (m.StallAfter > 0 && len(m.Conversions) >= m.StallAfter)
}

// Converting reports conversion mode
func (m *AD469x) Converting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.converting
}

// Register returns a register value as the chip holds it
func (m *AD469x) Register(addr int) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[addr]
}

// SetInput sets the code a channel converts to
func (m *AD469x) SetInput(ch int, code uint16) {
	m.mu.Lock()
	m.Inputs[ch] = code
	m.mu.Unlock()
}

// ResetLog clears the frame counters and conversion list
func (m *AD469x) ResetLog() {
	m.mu.Lock()
	m.Frames = 0
	m.Writes = 0
	m.Conversions = nil
	m.mu.Unlock()
}

// AD469xRig is the model with its CNV, BUSY, PWM and IRQ wired the way an
// evaluation board wires them: the PWM drives CNV and BUSY falling raises
// the interrupt.
type AD469xRig struct {
	Chip *AD469x
	CNV  *Pin
	Busy FuncPin
	PWM  *PWM
	IRQ  *IRQ
}

// NewAD469xRig builds a wired model
func NewAD469xRig() *AD469xRig {
	chip := NewAD469x()
	rig := &AD469xRig{
		Chip: chip,
		CNV:  &Pin{},
		Busy: FuncPin(chip.Busy),
		PWM:  &PWM{},
		IRQ:  &IRQ{},
	}
	rig.CNV.OnChange = func(high bool) {
		if high {
			chip.Convert()
		}
	}
	rig.PWM.Edge = func() {
		_ = rig.CNV.Set(true)
		_ = rig.CNV.Set(false)
		if !chip.Busy() {
			rig.IRQ.Fire()
		}
	}
	return rig
}
