package sim

import "sync"

// AD5754R models the DAC's input and output registers, range, power and
// control state. A read frame selects the register shifted out on the
// following frame.
type AD5754R struct {
	mu      sync.Mutex
	input   [4]uint16
	output  [4]uint16
	ranges  [4]uint16
	power   uint16
	control uint16
	readout uint16
	echo    byte

	// Alert flags reported in the power control register
	OC  [4]bool
	TSD bool

	// Frames counts every 24-bit frame
	Frames int
	// Loads counts software LDAC commands, Pulses LDAC line pulses
	Loads  int
	Pulses int
}

// NewAD5754R returns a powered-down model
func NewAD5754R() *AD5754R {
	return &AD5754R{}
}

// Tx implements drivers.SPI
func (m *AD5754R) Tx(w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(w) != 3 {
		return nil
	}
	m.Frames++
	if len(r) >= 3 && m.control&0x1 == 0 {
		r[0] = m.echo
		r[1] = byte(m.readout >> 8)
		r[2] = byte(m.readout)
	}
	m.echo = w[0]
	reg := (w[0] >> 3) & 0x7
	addr := w[0] & 0x7
	val := uint16(w[1])<<8 | uint16(w[2])

	if w[0]&0x80 != 0 {
		m.readout = m.readReg(reg, addr)
		return nil
	}
	m.readout = 0
	switch reg {
	case 0:
		m.eachChannel(addr, func(ch int) { m.input[ch] = val })
	case 1:
		m.eachChannel(addr, func(ch int) { m.ranges[ch] = val & 0x7 })
	case 2:
		m.power = val & 0x1F
	case 3:
		switch addr {
		case 1:
			m.control = val & 0xF
		case 4:
			m.clear()
		case 5:
			m.Loads++
			m.output = m.input
		}
	}
	return nil
}

func (m *AD5754R) eachChannel(addr byte, fn func(ch int)) {
	if addr == 4 {
		for ch := 0; ch < 4; ch++ {
			fn(ch)
		}
		return
	}
	if addr < 4 {
		fn(int(addr))
	}
}

func (m *AD5754R) readReg(reg, addr byte) uint16 {
	switch reg {
	case 0:
		if addr < 4 {
			return m.input[addr]
		}
	case 1:
		if addr < 4 {
			return m.ranges[addr]
		}
	case 2:
		v := m.power
		if m.TSD {
			v |= 1 << 5
		}
		for ch, oc := range m.OC {
			if oc {
				v |= 1 << uint(7+ch)
			}
		}
		return v
	case 3:
		if addr == 1 {
			return m.control
		}
	}
	return 0
}

func (m *AD5754R) clear() {
	midscale := m.control&0x2 != 0
	for ch := range m.output {
		// Two's complement ranges clear to 0 V either way
		code := uint16(0)
		if midscale && m.ranges[ch] < 3 {
			code = 0x8000
		}
		m.output[ch] = code
	}
}

// LDAC is the LDAC line; a falling edge loads every input register to its
// output
func (m *AD5754R) LDAC(high bool) {
	if high {
		return
	}
	m.mu.Lock()
	m.Pulses++
	m.output = m.input
	m.mu.Unlock()
}

// Transfer implements drivers.SPI
func (m *AD5754R) Transfer(b byte) (byte, error) {
	return 0, nil
}

// Output returns the code driving a channel's output
func (m *AD5754R) Output(ch int) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.output[ch]
}

// Range returns a channel's range code
func (m *AD5754R) Range(ch int) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ranges[ch]
}

// Power returns the power control register as written
func (m *AD5754R) Power() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.power
}

// Control returns the control function bits
func (m *AD5754R) Control() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.control
}

// FrameCount returns the number of frames seen
func (m *AD5754R) FrameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Frames
}
