package sim

import "sync"

const (
	ad7689Overwrite = 1 << 13
	ad7689InccTemp  = 0x3
	ad7689Temp      = 8
)

// AD7689 models the CFG pipeline: a CFG shifted in during one frame takes
// effect for the conversion after the next one.
type AD7689 struct {
	mu     sync.Mutex
	latest uint16
	prev   uint16
	result uint16

	// Inputs are the codes each input converts to
	Inputs [8]uint16
	// TempCode is the temperature sensor output
	TempCode uint16

	// Conversions lists the channel of every conversion, 8 for the sensor
	Conversions []int
	Frames      int
}

// NewAD7689 returns a model with an empty pipeline
func NewAD7689() *AD7689 {
	return &AD7689{}
}

// Tx implements drivers.SPI for 16-bit frames
func (m *AD7689) Tx(w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(r) >= 2 {
		r[0] = byte(m.result >> 8)
		r[1] = byte(m.result)
	}
	if len(w) < 2 {
		return nil
	}
	m.Frames++
	cfg := (uint16(w[0])<<8 | uint16(w[1])) >> 2
	if cfg&ad7689Overwrite != 0 {
		m.prev = m.latest
		m.latest = cfg
	}
	return nil
}

// Transfer implements drivers.SPI
func (m *AD7689) Transfer(b byte) (byte, error) {
	return 0, nil
}

// Convert is the CNV rising edge
func (m *AD7689) Convert() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.prev
	if (cfg>>10)&0x7 == ad7689InccTemp {
		m.result = m.TempCode
		m.Conversions = append(m.Conversions, ad7689Temp)
		return
	}
	ch := int(cfg>>7) & 0x7
	m.result = m.Inputs[ch]
	m.Conversions = append(m.Conversions, ch)
}

// SetInput sets the code an input converts to
func (m *AD7689) SetInput(ch int, code uint16) {
	m.mu.Lock()
	m.Inputs[ch] = code
	m.mu.Unlock()
}

// ConversionLog returns a copy of the conversion channel list
func (m *AD7689) ConversionLog() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.Conversions...)
}

// AD7689Rig wires the model to its CNV line
type AD7689Rig struct {
	Chip *AD7689
	CNV  *Pin
}

// NewAD7689Rig builds a wired model
func NewAD7689Rig() *AD7689Rig {
	chip := NewAD7689()
	rig := &AD7689Rig{Chip: chip, CNV: &Pin{}}
	rig.CNV.OnChange = func(high bool) {
		if high {
			chip.Convert()
		}
	}
	return rig
}
