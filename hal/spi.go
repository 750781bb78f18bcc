package hal

// SPIDevice is a bus plus its chip select. Every Tx is one frame with CS
// asserted for its whole duration.
type SPIDevice struct {
	Bus SPI
	CS  OutputPin

	// CSActiveHigh inverts the default active-low chip select
	CSActiveHigh bool
}

// NewSPIDevice binds a bus and chip select and deasserts CS
func NewSPIDevice(bus SPI, cs OutputPin, activeHigh bool) (*SPIDevice, error) {
	d := &SPIDevice{Bus: bus, CS: cs, CSActiveHigh: activeHigh}
	if cs != nil {
		if err := cs.Set(!activeHigh); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *SPIDevice) selectChip(on bool) error {
	if d.CS == nil {
		return nil
	}
	level := on
	if !d.CSActiveHigh {
		level = !on
	}
	return d.CS.Set(level)
}

// Tx performs one framed full-duplex transfer
func (d *SPIDevice) Tx(w, r []byte) error {
	if err := d.selectChip(true); err != nil {
		return err
	}
	err := d.Bus.Tx(w, r)
	// Always release CS, but report the transfer error first
	if csErr := d.selectChip(false); csErr != nil && err == nil {
		err = csErr
	}
	return err
}

// Transfer sends a single byte as its own frame
func (d *SPIDevice) Transfer(b byte) (byte, error) {
	r := []byte{0}
	if err := d.Tx([]byte{b}, r); err != nil {
		return 0, err
	}
	return r[0], nil
}
