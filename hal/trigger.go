package hal

// PulsePin issues a software conversion start on a CNV line
type PulsePin struct {
	Pin OutputPin
}

// Pulse drives a single high pulse
func (p PulsePin) Pulse() error {
	if err := p.Pin.Set(true); err != nil {
		return err
	}
	return p.Pin.Set(false)
}

// PinReady reads an active-high BUSY line as a data-ready signal
type PinReady struct {
	Busy InputPin
}

// Ready reports true once BUSY has dropped
func (p PinReady) Ready() (bool, error) {
	busy, err := p.Busy.Get()
	if err != nil {
		return false, err
	}
	return !busy, nil
}

// PWMTrigger paces continuous conversions with a PWM on CNV and takes the
// end-of-conversion interrupt as the sampling step
type PWMTrigger struct {
	PWM PWM
	IRQ IRQ
}

// Start enables the interrupt before the first CNV edge can occur
func (t *PWMTrigger) Start(handler func()) error {
	if err := t.IRQ.Enable(handler); err != nil {
		return err
	}
	if err := t.PWM.Enable(); err != nil {
		_ = t.IRQ.Disable()
		return err
	}
	return nil
}

// Stop halts CNV and waits out any running handler
func (t *PWMTrigger) Stop() error {
	pwmErr := t.PWM.Disable()
	if err := t.IRQ.Disable(); err != nil {
		return err
	}
	return pwmErr
}
