// Package sim models the converters and board peripherals at the register
// and pin level so the firmware can run without hardware.
package sim

import (
	"sync"
	"time"
)

// Pin is a GPIO line. OnChange runs on every level transition of an output.
type Pin struct {
	mu       sync.Mutex
	level    bool
	OnChange func(high bool)

	// Toggles counts level changes
	Toggles int
}

// Set drives the line
func (p *Pin) Set(high bool) error {
	p.mu.Lock()
	changed := p.level != high
	p.level = high
	if changed {
		p.Toggles++
	}
	fn := p.OnChange
	p.mu.Unlock()
	if changed && fn != nil {
		fn(high)
	}
	return nil
}

// Get samples the line
func (p *Pin) Get() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level, nil
}

// Level returns the current line state
func (p *Pin) Level() bool {
	l, _ := p.Get()
	return l
}

// FuncPin reads its level from a callback, used for BUSY lines owned by a
// chip model
type FuncPin func() bool

// Get implements hal.InputPin
func (f FuncPin) Get() (bool, error) { return f(), nil }

// IRQ is an edge interrupt line. Fire runs the handler with the line's lock
// held so Disable cannot return while a handler is running.
type IRQ struct {
	mu      sync.Mutex
	handler func()

	// Fired counts delivered interrupts
	Fired int
}

// Enable installs the handler
func (i *IRQ) Enable(handler func()) error {
	i.mu.Lock()
	i.handler = handler
	i.mu.Unlock()
	return nil
}

// Disable removes the handler after any running invocation completes
func (i *IRQ) Disable() error {
	i.mu.Lock()
	i.handler = nil
	i.mu.Unlock()
	return nil
}

// Fire delivers one interrupt if a handler is installed
func (i *IRQ) Fire() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.handler != nil {
		i.Fired++
		i.handler()
	}
}

// PWM generates Edge calls at the programmed period while enabled. Real
// time is used unless Manual is set, in which case edges come from Tick.
type PWM struct {
	mu      sync.Mutex
	period  uint64
	duty    uint64
	enabled bool
	stop    chan struct{}
	wg      sync.WaitGroup

	// Edge runs on each rising edge
	Edge func()
	// Manual disables the ticker goroutine
	Manual bool
}

// SetPeriod sets the period in nanoseconds
func (p *PWM) SetPeriod(ns uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.period = ns
	return nil
}

// Period returns the period in nanoseconds
func (p *PWM) Period() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.period
}

// SetDutyCycle sets the high time in nanoseconds
func (p *PWM) SetDutyCycle(ns uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duty = ns
	return nil
}

// DutyCycle returns the high time in nanoseconds
func (p *PWM) DutyCycle() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

// Enabled reports whether the output is running
func (p *PWM) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Enable starts the output
func (p *PWM) Enable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		return nil
	}
	p.enabled = true
	if p.Manual || p.period == 0 {
		return nil
	}
	p.stop = make(chan struct{})
	p.wg.Add(1)
	go p.run(time.Duration(p.period), p.stop)
	return nil
}

func (p *PWM) run(period time.Duration, stop chan struct{}) {
	defer p.wg.Done()
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if p.Edge != nil {
				p.Edge()
			}
		}
	}
}

// Disable stops the output and waits for the edge goroutine to exit
func (p *PWM) Disable() error {
	p.mu.Lock()
	if !p.enabled {
		p.mu.Unlock()
		return nil
	}
	p.enabled = false
	stop := p.stop
	p.stop = nil
	p.mu.Unlock()
	if stop != nil {
		close(stop)
		p.wg.Wait()
	}
	return nil
}

// Tick produces n edges while enabled. Used with Manual.
func (p *PWM) Tick(n int) {
	for i := 0; i < n; i++ {
		if !p.Enabled() {
			return
		}
		if p.Edge != nil {
			p.Edge()
		}
	}
}
