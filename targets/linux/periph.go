package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
)

const nsPerSecond = 1000000000

var (
	ErrNoPin     = errors.New("pin not found")
	ErrPWMPeriod = errors.New("pwm period not set")
)

// spiBus adapts a periph connection to drivers.SPI
type spiBus struct {
	conn spi.Conn
	port spi.PortCloser
}

// openSPI opens a spidev port with 8-bit words
func openSPI(cfg SPIConfig) (*spiBus, error) {
	port, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("spi %s: %w", cfg.Port, err)
	}
	conn, err := port.Connect(physic.Frequency(cfg.Hz)*physic.Hertz, spi.Mode(cfg.Mode), 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("spi %s: %w", cfg.Port, err)
	}
	return &spiBus{conn: conn, port: port}, nil
}

func (b *spiBus) Tx(w, r []byte) error {
	if r == nil {
		r = make([]byte, len(w))
	}
	if w == nil {
		w = make([]byte, len(r))
	}
	return b.conn.Tx(w, r)
}

func (b *spiBus) Transfer(w byte) (byte, error) {
	r := []byte{0}
	if err := b.conn.Tx([]byte{w}, r); err != nil {
		return 0, err
	}
	return r[0], nil
}

func (b *spiBus) Close() error {
	return b.port.Close()
}

func pinByName(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%s: %w", name, ErrNoPin)
	}
	return p, nil
}

// outPin drives a periph output
type outPin struct {
	pin gpio.PinOut
}

func newOutPin(p gpio.PinOut, level gpio.Level) (*outPin, error) {
	if err := p.Out(level); err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return &outPin{pin: p}, nil
}

func (o *outPin) Set(high bool) error {
	return o.pin.Out(gpio.Level(high))
}

type inPin struct {
	pin gpio.PinIn
}

func (i inPin) Get() (bool, error) {
	return bool(i.pin.Read()), nil
}

// pinPWM is hal.PWM over gpio.PinOut.PWM. The same pin serves as the
// software CNV line; Set stops the waveform before driving it.
type pinPWM struct {
	pin    gpio.PinOut
	period uint64
	duty   uint64
	on     bool
}

func (p *pinPWM) SetPeriod(ns uint64) error {
	if ns == 0 {
		return ErrPWMPeriod
	}
	p.period = ns
	if p.on {
		return p.apply()
	}
	return nil
}

func (p *pinPWM) Period() uint64 {
	return p.period
}

func (p *pinPWM) SetDutyCycle(ns uint64) error {
	p.duty = ns
	if p.on {
		return p.apply()
	}
	return nil
}

func (p *pinPWM) apply() error {
	if p.period == 0 {
		return ErrPWMPeriod
	}
	duty := gpio.Duty(uint64(gpio.DutyMax) * p.duty / p.period)
	freq := physic.Frequency(int64(physic.Hertz) * nsPerSecond / int64(p.period))
	return p.pin.PWM(duty, freq)
}

func (p *pinPWM) Enable() error {
	if err := p.apply(); err != nil {
		return err
	}
	p.on = true
	return nil
}

func (p *pinPWM) Disable() error {
	p.on = false
	if err := p.pin.Halt(); err != nil {
		return err
	}
	return p.pin.Out(gpio.Low)
}

func (p *pinPWM) Set(high bool) error {
	if p.on {
		if err := p.Disable(); err != nil {
			return err
		}
	}
	return p.pin.Out(gpio.Level(high))
}

// edgeIRQ waits for BUSY falling edges on a goroutine and runs the handler
// there. Disable waits for the goroutine, so no handler runs after it
// returns.
type edgeIRQ struct {
	pin gpio.PinIn
	// Poll bounds each WaitForEdge so Disable is noticed
	Poll time.Duration

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func (e *edgeIRQ) Enable(handler func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop != nil {
		return nil
	}
	if err := e.pin.In(gpio.PullNoChange, gpio.FallingEdge); err != nil {
		return err
	}
	poll := e.Poll
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	stop := make(chan struct{})
	e.stop = stop
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if e.pin.WaitForEdge(poll) {
				handler()
			}
		}
	}()
	return nil
}

func (e *edgeIRQ) Disable() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop == nil {
		return nil
	}
	close(e.stop)
	e.stop = nil
	e.wg.Wait()
	return e.pin.In(gpio.PullNoChange, gpio.NoEdge)
}
