//go:build rp2040

package main

import (
	"machine"
	"time"

	"iioboard/chips/ad469x"
	"iioboard/chips/ad5754r"
	"iioboard/core"
	"iioboard/hal"
	"iioboard/iio"
	"iioboard/protocol"
	"iioboard/targets/pio"
)

// Board wiring. The ADC and DAC share spi0b; UART0 on GPIO0/1 carries
// debug output so it never mixes with USB frames.
const (
	busName = "spi0b"
	busRate = 20000000

	adcCS   = machine.GPIO5
	adcCNV  = machine.GPIO8
	adcBusy = machine.GPIO9

	dacCS   = machine.GPIO13
	dacLDAC = machine.GPIO14

	sampleRate = 500000
	bufferSize = 32768

	dacRate       = 10000
	dacBufferSize = 8192
)

var (
	// Debug counters
	msgErrors uint32
	bindFails uint32
)

func main() {
	// Disable the watchdog so a previous configuration does not persist
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	initUSB()
	initDebug()

	fw := core.New(core.Config{
		Clock:   hwClock{},
		Version: "iioboard-rp2040",
		MCU:     "rp2040",
	})

	bus, err := configureBus(busName, busRate, 0)
	if err != nil {
		core.LogError("spi " + busName + ": " + err.Error())
	} else {
		bindADC(fw, bus)
		bindDAC(fw, bus)
	}

	link := &usbLink{onReconnect: fw.Close}
	fw.SetOutput(link)
	rx := protocol.NewRxBuffer(4 * protocol.MessageLengthMax)

	for {
		step(fw, link, rx)
		// Yield to other goroutines
		time.Sleep(10 * time.Microsecond)
	}
}

// step is one pass of the loop. A panic drops the partial input and the
// loop carries on.
func step(fw *core.Firmware, link *usbLink, rx *protocol.RxBuffer) {
	defer func() {
		if r := recover(); r != nil {
			msgErrors++
			rx.Reset()
		}
	}()
	if link.Fill(rx) > 0 {
		fw.Receive(rx)
		if rx.Free() == 0 {
			core.LogWarn("receive buffer full")
			rx.Reset()
		}
	}
	fw.Poll()
	if err := fw.Flush(); err != nil {
		msgErrors++
	}
}

// cnvLine is the CNV pin as both the continuous pulse train and the
// software pulse of burst mode
type cnvLine interface {
	hal.PWM
	hal.OutputPin
}

// newCNV prefers a PIO state machine and falls back to the hardware PWM
// slice on the same pin
func newCNV(pin machine.Pin) cnvLine {
	c, err := pio.NewCNV(pin)
	if err == nil {
		return c
	}
	core.LogWarn("pio cnv: " + err.Error())
	return newSlicePWM(pin)
}

func bindADC(fw *core.Firmware, bus *machine.SPI) {
	dev, err := hal.NewSPIDevice(bus, newOutPin(adcCS, true), false)
	if err != nil {
		bindFailed("ad469x", err)
		return
	}
	cnv := newCNV(adcCNV)
	adc := ad469x.New(dev, cnv, newInPin(adcBusy), cnv)
	if err := adc.Configure(ad469x.Config{
		Reference:  ad469x.Ref5V,
		SampleRate: sampleRate,
	}); err != nil {
		bindFailed("ad469x", err)
		return
	}
	if _, err := fw.Bind(&core.Binding{
		Device:  adc.IIODevice(),
		Source:  adc,
		Pulser:  adc.Pulser(),
		Ready:   adc.Ready(),
		Trigger: &hal.PWMTrigger{PWM: cnv, IRQ: &edgeIRQ{pin: adcBusy}},
		Config:  adc.CaptureConfig(),
		Buffer:  iio.NewBuffer(bufferSize),
	}); err != nil {
		bindFailed("ad469x", err)
	}
}

func bindDAC(fw *core.Firmware, bus *machine.SPI) {
	dev, err := hal.NewSPIDevice(bus, newOutPin(dacCS, true), false)
	if err != nil {
		bindFailed("ad5754r", err)
		return
	}
	dac := ad5754r.New(dev, newOutPin(dacLDAC, true))
	if err := dac.Configure(ad5754r.Config{Range: ad5754r.RangeNeg10To10, SampleRate: dacRate}); err != nil {
		bindFailed("ad5754r", err)
		return
	}
	update := &core.TimerTrigger{Sched: fw.Scheduler()}
	if err := dac.SetPacer(update); err != nil {
		bindFailed("ad5754r", err)
		return
	}
	if _, err := fw.Bind(&core.Binding{
		Device:  dac.IIODevice(),
		Sink:    dac,
		Trigger: update,
		Config:  dac.OutputConfig(),
		Buffer:  iio.NewBuffer(dacBufferSize),
	}); err != nil {
		bindFailed("ad5754r", err)
	}
}

func bindFailed(name string, err error) {
	bindFails++
	core.LogError(name + ": " + err.Error())
}

func initDebug() {
	uart := machine.UART0
	if err := uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	}); err != nil {
		return
	}
	core.SetDebugWriter(func(line string) {
		uart.Write([]byte(line))
		uart.Write([]byte("\r\n"))
	})
}
