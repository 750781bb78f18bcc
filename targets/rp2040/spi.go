//go:build rp2040

package main

import (
	"errors"
	"machine"
)

var errSPIBus = errors.New("invalid SPI bus")

// spiBusConfig names one SPI controller and its GPIO routing
type spiBusConfig struct {
	spi  *machine.SPI // SPI0 or SPI1
	sck  machine.Pin
	mosi machine.Pin
	miso machine.Pin
}

var rp2040SPIBuses = map[string]spiBusConfig{
	"spi0a": {spi: machine.SPI0, sck: machine.GPIO2, mosi: machine.GPIO3, miso: machine.GPIO0},
	"spi0b": {spi: machine.SPI0, sck: machine.GPIO6, mosi: machine.GPIO7, miso: machine.GPIO4},
	"spi0c": {spi: machine.SPI0, sck: machine.GPIO18, mosi: machine.GPIO19, miso: machine.GPIO16},
	"spi0d": {spi: machine.SPI0, sck: machine.GPIO22, mosi: machine.GPIO23, miso: machine.GPIO20},
	"spi1a": {spi: machine.SPI1, sck: machine.GPIO10, mosi: machine.GPIO11, miso: machine.GPIO8},
	"spi1b": {spi: machine.SPI1, sck: machine.GPIO14, mosi: machine.GPIO15, miso: machine.GPIO12},
	"spi1c": {spi: machine.SPI1, sck: machine.GPIO26, mosi: machine.GPIO27, miso: machine.GPIO24},
}

// configureBus sets up a hardware SPI bus. The AD469x, AD7689 and AD5754R
// all accept mode 0 at the rates used here.
func configureBus(name string, rate uint32, mode uint8) (*machine.SPI, error) {
	bus, ok := rp2040SPIBuses[name]
	if !ok {
		return nil, errSPIBus
	}
	if mode > 3 {
		return nil, errSPIBus
	}
	err := bus.spi.Configure(machine.SPIConfig{
		Frequency: rate,
		SCK:       bus.sck,
		SDO:       bus.mosi,
		SDI:       bus.miso,
		Mode:      mode,
	})
	if err != nil {
		return nil, err
	}
	return bus.spi, nil
}
