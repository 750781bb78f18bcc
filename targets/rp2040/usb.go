//go:build rp2040

package main

import (
	"errors"
	"machine"

	"iioboard/protocol"
)

const maxWriteFailures = 10

var errUSBStalled = errors.New("usb: no write progress")

// usbLink carries firmware frames over USB CDC. After repeated failed
// writes the host is treated as gone, and the next received byte marks a
// fresh session.
type usbLink struct {
	failures     uint32
	disconnected bool
	onReconnect  func()
}

// initUSB configures machine.Serial, which is USB CDC on the RP2040. The
// descriptors come from the TinyGo runtime.
func initUSB() {
	_ = machine.Serial.Configure(machine.UARTConfig{})
}

// Write sends all of p or reports the link down
func (u *usbLink) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := machine.Serial.Write(p[written:])
		if err == nil && n == 0 {
			err = errUSBStalled
		}
		if err != nil {
			u.failures++
			if u.failures > maxWriteFailures {
				u.disconnected = true
				u.failures = 0
			}
			return written, err
		}
		written += n
	}
	u.failures = 0
	return written, nil
}

// Fill moves pending USB bytes into rx and returns the count
func (u *usbLink) Fill(rx *protocol.RxBuffer) int {
	count := 0
	for machine.Serial.Buffered() > 0 && rx.Free() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			break
		}
		if u.disconnected {
			u.disconnected = false
			rx.Reset()
			if u.onReconnect != nil {
				u.onReconnect()
			}
		}
		rx.Write([]byte{b})
		count++
	}
	return count
}
