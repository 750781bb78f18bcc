package iio

import (
	"errors"
	"strconv"
)

// Error kinds shared by devices, the acquisition loop and the wire protocol
var (
	ErrIO           = errors.New("peripheral i/o failure")
	ErrNoMem        = errors.New("buffer capacity exceeded")
	ErrBusy         = errors.New("device busy in conversion mode")
	ErrInvalid      = errors.New("invalid argument")
	ErrOverflow     = errors.New("buffer overflow")
	ErrNotSupported = errors.New("operation not supported")
	ErrTimeout      = errors.New("timed out")
)

// errno-style wire codes
const (
	CodeIO           int32 = -5
	CodeNoMem        int32 = -12
	CodeBusy         int32 = -16
	CodeInvalid      int32 = -22
	CodeOverflow     int32 = -75
	CodeNotSupported int32 = -95
	CodeTimeout      int32 = -110
)

var codes = []struct {
	err  error
	code int32
}{
	{ErrIO, CodeIO},
	{ErrNoMem, CodeNoMem},
	{ErrBusy, CodeBusy},
	{ErrInvalid, CodeInvalid},
	{ErrOverflow, CodeOverflow},
	{ErrNotSupported, CodeNotSupported},
	{ErrTimeout, CodeTimeout},
}

// Code maps an error to its wire status. Unknown errors report as I/O failures.
func Code(err error) int32 {
	if err == nil {
		return 0
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeIO
}

// FromCode maps a wire status back to its sentinel error
func FromCode(code int32) error {
	if code >= 0 {
		return nil
	}
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return errors.New("device error " + strconv.Itoa(int(code)))
}
