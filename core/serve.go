//go:build !tinygo

package core

import (
	"context"
	"errors"
	"io"
	"time"

	"iioboard/protocol"
)

// DefaultPollInterval paces Poll when Serve is idle
const DefaultPollInterval = time.Millisecond

// Serve runs the firmware loop over a byte stream until ctx is done or the
// stream fails. Reads happen on their own goroutine; frames are parsed,
// timers dispatched and output flushed on the caller's.
func (f *Firmware) Serve(ctx context.Context, rw io.ReadWriter, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	f.SetOutput(rw)
	defer f.Close()

	type chunk struct {
		data []byte
		err  error
	}
	chunks := make(chan chunk, 8)
	go func() {
		for {
			buf := make([]byte, protocol.MessageLengthMax)
			n, err := rw.Read(buf)
			select {
			case chunks <- chunk{buf[:n], err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	rx := protocol.NewRxBuffer(4 * protocol.MessageLengthMax)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var readErr error
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-chunks:
			data := c.data
			for len(data) > 0 {
				n := rx.Write(data)
				data = data[n:]
				f.Receive(rx)
				if n == 0 {
					// No frame fits; drop what cannot be parsed
					LogWarn("receive buffer full")
					rx.Reset()
				}
			}
			readErr = c.err
		case <-ticker.C:
		}
		f.Poll()
		if err := f.Flush(); err != nil {
			return err
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}
