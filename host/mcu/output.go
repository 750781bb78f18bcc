package mcu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"iioboard/host/log"
	"iioboard/iio"
)

const bufferWriteMax = 240

// OutputRequest is a set of scans to play on an output buffer. Data holds
// whole scans laid out as the device's channels expect them.
type OutputRequest struct {
	Mode int
	Mask iio.ScanMask
	Data []byte
	// Progress, if set, is called after every write with bytes so far
	Progress func(done, total int)
}

// OutputResult reports how a played buffer went
type OutputResult struct {
	Scans int
	// Underrun is set when the device ran out of samples mid-stream
	Underrun bool
}

// Output plays req.Data on dev. Burst mode sends every scan before
// playback starts and fails when they do not fit the device's buffer;
// continuous mode keeps the buffer topped up while it plays. Output
// returns once the last scan has been played.
func (m *MCU) Output(ctx context.Context, dev string, req OutputRequest) (*OutputResult, error) {
	d, err := m.Device(dev)
	if err != nil {
		return nil, err
	}
	if d.Buffer == nil || !d.Buffer.Output {
		return nil, fmt.Errorf("%s: no output buffer: %w", dev, iio.ErrNotSupported)
	}
	perScan := req.Mask.Count() * d.Buffer.SampleBytes
	if perScan == 0 || len(req.Data) == 0 || len(req.Data)%perScan != 0 {
		return nil, fmt.Errorf("%s: %d bytes is not whole scans of %d: %w", dev, len(req.Data), perScan, iio.ErrInvalid)
	}
	scans := len(req.Data) / perScan

	scanBytes, err := m.openBuffer(ctx, d, CaptureRequest{Mode: req.Mode, Mask: req.Mask, Scans: scans})
	if err != nil {
		return nil, err
	}
	if scanBytes != perScan {
		_ = m.closeBuffer(ctx, d)
		return nil, fmt.Errorf("%s: scan size %d, want %d: %w", dev, scanBytes, perScan, iio.ErrInvalid)
	}

	res := &OutputResult{Scans: scans}
	playErr := m.play(ctx, d, req)
	closeErr := m.closeBuffer(ctx, d)
	switch {
	case errors.Is(closeErr, iio.ErrOverflow):
		res.Underrun = true
		log.Warning("%s: output ran dry, playback has gaps", dev)
	case closeErr != nil && playErr == nil:
		playErr = closeErr
	}
	return res, playErr
}

func (m *MCU) writeChunk(ctx context.Context, d *DeviceInfo, data []byte) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.call(ctx, "iio_buffer_written", d.Index, "iio_buffer_write", d.Index, data)
	if err != nil {
		return 0, 0, err
	}
	if err := r.Status(); err != nil {
		return 0, 0, fmt.Errorf("%s: write buffer: %w", d.Name, err)
	}
	return int(r.Uint("count")), int(r.Uint("pending")), nil
}

// play sends every byte and then waits for the device to drain its ring
func (m *MCU) play(ctx context.Context, d *DeviceInfo, req OutputRequest) error {
	interval := m.PollInterval
	if interval <= 0 {
		interval = time.Millisecond
	}
	pace := rate.NewLimiter(rate.Every(interval), 1)

	sent := 0
	for {
		chunk := req.Data[sent:]
		if len(chunk) > bufferWriteMax {
			chunk = chunk[:bufferWriteMax]
		}
		n, pending, err := m.writeChunk(ctx, d, chunk)
		if err != nil {
			return err
		}
		sent += n
		if n > 0 && req.Progress != nil {
			req.Progress(sent, len(req.Data))
		}
		if sent == len(req.Data) && pending == 0 {
			return nil
		}
		if n == len(chunk) && sent < len(req.Data) {
			continue
		}
		// The ring is full or draining
		if err := pace.Wait(ctx); err != nil {
			return err
		}
	}
}
