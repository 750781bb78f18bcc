package mcu

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"iioboard/host/capture"
	"iioboard/host/log"
	"iioboard/iio"
)

// Capture modes as sent in iio_buffer_open
const (
	ModeBurst      = 0
	ModeContinuous = 1
)

const bufferReadMax = 240

// ErrNoBuffer is returned when capturing from a device without a buffer
var ErrNoBuffer = errors.New("device has no buffer")

// CaptureRequest selects what to capture
type CaptureRequest struct {
	Mode  int
	Mask  iio.ScanMask
	Scans int
	// Progress, if set, is called after every read with bytes so far
	Progress func(done, total int)
}

// CaptureResult is the raw data and its layout
type CaptureResult struct {
	Layout    capture.Layout
	Data      []byte
	ScanBytes int
	// Overrun is set when the firmware dropped samples
	Overrun bool
}

// Codes decodes the result into one raw code slice per channel
func (r *CaptureResult) Codes() ([][]int32, error) {
	return capture.Decode(r.Layout, r.Data)
}

// Meta returns the FITS header fields of the result
func (r *CaptureResult) Meta(mode int) capture.Meta {
	m := capture.Meta{Mode: "burst", Overrun: r.Overrun}
	if mode == ModeContinuous {
		m.Mode = "continuous"
	}
	if r.ScanBytes > 0 {
		m.Scans = len(r.Data) / r.ScanBytes
	}
	return m
}

// ParseMask reads a mask as a hex number ("0x3") or a list of channel
// names or indexes ("voltage0,voltage2" or "0,2")
func (d *DeviceInfo) ParseMask(s string) (iio.ScanMask, error) {
	s = strings.TrimSpace(s)
	var m iio.ScanMask
	if strings.HasPrefix(s, "0x") {
		v, err := strconv.ParseUint(s[2:], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("mask %q: %w", s, iio.ErrInvalid)
		}
		m = iio.ScanMask(v)
	} else {
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if c, ok := d.Channel(part); ok {
				m |= 1 << uint(c.Index)
				continue
			}
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= 32 {
				return 0, fmt.Errorf("channel %q: %w", part, iio.ErrInvalid)
			}
			m |= 1 << uint(idx)
		}
	}
	if !m.Valid(len(d.Channels)) {
		return 0, fmt.Errorf("mask %#x: %w", uint32(m), iio.ErrInvalid)
	}
	return m, nil
}

// Layout builds the capture layout of dev for mask, reading the scale and
// offset of every selected channel
func (m *MCU) Layout(ctx context.Context, dev string, mask iio.ScanMask) (capture.Layout, error) {
	d, err := m.Device(dev)
	if err != nil {
		return capture.Layout{}, err
	}
	channels := d.CaptureChannels()
	for i := range channels {
		if !mask.Has(channels[i].Index) {
			continue
		}
		channels[i].Scale = m.readFloat(ctx, dev, channels[i].Index, "scale", 1)
		channels[i].Offset = m.readFloat(ctx, dev, channels[i].Index, "offset", 0)
	}
	return capture.NewLayout(dev, channels, mask)
}

func (m *MCU) readFloat(ctx context.Context, dev string, ch int, attr string, def float64) float64 {
	s, err := m.ReadAttr(ctx, dev, ch, attr)
	if err != nil {
		log.Debug("%s ch%d %s: %v", dev, ch, attr, err)
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		log.Warning("%s ch%d %s=%q: %v", dev, ch, attr, s, err)
		return def
	}
	return v
}

// Capture runs one buffer session on dev and returns the collected data.
// A burst capture reads until the requested scans arrive. A continuous
// capture reads until it has req.Scans scans, then closes. When the session
// ends in an error the result holds the whole scans read before it.
func (m *MCU) Capture(ctx context.Context, dev string, req CaptureRequest) (*CaptureResult, error) {
	d, err := m.Device(dev)
	if err != nil {
		return nil, err
	}
	if d.Buffer == nil {
		return nil, fmt.Errorf("%s: %w", dev, ErrNoBuffer)
	}
	if d.Buffer.Output {
		return nil, fmt.Errorf("%s: output buffer: %w", dev, iio.ErrNotSupported)
	}
	if req.Scans <= 0 {
		return nil, fmt.Errorf("%s: %d scans: %w", dev, req.Scans, iio.ErrInvalid)
	}
	layout, err := m.Layout(ctx, dev, req.Mask)
	if err != nil {
		return nil, err
	}

	scanBytes, err := m.openBuffer(ctx, d, req)
	if err != nil {
		return nil, err
	}
	res := &CaptureResult{Layout: layout, ScanBytes: scanBytes}
	total := req.Scans * scanBytes
	res.Data = make([]byte, 0, total)

	readErr := m.collect(ctx, d, req, res, total)
	closeErr := m.closeBuffer(ctx, d)
	switch {
	case errors.Is(closeErr, iio.ErrOverflow):
		res.Overrun = true
		log.Warning("%s: capture overran, data has gaps", dev)
	case errors.Is(closeErr, iio.ErrTimeout):
		log.Warning("%s: conversion timed out", dev)
	case closeErr != nil && readErr == nil:
		readErr = closeErr
	}
	if n := len(res.Data) % scanBytes; n != 0 {
		res.Data = res.Data[:len(res.Data)-n]
	}
	return res, readErr
}

// Short reports whether err is a conversion timeout that still left whole
// scans in r. Such a result is usable as it stands.
func (r *CaptureResult) Short(err error) bool {
	return r != nil && errors.Is(err, iio.ErrTimeout) && r.ScanBytes > 0 && len(r.Data) >= r.ScanBytes
}

func (m *MCU) openBuffer(ctx context.Context, d *DeviceInfo, req CaptureRequest) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.call(ctx, "iio_buffer_status", d.Index, "iio_buffer_open",
		d.Index, req.Mode, uint32(req.Mask), req.Scans)
	if err != nil {
		return 0, err
	}
	if err := r.Status(); err != nil {
		return 0, fmt.Errorf("%s: open buffer: %w", d.Name, err)
	}
	scanBytes := int(r.Uint("scan_bytes"))
	if scanBytes == 0 {
		return 0, fmt.Errorf("%s: zero scan size: %w", d.Name, iio.ErrInvalid)
	}
	return scanBytes, nil
}

func (m *MCU) readChunk(ctx context.Context, d *DeviceInfo, count int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.call(ctx, "iio_buffer_data", d.Index, "iio_buffer_read", d.Index, count)
	if err != nil {
		return nil, err
	}
	data := r.Bytes("data")
	if len(data) == 0 {
		if err := r.Status(); err != nil {
			return nil, fmt.Errorf("%s: read buffer: %w", d.Name, err)
		}
	}
	return data, nil
}

func (m *MCU) collect(ctx context.Context, d *DeviceInfo, req CaptureRequest, res *CaptureResult, total int) error {
	var pace *rate.Limiter
	if req.Mode == ModeContinuous {
		interval := m.PollInterval
		if interval <= 0 {
			interval = time.Millisecond
		}
		pace = rate.NewLimiter(rate.Every(interval), 1)
	}
	for len(res.Data) < total {
		count := total - len(res.Data)
		if count > bufferReadMax {
			count = bufferReadMax
		}
		chunk, err := m.readChunk(ctx, d, count)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			if pace == nil {
				// Burst data is complete once a read comes back empty
				return nil
			}
			if err := pace.Wait(ctx); err != nil {
				return err
			}
			continue
		}
		res.Data = append(res.Data, chunk...)
		if req.Progress != nil {
			req.Progress(len(res.Data), total)
		}
	}
	return nil
}

func (m *MCU) closeBuffer(ctx context.Context, d *DeviceInfo) error {
	// Stopping a continuous session can take up to the conversion timeout
	ctx = context.WithoutCancel(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.call(ctx, "iio_buffer_status", d.Index, "iio_buffer_close", d.Index)
	if err != nil {
		return err
	}
	return r.Status()
}
