package core

import (
	"errors"

	"iioboard/iio"
	"iioboard/protocol"
)

const (
	// maxBufferData is the largest iio_buffer_data payload
	maxBufferData = 240
	// maxIdentifyChunk bounds identify_response data
	maxIdentifyChunk = 200
	// maxAttrValue bounds attribute strings in either direction
	maxAttrValue = 200
)

// registerCommands installs the command set. identify_response and
// identify must stay IDs 0 and 1.
func (f *Firmware) registerCommands() {
	r := f.registry
	f.ids.identify = r.RegisterResponse("identify_response", "offset=%u data=%*s")
	r.Register("identify", "offset=%u count=%c", f.handleIdentify)

	r.Register("get_uptime", "", f.handleGetUptime)
	r.Register("get_config", "", f.handleGetConfig)
	r.Register("emergency_stop", "", f.handleEmergencyStop)

	r.Register("iio_attr_read", "dev=%c chan=%c attr=%*s", f.handleAttrRead)
	r.Register("iio_attr_write", "dev=%c chan=%c attr=%*s value=%*s", f.handleAttrWrite)
	r.Register("iio_reg_read", "dev=%c addr=%u", f.handleRegRead)
	r.Register("iio_reg_write", "dev=%c addr=%u value=%u", f.handleRegWrite)
	r.Register("iio_buffer_open", "dev=%c mode=%c mask=%u scans=%u", f.handleBufferOpen)
	r.Register("iio_buffer_read", "dev=%c count=%c", f.handleBufferRead)
	r.Register("iio_buffer_close", "dev=%c", f.handleBufferClose)
	r.Register("iio_buffer_write", "dev=%c data=%*s", f.handleBufferWrite)

	f.ids.uptime = r.RegisterResponse("uptime", "high=%u clock=%u")
	f.ids.config = r.RegisterResponse("config", "devices=%c is_shutdown=%c")
	f.ids.attrValue = r.RegisterResponse("iio_attr_value", "dev=%c status=%i value=%*s")
	f.ids.attrStatus = r.RegisterResponse("iio_attr_status", "dev=%c status=%i")
	f.ids.regValue = r.RegisterResponse("iio_reg_value", "dev=%c status=%i value=%u")
	f.ids.regStatus = r.RegisterResponse("iio_reg_status", "dev=%c status=%i")
	f.ids.bufferStatus = r.RegisterResponse("iio_buffer_status", "dev=%c status=%i scan_bytes=%u")
	f.ids.bufferData = r.RegisterResponse("iio_buffer_data", "dev=%c status=%i data=%*s")
	f.ids.bufferWrote = r.RegisterResponse("iio_buffer_written", "dev=%c status=%i count=%u pending=%u")
}

func (f *Firmware) handleIdentify(data *[]byte) error {
	d := protocol.NewDecoder(data)
	offset := d.Uint()
	count := d.Byte()
	if err := d.Err(); err != nil {
		return err
	}
	if count > maxIdentifyChunk {
		count = maxIdentifyChunk
	}
	chunk := f.dict.GetChunk(offset, count)
	f.transport.SendCommand(f.ids.identify, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQBytes(out, chunk)
	})
	return nil
}

func (f *Firmware) handleGetUptime(data *[]byte) error {
	up := f.clock.Uptime()
	f.transport.SendCommand(f.ids.uptime, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(up>>32))
		protocol.EncodeVLQUint(out, uint32(up))
	})
	return nil
}

func (f *Firmware) handleGetConfig(data *[]byte) error {
	var shutdown uint32
	if f.shutdown {
		shutdown = 1
	}
	f.transport.SendCommand(f.ids.config, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(len(f.bindings)))
		protocol.EncodeVLQUint(out, shutdown)
	})
	return nil
}

// handleEmergencyStop halts every session and refuses new ones until the
// host restarts its sequence
func (f *Firmware) handleEmergencyStop(data *[]byte) error {
	f.abortAll()
	f.shutdown = true
	RecordEvent(EvtEmergency, 0, f.clock.Now(), 0)
	LogError("emergency stop")
	DumpEvents()
	return nil
}

func wireChannel(ch uint8) int {
	if ch == GlobalChannelWire {
		return iio.GlobalChannel
	}
	return int(ch)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func (f *Firmware) handleAttrRead(data *[]byte) error {
	d := protocol.NewDecoder(data)
	dev := d.Byte()
	ch := d.Byte()
	name := d.String()
	if err := d.Err(); err != nil {
		return err
	}
	var value string
	err := iio.ErrInvalid
	if b, ok := f.Binding(dev); ok {
		value, err = b.Device.ReadAttr(wireChannel(ch), name)
	}
	value = truncate(value, maxAttrValue)
	f.transport.SendCommand(f.ids.attrValue, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(dev))
		protocol.EncodeVLQInt(out, iio.Code(err))
		protocol.EncodeVLQString(out, value)
	})
	return nil
}

func (f *Firmware) handleAttrWrite(data *[]byte) error {
	d := protocol.NewDecoder(data)
	dev := d.Byte()
	ch := d.Byte()
	name := d.String()
	value := d.String()
	if err := d.Err(); err != nil {
		return err
	}
	err := iio.ErrInvalid
	if b, ok := f.Binding(dev); ok {
		err = b.Device.WriteAttr(wireChannel(ch), name, truncate(value, maxAttrValue))
	}
	f.sendStatus(f.ids.attrStatus, dev, err)
	return nil
}

func (f *Firmware) handleRegRead(data *[]byte) error {
	d := protocol.NewDecoder(data)
	dev := d.Byte()
	addr := d.Uint()
	if err := d.Err(); err != nil {
		return err
	}
	var value uint32
	err := iio.ErrInvalid
	if b, ok := f.Binding(dev); ok {
		value, err = b.Device.ReadRegister(addr)
	}
	f.transport.SendCommand(f.ids.regValue, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(dev))
		protocol.EncodeVLQInt(out, iio.Code(err))
		protocol.EncodeVLQUint(out, value)
	})
	return nil
}

func (f *Firmware) handleRegWrite(data *[]byte) error {
	d := protocol.NewDecoder(data)
	dev := d.Byte()
	addr := d.Uint()
	value := d.Uint()
	if err := d.Err(); err != nil {
		return err
	}
	err := iio.ErrInvalid
	if b, ok := f.Binding(dev); ok {
		err = b.Device.WriteRegister(addr, value)
	}
	f.sendStatus(f.ids.regStatus, dev, err)
	return nil
}

func (f *Firmware) sendStatus(id uint16, dev uint8, err error) {
	f.transport.SendCommand(id, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(dev))
		protocol.EncodeVLQInt(out, iio.Code(err))
	})
}

func (f *Firmware) sendBufferStatus(dev uint8, err error, scanBytes int) {
	f.transport.SendCommand(f.ids.bufferStatus, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(dev))
		protocol.EncodeVLQInt(out, iio.Code(err))
		protocol.EncodeVLQUint(out, uint32(scanBytes))
	})
}

func (f *Firmware) handleBufferOpen(data *[]byte) error {
	d := protocol.NewDecoder(data)
	dev := d.Byte()
	mode := d.Byte()
	mask := iio.ScanMask(d.Uint())
	scans := d.Uint()
	if err := d.Err(); err != nil {
		return err
	}
	b, ok := f.Binding(dev)
	if !ok {
		f.sendBufferStatus(dev, iio.ErrInvalid, 0)
		return nil
	}
	scanBytes, err := f.openBuffer(b, mode, mask, int(scans))
	if err != nil {
		LogWarn("buffer open " + b.Device.Name + ": " + err.Error())
		scanBytes = 0
	} else {
		RecordEvent(EvtBufferOpen, dev, f.clock.Now(), uint32(mask))
	}
	f.sendBufferStatus(dev, err, scanBytes)
	return nil
}

func (f *Firmware) openBuffer(b *Binding, mode uint8, mask iio.ScanMask, scans int) (int, error) {
	if !mask.Valid(len(b.Device.Channels)) || mode > ModeContinuous {
		return 0, iio.ErrInvalid
	}
	if b.stream != nil {
		return f.openStream(b, mode, mask, scans)
	}
	if b.session == nil || (mode == ModeContinuous && b.Trigger == nil) {
		return 0, iio.ErrNotSupported
	}
	if f.shutdown || b.state != stateClosed {
		return 0, iio.ErrBusy
	}
	scanBytes := mask.Count() * b.Config.SampleBytes
	b.mask = mask
	b.mode = mode
	b.scanBytes = scanBytes
	b.sticky = nil

	if mode == ModeBurst {
		if scans <= 0 {
			return 0, iio.ErrInvalid
		}
		if scans*scanBytes > b.Buffer.Cap() {
			return 0, iio.ErrNoMem
		}
		b.scans = scans
		b.state = stateBurstPending
		return scanBytes, nil
	}

	if err := b.session.StartContinuous(mask, b.Trigger); err != nil {
		return 0, err
	}
	b.state = stateOpen
	return scanBytes, nil
}

// openStream starts an output session. Burst mode holds every scan in the
// ring before playback; continuous mode streams through it.
func (f *Firmware) openStream(b *Binding, mode uint8, mask iio.ScanMask, scans int) (int, error) {
	if b.Trigger == nil {
		return 0, iio.ErrNotSupported
	}
	if f.shutdown || b.state != stateClosed {
		return 0, iio.ErrBusy
	}
	if err := b.stream.Open(mask, scans, mode == ModeBurst, b.Trigger); err != nil {
		return 0, err
	}
	b.mask = mask
	b.mode = mode
	b.scans = scans
	b.scanBytes = mask.Count() * b.Config.SampleBytes
	b.sticky = nil
	b.state = stateOpen
	return b.scanBytes, nil
}

// finishStream disarms an output stream that has played its last scan or
// failed; the outcome is kept for the close
func (f *Firmware) finishStream(b *Binding) {
	err := b.stream.Stop()
	if err == nil && b.stream.Underruns() > 0 {
		err = iio.ErrOverflow
	}
	now := f.clock.Now()
	if n := b.stream.Underruns(); n > 0 {
		RecordEvent(EvtOverrun, b.index, now, uint32(n))
	}
	RecordEvent(EvtStreamDone, b.index, now, uint32(b.stream.Played()))
	b.sticky = err
	b.state = stateDrained
}

// handleBufferWrite queues output samples. The reply carries how many
// bytes were taken and how many wait to be played.
func (f *Firmware) handleBufferWrite(data *[]byte) error {
	d := protocol.NewDecoder(data)
	dev := d.Byte()
	payload := d.Bytes()
	if err := d.Err(); err != nil {
		return err
	}

	var n, pending int
	var status error
	b, ok := f.Binding(dev)
	switch {
	case !ok || b.state == stateClosed:
		status = iio.ErrInvalid
	case b.stream == nil:
		status = iio.ErrNotSupported
	default:
		if len(payload) > 0 && b.state == stateOpen && !b.stream.Done() {
			n, status = b.stream.Write(payload)
		}
		if status == nil && b.stream.Done() {
			status = b.stream.Err()
		}
		pending = b.stream.Pending()
	}
	f.transport.SendCommand(f.ids.bufferWrote, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(dev))
		protocol.EncodeVLQInt(out, iio.Code(status))
		protocol.EncodeVLQUint(out, uint32(n))
		protocol.EncodeVLQUint(out, uint32(pending))
	})
	return nil
}

// runBurst captures the pending burst; a failure sticks to the session
// until it is closed
func (f *Firmware) runBurst(b *Binding) {
	n, err := b.session.Burst(b.mask, b.scans, b.Pulser, b.Ready)
	b.state = stateOpen
	if err != nil {
		b.sticky = err
		kind := uint8(EvtBurstDone)
		if errors.Is(err, iio.ErrTimeout) {
			kind = EvtBurstTimeout
		}
		RecordEvent(kind, b.index, f.clock.Now(), uint32(n))
		LogWarn("burst " + b.Device.Name + ": " + err.Error() + " after " + itoa(n) + " samples")
		return
	}
	RecordEvent(EvtBurstDone, b.index, f.clock.Now(), uint32(n))
}

func (f *Firmware) handleBufferRead(data *[]byte) error {
	d := protocol.NewDecoder(data)
	dev := d.Byte()
	count := int(d.Byte())
	if err := d.Err(); err != nil {
		return err
	}

	var chunk []byte
	var status error
	b, ok := f.Binding(dev)
	switch {
	case !ok:
		status = iio.ErrInvalid
	case b.state == stateClosed:
		status = iio.ErrInvalid
	case b.stream != nil:
		status = iio.ErrNotSupported
	default:
		if b.state == stateBurstPending {
			f.runBurst(b)
		}
		chunk = f.readChunk(b, count)
		if len(chunk) == 0 {
			status = b.sticky
			if status == nil && b.mode == ModeContinuous && b.session.Done() {
				status = b.session.Err()
			}
		}
	}
	f.transport.SendCommand(f.ids.bufferData, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(dev))
		protocol.EncodeVLQInt(out, iio.Code(status))
		protocol.EncodeVLQBytes(out, chunk)
	})
	return nil
}

// readChunk pops whole samples from the ring
func (f *Firmware) readChunk(b *Binding, count int) []byte {
	if count > maxBufferData {
		count = maxBufferData
	}
	if sb := b.Config.SampleBytes; sb > 1 {
		count -= count % sb
	}
	if count <= 0 {
		return nil
	}
	n := b.Buffer.Read(f.readBuf[:count])
	return f.readBuf[:n]
}

func (f *Firmware) handleBufferClose(data *[]byte) error {
	d := protocol.NewDecoder(data)
	dev := d.Byte()
	if err := d.Err(); err != nil {
		return err
	}
	b, ok := f.Binding(dev)
	if !ok || b.state == stateClosed || b.state == stateClosing {
		f.sendBufferStatus(dev, iio.ErrInvalid, 0)
		return nil
	}
	if b.stream != nil && b.state == stateDrained {
		b.state = stateClosed
		RecordEvent(EvtBufferClose, dev, f.clock.Now(), 0)
		f.sendBufferStatus(dev, b.sticky, b.scanBytes)
		return nil
	}
	if b.stream != nil && !b.stream.Started() {
		// Nothing was played; no edge will come to acknowledge a stop
		f.finishClose(b)
		return nil
	}
	if b.stream == nil && b.mode == ModeBurst {
		err := b.sticky
		b.state = stateClosed
		RecordEvent(EvtBufferClose, dev, f.clock.Now(), 0)
		f.sendBufferStatus(dev, err, b.scanBytes)
		return nil
	}
	if b.stream != nil {
		b.stream.RequestStop()
	} else {
		b.session.RequestStop()
	}
	b.state = stateClosing
	b.closeAt = f.clock.Now() + TimerFromDuration(b.Config.Timeout)
	return nil
}

// finishClose disarms a continuous session or an output stream once its
// handler has acknowledged the stop or the close deadline has passed
func (f *Firmware) finishClose(b *Binding) {
	if b.stream != nil {
		err := b.stream.Stop()
		if err == nil && b.stream.Underruns() > 0 {
			err = iio.ErrOverflow
		}
		b.state = stateClosed
		RecordEvent(EvtBufferClose, b.index, f.clock.Now(), uint32(b.stream.Played()))
		f.sendBufferStatus(b.index, err, b.scanBytes)
		return
	}
	err := b.session.Stop()
	now := f.clock.Now()
	if errors.Is(err, iio.ErrTimeout) {
		RecordEvent(EvtStopTimeout, b.index, now, 0)
		LogWarn("stop timeout on " + b.Device.Name)
	}
	if n := b.session.Overruns(); n > 0 {
		RecordEvent(EvtOverrun, b.index, now, uint32(n))
		if err == nil {
			err = iio.ErrOverflow
		}
	}
	b.state = stateClosed
	RecordEvent(EvtBufferClose, b.index, now, 0)
	f.sendBufferStatus(b.index, err, b.scanBytes)
}
