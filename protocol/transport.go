package protocol

import "sync/atomic"

// CommandHandler runs one decoded command. It consumes its arguments from
// data.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the device end of the link. It validates frames from the
// host, dispatches their commands and acknowledges every frame with the
// next expected sequence. Responses go out under that same sequence.
type Transport struct {
	isSynchronized uint32 // atomic bool
	nextSequence   uint32 // atomic, 0x10-0x1F

	output        OutputBuffer
	handler       CommandHandler
	resetCallback func()
	flushCallback func()

	// Stats
	resyncs uint32 // atomic
}

func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		isSynchronized: 1,
		nextSequence:   MessageDest,
		output:         output,
		handler:        handler,
	}
}

// Receive parses every complete frame in input and pops what it consumed.
// A partial frame stays buffered for the next call.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.getSynchronized() {
			var found bool
			data, found = skipToSync(data)
			if found {
				t.setSynchronized(true)
				// NAK so the host retransmits from our expected sequence
				t.encodeAckNak()
			}
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		n := checkFrame(data)
		if n == 0 {
			break
		}
		if n < 0 {
			atomic.AddUint32(&t.resyncs, 1)
			t.setSynchronized(false)
			continue
		}

		seq := data[MessagePositionSeq]
		frame := data[MessageHeaderSize : n-MessageTrailerSize]
		data = data[n:]

		expected := uint8(atomic.LoadUint32(&t.nextSequence))
		if seq == MessageDest && expected != MessageDest {
			// Host restarted its sequence
			atomic.StoreUint32(&t.nextSequence, MessageDest)
			expected = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}

		if seq == expected {
			atomic.StoreUint32(&t.nextSequence, uint32(NextSequence(seq)))
			// The ACK goes out ahead of any response the frame produces
			t.encodeAckNak()
			_ = t.parseFrame(frame)
			continue
		}
		// Out of order: NAK with the sequence we still expect
		t.encodeAckNak()
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

// parseFrame dispatches every message in a frame
func (t *Transport) parseFrame(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.setSynchronized(false)
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.setSynchronized(false)
			return err
		}
		if t.handler == nil {
			continue
		}
		// A failed command drops the rest of its frame, since its
		// arguments may not have been fully consumed
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) encodeAckNak() {
	var ack [MessageLengthMin]byte
	t.output.Output(AppendFrame(ack[:0], uint8(atomic.LoadUint32(&t.nextSequence)), nil))
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame writes one frame whose payload is produced by frameData.
// The payload must not exceed MessagePayloadMax.
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	cursor := t.output.CurPosition()
	seq := uint8(atomic.LoadUint32(&t.nextSequence))
	t.output.Output([]byte{0, seq})

	frameData(t.output)

	n := len(t.output.DataSince(cursor)) + MessageTrailerSize
	t.output.Update(cursor, uint8(n))
	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{byte(crc >> 8), byte(crc), MessageValueSync})
}

// SendCommand encodes a single message frame
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns to the power-on sequence, e.g. after the link reconnects
func (t *Transport) Reset() {
	atomic.StoreUint32(&t.isSynchronized, 1)
	atomic.StoreUint32(&t.nextSequence, MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback is called when the host restarts its sequence
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback is called after every ACK/NAK is queued
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// NextSequence returns the sequence the device expects next
func (t *Transport) NextSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.nextSequence))
}

// Resyncs counts frames rejected for length, destination, sync or CRC
func (t *Transport) Resyncs() int {
	return int(atomic.LoadUint32(&t.resyncs))
}

func (t *Transport) getSynchronized() bool {
	return atomic.LoadUint32(&t.isSynchronized) != 0
}

func (t *Transport) setSynchronized(val bool) {
	var v uint32
	if val {
		v = 1
	}
	atomic.StoreUint32(&t.isSynchronized, v)
}
