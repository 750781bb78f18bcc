package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrClosed is returned once the host transport has shut down
var ErrClosed = errors.New("transport closed")

// maxRetransmits bounds resends of a frame the device NAKed
const maxRetransmits = 3

// ResponseHandler sees every response before it is queued
type ResponseHandler func(cmdID uint16, data *[]byte) error

// Message is one received frame
type Message struct {
	Sequence uint8
	// Payload is the frame body without header and trailer
	Payload []byte
}

// HostTransport is the host end of the link. One frame is in flight at a
// time; Send returns once the device acknowledges it with the next
// sequence.
type HostTransport struct {
	port io.ReadWriteCloser

	sendMu sync.Mutex
	seq    uint8

	// Owned by the read loop
	rx     *RxBuffer
	synced bool

	acks      chan uint8
	responses chan *Message

	handlerMu sync.Mutex
	handler   ResponseHandler

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// NewHostTransport starts the background reader on port
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:      port,
		seq:       MessageDest,
		rx:        NewRxBuffer(4 * MessageLengthMax),
		synced:    true,
		acks:      make(chan uint8, 4),
		responses: make(chan *Message, 64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SendCommand sends one message and waits for its ACK
func (t *HostTransport) SendCommand(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	out := NewScratchOutput()
	EncodeVLQUint(out, uint32(cmdID))
	if args != nil {
		args(out)
	}
	if out.Overflowed() {
		return fmt.Errorf("command %d: %w", cmdID, ErrBufferTooSmall)
	}
	return t.Send(ctx, out.Result())
}

// Send frames payload, writes it and waits for the ACK. A NAK carrying the
// sequence just sent triggers a retransmit.
func (t *HostTransport) Send(ctx context.Context, payload []byte) error {
	if len(payload) > MessagePayloadMax {
		return fmt.Errorf("message too long: %d bytes (max %d)", len(payload), MessagePayloadMax)
	}
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	frame := AppendFrame(make([]byte, 0, len(payload)+MessageLengthMin), t.seq, payload)
	want := NextSequence(t.seq)

	// Stale ACKs from an earlier timeout would be mistaken for ours
	t.drainAcks()
	for attempt := 0; ; attempt++ {
		if err := t.write(frame); err != nil {
			return err
		}
		ack, err := t.waitForAck(ctx)
		if err != nil {
			return err
		}
		switch {
		case ack == want:
			t.seq = want
			return nil
		case ack == t.seq && attempt < maxRetransmits:
			continue
		default:
			return fmt.Errorf("sequence mismatch: expected %#02x, got %#02x", want, ack)
		}
	}
}

func (t *HostTransport) write(frame []byte) error {
	n, err := t.port.Write(frame)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(frame))
	}
	return nil
}

func (t *HostTransport) drainAcks() {
	for {
		select {
		case <-t.acks:
		default:
			return
		}
	}
}

func (t *HostTransport) waitForAck(ctx context.Context) (uint8, error) {
	select {
	case ack := <-t.acks:
		return ack, nil
	case <-ctx.Done():
		return 0, fmt.Errorf("waiting for ACK: %w", ctx.Err())
	case <-t.done:
		return 0, t.Err()
	}
}

// ReceiveResponse returns the next queued response
func (t *HostTransport) ReceiveResponse(ctx context.Context) (*Message, error) {
	select {
	case msg := <-t.responses:
		return msg, nil
	default:
	}
	select {
	case msg := <-t.responses:
		return msg, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for response: %w", ctx.Err())
	case <-t.done:
		return nil, t.Err()
	}
}

// SetResponseHandler installs a callback run on the read loop
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.handler = handler
	t.handlerMu.Unlock()
}

func (t *HostTransport) readLoop() {
	defer close(t.done)

	buf := make([]byte, MessageLengthMax)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			t.rx.Write(buf[:n])
			t.processMessages()
		}
		if err != nil {
			select {
			case <-t.stop:
				t.setErr(ErrClosed)
			default:
				t.setErr(fmt.Errorf("read: %w", err))
			}
			return
		}
	}
}

func (t *HostTransport) processMessages() {
	data := t.rx.Data()

	for len(data) > 0 {
		if !t.synced {
			data, t.synced = skipToSync(data)
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
			t.synced = false
			continue
		}
		msg := &Message{
			Sequence: data[MessagePositionSeq],
			Payload:  append([]byte(nil), data[MessageHeaderSize:n-MessageTrailerSize]...),
		}
		data = data[n:]
		t.dispatchMessage(msg)
	}

	t.rx.Pop(t.rx.Available() - len(data))
}

func (t *HostTransport) dispatchMessage(msg *Message) {
	if len(msg.Payload) == 0 {
		select {
		case t.acks <- msg.Sequence:
		default:
		}
		return
	}

	t.handlerMu.Lock()
	handler := t.handler
	t.handlerMu.Unlock()
	if handler != nil {
		p := msg.Payload
		if cmdID, err := DecodeVLQUint(&p); err == nil {
			_ = handler(uint16(cmdID), &p)
		}
	}

	select {
	case t.responses <- msg:
	default:
		// Full: drop the oldest
		select {
		case <-t.responses:
		default:
		}
		t.responses <- msg
	}
}

func (t *HostTransport) setErr(err error) {
	t.errMu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.errMu.Unlock()
}

// Err returns why the read loop ended, or nil while it runs
func (t *HostTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Close shuts the port and waits for the read loop
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}

// Reset restarts the sequence and drops queued messages
func (t *HostTransport) Reset() {
	t.sendMu.Lock()
	t.seq = MessageDest
	t.sendMu.Unlock()
	t.drainAcks()
	for {
		select {
		case <-t.responses:
		default:
			return
		}
	}
}

// Sequence returns the sequence of the next frame to be sent
func (t *HostTransport) Sequence() uint8 {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.seq
}
