// Package protocol implements the framed, CRC-checked message link between
// the acquisition firmware and the host.
//
// A frame is len(1) seq(1) payload crc16(2) sync(1). The payload holds one
// or more messages, each a VLQ command ID followed by VLQ-encoded arguments.
package protocol

// Version of the wire protocol and firmware
const Version = "iioboard-0.3.0"

// Frame layout
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 255
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E

	// High nibble of every sequence byte
	MessageDest     = 0x10
	MessageSeqMask  = 0x0F
	MessageSeqShift = 4

	// OutputMax holds an ACK plus several full response frames
	OutputMax = 4 * MessageLengthMax
)

// NextSequence returns the sequence byte following seq
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}

// checkFrame validates the frame at the front of data. It returns the frame
// length, 0 if more bytes are needed, or -1 if the stream is out of sync.
func checkFrame(data []byte) int {
	if len(data) < MessageLengthMin {
		return 0
	}
	n := int(data[MessagePositionLen])
	if n < MessageLengthMin || n > MessageLengthMax {
		return -1
	}
	if data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return -1
	}
	if len(data) < n {
		return 0
	}
	if data[n-MessageTrailerSync] != MessageValueSync {
		return -1
	}
	got := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
	if got != CRC16(data[:n-MessageTrailerSize]) {
		return -1
	}
	return n
}

// skipToSync drops everything up to and including the next sync byte
func skipToSync(data []byte) ([]byte, bool) {
	for i, b := range data {
		if b == MessageValueSync {
			return data[i+1:], true
		}
	}
	return nil, false
}

// AppendFrame appends a complete frame carrying payload to dst
func AppendFrame(dst []byte, seq uint8, payload []byte) []byte {
	start := len(dst)
	dst = append(dst, byte(len(payload)+MessageLengthMin), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc>>8), byte(crc), MessageValueSync)
}
