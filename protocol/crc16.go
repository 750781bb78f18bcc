package protocol

import "github.com/snksoft/crc"

// CRC-16/MCRF4XX: the reflected CCITT polynomial with no final XOR
var crcTable = crc.NewTable(&crc.Parameters{
	Width:      16,
	Polynomial: 0x1021,
	Init:       0xFFFF,
	ReflectIn:  true,
	ReflectOut: true,
	FinalXor:   0x0000,
})

// CRC16 checksums a frame header and payload
func CRC16(data []byte) uint16 {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, data)
	return crcTable.CRC16(c)
}
