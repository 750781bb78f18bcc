package ad469x

// Register map
const (
	RegIfConfigA   = 0x000
	RegDeviceType  = 0x003
	RegScratchPad  = 0x00A
	RegVendorL     = 0x00C
	RegVendorH     = 0x00D
	RegSetup       = 0x020
	RegRefCtrl     = 0x021
	RegSeqCtrl     = 0x022
	RegACCtrl      = 0x023
	RegStdSeqLB    = 0x024
	RegStdSeqUB    = 0x025
	RegGPIOCtrl    = 0x026
	RegGPMode      = 0x027
	RegTempCtrl    = 0x029
	RegConfigIn0   = 0x030
	RegOffsetIn0   = 0x0A0
	RegGainIn0     = 0x0C0
	RegASSlot0     = 0x100
	RegisterMax    = 0x17F
	registerRWBit  = 0x80
	registerHiMask = 0x7F
)

// Field masks
const (
	SetupConvMode   = 1 << 2 // SPI conversion mode enable
	RefCtrlSetMask  = 0x1C   // REF_SET[4:2]
	RefCtrlSetShift = 2
	ConfigInHighZ   = 1 << 3
	SeqCtrlStdSeqEn = 1 << 7
)

// Identity
const (
	DeviceTypeID = 0x07
	VendorLID    = 0x56
	VendorHID    = 0x04
)

// CmdRegConfigMode is the 5-bit exit-conversion command in the top bits of
// a 16-bit frame
const CmdRegConfigMode = 0xA0

// Channels on AD4695/AD4696
const NumChannels = 16

// Sampling limits
const (
	MaxSampleRate     = 62500
	DefaultSampleRate = 62500
)

// ConfigIn returns the CONFIG_IN register of a channel
func ConfigIn(ch int) uint32 { return RegConfigIn0 + uint32(ch) }

// OffsetIn returns the low byte address of a channel's offset correction
func OffsetIn(ch int) uint32 { return RegOffsetIn0 + 2*uint32(ch) }

// GainIn returns the low byte address of a channel's gain correction
func GainIn(ch int) uint32 { return RegGainIn0 + 2*uint32(ch) }

// encodeFrame builds the 3-byte register instruction
func encodeFrame(frame []byte, read bool, addr uint32, val byte) {
	frame[0] = byte(addr>>8) & registerHiMask
	if read {
		frame[0] |= registerRWBit
	}
	frame[1] = byte(addr)
	frame[2] = val
}
