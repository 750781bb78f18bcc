package ad4130

// Register map
const (
	RegStatus     = 0x00
	RegADCControl = 0x01
	RegData       = 0x02
	RegIOControl  = 0x03
	RegVBiasCtrl  = 0x04
	RegID         = 0x05
	RegError      = 0x06
	RegErrorEn    = 0x07
	RegMCLKCount  = 0x08
	RegChannel0   = 0x09
	RegConfig0    = 0x19
	RegFilter0    = 0x21
	RegOffset0    = 0x29
	RegGain0      = 0x31
	RegMisc       = 0x39
	RegFIFOCtrl   = 0x3A
	RegFIFOStatus = 0x3B
	RegFIFOThresh = 0x3C
	RegFIFOData   = 0x3D
	RegisterMax   = RegFIFOThresh

	commRead = 1 << 6
	commAddr = 0x3F
)

// ADC_CONTROL fields
const (
	CtrlBipolar   = 1 << 14
	CtrlIntRef1V2 = 1 << 13
	CtrlIntRefEn  = 1 << 8
	CtrlModeMask  = 0xF << 2
	CtrlModeShift = 2
)

// Mode is the ADC_CONTROL operating mode
type Mode uint16

const (
	ModeContinuous Mode = iota
	ModeSingle
	ModeStandby
	ModePowerDown
	ModeIdle
	ModeIntOffsetCal
	ModeIntGainCal
	ModeSysOffsetCal
	ModeSysGainCal
)

// Field masks of the channel, setup and status registers
const (
	StatusRdyN      = 1 << 7 // low while a new result waits
	ChannelEnable   = 1 << 23
	ChannelSetupSh  = 20
	ChannelAINPSh   = 13
	ChannelAINMSh   = 8
	ConfigRefSelSh  = 4
	ConfigRefSelMsk = 0x3 << ConfigRefSelSh
	ConfigPGAMask   = 0x7 << 1
	ConfigPGAShift  = 1
	FilterFSMask    = 0x7FF
)

// IDAD4130_8 is the ID register of the AD4130-8
const IDAD4130_8 = 0x04

const (
	NumChannels = 16
	NumSetups   = 8
	// DefaultOffset is the reset value of the OFFSET registers
	DefaultOffset = 0x800000

	// Sinc3 standalone output data rate is mclk/(32*FS) with the
	// 76.8 kHz internal clock
	mclkHz = 76800
	fsUnit = 32
)

// regSize is the width in bytes of every register up to FIFO_DATA
var regSize = [RegFIFOData + 1]uint8{
	RegStatus: 1, RegADCControl: 2, RegData: 3, RegIOControl: 2,
	RegVBiasCtrl: 2, RegID: 1, RegError: 2, RegErrorEn: 2, RegMCLKCount: 1,
	RegMisc: 2, RegFIFOCtrl: 3, RegFIFOStatus: 1, RegFIFOThresh: 3, RegFIFOData: 3,
}

func init() {
	for i := 0; i < NumChannels; i++ {
		regSize[RegChannel0+i] = 3
	}
	for i := 0; i < NumSetups; i++ {
		regSize[RegConfig0+i] = 2
		regSize[RegFilter0+i] = 3
		regSize[RegOffset0+i] = 3
		regSize[RegGain0+i] = 3
	}
}

// RegSize returns the width of a register in bytes, 0 for unknown addresses
func RegSize(addr uint32) int {
	if addr >= uint32(len(regSize)) {
		return 0
	}
	return int(regSize[addr])
}

// ChannelReg returns the CHANNEL register of ch
func ChannelReg(ch int) uint32 { return RegChannel0 + uint32(ch) }

// ConfigReg returns the CONFIG register of a setup
func ConfigReg(setup int) uint32 { return RegConfig0 + uint32(setup) }

// FilterReg returns the FILTER register of a setup
func FilterReg(setup int) uint32 { return RegFilter0 + uint32(setup) }

// OffsetReg returns the OFFSET register of a setup
func OffsetReg(setup int) uint32 { return RegOffset0 + uint32(setup) }

// GainReg returns the GAIN register of a setup
func GainReg(setup int) uint32 { return RegGain0 + uint32(setup) }
