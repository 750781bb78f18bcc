package ad4130

import (
	"fmt"
	"time"

	"iioboard/iio"
)

// startNames holds the one value calibration attributes accept. Any prefix
// of it starts the next step.
var startNames = iio.Enum{"start_calibration"}

type calKind uint8

const (
	internalCal calKind = iota
	systemCal
)

// Each kind runs two steps. Internal calibration does full scale first and
// system calibration zero scale first, since the host moves the inputs
// between the system steps.
type calStep uint8

const (
	fullScaleStep calStep = iota
	zeroScaleStep
	calComplete
)

type calStatus uint8

const (
	calNotDone calStatus = iota
	calInProgress
	calDone
	calFailed
	calSkipped
)

type calRecord struct {
	gainBefore, gainAfter     uint32
	offsetBefore, offsetAfter uint32
}

type calibration struct {
	step   [2]calStep
	status [NumChannels]calStatus
	record [NumChannels]calRecord
}

// firstStep is where each kind's sequence starts
var firstStep = [2]calStep{internalCal: fullScaleStep, systemCal: zeroScaleStep}

var calModes = [2][2]Mode{
	internalCal: {fullScaleStep: ModeIntGainCal, zeroScaleStep: ModeIntOffsetCal},
	systemCal:   {fullScaleStep: ModeSysGainCal, zeroScaleStep: ModeSysOffsetCal},
}

// stepCalibration runs the next step of kind on ch. A failed step restarts
// the sequence; a write after the last step only rewinds it.
func (d *Device) stepCalibration(kind calKind, ch int) error {
	c := &d.cal
	if c.step[kind] == calComplete {
		c.step[kind] = firstStep[kind]
		return nil
	}
	step := c.step[kind]
	first := step == firstStep[kind]
	if first {
		c.status[ch] = calInProgress
	}
	err := d.calibrate(ch, calModes[kind][step])
	switch {
	case err != nil:
		c.status[ch] = calFailed
		if first {
			c.step[kind] = 1 - step
		} else {
			c.step[kind] = firstStep[kind]
		}
		return err
	case first:
		c.step[kind] = 1 - step
	default:
		c.status[ch] = calDone
		c.step[kind] = calComplete
	}
	return nil
}

// calibrate runs one calibration mode on ch and checks that it moved the
// coefficient it targets
func (d *Device) calibrate(ch int, mode Mode) error {
	if ch < 0 || ch >= len(d.inputs) {
		return iio.ErrInvalid
	}
	rec := &d.cal.record[ch]
	gainCal := mode == ModeIntGainCal || mode == ModeSysGainCal

	if err := d.setMode(ModeStandby); err != nil {
		return err
	}
	if gainCal {
		if mode == ModeIntGainCal {
			// Internal offset calibration follows from the reset offset
			if err := d.writeReg(OffsetReg(setup), DefaultOffset); err != nil {
				return err
			}
		}
		v, err := d.readReg(GainReg(setup))
		if err != nil {
			return err
		}
		rec.gainBefore = v
	} else {
		v, err := d.readReg(OffsetReg(setup))
		if err != nil {
			return err
		}
		rec.offsetBefore = v
	}

	if err := d.enable(1 << uint(ch)); err != nil {
		return err
	}
	defer d.enable(0)

	if mode == ModeIntGainCal && d.cfg.PGA == 0 {
		// Not supported at unity gain
		rec.gainAfter = rec.gainBefore
		d.cal.status[ch] = calSkipped
		return nil
	}
	if err := d.setMode(mode); err != nil {
		return err
	}
	if err := d.waitIdle(); err != nil {
		return err
	}

	if gainCal {
		v, err := d.readReg(GainReg(setup))
		if err != nil {
			return err
		}
		rec.gainAfter = v
		if v == rec.gainBefore {
			return iio.ErrIO
		}
		return nil
	}
	v, err := d.readReg(OffsetReg(setup))
	if err != nil {
		return err
	}
	rec.offsetAfter = v
	if v == rec.offsetBefore {
		return iio.ErrIO
	}
	return nil
}

// waitIdle polls ADC_CONTROL until the calibration drops to idle
func (d *Device) waitIdle() error {
	deadline := time.Now().Add(d.cfg.CalTimeout)
	for {
		v, err := d.readReg(RegADCControl)
		if err != nil {
			return err
		}
		if Mode(v&CtrlModeMask>>CtrlModeShift) == ModeIdle {
			return nil
		}
		if !time.Now().Before(deadline) {
			return iio.ErrTimeout
		}
	}
}

// calibrationStatus renders the coefficients before and after as four hex
// words followed by the outcome, or NA when no result is waiting. Reading a
// completed sequence rewinds it; reading a failure or skip clears it.
func (d *Device) calibrationStatus(kind calKind, ch int) string {
	c := &d.cal
	st := c.status[ch]
	if c.step[kind] == calComplete {
		c.step[kind] = firstStep[kind]
	} else if st != calFailed && st != calSkipped && st != calInProgress {
		return "NA"
	}
	r := c.record[ch]
	s := fmt.Sprintf("%08x%08x%08x%08x", r.gainBefore, r.gainAfter, r.offsetBefore, r.offsetAfter)
	switch st {
	case calFailed:
		c.status[ch] = calNotDone
		return s + "calibration_failed"
	case calSkipped:
		c.status[ch] = calNotDone
		return s + "calibration_skipped"
	}
	return s + "calibration_done"
}

// applyCalibration loads a finished calibration of ch into the shared setup
func (d *Device) applyCalibration(ch int) error {
	if ch < 0 || ch >= len(d.inputs) || d.cal.status[ch] != calDone {
		return nil
	}
	r := d.cal.record[ch]
	if err := d.writeReg(OffsetReg(setup), r.offsetAfter); err != nil {
		return err
	}
	return d.writeReg(GainReg(setup), r.gainAfter)
}
