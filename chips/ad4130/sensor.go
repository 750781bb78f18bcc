package ad4130

import "math"

// PT100 Callendar-Van Dusen coefficients
const (
	rtdR0 = 100.0
	rtdA  = 3.9083e-3
	rtdB  = -5.775e-7
	rtdC  = -4.183e-12
)

// Steinhart-Hart coefficients of a 10k NTC
const (
	ntcA = 1.032e-3
	ntcB = 2.387e-4
	ntcC = 1.580e-7

	kelvin = 273.15
)

// signed removes the offset binary coding of bipolar mode
func (d *Device) signed(code uint32) float64 {
	if d.cfg.Bipolar {
		return float64(int64(code) - maxCountBipolar)
	}
	return float64(code)
}

// Resistance is the sensor resistance behind a ratiometric code, in ohms
func (d *Device) Resistance(code uint32) float64 {
	return d.signed(code) * d.cfg.RRef / (d.maxCount * d.gain())
}

// Voltage converts a code to volts
func (d *Device) Voltage(code uint32) float64 {
	return d.signed(code) * d.vref / (d.maxCount * d.gain())
}

// Temperature converts a code of the configured sensor to degrees Celsius.
// It is zero for configurations without a temperature sensor.
func (d *Device) Temperature(code uint32) float64 {
	switch d.cfg.Demo {
	case RTD2Wire, RTD3Wire, RTD4Wire:
		return rtdTemperature(d.Resistance(code))
	case Thermistor:
		return ntcTemperature(d.Resistance(code))
	}
	return 0
}

// rtdTemperature inverts the Callendar-Van Dusen equation. Above 0 C the
// quadratic has a closed form; below it Newton's method adds the C term.
func rtdTemperature(r float64) float64 {
	t := (-rtdA + math.Sqrt(rtdA*rtdA-4*rtdB*(1-r/rtdR0))) / (2 * rtdB)
	if r >= rtdR0 {
		return t
	}
	for i := 0; i < 8; i++ {
		f := rtdR0*(1+rtdA*t+rtdB*t*t+rtdC*(t-100)*t*t*t) - r
		df := rtdR0 * (rtdA + 2*rtdB*t + rtdC*(4*t*t*t-300*t*t))
		t -= f / df
	}
	return t
}

func ntcTemperature(r float64) float64 {
	if r <= 0 {
		return math.NaN()
	}
	l := math.Log(r)
	return 1/(ntcA+ntcB*l+ntcC*l*l*l) - kelvin
}
