package collector

import "math"

// socCurve maps resting voltage to charge percent for the 12V LiFePO4
// packs powering the remote stations. LiFePO4 discharge is nearly flat
// through the middle with steep knees at both ends, so a plain linear
// 10.0-13.6V ramp would misreport badly.
var socCurve = []struct {
	volts   float64
	percent float64
}{
	{10.0, 0},
	{11.0, 5},
	{12.0, 10},
	{12.4, 15},
	{12.8, 20},
	{12.85, 25},
	{12.9, 30},
	{12.95, 35},
	{13.0, 40},
	{13.05, 55},
	{13.1, 60},
	{13.15, 65},
	{13.2, 70},
	{13.25, 75},
	{13.3, 80},
	{13.35, 85},
	{13.4, 90},
	{13.5, 95},
	{13.6, 100},
}

// ExternalBatteryPercent converts an external pack voltage (the Ch3
// sensor channel) into a 0-100 charge estimate by linear interpolation
// between curve points, clamped at both ends.
func ExternalBatteryPercent(voltage float64) int {
	if voltage <= socCurve[0].volts {
		return int(socCurve[0].percent)
	}
	last := socCurve[len(socCurve)-1]
	if voltage >= last.volts {
		return int(last.percent)
	}

	for i := 0; i < len(socCurve)-1; i++ {
		lo, hi := socCurve[i], socCurve[i+1]
		if voltage >= lo.volts && voltage <= hi.volts {
			ratio := (voltage - lo.volts) / (hi.volts - lo.volts)
			return int(math.Round(lo.percent + ratio*(hi.percent-lo.percent)))
		}
	}
	return 0
}
