// Package sim generates a deterministic precision-landing approach for
// exercising the estimator without hardware: a vehicle descending onto a
// stationary landing target, with noisy vision, GNSS and UWB reports derived
// from the same ground truth.
package sim

import (
	"math"
	"math/rand"
	"time"

	"vte-ng/internal/estimator"
	"vte-ng/internal/geo"
)

type Approach struct {
	// Pad coordinate, also the origin of the truth frame.
	LatDeg float64
	LonDeg float64
	AltM   float64

	// StartAGL is the vehicle altitude above the pad at t=0, meters.
	StartAGL float64
	// Descent is the constant descent rate, m/s.
	Descent float64

	// TargetYaw is the fixed heading of the landing target, radians.
	TargetYaw float64

	// 1-sigma measurement noise injected into the reports.
	VisionNoise float64
	GNSSNoise   float64

	Seed int64
}

// Truth is the exact relative state at one instant.
type Truth struct {
	RelPosNED [3]float64
	RelVelNED [3]float64
	Yaw       float64
}

// rng returns a generator that is a pure function of (Seed, elapsed), so
// repeated sampling at the same instant yields identical reports.
func (a Approach) rng(elapsed time.Duration, stream int64) *rand.Rand {
	return rand.New(rand.NewSource(a.Seed ^ elapsed.Nanoseconds() ^ stream<<32))
}

// vehicleNED returns the vehicle position in the pad frame. The approach
// starts offset to the south-west, closes in along a decaying spiral and
// descends at the configured rate.
func (a Approach) vehicleNED(elapsed time.Duration) ([3]float64, [3]float64) {
	t := elapsed.Seconds()
	r0 := 8.0
	decay := 0.08
	w := 0.3

	r := r0 * math.Exp(-decay*t)
	n := -r * math.Cos(w*t)
	e := -r * math.Sin(w*t)
	d := -(a.StartAGL - a.Descent*t)
	if d > 0 {
		d = 0 // touched down
	}

	dr := -decay * r
	vn := -(dr*math.Cos(w*t) - r*w*math.Sin(w*t))
	ve := -(dr*math.Sin(w*t) + r*w*math.Cos(w*t))
	vd := a.Descent
	if d == 0 {
		vd = 0
	}
	return [3]float64{n, e, d}, [3]float64{vn, ve, vd}
}

// TruthAt returns the exact relative state (target minus vehicle) at elapsed.
func (a Approach) TruthAt(elapsed time.Duration) Truth {
	pos, vel := a.vehicleNED(elapsed)
	return Truth{
		RelPosNED: [3]float64{-pos[0], -pos[1], -pos[2]},
		RelVelNED: [3]float64{-vel[0], -vel[1], -vel[2]},
		Yaw:       a.TargetYaw,
	}
}

// VisionReportAt returns a noisy fiducial-marker report for the instant.
func (a Approach) VisionReportAt(now time.Time, elapsed time.Duration) estimator.VisionReport {
	truth := a.TruthAt(elapsed)
	rng := a.rng(elapsed, 1)
	r := estimator.VisionReport{
		Time:   now,
		Yaw:    truth.Yaw + rng.NormFloat64()*a.VisionNoise,
		HasYaw: true,
		HasVar: true,
		YawVar: a.VisionNoise * a.VisionNoise,
	}
	for i := 0; i < 3; i++ {
		r.RelPosNED[i] = truth.RelPosNED[i] + rng.NormFloat64()*a.VisionNoise
		r.PosVar[i] = a.VisionNoise * a.VisionNoise
	}
	return r
}

// UWBReportAt returns a noisy ranging report for the instant.
func (a Approach) UWBReportAt(now time.Time, elapsed time.Duration) estimator.UWBReport {
	truth := a.TruthAt(elapsed)
	rng := a.rng(elapsed, 2)
	r := estimator.UWBReport{Time: now}
	for i := 0; i < 3; i++ {
		r.RelPosNED[i] = truth.RelPosNED[i] + rng.NormFloat64()*a.VisionNoise
	}
	return r
}

// VehicleFixAt returns the vehicle GNSS fix, with position noise applied in
// the local frame before projecting back to geodetic coordinates.
func (a Approach) VehicleFixAt(now time.Time, elapsed time.Duration) estimator.GNSSFix {
	pos, vel := a.vehicleNED(elapsed)
	rng := a.rng(elapsed, 3)
	for i := 0; i < 3; i++ {
		pos[i] += rng.NormFloat64() * a.GNSSNoise
	}
	lat, lon, alt := geo.Global(pos[0], pos[1], pos[2], a.LatDeg, a.LonDeg, a.AltM)
	return estimator.GNSSFix{
		Time:   now,
		LatDeg: lat, LonDeg: lon, AltM: alt,
		EPH: a.GNSSNoise, EPV: a.GNSSNoise * 1.5,
		FixType: 3,
		VelNED:  vel,
		VelAccM: a.GNSSNoise / 2,
		HasVel:  true,
	}
}

// TargetFixAt returns the target GNSS fix; the pad is stationary, so only
// measurement noise moves it.
func (a Approach) TargetFixAt(now time.Time, elapsed time.Duration) estimator.GNSSFix {
	rng := a.rng(elapsed, 4)
	var pos [3]float64
	for i := 0; i < 3; i++ {
		pos[i] = rng.NormFloat64() * a.GNSSNoise
	}
	lat, lon, alt := geo.Global(pos[0], pos[1], pos[2], a.LatDeg, a.LonDeg, a.AltM)
	return estimator.GNSSFix{
		Time:   now,
		LatDeg: lat, LonDeg: lon, AltM: alt,
		EPH: a.GNSSNoise, EPV: a.GNSSNoise * 1.5,
		FixType: 3,
	}
}

// AccelerationAt returns the vehicle acceleration in NED, the control input
// of the estimator's prediction step.
func (a Approach) AccelerationAt(elapsed time.Duration) [3]float64 {
	// Finite difference of the truth velocity; smooth enough at sim rates.
	const h = 10 * time.Millisecond
	_, v0 := a.vehicleNED(elapsed)
	_, v1 := a.vehicleNED(elapsed + h)
	var acc [3]float64
	for i := 0; i < 3; i++ {
		acc[i] = (v1[i] - v0[i]) / h.Seconds()
	}
	return acc
}
