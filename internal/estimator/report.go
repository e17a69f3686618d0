package estimator

import "time"

// Raw sensor reports. They are produced by the transport layer at irregular
// intervals and only referenced while observations are built; the estimator
// keeps the latest report per source and nothing else.

// VisionReport is a fiducial-marker detection expressed as a relative NED
// position of the target, with optional yaw and per-axis variances.
type VisionReport struct {
	Time time.Time

	// RelPosNED is the target position relative to the vehicle, NED meters.
	RelPosNED [3]float64

	// PosVar are the reported per-axis variances. Only used when the
	// estimator is configured to trust reported noise; always floored by
	// the configured vision noise.
	PosVar [3]float64
	HasVar bool

	Yaw    float64
	YawVar float64
	HasYaw bool
}

// GNSSFix is a global position/velocity report, used both for the vehicle's
// own receiver and for the target-reported receiver.
type GNSSFix struct {
	Time time.Time

	LatDeg float64
	LonDeg float64
	AltM   float64

	// EPH/EPV are the 1-sigma horizontal/vertical position accuracies in
	// meters, as reported by the receiver.
	EPH float64
	EPV float64

	// FixType follows the GNSS convention: 0-1 none, 2 = 2D, 3 = 3D, 4+
	// differential/RTK variants.
	FixType int

	VelNED  [3]float64
	VelAccM float64
	HasVel  bool
}

// UWBReport is an ultra-wideband ranging solution already resolved into a
// relative NED position by the driver.
type UWBReport struct {
	Time      time.Time
	RelPosNED [3]float64
}

// MissionPosition is the pre-briefed global coordinate of the target.
type MissionPosition struct {
	Valid  bool
	LatDeg float64
	LonDeg float64
	AltM   float64
}

// vecStamped pairs a vector value with validity and a timestamp, mirroring
// how the estimator tracks auxiliary inputs such as the local velocity or the
// last GNSS-derived relative position.
type vecStamped struct {
	time  time.Time
	valid bool
	xyz   [3]float64
}

func (v vecStamped) freshWithin(now time.Time, horizon time.Duration) bool {
	if !v.valid || v.time.IsZero() {
		return false
	}
	// Reports stamped slightly ahead of the prediction clock are treated
	// as fresh rather than dropped.
	return now.Sub(v.time) < horizon
}
