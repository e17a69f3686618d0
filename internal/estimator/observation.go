package estimator

import (
	"math"
	"time"

	"vte-ng/internal/geo"
)

// observation is one source's contribution to a fusion cycle: a measurement,
// an uncertainty and an observation matrix row per axis. Observations are
// rebuilt from the latest raw reports every cycle and never persisted.
type observation struct {
	source Source
	time   time.Time
	meas   [3]float64
	unc    [3]float64
	rows   [3][]float64
}

// processObservations converts the latest raw reports into observations and
// returns the dynamic validity mask. A source's bit is set only when the
// report is fresh, passes its sanity checks and the source is enabled;
// anything else silently yields "not fused this cycle".
func (p *Position) processObservations(now time.Time) (SourceMask, [numSources]observation) {
	var mask SourceMask
	var obs [numSources]observation

	type builder struct {
		source Source
		build  func(time.Time, *observation) bool
	}
	builders := []builder{
		{SourceMissionPos, p.buildMissionPos},
		{SourceTargetGNSSPos, p.buildTargetGNSSPos},
		{SourceTargetGNSSVel, p.buildTargetGNSSVel},
		{SourceVehicleGNSSVel, p.buildVehicleGNSSVel},
		{SourceVision, p.buildVision},
		{SourceUWB, p.buildUWB},
	}
	for _, b := range builders {
		if !p.cfg.Enabled.Has(b.source) {
			continue
		}
		o := observation{source: b.source}
		if b.build(now, &o) {
			obs[b.source] = o
			mask.Set(b.source)
		}
	}
	return mask, obs
}

func (p *Position) buildVision(now time.Time, o *observation) bool {
	if !p.vision.ok || !p.fresh(now, p.vision.r.Time) {
		return false
	}
	r := p.vision.r
	if !finite3(r.RelPosNED) {
		return false
	}
	if r.HasVar && !finite3(r.PosVar) {
		return false
	}

	floor := p.cfg.VisionNoise * p.cfg.VisionNoise
	for i := 0; i < 3; i++ {
		o.meas[i] = r.RelPosNED[i]
		o.unc[i] = floor
		if p.cfg.VisionNoiseFromReport && r.HasVar {
			o.unc[i] = math.Max(floor, r.PosVar[i])
		}
		o.rows[i] = p.posRow()
	}
	o.time = r.Time
	return true
}

func (p *Position) buildUWB(now time.Time, o *observation) bool {
	if !p.uwb.ok || !p.fresh(now, p.uwb.r.Time) {
		return false
	}
	r := p.uwb.r
	if !finite3(r.RelPosNED) {
		return false
	}
	unc := p.cfg.UWBNoise * p.cfg.UWBNoise
	for i := 0; i < 3; i++ {
		o.meas[i] = r.RelPosNED[i]
		o.unc[i] = unc
		o.rows[i] = p.posRow()
	}
	o.time = r.Time
	return true
}

// buildMissionPos projects the pre-briefed mission coordinate against the
// vehicle's GNSS fix. The result is GNSS-derived, so it observes pos + bias.
func (p *Position) buildMissionPos(now time.Time, o *observation) bool {
	if !p.mission.Valid {
		return false
	}
	if !p.vehicleGNSS.ok || !p.fresh(now, p.vehicleGNSS.r.Time) || !p.gnssFixUsable(p.vehicleGNSS.r) {
		return false
	}
	v := p.vehicleGNSS.r
	n, e, d := geo.NED(p.mission.LatDeg, p.mission.LonDeg, p.mission.AltM, v.LatDeg, v.LonDeg, v.AltM)
	rel := p.applyGNSSOffset([3]float64{n, e, d})

	hStd := math.Max(p.cfg.GNSSPosNoise, v.EPH)
	vStd := math.Max(p.cfg.GNSSPosNoise, v.EPV)
	unc := [3]float64{hStd * hStd, hStd * hStd, vStd * vStd}
	for i := 0; i < 3; i++ {
		o.meas[i] = rel[i]
		o.unc[i] = unc[i]
		o.rows[i] = p.posBiasRow()
	}
	o.time = v.Time
	return true
}

// buildTargetGNSSPos differences the target-reported fix against the
// vehicle's own fix. Also GNSS-derived: observes pos + bias.
func (p *Position) buildTargetGNSSPos(now time.Time, o *observation) bool {
	if !p.targetGNSS.ok || !p.fresh(now, p.targetGNSS.r.Time) || !p.gnssFixUsable(p.targetGNSS.r) {
		return false
	}
	if !p.vehicleGNSS.ok || !p.valid(now, p.vehicleGNSS.r.Time) || !p.gnssFixUsable(p.vehicleGNSS.r) {
		return false
	}
	tr := p.targetGNSS.r
	v := p.vehicleGNSS.r
	n, e, d := geo.NED(tr.LatDeg, tr.LonDeg, tr.AltM, v.LatDeg, v.LonDeg, v.AltM)
	rel := p.applyGNSSOffset([3]float64{n, e, d})

	hStd := math.Max(p.cfg.GNSSPosNoise, math.Hypot(tr.EPH, v.EPH))
	vStd := math.Max(p.cfg.GNSSPosNoise, math.Hypot(tr.EPV, v.EPV))
	for i := 0; i < 3; i++ {
		o.meas[i] = rel[i]
		o.rows[i] = p.posBiasRow()
	}
	o.unc = [3]float64{hStd * hStd, hStd * hStd, vStd * vStd}
	o.time = tr.Time

	// Remember the GNSS-derived relative position for bias arbitration.
	p.relGNSS = vecStamped{time: tr.Time, valid: true, xyz: rel}
	return true
}

// buildVehicleGNSSVel turns the vehicle velocity into a relative-velocity
// measurement. Requires the moving-target layout; in static mode there is no
// velocity state to observe and the bit stays clear.
func (p *Position) buildVehicleGNSSVel(now time.Time, o *observation) bool {
	if !p.cfg.TargetMoving {
		return false
	}
	vel, acc, ts, ok := p.vehicleVelocity(now)
	if !ok || !p.fresh(now, ts) {
		return false
	}

	// If a usable target velocity exists it completes the relative
	// velocity; otherwise the target is assumed to hold constant (zero)
	// velocity in the estimation frame.
	var tVel [3]float64
	if p.targetGNSS.ok && p.targetGNSS.r.HasVel && p.valid(now, p.targetGNSS.r.Time) {
		tVel = p.targetGNSS.r.VelNED
	}

	std := math.Max(p.cfg.GNSSVelNoise, acc)
	for i := 0; i < 3; i++ {
		o.meas[i] = tVel[i] - vel[i]
		o.unc[i] = std * std
		o.rows[i] = p.velRow()
	}
	o.time = ts
	return true
}

// buildTargetGNSSVel forms the relative velocity from the target-reported
// velocity and the vehicle velocity. Moving-target layout only.
func (p *Position) buildTargetGNSSVel(now time.Time, o *observation) bool {
	if !p.cfg.TargetMoving {
		return false
	}
	if !p.targetGNSS.ok || !p.targetGNSS.r.HasVel || !p.fresh(now, p.targetGNSS.r.Time) {
		return false
	}
	vel, acc, ts, ok := p.vehicleVelocity(now)
	if !ok || !p.valid(now, ts) {
		return false
	}
	tr := p.targetGNSS.r
	if !finite3(tr.VelNED) {
		return false
	}

	std := math.Max(p.cfg.GNSSVelNoise, math.Hypot(tr.VelAccM, acc))
	for i := 0; i < 3; i++ {
		o.meas[i] = tr.VelNED[i] - vel[i]
		o.unc[i] = std * std
		o.rows[i] = p.velRow()
	}
	o.time = tr.Time
	return true
}

// vehicleVelocity prefers the navigation-filter velocity over the raw GNSS
// velocity and compensates the configured antenna velocity offset.
func (p *Position) vehicleVelocity(now time.Time) (vel [3]float64, accStd float64, ts time.Time, ok bool) {
	switch {
	case p.localVel.freshWithin(now, p.cfg.MeasValidTimeout):
		vel = p.localVel.xyz
		accStd = p.cfg.GNSSVelNoise
		ts = p.localVel.time
	case p.vehicleGNSS.ok && p.vehicleGNSS.r.HasVel && p.valid(now, p.vehicleGNSS.r.Time):
		vel = p.vehicleGNSS.r.VelNED
		accStd = p.vehicleGNSS.r.VelAccM
		ts = p.vehicleGNSS.r.Time
	default:
		return vel, 0, ts, false
	}
	if p.velOffset.valid {
		for i := 0; i < 3; i++ {
			vel[i] -= p.velOffset.xyz[i]
		}
	}
	return vel, accStd, ts, true
}

// applyGNSSOffset moves an antenna-relative measurement to the body origin.
func (p *Position) applyGNSSOffset(rel [3]float64) [3]float64 {
	if !p.gnssIsOffset {
		return rel
	}
	for i := 0; i < 3; i++ {
		rel[i] += p.gnssOffset[i]
	}
	return rel
}

// gnssFixUsable applies the source-specific sanity checks for a GNSS fix.
func (p *Position) gnssFixUsable(fix GNSSFix) bool {
	if fix.FixType < 3 {
		return false
	}
	if !(fix.EPH > 0) || !(fix.EPV > 0) {
		return false
	}
	if math.IsNaN(fix.LatDeg) || math.IsNaN(fix.LonDeg) || math.IsNaN(fix.AltM) {
		return false
	}
	return true
}

// fresh reports whether a timestamp is recent enough to count as new data
// this cycle; valid applies the longer staleness horizon used for auxiliary
// inputs that may be reused across a few cycles.
func (p *Position) fresh(now, ts time.Time) bool {
	if ts.IsZero() {
		return false
	}
	return now.Sub(ts) < p.cfg.MeasFreshTimeout
}

func (p *Position) valid(now, ts time.Time) bool {
	if ts.IsZero() {
		return false
	}
	return now.Sub(ts) < p.cfg.MeasValidTimeout
}

func (p *Position) posRow() []float64 {
	row := make([]float64, p.model.StateSize())
	row[p.model.PosIndex()] = 1
	return row
}

func (p *Position) posBiasRow() []float64 {
	row := p.posRow()
	row[p.model.BiasIndex()] = 1
	return row
}

func (p *Position) velRow() []float64 {
	row := make([]float64, p.model.StateSize())
	row[p.model.VelIndex()] = 1
	return row
}

func finite3(v [3]float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
