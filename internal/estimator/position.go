// Package estimator fuses vision, UWB, GNSS and mission inputs into a
// relative target state for precision landing. The Position and Orientation
// facades own a bank of per-axis Kalman filters, arbitrate which sensor
// observations are fused each cycle and track staleness and timeout.
//
// The facades are single-threaded: a caller invoking Update and the report
// setters from different goroutines must serialize access.
package estimator

import (
	"math"
	"time"

	"vte-ng/internal/kf"
)

// Config tunes the position estimator. Zero values are backfilled by
// DefaultConfig-derived values in NewPosition.
type Config struct {
	// TargetMoving selects the moving-target state layout with a velocity
	// state per axis.
	TargetMoving bool

	// Enabled is the configured fusion mask; a source missing here is
	// never fused regardless of data availability.
	Enabled SourceMask

	// NISThreshold gates updates on normalized innovation squared.
	NISThreshold float64

	InitPosVar float64
	InitVelVar float64

	// VehicleAccVar and TargetAccVar are the acceleration process
	// uncertainties (variance, (m/s^2)^2) feeding input noise into the
	// covariance prediction.
	VehicleAccVar float64
	TargetAccVar  float64

	// Noise floors, 1-sigma.
	GNSSPosNoise float64
	GNSSVelNoise float64
	VisionNoise  float64
	UWBNoise     float64

	// VisionNoiseFromReport trusts the variances carried by the vision
	// report when present (floored by VisionNoise).
	VisionNoiseFromReport bool

	// BiasLimit clamps the estimated GNSS bias per axis, meters.
	BiasLimit float64

	// MeasFreshTimeout bounds the age of a report counted as new data
	// this cycle; MeasValidTimeout bounds reuse of auxiliary inputs;
	// TargetValidTimeout bounds how long the published pose stays valid
	// after the last fusion; Timeout is the terminal estimator timeout.
	MeasFreshTimeout   time.Duration
	MeasValidTimeout   time.Duration
	TargetValidTimeout time.Duration
	Timeout            time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	var enabled SourceMask
	enabled.Set(SourceTargetGNSSPos)
	enabled.Set(SourceMissionPos)
	enabled.Set(SourceVehicleGNSSVel)
	enabled.Set(SourceVision)
	return Config{
		Enabled:            enabled,
		NISThreshold:       3.0,
		InitPosVar:         1.0,
		InitVelVar:         1.0,
		VehicleAccVar:      1.0,
		TargetAccVar:       1.0,
		GNSSPosNoise:       0.5,
		GNSSVelNoise:       0.3,
		VisionNoise:        0.1,
		UWBNoise:           0.1,
		BiasLimit:          1.0,
		MeasFreshTimeout:   100 * time.Millisecond,
		MeasValidTimeout:   time.Second,
		TargetValidTimeout: 2 * time.Second,
		Timeout:            3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.NISThreshold <= 0 {
		c.NISThreshold = d.NISThreshold
	}
	if c.InitPosVar <= 0 {
		c.InitPosVar = d.InitPosVar
	}
	if c.InitVelVar <= 0 {
		c.InitVelVar = d.InitVelVar
	}
	if c.VehicleAccVar <= 0 {
		c.VehicleAccVar = d.VehicleAccVar
	}
	if c.TargetAccVar <= 0 {
		c.TargetAccVar = d.TargetAccVar
	}
	if c.GNSSPosNoise <= 0 {
		c.GNSSPosNoise = d.GNSSPosNoise
	}
	if c.GNSSVelNoise <= 0 {
		c.GNSSVelNoise = d.GNSSVelNoise
	}
	if c.VisionNoise <= 0 {
		c.VisionNoise = d.VisionNoise
	}
	if c.UWBNoise <= 0 {
		c.UWBNoise = d.UWBNoise
	}
	if c.BiasLimit <= 0 {
		c.BiasLimit = d.BiasLimit
	}
	if c.MeasFreshTimeout <= 0 {
		c.MeasFreshTimeout = d.MeasFreshTimeout
	}
	if c.MeasValidTimeout <= 0 {
		c.MeasValidTimeout = d.MeasValidTimeout
	}
	if c.TargetValidTimeout <= 0 {
		c.TargetValidTimeout = d.TargetValidTimeout
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Position estimates the 3-D relative position (and, for moving targets, the
// relative velocity) of the target. Not safe for concurrent use.
type Position struct {
	cfg   Config
	model kf.Model

	filters [3]*kf.Filter

	initialized bool
	timedOut    bool
	lastPredict time.Time
	lastUpdate  time.Time

	vision struct {
		r  VisionReport
		ok bool
	}
	vehicleGNSS struct {
		r  GNSSFix
		ok bool
	}
	targetGNSS struct {
		r  GNSSFix
		ok bool
	}
	uwb struct {
		r  UWBReport
		ok bool
	}
	mission  MissionPosition
	localVel vecStamped

	gnssOffset   [3]float64
	gnssIsOffset bool
	velOffset    vecStamped

	// relGNSS is the last GNSS-derived relative position, kept for bias
	// arbitration against the non-GNSS position sources.
	relGNSS vecStamped
	biasSet bool

	innovations []InnovationRecord
}

// InnovationRecord is the per-source fusion outcome for one cycle, published
// to the telemetry collaborators.
type InnovationRecord struct {
	Source             string     `json:"source"`
	Time               time.Time  `json:"time"`
	Observation        [3]float64 `json:"observation"`
	Innovation         [3]float64 `json:"innovation"`
	InnovationVariance [3]float64 `json:"innovation_variance"`
	NIS                [3]float64 `json:"nis"`
	Fused              bool       `json:"fused"`
}

// Snapshot is the published estimator output.
type Snapshot struct {
	Time        time.Time  `json:"time"`
	Valid       bool       `json:"valid"`
	Initialized bool       `json:"initialized"`
	TimedOut    bool       `json:"timed_out"`
	RelPosNED   [3]float64 `json:"rel_pos_ned"`
	RelVelNED   [3]float64 `json:"rel_vel_ned"`
	Bias        [3]float64 `json:"bias"`
	PosVar      [3]float64 `json:"pos_var"`
	VelVar      [3]float64 `json:"vel_var"`
}

// NewPosition returns an uninitialized position estimator.
func NewPosition(cfg Config) *Position {
	cfg = cfg.withDefaults()
	model := kf.StaticPosition
	if cfg.TargetMoving {
		model = kf.MovingPosition
	}
	p := &Position{cfg: cfg, model: model}
	for i := range p.filters {
		p.filters[i] = kf.New(model, cfg.NISThreshold)
	}
	return p
}

// Report setters. The transport layer owns the raw reports; the estimator
// copies the latest one per source.

func (p *Position) SetVisionReport(r VisionReport) { p.vision.r, p.vision.ok = r, true }

func (p *Position) SetVehicleGNSS(fix GNSSFix) { p.vehicleGNSS.r, p.vehicleGNSS.ok = fix, true }

func (p *Position) SetTargetGNSS(fix GNSSFix) { p.targetGNSS.r, p.targetGNSS.ok = fix, true }

func (p *Position) SetUWBReport(r UWBReport) { p.uwb.r, p.uwb.ok = r, true }

func (p *Position) SetMissionPosition(m MissionPosition) { p.mission = m }

// SetLocalVelocity supplies the navigation-filter velocity of the vehicle,
// preferred over the raw GNSS velocity when building relative-velocity
// observations.
func (p *Position) SetLocalVelocity(t time.Time, velNED [3]float64, valid bool) {
	p.localVel = vecStamped{time: t, valid: valid, xyz: velNED}
}

// SetGNSSOffset configures the NED offset of the GNSS antenna relative to
// the body origin, applied to GNSS-derived relative positions.
func (p *Position) SetGNSSOffset(offset [3]float64, isOffset bool) {
	p.gnssOffset = offset
	p.gnssIsOffset = isOffset
}

// SetVelocityOffset configures the antenna velocity offset induced by
// vehicle rotation.
func (p *Position) SetVelocityOffset(offset [3]float64) {
	p.velOffset = vecStamped{valid: true, xyz: offset}
}

// HasTimedOut reports the terminal timeout flag; it stays set until Reset.
func (p *Position) HasTimedOut() bool { return p.timedOut }

// Initialized reports whether the filter bank holds an estimate.
func (p *Position) Initialized() bool { return p.initialized }

// Reset invalidates the estimate and clears the timeout flag; the next
// Update with a valid position source re-initializes the filters.
func (p *Position) Reset() {
	for _, f := range p.filters {
		f.Reset()
	}
	p.initialized = false
	p.timedOut = false
	p.biasSet = false
	p.relGNSS = vecStamped{}
	p.lastPredict = time.Time{}
	p.lastUpdate = time.Time{}
	p.innovations = p.innovations[:0]
}

// Update runs one estimator cycle: predict with the latest acceleration,
// build observations from the raw reports, fuse what is valid, and evaluate
// the timeout. accNED is the vehicle acceleration in the estimation frame.
// Once the estimator has timed out the cycle is a no-op until Reset.
func (p *Position) Update(now time.Time, accNED [3]float64) {
	p.innovations = p.innovations[:0]
	if p.timedOut {
		return
	}

	if p.initialized {
		p.predict(now, accNED)
	}

	mask, obs := p.processObservations(now)

	if !p.initialized {
		if p.initializeFilters(now, mask, obs) {
			p.lastPredict = now
			p.lastUpdate = now
		}
	} else {
		if p.shouldSetBias(now, mask) {
			p.updateBias(mask, obs)
		}
		fusedAny := false
		for _, s := range fuseOrder {
			if !mask.Has(s) {
				continue
			}
			if p.fuse(now, obs[s]) {
				fusedAny = true
			}
		}
		if fusedAny {
			p.lastUpdate = now
		}
	}

	if p.initialized && now.Sub(p.lastUpdate) > p.cfg.Timeout {
		p.timedOut = true
	}
}

// predict propagates all axis filters to now. The control term is the
// relative acceleration: with the target modeled as constant-velocity, the
// vehicle acceleration enters with a negative sign.
func (p *Position) predict(now time.Time, accNED [3]float64) {
	dt := now.Sub(p.lastPredict).Seconds()
	if dt < 0 {
		dt = 0
	}
	accVar := p.cfg.VehicleAccVar
	if p.cfg.TargetMoving {
		accVar += p.cfg.TargetAccVar
	}
	for i, f := range p.filters {
		f.PredictState(dt, -accNED[i])
		f.PredictCovariance(dt)
		f.AddInputNoise(dt, accVar)
	}
	p.lastPredict = now
}

// initializeFilters seeds the filter bank from the highest-priority valid
// position source. All three axes are initialized in one atomic step; with
// no position source the estimator stays uninitialized.
func (p *Position) initializeFilters(now time.Time, mask SourceMask, obs [numSources]observation) bool {
	var seed *observation
	for _, s := range initPriority {
		if mask.Has(s) {
			seed = &obs[s]
			break
		}
	}
	if seed == nil {
		return false
	}

	var vel [3]float64
	if p.cfg.TargetMoving {
		switch {
		case mask.Has(SourceTargetGNSSVel):
			vel = obs[SourceTargetGNSSVel].meas
		case mask.Has(SourceVehicleGNSSVel):
			vel = obs[SourceVehicleGNSSVel].meas
		}
	}

	// With both a GNSS-derived and an independent position measurement in
	// hand, the bias is observable immediately.
	var bias [3]float64
	biasSet := false
	if p.relGNSS.freshWithin(now, p.cfg.MeasValidTimeout) && mask.HasNonGNSSPosition() {
		other := p.nonGNSSObservation(mask, obs)
		for i := 0; i < 3; i++ {
			bias[i] = p.clampBias(p.relGNSS.xyz[i] - other.meas[i])
		}
		biasSet = true
	}

	for i, f := range p.filters {
		state := make([]float64, p.model.StateSize())
		vars := make([]float64, p.model.StateSize())
		state[p.model.PosIndex()] = seed.meas[i]
		vars[p.model.PosIndex()] = p.cfg.InitPosVar
		if v := p.model.VelIndex(); v >= 0 {
			state[v] = vel[i]
			vars[v] = p.cfg.InitVelVar
		}
		// The bias state is arbitrated externally (updateBias) and kept
		// frozen in the covariance: zero variance makes every fusion
		// leave it untouched.
		state[p.model.BiasIndex()] = bias[i]
		vars[p.model.BiasIndex()] = 0

		if err := f.Init(state, vars); err != nil {
			for _, g := range p.filters {
				g.Reset()
			}
			return false
		}
	}
	p.biasSet = biasSet
	p.initialized = true
	return true
}

// shouldSetBias gates the bias co-estimation: it runs only when a valid
// GNSS-derived relative position and a non-GNSS position source coexist.
func (p *Position) shouldSetBias(now time.Time, mask SourceMask) bool {
	return p.relGNSS.freshWithin(now, p.cfg.MeasValidTimeout) && mask.HasNonGNSSPosition()
}

// updateBias re-seeds the per-axis bias from the difference between the
// GNSS-derived and the independent relative position. Outside these cycles
// the bias stays frozen at its last value.
func (p *Position) updateBias(mask SourceMask, obs [numSources]observation) {
	other := p.nonGNSSObservation(mask, obs)
	idx := p.model.BiasIndex()
	for i, f := range p.filters {
		f.SetStateAt(idx, p.clampBias(p.relGNSS.xyz[i]-other.meas[i]))
	}
	p.biasSet = true
}

func (p *Position) nonGNSSObservation(mask SourceMask, obs [numSources]observation) observation {
	if mask.Has(SourceVision) {
		return obs[SourceVision]
	}
	return obs[SourceUWB]
}

func (p *Position) clampBias(b float64) float64 {
	return math.Max(-p.cfg.BiasLimit, math.Min(p.cfg.BiasLimit, b))
}

// fuse runs one observation through all three axis filters and records the
// outcome. The source counts as fused only when every axis accepts; a gating
// rejection on one source never blocks the remaining sources.
func (p *Position) fuse(now time.Time, o observation) bool {
	dtSync := now.Sub(o.time).Seconds()
	if dtSync < 0 {
		dtSync = 0
	}

	rec := InnovationRecord{Source: o.source.String(), Time: now, Observation: o.meas}
	fused := true
	for i, f := range p.filters {
		if err := f.SetObservationRow(o.rows[i]); err != nil {
			fused = false
			continue
		}
		f.Resynchronize(dtSync)
		rec.Innovation[i] = f.ComputeInnovation(o.meas[i])
		rec.InnovationVariance[i] = f.ComputeInnovationCovariance(o.unc[i])
		if !f.Update() {
			fused = false
		}
		rec.NIS[i] = f.NIS()
	}
	rec.Fused = fused
	p.innovations = append(p.innovations, rec)
	return fused
}

// Innovations returns the per-source fusion records from the last Update.
// The slice is reused across cycles; callers must not retain it.
func (p *Position) Innovations() []InnovationRecord { return p.innovations }

// Snapshot returns the current published state. Valid requires an
// initialized, non-timed-out estimator whose last successful fusion is
// within the target validity horizon; the facade publishes no position
// estimate before first initialization.
func (p *Position) Snapshot(now time.Time) Snapshot {
	snap := Snapshot{Time: now, Initialized: p.initialized, TimedOut: p.timedOut}
	if !p.initialized {
		return snap
	}
	for i, f := range p.filters {
		snap.RelPosNED[i] = f.StateAt(p.model.PosIndex())
		snap.PosVar[i] = f.VarianceAt(p.model.PosIndex())
		if v := p.model.VelIndex(); v >= 0 {
			snap.RelVelNED[i] = f.StateAt(v)
			snap.VelVar[i] = f.VarianceAt(v)
		}
		snap.Bias[i] = f.StateAt(p.model.BiasIndex())
	}
	age := now.Sub(p.lastUpdate)
	snap.Valid = !p.timedOut && age >= 0 && age < p.cfg.TargetValidTimeout
	return snap
}
