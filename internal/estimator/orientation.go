package estimator

import (
	"math"
	"time"

	"vte-ng/internal/kf"
)

// OrientationConfig tunes the yaw estimator.
type OrientationConfig struct {
	// TargetMoving adds a yaw-rate state.
	TargetMoving bool

	NISThreshold float64

	InitYawVar  float64
	InitRateVar float64

	// RateAccVar is the yaw acceleration process uncertainty feeding
	// input noise into the covariance prediction, (rad/s^2)^2.
	RateAccVar float64

	// YawNoise is the 1-sigma floor for vision yaw, radians.
	YawNoise float64

	MeasFreshTimeout   time.Duration
	TargetValidTimeout time.Duration
	Timeout            time.Duration
}

// DefaultOrientationConfig returns the stock yaw tuning.
func DefaultOrientationConfig() OrientationConfig {
	return OrientationConfig{
		NISThreshold:       3.0,
		InitYawVar:         1.0,
		InitRateVar:        1.0,
		RateAccVar:         1.0,
		YawNoise:           0.05,
		MeasFreshTimeout:   100 * time.Millisecond,
		TargetValidTimeout: 2 * time.Second,
		Timeout:            3 * time.Second,
	}
}

func (c OrientationConfig) withDefaults() OrientationConfig {
	d := DefaultOrientationConfig()
	if c.NISThreshold <= 0 {
		c.NISThreshold = d.NISThreshold
	}
	if c.InitYawVar <= 0 {
		c.InitYawVar = d.InitYawVar
	}
	if c.InitRateVar <= 0 {
		c.InitRateVar = d.InitRateVar
	}
	if c.RateAccVar <= 0 {
		c.RateAccVar = d.RateAccVar
	}
	if c.YawNoise <= 0 {
		c.YawNoise = d.YawNoise
	}
	if c.MeasFreshTimeout <= 0 {
		c.MeasFreshTimeout = d.MeasFreshTimeout
	}
	if c.TargetValidTimeout <= 0 {
		c.TargetValidTimeout = d.TargetValidTimeout
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// OrientationSnapshot is the published yaw estimate.
type OrientationSnapshot struct {
	Time        time.Time `json:"time"`
	Valid       bool      `json:"valid"`
	Initialized bool      `json:"initialized"`
	TimedOut    bool      `json:"timed_out"`
	Yaw         float64   `json:"yaw"`
	YawRate     float64   `json:"yaw_rate"`
	YawVar      float64   `json:"yaw_var"`
	YawRateVar  float64   `json:"yaw_rate_var"`
}

// Orientation estimates the target heading (and heading rate for moving
// targets) from vision yaw observations. Not safe for concurrent use.
type Orientation struct {
	cfg   OrientationConfig
	model kf.Model

	filter *kf.Filter

	initialized bool
	timedOut    bool
	lastPredict time.Time
	lastUpdate  time.Time

	vision struct {
		r  VisionReport
		ok bool
	}

	innovations []InnovationRecord
}

// NewOrientation returns an uninitialized yaw estimator.
func NewOrientation(cfg OrientationConfig) *Orientation {
	cfg = cfg.withDefaults()
	model := kf.StaticYaw
	if cfg.TargetMoving {
		model = kf.MovingYaw
	}
	return &Orientation{
		cfg:    cfg,
		model:  model,
		filter: kf.New(model, cfg.NISThreshold),
	}
}

// SetVisionReport supplies the latest fiducial-marker report; only its yaw
// component is consumed here.
func (o *Orientation) SetVisionReport(r VisionReport) { o.vision.r, o.vision.ok = r, true }

// HasTimedOut reports the terminal timeout flag; it stays set until Reset.
func (o *Orientation) HasTimedOut() bool { return o.timedOut }

// Initialized reports whether the filter holds an estimate.
func (o *Orientation) Initialized() bool { return o.initialized }

// Reset invalidates the estimate and clears the timeout flag.
func (o *Orientation) Reset() {
	o.filter.Reset()
	o.initialized = false
	o.timedOut = false
	o.lastPredict = time.Time{}
	o.lastUpdate = time.Time{}
	o.innovations = o.innovations[:0]
}

// Update runs one yaw estimator cycle. Once timed out it is a no-op until
// Reset.
func (o *Orientation) Update(now time.Time) {
	o.innovations = o.innovations[:0]
	if o.timedOut {
		return
	}

	if o.initialized {
		dt := now.Sub(o.lastPredict).Seconds()
		if dt < 0 {
			dt = 0
		}
		o.filter.PredictState(dt, 0)
		o.filter.PredictCovariance(dt)
		o.filter.AddInputNoise(dt, o.cfg.RateAccVar)
		o.lastPredict = now
	}

	meas, measTime, ok := o.yawObservation(now)
	if ok {
		if !o.initialized {
			state := make([]float64, o.model.StateSize())
			vars := make([]float64, o.model.StateSize())
			state[o.model.PosIndex()] = meas
			vars[o.model.PosIndex()] = o.cfg.InitYawVar
			if v := o.model.VelIndex(); v >= 0 {
				vars[v] = o.cfg.InitRateVar
			}
			if err := o.filter.Init(state, vars); err == nil {
				o.initialized = true
				o.lastPredict = now
				o.lastUpdate = now
			}
		} else if o.fuseYaw(now, meas, measTime) {
			o.lastUpdate = now
		}
	}

	if o.initialized && now.Sub(o.lastUpdate) > o.cfg.Timeout {
		o.timedOut = true
	}
}

func (o *Orientation) yawObservation(now time.Time) (yaw float64, ts time.Time, ok bool) {
	if !o.vision.ok || !o.vision.r.HasYaw {
		return 0, ts, false
	}
	r := o.vision.r
	if r.Time.IsZero() || now.Sub(r.Time) >= o.cfg.MeasFreshTimeout {
		return 0, ts, false
	}
	if math.IsNaN(r.Yaw) || math.IsInf(r.Yaw, 0) {
		return 0, ts, false
	}
	return kf.WrapPi(r.Yaw), r.Time, true
}

func (o *Orientation) fuseYaw(now time.Time, meas float64, measTime time.Time) bool {
	dtSync := now.Sub(measTime).Seconds()
	if dtSync < 0 {
		dtSync = 0
	}

	row := make([]float64, o.model.StateSize())
	row[o.model.PosIndex()] = 1
	if err := o.filter.SetObservationRow(row); err != nil {
		return false
	}

	unc := o.cfg.YawNoise * o.cfg.YawNoise
	if o.vision.r.HasVar && o.vision.r.YawVar > unc {
		unc = o.vision.r.YawVar
	}

	o.filter.Resynchronize(dtSync)
	rec := InnovationRecord{Source: "vision_yaw", Time: now}
	rec.Observation[0] = meas
	rec.Innovation[0] = o.filter.ComputeInnovation(meas)
	rec.InnovationVariance[0] = o.filter.ComputeInnovationCovariance(unc)
	fused := o.filter.Update()
	rec.NIS[0] = o.filter.NIS()
	rec.Fused = fused
	o.innovations = append(o.innovations, rec)
	return fused
}

// Innovations returns the fusion records from the last Update. The slice is
// reused across cycles; callers must not retain it.
func (o *Orientation) Innovations() []InnovationRecord { return o.innovations }

// Snapshot returns the current yaw estimate; Valid mirrors the position
// facade's semantics.
func (o *Orientation) Snapshot(now time.Time) OrientationSnapshot {
	snap := OrientationSnapshot{Time: now, Initialized: o.initialized, TimedOut: o.timedOut}
	if !o.initialized {
		return snap
	}
	snap.Yaw = o.filter.StateAt(o.model.PosIndex())
	snap.YawVar = o.filter.VarianceAt(o.model.PosIndex())
	if v := o.model.VelIndex(); v >= 0 {
		snap.YawRate = o.filter.StateAt(v)
		snap.YawRateVar = o.filter.VarianceAt(v)
	}
	age := now.Sub(o.lastUpdate)
	snap.Valid = !o.timedOut && age >= 0 && age < o.cfg.TargetValidTimeout
	return snap
}
