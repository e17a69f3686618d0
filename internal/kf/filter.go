// Package kf implements the per-axis linear Kalman filters used by the
// target estimator. Each filter is a small fixed-size value whose layout is
// selected by a Model; measurements are scalar and arrive through an
// observation row set by the caller before each innovation computation.
package kf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// minInnovCov guards the Kalman gain division.
const minInnovCov = 1e-6

// Filter is a per-axis linear Kalman filter. It is not safe for concurrent
// use; the owning estimator serializes all access.
//
// The usual call sequence per cycle is PredictState/PredictCovariance (at the
// prediction rate), then per measurement: SetObservationRow, Resynchronize,
// ComputeInnovation, ComputeInnovationCovariance, Update.
type Filter struct {
	model Model

	state *mat.VecDense
	cov   *mat.Dense

	// syncState is the state re-aligned to a measurement timestamp by
	// Resynchronize. It never feeds back into state.
	syncState *mat.VecDense

	obsRow *mat.VecDense

	innov    float64
	innovCov float64
	nis      float64

	nisThreshold float64

	initialized bool
}

// New returns an uninitialized filter for the given layout. nisThreshold is
// the normalized-innovation-squared gate applied by Update; values <= 0
// disable gating.
func New(model Model, nisThreshold float64) *Filter {
	n := model.StateSize()
	return &Filter{
		model:        model,
		state:        mat.NewVecDense(n, nil),
		cov:          mat.NewDense(n, n, nil),
		syncState:    mat.NewVecDense(n, nil),
		obsRow:       mat.NewVecDense(n, nil),
		nisThreshold: nisThreshold,
	}
}

// Init seeds the state and the (diagonal) covariance and moves the filter to
// the tracking state.
func (f *Filter) Init(state, variances []float64) error {
	n := f.model.StateSize()
	if len(state) != n {
		return fmt.Errorf("kf: state size %d, layout %s needs %d", len(state), f.model, n)
	}
	if len(variances) != n {
		return fmt.Errorf("kf: variance size %d, layout %s needs %d", len(variances), f.model, n)
	}
	for i := 0; i < n; i++ {
		f.state.SetVec(i, state[i])
		for j := 0; j < n; j++ {
			f.cov.Set(i, j, 0)
		}
		f.cov.Set(i, i, variances[i])
	}
	f.wrapState(f.state)
	f.initialized = true
	return nil
}

// Reset returns the filter to the uninitialized state.
func (f *Filter) Reset() {
	f.initialized = false
	f.state.Zero()
	f.cov.Zero()
	f.syncState.Zero()
	f.innov = 0
	f.innovCov = 0
	f.nis = 0
}

// Initialized reports whether Init has been called since the last Reset.
func (f *Filter) Initialized() bool { return f.initialized }

// Model returns the filter's state layout.
func (f *Filter) Model() Model { return f.model }

// PredictState propagates the state by dt using the layout's transition
// matrix, applying accel through the control gain where the layout consumes
// it. Angular components are re-wrapped. dt must be >= 0.
func (f *Filter) PredictState(dt, accel float64) {
	phi := f.model.Phi(dt)
	var next mat.VecDense
	next.MulVec(phi, f.state)
	next.AddScaledVec(&next, accel, f.model.ControlGain(dt))
	f.state.CopyVec(&next)
	f.wrapState(f.state)
}

// PredictCovariance propagates the covariance by dt: P <- Phi P Phi'.
//
// No process-noise term is injected here. Callers must not assume automatic
// uncertainty growth; they account for process noise explicitly via
// AddInputNoise (or by re-seeding on reset).
func (f *Filter) PredictCovariance(dt float64) {
	phi := f.model.Phi(dt)
	var tmp, next mat.Dense
	tmp.Mul(phi, f.cov)
	next.Mul(&tmp, phi.T())
	f.cov.Copy(&next)
	f.symmetrize()
}

// AddInputNoise inflates the covariance with the input-noise term
// G(dt) variance G(dt)', where variance is the acceleration (or rate)
// process uncertainty over the interval.
func (f *Filter) AddInputNoise(dt, variance float64) {
	if variance <= 0 || dt <= 0 {
		return
	}
	g := f.model.NoiseGain(dt)
	n := f.model.StateSize()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			f.cov.Set(i, j, f.cov.At(i, j)+variance*g.AtVec(i)*g.AtVec(j))
		}
	}
}

// Resynchronize computes the synced state at measurement time by applying the
// inverse transition matrix over dt to the prediction-time state. The primary
// state is left untouched.
func (f *Filter) Resynchronize(dt float64) {
	f.syncState.MulVec(f.model.PhiInv(dt), f.state)
	f.wrapState(f.syncState)
}

// SetObservationRow sets the row of the observation matrix mapping the state
// to the next scalar measurement.
func (f *Filter) SetObservationRow(row []float64) error {
	if len(row) != f.model.StateSize() {
		return fmt.Errorf("kf: observation row size %d, layout %s needs %d", len(row), f.model, f.model.StateSize())
	}
	for i, v := range row {
		f.obsRow.SetVec(i, v)
	}
	return nil
}

// ComputeInnovation stores and returns meas - H*syncState.
func (f *Filter) ComputeInnovation(meas float64) float64 {
	f.innov = meas - mat.Dot(f.obsRow, f.syncState)
	if f.model.Angular() {
		f.innov = WrapPi(f.innov)
	}
	return f.innov
}

// ComputeInnovationCovariance stores and returns S = H P H' + measUnc.
func (f *Filter) ComputeInnovationCovariance(measUnc float64) float64 {
	var ph mat.VecDense
	ph.MulVec(f.cov, f.obsRow)
	f.innovCov = mat.Dot(f.obsRow, &ph) + measUnc
	return f.innovCov
}

// Update applies the measurement prepared by the preceding ComputeInnovation
// and ComputeInnovationCovariance calls. It returns false, leaving the state
// and covariance unchanged, when the innovation covariance is too small to
// divide by or when the normalized innovation squared exceeds the gate.
func (f *Filter) Update() bool {
	if math.Abs(f.innovCov) < minInnovCov {
		f.nis = 0
		return false
	}

	f.nis = f.innov * f.innov / f.innovCov
	if f.nisThreshold > 0 && f.nis > f.nisThreshold {
		return false
	}

	// K = P H' / S
	var gain mat.VecDense
	gain.MulVec(f.cov, f.obsRow)
	gain.ScaleVec(1/f.innovCov, &gain)

	f.state.AddScaledVec(f.state, f.innov, &gain)
	f.wrapState(f.state)

	// P <- P - K H P
	n := f.model.StateSize()
	var hp mat.VecDense
	hp.MulVec(f.cov.T(), f.obsRow)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			f.cov.Set(i, j, f.cov.At(i, j)-gain.AtVec(i)*hp.AtVec(j))
		}
	}
	f.symmetrize()
	return true
}

// Innovation returns the last innovation computed by ComputeInnovation.
func (f *Filter) Innovation() float64 { return f.innov }

// InnovationCovariance returns the last value from ComputeInnovationCovariance.
func (f *Filter) InnovationCovariance() float64 { return f.innovCov }

// NIS returns the normalized innovation squared from the last Update call,
// whether or not the measurement was accepted.
func (f *Filter) NIS() float64 { return f.nis }

// State returns a copy of the prediction-time state vector.
func (f *Filter) State() []float64 {
	out := make([]float64, f.state.Len())
	copy(out, f.state.RawVector().Data)
	return out
}

// SyncedState returns a copy of the state computed by the last Resynchronize.
func (f *Filter) SyncedState() []float64 {
	out := make([]float64, f.syncState.Len())
	copy(out, f.syncState.RawVector().Data)
	return out
}

// StateAt returns one component of the prediction-time state.
func (f *Filter) StateAt(i int) float64 { return f.state.AtVec(i) }

// SetStateAt overwrites one component of the prediction-time state. Used by
// the bias co-estimation, which resets the bias outside the regular update.
func (f *Filter) SetStateAt(i int, v float64) {
	f.state.SetVec(i, v)
	f.wrapState(f.state)
}

// VarianceAt returns the covariance diagonal entry for one state component.
func (f *Filter) VarianceAt(i int) float64 { return f.cov.At(i, i) }

// SetVarianceAt overwrites one diagonal entry, clearing the component's
// cross-covariances. Used when the bias state is re-seeded.
func (f *Filter) SetVarianceAt(i int, v float64) {
	n := f.model.StateSize()
	for j := 0; j < n; j++ {
		f.cov.Set(i, j, 0)
		f.cov.Set(j, i, 0)
	}
	f.cov.Set(i, i, v)
}

// Covariance returns a copy of the covariance matrix.
func (f *Filter) Covariance() *mat.Dense {
	var out mat.Dense
	out.CloneFrom(f.cov)
	return &out
}

// symmetrize removes the floating-point asymmetry that accrues across
// predict/update cycles.
func (f *Filter) symmetrize() {
	n := f.model.StateSize()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := 0.5 * (f.cov.At(i, j) + f.cov.At(j, i))
			f.cov.Set(i, j, v)
			f.cov.Set(j, i, v)
		}
	}
}

func (f *Filter) wrapState(v *mat.VecDense) {
	if !f.model.Angular() {
		return
	}
	i := f.model.PosIndex()
	v.SetVec(i, WrapPi(v.AtVec(i)))
}

// WrapPi wraps an angle to (-pi, pi].
func WrapPi(a float64) float64 {
	if a > -math.Pi && a <= math.Pi {
		return a
	}
	wrapped := math.Mod(a+math.Pi, 2*math.Pi)
	if wrapped <= 0 {
		wrapped += 2 * math.Pi
	}
	return wrapped - math.Pi
}
