package kf

import "gonum.org/v1/gonum/mat"

// Model selects the per-axis state layout and its transition dynamics.
//
// The layouts are fixed at construction time:
//
//	StaticPosition: [pos, bias]
//	MovingPosition: [pos, vel, bias]
//	StaticYaw:      [yaw]
//	MovingYaw:      [yaw, yawRate]
//
// pos is the target position relative to the vehicle along one axis, bias is
// the offset between the GNSS-derived relative position and the secondary
// (vision/UWB) position source.
type Model int

const (
	StaticPosition Model = iota
	MovingPosition
	StaticYaw
	MovingYaw
)

func (m Model) String() string {
	switch m {
	case StaticPosition:
		return "static-position"
	case MovingPosition:
		return "moving-position"
	case StaticYaw:
		return "static-yaw"
	case MovingYaw:
		return "moving-yaw"
	}
	return "unknown"
}

// StateSize returns the dimension of the state vector for this layout.
func (m Model) StateSize() int {
	switch m {
	case StaticPosition:
		return 2
	case MovingPosition:
		return 3
	case StaticYaw:
		return 1
	case MovingYaw:
		return 2
	}
	return 0
}

// PosIndex returns the index of the position (or yaw) state.
func (m Model) PosIndex() int { return 0 }

// VelIndex returns the index of the velocity (or yaw-rate) state, or -1 when
// the layout carries none.
func (m Model) VelIndex() int {
	switch m {
	case MovingPosition, MovingYaw:
		return 1
	}
	return -1
}

// BiasIndex returns the index of the bias state, or -1 when the layout
// carries none.
func (m Model) BiasIndex() int {
	switch m {
	case StaticPosition:
		return 1
	case MovingPosition:
		return 2
	}
	return -1
}

// Angular reports whether the first state component is an angle that must be
// kept wrapped to (-pi, pi].
func (m Model) Angular() bool {
	return m == StaticYaw || m == MovingYaw
}

// Phi returns the state transition matrix for an elapsed time dt.
//
// Position propagates as a random walk in the static layouts and linearly via
// the velocity state in the moving layouts. Bias is constant. Phi(0) is the
// identity, and Phi is invertible for every dt with Phi(dt)^-1 == Phi(-dt).
func (m Model) Phi(dt float64) *mat.Dense {
	n := m.StateSize()
	phi := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		phi.Set(i, i, 1)
	}
	if v := m.VelIndex(); v >= 0 {
		phi.Set(m.PosIndex(), v, dt)
	}
	return phi
}

// PhiInv returns the inverse of Phi(dt). The layouts are unit upper
// triangular, so the inverse is Phi(-dt) in closed form.
func (m Model) PhiInv(dt float64) *mat.Dense {
	return m.Phi(-dt)
}

// ControlGain returns the gain mapping the scalar acceleration input into the
// state over dt. Only the moving-position layout consumes the control term:
// the static layouts model the target as a random walk and the yaw layouts
// have no acceleration input at all.
func (m Model) ControlGain(dt float64) *mat.VecDense {
	g := mat.NewVecDense(m.StateSize(), nil)
	if m == MovingPosition {
		g.SetVec(m.PosIndex(), 0.5*dt*dt)
		g.SetVec(m.VelIndex(), dt)
	}
	return g
}

// NoiseGain returns the gain mapping the acceleration (or rate) process
// uncertainty into the state over dt, used by Filter.AddInputNoise.
func (m Model) NoiseGain(dt float64) *mat.VecDense {
	g := mat.NewVecDense(m.StateSize(), nil)
	switch m {
	case StaticPosition:
		// Random-walk position: uncertainty grows like velocity noise.
		g.SetVec(m.PosIndex(), dt)
	case MovingPosition:
		g.SetVec(m.PosIndex(), 0.5*dt*dt)
		g.SetVec(m.VelIndex(), dt)
	case StaticYaw:
		g.SetVec(m.PosIndex(), dt)
	case MovingYaw:
		g.SetVec(m.PosIndex(), 0.5*dt*dt)
		g.SetVec(m.VelIndex(), dt)
	}
	return g
}
