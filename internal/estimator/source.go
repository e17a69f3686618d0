package estimator

// Source identifies one sensor input to the fusion step.
type Source int

const (
	SourceTargetGNSSPos Source = iota
	SourceMissionPos
	SourceVehicleGNSSVel
	SourceTargetGNSSVel
	SourceVision
	SourceUWB
	numSources
)

func (s Source) String() string {
	switch s {
	case SourceTargetGNSSPos:
		return "target_gnss_pos"
	case SourceMissionPos:
		return "mission_pos"
	case SourceVehicleGNSSVel:
		return "vehicle_gnss_vel"
	case SourceTargetGNSSVel:
		return "target_gnss_vel"
	case SourceVision:
		return "vision"
	case SourceUWB:
		return "uwb"
	}
	return "unknown"
}

// fuseOrder is the fixed order observations are fused in. Higher-trust
// sources come first so that gating on the noisier ones runs against an
// already-improved estimate. Changing this order changes numerical results.
var fuseOrder = [numSources]Source{
	SourceMissionPos,
	SourceTargetGNSSPos,
	SourceTargetGNSSVel,
	SourceVehicleGNSSVel,
	SourceVision,
	SourceUWB,
}

// initPriority is the order position sources are considered when seeding an
// uninitialized estimator; the first available source wins.
var initPriority = []Source{
	SourceMissionPos,
	SourceTargetGNSSPos,
	SourceVision,
	SourceUWB,
}

// SourceMask is a set of sources. One instance holds the configured enables,
// a second is rebuilt each cycle with the sources that currently hold fresh,
// valid data; a source is fused only when present in both.
type SourceMask uint8

func (m SourceMask) Has(s Source) bool { return m&(1<<uint(s)) != 0 }

func (m *SourceMask) Set(s Source) { *m |= 1 << uint(s) }

func (m *SourceMask) Clear(s Source) { *m &^= 1 << uint(s) }

// HasPosition reports whether any relative-position source is present.
func (m SourceMask) HasPosition() bool {
	return m.Has(SourceMissionPos) || m.Has(SourceTargetGNSSPos) || m.Has(SourceVision) || m.Has(SourceUWB)
}

// HasNonGNSSPosition reports whether a position source independent of GNSS is
// present; this is the precondition for estimating the GNSS bias.
func (m SourceMask) HasNonGNSSPosition() bool {
	return m.Has(SourceVision) || m.Has(SourceUWB)
}

func (m SourceMask) String() string {
	out := ""
	for s := Source(0); s < numSources; s++ {
		if m.Has(s) {
			if out != "" {
				out += "|"
			}
			out += s.String()
		}
	}
	if out == "" {
		return "none"
	}
	return out
}
