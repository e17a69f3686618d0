package estimator

import (
	"math"
	"testing"
	"time"
)

func yawReport(t time.Time, yaw float64) VisionReport {
	return VisionReport{Time: t, Yaw: yaw, HasYaw: true}
}

func TestOrientationInitializesFromVisionYaw(t *testing.T) {
	o := NewOrientation(OrientationConfig{})
	now := baseTime()

	o.Update(now)
	if o.Initialized() {
		t.Fatalf("initialized with no yaw data")
	}

	o.SetVisionReport(yawReport(now, 1.2))
	o.Update(now)
	if !o.Initialized() {
		t.Fatalf("did not initialize from vision yaw")
	}
	snap := o.Snapshot(now)
	if math.Abs(snap.Yaw-1.2) > 1e-12 {
		t.Fatalf("yaw=%v want 1.2", snap.Yaw)
	}
	if !snap.Valid {
		t.Fatalf("snapshot invalid right after initialization")
	}
}

func TestOrientationIgnoresReportWithoutYaw(t *testing.T) {
	o := NewOrientation(OrientationConfig{})
	now := baseTime()
	o.SetVisionReport(VisionReport{Time: now, RelPosNED: [3]float64{1, 0, -2}})
	o.Update(now)
	if o.Initialized() {
		t.Fatalf("initialized from a report carrying no yaw")
	}
}

func TestOrientationYawPullsTowardMeasurement(t *testing.T) {
	o := NewOrientation(OrientationConfig{InitYawVar: 0.05, YawNoise: 0.1})
	now := baseTime()
	o.SetVisionReport(yawReport(now, 0.9))
	o.Update(now)

	now = now.Add(20 * time.Millisecond)
	o.SetVisionReport(yawReport(now, 1.0))
	o.Update(now)

	recs := o.Innovations()
	if len(recs) != 1 || !recs[0].Fused || recs[0].Source != "vision_yaw" {
		t.Fatalf("expected one fused vision_yaw record, got %+v", recs)
	}
	snap := o.Snapshot(now)
	if snap.Yaw <= 0.9 || snap.Yaw >= 1.0 {
		t.Fatalf("yaw=%v want strictly within (0.9, 1.0)", snap.Yaw)
	}
}

func TestOrientationInnovationWrapsAcrossSeam(t *testing.T) {
	o := NewOrientation(OrientationConfig{InitYawVar: 0.05, YawNoise: 0.1, NISThreshold: 100})
	now := baseTime()
	o.SetVisionReport(yawReport(now, math.Pi-0.05))
	o.Update(now)

	// Measurement just past the seam: the innovation must take the short
	// way around, not the 2*pi detour.
	now = now.Add(20 * time.Millisecond)
	o.SetVisionReport(yawReport(now, -math.Pi+0.05))
	o.Update(now)

	recs := o.Innovations()
	if len(recs) != 1 {
		t.Fatalf("got %d records want 1", len(recs))
	}
	if math.Abs(recs[0].Innovation[0]-0.1) > 1e-9 {
		t.Fatalf("innovation=%v want 0.1", recs[0].Innovation[0])
	}
	snap := o.Snapshot(now)
	if snap.Yaw < math.Pi-0.05 && snap.Yaw > -math.Pi+0.05 {
		t.Fatalf("yaw=%v did not move toward the seam", snap.Yaw)
	}
}

func TestOrientationRatePredictsYawInMovingMode(t *testing.T) {
	o := NewOrientation(OrientationConfig{TargetMoving: true, NISThreshold: 100, YawNoise: 0.1})
	now := baseTime()
	o.SetVisionReport(yawReport(now, 0))
	o.Update(now)

	// Feed a steadily rotating target; the rate state must pick up the
	// trend and the yaw must track it.
	rate := 0.5
	for i := 1; i <= 100; i++ {
		now = now.Add(20 * time.Millisecond)
		o.SetVisionReport(yawReport(now, rate*float64(i)*0.02))
		o.Update(now)
	}
	snap := o.Snapshot(now)
	if math.Abs(snap.Yaw-1.0) > 0.05 {
		t.Fatalf("yaw=%v want ~1.0 after 2s at 0.5 rad/s", snap.Yaw)
	}
	if math.Abs(snap.YawRate-rate) > 0.1 {
		t.Fatalf("yaw rate=%v want ~%v", snap.YawRate, rate)
	}
}

func TestOrientationTimeoutIsTerminalUntilReset(t *testing.T) {
	o := NewOrientation(OrientationConfig{Timeout: 3 * time.Second})
	now := baseTime()
	o.SetVisionReport(yawReport(now, 0.3))
	o.Update(now)
	if !o.Initialized() {
		t.Fatalf("did not initialize")
	}

	now = now.Add(3100 * time.Millisecond)
	o.Update(now)
	if !o.HasTimedOut() {
		t.Fatalf("did not time out after the horizon")
	}
	if o.Snapshot(now).Valid {
		t.Fatalf("snapshot valid while timed out")
	}

	now = now.Add(20 * time.Millisecond)
	o.SetVisionReport(yawReport(now, 0.3))
	o.Update(now)
	if !o.HasTimedOut() {
		t.Fatalf("timeout flag cleared without Reset")
	}

	o.Reset()
	now = now.Add(20 * time.Millisecond)
	o.SetVisionReport(yawReport(now, 0.3))
	o.Update(now)
	if !o.Initialized() || o.HasTimedOut() {
		t.Fatalf("did not reinitialize after Reset")
	}
}

func TestOrientationReportedYawVarianceUsedAboveFloor(t *testing.T) {
	run := func(yawVar float64, hasVar bool) float64 {
		o := NewOrientation(OrientationConfig{YawNoise: 0.1, NISThreshold: 100})
		now := baseTime()
		o.SetVisionReport(yawReport(now, 0.5))
		o.Update(now)

		now = now.Add(20 * time.Millisecond)
		r := yawReport(now, 0.5)
		r.HasVar = hasVar
		r.YawVar = yawVar
		o.SetVisionReport(r)
		o.Update(now)
		recs := o.Innovations()
		if len(recs) != 1 {
			t.Fatalf("got %d records want 1", len(recs))
		}
		return recs[0].InnovationVariance[0]
	}

	sFloor := run(0, false)
	sLarge := run(0.25, true)
	sTiny := run(1e-6, true)
	if d := sLarge - sFloor; math.Abs(d-0.24) > 1e-9 {
		t.Fatalf("reported variance not used: diff=%v want 0.24", d)
	}
	if sTiny != sFloor {
		t.Fatalf("floor not applied to tiny reported variance: %v vs %v", sTiny, sFloor)
	}
}
