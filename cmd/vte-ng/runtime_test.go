package main

import (
	"math"
	"testing"
	"time"

	"vte-ng/internal/config"
	"vte-ng/internal/estimator"
)

type fakeSink struct {
	positions    []estimator.Snapshot
	orientations []estimator.OrientationSnapshot
	innovations  []estimator.InnovationRecord
	err          error
}

func (s *fakeSink) PublishPosition(snap estimator.Snapshot) error {
	if s.err != nil {
		return s.err
	}
	s.positions = append(s.positions, snap)
	return nil
}

func (s *fakeSink) PublishOrientation(snap estimator.OrientationSnapshot) error {
	if s.err != nil {
		return s.err
	}
	s.orientations = append(s.orientations, snap)
	return nil
}

func (s *fakeSink) PublishInnovations(recs []estimator.InnovationRecord) error {
	if s.err != nil {
		return s.err
	}
	s.innovations = append(s.innovations, recs...)
	return nil
}

func simConfig() config.Config {
	return config.Config{
		Publish: config.PublishConfig{
			Dest:        "127.0.0.1:4010",
			Interval:    20 * time.Millisecond,
			Innovations: true,
		},
		Estimator: config.EstimatorConfig{
			Sources:      []string{"vision", "target_gnss_pos"},
			YawEnable:    true,
			NISThreshold: 10,
			VisionNoise:  0.05,
			GNSSPosNoise: 0.4,
			YawNoise:     0.05,
		},
		Sim: config.SimConfig{
			Enable: true,
			Period: 20 * time.Millisecond,
			LatDeg: 47.3977, LonDeg: 8.5456, AltM: 488,
			StartAGL:    20,
			Descent:     0.8,
			VisionNoise: 0.05,
			GNSSNoise:   0.4,
			Seed:        7,
		},
	}
}

func runSteps(t *testing.T, rt *runtime, n int) time.Time {
	t.Helper()
	rt.start = time.Date(2025, 12, 20, 19, 0, 0, 0, time.UTC)
	now := rt.start
	for i := 0; i < n; i++ {
		now = rt.start.Add(time.Duration(i) * rt.cfg.Publish.Interval)
		if err := rt.step(now); err != nil {
			t.Fatalf("step() error: %v", err)
		}
	}
	return now
}

func TestRuntime_SimulatedApproachConverges(t *testing.T) {
	sink := &fakeSink{}
	rt, err := newRuntime(simConfig(), sink)
	if err != nil {
		t.Fatalf("newRuntime() error: %v", err)
	}

	now := runSteps(t, rt, 250)

	if len(sink.positions) != 250 {
		t.Fatalf("published %d position snapshots, want 250", len(sink.positions))
	}
	last := sink.positions[len(sink.positions)-1]
	if !last.Valid {
		t.Fatalf("last snapshot invalid: %+v", last)
	}
	truth := rt.approach.TruthAt(now.Sub(rt.start))
	for i := 0; i < 3; i++ {
		if math.Abs(last.RelPosNED[i]-truth.RelPosNED[i]) > 0.2 {
			t.Fatalf("pos[%d]=%v truth=%v", i, last.RelPosNED[i], truth.RelPosNED[i])
		}
	}

	if len(sink.orientations) != 250 {
		t.Fatalf("published %d orientation snapshots, want 250", len(sink.orientations))
	}
	lastYaw := sink.orientations[len(sink.orientations)-1]
	if !lastYaw.Valid || math.Abs(lastYaw.Yaw-truth.Yaw) > 0.1 {
		t.Fatalf("yaw snapshot=%+v truth yaw=%v", lastYaw, truth.Yaw)
	}

	if len(sink.innovations) == 0 {
		t.Fatalf("no innovation records published")
	}
	seen := map[string]bool{}
	for _, r := range sink.innovations {
		seen[r.Source] = true
	}
	for _, want := range []string{"vision", "target_gnss_pos", "vision_yaw"} {
		if !seen[want] {
			t.Fatalf("no innovation records from %s", want)
		}
	}
}

func TestRuntime_InnovationsDisabled(t *testing.T) {
	cfg := simConfig()
	cfg.Publish.Innovations = false
	sink := &fakeSink{}
	rt, err := newRuntime(cfg, sink)
	if err != nil {
		t.Fatalf("newRuntime() error: %v", err)
	}
	runSteps(t, rt, 10)
	if len(sink.innovations) != 0 {
		t.Fatalf("published %d innovation records with publishing disabled", len(sink.innovations))
	}
	if len(sink.positions) != 10 {
		t.Fatalf("published %d position snapshots, want 10", len(sink.positions))
	}
}

func TestRuntime_UnknownSourceRejected(t *testing.T) {
	cfg := simConfig()
	cfg.Estimator.Sources = []string{"radar"}
	if _, err := newRuntime(cfg, &fakeSink{}); err == nil {
		t.Fatalf("expected error for unknown source")
	}
}

func TestRuntime_MissionConfigSeedsEstimator(t *testing.T) {
	cfg := simConfig()
	cfg.Estimator.Sources = []string{"mission_pos"}
	cfg.Mission = config.MissionConfig{
		Enable: true,
		LatDeg: cfg.Sim.LatDeg, LonDeg: cfg.Sim.LonDeg, AltM: cfg.Sim.AltM,
	}
	sink := &fakeSink{}
	rt, err := newRuntime(cfg, sink)
	if err != nil {
		t.Fatalf("newRuntime() error: %v", err)
	}
	runSteps(t, rt, 5)
	last := sink.positions[len(sink.positions)-1]
	if !last.Initialized {
		t.Fatalf("estimator did not initialize from the mission coordinate")
	}
}
