package main

import (
	"context"
	"log"
	"time"

	"vte-ng/internal/config"
	"vte-ng/internal/estimator"
	"vte-ng/internal/sim"
)

// telemetrySink is what the runtime needs from the UDP publisher.
type telemetrySink interface {
	PublishPosition(estimator.Snapshot) error
	PublishOrientation(estimator.OrientationSnapshot) error
	PublishInnovations([]estimator.InnovationRecord) error
}

type runtime struct {
	cfg     config.Config
	sources estimator.SourceMask

	pos *estimator.Position
	yaw *estimator.Orientation

	approach sim.Approach

	sink telemetrySink

	start    time.Time
	timedOut bool
}

func newRuntime(cfg config.Config, sink telemetrySink) (*runtime, error) {
	pc, err := cfg.Estimator.PositionConfig()
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:     cfg,
		sources: pc.Enabled,
		pos:     estimator.NewPosition(pc),
		sink:    sink,
	}
	if cfg.Estimator.YawEnable {
		rt.yaw = estimator.NewOrientation(cfg.Estimator.OrientationConfig())
	}

	if off := cfg.Estimator.GNSSOffsetNED; len(off) == 3 {
		rt.pos.SetGNSSOffset([3]float64{off[0], off[1], off[2]}, true)
	}
	if cfg.Mission.Enable {
		rt.pos.SetMissionPosition(estimator.MissionPosition{
			Valid:  true,
			LatDeg: cfg.Mission.LatDeg,
			LonDeg: cfg.Mission.LonDeg,
			AltM:   cfg.Mission.AltM,
		})
	}
	if cfg.Sim.Enable {
		rt.approach = sim.Approach{
			LatDeg: cfg.Sim.LatDeg, LonDeg: cfg.Sim.LonDeg, AltM: cfg.Sim.AltM,
			StartAGL:    cfg.Sim.StartAGL,
			Descent:     cfg.Sim.Descent,
			VisionNoise: cfg.Sim.VisionNoise,
			GNSSNoise:   cfg.Sim.GNSSNoise,
			Seed:        cfg.Sim.Seed,
		}
	}

	return rt, nil
}

func (rt *runtime) run(ctx context.Context) error {
	rt.start = time.Now()
	ticker := time.NewTicker(rt.cfg.Publish.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := rt.step(now); err != nil {
				return err
			}
		}
	}
}

// step runs one estimation cycle and publishes the results.
func (rt *runtime) step(now time.Time) error {
	elapsed := now.Sub(rt.start)

	var acc [3]float64
	if rt.cfg.Sim.Enable {
		rt.pos.SetVisionReport(rt.approach.VisionReportAt(now, elapsed))
		rt.pos.SetVehicleGNSS(rt.approach.VehicleFixAt(now, elapsed))
		rt.pos.SetTargetGNSS(rt.approach.TargetFixAt(now, elapsed))
		rt.pos.SetUWBReport(rt.approach.UWBReportAt(now, elapsed))
		if rt.yaw != nil {
			rt.yaw.SetVisionReport(rt.approach.VisionReportAt(now, elapsed))
		}
		acc = rt.approach.AccelerationAt(elapsed)
	}

	rt.pos.Update(now, acc)
	if rt.yaw != nil {
		rt.yaw.Update(now)
	}

	if timedOut := rt.pos.HasTimedOut(); timedOut != rt.timedOut {
		rt.timedOut = timedOut
		if timedOut {
			log.Printf("position estimator timed out; holding until reset")
		}
	}

	if err := rt.sink.PublishPosition(rt.pos.Snapshot(now)); err != nil {
		return err
	}
	if rt.cfg.Publish.Innovations {
		if err := rt.sink.PublishInnovations(rt.pos.Innovations()); err != nil {
			return err
		}
	}
	if rt.yaw != nil {
		if err := rt.sink.PublishOrientation(rt.yaw.Snapshot(now)); err != nil {
			return err
		}
		if rt.cfg.Publish.Innovations {
			if err := rt.sink.PublishInnovations(rt.yaw.Innovations()); err != nil {
				return err
			}
		}
	}
	return nil
}
