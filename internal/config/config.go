package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"vte-ng/internal/estimator"
)

type Config struct {
	Publish   PublishConfig   `yaml:"publish"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Mission   MissionConfig   `yaml:"mission"`
	Sim       SimConfig       `yaml:"sim"`
}

type PublishConfig struct {
	Dest        string        `yaml:"dest"`
	Interval    time.Duration `yaml:"interval"`
	Innovations bool          `yaml:"innovations"`
}

type EstimatorConfig struct {
	TargetMoving bool     `yaml:"target_moving"`
	Sources      []string `yaml:"sources"`
	YawEnable    bool     `yaml:"yaw_enable"`

	NISThreshold float64 `yaml:"nis_threshold"`

	InitPosVar float64 `yaml:"init_pos_var"`
	InitVelVar float64 `yaml:"init_vel_var"`
	InitYawVar float64 `yaml:"init_yaw_var"`

	VehicleAccVar float64 `yaml:"vehicle_acc_var"`
	TargetAccVar  float64 `yaml:"target_acc_var"`
	YawRateAccVar float64 `yaml:"yaw_rate_acc_var"`

	GNSSPosNoise float64 `yaml:"gnss_pos_noise"`
	GNSSVelNoise float64 `yaml:"gnss_vel_noise"`
	VisionNoise  float64 `yaml:"vision_noise"`
	UWBNoise     float64 `yaml:"uwb_noise"`
	YawNoise     float64 `yaml:"yaw_noise"`

	VisionNoiseFromReport bool `yaml:"vision_noise_from_report"`

	BiasLimit float64 `yaml:"bias_limit"`

	Timeout time.Duration `yaml:"timeout"`

	GNSSOffsetNED []float64 `yaml:"gnss_offset_ned"`
}

type MissionConfig struct {
	Enable bool    `yaml:"enable"`
	LatDeg float64 `yaml:"lat_deg"`
	LonDeg float64 `yaml:"lon_deg"`
	AltM   float64 `yaml:"alt_m"`
}

type SimConfig struct {
	Enable   bool          `yaml:"enable"`
	Period   time.Duration `yaml:"period"`
	LatDeg   float64       `yaml:"lat_deg"`
	LonDeg   float64       `yaml:"lon_deg"`
	AltM     float64       `yaml:"alt_m"`
	StartAGL float64       `yaml:"start_agl"`
	Descent  float64       `yaml:"descent_mps"`

	VisionNoise float64 `yaml:"vision_noise"`
	GNSSNoise   float64 `yaml:"gnss_noise"`
	Seed        int64   `yaml:"seed"`
}

// sourceNames maps the yaml source names to the fusion mask bits.
var sourceNames = map[string]estimator.Source{
	"target_gnss_pos":  estimator.SourceTargetGNSSPos,
	"mission_pos":      estimator.SourceMissionPos,
	"vehicle_gnss_vel": estimator.SourceVehicleGNSSVel,
	"target_gnss_vel":  estimator.SourceTargetGNSSVel,
	"vision":           estimator.SourceVision,
	"uwb":              estimator.SourceUWB,
}

// SourceMask converts the configured source names into the fusion mask.
func (c EstimatorConfig) SourceMask() (estimator.SourceMask, error) {
	var mask estimator.SourceMask
	for _, name := range c.Sources {
		s, ok := sourceNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown estimator source %q", name)
		}
		mask.Set(s)
	}
	return mask, nil
}

// PositionConfig builds the position estimator tuning. Zero fields fall back
// to the estimator defaults.
func (c EstimatorConfig) PositionConfig() (estimator.Config, error) {
	mask, err := c.SourceMask()
	if err != nil {
		return estimator.Config{}, err
	}
	return estimator.Config{
		TargetMoving:          c.TargetMoving,
		Enabled:               mask,
		NISThreshold:          c.NISThreshold,
		InitPosVar:            c.InitPosVar,
		InitVelVar:            c.InitVelVar,
		VehicleAccVar:         c.VehicleAccVar,
		TargetAccVar:          c.TargetAccVar,
		GNSSPosNoise:          c.GNSSPosNoise,
		GNSSVelNoise:          c.GNSSVelNoise,
		VisionNoise:           c.VisionNoise,
		UWBNoise:              c.UWBNoise,
		VisionNoiseFromReport: c.VisionNoiseFromReport,
		BiasLimit:             c.BiasLimit,
		Timeout:               c.Timeout,
	}, nil
}

// OrientationConfig builds the yaw estimator tuning.
func (c EstimatorConfig) OrientationConfig() estimator.OrientationConfig {
	return estimator.OrientationConfig{
		TargetMoving: c.TargetMoving,
		NISThreshold: c.NISThreshold,
		InitYawVar:   c.InitYawVar,
		RateAccVar:   c.YawRateAccVar,
		YawNoise:     c.YawNoise,
		Timeout:      c.Timeout,
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.Publish.Dest == "" {
		return Config{}, fmt.Errorf("publish.dest is required")
	}
	if cfg.Publish.Interval <= 0 {
		cfg.Publish.Interval = 50 * time.Millisecond
	}

	if len(cfg.Estimator.Sources) == 0 {
		cfg.Estimator.Sources = []string{"target_gnss_pos", "mission_pos", "vehicle_gnss_vel", "vision"}
	}
	if _, err := cfg.Estimator.SourceMask(); err != nil {
		return Config{}, err
	}
	if cfg.Estimator.NISThreshold < 0 {
		return Config{}, fmt.Errorf("estimator.nis_threshold must be >= 0")
	}
	if n := len(cfg.Estimator.GNSSOffsetNED); n != 0 && n != 3 {
		return Config{}, fmt.Errorf("estimator.gnss_offset_ned must have 3 components")
	}

	if cfg.Mission.Enable {
		if cfg.Mission.LatDeg < -90 || cfg.Mission.LatDeg > 90 {
			return Config{}, fmt.Errorf("mission.lat_deg out of range")
		}
		if cfg.Mission.LonDeg < -180 || cfg.Mission.LonDeg > 180 {
			return Config{}, fmt.Errorf("mission.lon_deg out of range")
		}
	}

	// Simulator defaults (safe even if disabled).
	if cfg.Sim.Period <= 0 {
		cfg.Sim.Period = 20 * time.Millisecond
	}
	if cfg.Sim.LatDeg == 0 && cfg.Sim.LonDeg == 0 {
		cfg.Sim.LatDeg = 47.3977
		cfg.Sim.LonDeg = 8.5456
		cfg.Sim.AltM = 488
	}
	if cfg.Sim.StartAGL <= 0 {
		cfg.Sim.StartAGL = 20
	}
	if cfg.Sim.Descent <= 0 {
		cfg.Sim.Descent = 0.8
	}
	if cfg.Sim.VisionNoise < 0 || cfg.Sim.GNSSNoise < 0 {
		return Config{}, fmt.Errorf("sim noise values must be >= 0")
	}
	if cfg.Sim.VisionNoise == 0 {
		cfg.Sim.VisionNoise = 0.05
	}
	if cfg.Sim.GNSSNoise == 0 {
		cfg.Sim.GNSSNoise = 0.4
	}

	return cfg, nil
}
