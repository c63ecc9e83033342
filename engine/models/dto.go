package models

import (
	"fmt"
	"math"
	"time"
)

// StepScanDTO is the boundary representation of a step-scan request: raw
// numbers and enum names as strings, as delivered by a UI or config file.
// Parse normalizes and validates it into a StepScanConfig.
type StepScanDTO struct {
	XMin float64 `yaml:"x_min" json:"x_min"`
	XMax float64 `yaml:"x_max" json:"x_max"`
	YMin float64 `yaml:"y_min" json:"y_min"`
	YMax float64 `yaml:"y_max" json:"y_max"`

	XNbPoints int    `yaml:"x_nb_points" json:"x_nb_points"`
	YNbPoints int    `yaml:"y_nb_points" json:"y_nb_points"`
	Pattern   string `yaml:"scan_pattern" json:"scan_pattern"`

	StabilizationDelayMS int     `yaml:"stabilization_delay_ms" json:"stabilization_delay_ms"`
	AveragingPerPosition int     `yaml:"averaging_per_position" json:"averaging_per_position"`
	MotionSpeedMMPerS    float64 `yaml:"motion_speed_mm_s" json:"motion_speed_mm_s"`
	MotionTimeoutMS      int     `yaml:"motion_timeout_ms" json:"motion_timeout_ms"`
}

// Parse validates the DTO and returns the internal config.
func (d StepScanDTO) Parse() (StepScanConfig, error) {
	for _, v := range []float64{d.XMin, d.XMax, d.YMin, d.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return StepScanConfig{}, fmt.Errorf("%w: zone coordinates must be finite", ErrConfigInvalid)
		}
	}
	pattern, err := ParseScanPattern(d.Pattern)
	if err != nil {
		return StepScanConfig{}, err
	}
	cfg := StepScanConfig{
		Zone:                 ScanZone{XMin: d.XMin, XMax: d.XMax, YMin: d.YMin, YMax: d.YMax},
		XNbPoints:            d.XNbPoints,
		YNbPoints:            d.YNbPoints,
		Pattern:              pattern,
		StabilizationDelay:   time.Duration(d.StabilizationDelayMS) * time.Millisecond,
		AveragingPerPosition: d.AveragingPerPosition,
		MotionSpeedMMPerS:    d.MotionSpeedMMPerS,
		MotionTimeout:        time.Duration(d.MotionTimeoutMS) * time.Millisecond,
	}
	if err := cfg.Validate(); err != nil {
		return StepScanConfig{}, err
	}
	return cfg, nil
}

// FlyScanDTO extends StepScanDTO with the continuous-motion parameters.
type FlyScanDTO struct {
	StepScanDTO `yaml:",inline" json:",inline"`

	MinSpeedMMPerS     float64 `yaml:"min_speed_mm_s" json:"min_speed_mm_s"`
	TargetSpeedMMPerS  float64 `yaml:"target_speed_mm_s" json:"target_speed_mm_s"`
	AccelerationMMPerS float64 `yaml:"acceleration_mm_s2" json:"acceleration_mm_s2"`
	DecelerationMMPerS float64 `yaml:"deceleration_mm_s2" json:"deceleration_mm_s2"`

	DesiredAcquisitionRateHz float64 `yaml:"desired_acquisition_rate_hz" json:"desired_acquisition_rate_hz"`
	MaxSpatialGapMM          float64 `yaml:"max_spatial_gap_mm" json:"max_spatial_gap_mm"`
}

// Parse validates the DTO and returns the internal config.
func (d FlyScanDTO) Parse() (FlyScanConfig, error) {
	step, err := d.StepScanDTO.Parse()
	if err != nil {
		return FlyScanConfig{}, err
	}
	cfg := FlyScanConfig{
		StepScanConfig: step,
		MotionProfile: MotionProfile{
			MinSpeed:     d.MinSpeedMMPerS,
			TargetSpeed:  d.TargetSpeedMMPerS,
			Acceleration: d.AccelerationMMPerS,
			Deceleration: d.DecelerationMMPerS,
		},
		DesiredAcquisitionRateHz: d.DesiredAcquisitionRateHz,
		MaxSpatialGapMM:          d.MaxSpatialGapMM,
	}
	if err := cfg.Validate(); err != nil {
		return FlyScanConfig{}, err
	}
	return cfg, nil
}
