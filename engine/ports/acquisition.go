package ports

import "github.com/aefi-lab/scanctl/engine/models"

// AcquisitionPort is the abstract surface over the DDS-driven ADC /
// demodulation chain.
//
// AcquireSample is a single blocking discrete sample (used by StepScan).
// ConfigureRate/StartStreaming/StopStreaming/DrainSamples support the
// continuous streaming mode used by FlyScan and live monitoring.
type AcquisitionPort interface {
	AcquireSample() (models.VoltageMeasurement, error)
	ConfigureRate(hz float64) error
	StartStreaming() error
	StopStreaming() error
	DrainSamples() []models.VoltageMeasurement
}
