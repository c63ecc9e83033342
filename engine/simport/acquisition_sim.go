package simport

import (
	"sync"
	"time"

	"github.com/aefi-lab/scanctl/engine/models"
	"github.com/aefi-lab/scanctl/engine/ports"
)

// AcquisitionSim is a simulated AcquisitionPort returning a fixed or
// generator-produced measurement. While streaming, it pushes samples onto an
// internal buffer at the rate set by ConfigureRate (100 Hz if unset) until
// StopStreaming is called.
type AcquisitionSim struct {
	// Measurement is returned by AcquireSample when Generator is nil.
	Measurement models.VoltageMeasurement
	// Generator, when set, produces each AcquireSample/streamed sample;
	// overrides Measurement.
	Generator func(seq int) models.VoltageMeasurement

	mu        sync.Mutex
	rateHz    float64
	streaming bool
	stopCh    chan struct{}
	buffer    []models.VoltageMeasurement
	seq       int
}

func NewAcquisitionSim(measurement models.VoltageMeasurement) *AcquisitionSim {
	return &AcquisitionSim{Measurement: measurement}
}

func (a *AcquisitionSim) next() models.VoltageMeasurement {
	a.seq++
	if a.Generator != nil {
		m := a.Generator(a.seq)
		m.Timestamp = time.Now()
		return m
	}
	m := a.Measurement
	m.Timestamp = time.Now()
	return m
}

func (a *AcquisitionSim) AcquireSample() (models.VoltageMeasurement, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next(), nil
}

func (a *AcquisitionSim) ConfigureRate(hz float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rateHz = hz
	return nil
}

func (a *AcquisitionSim) StartStreaming() error {
	a.mu.Lock()
	if a.streaming {
		a.mu.Unlock()
		return nil
	}
	a.streaming = true
	rate := a.rateHz
	if rate <= 0 {
		rate = 100
	}
	a.stopCh = make(chan struct{})
	stop := a.stopCh
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.mu.Lock()
				a.buffer = append(a.buffer, a.next())
				a.mu.Unlock()
			}
		}
	}()
	return nil
}

func (a *AcquisitionSim) StopStreaming() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.streaming {
		return nil
	}
	close(a.stopCh)
	a.streaming = false
	return nil
}

func (a *AcquisitionSim) DrainSamples() []models.VoltageMeasurement {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.buffer
	a.buffer = nil
	return out
}

var _ ports.AcquisitionPort = (*AcquisitionSim)(nil)
