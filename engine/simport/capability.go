package simport

import (
	"math"
	"time"

	"github.com/aefi-lab/scanctl/engine/models"
)

// MeasureCapability empirically characterizes an acquisition port's
// sustainable sample rate by streaming for the given duration and computing
// the mean and standard deviation of the inter-sample rates.
func MeasureCapability(port *AcquisitionSim, duration time.Duration) models.AcquisitionRateCapability {
	_ = port.StartStreaming()
	time.Sleep(duration)
	_ = port.StopStreaming()
	samples := port.DrainSamples()

	out := models.AcquisitionRateCapability{
		DurationS:   duration.Seconds(),
		SampleCount: len(samples),
		Timestamp:   time.Now(),
	}
	if len(samples) < 2 {
		return out
	}

	rates := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		dt := samples[i].Timestamp.Sub(samples[i-1].Timestamp).Seconds()
		if dt > 0 {
			rates = append(rates, 1/dt)
		}
	}
	if len(rates) == 0 {
		return out
	}

	var sum float64
	for _, r := range rates {
		sum += r
	}
	mean := sum / float64(len(rates))

	var sq float64
	for _, r := range rates {
		sq += (r - mean) * (r - mean)
	}
	out.MeanRateHz = mean
	out.StdDevHz = math.Sqrt(sq / float64(len(rates)))
	return out
}
