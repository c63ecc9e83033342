package health

import (
	"context"
	"fmt"

	"github.com/aefi-lab/scanctl/engine/events"
	"github.com/aefi-lab/scanctl/engine/models"
	"github.com/aefi-lab/scanctl/engine/ports"
)

// MotionProbe reports unhealthy when the stage's position reads back
// non-finite (a wedged controller) and degraded when it lies outside its own
// advertised axis limits (a lost reference).
func MotionProbe(port ports.MotionPort) Probe {
	return ProbeFunc(func(ctx context.Context) ProbeResult {
		pos := port.CurrentPosition()
		if !pos.IsFinite() {
			return Unhealthy("motion", fmt.Sprintf("position reads non-finite: %s", pos))
		}
		maxX, maxY := port.AxisLimits()
		if (maxX > 0 && (pos.X < 0 || pos.X > maxX)) || (maxY > 0 && (pos.Y < 0 || pos.Y > maxY)) {
			return Degraded("motion", fmt.Sprintf("position %s outside limits (%.1f, %.1f)", pos, maxX, maxY))
		}
		return Healthy("motion")
	})
}

// CapabilityProbe compares the last measured acquisition capability against
// the rate a fly-scan profile would require; a thin margin degrades health
// before a scan is even attempted.
func CapabilityProbe(capability func() models.AcquisitionRateCapability, requiredRateHz float64) Probe {
	return ProbeFunc(func(ctx context.Context) ProbeResult {
		c := capability()
		if c.SampleCount == 0 {
			return Degraded("acquisition", "capability never measured")
		}
		guaranteed := c.GuaranteedRate3Sigma()
		if requiredRateHz > 0 && guaranteed < requiredRateHz {
			return Unhealthy("acquisition", fmt.Sprintf("guaranteed rate %.1f Hz below required %.1f Hz", guaranteed, requiredRateHz))
		}
		if c.CoefficientOfVariation() > 0.05 {
			return Degraded("acquisition", fmt.Sprintf("rate jitter %.1f%% above 5%%", c.CoefficientOfVariation()*100))
		}
		return Healthy("acquisition")
	})
}

// BusProbe degrades health once event handlers have panicked; panics are
// isolated by the bus but indicate a broken subscriber.
func BusProbe(bus *events.Bus) Probe {
	return ProbeFunc(func(ctx context.Context) ProbeResult {
		stats := bus.Stats()
		if stats.HandlerPanics > 0 {
			return Degraded("events", fmt.Sprintf("%d handler panics since start", stats.HandlerPanics))
		}
		return Healthy("events")
	})
}
