// Package trajectory generates the ordered sequence of grid positions a scan
// visits, for each of the three supported patterns.
package trajectory

import (
	"fmt"

	"github.com/aefi-lab/scanctl/engine/models"
)

type generatorFunc func(cfg models.StepScanConfig) []models.Position2D

var generators = map[models.ScanPattern]generatorFunc{
	models.PatternRaster:     generateRaster,
	models.PatternSerpentine: generateSerpentine,
	models.PatternComb:       generateComb,
}

// Generate produces the trajectory for cfg's zone, grid size, and pattern.
// The returned slice always has length cfg.TotalPoints() and every position
// lies within the closed scan zone.
func Generate(cfg models.StepScanConfig) ([]models.Position2D, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gen, ok := generators[cfg.Pattern]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported scan pattern %v", models.ErrConfigInvalid, cfg.Pattern)
	}
	return gen(cfg), nil
}

// grid returns the evenly-spaced coordinate ladders along each axis.
func grid(cfg models.StepScanConfig) (xs, ys []float64) {
	xs = linspace(cfg.Zone.XMin, cfg.Zone.XMax, cfg.XNbPoints)
	ys = linspace(cfg.Zone.YMin, cfg.Zone.YMax, cfg.YNbPoints)
	return xs, ys
}

func linspace(min, max float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = min
		return out
	}
	step := (max - min) / float64(n-1)
	for i := 0; i < n; i++ {
		out[i] = min + step*float64(i)
	}
	return out
}

// generateRaster visits every row left to right, rows ordered bottom to top.
func generateRaster(cfg models.StepScanConfig) []models.Position2D {
	xs, ys := grid(cfg)
	out := make([]models.Position2D, 0, cfg.TotalPoints())
	for _, y := range ys {
		for _, x := range xs {
			out = append(out, models.Position2D{X: x, Y: y})
		}
	}
	return out
}

// generateSerpentine alternates row direction to avoid a long traverse
// between rows: even rows left to right, odd rows right to left.
func generateSerpentine(cfg models.StepScanConfig) []models.Position2D {
	xs, ys := grid(cfg)
	out := make([]models.Position2D, 0, cfg.TotalPoints())
	for i, y := range ys {
		if i%2 == 0 {
			for _, x := range xs {
				out = append(out, models.Position2D{X: x, Y: y})
			}
		} else {
			for j := len(xs) - 1; j >= 0; j-- {
				out = append(out, models.Position2D{X: xs[j], Y: y})
			}
		}
	}
	return out
}

// generateComb is column-major: the fast axis is Y, the slow axis is X.
func generateComb(cfg models.StepScanConfig) []models.Position2D {
	xs, ys := grid(cfg)
	out := make([]models.Position2D, 0, cfg.TotalPoints())
	for _, x := range xs {
		for _, y := range ys {
			out = append(out, models.Position2D{X: x, Y: y})
		}
	}
	return out
}

// Segments decomposes trajectory into relative (dx, dy) displacements
// between consecutive positions, for use by the fly-scan executor when
// building AtomicMotion segments.
func Segments(traj []models.Position2D) [][2]float64 {
	if len(traj) < 2 {
		return nil
	}
	out := make([][2]float64, 0, len(traj)-1)
	for i := 1; i < len(traj); i++ {
		dx, dy := traj[i].Sub(traj[i-1])
		out = append(out, [2]float64{dx, dy})
	}
	return out
}
