// Command scanctl runs a step or fly scan against the in-memory bench
// simulator and prints the resulting event stream. It exists to smoke-test
// the engine without hardware: the same application service, executors, and
// event bus drive the real bench adapters.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aefi-lab/scanctl/engine/application"
	"github.com/aefi-lab/scanctl/engine/config"
	"github.com/aefi-lab/scanctl/engine/events"
	"github.com/aefi-lab/scanctl/engine/models"
	"github.com/aefi-lab/scanctl/engine/scan"
	"github.com/aefi-lab/scanctl/engine/simport"
	"github.com/aefi-lab/scanctl/engine/telemetry/health"
	"github.com/aefi-lab/scanctl/engine/telemetry/metrics"
)

func main() {
	var (
		mode        string
		pattern     string
		xMin, xMax  float64
		yMin, yMax  float64
		xPoints     int
		yPoints     int
		averaging   int
		stabilizeMS int
		rateHz      float64
		maxGapMM    float64
		moveDelay      time.Duration
		metricsAddr    string
		metricsBackend string
		healthAddr     string
		configPath     string
		verbose        bool
	)
	flag.StringVar(&mode, "mode", "step", "Scan mode: step|fly")
	flag.StringVar(&pattern, "pattern", "SERPENTINE", "Trajectory pattern: RASTER|SERPENTINE|COMB")
	flag.Float64Var(&xMin, "x-min", 0, "Zone lower X bound (mm)")
	flag.Float64Var(&xMax, "x-max", 10, "Zone upper X bound (mm)")
	flag.Float64Var(&yMin, "y-min", 0, "Zone lower Y bound (mm)")
	flag.Float64Var(&yMax, "y-max", 10, "Zone upper Y bound (mm)")
	flag.IntVar(&xPoints, "x-points", 5, "Grid points along X (>= 2)")
	flag.IntVar(&yPoints, "y-points", 5, "Grid points along Y (>= 2)")
	flag.IntVar(&averaging, "averaging", 1, "Samples averaged per position (step mode)")
	flag.IntVar(&stabilizeMS, "stabilize-ms", 0, "Stabilization delay after each move (ms)")
	flag.Float64Var(&rateHz, "rate", 200, "Desired acquisition rate (Hz, fly mode)")
	flag.Float64Var(&maxGapMM, "max-gap", 0.5, "Maximum spatial gap between samples (mm, fly mode)")
	flag.DurationVar(&moveDelay, "move-delay", 5*time.Millisecond, "Simulated per-move duration")
	flag.StringVar(&metricsAddr, "metrics", "", "Expose Prometheus metrics on address (e.g. :9090)")
	flag.StringVar(&metricsBackend, "metrics-backend", "prom", "Metrics backend: prom|otel|both")
	flag.StringVar(&healthAddr, "health", "", "Expose health endpoint on address (e.g. :9091)")
	flag.StringVar(&configPath, "config", "", "Optional YAML bench config file")
	flag.BoolVar(&verbose, "v", false, "Print every scanpointacquired event")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	bench := config.Bench{
		AxisLimitXMM: 100,
		AxisLimitYMM: 100,
		DefaultProfile: models.MotionProfile{
			MinSpeed: 1, TargetSpeed: 20, Acceleration: 100, Deceleration: 100,
		},
	}
	if configPath != "" {
		mgr := config.NewManager(configPath)
		if err := mgr.Load(); err != nil {
			log.Fatalf("load config: %v", err)
		}
		bench = mgr.Current()
	}

	parsedPattern, err := models.ParseScanPattern(pattern)
	if err != nil {
		log.Fatalf("parse pattern: %v", err)
	}

	bus := events.NewBus(logger)

	var recorder *metrics.Recorder
	switch metricsBackend {
	case "prom":
		recorder = metrics.NewRecorder(bus)
	case "otel", "both":
		if metricsBackend == "both" {
			recorder = metrics.NewRecorder(bus)
		}
		otelRecorder, err := metrics.NewOTelRecorder(bus)
		if err != nil {
			log.Fatalf("otel metrics: %v", err)
		}
		defer func() { _ = otelRecorder.Shutdown(context.Background()) }()
	default:
		log.Fatalf("unknown metrics backend %q (want prom, otel, or both)", metricsBackend)
	}
	if metricsAddr != "" && recorder == nil {
		log.Fatalf("-metrics requires the prom backend (got %q)", metricsBackend)
	}

	motionPort := simport.NewMotionSim(bus, bench.AxisLimitXMM, bench.AxisLimitYMM)
	motionPort.MoveDelay = moveDelay
	acquisitionPort := simport.NewAcquisitionSim(models.VoltageMeasurement{UxI: 1, UxQ: 0.1, UyI: 0.5, UyQ: 0.05, UzI: 0.2, UzQ: 0.02})

	svc := application.NewScanService(motionPort, acquisitionPort, bus)
	svc.Logger = logger

	evaluator := health.NewEvaluator(2*time.Second,
		health.MotionProbe(motionPort),
		health.BusProbe(bus),
	)

	subscribeReporting(bus, verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if metricsAddr != "" {
		g.Go(func() error { return serve(ctx, metricsAddr, recorder.Handler()) })
	}
	if healthAddr != "" {
		g.Go(func() error {
			return serve(ctx, healthAddr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				snap := evaluator.Evaluate(r.Context())
				w.Header().Set("Content-Type", "application/json")
				if snap.Overall == health.StatusUnhealthy {
					w.WriteHeader(http.StatusServiceUnavailable)
				}
				_ = json.NewEncoder(w).Encode(snap)
			}))
		})
	}

	stepCfg := models.StepScanConfig{
		Zone:                 models.ScanZone{XMin: xMin, XMax: xMax, YMin: yMin, YMax: yMax},
		XNbPoints:            xPoints,
		YNbPoints:            yPoints,
		Pattern:              parsedPattern,
		StabilizationDelay:   time.Duration(stabilizeMS) * time.Millisecond,
		AveragingPerPosition: averaging,
	}

	g.Go(func() error {
		defer cancel()
		switch mode {
		case "step":
			s, ok, err := svc.ExecuteStepScan(stepCfg)
			return report(s, ok, err)
		case "fly":
			flyCfg := models.FlyScanConfig{
				StepScanConfig:           stepCfg,
				MotionProfile:            bench.DefaultProfile,
				DesiredAcquisitionRateHz: rateHz,
				MaxSpatialGapMM:          maxGapMM,
			}
			capability := simport.MeasureCapability(acquisitionPort, 200*time.Millisecond)
			s, ok, err := svc.ExecuteFlyScan(flyCfg, capability)
			return report(s, ok, err)
		default:
			return fmt.Errorf("unknown mode %q (want step or fly)", mode)
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("scanctl: %v", err)
	}
}

func report(s *scan.Scan, ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("scan %s did not complete", s.ID())
	}
	return nil
}

// subscribeReporting prints the scan lifecycle to stdout. Per-point output
// is gated behind -v; a dense grid floods the terminal otherwise.
func subscribeReporting(bus *events.Bus, verbose bool) {
	bus.Subscribe(events.TypeScanStarted, func(payload interface{}) {
		ev := payload.(events.ScanStarted)
		fmt.Printf("scan %s started\n", ev.ScanID)
	})
	if verbose {
		bus.Subscribe(events.TypeScanPointAcquired, func(payload interface{}) {
			ev := payload.(events.ScanPointAcquired)
			fmt.Printf("  point %d at %s ux_i=%.3f\n", ev.PointIndex, ev.Position, ev.Measurement.UxI)
		})
	}
	bus.Subscribe(events.TypeScanProgress, func(payload interface{}) {
		ev := payload.(events.ScanProgress)
		if ev.Warning != "" {
			fmt.Printf("  warning: %s\n", ev.Warning)
		}
	})
	bus.Subscribe(events.TypeScanFailed, func(payload interface{}) {
		ev := payload.(events.ScanFailed)
		fmt.Printf("scan %s failed: %s\n", ev.ScanID, ev.Reason)
	})
	bus.Subscribe(events.TypeScanCancelled, func(payload interface{}) {
		ev := payload.(events.ScanCancelled)
		fmt.Printf("scan %s cancelled\n", ev.ScanID)
	})
	bus.Subscribe(events.TypeScanCompleted, func(payload interface{}) {
		ev := payload.(events.ScanCompleted)
		fmt.Printf("scan %s completed with %d points\n", ev.ScanID, ev.TotalPoints)
	})
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
