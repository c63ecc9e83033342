package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aefi-lab/scanctl/engine/models"
)

func validBench() Bench {
	return Bench{
		AxisLimitXMM: 100,
		AxisLimitYMM: 50,
		DefaultProfile: models.MotionProfile{
			MinSpeed: 1, TargetSpeed: 20, Acceleration: 100, Deceleration: 100,
		},
		LogLevel: "info",
	}
}

func TestBenchValidate(t *testing.T) {
	require.NoError(t, validBench().Validate())

	noLimit := validBench()
	noLimit.AxisLimitXMM = 0
	require.Error(t, noLimit.Validate())

	badProfile := validBench()
	badProfile.DefaultProfile.TargetSpeed = 0
	require.Error(t, badProfile.Validate())

	badLevel := validBench()
	badLevel.LogLevel = "verbose"
	require.Error(t, badLevel.Validate())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	mgr := NewManager(path)

	want := validBench()
	require.NoError(t, mgr.Save(want))

	fresh := NewManager(path)
	require.NoError(t, fresh.Load())
	require.Equal(t, want, fresh.Current())
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte("axis_limit_x_mm: -3\n"), 0o644))

	mgr := NewManager(path)
	require.Error(t, mgr.Load())
	require.Equal(t, Bench{}, mgr.Current(), "failed load must not replace current config")
}

func TestLoadMissingFile(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, mgr.Load())
}

func TestWatchDeliversValidatedReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	mgr := NewManager(path)
	require.NoError(t, mgr.Save(validBench()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, errs, err := mgr.Watch(ctx)
	require.NoError(t, err)

	updated := validBench()
	updated.AxisLimitXMM = 250
	data := "axis_limit_x_mm: 250\naxis_limit_y_mm: 50\ndefault_profile:\n  minspeed: 1\n  targetspeed: 20\n  acceleration: 100\n  deceleration: 100\nlog_level: info\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	select {
	case got := <-changes:
		require.Equal(t, 250.0, got.AxisLimitXMM)
	case err := <-errs:
		t.Fatalf("unexpected watch error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatchReportsInvalidRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	mgr := NewManager(path)
	require.NoError(t, mgr.Save(validBench()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, errs, err := mgr.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("axis_limit_x_mm: -1\n"), 0o644))

	select {
	case <-changes:
		t.Fatal("invalid rewrite must not be delivered as a change")
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch error")
	}

	// The previous valid config stays current.
	require.Equal(t, 100.0, mgr.Current().AxisLimitXMM)
}
