package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/xspressctl/internal/testutil/testlog"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestJobRunsRepeatedlyAndSurvivesErrors(t *testing.T) {
	logger := testlog.Start(t)
	var runs atomic.Int32
	j := NewPeriodicJob("test", func(context.Context) error {
		runs.Add(1)
		return errors.New("remote unavailable")
	}, 2*time.Millisecond, 0, logger)
	j.Start()
	j.Start()
	waitFor(t, func() bool { return runs.Load() >= 5 })
	if err := j.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if j.Running() {
		t.Fatalf("job should report stopped")
	}
	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	if runs.Load() != after {
		t.Fatalf("job ran after stop")
	}
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	logger := testlog.Start(t)
	started := make(chan struct{})
	var finished atomic.Bool
	j := NewPeriodicJob("slow", func(ctx context.Context) error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		<-ctx.Done()
		return nil
	}, time.Hour, 0, logger)
	j.Start()
	<-started
	if err := j.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !finished.Load() {
		t.Fatalf("stop returned before in-flight run completed")
	}
}

func TestSetIntervalClampsToMinimum(t *testing.T) {
	logger := testlog.Start(t)
	j := NewPeriodicJob("clamp", func(context.Context) error { return nil }, 0, 10*time.Millisecond, logger)
	if j.Interval() != DefaultInterval {
		t.Fatalf("default interval %v", j.Interval())
	}
	if got := j.SetInterval(time.Microsecond); got != 10*time.Millisecond {
		t.Fatalf("clamped interval %v", got)
	}
	if got := j.SetInterval(time.Second); got != time.Second || j.Interval() != time.Second {
		t.Fatalf("interval %v", got)
	}
}

func TestGateSkipsRuns(t *testing.T) {
	logger := testlog.Start(t)
	var runs atomic.Int32
	var open atomic.Bool
	j := NewPeriodicJob("gated", func(context.Context) error {
		runs.Add(1)
		return nil
	}, time.Millisecond, 0, logger)
	j.SetGate(open.Load)
	j.Start()
	defer j.Stop(context.Background())
	time.Sleep(15 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatalf("gated job ran %d times", runs.Load())
	}
	open.Store(true)
	waitFor(t, func() bool { return runs.Load() > 0 })
}
