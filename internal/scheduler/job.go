// Package scheduler runs a function repeatedly on an adjustable interval.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/danmuck/xspressctl/internal/observability"
)

const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultMinInterval = time.Millisecond
	// errorLogEvery throttles repeated failure logs from one job.
	errorLogEvery = 30 * time.Second
)

var ErrStopTimeout = errors.New("scheduler: job did not stop in time")

// Func is one execution of a periodic job.
type Func func(ctx context.Context) error

// PeriodicJob runs fn, waits the current interval, and repeats until stopped.
// Errors never end the loop; they are logged at most once per 30s.
type PeriodicJob struct {
	name   string
	fn     Func
	min    time.Duration
	logger zerolog.Logger
	errLog rate.Sometimes

	mu       sync.Mutex
	interval time.Duration
	gate     func() bool
	cancel   context.CancelFunc
	done     chan struct{}
	wake     chan struct{}
}

// NewPeriodicJob returns a stopped job. Non-positive durations take defaults.
func NewPeriodicJob(name string, fn Func, interval, minInterval time.Duration, logger zerolog.Logger) *PeriodicJob {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < minInterval {
		interval = minInterval
	}
	return &PeriodicJob{
		name:     name,
		fn:       fn,
		min:      minInterval,
		interval: interval,
		logger:   logger.With().Str("job", name).Logger(),
		errLog:   rate.Sometimes{Interval: errorLogEvery},
		wake:     make(chan struct{}, 1),
	}
}

// SetGate installs a predicate checked before each run; false skips the run.
func (j *PeriodicJob) SetGate(gate func() bool) {
	j.mu.Lock()
	j.gate = gate
	j.mu.Unlock()
}

func (j *PeriodicJob) Interval() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.interval
}

// SetInterval changes the delay between runs, clamping to the minimum. A
// running job picks the new interval up immediately.
func (j *PeriodicJob) SetInterval(d time.Duration) time.Duration {
	j.mu.Lock()
	if d < j.min {
		j.logger.Warn().Dur("requested", d).Dur("min", j.min).Msg("interval below minimum, clamping")
		d = j.min
	}
	j.interval = d
	j.mu.Unlock()
	select {
	case j.wake <- struct{}{}:
	default:
	}
	return d
}

func (j *PeriodicJob) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancel != nil
}

// Start is a no-op when the job is already running.
func (j *PeriodicJob) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.done = make(chan struct{})
	go j.run(ctx, j.done)
	j.logger.Debug().Dur("interval", j.interval).Msg("job started")
}

// Stop cancels the loop and waits for the in-flight run to return or ctx to end.
func (j *PeriodicJob) Stop(ctx context.Context) error {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		j.logger.Debug().Msg("job stopped")
		return nil
	case <-ctx.Done():
		return errors.Join(ErrStopTimeout, ctx.Err())
	}
}

func (j *PeriodicJob) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		j.runOnce(ctx)
		timer := time.NewTimer(j.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-j.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (j *PeriodicJob) runOnce(ctx context.Context) {
	j.mu.Lock()
	gate := j.gate
	j.mu.Unlock()
	if gate != nil && !gate() {
		return
	}
	err := j.fn(ctx)
	if ctx.Err() != nil {
		return
	}
	observability.RecordPoll(j.name, err == nil)
	if err != nil {
		j.errLog.Do(func() {
			j.logger.Warn().Err(err).Msg("periodic run failed")
		})
	}
}
