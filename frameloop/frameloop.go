// Package frameloop runs pose estimation on camera frames, one frame at a time, paced by a
// refresh ticker.
package frameloop

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	goutils "go.viam.com/utils"

	"go.viam.com/posecam/components/camera"
	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/pose"
	"go.viam.com/posecam/services/posenet"
	"go.viam.com/posecam/utils"
)

// State is where the loop is in its iteration.
type State int32

// The loop states. A loop that has stopped never leaves Stopped.
const (
	Idle State = iota
	AwaitingFrame
	Inferring
	Publishing
	Rescheduling
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingFrame:
		return "awaiting_frame"
	case Inferring:
		return "inferring"
	case Publishing:
		return "publishing"
	case Rescheduling:
		return "rescheduling"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultRefreshInterval paces the loop at the display's refresh rate.
const DefaultRefreshInterval = time.Second / 60

// latencyWindow is how many inference latencies Stats summarizes.
const latencyWindow = 120

var errInferencePanicked = errors.New("inference panicked")

// Options configure a Loop.
type Options struct {
	FlipHorizontal bool
	// AutoRender leaves preview commits to the camera. When false the loop commits the preview
	// after every published pose.
	AutoRender      bool
	RefreshInterval time.Duration
	Clock           clock.Clock
	// Publish, if set, is called with every published pose while the publish lock is held.
	Publish func(p *pose.Pose)
}

// Stats summarize a loop's work so far.
type Stats struct {
	Iterations  uint64
	Failures    uint64
	LastLatency time.Duration
	MeanLatency time.Duration
	P95Latency  time.Duration
}

// Loop pulls a frame, estimates its pose and publishes it, then waits for the next refresh
// tick. Iterations never overlap: at most one frame is held and one inference is in flight.
type Loop struct {
	cam    camera.Camera
	model  posenet.Model
	opts   Options
	logger logging.Logger

	state      atomic.Int32
	iterations atomic.Uint64
	failures   atomic.Uint64

	startOnce sync.Once
	workers   utils.StoppableWorkers

	// publishMu guards the current pose and orders publishing against Stop.
	publishMu sync.Mutex
	current   *pose.Pose
	stopped   bool

	statsMu   sync.Mutex
	latencies []float64
}

// New returns a loop that has not started.
func New(cam camera.Camera, model posenet.Model, opts Options, logger logging.Logger) *Loop {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Loop{cam: cam, model: model, opts: opts, logger: logger}
}

// Start creates the refresh ticker and runs the first iteration right away. Calls after the
// first, and calls after Stop, do nothing.
func (l *Loop) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		ticker := l.opts.Clock.Ticker(l.opts.RefreshInterval)
		l.workers = utils.NewStoppableWorkersWithContext(ctx, func(ctx context.Context) {
			defer ticker.Stop()
			l.run(ctx, ticker.C)
		})
	})
}

// Stop cancels the loop and waits for it to return. An inference that is still running is
// abandoned; its result is never published.
func (l *Loop) Stop() {
	l.startOnce.Do(func() {})
	l.publishMu.Lock()
	l.stopped = true
	l.publishMu.Unlock()
	if l.workers != nil {
		l.workers.Stop()
	}
	l.setState(Stopped)
}

func (l *Loop) run(ctx context.Context, ticks <-chan time.Time) {
	defer l.setState(Stopped)
	for {
		if !l.iterate(ctx) {
			return
		}
		l.setState(Rescheduling)
		select {
		case <-ctx.Done():
			return
		case <-ticks:
		}
	}
}

type result struct {
	pose *pose.Pose
	err  error
}

// iterate runs one frame through the model. It reports whether the loop should go on.
func (l *Loop) iterate(ctx context.Context) bool {
	l.setState(AwaitingFrame)
	frame, release, err := l.cam.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if errors.Is(err, camera.ErrClosed) {
			l.logger.CInfow(ctx, "camera closed, frame loop ending")
			return false
		}
		l.failures.Inc()
		l.logger.CWarnw(ctx, "failed to get frame", "error", err)
		return true
	}
	seq := l.iterations.Inc()
	ctx = logging.WithFrame(ctx, seq)

	l.setState(Inferring)
	start := l.opts.Clock.Now()
	done := make(chan result, 1)
	goutils.PanicCapturingGo(func() {
		res := result{err: errInferencePanicked}
		defer func() {
			release()
			done <- res
		}()
		res.pose, res.err = l.model.EstimateSinglePose(ctx, frame, l.opts.FlipHorizontal)
	})

	res, ok := l.await(ctx, done)
	if !ok {
		l.logger.CDebugw(ctx, "abandoning inference")
		return false
	}
	l.recordLatency(l.opts.Clock.Since(start))
	if res.err != nil {
		l.failures.Inc()
		l.logger.CWarnw(ctx, "pose estimation failed", "error", res.err)
		return true
	}

	l.setState(Publishing)
	if !l.publish(ctx, res.pose) {
		return false
	}
	if !l.opts.AutoRender {
		if err := l.cam.CommitPreview(ctx); err != nil {
			l.logger.CWarnw(ctx, "failed to commit preview", "error", err)
		}
	}
	return true
}

// await waits for the inference result, warning periodically while it is late. It reports false
// if ctx ended first.
func (l *Loop) await(ctx context.Context, done <-chan result) (result, bool) {
	stopSlow := utils.SlowLogger(ctx, l.opts.Clock, "waiting for pose estimation", "stage", "inference", l.logger)
	defer stopSlow()
	select {
	case <-ctx.Done():
		return result{}, false
	case res := <-done:
		return res, true
	}
}

func (l *Loop) publish(ctx context.Context, p *pose.Pose) bool {
	l.publishMu.Lock()
	defer l.publishMu.Unlock()
	if l.stopped || ctx.Err() != nil {
		return false
	}
	l.current = p
	if l.opts.Publish != nil {
		l.opts.Publish(p)
	}
	return true
}

// Pose returns the most recently published pose, or nil if none has been.
func (l *Loop) Pose() *pose.Pose {
	l.publishMu.Lock()
	defer l.publishMu.Unlock()
	return l.current.Clone()
}

// State returns the loop's current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	for {
		cur := l.state.Load()
		if State(cur) == Stopped || l.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (l *Loop) recordLatency(d time.Duration) {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	l.latencies = append(l.latencies, float64(d))
	if len(l.latencies) > latencyWindow {
		l.latencies = l.latencies[len(l.latencies)-latencyWindow:]
	}
}

// Stats returns the loop's counters and a summary of recent inference latencies.
func (l *Loop) Stats() Stats {
	s := Stats{Iterations: l.iterations.Load(), Failures: l.failures.Load()}
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	if len(l.latencies) == 0 {
		return s
	}
	s.LastLatency = time.Duration(l.latencies[len(l.latencies)-1])
	if mean, err := stats.Mean(l.latencies); err == nil {
		s.MeanLatency = time.Duration(mean)
	}
	if p95, err := stats.Percentile(l.latencies, 95); err == nil {
		s.P95Latency = time.Duration(p95)
	}
	return s
}
