package frameloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"
	"gorgonia.org/tensor"

	"go.viam.com/posecam/components/camera"
	"go.viam.com/posecam/components/camera/fake"
	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/pose"
	"go.viam.com/posecam/testutils/inject"
)

func newFakeCamera(t *testing.T) *fake.Camera {
	t.Helper()
	cam, err := fake.NewCamera(nil, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return cam
}

func TestOneReleasePerIteration(t *testing.T) {
	cam := newFakeCamera(t)
	var calls atomic.Int32
	model := &inject.PosenetModel{
		EstimateSinglePoseFunc: func(ctx context.Context, frame *tensor.Dense, flip bool) (*pose.Pose, error) {
			if calls.Inc()%2 == 0 {
				return nil, errors.New("bad frame")
			}
			return &pose.Pose{Score: 0.5}, nil
		},
	}
	mock := clock.NewMock()
	loop := New(cam, model, Options{Clock: mock}, logging.NewTestLogger(t))
	loop.Start(context.Background())
	defer loop.Stop()

	for i := uint64(1); i <= 4; i++ {
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			test.That(tb, loop.Stats().Iterations, test.ShouldEqual, i)
			test.That(tb, loop.State(), test.ShouldEqual, Rescheduling)
		})
		test.That(t, cam.Live(), test.ShouldEqual, 0)
		test.That(t, cam.Allocs(), test.ShouldEqual, i)
		test.That(t, cam.Releases(), test.ShouldEqual, i)
		mock.Add(DefaultRefreshInterval)
	}
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, loop.Stats().Iterations, test.ShouldEqual, 5)
		test.That(tb, loop.State(), test.ShouldEqual, Rescheduling)
	})

	stats := loop.Stats()
	test.That(t, stats.Failures, test.ShouldEqual, 2)
	// Only successful iterations publish and commit.
	test.That(t, cam.Commits(), test.ShouldEqual, 3)
	test.That(t, loop.Pose(), test.ShouldResemble, &pose.Pose{Score: 0.5, Keypoints: []pose.Keypoint{}})
}

func TestNoInferenceAfterStop(t *testing.T) {
	cam := newFakeCamera(t)
	var calls atomic.Int32
	model := &inject.PosenetModel{
		EstimateSinglePoseFunc: func(ctx context.Context, frame *tensor.Dense, flip bool) (*pose.Pose, error) {
			calls.Inc()
			return &pose.Pose{}, nil
		},
	}
	mock := clock.NewMock()
	loop := New(cam, model, Options{Clock: mock}, logging.NewTestLogger(t))
	loop.Start(context.Background())
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, loop.State(), test.ShouldEqual, Rescheduling)
	})
	loop.Stop()
	test.That(t, loop.State(), test.ShouldEqual, Stopped)

	for i := 0; i < 10; i++ {
		mock.Add(DefaultRefreshInterval)
	}
	test.That(t, calls.Load(), test.ShouldEqual, 1)
	test.That(t, cam.Live(), test.ShouldEqual, 0)

	// A stopped loop cannot be restarted.
	loop.Start(context.Background())
	mock.Add(DefaultRefreshInterval)
	test.That(t, calls.Load(), test.ShouldEqual, 1)
	test.That(t, loop.State(), test.ShouldEqual, Stopped)
}

func TestLateResultNeverPublished(t *testing.T) {
	cam := newFakeCamera(t)
	started := make(chan struct{})
	unblock := make(chan struct{})
	model := &inject.PosenetModel{
		EstimateSinglePoseFunc: func(ctx context.Context, frame *tensor.Dense, flip bool) (*pose.Pose, error) {
			close(started)
			<-unblock
			return &pose.Pose{Score: 1}, nil
		},
	}
	var published atomic.Int32
	loop := New(cam, model, Options{
		Clock:   clock.NewMock(),
		Publish: func(p *pose.Pose) { published.Inc() },
	}, logging.NewTestLogger(t))
	loop.Start(context.Background())

	<-started
	test.That(t, loop.State(), test.ShouldEqual, Inferring)
	loop.Stop()
	test.That(t, cam.Live(), test.ShouldEqual, 1)

	close(unblock)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, cam.Live(), test.ShouldEqual, 0)
	})
	test.That(t, published.Load(), test.ShouldEqual, 0)
	test.That(t, loop.Pose(), test.ShouldBeNil)
	test.That(t, cam.Commits(), test.ShouldEqual, 0)
}

func TestPublishAndFlip(t *testing.T) {
	cam := newFakeCamera(t)
	var flips []bool
	var mu sync.Mutex
	model := &inject.PosenetModel{
		EstimateSinglePoseFunc: func(ctx context.Context, frame *tensor.Dense, flip bool) (*pose.Pose, error) {
			mu.Lock()
			flips = append(flips, flip)
			mu.Unlock()
			return &pose.Pose{Score: 0.9, Keypoints: []pose.Keypoint{{Part: "nose", Score: 0.9}}}, nil
		},
	}
	poses := make(chan *pose.Pose, 1)
	loop := New(cam, model, Options{
		FlipHorizontal: true,
		AutoRender:     true,
		Clock:          clock.NewMock(),
		Publish:        func(p *pose.Pose) { poses <- p },
	}, logging.NewTestLogger(t))
	loop.Start(context.Background())
	defer loop.Stop()

	p := <-poses
	test.That(t, p.Keypoints[0].Part, test.ShouldEqual, "nose")
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, loop.State(), test.ShouldEqual, Rescheduling)
	})
	mu.Lock()
	test.That(t, flips, test.ShouldResemble, []bool{true})
	mu.Unlock()
	// The camera renders by itself.
	test.That(t, cam.Commits(), test.ShouldEqual, 0)

	got := loop.Pose()
	test.That(t, got, test.ShouldResemble, p)
	got.Keypoints[0].Part = "changed"
	test.That(t, loop.Pose().Keypoints[0].Part, test.ShouldEqual, "nose")
}

func TestCameraClosedEndsLoop(t *testing.T) {
	var nexts atomic.Int32
	cam := &inject.Camera{
		NextFunc: func(ctx context.Context) (*tensor.Dense, func(), error) {
			if nexts.Inc() == 1 {
				return nil, nil, errors.New("device busy")
			}
			return nil, nil, camera.ErrClosed
		},
	}
	model := &inject.PosenetModel{
		EstimateSinglePoseFunc: func(ctx context.Context, frame *tensor.Dense, flip bool) (*pose.Pose, error) {
			t.Error("model should not run without a frame")
			return nil, nil
		},
	}
	mock := clock.NewMock()
	loop := New(cam, model, Options{Clock: mock}, logging.NewTestLogger(t))
	loop.Start(context.Background())
	defer loop.Stop()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, loop.Stats().Failures, test.ShouldEqual, 1)
		test.That(tb, loop.State(), test.ShouldEqual, Rescheduling)
	})
	mock.Add(DefaultRefreshInterval)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, loop.State(), test.ShouldEqual, Stopped)
	})
	test.That(t, loop.Stats().Iterations, test.ShouldEqual, 0)
}

func TestPanickingModelIsAFailure(t *testing.T) {
	cam := newFakeCamera(t)
	model := &inject.PosenetModel{
		EstimateSinglePoseFunc: func(ctx context.Context, frame *tensor.Dense, flip bool) (*pose.Pose, error) {
			panic("bad weights")
		},
	}
	loop := New(cam, model, Options{Clock: clock.NewMock()}, logging.NewTestLogger(t))
	loop.Start(context.Background())
	defer loop.Stop()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, loop.Stats().Failures, test.ShouldEqual, 1)
		test.That(tb, loop.State(), test.ShouldEqual, Rescheduling)
	})
	test.That(t, cam.Live(), test.ShouldEqual, 0)
	test.That(t, loop.Pose(), test.ShouldBeNil)
}

func TestStalledInferenceWarns(t *testing.T) {
	cam := newFakeCamera(t)
	model := &inject.PosenetModel{
		EstimateSinglePoseFunc: func(ctx context.Context, frame *tensor.Dense, flip bool) (*pose.Pose, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	mock := clock.NewMock()
	logger, logs := logging.NewObservedTestLogger(t)
	loop := New(cam, model, Options{Clock: mock}, logger)
	loop.Start(context.Background())

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, loop.State(), test.ShouldEqual, Inferring)
	})
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		mock.Add(2 * time.Second)
		test.That(tb, logs.FilterMessage("waiting for pose estimation").Len(), test.ShouldBeGreaterThan, 0)
	})
	test.That(t, loop.State(), test.ShouldEqual, Inferring)
	test.That(t, loop.Stats().Failures, test.ShouldEqual, 0)

	loop.Stop()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, cam.Live(), test.ShouldEqual, 0)
	})
}

func TestStateString(t *testing.T) {
	test.That(t, Idle.String(), test.ShouldEqual, "idle")
	test.That(t, Rescheduling.String(), test.ShouldEqual, "rescheduling")
	test.That(t, State(42).String(), test.ShouldEqual, "unknown")
}
