package recording

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/posecam/components/camera"
	"go.viam.com/posecam/components/camera/fake"
	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/testutils/inject"
)

type startResult struct {
	rec camera.Recording
	err error
}

func TestStartBlocksUntilStop(t *testing.T) {
	mock := clock.NewMock()
	cam, err := fake.NewCamera(nil, mock, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	toggle := NewToggle(cam, camera.RecordOptions{Dir: "clips"}, logging.NewTestLogger(t))
	ctx := context.Background()

	test.That(t, toggle.IsRecording(), test.ShouldBeFalse)
	test.That(t, toggle.Stop(ctx), test.ShouldBeError, ErrNotRecording)

	done := make(chan startResult, 1)
	go func() {
		rec, err := toggle.Start(ctx)
		done <- startResult{rec, err}
	}()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, toggle.IsRecording(), test.ShouldBeTrue)
	})
	_, err = toggle.Start(ctx)
	test.That(t, err, test.ShouldBeError, ErrAlreadyRecording)

	select {
	case <-done:
		t.Fatal("start returned before stop")
	case <-time.After(50 * time.Millisecond):
	}

	test.That(t, toggle.Stop(ctx), test.ShouldBeNil)
	mock.Add(3 * time.Second)
	res := <-done
	test.That(t, res.err, test.ShouldBeNil)
	test.That(t, res.rec.Path, test.ShouldStartWith, "memory://clips/recording-")
	test.That(t, toggle.IsRecording(), test.ShouldBeFalse)
}

func TestStopBeforeNativeStart(t *testing.T) {
	gate := make(chan struct{})
	stop := make(chan struct{})
	var registered atomic.Bool
	var stops atomic.Int32
	recorder := &inject.Camera{
		StartRecordingFunc: func(ctx context.Context, opts camera.RecordOptions) (camera.Recording, error) {
			select {
			case <-gate:
			case <-ctx.Done():
				return camera.Recording{}, ctx.Err()
			}
			registered.Store(true)
			opts.OnStarted()
			select {
			case <-stop:
			case <-ctx.Done():
				return camera.Recording{}, ctx.Err()
			}
			return camera.Recording{Path: "/tmp/short.mkv"}, nil
		},
		StopRecordingFunc: func(ctx context.Context) error {
			if !registered.Load() {
				return camera.ErrNoRecording
			}
			stops.Inc()
			close(stop)
			return nil
		},
	}
	toggle := NewToggle(recorder, camera.RecordOptions{}, logging.NewTestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan startResult, 1)
	go func() {
		rec, err := toggle.Start(ctx)
		done <- startResult{rec, err}
	}()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, toggle.IsRecording(), test.ShouldBeTrue)
	})

	test.That(t, toggle.Stop(ctx), test.ShouldBeNil)
	test.That(t, toggle.Stop(ctx), test.ShouldBeNil)
	test.That(t, toggle.IsRecording(), test.ShouldBeTrue)

	close(gate)
	res := <-done
	test.That(t, res.err, test.ShouldBeNil)
	test.That(t, res.rec.Path, test.ShouldEqual, "/tmp/short.mkv")
	test.That(t, stops.Load(), test.ShouldEqual, 1)
	test.That(t, toggle.IsRecording(), test.ShouldBeFalse)
	test.That(t, toggle.Stop(ctx), test.ShouldBeError, ErrNotRecording)
}

func TestFlagIsOptimistic(t *testing.T) {
	entered := make(chan struct{})
	stop := make(chan struct{})
	recorder := &inject.Camera{
		StartRecordingFunc: func(ctx context.Context, opts camera.RecordOptions) (camera.Recording, error) {
			close(entered)
			<-stop
			return camera.Recording{Path: "/tmp/recording.mkv", Duration: time.Second}, nil
		},
		StopRecordingFunc: func(ctx context.Context) error {
			close(stop)
			return nil
		},
	}
	toggle := NewToggle(recorder, camera.RecordOptions{}, logging.NewTestLogger(t))

	done := make(chan startResult, 1)
	go func() {
		rec, err := toggle.Start(context.Background())
		done <- startResult{rec, err}
	}()
	<-entered
	test.That(t, toggle.IsRecording(), test.ShouldBeTrue)
	test.That(t, toggle.Stop(context.Background()), test.ShouldBeNil)
	res := <-done
	test.That(t, res.err, test.ShouldBeNil)
	test.That(t, res.rec.Path, test.ShouldEqual, "/tmp/recording.mkv")
	test.That(t, toggle.IsRecording(), test.ShouldBeFalse)
}

func TestNativeFailureClearsFlag(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	recorder := &inject.Camera{
		StartRecordingFunc: func(ctx context.Context, opts camera.RecordOptions) (camera.Recording, error) {
			return camera.Recording{}, errors.New("disk full")
		},
	}
	toggle := NewToggle(recorder, camera.RecordOptions{}, logger)

	_, err := toggle.Start(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "disk full")
	test.That(t, toggle.IsRecording(), test.ShouldBeFalse)
	test.That(t, logs.FilterMessage("recording failed").Len(), test.ShouldEqual, 1)

	// A failed native stop leaves the flag alone.
	block := make(chan struct{})
	recorder.StartRecordingFunc = func(ctx context.Context, opts camera.RecordOptions) (camera.Recording, error) {
		<-block
		return camera.Recording{}, nil
	}
	recorder.StopRecordingFunc = func(ctx context.Context) error {
		return errors.New("encoder stuck")
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		toggle.Start(context.Background())
	}()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, toggle.IsRecording(), test.ShouldBeTrue)
	})
	err = toggle.Stop(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, toggle.IsRecording(), test.ShouldBeTrue)
	close(block)
	<-done
	test.That(t, toggle.IsRecording(), test.ShouldBeFalse)
}
