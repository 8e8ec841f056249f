package view

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"
	"gorgonia.org/tensor"

	"go.viam.com/posecam/components/camera"
	"go.viam.com/posecam/components/camera/fake"
	"go.viam.com/posecam/frameloop"
	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/ml"
	"go.viam.com/posecam/mlruntime"
	"go.viam.com/posecam/permissions"
	"go.viam.com/posecam/pose"
	"go.viam.com/posecam/services/mlmodel"
	"go.viam.com/posecam/services/posenet"
	"go.viam.com/posecam/testutils/inject"
	"go.viam.com/posecam/utils"
)

// posenetOutputs has every part peak at cell (2, 3) of the default 13x10 output grid.
func posenetOutputs() ml.Tensors {
	const height, width = 13, 10
	parts := pose.NumKeypoints
	heat := make([]float32, height*width*parts)
	for i := range heat {
		heat[i] = -10
	}
	for part := 0; part < parts; part++ {
		heat[(2*width+3)*parts+part] = 4
	}
	return ml.Tensors{
		"heatmap": tensor.New(tensor.WithShape(1, height, width, parts), tensor.WithBacking(heat)),
		"offsets": tensor.New(tensor.WithShape(1, height, width, 2*parts),
			tensor.WithBacking(make([]float32, height*width*2*parts))),
	}
}

type harness struct {
	view     *View
	cam      *fake.Camera
	svc      *inject.MLModelService
	factory  atomic.Int32
	closes   atomic.Int32
	inferred atomic.Int32
	clock    *clock.Mock
}

func newHarness(t *testing.T, backend mlruntime.Backend, requester permissions.Requester, abort bool) *harness {
	t.Helper()
	logger := logging.NewTestLogger(t)
	h := &harness{clock: clock.NewMock()}
	cam, err := fake.NewCamera(nil, h.clock, logger)
	test.That(t, err, test.ShouldBeNil)
	h.cam = cam
	h.svc = &inject.MLModelService{
		InferFunc: func(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
			h.inferred.Inc()
			if tensors["image"] == nil {
				return nil, errors.New("expected an image input")
			}
			return posenetOutputs(), nil
		},
		MetadataFunc: func(ctx context.Context) (mlmodel.MLMetadata, error) {
			return mlmodel.MLMetadata{}, errors.New("no metadata")
		},
		CloseFunc: func(ctx context.Context) error {
			h.closes.Inc()
			return nil
		},
	}
	h.view = New(Options{
		Camera:  cam,
		Runtime: backend,
		Loader: posenet.LoaderOptions{
			Permissions: requester,
			Config:      posenet.DefaultConfig(),
			Factory: func(ctx context.Context, cfg posenet.Config) (mlmodel.Service, error) {
				h.factory.Inc()
				return h.svc, nil
			},
			AbortOnDenial: abort,
		},
		Recording: camera.RecordOptions{Dir: "clips"},
		Clock:     h.clock,
	}, logger)
	return h
}

var readyBackend = mlruntime.BackendFunc(func(ctx context.Context) error { return nil })

func TestMountRunsPipeline(t *testing.T) {
	h := newHarness(t, readyBackend, permissions.GrantAll, false)
	ctx := context.Background()
	test.That(t, h.view.Scene().Empty(), test.ShouldBeTrue)
	test.That(t, h.view.State(), test.ShouldResemble, State{Loop: frameloop.Idle})

	test.That(t, h.view.Mount(ctx), test.ShouldBeNil)
	test.That(t, h.view.Mount(ctx), test.ShouldNotBeNil)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		state := h.view.State()
		test.That(tb, state.Runtime, test.ShouldEqual, utils.Ready)
		test.That(tb, state.Model, test.ShouldEqual, utils.Ready)
		test.That(tb, state.Loop, test.ShouldEqual, frameloop.Rescheduling)
	})
	test.That(t, h.factory.Load(), test.ShouldEqual, 1)
	test.That(t, h.inferred.Load(), test.ShouldEqual, 1)
	test.That(t, h.cam.Commits(), test.ShouldEqual, 1)
	test.That(t, h.view.Stats().Iterations, test.ShouldEqual, 1)

	p := h.view.Pose()
	test.That(t, p, test.ShouldNotBeNil)
	test.That(t, p.Keypoints, test.ShouldHaveLength, pose.NumKeypoints)
	scene := h.view.Scene()
	test.That(t, scene.Circles, test.ShouldHaveLength, pose.NumKeypoints)
	test.That(t, scene.Lines, test.ShouldHaveLength, len(pose.ConnectedParts))

	cam, media := h.view.Permissions()
	test.That(t, cam, test.ShouldEqual, permissions.Granted)
	test.That(t, media, test.ShouldEqual, permissions.Granted)

	test.That(t, h.view.Unmount(ctx), test.ShouldBeNil)
	test.That(t, h.closes.Load(), test.ShouldEqual, 1)
	test.That(t, h.view.State().Loop, test.ShouldEqual, frameloop.Stopped)
	test.That(t, h.cam.Live(), test.ShouldEqual, 0)

	for i := 0; i < 5; i++ {
		h.clock.Add(frameloop.DefaultRefreshInterval)
	}
	test.That(t, h.inferred.Load(), test.ShouldEqual, 1)
	test.That(t, h.view.Mount(ctx), test.ShouldNotBeNil)
}

func TestRuntimeFailureStopsBringUp(t *testing.T) {
	h := newHarness(t, mlruntime.BackendFunc(func(ctx context.Context) error {
		return errors.New("no tflite")
	}), permissions.GrantAll, false)
	ctx := context.Background()
	test.That(t, h.view.Mount(ctx), test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, h.view.runtime.Err(), test.ShouldNotBeNil)
	})
	test.That(t, h.view.Unmount(ctx), test.ShouldBeNil)
	state := h.view.State()
	test.That(t, state.Runtime, test.ShouldEqual, utils.Uninitialized)
	test.That(t, state.Model, test.ShouldEqual, utils.Uninitialized)
	test.That(t, h.factory.Load(), test.ShouldEqual, 0)
	test.That(t, h.view.Pose(), test.ShouldBeNil)
}

func TestAbortOnDenial(t *testing.T) {
	requester := permissions.Static{Camera: permissions.Denied, MediaLibrary: permissions.Granted}
	h := newHarness(t, readyBackend, requester, true)
	ctx := context.Background()
	test.That(t, h.view.Mount(ctx), test.ShouldBeNil)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, h.view.loader.Err(), test.ShouldNotBeNil)
	})
	test.That(t, errors.Is(h.view.loader.Err(), posenet.ErrPermissionDenied), test.ShouldBeTrue)
	cam, media := h.view.Permissions()
	test.That(t, cam, test.ShouldEqual, permissions.Denied)
	test.That(t, media, test.ShouldEqual, permissions.Granted)
	test.That(t, h.factory.Load(), test.ShouldEqual, 0)
	test.That(t, h.view.Unmount(ctx), test.ShouldBeNil)
	test.That(t, h.closes.Load(), test.ShouldEqual, 0)
}

func TestUnmountBeforeReady(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, mlruntime.BackendFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}), permissions.GrantAll, false)
	ctx := context.Background()
	test.That(t, h.view.Mount(ctx), test.ShouldBeNil)
	<-started
	test.That(t, h.view.Unmount(ctx), test.ShouldBeNil)
	test.That(t, h.factory.Load(), test.ShouldEqual, 0)
	test.That(t, h.view.State().Loop, test.ShouldEqual, frameloop.Idle)
}

func TestRecording(t *testing.T) {
	h := newHarness(t, readyBackend, permissions.GrantAll, false)
	ctx := context.Background()
	test.That(t, h.view.StopRecording(ctx), test.ShouldNotBeNil)

	type result struct {
		rec camera.Recording
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := h.view.StartRecording(ctx)
		done <- result{rec, err}
	}()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, h.view.State().Recording, test.ShouldBeTrue)
	})
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, h.view.StopRecording(ctx), test.ShouldBeNil)
	})
	res := <-done
	test.That(t, res.err, test.ShouldBeNil)
	test.That(t, res.rec.Path, test.ShouldStartWith, "memory://clips/")
	test.That(t, h.view.State().Recording, test.ShouldBeFalse)

	// Unmounting stops a recording in progress.
	go func() {
		rec, err := h.view.StartRecording(ctx)
		done <- result{rec, err}
	}()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, h.view.State().Recording, test.ShouldBeTrue)
	})
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, h.view.Unmount(ctx), test.ShouldBeNil)
	})
	res = <-done
	test.That(t, res.err, test.ShouldBeNil)
}
