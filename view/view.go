// Package view is the headless camera view: it brings up the ML runtime, loads the pose model,
// runs the frame loop over the camera and exposes the overlay and recording controls.
package view

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/posecam/components/camera"
	"go.viam.com/posecam/frameloop"
	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/mlruntime"
	"go.viam.com/posecam/overlay"
	"go.viam.com/posecam/permissions"
	"go.viam.com/posecam/pose"
	"go.viam.com/posecam/recording"
	"go.viam.com/posecam/services/posenet"
	"go.viam.com/posecam/utils"
)

// Options configure a View. The camera is owned by the caller and is not closed by the view.
type Options struct {
	Camera    camera.Camera
	Runtime   mlruntime.Backend
	Loader    posenet.LoaderOptions
	FrameLoop frameloop.Options
	Renderer  overlay.Renderer
	Recording camera.RecordOptions
	Clock     clock.Clock
}

// State is the readiness of each stage of the view.
type State struct {
	Runtime   utils.ReadyState
	Model     utils.ReadyState
	Loop      frameloop.State
	Recording bool
}

// View mounts the pose pipeline over a camera.
type View struct {
	opts    Options
	logger  logging.Logger
	runtime *mlruntime.Initializer
	loader  *posenet.Loader
	toggle  *recording.Toggle

	mu        sync.Mutex
	mounted   bool
	unmounted bool
	loop      *frameloop.Loop
	workers   utils.StoppableWorkers
}

// New returns an unmounted view.
func New(opts Options, logger logging.Logger) *View {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.FrameLoop.Clock == nil {
		opts.FrameLoop.Clock = opts.Clock
	}
	if opts.Loader.Clock == nil {
		opts.Loader.Clock = opts.Clock
	}
	if opts.Renderer.Width == 0 || opts.Renderer.Height == 0 {
		opts.Renderer.Width, opts.Renderer.Height = overlay.DefaultWidth, overlay.DefaultHeight
	}
	if opts.Renderer.Style == (overlay.Style{}) {
		opts.Renderer.Style = overlay.DefaultStyle
	}
	return &View{
		opts:    opts,
		logger:  logger,
		runtime: mlruntime.NewInitializer(opts.Runtime, opts.Clock, logger.Sublogger("runtime")),
		loader:  posenet.NewLoader(opts.Loader, logger.Sublogger("loader")),
		toggle:  recording.NewToggle(opts.Camera, opts.Recording, logger.Sublogger("recording")),
	}
}

// Mount starts the runtime check and, once the runtime is ready, loads the model and starts the
// frame loop. It returns right away; the stages come up in the background.
func (v *View) Mount(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.mounted {
		return errors.New("view is already mounted")
	}
	v.mounted = true
	v.workers = utils.NewStoppableWorkersWithContext(ctx, v.bringUp)
	return nil
}

func (v *View) bringUp(ctx context.Context) {
	v.runtime.Start(ctx)
	if err := v.runtime.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			v.logger.CWarnw(ctx, "ml runtime is not ready, pose estimation is off", "error", err)
		}
		return
	}
	if err := v.loader.Load(ctx); err != nil {
		if ctx.Err() == nil {
			v.logger.Errorw("failed to load pose model", "error", err)
		}
		return
	}
	model, _ := v.loader.Model()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.unmounted {
		return
	}
	v.loop = frameloop.New(v.opts.Camera, model, v.opts.FrameLoop, v.logger.Sublogger("frameloop"))
	v.loop.Start(ctx)
	v.logger.CInfow(ctx, "pose estimation running")
}

// Unmount stops the frame loop and the background start up, then closes the model. A recording
// in progress is stopped. The view cannot be mounted again.
func (v *View) Unmount(ctx context.Context) error {
	v.mu.Lock()
	v.unmounted = true
	v.mounted = true
	loop, workers := v.loop, v.workers
	v.mu.Unlock()

	if loop != nil {
		loop.Stop()
	}
	if workers != nil {
		workers.Stop()
	}
	v.runtime.Close()

	var err error
	if v.toggle.IsRecording() {
		err = multierr.Combine(err, v.toggle.Stop(ctx))
	}
	if model, state := v.loader.Model(); state == utils.Ready {
		err = multierr.Combine(err, model.Close(ctx))
	}
	return err
}

// Pose returns the latest published pose, or nil.
func (v *View) Pose() *pose.Pose {
	v.mu.Lock()
	loop := v.loop
	v.mu.Unlock()
	if loop == nil {
		return nil
	}
	return loop.Pose()
}

// Scene is the overlay for the latest pose.
func (v *View) Scene() overlay.Scene {
	return v.opts.Renderer.Render(v.Pose())
}

// Stats are the frame loop's stats, zero until it runs.
func (v *View) Stats() frameloop.Stats {
	v.mu.Lock()
	loop := v.loop
	v.mu.Unlock()
	if loop == nil {
		return frameloop.Stats{}
	}
	return loop.Stats()
}

// State reports how far the view has come up.
func (v *View) State() State {
	v.mu.Lock()
	loop := v.loop
	v.mu.Unlock()
	_, model := v.loader.Model()
	s := State{
		Runtime:   v.runtime.State(),
		Model:     model,
		Loop:      frameloop.Idle,
		Recording: v.toggle.IsRecording(),
	}
	if loop != nil {
		s.Loop = loop.State()
	}
	return s
}

// Permissions returns the answers to the loader's permission requests.
func (v *View) Permissions() (cam, mediaLibrary permissions.Status) {
	return v.loader.Permissions()
}

// StartRecording records until StopRecording is called and returns the recording.
func (v *View) StartRecording(ctx context.Context) (camera.Recording, error) {
	return v.toggle.Start(ctx)
}

// StopRecording stops the recording in progress.
func (v *View) StopRecording(ctx context.Context) error {
	return v.toggle.Stop(ctx)
}
