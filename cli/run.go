package cli

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/time/rate"

	"go.viam.com/posecam/components/camera"
	"go.viam.com/posecam/components/camera/fake"
	"go.viam.com/posecam/components/camera/ffmpeg"
	"go.viam.com/posecam/config"
	"go.viam.com/posecam/frameloop"
	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/mlruntime"
	"go.viam.com/posecam/overlay"
	"go.viam.com/posecam/permissions"
	"go.viam.com/posecam/pose"
	"go.viam.com/posecam/services/mlmodel"
	"go.viam.com/posecam/services/mlmodel/remote"
	"go.viam.com/posecam/services/mlmodel/tflitecpu"
	"go.viam.com/posecam/services/posenet"
	"go.viam.com/posecam/utils"
	"go.viam.com/posecam/view"
)

func newLogger(c *cli.Context) logging.Logger {
	logger := logging.NewLogger("posecam")
	if c.Bool(generalFlagDebug) {
		logger = logging.NewDebugLogger("posecam")
	}
	logging.ReplaceGlobal(logger)
	return logger
}

// ValidateAction reads and checks a configuration file.
func ValidateAction(c *cli.Context) error {
	logger := newLogger(c)
	cfg, err := config.Read(c.Context, c.String(generalFlagConfig), logger)
	if err != nil {
		return err
	}
	printf(c, "%s is valid\n", cfg.ConfigFilePath)
	printf(c, "  camera:  %s\n", describeCamera(cfg.Camera))
	printf(c, "  backend: %s\n", cfg.Model.Backend)
	if cfg.Model.Backend == config.BackendRemote {
		printf(c, "  server:  %s\n", cfg.Model.RemoteAddress)
	} else {
		printf(c, "  weights: %s\n", cfg.Model.WeightsPath())
	}
	return nil
}

func describeCamera(conf config.CameraConfig) string {
	if conf.Fake {
		return "fake"
	}
	if conf.Format != "" {
		return fmt.Sprintf("%s (%s)", conf.Source, conf.Format)
	}
	return conf.Source
}

func printf(c *cli.Context, format string, args ...interface{}) {
	fmt.Fprintf(c.App.Writer, format, args...) //nolint:errcheck
}

// RunAction mounts the camera view and runs until interrupted or the duration passes.
func RunAction(c *cli.Context) error {
	logger := newLogger(c)
	cfg, err := config.Read(c.Context, c.String(generalFlagConfig), logger)
	if err != nil {
		return err
	}
	if c.Bool(runFlagFake) {
		cfg.Camera.Fake = true
	}
	if err := cfg.Log.Apply(logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration(runFlagDuration); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return run(ctx, c, cfg, logger)
}

func run(ctx context.Context, c *cli.Context, cfg *config.Config, logger logging.Logger) (err error) {
	cam, err := newCamera(ctx, cfg.Camera, logger.Sublogger("camera"))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, cam.Close(context.Background()))
	}()

	backend, factory := newModelBackend(cfg.Model, logger.Sublogger("mlmodel"))
	style, err := cfg.Overlay.Style()
	if err != nil {
		return err
	}
	renderer := overlay.Renderer{
		Width:  overlay.DefaultWidth,
		Height: overlay.DefaultHeight,
		Style:  style,
		Labels: cfg.Overlay.Labels,
	}
	out := newSceneWriter(cam, renderer, c.Path(runFlagSVG), c.Path(runFlagPNG), logger)

	v := view.New(view.Options{
		Camera:  cam,
		Runtime: backend,
		Loader: posenet.LoaderOptions{
			Permissions:   permissions.NewFilesystemRequester(cfg.Camera.Source, cfg.Recording.Dir),
			Factory:       factory,
			Config:        *cfg.Model.PoseNet,
			AbortOnDenial: cfg.Permissions.AbortOnDenial,
		},
		FrameLoop: frameloop.Options{
			FlipHorizontal:  cfg.FrameLoop.Flip(runtime.GOOS),
			AutoRender:      cfg.FrameLoop.AutoRender,
			RefreshInterval: cfg.FrameLoop.RefreshInterval(),
			Publish:         out.publish,
		},
		Renderer:  renderer,
		Recording: cfg.Recording.Options(),
	}, logger)

	writers := utils.NewStoppableWorkers(out.run)
	if err := v.Mount(ctx); err != nil {
		writers.Stop()
		return err
	}
	if c.Bool(runFlagRecord) {
		writers.Add(func(ctx context.Context) {
			rec, err := v.StartRecording(ctx)
			if err != nil {
				logger.Warnw("recording did not finish", "error", err)
				return
			}
			printf(c, "recorded %s (%s)\n", rec.Path, rec.Duration)
		})
	}

	<-ctx.Done()
	logger.Infow("shutting down")
	unmountErr := v.Unmount(context.Background())
	writers.Stop()

	if p := v.Pose(); p != nil {
		printf(c, "last pose:\n%s\n", p)
	}
	stats := v.Stats()
	logger.Infow("pose estimation stopped",
		"iterations", stats.Iterations,
		"failures", stats.Failures,
		"mean_latency", stats.MeanLatency,
		"p95_latency", stats.P95Latency)
	return unmountErr
}

func newCamera(ctx context.Context, conf config.CameraConfig, logger logging.Logger) (camera.Camera, error) {
	if conf.Fake {
		cam, err := fake.NewCamera(&fake.Config{}, nil, logger)
		if err != nil {
			return nil, err
		}
		return cam, nil
	}
	cam, err := ffmpeg.NewCamera(ctx, &conf.Config, logger)
	if err != nil {
		return nil, err
	}
	return cam, nil
}

func newModelBackend(conf config.ModelConfig, logger logging.Logger) (mlruntime.Backend, posenet.ServiceFactory) {
	if conf.Backend == config.BackendRemote {
		rconf := remote.Config{Address: conf.RemoteAddress}
		return remote.Runtime{Config: rconf}, func(ctx context.Context, cfg posenet.Config) (mlmodel.Service, error) {
			client, err := remote.NewClient(ctx, rconf, logger)
			if err != nil {
				return nil, err
			}
			return client, nil
		}
	}
	return tflitecpu.Runtime{}, func(ctx context.Context, cfg posenet.Config) (mlmodel.Service, error) {
		model, err := tflitecpu.NewTFLiteCPUModel(ctx, &tflitecpu.TFLiteConfig{
			ModelPath:  conf.WeightsPath(),
			NumThreads: conf.NumThreads,
		}, logger)
		if err != nil {
			return nil, err
		}
		return model, nil
	}
}

// overlayWriteInterval is the shortest time between two overlay file writes.
const overlayWriteInterval = 100 * time.Millisecond

// sceneWriter writes the overlay of the latest published pose. Poses published faster than they
// are written replace each other.
type sceneWriter struct {
	cam      camera.Camera
	renderer overlay.Renderer
	svgPath  string
	pngPath  string
	logger   logging.Logger
	latest   chan *pose.Pose
	limiter  *rate.Limiter
}

func newSceneWriter(cam camera.Camera, renderer overlay.Renderer, svgPath, pngPath string, logger logging.Logger) *sceneWriter {
	return &sceneWriter{
		cam:      cam,
		renderer: renderer,
		svgPath:  svgPath,
		pngPath:  pngPath,
		logger:   logger,
		latest:   make(chan *pose.Pose, 1),
		limiter:  rate.NewLimiter(rate.Every(overlayWriteInterval), 1),
	}
}

func (w *sceneWriter) publish(p *pose.Pose) {
	if w.svgPath == "" && w.pngPath == "" {
		return
	}
	for {
		select {
		case w.latest <- p:
			return
		default:
		}
		select {
		case <-w.latest:
		default:
		}
	}
}

func (w *sceneWriter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			select {
			case p := <-w.latest:
				w.write(p)
			default:
			}
			return
		case p := <-w.latest:
			err := w.limiter.Wait(ctx)
			w.write(w.newest(p))
			if err != nil {
				return
			}
		}
	}
}

// newest returns a pose published while waiting to write p, or p.
func (w *sceneWriter) newest(p *pose.Pose) *pose.Pose {
	select {
	case newer := <-w.latest:
		return newer
	default:
		return p
	}
}

func (w *sceneWriter) write(p *pose.Pose) {
	scene := w.renderer.Render(p)
	if w.svgPath != "" {
		if err := writeFile(w.svgPath, func(f *os.File) error { return scene.WriteSVG(f) }); err != nil {
			w.logger.Warnw("failed to write svg", "path", w.svgPath, "error", err)
		}
	}
	if w.pngPath != "" {
		var background image.Image
		if previewer, ok := w.cam.(interface{ Preview() image.Image }); ok {
			background = previewer.Preview()
		}
		props := w.cam.Properties()
		if err := writeFile(w.pngPath, func(f *os.File) error {
			return scene.WritePNG(f, background, props.Width, props.Height)
		}); err != nil {
			w.logger.Warnw("failed to write png", "path", w.pngPath, "error", err)
		}
	}
}

// writeFile writes through a temporary file so readers never see a partial overlay.
func writeFile(path string, write func(f *os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(func() error {
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
	if err := multierr.Combine(write(tmp), tmp.Close()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
