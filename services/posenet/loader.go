package posenet

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/permissions"
	"go.viam.com/posecam/services/mlmodel"
	"go.viam.com/posecam/utils"
)

// ErrPermissionDenied is returned by Load when a permission is denied and the loader was told to
// abort on denial.
var ErrPermissionDenied = errors.New("permission denied")

// ServiceFactory builds the backend that runs the weights selected by cfg.
type ServiceFactory func(ctx context.Context, cfg Config) (mlmodel.Service, error)

// LoaderOptions configure a Loader.
type LoaderOptions struct {
	Permissions   permissions.Requester
	Factory       ServiceFactory
	Config        Config
	AbortOnDenial bool
	// Clock paces the warnings logged while permissions or the backend are slow. Defaults to
	// the real clock.
	Clock clock.Clock
}

// Loader asks for permissions and then loads the model, exactly once.
type Loader struct {
	opts   LoaderOptions
	logger logging.Logger
	model  *utils.Readiness[Model]

	mu           sync.Mutex
	camera       permissions.Status
	mediaLibrary permissions.Status
}

// NewLoader returns a Loader that has not started loading.
func NewLoader(opts LoaderOptions, logger logging.Logger) *Loader {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Loader{opts: opts, logger: logger, model: utils.NewReadiness[Model]()}
}

// Load requests both permissions, waits for both answers and loads the model. Only the first call
// does any work; later calls wait for it and return its outcome.
func (l *Loader) Load(ctx context.Context) error {
	l.model.Resolve(func() (Model, error) {
		return l.load(ctx)
	})
	if err := l.model.Err(); err != nil {
		return errors.Wrap(err, "loading posenet")
	}
	return nil
}

func (l *Loader) load(ctx context.Context) (Model, error) {
	if err := l.requestPermissions(ctx); err != nil {
		return nil, err
	}

	asset := l.opts.Config.ModelAssetPath()
	stopSlow := utils.SlowLogger(ctx, l.opts.Clock, "waiting for model backend", "asset", asset, l.logger)
	svc, err := l.opts.Factory(ctx, l.opts.Config)
	stopSlow()
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", asset)
	}
	m, err := NewModel(ctx, svc, l.opts.Config, l.logger)
	if err != nil {
		return nil, multierr.Combine(err, svc.Close(ctx))
	}
	l.logger.Infow("model loaded", "asset", asset)
	return m, nil
}

func (l *Loader) requestPermissions(ctx context.Context) error {
	var camera, mediaLibrary permissions.Status
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		camera, err = l.opts.Permissions.RequestCamera(gctx)
		return errors.Wrap(err, "requesting camera permission")
	})
	g.Go(func() error {
		var err error
		mediaLibrary, err = l.opts.Permissions.RequestMediaLibrary(gctx)
		return errors.Wrap(err, "requesting media library permission")
	})
	stopSlow := utils.SlowLogger(ctx, l.opts.Clock, "waiting for permission answers", "requests", "camera, media library", l.logger)
	err := g.Wait()
	stopSlow()

	l.mu.Lock()
	l.camera, l.mediaLibrary = camera, mediaLibrary
	l.mu.Unlock()
	if err != nil {
		return err
	}

	var denied []string
	if camera != permissions.Granted {
		denied = append(denied, "camera")
	}
	if mediaLibrary != permissions.Granted {
		denied = append(denied, "media library")
	}
	if len(denied) == 0 {
		return nil
	}
	if l.opts.AbortOnDenial {
		return errors.Wrapf(ErrPermissionDenied, "%v", denied)
	}
	l.logger.Warnw("permission not granted, loading anyway", "denied", denied,
		"camera", camera.String(), "media_library", mediaLibrary.String())
	return nil
}

// Model returns the loaded model, which is nil unless the state is Ready.
func (l *Loader) Model() (Model, utils.ReadyState) {
	return l.model.Get()
}

// Wait blocks until the model is loaded, loading failed or ctx is done.
func (l *Loader) Wait(ctx context.Context) (Model, error) {
	return l.model.Wait(ctx)
}

// Err returns why loading failed, if it did.
func (l *Loader) Err() error {
	return l.model.Err()
}

// Permissions returns the answers to the permission requests.
func (l *Loader) Permissions() (camera, mediaLibrary permissions.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.camera, l.mediaLibrary
}
