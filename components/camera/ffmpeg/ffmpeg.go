// Package ffmpeg provides a camera that captures through an ffmpeg process: any device, file or
// stream ffmpeg can open is scaled to the frame size and read as raw RGB.
package ffmpeg

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"gorgonia.org/tensor"

	"go.viam.com/posecam/components/camera"
	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/ml"
	"go.viam.com/posecam/utils"
)

const (
	defaultWidth  = 152
	defaultHeight = 200
)

// Config is the attribute struct for ffmpeg cameras.
type Config struct {
	Source      string                 `json:"source"`
	Format      string                 `json:"format,omitempty"`
	FPS         float64                `json:"fps,omitempty"`
	InputKWArgs map[string]interface{} `json:"input_kw_args,omitempty"`
	Width       int                    `json:"-"`
	Height      int                    `json:"-"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.Source == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "source")
	}
	if conf.FPS < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("fps must not be negative, got %v", conf.FPS))
	}
	return nil
}

// Camera reads frames from an ffmpeg capture process into a single-slot mailbox.
type Camera struct {
	conf    Config
	width   int
	height  int
	clock   clock.Clock
	logger  logging.Logger
	pool    *camera.BufferPool
	slot    *camera.FrameSlot
	workers utils.StoppableWorkers

	mu         sync.Mutex
	captureErr error
	latest     []byte
	preview    image.Image
	recording  *recording
}

type recording struct {
	path  string
	input *io.PipeWriter
	done  chan error
}

// NewCamera starts capturing from conf.Source at width x height.
func NewCamera(ctx context.Context, conf *Config, logger logging.Logger) (*Camera, error) {
	// make sure ffmpeg is in the path before doing anything else
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, err
	}
	if conf == nil {
		return nil, errors.New("ffmpeg camera needs a config")
	}
	if err := conf.Validate("camera"); err != nil {
		return nil, err
	}

	width, height := conf.Width, conf.Height
	if width <= 0 || height <= 0 {
		width, height = defaultWidth, defaultHeight
	}
	c := &Camera{
		conf:   *conf,
		width:  width,
		height: height,
		clock:  clock.New(),
		logger: logger,
		pool:   camera.NewBufferPool(width, height),
	}
	c.slot = camera.NewFrameSlot(func(f *camera.Frame) { c.pool.Put(f.Data) })

	out, in := io.Pipe()
	stream := ffmpeg.Input(conf.Source, c.inputArgs()).
		Filter("scale", ffmpeg.Args{fmt.Sprintf("%d:%d", c.width, c.height)}).
		Output("pipe:", ffmpeg.KwArgs{"format": "rawvideo", "pix_fmt": "rgb24"}).
		WithOutput(in)

	c.workers = utils.NewStoppableWorkersWithContext(context.Background())
	c.workers.Add(func(ctx context.Context) {
		stream.Context = ctx
		err := stream.Run()
		if ctx.Err() == nil && err != nil {
			logger.Errorw("ffmpeg capture exited", "source", conf.Source, "error", err)
		}
		if err != nil {
			goutils.UncheckedError(in.CloseWithError(err))
			return
		}
		goutils.UncheckedError(in.Close())
	}, func(ctx context.Context) {
		c.readFrames(ctx, out)
	})
	return c, nil
}

func (c *Camera) inputArgs() ffmpeg.KwArgs {
	args := ffmpeg.KwArgs{}
	for key, value := range c.conf.InputKWArgs {
		args[key] = value
	}
	if c.conf.Format != "" {
		args["f"] = c.conf.Format
	}
	if c.conf.FPS > 0 {
		args["framerate"] = c.conf.FPS
	}
	return args
}

// readFrames reads whole frames off the pipe until it ends.
func (c *Camera) readFrames(ctx context.Context, out *io.PipeReader) {
	defer c.slot.Close()
	defer func() {
		goutils.UncheckedError(out.Close())
	}()
	for ctx.Err() == nil {
		buf := c.pool.Get()
		if _, err := io.ReadFull(out, buf); err != nil {
			c.pool.Put(buf)
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				c.mu.Lock()
				c.captureErr = err
				c.mu.Unlock()
			}
			return
		}
		c.tee(buf)
		c.slot.Publish(&camera.Frame{Data: buf, CapturedAt: c.clock.Now()})
	}
}

// tee keeps a copy of the frame for previews and feeds the active recording.
func (c *Camera) tee(buf []byte) {
	c.mu.Lock()
	if c.latest == nil {
		c.latest = make([]byte, len(buf))
	}
	copy(c.latest, buf)
	rec := c.recording
	c.mu.Unlock()

	if rec == nil {
		return
	}
	if _, err := rec.input.Write(buf); err != nil {
		c.logger.Debugw("recording stopped accepting frames", "path", rec.path, "error", err)
		c.stopRecording(rec)
	}
}

// Next returns the newest frame not returned before.
func (c *Camera) Next(ctx context.Context) (*tensor.Dense, func(), error) {
	frame, err := c.slot.Next(ctx)
	if err != nil {
		if errors.Is(err, camera.ErrClosed) {
			c.mu.Lock()
			captureErr := c.captureErr
			c.mu.Unlock()
			if captureErr != nil {
				return nil, nil, multierr.Combine(camera.ErrClosed, captureErr)
			}
		}
		return nil, nil, err
	}
	return c.pool.FrameTensor(frame, c.width, c.height)
}

// CommitPreview stores the most recent frame as the preview image.
func (c *Camera) CommitPreview(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return nil
	}
	latest := make([]byte, len(c.latest))
	copy(latest, c.latest)
	t, err := ml.NewFrameTensor(latest, c.width, c.height)
	if err != nil {
		return err
	}
	img, err := ml.TensorToImage(t)
	if err != nil {
		return err
	}
	c.preview = img
	return nil
}

// Preview returns the last committed preview, if any.
func (c *Camera) Preview() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preview
}

// Properties returns the frame size.
func (c *Camera) Properties() camera.Properties {
	return camera.Properties{Width: c.width, Height: c.height, Channels: ml.FrameChannels}
}

// StartRecording encodes captured frames to <dir>/recording-<uuid>.mkv until StopRecording.
func (c *Camera) StartRecording(ctx context.Context, opts camera.RecordOptions) (camera.Recording, error) {
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return camera.Recording{}, errors.Wrap(err, "creating recording directory")
	}
	codec := opts.Codec
	if codec == "" {
		codec = "libx264"
	}
	path := filepath.Join(opts.Dir, "recording-"+uuid.NewString()+".mkv")

	c.mu.Lock()
	if c.recording != nil {
		c.mu.Unlock()
		return camera.Recording{}, camera.ErrRecordingActive
	}
	if c.workers.Context().Err() != nil {
		c.mu.Unlock()
		return camera.Recording{}, camera.ErrClosed
	}
	fps := c.conf.FPS
	if fps <= 0 {
		fps = 30
	}
	pipeOut, pipeIn := io.Pipe()
	rec := &recording{path: path, input: pipeIn, done: make(chan error, 1)}
	stream := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"format":    "rawvideo",
		"pix_fmt":   "rgb24",
		"s":         fmt.Sprintf("%dx%d", c.width, c.height),
		"framerate": fps,
	}).
		Output(path, ffmpeg.KwArgs{"c:v": codec, "pix_fmt": "yuv420p"}).
		OverWriteOutput().
		WithInput(pipeOut)
	c.recording = rec
	c.mu.Unlock()

	startedAt := c.clock.Now()
	goutils.PanicCapturingGo(func() {
		err := stream.Run()
		goutils.UncheckedError(pipeOut.Close())
		rec.done <- err
	})
	c.logger.Infow("recording started", "path", path)
	if opts.OnStarted != nil {
		opts.OnStarted()
	}

	var err error
	select {
	case err = <-rec.done:
	case <-ctx.Done():
		c.stopRecording(rec)
		err = multierr.Combine(ctx.Err(), <-rec.done)
	}
	c.mu.Lock()
	if c.recording == rec {
		c.recording = nil
	}
	c.mu.Unlock()

	result := camera.Recording{Path: path, StartedAt: startedAt, Duration: c.clock.Since(startedAt)}
	if err != nil {
		return result, errors.Wrapf(err, "recording to %s", path)
	}
	c.logger.Infow("recording finished", "path", path, "duration", result.Duration)
	return result, nil
}

// StopRecording closes the encoder's input so it finalizes the file. The pending StartRecording
// returns once it has.
func (c *Camera) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	rec := c.recording
	c.mu.Unlock()
	if rec == nil {
		return camera.ErrNoRecording
	}
	c.stopRecording(rec)
	return nil
}

func (c *Camera) stopRecording(rec *recording) {
	c.mu.Lock()
	if c.recording == rec {
		c.recording = nil
	}
	c.mu.Unlock()
	goutils.UncheckedError(rec.input.Close())
}

// Close stops the capture process and any recording.
func (c *Camera) Close(ctx context.Context) error {
	c.mu.Lock()
	rec := c.recording
	c.mu.Unlock()
	if rec != nil {
		c.stopRecording(rec)
	}
	c.workers.Stop()
	c.slot.Close()
	return nil
}
