// Package fake implements a fake camera that draws a yellow to blue gradient with a moving marker,
// and records into memory.
package fake

import (
	"context"
	"fmt"
	"image/color"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/fogleman/gg"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"gorgonia.org/tensor"

	"go.viam.com/posecam/components/camera"
	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/ml"
)

const (
	defaultWidth  = 152
	defaultHeight = 200
)

// Config are the attributes of the fake camera config.
type Config struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// Validate checks that the config attributes are valid for a fake camera.
func (conf *Config) Validate(path string) error {
	if conf.Width < 0 || conf.Height < 0 {
		return errors.Errorf("%s: resolution must not be negative, got %dx%d", path, conf.Width, conf.Height)
	}
	return nil
}

// Camera is a fake camera. Every call to Next draws a fresh frame.
type Camera struct {
	width, height int
	clock         clock.Clock
	logger        logging.Logger
	pool          *camera.BufferPool

	seq     atomic.Uint64
	commits atomic.Uint64
	closed  atomic.Bool

	mu        sync.Mutex
	recording *recording
}

type recording struct {
	path    string
	frames  uint64
	stopped chan struct{}
}

// NewCamera returns a new fake camera. A nil clock uses the wall clock.
func NewCamera(conf *Config, clk clock.Clock, logger logging.Logger) (*Camera, error) {
	if conf == nil {
		conf = &Config{}
	}
	if err := conf.Validate("camera.fake"); err != nil {
		return nil, err
	}
	width, height := conf.Width, conf.Height
	if width == 0 {
		width = defaultWidth
	}
	if height == 0 {
		height = defaultHeight
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Camera{
		width:  width,
		height: height,
		clock:  clk,
		logger: logger,
		pool:   camera.NewBufferPool(width, height),
	}, nil
}

// Next draws the next frame into a pooled buffer.
func (c *Camera) Next(ctx context.Context) (*tensor.Dense, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if c.closed.Load() {
		return nil, nil, camera.ErrClosed
	}
	seq := c.seq.Inc()
	buf := c.pool.Get()
	if err := ml.ImageInto(buf, c.draw(seq).Image(), c.width, c.height); err != nil {
		c.pool.Put(buf)
		return nil, nil, err
	}

	c.mu.Lock()
	if c.recording != nil {
		c.recording.frames++
	}
	c.mu.Unlock()

	return c.pool.FrameTensor(&camera.Frame{Data: buf, Seq: seq, CapturedAt: c.clock.Now()}, c.width, c.height)
}

// draw renders the gradient with a marker whose position depends on seq.
func (c *Camera) draw(seq uint64) *gg.Context {
	w, h := float64(c.width), float64(c.height)
	dc := gg.NewContext(c.width, c.height)
	grad := gg.NewLinearGradient(0, 0, w, h)
	grad.AddColorStop(0, color.RGBA{255, 255, 0, 255})
	grad.AddColorStop(1, color.RGBA{0, 0, 255, 255})
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, w, h)
	dc.Fill()

	dc.SetColor(color.White)
	dc.DrawCircle(float64(seq%uint64(c.width)), h/2, 4)
	dc.Fill()
	return dc
}

// CommitPreview counts the commit.
func (c *Camera) CommitPreview(ctx context.Context) error {
	if c.closed.Load() {
		return camera.ErrClosed
	}
	c.commits.Inc()
	return nil
}

// Properties returns the frame size.
func (c *Camera) Properties() camera.Properties {
	return camera.Properties{Width: c.width, Height: c.height, Channels: ml.FrameChannels}
}

// StartRecording records in memory until StopRecording is called or ctx is done.
func (c *Camera) StartRecording(ctx context.Context, opts camera.RecordOptions) (camera.Recording, error) {
	if c.closed.Load() {
		return camera.Recording{}, camera.ErrClosed
	}
	c.mu.Lock()
	if c.recording != nil {
		c.mu.Unlock()
		return camera.Recording{}, camera.ErrRecordingActive
	}
	startedAt := c.clock.Now()
	rec := &recording{
		path:    fmt.Sprintf("memory://%s/recording-%d", opts.Dir, startedAt.UnixNano()),
		stopped: make(chan struct{}),
	}
	c.recording = rec
	c.mu.Unlock()
	if opts.OnStarted != nil {
		opts.OnStarted()
	}

	select {
	case <-rec.stopped:
	case <-ctx.Done():
		c.mu.Lock()
		if c.recording == rec {
			c.recording = nil
		}
		c.mu.Unlock()
		return camera.Recording{}, ctx.Err()
	}
	result := camera.Recording{Path: rec.path, StartedAt: startedAt, Duration: c.clock.Since(startedAt)}
	c.logger.Debugw("fake recording finished", "path", rec.path, "frames", rec.frames)
	return result, nil
}

// StopRecording ends the active recording.
func (c *Camera) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording == nil {
		return camera.ErrNoRecording
	}
	close(c.recording.stopped)
	c.recording = nil
	return nil
}

// Close makes further calls fail. A pending recording is stopped.
func (c *Camera) Close(ctx context.Context) error {
	c.closed.Store(true)
	c.mu.Lock()
	if c.recording != nil {
		close(c.recording.stopped)
		c.recording = nil
	}
	c.mu.Unlock()
	return nil
}

// Allocs is the number of frames handed out.
func (c *Camera) Allocs() uint64 { return c.pool.Allocs() }

// Releases is the number of frames released.
func (c *Camera) Releases() uint64 { return c.pool.Releases() }

// Live is the number of frames handed out and not released.
func (c *Camera) Live() int64 { return c.pool.Live() }

// Commits is the number of preview commits.
func (c *Camera) Commits() uint64 { return c.commits.Load() }
