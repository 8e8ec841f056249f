// Package camera defines the camera bridge posecam reads frames from: a pull-based source of
// fixed size RGB tensors with preview and native recording support.
package camera

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrClosed is returned by a camera, or a frame source, once it has been closed.
var ErrClosed = errors.New("camera is closed")

// Native recorder errors.
var (
	ErrRecordingActive = errors.New("camera is already recording")
	ErrNoRecording     = errors.New("camera is not recording")
)

// Properties describe the frames a camera delivers.
type Properties struct {
	Width    int
	Height   int
	Channels int
}

// RecordOptions configure a native recording.
type RecordOptions struct {
	Dir   string
	Codec string
	// OnStarted, if set, is called once the recording is registered and StopRecording can end it.
	OnStarted func()
}

// Recording is a finished native recording.
type Recording struct {
	Path      string
	StartedAt time.Time
	Duration  time.Duration
}

// Recorder is a camera's native recording capability. StartRecording blocks until the recording
// is stopped by StopRecording, then returns what was recorded. StopRecording returns
// ErrNoRecording until StartRecording has called opts.OnStarted.
type Recorder interface {
	StartRecording(ctx context.Context, opts RecordOptions) (Recording, error)
	StopRecording(ctx context.Context) error
}

// A Camera supplies frames as [height, width, 3] uint8 tensors.
type Camera interface {
	// Next blocks until a frame not returned before is available. The caller owns the tensor
	// until it calls release, which it must do exactly once.
	Next(ctx context.Context) (frame *tensor.Dense, release func(), err error)
	// CommitPreview presents the most recent frame.
	CommitPreview(ctx context.Context) error
	Properties() Properties
	Recorder
	Close(ctx context.Context) error
}
