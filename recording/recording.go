// Package recording starts and stops a camera's native recording and tracks whether one is in
// progress.
package recording

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/posecam/components/camera"
	"go.viam.com/posecam/logging"
)

var (
	// ErrAlreadyRecording is returned by Start while a recording is in progress.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNotRecording is returned by Stop when no recording is in progress.
	ErrNotRecording = errors.New("not recording")
)

// Toggle drives a camera.Recorder. At most one recording is in progress at a time.
type Toggle struct {
	recorder camera.Recorder
	opts     camera.RecordOptions
	logger   logging.Logger

	recording atomic.Bool

	mu          sync.Mutex
	started     bool
	stopPending bool
}

// NewToggle returns an idle toggle that records with opts.
func NewToggle(recorder camera.Recorder, opts camera.RecordOptions, logger logging.Logger) *Toggle {
	return &Toggle{recorder: recorder, opts: opts, logger: logger}
}

// Start begins a recording and blocks until it is stopped, returning what was recorded. The
// toggle reports recording from the moment Start is called until the native recording settles.
func (t *Toggle) Start(ctx context.Context) (camera.Recording, error) {
	if !t.recording.CompareAndSwap(false, true) {
		return camera.Recording{}, ErrAlreadyRecording
	}
	defer func() {
		t.mu.Lock()
		t.started, t.stopPending = false, false
		t.mu.Unlock()
		t.recording.Store(false)
	}()

	opts := t.opts
	opts.OnStarted = func() { t.nativeStarted(ctx) }
	t.logger.CInfow(ctx, "recording started", "dir", opts.Dir)
	rec, err := t.recorder.StartRecording(ctx, opts)
	if err != nil {
		t.logger.CWarnw(ctx, "recording failed", "error", err)
		return camera.Recording{}, errors.Wrap(err, "recording")
	}
	t.logger.CInfow(ctx, "recording finished", "path", rec.Path, "duration", rec.Duration)
	return rec, nil
}

// nativeStarted applies a Stop that arrived before the recorder could accept it.
func (t *Toggle) nativeStarted(ctx context.Context) {
	t.mu.Lock()
	t.started = true
	pending := t.stopPending
	t.mu.Unlock()
	if !pending {
		return
	}
	t.logger.CDebugw(ctx, "applying deferred stop")
	if err := t.recorder.StopRecording(ctx); err != nil {
		t.logger.CWarnw(ctx, "stopping recording failed", "error", err)
	}
}

// Stop ends the recording in progress, which makes the pending Start return. A Stop that comes
// before the recorder has started is remembered and applied once it has.
func (t *Toggle) Stop(ctx context.Context) error {
	if !t.recording.Load() {
		return ErrNotRecording
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopPending {
		return nil
	}
	err := t.recorder.StopRecording(ctx)
	if !t.started && errors.Is(err, camera.ErrNoRecording) {
		t.stopPending = true
		return nil
	}
	if err != nil {
		t.logger.CWarnw(ctx, "stopping recording failed", "error", err)
		return errors.Wrap(err, "stopping recording")
	}
	return nil
}

// IsRecording reports whether a recording is in progress.
func (t *Toggle) IsRecording() bool {
	return t.recording.Load()
}
