package inject

import (
	"context"

	"gorgonia.org/tensor"

	"go.viam.com/posecam/components/camera"
)

// Camera is an injected camera.
type Camera struct {
	camera.Camera
	NextFunc           func(ctx context.Context) (*tensor.Dense, func(), error)
	CommitPreviewFunc  func(ctx context.Context) error
	PropertiesFunc     func() camera.Properties
	StartRecordingFunc func(ctx context.Context, opts camera.RecordOptions) (camera.Recording, error)
	StopRecordingFunc  func(ctx context.Context) error
	CloseFunc          func(ctx context.Context) error
}

// Next calls the injected Next or the real version.
func (c *Camera) Next(ctx context.Context) (*tensor.Dense, func(), error) {
	if c.NextFunc == nil {
		return c.Camera.Next(ctx)
	}
	return c.NextFunc(ctx)
}

// CommitPreview calls the injected CommitPreview or the real version.
func (c *Camera) CommitPreview(ctx context.Context) error {
	if c.CommitPreviewFunc == nil {
		return c.Camera.CommitPreview(ctx)
	}
	return c.CommitPreviewFunc(ctx)
}

// Properties calls the injected Properties or the real version.
func (c *Camera) Properties() camera.Properties {
	if c.PropertiesFunc == nil {
		return c.Camera.Properties()
	}
	return c.PropertiesFunc()
}

// StartRecording calls the injected StartRecording or the real version.
func (c *Camera) StartRecording(ctx context.Context, opts camera.RecordOptions) (camera.Recording, error) {
	if c.StartRecordingFunc == nil {
		return c.Camera.StartRecording(ctx, opts)
	}
	return c.StartRecordingFunc(ctx, opts)
}

// StopRecording calls the injected StopRecording or the real version.
func (c *Camera) StopRecording(ctx context.Context) error {
	if c.StopRecordingFunc == nil {
		return c.Camera.StopRecording(ctx)
	}
	return c.StopRecordingFunc(ctx)
}

// Close calls the injected Close or the real version.
func (c *Camera) Close(ctx context.Context) error {
	if c.CloseFunc == nil {
		if c.Camera == nil {
			return nil
		}
		return c.Camera.Close(ctx)
	}
	return c.CloseFunc(ctx)
}
