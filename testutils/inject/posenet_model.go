package inject

import (
	"context"

	"gorgonia.org/tensor"

	"go.viam.com/posecam/pose"
	"go.viam.com/posecam/services/posenet"
)

// PosenetModel is an injected pose model.
type PosenetModel struct {
	posenet.Model
	EstimateSinglePoseFunc func(ctx context.Context, frame *tensor.Dense, flipHorizontal bool) (*pose.Pose, error)
	CloseFunc              func(ctx context.Context) error
}

// EstimateSinglePose calls the injected EstimateSinglePose or the real version.
func (m *PosenetModel) EstimateSinglePose(ctx context.Context, frame *tensor.Dense, flipHorizontal bool) (*pose.Pose, error) {
	if m.EstimateSinglePoseFunc == nil {
		return m.Model.EstimateSinglePose(ctx, frame, flipHorizontal)
	}
	return m.EstimateSinglePoseFunc(ctx, frame, flipHorizontal)
}

// Close calls the injected Close or the real version.
func (m *PosenetModel) Close(ctx context.Context) error {
	if m.CloseFunc == nil {
		if m.Model == nil {
			return nil
		}
		return m.Model.Close(ctx)
	}
	return m.CloseFunc(ctx)
}
