package posenet

import (
	"context"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/ml"
	"go.viam.com/posecam/pose"
	"go.viam.com/posecam/services/mlmodel"
	"go.viam.com/posecam/utils"
)

// Model estimates poses. A Model is created once and shared by every frame; it is never
// reconfigured.
type Model interface {
	// EstimateSinglePose returns the pose found in a [height, width, 3] uint8 frame, in frame
	// coordinates. The frame is only read.
	EstimateSinglePose(ctx context.Context, frame *tensor.Dense, flipHorizontal bool) (*pose.Pose, error)
	Close(ctx context.Context) error
}

type model struct {
	svc       mlmodel.Service
	cfg       Config
	inputName string
	inputType string
	input     Resolution
	logger    logging.Logger
}

// NewModel wraps a service running PoseNet weights. The model input size and dtype come from the
// service metadata when it has them.
func NewModel(ctx context.Context, svc mlmodel.Service, cfg Config, logger logging.Logger) (Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &model{
		svc:       svc,
		cfg:       cfg,
		inputType: "float32",
		input:     cfg.ValidInputResolution(),
		logger:    logger,
	}

	md, err := svc.Metadata(ctx)
	if err != nil {
		logger.Debugw("model has no metadata, using configured input", "error", err, "input", m.input)
		return m, nil
	}
	info, err := md.Input("")
	if err != nil {
		logger.Debugw("model metadata lists no input, using configured input", "error", err, "input", m.input)
		return m, nil
	}
	m.inputName = info.Name
	if info.DataType != "" {
		m.inputType = info.DataType
	}
	if width, height, err := info.ImageSize(); err == nil {
		m.input = Resolution{Width: width, Height: height}
	}
	if m.inputType != "float32" && m.inputType != "uint8" {
		return nil, errors.Errorf("model input %q has unsupported type %q", info.Name, m.inputType)
	}
	logger.Infow("posenet model ready", "input", m.input, "type", m.inputType, "stride", cfg.OutputStride)
	return m, nil
}

func (m *model) EstimateSinglePose(ctx context.Context, frame *tensor.Dense, flipHorizontal bool) (*pose.Pose, error) {
	width, height, err := ml.FrameDims(frame)
	if err != nil {
		return nil, err
	}
	in, err := m.prepareInput(frame, width, height)
	if err != nil {
		return nil, err
	}

	name := m.inputName
	if name == "" {
		name = "image"
	}
	outputs, err := m.svc.Infer(ctx, ml.Tensors{name: in})
	if err != nil {
		return nil, errors.Wrap(err, "posenet inference failed")
	}
	_, heatmaps, err := outputs.FindByLastDim(pose.NumKeypoints)
	if err != nil {
		return nil, errors.Wrap(err, "finding heatmaps")
	}
	_, offsets, err := outputs.FindByLastDim(2 * pose.NumKeypoints)
	if err != nil {
		return nil, errors.Wrap(err, "finding offsets")
	}
	decoded, err := decodeSinglePose(heatmaps, offsets, m.cfg.OutputStride)
	if err != nil {
		return nil, err
	}
	return scaleAndFlip(decoded, m.input, Resolution{Width: width, Height: height}, flipHorizontal), nil
}

// prepareInput resizes the frame to the model input and converts it to the input dtype. Float
// inputs are scaled to [-1, 1].
func (m *model) prepareInput(frame *tensor.Dense, width, height int) (*tensor.Dense, error) {
	pixels, err := utils.DataAs[[]uint8](frame)
	if err != nil {
		return nil, errors.Wrap(err, "frame must be uint8")
	}
	if width != m.input.Width || height != m.input.Height {
		img, err := ml.TensorToImage(frame)
		if err != nil {
			return nil, err
		}
		pixels = make([]uint8, ml.FrameSize(m.input.Width, m.input.Height))
		if err := ml.ImageInto(pixels, img, m.input.Width, m.input.Height); err != nil {
			return nil, err
		}
	}

	shape := []int{1, m.input.Height, m.input.Width, ml.FrameChannels}
	if m.inputType == "uint8" {
		if width == m.input.Width && height == m.input.Height {
			copied := make([]uint8, len(pixels))
			copy(copied, pixels)
			pixels = copied
		}
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(pixels)), nil
	}
	normalized := make([]float32, len(pixels))
	for i, p := range pixels {
		normalized[i] = float32(p)/127.5 - 1
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(normalized)), nil
}

func (m *model) Close(ctx context.Context) error {
	return m.svc.Close(ctx)
}
