// Package mlmodel defines a service that can take in a map of input tensors, pass them through an
// inference engine, and then return a map of output tensors.
package mlmodel

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/posecam/ml"
)

// Service runs a loaded model. Implementations must be safe for sequential use from multiple
// goroutines; posecam never overlaps calls to Infer.
type Service interface {
	Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error)
	Metadata(ctx context.Context) (MLMetadata, error)
	Close(ctx context.Context) error
}

// MLMetadata describes a loaded model and its tensors.
type MLMetadata struct {
	ModelName        string       `json:"name"`
	ModelType        string       `json:"type"` // e.g. pose_estimator
	ModelDescription string       `json:"description"`
	Inputs           []TensorInfo `json:"inputs"`
	Outputs          []TensorInfo `json:"outputs"`
}

// TensorInfo describes one input or output tensor.
type TensorInfo struct {
	Name            string                 `json:"name"` // e.g. heatmap
	Description     string                 `json:"description,omitempty"`
	DataType        string                 `json:"data_type"` // e.g. uint8, float32
	Shape           []int                  `json:"shape"`
	AssociatedFiles []File                 `json:"associated_files,omitempty"`
	Extra           map[string]interface{} `json:"extra,omitempty"`
}

// File is a file associated with a tensor, such as a label map.
type File struct {
	Name        string    `json:"name"` // e.g. category_labels.txt
	Description string    `json:"description,omitempty"`
	LabelType   LabelType `json:"label_type"`
}

// LabelType describes how labels from the file are assigned to the tensors. TENSOR_VALUE means that
// labels are the actual value in the tensor. TENSOR_AXIS means that labels are positional within the
// tensor axis.
type LabelType string

// The known label types.
const (
	LabelTypeUnspecified = LabelType("UNSPECIFIED")
	LabelTypeTensorValue = LabelType("TENSOR_VALUE")
	LabelTypeTensorAxis  = LabelType("TENSOR_AXIS")
)

// ImageSize returns the width and height of an image input shaped [1, height, width, 3] or
// [height, width, 3].
func (tf TensorInfo) ImageSize() (int, int, error) {
	shape := tf.Shape
	if len(shape) == 4 {
		shape = shape[1:]
	}
	if len(shape) != 3 || shape[0] <= 0 || shape[1] <= 0 {
		return 0, 0, errors.Errorf("input %q with shape %v is not an image tensor", tf.Name, tf.Shape)
	}
	return shape[1], shape[0], nil
}

// Input returns the input tensor info with the given name, or the first input if name is empty.
func (mm MLMetadata) Input(name string) (TensorInfo, error) {
	if len(mm.Inputs) == 0 {
		return TensorInfo{}, errors.Errorf("model %q has no inputs", mm.ModelName)
	}
	if name == "" {
		return mm.Inputs[0], nil
	}
	info, ok := lo.Find(mm.Inputs, func(tf TensorInfo) bool { return tf.Name == name })
	if !ok {
		return TensorInfo{}, errors.Errorf("model %q has no input named %q", mm.ModelName, name)
	}
	return info, nil
}
