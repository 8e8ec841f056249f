//go:build no_tflite || no_cgo

// Package tflitecpu runs tflite model files on the host's CPU. This build has no tflite support.
package tflitecpu

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/ml"
	"go.viam.com/posecam/services/mlmodel"
)

var errUnsupported = errors.New("tflite_cpu is not supported in this build")

// TFLiteConfig contains the parameters specific to a tflite_cpu implementation
// of the MLMS (machine learning model service).
type TFLiteConfig struct {
	ModelPath  string `json:"model_path"`
	NumThreads int    `json:"num_threads"`
	LabelPath  string `json:"label_path"`
}

// Model is unavailable without cgo.
type Model struct{}

// NewTFLiteCPUModel always fails in this build.
func NewTFLiteCPUModel(ctx context.Context, params *TFLiteConfig, logger logging.Logger) (*Model, error) {
	return nil, errUnsupported
}

// Infer always fails in this build.
func (m *Model) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	return nil, errUnsupported
}

// Metadata always fails in this build.
func (m *Model) Metadata(ctx context.Context) (mlmodel.MLMetadata, error) {
	return mlmodel.MLMetadata{}, errUnsupported
}

// Close does nothing.
func (m *Model) Close(ctx context.Context) error {
	return nil
}

// Runtime is the readiness check for the tflite CPU runtime.
type Runtime struct{}

// Ready always fails in this build, leaving the runtime uninitialized.
func (Runtime) Ready(ctx context.Context) error {
	return errUnsupported
}
