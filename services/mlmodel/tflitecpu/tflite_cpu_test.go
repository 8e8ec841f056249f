//go:build !no_tflite && !no_cgo

package tflitecpu

import (
	"context"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/services/mlmodel"
)

var _ mlmodel.Service = (*Model)(nil)

func TestEmptyTFLiteConfig(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	got, err := NewTFLiteCPUModel(ctx, nil, logger)
	test.That(t, got, test.ShouldBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "could not find parameters")

	got, err = NewTFLiteCPUModel(ctx, &TFLiteConfig{}, logger)
	test.That(t, got, test.ShouldBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "could not add model")
}

func TestMissingModelFile(t *testing.T) {
	cfg := &TFLiteConfig{ModelPath: filepath.Join(t.TempDir(), "model-stride16.tflite"), NumThreads: 1}
	got, err := NewTFLiteCPUModel(context.Background(), cfg, logging.NewTestLogger(t))
	test.That(t, got, test.ShouldBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to load")
}

func TestRuntimeReady(t *testing.T) {
	test.That(t, Runtime{}.Ready(context.Background()), test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.That(t, Runtime{}.Ready(ctx), test.ShouldBeError, context.Canceled)
}
