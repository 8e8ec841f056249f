// Package posenet estimates a single human pose per frame with a PoseNet model served by an
// mlmodel.Service.
package posenet

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Architectures PoseNet ships weights for.
const (
	MobileNetV1 = "MobileNetV1"
	ResNet50    = "ResNet50"
)

var (
	validStrides = map[string][]int{
		MobileNetV1: {8, 16},
		ResNet50:    {16, 32},
	}
	validMultipliers = map[string][]float64{
		MobileNetV1: {0.50, 0.75, 1.0},
		ResNet50:    {1.0},
	}
	validQuantBytes = []int{1, 2, 4}
)

// Resolution is a width x height in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Config selects which PoseNet weights to load and at what input size.
type Config struct {
	Architecture    string     `json:"architecture"`
	OutputStride    int        `json:"output_stride"`
	InputResolution Resolution `json:"input_resolution"`
	Multiplier      float64    `json:"multiplier"`
	QuantBytes      int        `json:"quant_bytes"`
}

// DefaultConfig is the fixed configuration posecam loads.
func DefaultConfig() Config {
	return Config{
		Architecture:    MobileNetV1,
		OutputStride:    16,
		InputResolution: Resolution{Width: 152, Height: 200},
		Multiplier:      0.75,
		QuantBytes:      2,
	}
}

// Validate checks the combination against the weights PoseNet publishes.
func (c Config) Validate() error {
	strides, ok := validStrides[c.Architecture]
	if !ok {
		return errors.Errorf("invalid architecture %q, must be %s or %s", c.Architecture, MobileNetV1, ResNet50)
	}
	if !lo.Contains(strides, c.OutputStride) {
		return errors.Errorf("invalid output stride %d for %s, must be one of %v", c.OutputStride, c.Architecture, strides)
	}
	if !lo.Contains(validMultipliers[c.Architecture], c.Multiplier) {
		return errors.Errorf("invalid multiplier %v for %s, must be one of %v",
			c.Multiplier, c.Architecture, validMultipliers[c.Architecture])
	}
	if !lo.Contains(validQuantBytes, c.QuantBytes) {
		return errors.Errorf("invalid quant bytes %d, must be one of %v", c.QuantBytes, validQuantBytes)
	}
	if c.InputResolution.Width <= 0 || c.InputResolution.Height <= 0 {
		return errors.Errorf("invalid input resolution %s", c.InputResolution)
	}
	return nil
}

// ValidInputResolution rounds the input resolution so that the model's output grid lines up with
// its stride: floor(size/stride)*stride + 1 on each axis.
func (c Config) ValidInputResolution() Resolution {
	valid := func(size int) int {
		return (size/c.OutputStride)*c.OutputStride + 1
	}
	return Resolution{Width: valid(c.InputResolution.Width), Height: valid(c.InputResolution.Height)}
}

// ModelAssetPath is the path of the weights for this configuration, relative to the model
// directory, e.g. mobilenet/quant2/075/model-stride16.tflite.
func (c Config) ModelAssetPath() string {
	quant := "float"
	if c.QuantBytes != 4 {
		quant = "quant" + strconv.Itoa(c.QuantBytes)
	}
	if c.Architecture == ResNet50 {
		return fmt.Sprintf("resnet50/%s/model-stride%d.tflite", quant, c.OutputStride)
	}
	multiplier := fmt.Sprintf("%03d", int(c.Multiplier*100+0.5))
	return fmt.Sprintf("mobilenet/%s/%s/model-stride%d.tflite", quant, multiplier, c.OutputStride)
}

// DefaultFlipHorizontal is the horizontal flip for a platform. Android front cameras deliver
// mirrored frames; other platforms do not.
func DefaultFlipHorizontal(goos string) bool {
	return goos == "android"
}
