package posenet

import (
	"testing"

	"go.viam.com/test"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.ValidInputResolution(), test.ShouldResemble, Resolution{Width: 145, Height: 193})
	test.That(t, cfg.ModelAssetPath(), test.ShouldEqual, "mobilenet/quant2/075/model-stride16.tflite")
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Config)
		errStr string
	}{
		{"unknown architecture", func(c *Config) { c.Architecture = "VGG" }, "invalid architecture"},
		{"mobilenet stride 32", func(c *Config) { c.OutputStride = 32 }, "invalid output stride"},
		{"resnet stride 8", func(c *Config) { c.Architecture = ResNet50; c.OutputStride = 8; c.Multiplier = 1 }, "invalid output stride"},
		{"resnet multiplier", func(c *Config) { c.Architecture = ResNet50 }, "invalid multiplier"},
		{"mobilenet multiplier", func(c *Config) { c.Multiplier = 0.25 }, "invalid multiplier"},
		{"quant bytes", func(c *Config) { c.QuantBytes = 3 }, "invalid quant bytes"},
		{"resolution", func(c *Config) { c.InputResolution.Width = 0 }, "invalid input resolution"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			err := cfg.Validate()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errStr)
		})
	}

	resnet := Config{Architecture: ResNet50, OutputStride: 32, InputResolution: Resolution{257, 257}, Multiplier: 1, QuantBytes: 4}
	test.That(t, resnet.Validate(), test.ShouldBeNil)
	test.That(t, resnet.ModelAssetPath(), test.ShouldEqual, "resnet50/float/model-stride32.tflite")
	test.That(t, resnet.ValidInputResolution(), test.ShouldResemble, Resolution{Width: 257, Height: 257})
}

func TestModelAssetPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Multiplier = 1.0
	cfg.QuantBytes = 4
	cfg.OutputStride = 8
	test.That(t, cfg.ModelAssetPath(), test.ShouldEqual, "mobilenet/float/100/model-stride8.tflite")

	cfg.Multiplier = 0.5
	cfg.QuantBytes = 1
	test.That(t, cfg.ModelAssetPath(), test.ShouldEqual, "mobilenet/quant1/050/model-stride8.tflite")
}

func TestDefaultFlipHorizontal(t *testing.T) {
	test.That(t, DefaultFlipHorizontal("android"), test.ShouldBeTrue)
	test.That(t, DefaultFlipHorizontal("ios"), test.ShouldBeFalse)
	test.That(t, DefaultFlipHorizontal("linux"), test.ShouldBeFalse)
}
