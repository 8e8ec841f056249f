// Package config defines the structures to configure posecam: where frames come from, which
// model estimates poses and how the result is shown and recorded.
package config

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/posecam/components/camera"
	"go.viam.com/posecam/components/camera/ffmpeg"
	"go.viam.com/posecam/frameloop"
	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/overlay"
	"go.viam.com/posecam/services/posenet"
)

// Config describes a posecam run.
type Config struct {
	ConfigFilePath string            `json:"-"`
	Camera         CameraConfig      `json:"camera"`
	Model          ModelConfig       `json:"model"`
	FrameLoop      FrameLoopConfig   `json:"frame_loop"`
	Overlay        OverlayConfig     `json:"overlay"`
	Recording      RecordingConfig   `json:"recording"`
	Permissions    PermissionsConfig `json:"permissions"`
	Log            LogConfig         `json:"log"`
}

// Ensure validates every section and fills in defaults.
func (c *Config) Ensure() error {
	if err := c.Camera.Validate("camera"); err != nil {
		return err
	}
	if err := c.Model.Validate("model"); err != nil {
		return err
	}
	if err := c.FrameLoop.Validate("frame_loop"); err != nil {
		return err
	}
	if err := c.Overlay.Validate("overlay"); err != nil {
		return err
	}
	if err := c.Recording.Validate("recording"); err != nil {
		return err
	}
	return c.Log.Validate("log")
}

// CameraConfig selects the frame source. Either fake is set or source names something ffmpeg can
// open.
type CameraConfig struct {
	ffmpeg.Config
	Fake bool `json:"fake,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *CameraConfig) Validate(path string) error {
	if c.Fake {
		return nil
	}
	return c.Config.Validate(path)
}

// The model backends.
const (
	BackendTFLiteCPU = "tflite_cpu"
	BackendRemote    = "remote"
)

// ModelConfig selects the PoseNet weights and the backend that runs them.
type ModelConfig struct {
	Backend       string          `json:"backend,omitempty"`
	ModelDir      string          `json:"model_dir,omitempty"`
	ModelPath     string          `json:"model_path,omitempty"`
	NumThreads    int             `json:"num_threads,omitempty"`
	RemoteAddress string          `json:"remote_address,omitempty"`
	PoseNet       *posenet.Config `json:"posenet,omitempty"`
}

// Validate ensures all parts of the config are valid. A missing backend is tflite_cpu and missing
// PoseNet parameters are the defaults.
func (c *ModelConfig) Validate(path string) error {
	if c.Backend == "" {
		c.Backend = BackendTFLiteCPU
	}
	if c.PoseNet == nil {
		def := posenet.DefaultConfig()
		c.PoseNet = &def
	}
	if err := c.PoseNet.Validate(); err != nil {
		return utils.NewConfigValidationError(path+".posenet", err)
	}
	if c.NumThreads < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("num_threads must not be negative, got %d", c.NumThreads))
	}

	switch c.Backend {
	case BackendTFLiteCPU:
		if c.ModelPath == "" && c.ModelDir == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "model_dir")
		}
	case BackendRemote:
		if c.RemoteAddress == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "remote_address")
		}
	default:
		return utils.NewConfigValidationError(path,
			errors.Errorf("unknown backend %q, must be %s or %s", c.Backend, BackendTFLiteCPU, BackendRemote))
	}
	return nil
}

// WeightsPath is model_path when set, otherwise the PoseNet asset path under model_dir.
func (c *ModelConfig) WeightsPath() string {
	if c.ModelPath != "" {
		return c.ModelPath
	}
	cfg := posenet.DefaultConfig()
	if c.PoseNet != nil {
		cfg = *c.PoseNet
	}
	return filepath.Join(c.ModelDir, filepath.FromSlash(cfg.ModelAssetPath()))
}

// FrameLoopConfig paces the frame loop.
type FrameLoopConfig struct {
	// FlipHorizontal overrides the platform default when set.
	FlipHorizontal *bool   `json:"flip_horizontal,omitempty"`
	AutoRender     bool    `json:"auto_render,omitempty"`
	RefreshRateHz  float64 `json:"refresh_rate_hz,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *FrameLoopConfig) Validate(path string) error {
	if c.RefreshRateHz < 0 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("refresh_rate_hz must not be negative, got %v", c.RefreshRateHz))
	}
	return nil
}

// RefreshInterval is the time between iterations.
func (c FrameLoopConfig) RefreshInterval() time.Duration {
	if c.RefreshRateHz <= 0 {
		return frameloop.DefaultRefreshInterval
	}
	return time.Duration(float64(time.Second) / c.RefreshRateHz)
}

// Flip returns whether frames are flipped on goos.
func (c FrameLoopConfig) Flip(goos string) bool {
	if c.FlipHorizontal != nil {
		return *c.FlipHorizontal
	}
	return posenet.DefaultFlipHorizontal(goos)
}

// OverlayConfig styles the skeleton overlay.
type OverlayConfig struct {
	JointColor  string  `json:"joint_color,omitempty"`
	BoneColor   string  `json:"bone_color,omitempty"`
	JointRadius float64 `json:"joint_radius,omitempty"`
	BoneWidth   float64 `json:"bone_width,omitempty"`
	Labels      bool    `json:"labels,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *OverlayConfig) Validate(path string) error {
	if _, err := c.Style(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Style is the overlay style described by the config.
func (c OverlayConfig) Style() (overlay.Style, error) {
	return overlay.ParseStyle(c.JointColor, c.BoneColor, c.JointRadius, c.BoneWidth)
}

// DefaultRecordingDir is where recordings go when no directory is configured.
const DefaultRecordingDir = "recordings"

// RecordingConfig says where and how recordings are written.
type RecordingConfig struct {
	Dir   string `json:"dir,omitempty"`
	Codec string `json:"codec,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *RecordingConfig) Validate(path string) error {
	if c.Dir == "" {
		c.Dir = DefaultRecordingDir
	}
	return nil
}

// Options are the camera recording options.
func (c RecordingConfig) Options() camera.RecordOptions {
	return camera.RecordOptions{Dir: c.Dir, Codec: c.Codec}
}

// PermissionsConfig decides what happens when a permission is denied.
type PermissionsConfig struct {
	AbortOnDenial bool `json:"abort_on_denial,omitempty"`
}

// LogConfig sets the log level and an optional rolling log file.
type LogConfig struct {
	Level string `json:"level,omitempty"`
	File  string `json:"file,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *LogConfig) Validate(path string) error {
	if c.Level == "" {
		return nil
	}
	if _, err := logging.LevelFromString(c.Level); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Apply sets the logger's level and adds the file appender.
func (c LogConfig) Apply(logger logging.Logger) error {
	if c.Level != "" {
		level, err := logging.LevelFromString(c.Level)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
	}
	if c.File != "" {
		logger.AddAppender(logging.NewFileAppender(c.File))
	}
	return nil
}
