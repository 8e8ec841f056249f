//go:build !no_tflite && !no_cgo

// Package tflitecpu runs tflite model files on the host's CPU, as an implementation of the ML model service.
package tflitecpu

import (
	"context"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	tflite "github.com/mattn/go-tflite"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/posecam/logging"
	"go.viam.com/posecam/ml"
	"go.viam.com/posecam/services/mlmodel"
	"go.viam.com/posecam/utils"
)

// TFLiteConfig contains the parameters specific to a tflite_cpu implementation
// of the MLMS (machine learning model service).
type TFLiteConfig struct {
	ModelPath  string `json:"model_path"`
	NumThreads int    `json:"num_threads"`
	LabelPath  string `json:"label_path"`
}

// Model is a struct that implements the TensorflowLite CPU implementation of the MLMS.
// It includes the configured parameters, model struct, and associated metadata.
type Model struct {
	conf   TFLiteConfig
	logger logging.Logger

	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	metadata    *mlmodel.MLMetadata
	closed      bool
}

// NewTFLiteCPUModel is a constructor that builds a tflite cpu implementation of the MLMS.
func NewTFLiteCPUModel(ctx context.Context, params *TFLiteConfig, logger logging.Logger) (*Model, error) {
	if params == nil {
		return nil, errors.New("could not find parameters")
	}
	fullpath, err := filepath.Abs(params.ModelPath)
	if err != nil {
		fullpath = params.ModelPath
	}

	model := tflite.NewModelFromFile(fullpath)
	if model == nil {
		return nil, errors.Errorf("could not add model from location %s: failed to load", fullpath)
	}
	guard := utils.NewGuard(model.Delete)
	defer guard.OnFail()

	numThreads := params.NumThreads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	options, err := newInterpreterOptions(numThreads, logger)
	if err != nil {
		return nil, err
	}
	guard.Add(options.Delete)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		return nil, errors.New("failed to create interpreter")
	}
	guard.Add(interpreter.Delete)

	if status := interpreter.AllocateTensors(); status != tflite.OK {
		return nil, errors.New("failed to allocate tensors")
	}
	guard.Success()

	logger.Debugw("loaded tflite model", "path", fullpath, "threads", numThreads)
	return &Model{
		conf:        *params,
		logger:      logger,
		model:       model,
		options:     options,
		interpreter: interpreter,
	}, nil
}

// newInterpreterOptions returns preset tflite interpreter options.
func newInterpreterOptions(numThreads int, logger logging.Logger) (*tflite.InterpreterOptions, error) {
	options := tflite.NewInterpreterOptions()
	if options == nil {
		return nil, errors.New("interpreter options failed to be created")
	}
	options.SetNumThread(numThreads)
	options.SetErrorReporter(func(msg string, _ interface{}) {
		logger.Warnw("tflite", "message", msg)
	}, nil)
	return options, nil
}

// Infer copies the single input tensor into the interpreter, runs it and returns every output
// tensor keyed by name.
func (m *Model) Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("tflite model is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := m.interpreter.GetInputTensor(0)
	in, err := m.inputFor(input.Name(), tensors)
	if err != nil {
		return nil, err
	}
	if status := input.CopyFromBuffer(in.Data()); status != tflite.OK {
		return nil, errors.Errorf("copying %v %v into input %q failed", in.Dtype(), in.Shape(), input.Name())
	}
	if status := m.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.New("invoke failed")
	}

	results := ml.Tensors{}
	for i := 0; i < m.interpreter.GetOutputTensorCount(); i++ {
		out := m.interpreter.GetOutputTensor(i)
		dense, err := outputToDense(out)
		if err != nil {
			return nil, errors.Wrapf(err, "output %d", i)
		}
		name := out.Name()
		if name == "" {
			name = "out" + strconv.Itoa(i)
		}
		results[name] = dense
	}
	return results, nil
}

func (m *Model) inputFor(name string, tensors ml.Tensors) (*tensor.Dense, error) {
	if in, ok := tensors[name]; ok {
		return in, nil
	}
	if len(tensors) == 1 {
		for _, in := range tensors {
			return in, nil
		}
	}
	return nil, errors.Errorf("no input tensor named %q among [%s]", name, strings.Join(tensors.Names(), ", "))
}

// outputToDense copies an interpreter-owned output into a new tensor.
func outputToDense(out *tflite.Tensor) (*tensor.Dense, error) {
	shape := make([]int, out.NumDims())
	for d := range shape {
		shape[d] = out.Dim(d)
	}
	switch out.Type() {
	case tflite.Float32:
		data := make([]float32, len(out.Float32s()))
		copy(data, out.Float32s())
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
	case tflite.UInt8:
		data := make([]uint8, len(out.UInt8s()))
		copy(data, out.UInt8s())
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
	case tflite.Int32:
		data := make([]int32, len(out.Int32s()))
		copy(data, out.Int32s())
		return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
	default:
		return nil, errors.Errorf("unsupported tflite output type %v", out.Type())
	}
}

// Metadata reads the tensor names, types and shapes from the interpreter.
func (m *Model) Metadata(ctx context.Context) (mlmodel.MLMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metadata != nil {
		return *m.metadata, nil
	}
	if m.closed {
		return mlmodel.MLMetadata{}, errors.New("tflite model is closed")
	}

	out := mlmodel.MLMetadata{
		ModelName: strings.TrimSuffix(filepath.Base(m.conf.ModelPath), filepath.Ext(m.conf.ModelPath)),
		ModelType: "tflite_cpu",
	}
	for i := 0; i < m.interpreter.GetInputTensorCount(); i++ {
		out.Inputs = append(out.Inputs, tensorInfo(m.interpreter.GetInputTensor(i)))
	}
	for i := 0; i < m.interpreter.GetOutputTensorCount(); i++ {
		td := tensorInfo(m.interpreter.GetOutputTensor(i))
		if i == 0 && m.conf.LabelPath != "" {
			td.Extra = map[string]interface{}{"labels": m.conf.LabelPath}
		}
		out.Outputs = append(out.Outputs, td)
	}
	m.metadata = &out
	return out, nil
}

func tensorInfo(t *tflite.Tensor) mlmodel.TensorInfo {
	shape := make([]int, t.NumDims())
	for d := range shape {
		shape[d] = t.Dim(d)
	}
	return mlmodel.TensorInfo{
		Name:     t.Name(),
		DataType: strings.ToLower(t.Type().String()),
		Shape:    shape,
	}
}

// Close deletes the interpreter and related parts.
func (m *Model) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.interpreter.Delete()
	m.options.Delete()
	m.model.Delete()
	return nil
}

// Runtime is the readiness check for the tflite CPU runtime: it creates and deletes a throwaway
// interpreter options object.
type Runtime struct{}

// Ready reports whether the tflite C library is usable.
func (Runtime) Ready(ctx context.Context) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("tflite runtime panicked: %v", r)
		}
	}()
	options := tflite.NewInterpreterOptions()
	if options == nil {
		return errors.New("tflite runtime is unavailable")
	}
	options.Delete()
	return nil
}
