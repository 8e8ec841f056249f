package remote

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/posecam/ml"
	"go.viam.com/posecam/services/mlmodel"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	opInfer    = "infer"
	opMetadata = "metadata"
)

// request is one message from client to server. Every request gets exactly one reply with the
// same id.
type request struct {
	ID      uint64                `json:"id"`
	Op      string                `json:"op"`
	Tensors map[string]wireTensor `json:"tensors,omitempty"`
}

type reply struct {
	ID       uint64                `json:"id"`
	Tensors  map[string]wireTensor `json:"tensors,omitempty"`
	Metadata *mlmodel.MLMetadata   `json:"metadata,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// wireTensor carries uint8 data as base64 bytes and every other dtype as numbers.
type wireTensor struct {
	DType  string    `json:"dtype"`
	Shape  []int     `json:"shape"`
	Bytes  []byte    `json:"bytes,omitempty"`
	Values []float64 `json:"values,omitempty"`
}

func encodeTensors(tensors ml.Tensors) (map[string]wireTensor, error) {
	out := make(map[string]wireTensor, len(tensors))
	for name, t := range tensors {
		wt := wireTensor{DType: t.Dtype().String(), Shape: []int(t.Shape().Clone())}
		switch data := t.Data().(type) {
		case []uint8:
			wt.Bytes = data
		default:
			values, err := ml.ToFloat64Slice(data)
			if err != nil {
				return nil, errors.Wrapf(err, "encoding tensor %q", name)
			}
			wt.Values = values
		}
		out[name] = wt
	}
	return out, nil
}

func decodeTensors(in map[string]wireTensor) (ml.Tensors, error) {
	out := make(ml.Tensors, len(in))
	for name, wt := range in {
		var backing interface{}
		switch wt.DType {
		case "uint8":
			backing = wt.Bytes
		case "float32":
			values := make([]float32, len(wt.Values))
			for i, v := range wt.Values {
				values[i] = float32(v)
			}
			backing = values
		case "float64":
			backing = wt.Values
		case "int32":
			values := make([]int32, len(wt.Values))
			for i, v := range wt.Values {
				values[i] = int32(v)
			}
			backing = values
		default:
			return nil, errors.Errorf("tensor %q has unsupported dtype %q", name, wt.DType)
		}
		size := 1
		for _, d := range wt.Shape {
			size *= d
		}
		if n := backingLen(backing); n != size {
			return nil, errors.Errorf("tensor %q has %d values for shape %v", name, n, wt.Shape)
		}
		out[name] = tensor.New(tensor.WithShape(wt.Shape...), tensor.WithBacking(backing))
	}
	return out, nil
}

func backingLen(backing interface{}) int {
	switch b := backing.(type) {
	case []uint8:
		return len(b)
	case []float32:
		return len(b)
	case []float64:
		return len(b)
	case []int32:
		return len(b)
	default:
		return -1
	}
}
