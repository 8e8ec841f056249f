// Package ml provides the tensor primitives shared by the camera bridge and the model services.
package ml

import (
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"gorgonia.org/tensor"
)

// Tensors are a map of named tensors passed to and returned from a model.
type Tensors map[string]*tensor.Dense

// Names returns all the names of the tensors.
func (t Tensors) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	return names
}

// FindByLastDim returns the only tensor whose last dimension is n. Model outputs are found by
// shape rather than by name since exported graphs name them inconsistently.
func (t Tensors) FindByLastDim(n int) (string, *tensor.Dense, error) {
	var foundName string
	var found *tensor.Dense
	for name, tens := range t {
		shape := tens.Shape()
		if len(shape) == 0 || shape[len(shape)-1] != n {
			continue
		}
		if found != nil {
			return "", nil, errors.Errorf("tensors %q and %q both have last dimension %d", foundName, name, n)
		}
		foundName, found = name, tens
	}
	if found == nil {
		return "", nil, errors.Errorf("no tensor with last dimension %d among [%s]", n, strings.Join(t.Names(), ", "))
	}
	return foundName, found, nil
}

// number interface for converting between numbers.
type number interface {
	constraints.Integer | constraints.Float
}

// convertNumberSlice converts any number slice into another number slice.
func convertNumberSlice[T1, T2 number](t1 []T1) []T2 {
	t2 := make([]T2, len(t1))
	for i := range t1 {
		t2[i] = T2(t1[i])
	}
	return t2
}

// ToFloat64Slice converts the backing data of a tensor into a []float64.
func ToFloat64Slice(slice interface{}) ([]float64, error) {
	switch v := slice.(type) {
	case []float64:
		return v, nil
	case []float32:
		return convertNumberSlice[float32, float64](v), nil
	case []int:
		return convertNumberSlice[int, float64](v), nil
	case []int8:
		return convertNumberSlice[int8, float64](v), nil
	case []int16:
		return convertNumberSlice[int16, float64](v), nil
	case []int32:
		return convertNumberSlice[int32, float64](v), nil
	case []int64:
		return convertNumberSlice[int64, float64](v), nil
	case []uint8:
		return convertNumberSlice[uint8, float64](v), nil
	case []uint16:
		return convertNumberSlice[uint16, float64](v), nil
	case []uint32:
		return convertNumberSlice[uint32, float64](v), nil
	case []uint64:
		return convertNumberSlice[uint64, float64](v), nil
	default:
		return nil, errors.Errorf("dont know how to convert slice of %T into a []float64", slice)
	}
}

// Sigmoid maps logits to probabilities in (0,1).
func Sigmoid(in []float64) []float64 {
	out, err := stats.Sigmoid(in)
	if err != nil {
		// stats only fails on empty input.
		return []float64{}
	}
	return out
}
