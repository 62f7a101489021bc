package trace

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the element type of a Tensor.
type Kind int

// Element kinds
const (
	Float64 Kind = iota
	Int64
	Bool
)

func (k Kind) String() string {
	switch k {
	case Float64:
		return "float64"
	case Int64:
		return "int64"
	case Bool:
		return "bool"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Tensor is a labeled, row-major n-dimensional array. Exactly one of the
// backing slices is used, according to Kind.
type Tensor struct {
	Dims  []string
	Shape []int
	Kind  Kind

	f []float64
	i []int64
	b []bool
}

func checkDims(dims []string, shape []int, n int) error {
	if len(dims) != len(shape) {
		return errors.Errorf("Tensor has %d dims but shape %v", len(dims), shape)
	}
	size := 1
	for _, l := range shape {
		if l < 0 {
			return errors.Errorf("Negative axis length in shape %v", shape)
		}
		size *= l
	}
	if size != n {
		return errors.Errorf("Shape %v needs %d values, got %d", shape, size, n)
	}
	return nil
}

// NewFloat64 wraps data (not copied) as a float tensor.
func NewFloat64(dims []string, shape []int, data []float64) (*Tensor, error) {
	if err := checkDims(dims, shape, len(data)); err != nil {
		return nil, err
	}
	return &Tensor{Dims: dims, Shape: shape, Kind: Float64, f: data}, nil
}

// NewInt64 wraps data (not copied) as an int tensor.
func NewInt64(dims []string, shape []int, data []int64) (*Tensor, error) {
	if err := checkDims(dims, shape, len(data)); err != nil {
		return nil, err
	}
	return &Tensor{Dims: dims, Shape: shape, Kind: Int64, i: data}, nil
}

// NewBool wraps data (not copied) as a bool tensor.
func NewBool(dims []string, shape []int, data []bool) (*Tensor, error) {
	if err := checkDims(dims, shape, len(data)); err != nil {
		return nil, err
	}
	return &Tensor{Dims: dims, Shape: shape, Kind: Bool, b: data}, nil
}

// Len is the number of elements.
func (t *Tensor) Len() int {
	switch t.Kind {
	case Int64:
		return len(t.i)
	case Bool:
		return len(t.b)
	}
	return len(t.f)
}

func (t *Tensor) offset(idx []int) (int, error) {
	if len(idx) != len(t.Shape) {
		return 0, errors.Errorf("Need %d indices, got %d", len(t.Shape), len(idx))
	}
	off := 0
	for axis, j := range idx {
		if j < 0 || j >= t.Shape[axis] {
			return 0, errors.Errorf("Index %d out of range on axis %s", j, t.Dims[axis])
		}
		off = off*t.Shape[axis] + j
	}
	return off, nil
}

// Float64s returns a copy of the data of a float tensor.
func (t *Tensor) Float64s() ([]float64, error) {
	if t.Kind != Float64 {
		return nil, errors.Errorf("Tensor is %v, not float64", t.Kind)
	}
	return append([]float64(nil), t.f...), nil
}

// Int64s returns a copy of the data of an int tensor.
func (t *Tensor) Int64s() ([]int64, error) {
	if t.Kind != Int64 {
		return nil, errors.Errorf("Tensor is %v, not int64", t.Kind)
	}
	return append([]int64(nil), t.i...), nil
}

// Bools returns a copy of the data of a bool tensor.
func (t *Tensor) Bools() ([]bool, error) {
	if t.Kind != Bool {
		return nil, errors.Errorf("Tensor is %v, not bool", t.Kind)
	}
	return append([]bool(nil), t.b...), nil
}

// Float64At returns one element of a float tensor.
func (t *Tensor) Float64At(idx ...int) (float64, error) {
	if t.Kind != Float64 {
		return 0, errors.Errorf("Tensor is %v, not float64", t.Kind)
	}
	off, err := t.offset(idx)
	if err != nil {
		return 0, err
	}
	return t.f[off], nil
}

// Int64At returns one element of an int tensor.
func (t *Tensor) Int64At(idx ...int) (int64, error) {
	if t.Kind != Int64 {
		return 0, errors.Errorf("Tensor is %v, not int64", t.Kind)
	}
	off, err := t.offset(idx)
	if err != nil {
		return 0, err
	}
	return t.i[off], nil
}

// BoolAt returns one element of a bool tensor.
func (t *Tensor) BoolAt(idx ...int) (bool, error) {
	if t.Kind != Bool {
		return false, errors.Errorf("Tensor is %v, not bool", t.Kind)
	}
	off, err := t.offset(idx)
	if err != nil {
		return false, err
	}
	return t.b[off], nil
}
