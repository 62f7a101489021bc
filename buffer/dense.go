package buffer

import (
	"math"

	"github.com/pkg/errors"
)

// Elem is the set of element types a Dense array may hold.
type Elem interface {
	~float64 | ~int64 | ~bool
}

// Dense is a row-major n-dimensional array. Every slot starts at the fill
// value given at creation, so a slot that was never written can be told
// apart from one that was (NaN for floats).
type Dense[T Elem] struct {
	Data    []T   // flat storage
	Shape   []int // axis lengths
	strides []int
}

// NewDense allocates an array of the given shape with every element set to
// fill.
func NewDense[T Elem](fill T, shape ...int) (*Dense[T], error) {
	size := 1
	for i, n := range shape {
		if n < 0 {
			return nil, errors.Errorf("Invalid length %d for axis %d", n, i)
		}
		size *= n
	}

	d := &Dense[T]{
		Data:    make([]T, size),
		Shape:   append([]int(nil), shape...),
		strides: make([]int, len(shape)),
	}

	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		d.strides[i] = stride
		stride *= shape[i]
	}

	var zero T
	if fill != zero {
		for i := range d.Data {
			d.Data[i] = fill
		}
	}

	return d, nil
}

// NewNaN returns a float array filled with NaN.
func NewNaN(shape ...int) (*Dense[float64], error) {
	return NewDense(math.NaN(), shape...)
}

// Offset returns the flat position of a (possibly partial) leading index.
func (d *Dense[T]) Offset(idx ...int) (int, error) {
	if len(idx) > len(d.Shape) {
		return 0, errors.Errorf("Too many indices: %d for %d axes", len(idx), len(d.Shape))
	}

	off := 0
	for i, j := range idx {
		if j < 0 || j >= d.Shape[i] {
			return 0, errors.Errorf("Index %d out of range [0, %d) on axis %d", j, d.Shape[i], i)
		}
		off += j * d.strides[i]
	}
	return off, nil
}

// Row returns the sub-slice addressed by a leading index. Writes to the
// returned slice go straight to the array.
func (d *Dense[T]) Row(idx ...int) ([]T, error) {
	off, err := d.Offset(idx...)
	if err != nil {
		return nil, err
	}

	n := 1
	for _, l := range d.Shape[len(idx):] {
		n *= l
	}
	return d.Data[off : off+n], nil
}

// Set stores v at a full index.
func (d *Dense[T]) Set(v T, idx ...int) error {
	if len(idx) != len(d.Shape) {
		return errors.Errorf("Set needs %d indices, got %d", len(d.Shape), len(idx))
	}
	off, err := d.Offset(idx...)
	if err != nil {
		return err
	}
	d.Data[off] = v
	return nil
}

// At returns the value at a full index.
func (d *Dense[T]) At(idx ...int) (T, error) {
	var zero T
	if len(idx) != len(d.Shape) {
		return zero, errors.Errorf("At needs %d indices, got %d", len(d.Shape), len(idx))
	}
	off, err := d.Offset(idx...)
	if err != nil {
		return zero, err
	}
	return d.Data[off], nil
}

// Len is the total element count.
func (d *Dense[T]) Len() int {
	return len(d.Data)
}
