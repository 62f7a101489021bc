package model

import (
	"strconv"

	"github.com/pkg/errors"
)

// VarInfo locates one named variable inside an expanded draw: the values in
// [Start, End) reshaped (row-major) to Shape.
type VarInfo struct {
	Name  string
	Start int
	End   int
	Shape []int // Empty for scalars
}

// NewVarInfo creates the shape info for a variable placed at start.
func NewVarInfo(name string, start int, shape ...int) (VarInfo, error) {
	v := VarInfo{
		Name:  name,
		Start: start,
		Shape: append([]int(nil), shape...),
	}
	v.End = start + v.Size()

	if err := v.Check(); err != nil {
		return VarInfo{}, err
	}
	return v, nil
}

// Size is the number of expanded values the variable occupies according to
// its shape.
func (v VarInfo) Size() int {
	size := 1
	for _, n := range v.Shape {
		size *= n
	}
	return size
}

// Check returns an error if any problem is found
func (v VarInfo) Check() error {
	if len(v.Name) < 1 {
		return errors.Errorf("Variable at [%d:%d] has no name", v.Start, v.End)
	}
	if v.Start < 0 || v.End < v.Start {
		return errors.Errorf("Variable %s has invalid slice [%d:%d]", v.Name, v.Start, v.End)
	}
	for i, n := range v.Shape {
		if n < 0 {
			return errors.Errorf("Variable %s has negative length %d on axis %d", v.Name, n, i)
		}
	}
	if v.End-v.Start != v.Size() {
		return errors.Errorf("Variable %s slice [%d:%d] does not fit shape %v", v.Name, v.Start, v.End, v.Shape)
	}

	return nil
}

func defaultDimName(name string, axis int) string {
	return name + "_dim_" + strconv.Itoa(axis)
}
