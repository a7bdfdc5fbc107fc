// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the element type and per-axis dimensions of a dense row-major tensor.
//
// The last axis is contiguous in memory and strides are implicit from the dimensions (see Shape.Strides).
// Axes with dimension 0 are valid and describe empty tensors. A shape with no axes is a scalar.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gathernd/pkg/core/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Shape of a tensor: its element DType and the dimension of each axis.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with a copy of the given dimensions. It panics if any dimension is negative.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	for axis, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%s, %v): axis %d has negative dimension", dtype, dimensions, axis)
		}
	}
	return Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
}

// Invalid returns a shape for which Ok() is false. It is the same as Shape{}.
func Invalid() Shape {
	return Shape{}
}

// Ok returns whether the shape has a valid DType.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank is the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether s is a valid shape with no axes.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// IsZeroSize returns whether any axis has dimension 0, in which case there are no elements.
func (s Shape) IsZeroSize() bool {
	return slices.Contains(s.Dimensions, 0)
}

// Dim returns the dimension of axis. Negative values count from the end: -1 is the last axis.
// It panics for an axis out of range.
func (s Shape) Dim(axis int) int {
	rank := s.Rank()
	if axis < -rank || axis >= rank {
		exceptions.Panicf("Shape.Dim(%d) out of range for shape %s", axis, s)
	}
	if axis < 0 {
		axis += rank
	}
	return s.Dimensions[axis]
}

// String implements fmt.Stringer. E.g.: "(Float32)[4 3 2]", or "(Int64)" for a scalar.
func (s Shape) String() string {
	if s.Rank() == 0 {
		return "(" + s.DType.String() + ")"
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Size is the number of elements, the product of all dimensions. It is 1 for scalars.
func (s Shape) Size() int {
	return Product(s.Dimensions)
}

// SizeFromAxis is the product of the dimensions of axes [axis, rank). axis may be equal to the rank.
func (s Shape) SizeFromAxis(axis int) int {
	s.checkAxisBoundary("SizeFromAxis", axis)
	return Product(s.Dimensions[axis:])
}

// SizeToAxis is the product of the dimensions of axes [0, axis). axis may be equal to the rank.
func (s Shape) SizeToAxis(axis int) int {
	s.checkAxisBoundary("SizeToAxis", axis)
	return Product(s.Dimensions[:axis])
}

func (s Shape) checkAxisBoundary(method string, axis int) {
	if axis < 0 || axis > s.Rank() {
		exceptions.Panicf("Shape.%s(%d) out of range for shape %s", method, axis, s)
	}
}

// Memory is the number of bytes needed to store the elements of the shape.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Strides returns, for each axis, the number of elements (not bytes) between consecutive indices
// of the axis. It returns nil for scalars.
func (s Shape) Strides() []int {
	if s.Rank() == 0 {
		return nil
	}
	strides := make([]int, s.Rank())
	for axis := range strides {
		strides[axis] = s.SizeFromAxis(axis + 1)
	}
	return strides
}

// Equal returns whether both shapes have the same dtype and dimensions.
func (s Shape) Equal(other Shape) bool {
	return s.DType == other.DType && slices.Equal(s.Dimensions, other.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// Check returns an error describing the difference if s doesn't have the given dtype and dimensions.
func (s Shape) Check(dtype dtypes.DType, dimensions ...int) error {
	switch {
	case s.DType != dtype:
		return errors.Errorf("shape %s has dtype %s, expected %s", s, s.DType, dtype)
	case s.Rank() != len(dimensions):
		return errors.Errorf("shape %s has rank %d, expected %d", s, s.Rank(), len(dimensions))
	case !slices.Equal(s.Dimensions, dimensions):
		return errors.Errorf("shape %s has dimensions %v, expected %v", s, s.Dimensions, dimensions)
	}
	return nil
}

// Product of the values, 1 for an empty slice.
func Product[T constraints.Integer](values []T) T {
	var p T = 1
	for _, v := range values {
		p *= v
	}
	return p
}
