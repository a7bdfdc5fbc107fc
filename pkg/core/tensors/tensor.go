// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements Tensor, a dense row-major multidimensional array in host memory.
//
// A Tensor is a shapes.Shape plus a flat Go slice whose element type matches the DType ([]float32 for
// Float32, []float16.Float16 for Float16, []int64 for Int64, ...).
//
// Create them with FromShape (zero values), FromFlatDataAndDimensions or FromValue (nested Go slices):
//
//	data := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
//	indices := tensors.MustFromValue([][]int64{{0}, {1}})
//
// The flat data is accessed with ConstFlatData and MutableFlatData (or their generic versions), which
// lock the tensor while the access function runs.
package tensors

import (
	"reflect"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gathernd/pkg/core/dtypes"
	"github.com/gomlx/gathernd/pkg/core/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Tensor is a multidimensional array in host memory. It is safe for concurrent use.
type Tensor struct {
	shape shapes.Shape

	mu   sync.RWMutex
	flat any // []T, where T is the Go type of shape.DType.
}

// FromShape returns a zero-filled Tensor. It panics for an invalid shape.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	size := shape.Size()
	return &Tensor{
		shape: shape.Clone(),
		flat:  reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size).Interface(),
	}
}

// FromFlatDataAndDimensions returns a Tensor with a copy of data, in row-major order, and the given
// dimensions. The DType comes from T. It panics if len(data) doesn't match the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions(%s): got %d values, want %d",
			shape, len(data), shape.Size())
	}
	t := FromShape(shape)
	copy(t.flat.([]T), data)
	return t
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape {
	return t.shape
}

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType {
	return t.shape.DType
}

// Rank of the tensor.
func (t *Tensor) Rank() int {
	return t.shape.Rank()
}

// Size is the number of elements of the tensor.
func (t *Tensor) Size() int {
	return t.shape.Size()
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	return "Tensor" + t.shape.String()
}

// ConstFlatData calls accessFn with the flat data ([]T) under a read lock. Scalars have one element.
// accessFn must not modify or retain the data.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the flat data ([]T) under a write lock.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	accessFn(t.flat)
}

// ConstFlatData is the "generics" version of Tensor.ConstFlatData.
// It returns an error if T doesn't match the tensor's dtype.
func ConstFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		return errors.Errorf("ConstFlatData[%T] is incompatible with Tensor's dtype %s -- expected dtype %s",
			v, t.shape.DType, dtypes.FromGenericsType[T]())
	}
	t.ConstFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
	return nil
}

// MutableFlatData is the "generics" version of Tensor.MutableFlatData.
// It returns an error if T doesn't match the tensor's dtype.
func MutableFlatData[T dtypes.Supported](t *Tensor, accessFn func(flat []T)) error {
	if t.shape.DType != dtypes.FromGenericsType[T]() {
		var v T
		return errors.Errorf("MutableFlatData[%T] is incompatible with Tensor's dtype %s -- expected dtype %s",
			v, t.shape.DType, dtypes.FromGenericsType[T]())
	}
	t.MutableFlatData(func(anyFlat any) {
		accessFn(anyFlat.([]T))
	})
	return nil
}

// CopyFlatData returns a copy of the flat data of the tensor. It panics if T doesn't match the dtype.
func CopyFlatData[T dtypes.Supported](t *Tensor) []T {
	var flatCopy []T
	err := ConstFlatData(t, func(flat []T) {
		flatCopy = make([]T, len(flat))
		copy(flatCopy, flat)
	})
	if err != nil {
		panic(err)
	}
	return flatCopy
}

// Zero sets all the elements of the tensor to zero.
func (t *Tensor) Zero() {
	t.MutableFlatData(func(flat any) {
		switch flatT := flat.(type) {
		case []float16.Float16:
			clear(flatT)
		case []float32:
			clear(flatT)
		case []float64:
			clear(flatT)
		case []int64:
			clear(flatT)
		default:
			flatV := reflect.ValueOf(flat)
			zero := reflect.Zero(flatV.Type().Elem())
			for ii := range flatV.Len() {
				flatV.Index(ii).Set(zero)
			}
		}
	})
}
