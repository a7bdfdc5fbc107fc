// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"reflect"

	"github.com/gomlx/gathernd/pkg/core/dtypes"
	"github.com/gomlx/gathernd/pkg/core/shapes"
	"github.com/pkg/errors"
)

// FromValue returns a tensor with a copy of a scalar or a regular multidimensional slice,
// e.g. [][]float32{{1, 2}, {3, 4}} becomes a Float32 tensor of shape [2, 2].
//
// Given a *Tensor it returns it unchanged.
// It returns an error for unsupported element types or ragged slices.
func FromValue(value any) (*Tensor, error) {
	if t, ok := value.(*Tensor); ok {
		return t, nil
	}
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		return nil, errors.New("tensors.FromValue(nil)")
	}
	shape, err := shapeOfValue(v)
	if err != nil {
		return nil, errors.WithMessagef(err, "tensors.FromValue(%T)", value)
	}
	t := FromShape(shape)
	flat := reflect.ValueOf(t.flat)
	pos := 0
	flattenInto(flat, v, &pos)
	return t, nil
}

// MustFromValue is like FromValue, but panics on error.
func MustFromValue(value any) *Tensor {
	t, err := FromValue(value)
	if err != nil {
		panic(err)
	}
	return t
}

// shapeOfValue walks the nested slices: dimensions come from the first element of each level, and every
// element is then checked to have the same dimensions.
func shapeOfValue(v reflect.Value) (shapes.Shape, error) {
	var dims []int
	elemType := v.Type()
	for probe := v; elemType.Kind() == reflect.Slice; elemType = elemType.Elem() {
		dims = append(dims, probe.Len())
		if probe.Len() > 0 {
			probe = probe.Index(0)
		} else {
			probe = reflect.Zero(elemType.Elem())
		}
	}
	dtype := dtypes.FromGoType(elemType)
	if dtype == dtypes.InvalidDType {
		return shapes.Invalid(), errors.Errorf("element type %s has no dtype", elemType)
	}
	if err := checkRegular(v, dims); err != nil {
		return shapes.Invalid(), err
	}
	return shapes.Make(dtype, dims...), nil
}

func checkRegular(v reflect.Value, dims []int) error {
	if len(dims) == 0 {
		return nil
	}
	if v.Len() != dims[0] {
		return errors.Errorf("ragged slices: found length %d where %d was expected", v.Len(), dims[0])
	}
	for i := range v.Len() {
		if err := checkRegular(v.Index(i), dims[1:]); err != nil {
			return err
		}
	}
	return nil
}

// flattenInto copies the leaves of v, in row-major order, into flat starting at *pos.
func flattenInto(flat, v reflect.Value, pos *int) {
	if v.Kind() != reflect.Slice {
		flat.Index(*pos).Set(v.Convert(flat.Type().Elem()))
		*pos++
		return
	}
	if v.Type().Elem() == flat.Type().Elem() {
		*pos += reflect.Copy(flat.Slice(*pos, flat.Len()), v)
		return
	}
	for i := range v.Len() {
		flattenInto(flat, v.Index(i), pos)
	}
}

// Value returns a copy of the tensor contents as a multidimensional slice, or the scalar value for
// rank 0. E.g.: a Float32 tensor of shape [2, 3] returns a [][]float32.
func (t *Tensor) Value() any {
	var result reflect.Value
	t.ConstFlatData(func(flat any) {
		flatV := reflect.ValueOf(flat)
		if t.shape.Rank() == 0 {
			result = flatV.Index(0)
			return
		}
		result = unflatten(flatV, t.shape.DType.GoType(), t.shape.Dimensions)
	})
	return result.Interface()
}

// unflatten builds a nested slice with the given dimensions from the flat values.
func unflatten(flat reflect.Value, elemType reflect.Type, dims []int) reflect.Value {
	sliceType := reflect.SliceOf(elemType)
	for range len(dims) - 1 {
		sliceType = reflect.SliceOf(sliceType)
	}
	result := reflect.MakeSlice(sliceType, dims[0], dims[0])
	if len(dims) == 1 {
		reflect.Copy(result, flat)
		return result
	}
	stride := shapes.Product(dims[1:])
	for i := range dims[0] {
		sub := flat.Slice(i*stride, (i+1)*stride)
		result.Index(i).Set(unflatten(sub, elemType, dims[1:]))
	}
	return result
}
