// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes includes the DType enum for the element types of tensors handled by gathernd.
//
// The numbering and names follow the PJRT/XLA element types, restricted to the plain-old-data types plus
// Float16 (github.com/x448/float16).
//
// It includes converters to/from Go native types (and reflect.Type), and constraint interfaces to be
// used with generics (Supported, GatherFloat).
package dtypes

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Supported lists the Go types used to store each DType.
//
// Go's int is not included since its size depends on the platform. FromGoType maps it to Int32 or Int64.
type Supported interface {
	bool | float16.Float16 | float32 | float64 | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

// GatherFloat are the element types the gather kernels are implemented for.
type GatherFloat interface {
	float16.Float16 | float32 | float64
}

var (
	// goTypes is indexed by DType.
	goTypes [NumDTypes]reflect.Type

	// kindToDType maps the reflect.Kind of Go basic types to their DType.
	kindToDType = make(map[reflect.Kind]DType)

	// nameToDType includes names, PJRT aliases and their lower-case versions.
	nameToDType = make(map[string]DType)

	float16Type = reflect.TypeFor[float16.Float16]()
)

func init() {
	intDType := Int64
	if strconv.IntSize == 32 {
		intDType = Int32
	}
	for dtype, t := range map[DType]reflect.Type{
		Bool:    reflect.TypeFor[bool](),
		Int8:    reflect.TypeFor[int8](),
		Int16:   reflect.TypeFor[int16](),
		Int32:   reflect.TypeFor[int32](),
		Int64:   reflect.TypeFor[int64](),
		Uint8:   reflect.TypeFor[uint8](),
		Uint16:  reflect.TypeFor[uint16](),
		Uint32:  reflect.TypeFor[uint32](),
		Uint64:  reflect.TypeFor[uint64](),
		Float16: float16Type,
		Float32: reflect.TypeFor[float32](),
		Float64: reflect.TypeFor[float64](),
	} {
		goTypes[dtype] = t
		if dtype != Float16 {
			kindToDType[t.Kind()] = dtype
		}
	}
	kindToDType[reflect.Int] = intDType

	addName := func(name string, dtype DType) {
		nameToDType[name] = dtype
		if _, found := nameToDType[strings.ToLower(name)]; !found {
			nameToDType[strings.ToLower(name)] = dtype
		}
	}
	for dtype, name := range dtypeNames {
		addName(name, DType(dtype))
	}
	for alias, dtype := range pjrtAliases {
		addName(alias, dtype)
	}
}

// FromName returns the DType for the given name or PJRT alias (e.g. "F32"), case-insensitive.
func FromName(name string) (DType, error) {
	if dtype, found := nameToDType[name]; found {
		return dtype, nil
	}
	if dtype, found := nameToDType[strings.ToLower(name)]; found {
		return dtype, nil
	}
	return InvalidDType, errors.Errorf("unknown dtype %q", name)
}

// FromGenericsType returns the DType of T.
func FromGenericsType[T Supported]() DType {
	return FromGoType(reflect.TypeFor[T]())
}

// FromGoType returns the DType for the given reflect.Type, or InvalidDType if there is none.
// Named types are mapped by their underlying kind, except float16.Float16.
func FromGoType(t reflect.Type) DType {
	if t == nil {
		return InvalidDType
	}
	if t == float16Type {
		return Float16
	}
	if dtype, found := kindToDType[t.Kind()]; found {
		return dtype
	}
	return InvalidDType
}

// GoType returns the Go reflect.Type used to store elements of dtype. It panics for an invalid dtype.
func (dtype DType) GoType() reflect.Type {
	if dtype <= InvalidDType || dtype >= NumDTypes {
		panic(errors.Errorf("DType.GoType(): unknown dtype %s", dtype))
	}
	return goTypes[dtype]
}

// Size returns the number of bytes of one element of dtype.
func (dtype DType) Size() int {
	return int(dtype.GoType().Size())
}

// Memory is Size as an uintptr.
func (dtype DType) Memory() uintptr {
	return dtype.GoType().Size()
}
