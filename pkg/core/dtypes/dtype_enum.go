// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import "strconv"

// DType is an enum represents the data type of a tensor element.
//
// The numbering follows the PJRT C API (and hence GoMLX), so that tensors
// tagged here can be handed over to other GoMLX backends unchanged.
type DType int32

const (
	// InvalidDType is the zero value, an invalid type.
	InvalidDType DType = 0

	// Bool is a two-state boolean.
	Bool DType = 1

	// Int8 is a signed 8 bits integer.
	Int8 DType = 2

	// Int16 is a signed 16 bits integer.
	Int16 DType = 3

	// Int32 is a signed 32 bits integer.
	Int32 DType = 4

	// Int64 is a signed 64 bits integer. It is the only dtype accepted for gather indices.
	Int64 DType = 5

	Uint8  DType = 6
	Uint16 DType = 7
	Uint32 DType = 8
	Uint64 DType = 9

	// Float16 is the IEEE 754 half-precision float, represented in Go by github.com/x448/float16.
	Float16 DType = 10

	// Float32 is the IEEE 754 single-precision float.
	Float32 DType = 11

	// Float64 is the IEEE 754 double-precision float.
	Float64 DType = 12
)

var dtypeNames = [...]string{
	InvalidDType: "InvalidDType",
	Bool:         "Bool",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint8:        "Uint8",
	Uint16:       "Uint16",
	Uint32:       "Uint32",
	Uint64:       "Uint64",
	Float16:      "Float16",
	Float32:      "Float32",
	Float64:      "Float64",
}

// NumDTypes is one past the highest DType value defined.
const NumDTypes = DType(len(dtypeNames))

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if dtype < 0 || dtype >= NumDTypes {
		return "DType(" + strconv.Itoa(int(dtype)) + ")"
	}
	return dtypeNames[dtype]
}

// pjrtAliases are the short element type names used by PJRT/XLA.
var pjrtAliases = map[string]DType{
	"INVALID": InvalidDType,
	"PRED":    Bool,
	"S8":      Int8,
	"S16":     Int16,
	"S32":     Int32,
	"S64":     Int64,
	"U8":      Uint8,
	"U16":     Uint16,
	"U32":     Uint32,
	"U64":     Uint64,
	"F16":     Float16,
	"F32":     Float32,
	"F64":     Float64,
}
