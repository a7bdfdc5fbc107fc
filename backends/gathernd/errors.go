// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gathernd

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds returned by the operations. Use errors.Is to test for them.
var (
	ErrRankTooSmall           = errors.New("number of batch dimensions exceeds tensor rank")
	ErrBatchMismatch          = errors.New("batch dimensions differ")
	ErrEmptyIndices           = errors.New("indices tensor must have rank larger than 0")
	ErrIndexDepthExceedsRank  = errors.New("last dimension of indices must not be larger than rank of input tensor")
	ErrUnsupportedElementType = errors.New("unsupported element type")
	ErrGradientUnsupported    = errors.New("gradient computation is only supported in training mode")

	ErrUnsupportedIndexType = errors.New("unsupported index type, indices must be Int64")
	ErrInvalidBatchDims     = errors.New("batch_dims must be non-negative")
	ErrInvalidTargetShape   = errors.New("invalid target shape")
	ErrSliceBatchMismatch   = errors.New("number of slices is not a multiple of the number of batches")
	ErrUpdatesShapeMismatch = errors.New("updates shape doesn't match the gathered shape")
	ErrIndexOutOfRange      = errors.New("index out of range")
	ErrKernelFault          = errors.New("kernel fault")
)

// BatchMismatchError reports the first batch axis where two shapes differ.
// It matches ErrBatchMismatch with errors.Is.
type BatchMismatchError struct {
	// Axis is the batch axis where the dimensions differ.
	Axis int

	// First is the dimension of the first shape, Other the one of the shape ShapeIndex.
	First, Other int

	// ShapeIndex is the position of the conflicting shape (the first shape is 0).
	ShapeIndex int
}

// Error implements error.
func (e *BatchMismatchError) Error() string {
	return fmt.Sprintf("%s at index %d: %d != %d, tensor indices: 0, %d",
		ErrBatchMismatch, e.Axis, e.First, e.Other, e.ShapeIndex)
}

// Is makes errors.Is(err, ErrBatchMismatch) true.
func (e *BatchMismatchError) Is(target error) bool {
	return target == ErrBatchMismatch
}
