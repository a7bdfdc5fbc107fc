// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gathernd

import (
	"github.com/gomlx/gathernd/pkg/core/shapes"
	"github.com/pkg/errors"
)

// CheckBatchDimensionsMatch checks that all shapes have at least numBatchDims axes, and that the
// first numBatchDims axes have the same dimensions across all shapes.
//
// It returns ErrRankTooSmall if any shape has rank < numBatchDims, or a *BatchMismatchError for the
// first (lowest axis, then lowest shape position) mismatch against the first shape.
func CheckBatchDimensionsMatch(numBatchDims int, shapesToCheck ...shapes.Shape) error {
	if numBatchDims < 0 {
		return errors.Wrapf(ErrInvalidBatchDims, "got batch_dims=%d", numBatchDims)
	}
	for shapeIdx, shape := range shapesToCheck {
		if numBatchDims > shape.Rank() {
			return errors.Wrapf(ErrRankTooSmall, "batch dimension count: %d, tensor rank: %d, tensor index: %d",
				numBatchDims, shape.Rank(), shapeIdx)
		}
	}
	if len(shapesToCheck) < 2 {
		return nil
	}
	first := shapesToCheck[0]
	for axis := range numBatchDims {
		for shapeIdx := 1; shapeIdx < len(shapesToCheck); shapeIdx++ {
			other := shapesToCheck[shapeIdx]
			if first.Dimensions[axis] != other.Dimensions[axis] {
				return errors.WithStack(&BatchMismatchError{
					Axis:       axis,
					First:      first.Dimensions[axis],
					Other:      other.Dimensions[axis],
					ShapeIndex: shapeIdx,
				})
			}
		}
	}
	return nil
}
