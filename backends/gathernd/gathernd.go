// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gathernd

import (
	"github.com/gomlx/gathernd/backends"
	"github.com/gomlx/gathernd/pkg/core/dtypes"
	"github.com/gomlx/gathernd/pkg/core/shapes"
	"github.com/gomlx/gathernd/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// IndexDType is the only supported dtype for indices.
const IndexDType = dtypes.Int64

// plan holds the derived sizes of one GatherND (or its gradient) operation.
type plan struct {
	target    shapes.Shape // The shape indexed into: data for Gather, the gradient for GatherGrad.
	indices   shapes.Shape
	batchDims int

	// k is the index tuple depth, the last dimension of indices.
	k int

	numSlices, sliceSize          int
	numBatches, numSlicesPerBatch int
	batchStride                   int64

	// outputShape of Gather: indices.Dimensions[:-1] ++ target.Dimensions[batchDims+k:].
	outputShape shapes.Shape
}

// newPlan validates the shapes and derives the sizes of the operation.
// extraShapes are also included in the batch dimensions check (the updates in GatherGrad).
func newPlan(target, indices shapes.Shape, batchDims int, extraShapes ...shapes.Shape) (*plan, error) {
	if batchDims < 0 {
		return nil, errors.Wrapf(ErrInvalidBatchDims, "got batch_dims=%d", batchDims)
	}
	if indices.Rank() == 0 {
		return nil, errors.WithStack(ErrEmptyIndices)
	}
	p := &plan{
		target:    target,
		indices:   indices,
		batchDims: batchDims,
		k:         indices.Dim(-1),
	}
	if batchDims+p.k > target.Rank() {
		return nil, errors.Wrapf(ErrIndexDepthExceedsRank, "batch_dims (%d) + indices last dimension (%d) > rank of %s",
			batchDims, p.k, target)
	}
	checked := append([]shapes.Shape{target, indices}, extraShapes...)
	if err := CheckBatchDimensionsMatch(batchDims, checked...); err != nil {
		return nil, err
	}
	if !gatherDispatcher.Supports(target.DType) {
		return nil, errors.Wrapf(ErrUnsupportedElementType, "dtype %s, supported dtypes are %v", target.DType, SupportedDTypes())
	}
	if indices.DType != IndexDType {
		return nil, errors.Wrapf(ErrUnsupportedIndexType, "indices dtype is %s", indices.DType)
	}

	p.numSlices = indices.SizeToAxis(indices.Rank() - 1)
	p.sliceSize = target.SizeFromAxis(batchDims + p.k)
	p.numBatches = target.SizeToAxis(batchDims)
	p.batchStride = int64(target.SizeFromAxis(batchDims))
	if p.numBatches > 0 {
		if p.numSlices%p.numBatches != 0 {
			return nil, errors.Wrapf(ErrSliceBatchMismatch, "%d slices, %d batches", p.numSlices, p.numBatches)
		}
		p.numSlicesPerBatch = p.numSlices / p.numBatches
	}

	outputDims := make([]int, 0, indices.Rank()-1+target.Rank()-batchDims-p.k)
	outputDims = append(outputDims, indices.Dimensions[:indices.Rank()-1]...)
	outputDims = append(outputDims, target.Dimensions[batchDims+p.k:]...)
	p.outputShape = shapes.Make(target.DType, outputDims...)
	return p, nil
}

func (p *plan) offsetsConfig() offsetsConfig {
	return offsetsConfig{
		targetDims:        p.target.Dimensions,
		batchDims:         p.batchDims,
		k:                 p.k,
		numSlices:         p.numSlices,
		numSlicesPerBatch: p.numSlicesPerBatch,
		batchStride:       p.batchStride,
		sliceSize:         p.sliceSize,
	}
}

// sliceOffsets computes the offsets of every slice into the target, or returns nil if there is nothing to
// copy (no slices, or empty slices).
//
// Empty slices still have their indices validated if the backend checks bounds.
func (p *plan) sliceOffsets(backend *backends.Backend, indices *tensors.Tensor) (*backends.Scratch[int64], error) {
	if p.numSlices == 0 {
		return nil, nil
	}
	if p.sliceSize == 0 {
		if !backend.CheckBounds() {
			return nil, nil
		}
		offsets, err := p.computeOffsets(backend, indices)
		if err != nil {
			return nil, err
		}
		offsets.Release()
		return nil, nil
	}
	return p.computeOffsets(backend, indices)
}

func (p *plan) computeOffsets(backend *backends.Backend, indices *tensors.Tensor) (*backends.Scratch[int64], error) {
	var (
		offsets *backends.Scratch[int64]
		err     error
	)
	accessErr := tensors.ConstFlatData(indices, func(flat []int64) {
		offsets, err = computeSliceOffsets(backend, p.offsetsConfig(), flat)
	})
	if accessErr != nil {
		return nil, accessErr
	}
	return offsets, err
}

// Gather collects slices of data addressed by the index tuples in the last axis of indices.
//
// data has shape [B..., D_0, ..., D_{k-1}, S...] and indices [B..., I..., k], where the first batchDims
// axes must match. The output has shape [B..., I..., S...] and the dtype of data.
//
// Errors, all raised before any work is done: ErrInvalidBatchDims, ErrEmptyIndices, ErrIndexDepthExceedsRank,
// ErrRankTooSmall, ErrBatchMismatch, ErrUnsupportedElementType, ErrUnsupportedIndexType and, with bounds
// checking enabled, ErrIndexOutOfRange. An unchecked index addressing outside data fails with ErrKernelFault.
func Gather(backend *backends.Backend, data, indices *tensors.Tensor, batchDims int) (*tensors.Tensor, error) {
	if err := backend.CheckValid(); err != nil {
		return nil, err
	}
	p, err := newPlan(data.Shape(), indices.Shape(), batchDims)
	if err != nil {
		return nil, errors.WithMessage(err, "GatherND")
	}
	klog.V(1).Infof("GatherND: data=%s, indices=%s, batch_dims=%d -> output=%s", data.Shape(), indices.Shape(), batchDims, p.outputShape)
	klog.V(2).Infof("GatherND: %d slices of %d elements, %d batches", p.numSlices, p.sliceSize, p.numBatches)

	offsets, err := p.sliceOffsets(backend, indices)
	if err != nil {
		return nil, errors.WithMessage(err, "GatherND")
	}
	output := tensors.FromShape(p.outputShape)
	if offsets == nil {
		return output, nil
	}
	defer offsets.Release()

	data.ConstFlatData(func(src any) {
		output.MutableFlatData(func(dst any) {
			err = gatherDispatcher.Dispatch(data.DType(), &kernelParams{
				backend:     backend,
				numSlices:   p.numSlices,
				sliceSize:   p.sliceSize,
				offsets:     offsets.Flat(),
				source:      src,
				destination: dst,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return output, nil
}

// GatherGrad computes the gradient of Gather with respect to its data: it returns a tensor of shape
// targetDims (and the dtype of updates) with zeros everywhere, except where a slice was addressed by
// indices, where it holds the sum of the corresponding update slices.
//
// updates must have the shape Gather would have returned for data of shape targetDims and the same
// indices and batchDims. The backend must be in training mode, otherwise it fails with
// ErrGradientUnsupported. Other errors are the same as in Gather, plus ErrInvalidTargetShape and
// ErrUpdatesShapeMismatch.
func GatherGrad(backend *backends.Backend, targetDims []int, indices, updates *tensors.Tensor, batchDims int) (*tensors.Tensor, error) {
	if err := backend.CheckValid(); err != nil {
		return nil, err
	}
	if !backend.IsTraining() {
		return nil, errors.Wrapf(ErrGradientUnsupported, "GatherNDGrad on backend %s", backend)
	}
	for axis, dim := range targetDims {
		if dim < 0 {
			return nil, errors.Wrapf(ErrInvalidTargetShape, "GatherNDGrad: dimension %d of axis %d", dim, axis)
		}
	}
	target := shapes.Make(updates.DType(), targetDims...)
	p, err := newPlan(target, indices.Shape(), batchDims, updates.Shape())
	if err != nil {
		return nil, errors.WithMessage(err, "GatherNDGrad")
	}
	if !p.outputShape.Equal(updates.Shape()) {
		return nil, errors.Wrapf(ErrUpdatesShapeMismatch, "GatherNDGrad: updates shape is %s, expected %s",
			updates.Shape(), p.outputShape)
	}
	klog.V(1).Infof("GatherNDGrad: target=%s, indices=%s, updates=%s, batch_dims=%d", target, indices.Shape(), updates.Shape(), batchDims)
	klog.V(2).Infof("GatherNDGrad: %d slices of %d elements, %d batches", p.numSlices, p.sliceSize, p.numBatches)

	offsets, err := p.sliceOffsets(backend, indices)
	if err != nil {
		return nil, errors.WithMessage(err, "GatherNDGrad")
	}
	output := tensors.FromShape(target)
	output.Zero()
	if offsets == nil {
		return output, nil
	}
	defer offsets.Release()

	updates.ConstFlatData(func(src any) {
		output.MutableFlatData(func(dst any) {
			err = scatterAccumulateDispatcher.Dispatch(target.DType, &kernelParams{
				backend:     backend,
				numSlices:   p.numSlices,
				sliceSize:   p.sliceSize,
				offsets:     offsets.Flat(),
				source:      src,
				destination: dst,
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return output, nil
}
