// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gathernd

import (
	"sync"

	"github.com/gomlx/gathernd/backends"
	"github.com/pkg/errors"
)

// sliceStrides returns the element stride of a unit step along each of the k indexed axes of the target:
// axis batchDims+j has stride sliceSize * prod(targetDims[batchDims+j+1 : batchDims+k]).
func sliceStrides(targetDims []int, batchDims, k, sliceSize int) []int64 {
	strides := make([]int64, k)
	running := int64(sliceSize)
	for i := range k {
		axis := batchDims + k - 1 - i
		strides[k-1-i] = running
		running *= int64(targetDims[axis])
	}
	return strides
}

// offsetsConfig holds what computeSliceOffsets needs to know about the operation.
type offsetsConfig struct {
	targetDims        []int
	batchDims, k      int
	numSlices         int
	numSlicesPerBatch int
	batchStride       int64
	sliceSize         int
}

// computeSliceOffsets returns a scratch buffer with the flat element offset of each of the numSlices slices:
//
//	offset[s] = (s / numSlicesPerBatch) * batchStride + Σ_j indices[s*k + j] * stride[j]
//
// Index components are used as signed values as is, unless the backend is configured to check bounds, in
// which case any component outside [0, targetDims[batchDims+j]) fails with ErrIndexOutOfRange.
//
// The caller owns the returned buffer and must Release it.
func computeSliceOffsets(backend *backends.Backend, cfg offsetsConfig, indices []int64) (*backends.Scratch[int64], error) {
	if len(indices) != cfg.numSlices*cfg.k {
		return nil, errors.Errorf("computeSliceOffsets: expected %d index components (%d slices of depth %d), got %d",
			cfg.numSlices*cfg.k, cfg.numSlices, cfg.k, len(indices))
	}
	stridesBuf, err := backends.AllocateScratch[int64](backend, cfg.k)
	if err != nil {
		return nil, err
	}
	defer stridesBuf.Release()
	err = backends.CopyHostToDevice(stridesBuf, sliceStrides(cfg.targetDims, cfg.batchDims, cfg.k, cfg.sliceSize))
	if err != nil {
		return nil, err
	}
	strides := stridesBuf.Flat()

	offsetsBuf, err := backends.AllocateScratch[int64](backend, cfg.numSlices)
	if err != nil {
		return nil, err
	}
	offsets := offsetsBuf.Flat()
	checkBounds := backend.CheckBounds()

	var (
		boundsMu  sync.Mutex
		boundsErr error
	)
	minChunk := max(1, backend.MinChunk()/max(cfg.k, 1))
	err = backend.Workers().ParallelFor(cfg.numSlices, minChunk, func(start, end int) {
		for s := start; s < end; s++ {
			tuple := indices[s*cfg.k : (s+1)*cfg.k]
			offset := int64(s/cfg.numSlicesPerBatch) * cfg.batchStride
			for j, idx := range tuple {
				if checkBounds {
					dim := cfg.targetDims[cfg.batchDims+j]
					if idx < 0 || idx >= int64(dim) {
						boundsMu.Lock()
						if boundsErr == nil {
							boundsErr = errors.Wrapf(ErrIndexOutOfRange,
								"slice %d, component %d: index %d not in [0, %d)", s, j, idx, dim)
						}
						boundsMu.Unlock()
						return
					}
				}
				offset += idx * strides[j]
			}
			offsets[s] = offset
		}
	})
	if err == nil {
		err = boundsErr
	}
	if err != nil {
		offsetsBuf.Release()
		return nil, err
	}
	return offsetsBuf, nil
}
