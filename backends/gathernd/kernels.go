// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gathernd

import (
	"sync"

	"github.com/gomlx/gathernd/pkg/core/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// slicesPerTask is the minimum number of slices handled by one parallel task, so each task moves at
// least backend.MinChunk() elements.
func slicesPerTask(params *kernelParams) int {
	return max(1, params.backend.MinChunk()/max(params.sliceSize, 1))
}

// gatherKernel copies slice s of source, starting at offsets[s], into destination[s*sliceSize:(s+1)*sliceSize].
func gatherKernel[T dtypes.GatherFloat](params *kernelParams) error {
	src := params.source.([]T)
	dst := params.destination.([]T)
	sliceSize := params.sliceSize
	if params.numSlices == 0 || sliceSize == 0 {
		return nil
	}
	err := params.backend.Workers().ParallelFor(params.numSlices, slicesPerTask(params), func(start, end int) {
		for s := start; s < end; s++ {
			offset := int(params.offsets[s])
			copy(dst[s*sliceSize:(s+1)*sliceSize], src[offset:offset+sliceSize])
		}
	})
	if err != nil {
		return errors.Wrapf(ErrKernelFault, "GatherND: %v", err)
	}
	return nil
}

// scatterAccumulateKernel adds slice s of source (the updates) into destination starting at offsets[s].
// It doesn't initialize destination. Slices pointing to the same offset are all accumulated.
func scatterAccumulateKernel[T dtypes.GatherFloat](params *kernelParams) error {
	updates := params.source.([]T)
	dst := params.destination.([]T)
	sliceSize := params.sliceSize
	if params.numSlices == 0 || sliceSize == 0 {
		return nil
	}
	accumulate := newSliceAccumulator(dst, sliceSize)
	err := params.backend.Workers().ParallelFor(params.numSlices, slicesPerTask(params), func(start, end int) {
		for s := start; s < end; s++ {
			accumulate(int(params.offsets[s]), updates[s*sliceSize:(s+1)*sliceSize])
		}
	})
	if err != nil {
		return errors.Wrapf(ErrKernelFault, "GatherNDGrad: %v", err)
	}
	return nil
}

// newSliceAccumulator returns a function that adds a slice of updates into dst[offset:offset+sliceSize],
// safe to call concurrently with overlapping destinations.
func newSliceAccumulator[T dtypes.GatherFloat](dst []T, sliceSize int) func(offset int, update []T) {
	switch dstT := any(dst).(type) {
	case []float32:
		return func(offset int, update []T) {
			target := dstT[offset : offset+sliceSize]
			for i, v := range any(update).([]float32) {
				atomicAddFloat32(&target[i], v)
			}
		}
	case []float64:
		return func(offset int, update []T) {
			target := dstT[offset : offset+sliceSize]
			for i, v := range any(update).([]float64) {
				atomicAddFloat64(&target[i], v)
			}
		}
	case []float16.Float16:
		// Offsets are always multiples of sliceSize, so two slices either coincide or are disjoint:
		// locking by slice number serializes exactly the conflicting additions.
		locks := new(stripedLocks)
		return func(offset int, update []T) {
			target := dstT[offset : offset+sliceSize]
			mu := locks.forSlice(offset / sliceSize)
			mu.Lock()
			defer mu.Unlock()
			for i, v := range any(update).([]float16.Float16) {
				target[i] = float16.Fromfloat32(target[i].Float32() + v.Float32())
			}
		}
	}
	var t T
	panic(errors.Errorf("no slice accumulator for %T", t))
}

const numLockStripes = 256

// stripedLocks maps slice numbers to a fixed set of mutexes.
type stripedLocks [numLockStripes]sync.Mutex

func (l *stripedLocks) forSlice(sliceNum int) *sync.Mutex {
	return &l[uint(sliceNum)%numLockStripes]
}
