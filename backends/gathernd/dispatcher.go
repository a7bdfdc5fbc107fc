// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gathernd

import (
	"github.com/gomlx/gathernd/backends"
	"github.com/gomlx/gathernd/pkg/core/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// kernelParams are the parameters shared by the gather and scatter-accumulate kernels.
type kernelParams struct {
	backend   *backends.Backend
	numSlices int
	sliceSize int
	offsets   []int64

	// source and destination are flat slices ([]T) of the dispatched dtype.
	// For gather source is the data and destination the output; for scatter-accumulate source holds the
	// updates and destination the gradient.
	source, destination any
}

type kernelFn func(params *kernelParams) error

// dtypeDispatcher is a closed table of kernel implementations indexed by dtype.
type dtypeDispatcher struct {
	name  string
	fnMap [dtypes.NumDTypes]kernelFn
}

func newDTypeDispatcher(name string) *dtypeDispatcher {
	return &dtypeDispatcher{name: name}
}

// register sets the kernel for the dtype. Only called during package initialization.
func (d *dtypeDispatcher) register(dtype dtypes.DType, fn kernelFn) {
	d.fnMap[dtype] = fn
}

// Supports returns whether a kernel is registered for the dtype.
func (d *dtypeDispatcher) Supports(dtype dtypes.DType) bool {
	return dtype > dtypes.InvalidDType && int(dtype) < len(d.fnMap) && d.fnMap[dtype] != nil
}

// Dispatch runs the kernel registered for dtype, or fails with ErrUnsupportedElementType.
func (d *dtypeDispatcher) Dispatch(dtype dtypes.DType, params *kernelParams) error {
	if !d.Supports(dtype) {
		return errors.Wrapf(ErrUnsupportedElementType, "%s: dtype %s", d.name, dtype)
	}
	return d.fnMap[dtype](params)
}

var (
	gatherDispatcher            = newDTypeDispatcher("GatherND")
	scatterAccumulateDispatcher = newDTypeDispatcher("GatherNDGrad")
)

func init() {
	registerKernels[float16.Float16]()
	registerKernels[float32]()
	registerKernels[float64]()
}

func registerKernels[T dtypes.GatherFloat]() {
	dtype := dtypes.FromGenericsType[T]()
	gatherDispatcher.register(dtype, gatherKernel[T])
	scatterAccumulateDispatcher.register(dtype, scatterAccumulateKernel[T])
}

// SupportedDTypes returns the element types the kernels are registered for.
func SupportedDTypes() []dtypes.DType {
	var supported []dtypes.DType
	for dtype := range dtypes.NumDTypes {
		if gatherDispatcher.Supports(dtype) {
			supported = append(supported, dtype)
		}
	}
	return supported
}
