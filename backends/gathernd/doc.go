// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gathernd implements the batched N-dimensional gather ("GatherND") and its gradient
// ("GatherNDGrad", a scatter-accumulate) over dense row-major tensors.
//
// For data of shape [B..., D_0, ..., D_{k-1}, S...] and indices of shape [B..., I..., k], where the
// first batchDims axes (B...) are shared, Gather returns a tensor of shape [B..., I..., S...]: for each
// index tuple of length k it copies the contiguous slice data[b..., idx_0, ..., idx_{k-1}, :...].
//
// GatherGrad takes the target shape, the same indices and an "updates" tensor shaped like the output of
// Gather, and accumulates (adds) every update slice into a zero-initialized tensor of the target shape.
// Duplicate index tuples accumulate: float32/float64 use atomic compare-and-swap additions, float16
// serializes additions on the same slice with striped locks. The final values are exact up to
// floating-point addition order.
//
// Index tuple components are not bounds-checked (negative values are used as signed offsets) unless
// the backend is configured with "checkbounds". An unchecked index that addresses memory outside the
// tensor makes the operation fail with ErrKernelFault, and no output is returned.
//
// Supported element types are Float16, Float32 and Float64; indices must be Int64.
package gathernd
