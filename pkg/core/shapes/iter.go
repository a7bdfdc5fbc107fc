// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import "iter"

// Iter yields, in row-major order, the flat position and the per-axis indices of every element of the shape.
//
// The yielded indices slice is reused between iterations: clone it if it needs to be kept.
// A scalar yields once (with empty indices), and a zero-size or invalid shape yields nothing.
func (s Shape) Iter() iter.Seq2[int, []int] {
	return func(yield func(int, []int) bool) {
		if !s.Ok() || s.IsZeroSize() {
			return
		}
		indices := make([]int, s.Rank())
		size := s.Size()
		for flatIdx := range size {
			if !yield(flatIdx, indices) {
				return
			}
			// Odometer increment: the last axis moves fastest.
			for axis := len(indices) - 1; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < s.Dimensions[axis] {
					break
				}
				indices[axis] = 0
			}
		}
	}
}
